/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package signaling

import "github.com/pion/webrtc/v4"

// MediaType is the kind of call requested.
type MediaType string

const (
	MediaTypeAudio MediaType = "audio"
	MediaTypeVideo MediaType = "video"
)

// WantsVideo reports whether the call carries a camera track.
func (m MediaType) WantsVideo() bool {
	return m == MediaTypeVideo
}

// Relay event names.
const (
	MsgInitiateCall        = "initiateCall"
	MsgIncomingCall        = "incomingCall"
	MsgAcceptCall          = "acceptCall"
	MsgRejectCall          = "rejectCall"
	MsgCallRejected        = "callRejected"
	MsgJoinCall            = "joinCall"
	MsgLeaveCall           = "leaveCall"
	MsgCurrentParticipants = "currentParticipants"
	MsgUserJoined          = "userJoined"
	MsgUserLeft            = "userLeft"
	MsgOffer               = "offer"
	MsgAnswer              = "answer"
	MsgICECandidate        = "ice-candidate"
	MsgToggleAudio         = "toggleAudio"
	MsgToggleVideo         = "toggleVideo"
	MsgParticipantAudio    = "participantToggleAudio"
	MsgParticipantVideo    = "participantToggleVideo"
)

// Reject reasons.
const (
	ReasonBusy     = "busy"
	ReasonRejected = "rejected"
	ReasonTimeout  = "timeout"
)

// InitiateCallPayload asks the relay to ring the other chat members.
type InitiateCallPayload struct {
	ChatID string    `json:"chatId"`
	Type   MediaType `json:"type"`
}

// InitiateCallAck is the relay's reply to initiateCall. Ringing counts the
// members that were sent incomingCall.
type InitiateCallAck struct {
	ChatID  string `json:"chatId"`
	Ringing int    `json:"ringing"`
}

// IncomingCallPayload announces a call to a chat member.
type IncomingCallPayload struct {
	ChatID     string    `json:"chatId"`
	CallerID   string    `json:"callerId"`
	CallerName string    `json:"callerName"`
	Type       MediaType `json:"type"`
}

// CallResponsePayload carries acceptCall and rejectCall.
type CallResponsePayload struct {
	ChatID   string `json:"chatId"`
	CallerID string `json:"callerId"`
	Reason   string `json:"reason,omitempty"`
}

// CallRejectedPayload tells the caller a member declined.
type CallRejectedPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
	Reason string `json:"reason"`
}

// ChatPayload carries joinCall and leaveCall.
type ChatPayload struct {
	ChatID string `json:"chatId"`
}

// ParticipantInfo is one entry of a participant snapshot.
type ParticipantInfo struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Muted    bool   `json:"muted,omitempty"`
	VideoOff bool   `json:"videoOff,omitempty"`
}

// ParticipantsPayload is the authoritative participant snapshot.
type ParticipantsPayload struct {
	ChatID       string            `json:"chatId"`
	Participants []ParticipantInfo `json:"participants"`
}

// UserPayload carries userJoined and userLeft.
type UserPayload struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

// DescriptionPayload carries offer and answer. Outbound frames set
// TargetUserID; the relay stamps UserID with the sender on delivery.
type DescriptionPayload struct {
	ChatID       string                     `json:"chatId"`
	TargetUserID string                     `json:"targetUserId,omitempty"`
	UserID       string                     `json:"userId,omitempty"`
	Offer        *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer       *webrtc.SessionDescription `json:"answer,omitempty"`
}

// CandidatePayload carries ice-candidate.
type CandidatePayload struct {
	ChatID       string                  `json:"chatId"`
	TargetUserID string                  `json:"targetUserId,omitempty"`
	UserID       string                  `json:"userId,omitempty"`
	Candidate    webrtc.ICECandidateInit `json:"candidate"`
}

// ToggleAudioPayload carries toggleAudio and participantToggleAudio.
type ToggleAudioPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId,omitempty"`
	Muted  bool   `json:"muted"`
}

// ToggleVideoPayload carries toggleVideo and participantToggleVideo.
type ToggleVideoPayload struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId,omitempty"`
	VideoOff bool   `json:"videoOff"`
}
