/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"

	"github.com/pion/webrtc/v4"
	"github.com/tejzpr/meshcall-go-sdk/signaling"
)

// MediaType is the kind of call: audio or video.
type MediaType = signaling.MediaType

const (
	MediaTypeAudio = signaling.MediaTypeAudio
	MediaTypeVideo = signaling.MediaTypeVideo
)

// Signaler is the signaling surface the calling engine depends on.
// *signaling.Client satisfies it.
type Signaler interface {
	LocalID() string
	LocalName() string
	Subscribe() (<-chan *signaling.Event, func())

	InitiateCall(ctx context.Context, chatID string, mediaType MediaType) (ringing int, err error)
	AcceptCall(ctx context.Context, chatID, callerID string) error
	RejectCall(ctx context.Context, chatID, callerID, reason string) error
	JoinCall(ctx context.Context, chatID string) ([]signaling.ParticipantInfo, error)
	LeaveCall(ctx context.Context, chatID string) error

	SendOffer(ctx context.Context, chatID, targetUserID string, offer webrtc.SessionDescription) error
	SendAnswer(ctx context.Context, chatID, targetUserID string, answer webrtc.SessionDescription) error
	SendCandidate(ctx context.Context, chatID, targetUserID string, candidate webrtc.ICECandidateInit) error

	ToggleAudio(ctx context.Context, chatID string, muted bool) error
	ToggleVideo(ctx context.Context, chatID string, videoOff bool) error
}

var _ Signaler = (*signaling.Client)(nil)
