/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package devrelay

import (
	"encoding/json"
	"fmt"

	"github.com/tejzpr/meshcall-go-sdk/relay"
	"github.com/tejzpr/meshcall-go-sdk/signaling"
)

type member struct {
	userID   string
	username string
	muted    bool
	videoOff bool
	conn     *conn
}

// room is the set of users currently in a chat's call, in join order.
type room struct {
	chatID  string
	members []*member
}

func (r *room) find(userID string) (int, *member) {
	for i, m := range r.members {
		if m.userID == userID {
			return i, m
		}
	}
	return -1, nil
}

func (r *room) owner(userID string) *conn {
	if _, m := r.find(userID); m != nil {
		return m.conn
	}
	return nil
}

func (r *room) snapshot() signaling.ParticipantsPayload {
	out := signaling.ParticipantsPayload{
		ChatID:       r.chatID,
		Participants: make([]signaling.ParticipantInfo, 0, len(r.members)),
	}
	for _, m := range r.members {
		out.Participants = append(out.Participants, signaling.ParticipantInfo{
			UserID:   m.userID,
			Username: m.username,
			Muted:    m.muted,
			VideoOff: m.videoOff,
		})
	}
	return out
}

func (r *room) broadcast(from, event string, data interface{}) {
	for _, m := range r.members {
		if m.userID != from {
			m.conn.push(event, data)
		}
	}
}

// route handles one inbound frame from c.
func (s *Server) route(c *conn, f *relay.Frame) {
	var err error
	switch f.Event {
	case signaling.MsgInitiateCall:
		err = s.onInitiateCall(c, f)
	case signaling.MsgAcceptCall:
		err = s.onAcceptCall(c, f)
	case signaling.MsgRejectCall:
		err = s.onRejectCall(c, f)
	case signaling.MsgJoinCall:
		err = s.onJoinCall(c, f)
	case signaling.MsgLeaveCall:
		var p signaling.ChatPayload
		if err = decode(f, &p); err == nil {
			s.leaveRoom(c, p.ChatID)
			c.ack(f.Ack, nil)
		}
	case signaling.MsgOffer, signaling.MsgAnswer:
		err = s.onDescription(c, f)
	case signaling.MsgICECandidate:
		err = s.onCandidate(c, f)
	case signaling.MsgToggleAudio:
		err = s.onToggleAudio(c, f)
	case signaling.MsgToggleVideo:
		err = s.onToggleVideo(c, f)
	default:
		err = fmt.Errorf("unknown event %q", f.Event)
	}
	if err != nil {
		c.logger.Debug().Err(err).Str("event", f.Event).Msg("frame refused")
		c.nack(f.Ack, err.Error())
	}
}

func decode(f *relay.Frame, v interface{}) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%s has no data", f.Event)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("%s: %w", f.Event, err)
	}
	return nil
}

// ringTargets returns the online chat members other than callerID.
func (s *Server) ringTargets(chatID, callerID string) ([]*conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, registered := s.chats[chatID]
	if registered && !members[callerID] {
		return nil, fmt.Errorf("not a member of chat %s", chatID)
	}
	var out []*conn
	for id, c := range s.conns {
		if id == callerID || (registered && !members[id]) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Server) onInitiateCall(c *conn, f *relay.Frame) error {
	var p signaling.InitiateCallPayload
	if err := decode(f, &p); err != nil {
		return err
	}
	if p.ChatID == "" {
		return fmt.Errorf("chatId is required")
	}
	if p.Type == "" {
		p.Type = signaling.MediaTypeAudio
	}
	targets, err := s.ringTargets(p.ChatID, c.userID)
	if err != nil {
		return err
	}

	incoming := signaling.IncomingCallPayload{
		ChatID:     p.ChatID,
		CallerID:   c.userID,
		CallerName: c.username,
		Type:       p.Type,
	}
	for _, t := range targets {
		t.push(signaling.MsgIncomingCall, incoming)
	}
	c.logger.Info().Str("chat_id", p.ChatID).Int("ringing", len(targets)).Msg("call initiated")
	c.ack(f.Ack, signaling.InitiateCallAck{ChatID: p.ChatID, Ringing: len(targets)})
	return nil
}

func (s *Server) onAcceptCall(c *conn, f *relay.Frame) error {
	var p signaling.CallResponsePayload
	if err := decode(f, &p); err != nil {
		return err
	}
	c.logger.Info().Str("chat_id", p.ChatID).Str("caller_id", p.CallerID).Msg("call accepted")
	c.ack(f.Ack, nil)
	return nil
}

func (s *Server) onRejectCall(c *conn, f *relay.Frame) error {
	var p signaling.CallResponsePayload
	if err := decode(f, &p); err != nil {
		return err
	}
	reason := p.Reason
	if reason == "" {
		reason = signaling.ReasonRejected
	}
	c.logger.Info().Str("chat_id", p.ChatID).Str("caller_id", p.CallerID).Str("reason", reason).Msg("call rejected")
	if caller := s.lookup(p.CallerID); caller != nil {
		caller.push(signaling.MsgCallRejected, signaling.CallRejectedPayload{
			ChatID: p.ChatID,
			UserID: c.userID,
			Reason: reason,
		})
	}
	c.ack(f.Ack, nil)
	return nil
}

func (s *Server) onJoinCall(c *conn, f *relay.Frame) error {
	var p signaling.ChatPayload
	if err := decode(f, &p); err != nil {
		return err
	}
	if p.ChatID == "" {
		return fmt.Errorf("chatId is required")
	}

	s.mu.Lock()
	rm, ok := s.rooms[p.ChatID]
	if !ok {
		rm = &room{chatID: p.ChatID}
		s.rooms[p.ChatID] = rm
	}
	_, existing := rm.find(c.userID)
	if existing != nil {
		existing.conn = c
	} else {
		rm.members = append(rm.members, &member{userID: c.userID, username: c.username, conn: c})
		rm.broadcast(c.userID, signaling.MsgUserJoined, signaling.UserPayload{
			ChatID:   p.ChatID,
			UserID:   c.userID,
			Username: c.username,
		})
	}
	snapshot := rm.snapshot()
	s.mu.Unlock()

	c.logger.Info().Str("chat_id", p.ChatID).Int("participants", len(snapshot.Participants)).Msg("joined call")
	c.ack(f.Ack, snapshot)
	c.push(signaling.MsgCurrentParticipants, snapshot)
	return nil
}

func (s *Server) leaveRoom(c *conn, chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rm, ok := s.rooms[chatID]
	if !ok {
		return
	}
	i, m := rm.find(c.userID)
	if m == nil || m.conn != c {
		return
	}
	rm.members = append(rm.members[:i], rm.members[i+1:]...)
	rm.broadcast(c.userID, signaling.MsgUserLeft, signaling.UserPayload{
		ChatID:   chatID,
		UserID:   c.userID,
		Username: c.username,
	})
	if len(rm.members) == 0 {
		delete(s.rooms, chatID)
	}
	c.logger.Info().Str("chat_id", chatID).Int("remaining", len(rm.members)).Msg("left call")
}

// target returns the connection of userID when both it and the sender are in the room.
func (s *Server) target(c *conn, chatID, userID string) (*conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm, ok := s.rooms[chatID]
	if !ok {
		return nil, fmt.Errorf("no call in chat %s", chatID)
	}
	if rm.owner(c.userID) != c {
		return nil, fmt.Errorf("not in call %s", chatID)
	}
	t := rm.owner(userID)
	if t == nil {
		return nil, fmt.Errorf("user %s is not in call %s", userID, chatID)
	}
	return t, nil
}

func (s *Server) onDescription(c *conn, f *relay.Frame) error {
	var p signaling.DescriptionPayload
	if err := decode(f, &p); err != nil {
		return err
	}
	t, err := s.target(c, p.ChatID, p.TargetUserID)
	if err != nil {
		return err
	}
	p.TargetUserID = ""
	p.UserID = c.userID
	t.push(f.Event, p)
	c.ack(f.Ack, nil)
	return nil
}

func (s *Server) onCandidate(c *conn, f *relay.Frame) error {
	var p signaling.CandidatePayload
	if err := decode(f, &p); err != nil {
		return err
	}
	t, err := s.target(c, p.ChatID, p.TargetUserID)
	if err != nil {
		return err
	}
	p.TargetUserID = ""
	p.UserID = c.userID
	t.push(f.Event, p)
	c.ack(f.Ack, nil)
	return nil
}

// updateMember applies fn to c's room entry and broadcasts event to the others.
func (s *Server) updateMember(c *conn, chatID, event string, fn func(*member) interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm, ok := s.rooms[chatID]
	if !ok {
		return fmt.Errorf("no call in chat %s", chatID)
	}
	_, m := rm.find(c.userID)
	if m == nil || m.conn != c {
		return fmt.Errorf("not in call %s", chatID)
	}
	rm.broadcast(c.userID, event, fn(m))
	return nil
}

func (s *Server) onToggleAudio(c *conn, f *relay.Frame) error {
	var p signaling.ToggleAudioPayload
	if err := decode(f, &p); err != nil {
		return err
	}
	err := s.updateMember(c, p.ChatID, signaling.MsgParticipantAudio, func(m *member) interface{} {
		m.muted = p.Muted
		return signaling.ToggleAudioPayload{ChatID: p.ChatID, UserID: c.userID, Muted: p.Muted}
	})
	if err != nil {
		return err
	}
	c.ack(f.Ack, nil)
	return nil
}

func (s *Server) onToggleVideo(c *conn, f *relay.Frame) error {
	var p signaling.ToggleVideoPayload
	if err := decode(f, &p); err != nil {
		return err
	}
	err := s.updateMember(c, p.ChatID, signaling.MsgParticipantVideo, func(m *member) interface{} {
		m.videoOff = p.VideoOff
		return signaling.ToggleVideoPayload{ChatID: p.ChatID, UserID: c.userID, VideoOff: p.VideoOff}
	})
	if err != nil {
		return err
	}
	c.ack(f.Ack, nil)
	return nil
}
