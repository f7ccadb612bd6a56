/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package signaling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tejzpr/meshcall-go-sdk/relay"
)

// EventType identifies a typed inbound signaling event.
type EventType string

const (
	EventIncomingCall        EventType = MsgIncomingCall
	EventCallRejected        EventType = MsgCallRejected
	EventCurrentParticipants EventType = MsgCurrentParticipants
	EventUserJoined          EventType = MsgUserJoined
	EventUserLeft            EventType = MsgUserLeft
	EventOffer               EventType = MsgOffer
	EventAnswer              EventType = MsgAnswer
	EventCandidate           EventType = MsgICECandidate
	EventParticipantAudio    EventType = MsgParticipantAudio
	EventParticipantVideo    EventType = MsgParticipantVideo
	// EventRelayLost is synthesized when the relay connection drops.
	EventRelayLost EventType = "relayLost"
	// EventOverflow is delivered ahead of the next event once a subscriber
	// has missed events because its buffer stayed full.
	EventOverflow EventType = "overflow"
)

// Event is an inbound signaling message decoded into one flat shape.
// UserID is the remote sender (the caller for incomingCall).
type Event struct {
	Type         EventType
	ChatID       string
	UserID       string
	Username     string
	MediaType    MediaType
	Description  *webrtc.SessionDescription
	Candidate    *webrtc.ICECandidateInit
	Participants []ParticipantInfo
	Muted        bool
	VideoOff     bool
	Reason       string
}

// Relay is the transport the signaling client runs over. *relay.Client satisfies it.
type Relay interface {
	On(event string, handler relay.Handler) (off func())
	Emit(ctx context.Context, event string, data interface{}) error
	Request(ctx context.Context, event string, data interface{}, out interface{}) error
	UserID() string
	Username() string
}

// Config holds the configuration for the signaling client
type Config struct {
	// BufferSize is the channel capacity of each subscription
	BufferSize int
	// PublishTimeout bounds how long delivery waits on a full subscription
	PublishTimeout time.Duration

	Logger *zerolog.Logger
}

// DefaultConfig returns the default configuration for the signaling client
func DefaultConfig() *Config {
	return &Config{BufferSize: 256, PublishTimeout: 2 * time.Second}
}

type subscriber struct {
	ch      chan *Event
	dropped bool
}

// Client turns relay frames into typed events and typed calls into relay frames.
type Client struct {
	relay  Relay
	config *Config
	logger zerolog.Logger

	mu     sync.Mutex
	subs   map[uint64]*subscriber
	nextID uint64
	offs   []func()
	closed bool
}

// New creates a signaling client and registers its relay handlers.
func New(r Relay, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = DefaultConfig().PublishTimeout
	}
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}

	c := &Client{
		relay:  r,
		config: config,
		logger: logger.With().Str("component", "signaling").Logger(),
		subs:   make(map[uint64]*subscriber),
	}

	c.handle(MsgIncomingCall, c.onIncomingCall)
	c.handle(MsgCallRejected, c.onCallRejected)
	c.handle(MsgCurrentParticipants, c.onParticipants)
	c.handle(MsgUserJoined, c.onUser(EventUserJoined))
	c.handle(MsgUserLeft, c.onUser(EventUserLeft))
	c.handle(MsgOffer, c.onDescription)
	c.handle(MsgAnswer, c.onDescription)
	c.handle(MsgICECandidate, c.onCandidate)
	c.handle(MsgParticipantAudio, c.onToggleAudio)
	c.handle(MsgParticipantVideo, c.onToggleVideo)
	c.handle(relay.EventDisconnected, c.onRelayLost)
	c.handle(relay.EventLost, c.onRelayLost)

	return c
}

func (c *Client) handle(event string, decode func(*relay.Event) (*Event, error)) {
	h := func(ev *relay.Event) {
		out, err := decode(ev)
		if err != nil {
			c.logger.Warn().Err(err).Str("event", ev.Name).Msg("dropping malformed signaling event")
			return
		}
		c.publish(out)
	}
	c.offs = append(c.offs, c.relay.On(event, h))
}

// Close unregisters from the relay and closes every subscription.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for id, sub := range c.subs {
		close(sub.ch)
		delete(c.subs, id)
	}
	offs := c.offs
	c.offs = nil
	c.mu.Unlock()

	for _, off := range offs {
		off()
	}
}

// Subscribe returns a channel of inbound events and a cancel function.
// Events are delivered in relay order.
func (c *Client) Subscribe() (<-chan *Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan *Event, c.config.BufferSize)
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextID
	c.nextID++
	c.subs[id] = &subscriber{ch: ch}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub.ch)
			}
		})
	}
}

func (c *Client) publish(ev *Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subs {
		c.deliver(sub, ev)
	}
}

// deliver waits up to PublishTimeout for room in the subscription. An event
// that still does not fit is dropped and the subscriber gets EventOverflow
// before anything else.
func (c *Client) deliver(sub *subscriber, ev *Event) {
	if sub.dropped {
		if !c.send(sub.ch, &Event{Type: EventOverflow}) {
			c.logger.Error().Str("event", string(ev.Type)).Str("chat_id", ev.ChatID).Msg("subscriber still full, event dropped")
			return
		}
		sub.dropped = false
	}
	if !c.send(sub.ch, ev) {
		sub.dropped = true
		c.logger.Error().Str("event", string(ev.Type)).Str("chat_id", ev.ChatID).Msg("subscriber buffer full, event dropped")
	}
}

func (c *Client) send(ch chan *Event, ev *Event) bool {
	select {
	case ch <- ev:
		return true
	default:
	}
	timer := time.NewTimer(c.config.PublishTimeout)
	defer timer.Stop()
	select {
	case ch <- ev:
		return true
	case <-timer.C:
		return false
	}
}

// LocalID returns the relay-assigned identity of this client.
func (c *Client) LocalID() string {
	return c.relay.UserID()
}

// LocalName returns the relay-assigned display name of this client.
func (c *Client) LocalName() string {
	return c.relay.Username()
}

// InitiateCall asks the relay to create a call and ring the chat members.
func (c *Client) InitiateCall(ctx context.Context, chatID string, mediaType MediaType) (int, error) {
	var ack InitiateCallAck
	if err := c.relay.Request(ctx, MsgInitiateCall, InitiateCallPayload{ChatID: chatID, Type: mediaType}, &ack); err != nil {
		return 0, err
	}
	return ack.Ringing, nil
}

// AcceptCall tells the relay the incoming call was accepted.
func (c *Client) AcceptCall(ctx context.Context, chatID, callerID string) error {
	return c.relay.Emit(ctx, MsgAcceptCall, CallResponsePayload{ChatID: chatID, CallerID: callerID})
}

// RejectCall declines an incoming call.
func (c *Client) RejectCall(ctx context.Context, chatID, callerID, reason string) error {
	return c.relay.Emit(ctx, MsgRejectCall, CallResponsePayload{ChatID: chatID, CallerID: callerID, Reason: reason})
}

// JoinCall enters the call room and returns the participant snapshot.
func (c *Client) JoinCall(ctx context.Context, chatID string) ([]ParticipantInfo, error) {
	var out ParticipantsPayload
	if err := c.relay.Request(ctx, MsgJoinCall, ChatPayload{ChatID: chatID}, &out); err != nil {
		return nil, err
	}
	return out.Participants, nil
}

// LeaveCall leaves the call room.
func (c *Client) LeaveCall(ctx context.Context, chatID string) error {
	return c.relay.Emit(ctx, MsgLeaveCall, ChatPayload{ChatID: chatID})
}

// SendOffer sends a local offer to one participant.
func (c *Client) SendOffer(ctx context.Context, chatID, targetUserID string, offer webrtc.SessionDescription) error {
	return c.relay.Emit(ctx, MsgOffer, DescriptionPayload{ChatID: chatID, TargetUserID: targetUserID, Offer: &offer})
}

// SendAnswer sends a local answer to one participant.
func (c *Client) SendAnswer(ctx context.Context, chatID, targetUserID string, answer webrtc.SessionDescription) error {
	return c.relay.Emit(ctx, MsgAnswer, DescriptionPayload{ChatID: chatID, TargetUserID: targetUserID, Answer: &answer})
}

// SendCandidate sends a local ICE candidate to one participant.
func (c *Client) SendCandidate(ctx context.Context, chatID, targetUserID string, candidate webrtc.ICECandidateInit) error {
	return c.relay.Emit(ctx, MsgICECandidate, CandidatePayload{ChatID: chatID, TargetUserID: targetUserID, Candidate: candidate})
}

// ToggleAudio broadcasts the local mute flag.
func (c *Client) ToggleAudio(ctx context.Context, chatID string, muted bool) error {
	return c.relay.Emit(ctx, MsgToggleAudio, ToggleAudioPayload{ChatID: chatID, Muted: muted})
}

// ToggleVideo broadcasts the local camera flag.
func (c *Client) ToggleVideo(ctx context.Context, chatID string, videoOff bool) error {
	return c.relay.Emit(ctx, MsgToggleVideo, ToggleVideoPayload{ChatID: chatID, VideoOff: videoOff})
}

func (c *Client) onIncomingCall(ev *relay.Event) (*Event, error) {
	var p IncomingCallPayload
	if err := ev.Decode(&p); err != nil {
		return nil, err
	}
	if p.ChatID == "" || p.CallerID == "" {
		return nil, fmt.Errorf("incomingCall missing chatId or callerId")
	}
	if p.Type == "" {
		p.Type = MediaTypeAudio
	}
	return &Event{Type: EventIncomingCall, ChatID: p.ChatID, UserID: p.CallerID, Username: p.CallerName, MediaType: p.Type}, nil
}

func (c *Client) onCallRejected(ev *relay.Event) (*Event, error) {
	var p CallRejectedPayload
	if err := ev.Decode(&p); err != nil {
		return nil, err
	}
	return &Event{Type: EventCallRejected, ChatID: p.ChatID, UserID: p.UserID, Reason: p.Reason}, nil
}

func (c *Client) onParticipants(ev *relay.Event) (*Event, error) {
	var p ParticipantsPayload
	if err := ev.Decode(&p); err != nil {
		return nil, err
	}
	return &Event{Type: EventCurrentParticipants, ChatID: p.ChatID, Participants: p.Participants}, nil
}

func (c *Client) onUser(t EventType) func(*relay.Event) (*Event, error) {
	return func(ev *relay.Event) (*Event, error) {
		var p UserPayload
		if err := ev.Decode(&p); err != nil {
			return nil, err
		}
		if p.UserID == "" {
			return nil, fmt.Errorf("%s missing userId", t)
		}
		return &Event{Type: t, ChatID: p.ChatID, UserID: p.UserID, Username: p.Username}, nil
	}
}

func (c *Client) onDescription(ev *relay.Event) (*Event, error) {
	var p DescriptionPayload
	if err := ev.Decode(&p); err != nil {
		return nil, err
	}
	out := &Event{ChatID: p.ChatID, UserID: p.UserID}
	switch ev.Name {
	case MsgOffer:
		out.Type, out.Description = EventOffer, p.Offer
	default:
		out.Type, out.Description = EventAnswer, p.Answer
	}
	if out.UserID == "" || out.Description == nil {
		return nil, fmt.Errorf("%s missing sender or description", ev.Name)
	}
	return out, nil
}

func (c *Client) onCandidate(ev *relay.Event) (*Event, error) {
	var p CandidatePayload
	if err := ev.Decode(&p); err != nil {
		return nil, err
	}
	if p.UserID == "" {
		return nil, fmt.Errorf("ice-candidate missing sender")
	}
	cand := p.Candidate
	return &Event{Type: EventCandidate, ChatID: p.ChatID, UserID: p.UserID, Candidate: &cand}, nil
}

func (c *Client) onToggleAudio(ev *relay.Event) (*Event, error) {
	var p ToggleAudioPayload
	if err := ev.Decode(&p); err != nil {
		return nil, err
	}
	return &Event{Type: EventParticipantAudio, ChatID: p.ChatID, UserID: p.UserID, Muted: p.Muted}, nil
}

func (c *Client) onToggleVideo(ev *relay.Event) (*Event, error) {
	var p ToggleVideoPayload
	if err := ev.Decode(&p); err != nil {
		return nil, err
	}
	return &Event{Type: EventParticipantVideo, ChatID: p.ChatID, UserID: p.UserID, VideoOff: p.VideoOff}, nil
}

func (c *Client) onRelayLost(ev *relay.Event) (*Event, error) {
	return &Event{Type: EventRelayLost, Reason: ev.Name}, nil
}
