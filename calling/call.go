/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/tejzpr/meshcall-go-sdk/signaling"
)

// ErrCallEnded is wrapped by setup operations that lose the race with Leave.
var ErrCallEnded = errors.New("call ended during setup")

// RemoteTrack is the payload of CallEventRemoteTrack.
type RemoteTrack struct {
	UserID   string
	Track    *webrtc.TrackRemote
	Receiver *webrtc.RTPReceiver
}

// Call is one mesh call session. It owns the local media, the transports to
// every remote participant and the participant list.
type Call struct {
	mu sync.RWMutex

	chatID     string
	localID    string
	callerID   string
	callerName string
	mediaType  MediaType
	role       Role
	state      CallState
	joinSent   bool
	muted      bool
	videoOff   bool

	// Outbound ringing: members rung, members who declined, and the timer
	// that ends a call nobody joined.
	ringing   int
	decliners map[string]bool
	noAnswer  *time.Timer

	signaler Signaler
	config   *Config
	logger   zerolog.Logger

	media    *MediaSource
	presence *Presence
	registry *Registry
	neg      *negotiator

	ctx         context.Context
	cancel      context.CancelFunc
	events      <-chan *signaling.Event
	unsubscribe func()
	endOnce     sync.Once
	ended       chan struct{}
	onEnd       func(*Call)

	// Events
	Emitter *EventEmitter
}

type callParams struct {
	chatID     string
	mediaType  MediaType
	role       Role
	state      CallState
	callerID   string
	callerName string
	onEnd      func(*Call)
}

func newCall(signaler Signaler, config *Config, p callParams) *Call {
	chatID, mediaType := p.chatID, p.mediaType
	ctx, cancel := context.WithCancel(context.Background())
	localID := signaler.LocalID()
	logger := config.logger().With().
		Str("component", "call").
		Str("chat_id", chatID).
		Str("local_id", localID).
		Logger()

	c := &Call{
		chatID:     chatID,
		localID:    localID,
		callerID:   p.callerID,
		callerName: p.callerName,
		mediaType:  mediaType,
		role:       p.role,
		state:      p.state,
		signaler:   signaler,
		config:     config,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		ended:      make(chan struct{}),
		onEnd:      p.onEnd,
		Emitter:    NewEventEmitter(),
	}
	c.media = NewMediaSource(config.Capturer, chatID, logger)
	c.presence = NewPresence(localID, signaler.LocalName(), mediaType.WantsVideo(), c.Emitter)
	c.neg = &negotiator{ctx: ctx, chatID: chatID, signaler: signaler, logger: logger}

	c.events, c.unsubscribe = signaler.Subscribe()
	go c.dispatch()
	return c
}

// ChatID returns the chat this call belongs to
func (c *Call) ChatID() string { return c.chatID }

// LocalID returns the local participant id
func (c *Call) LocalID() string { return c.localID }

// MediaType returns audio or video
func (c *Call) MediaType() MediaType { return c.mediaType }

// Role returns whether the call was placed or received locally
func (c *Call) Role() Role { return c.role }

// CallerID returns the remote caller of a received call
func (c *Call) CallerID() string { return c.callerID }

// CallerName returns the display name of the remote caller
func (c *Call) CallerName() string { return c.callerName }

// State returns the current call state
func (c *Call) State() CallState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsMuted returns true if the local audio is muted
func (c *Call) IsMuted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.muted
}

// IsVideoOff returns true if the local camera is off
func (c *Call) IsVideoOff() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.videoOff
}

// Participants returns the participant list, local first.
func (c *Call) Participants() []Participant {
	return c.presence.List()
}

// Participant returns one participant by id.
func (c *Call) Participant(userID string) (Participant, bool) {
	return c.presence.Get(userID)
}

// Transports returns the ids of the remote participants with a live transport.
func (c *Call) Transports() []string {
	if reg := c.getRegistry(); reg != nil {
		return reg.IDs()
	}
	return nil
}

// LocalMedia returns the acquired media, or nil.
func (c *Call) LocalMedia() *LocalMedia {
	return c.media.Handle()
}

// Done is closed once the call has ended.
func (c *Call) Done() <-chan struct{} {
	return c.ended
}

func (c *Call) getRegistry() *Registry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registry
}

// setState moves the call forward and emits CallEventStateChanged.
func (c *Call) setState(next CallState) bool {
	c.mu.Lock()
	prev := c.state
	if !prev.canTransition(next) {
		c.mu.Unlock()
		return false
	}
	c.state = next
	c.mu.Unlock()

	c.logger.Info().Str("from", string(prev)).Str("to", string(next)).Msg("call state changed")
	c.Emitter.Emit(string(CallEventStateChanged), StateChange{From: prev, To: next})
	return true
}

// fail logs and reports a user-visible failure once.
func (c *Call) fail(err *CallError) {
	c.logger.Error().Err(err.Err).Str("kind", string(err.Kind)).Str("user_id", err.UserID).Msg("call failure")
	if c.config.Notifier != nil {
		c.config.Notifier.Notify(err)
	}
	c.Emitter.Emit(string(CallEventError), err)
}

// requestContext bounds a relay request by RelayTimeout and by the call lifetime.
func (c *Call) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	rctx, cancel := context.WithTimeout(ctx, c.config.RelayTimeout)
	stop := context.AfterFunc(c.ctx, cancel)
	return rctx, func() {
		stop()
		cancel()
	}
}

// endedDuringSetup returns an ErrCallEnded error once the call has ended.
// Setup paths return it as is; it is never reported to the Notifier.
func (c *Call) endedDuringSetup() *CallError {
	if c.State() != CallStateEnded {
		return nil
	}
	return newCallError(ErrorInvalidState, c.chatID, "", ErrCallEnded)
}

func mediaError(chatID string, err error) *CallError {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return newCallError(ErrorPermissionDenied, chatID, "", err)
	case errors.Is(err, ErrDeviceNotFound):
		return newCallError(ErrorDeviceUnavailable, chatID, "", err)
	}
	return newCallError(ErrorUnknown, chatID, "", err)
}

// acquireMedia opens the local tracks for this call.
func (c *Call) acquireMedia(ctx context.Context) *CallError {
	handle, err := c.media.Acquire(ctx, c.mediaType.WantsVideo())
	if err != nil {
		return mediaError(c.chatID, err)
	}
	if c.mediaType.WantsVideo() && handle.Video == nil {
		c.mu.Lock()
		c.videoOff = true
		c.mu.Unlock()
		c.presence.SetLocalVideoOff(true)
	}
	return nil
}

func (c *Call) resolveICEServers(ctx context.Context) []webrtc.ICEServer {
	if c.config.ICEServerProvider == nil {
		return c.config.ICEServers
	}
	servers, err := c.config.ICEServerProvider.ICEServers(ctx, c.chatID)
	if err != nil || len(servers) == 0 {
		c.logger.Warn().Err(err).Msg("using configured ICE servers")
		return c.config.ICEServers
	}
	return servers
}

// connect joins the call room and builds transports for the participants
// already there. They offer to us; we wait.
func (c *Call) connect(ctx context.Context) *CallError {
	servers := c.resolveICEServers(ctx)
	reg := NewRegistry(c.config.PeerConnectionFactory, webrtc.Configuration{ICEServers: servers}, c.media.Handle(), TransportHooks{
		OnCandidate:       c.onLocalCandidate,
		OnTrack:           c.onRemoteTrack,
		OnConnectionState: c.onConnectionState,
	}, c.logger)

	if !c.setState(CallStateConnecting) {
		if cerr := c.endedDuringSetup(); cerr != nil {
			return cerr
		}
		return newCallError(ErrorInvalidState, c.chatID, "", fmt.Errorf("cannot connect from %s", c.State()))
	}

	// end reads joinSent under the same lock, so either it sends leaveCall
	// or we never send joinCall.
	c.mu.Lock()
	if c.state == CallStateEnded {
		c.mu.Unlock()
		return c.endedDuringSetup()
	}
	c.registry = reg
	c.joinSent = true
	c.mu.Unlock()

	rctx, cancel := c.requestContext(ctx)
	snapshot, err := c.signaler.JoinCall(rctx, c.chatID)
	cancel()
	if cerr := c.endedDuringSetup(); cerr != nil {
		return cerr
	}
	if err != nil {
		return newCallError(ErrorRelayRejected, c.chatID, "", fmt.Errorf("joinCall: %w", err))
	}

	c.applySnapshot(reg, snapshot)
	c.logger.Info().Int("participants", c.presence.Len()).Msg("joined call")
	return nil
}

// ---- Dispatch ----

func (c *Call) dispatch() {
	for ev := range c.events {
		c.handleEvent(ev)
	}
}

func (c *Call) handleEvent(ev *signaling.Event) {
	if ev.Type == signaling.EventRelayLost {
		if c.State() == CallStateEnded {
			return
		}
		c.fail(newCallError(ErrorRelayUnreachable, c.chatID, "", fmt.Errorf("relay connection lost (%s)", ev.Reason)))
		c.end(context.Background(), false)
		return
	}
	if ev.Type == signaling.EventOverflow {
		if c.State() != CallStateEnded {
			c.resync()
		}
		return
	}
	if ev.ChatID != c.chatID || ev.Type == signaling.EventIncomingCall {
		return
	}
	if c.State() == CallStateEnded {
		c.logger.Debug().Str("event", string(ev.Type)).Msg("dropping event after call ended")
		return
	}

	switch ev.Type {
	case signaling.EventCallRejected:
		c.onCallRejected(ev)
		return
	case signaling.EventParticipantAudio:
		c.presence.SetMuted(ev.UserID, ev.Muted)
		return
	case signaling.EventParticipantVideo:
		c.presence.SetVideoOff(ev.UserID, ev.VideoOff)
		return
	}

	reg := c.getRegistry()
	if reg == nil {
		c.logger.Debug().Str("event", string(ev.Type)).Msg("dropping event before join")
		return
	}

	switch ev.Type {
	case signaling.EventCurrentParticipants:
		c.applySnapshot(reg, ev.Participants)
	case signaling.EventUserJoined:
		c.onUserJoined(reg, ev)
	case signaling.EventUserLeft:
		c.onUserLeft(reg, ev)
	case signaling.EventOffer:
		c.onOffer(reg, ev)
	case signaling.EventAnswer:
		c.onAnswer(reg, ev)
	case signaling.EventCandidate:
		c.onCandidate(reg, ev)
	}
}

func (c *Call) applySnapshot(reg *Registry, list []signaling.ParticipantInfo) {
	added, removed := c.presence.ApplySnapshot(list)
	for _, id := range removed {
		reg.Remove(id)
		c.Emitter.Emit(string(CallEventParticipantLeft), id)
	}
	for _, id := range added {
		if _, _, err := reg.GetOrCreate(id); err != nil {
			c.transportLost(reg, id, ErrorNegotiationFailed, err)
			continue
		}
		c.Emitter.Emit(string(CallEventParticipantJoined), id)
	}
}

// resync recovers from dropped signaling events: the room snapshot is fetched
// again and every transport whose handshake may have stalled gets a new offer.
func (c *Call) resync() {
	c.fail(newCallError(ErrorNegotiationFailed, c.chatID, "", errors.New("signaling events were dropped, resyncing")))

	reg := c.getRegistry()
	if reg == nil {
		return
	}
	rctx, cancel := c.requestContext(context.Background())
	snapshot, err := c.signaler.JoinCall(rctx, c.chatID)
	cancel()
	if err != nil {
		c.logger.Warn().Err(err).Msg("resync failed to refresh participants")
		return
	}
	if c.ctx.Err() != nil {
		return
	}
	c.applySnapshot(reg, snapshot)

	for _, id := range reg.IDs() {
		t := reg.Get(id)
		if t == nil || t.ConnectionState() == webrtc.PeerConnectionStateConnected {
			continue
		}
		switch {
		case !t.negotiated():
			t.enqueue(func() {
				if err := c.neg.offer(t, false); err != nil {
					c.negotiationFailed(reg, t, err)
				}
			})
		case t.Initiator() && t.State() == NegotiationHaveLocalOffer:
			t.enqueue(func() {
				if err := c.neg.offer(t, true); err != nil {
					c.negotiationFailed(reg, t, err)
				}
			})
		}
	}
	c.logger.Info().Int("participants", c.presence.Len()).Msg("call resynced")
}

func (c *Call) onUserJoined(reg *Registry, ev *signaling.Event) {
	if ev.UserID == c.localID {
		return
	}
	if c.presence.Join(ev.UserID, ev.Username) {
		c.Emitter.Emit(string(CallEventParticipantJoined), ev.UserID)
	}
	if p, ok := c.presence.Get(ev.UserID); ok && p.ConnectionState == ConnectionDisconnected {
		c.presence.SetConnectionState(ev.UserID, ConnectionNew)
	}

	t, created, err := reg.GetOrCreate(ev.UserID)
	if err != nil {
		c.transportLost(reg, ev.UserID, ErrorNegotiationFailed, err)
		return
	}
	if !created && t.negotiated() {
		return
	}
	t.enqueue(func() {
		if err := c.neg.offer(t, false); err != nil {
			c.negotiationFailed(reg, t, err)
		}
	})
}

func (c *Call) onUserLeft(reg *Registry, ev *signaling.Event) {
	if ev.UserID == c.localID {
		return
	}
	reg.Remove(ev.UserID)
	if c.presence.Leave(ev.UserID) {
		c.Emitter.Emit(string(CallEventParticipantLeft), ev.UserID)
	}
}

func (c *Call) onOffer(reg *Registry, ev *signaling.Event) {
	if ev.UserID == c.localID {
		return
	}
	t, created, err := reg.GetOrCreate(ev.UserID)
	if err != nil {
		c.transportLost(reg, ev.UserID, ErrorNegotiationFailed, err)
		return
	}
	if created {
		c.logger.Debug().Str("user_id", ev.UserID).Msg("offer from participant without transport")
	}

	userID, username, offer := ev.UserID, ev.Username, *ev.Description
	t.enqueue(func() {
		if err := c.neg.handleOffer(t, offer); err != nil {
			c.negotiationFailed(reg, t, err)
			return
		}
		if !reg.Owns(t) || c.ctx.Err() != nil {
			return
		}
		if c.presence.Join(userID, username) {
			c.Emitter.Emit(string(CallEventParticipantJoined), userID)
		}
		if p, ok := c.presence.Get(userID); ok && p.ConnectionState == ConnectionDisconnected {
			c.presence.SetConnectionState(userID, ConnectionConnecting)
		}
	})
}

func (c *Call) onAnswer(reg *Registry, ev *signaling.Event) {
	t := reg.Get(ev.UserID)
	if t == nil {
		c.logger.Debug().Str("user_id", ev.UserID).Msg("discarding answer for unknown participant")
		return
	}
	answer := *ev.Description
	t.enqueue(func() {
		if err := c.neg.handleAnswer(t, answer); err != nil {
			c.negotiationFailed(reg, t, err)
		}
	})
}

func (c *Call) onCandidate(reg *Registry, ev *signaling.Event) {
	t := reg.Get(ev.UserID)
	if t == nil {
		c.logger.Debug().Str("user_id", ev.UserID).Msg("discarding candidate for unknown participant")
		return
	}
	cand := *ev.Candidate
	t.enqueue(func() {
		c.neg.handleCandidate(t, cand)
	})
}

func (c *Call) onCallRejected(ev *signaling.Event) {
	kind := ErrorRejected
	if ev.Reason == signaling.ReasonBusy {
		kind = ErrorBusy
	}
	c.fail(newCallError(kind, c.chatID, ev.UserID, fmt.Errorf("call declined: %s", ev.Reason)))

	c.mu.Lock()
	if c.decliners == nil {
		c.decliners = make(map[string]bool)
	}
	c.decliners[ev.UserID] = true
	allDeclined := len(c.decliners) >= max(c.ringing, 1)
	c.mu.Unlock()

	// The call ends only when nobody is in it and nobody is left ringing.
	if allDeclined && c.State() == CallStateConnecting && c.presence.RemoteCount() == 0 {
		c.end(context.Background(), true)
	}
}

// startRinging records how many members the relay rang and arms the timer
// that ends the call when none of them joins within RingTimeout.
func (c *Call) startRinging(ringing int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == CallStateEnded {
		return
	}
	c.ringing = ringing
	c.noAnswer = time.AfterFunc(c.config.RingTimeout, c.unanswered)
}

func (c *Call) unanswered() {
	if c.State() != CallStateConnecting || c.presence.RemoteCount() > 0 {
		return
	}
	c.fail(newCallError(ErrorRejected, c.chatID, "", fmt.Errorf("no one answered within %s", c.config.RingTimeout)))
	c.end(context.Background(), true)
}

// ---- Transport callbacks ----

func (c *Call) onLocalCandidate(t *PeerTransport, cand *webrtc.ICECandidate) {
	reg := c.getRegistry()
	if cand == nil || reg == nil || !reg.Owns(t) {
		return
	}
	init := cand.ToJSON()
	t.enqueue(func() {
		c.neg.sendCandidate(t, init)
	})
}

func (c *Call) onRemoteTrack(t *PeerTransport, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	reg := c.getRegistry()
	if reg == nil || !reg.Owns(t) || c.ctx.Err() != nil {
		return
	}
	c.logger.Info().Str("user_id", t.userID).Str("kind", track.Kind().String()).Msg("remote track received")
	c.presence.AttachTrack(t.userID, track)
	c.Emitter.Emit(string(CallEventRemoteTrack), RemoteTrack{UserID: t.userID, Track: track, Receiver: receiver})
}

func (c *Call) onConnectionState(t *PeerTransport, s webrtc.PeerConnectionState) {
	reg := c.getRegistry()
	if reg == nil || !reg.Owns(t) || c.ctx.Err() != nil {
		c.logger.Debug().Str("user_id", t.userID).Str("state", s.String()).Msg("dropping late connection state")
		return
	}
	t.setConnState(s)
	c.logger.Debug().Str("user_id", t.userID).Str("state", s.String()).Msg("connection state changed")

	switch s {
	case webrtc.PeerConnectionStateConnected:
		t.recovered()
		c.presence.SetConnectionState(t.userID, ConnectionConnected)
		c.setState(CallStateActive)
	case webrtc.PeerConnectionStateFailed:
		c.presence.SetConnectionState(t.userID, ConnectionReconnecting)
		c.recoverTransport(reg, t)
	case webrtc.PeerConnectionStateClosed:
	default:
		c.presence.SetConnectionState(t.userID, connectionStateFromPion(s))
	}
}

// recoverTransport starts an ICE restart episode. Only the side that made the
// original offer sends the restart offer; both sides arm the timer.
func (c *Call) recoverTransport(reg *Registry, t *PeerTransport) {
	started := t.beginRestart(c.config.MaxICERestarts, c.config.RestartTimeout, func() {
		c.restartExpired(reg, t)
	})
	if !started {
		if t.restartPending() {
			return
		}
		c.transportLost(reg, t.userID, ErrorTransportFailed, fmt.Errorf("connection failed"))
		return
	}

	c.logger.Warn().Str("user_id", t.userID).Bool("initiator", t.Initiator()).Msg("transport failed, attempting ICE restart")
	if !t.Initiator() {
		return
	}
	t.enqueue(func() {
		if err := c.neg.offer(t, true); err != nil {
			c.negotiationFailed(reg, t, err)
		}
	})
}

func (c *Call) restartExpired(reg *Registry, t *PeerTransport) {
	if !reg.Owns(t) || c.ctx.Err() != nil {
		return
	}
	if t.ConnectionState() == webrtc.PeerConnectionStateConnected {
		t.recovered()
		return
	}
	c.transportLost(reg, t.userID, ErrorTransportFailed, fmt.Errorf("ICE restart did not recover within %s", c.config.RestartTimeout))
}

func (c *Call) negotiationFailed(reg *Registry, t *PeerTransport, err error) {
	if !reg.Owns(t) || c.ctx.Err() != nil {
		return
	}
	c.transportLost(reg, t.userID, ErrorNegotiationFailed, err)
}

// transportLost tears down one transport and keeps the participant, marked disconnected.
func (c *Call) transportLost(reg *Registry, userID string, kind ErrorKind, err error) {
	if c.ctx.Err() != nil {
		return
	}
	reg.Remove(userID)
	c.presence.SetConnectionState(userID, ConnectionDisconnected)
	c.fail(newCallError(kind, c.chatID, userID, err))
}

// ---- User actions ----

// ToggleMute flips the local mute flag and returns the new value.
func (c *Call) ToggleMute(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.state != CallStateConnecting && c.state != CallStateActive {
		state := c.state
		c.mu.Unlock()
		return false, newCallError(ErrorInvalidState, c.chatID, "", fmt.Errorf("cannot mute in state %s", state))
	}
	c.muted = !c.muted
	muted := c.muted
	c.mu.Unlock()

	c.media.SetTrackEnabled(webrtc.RTPCodecTypeAudio, !muted)
	c.presence.SetLocalMuted(muted)
	if err := c.signaler.ToggleAudio(ctx, c.chatID, muted); err != nil {
		c.logger.Warn().Err(err).Msg("failed to broadcast mute state")
		return muted, err
	}
	return muted, nil
}

// ToggleVideo flips the local camera flag and returns the new value.
func (c *Call) ToggleVideo(ctx context.Context) (bool, error) {
	handle := c.media.Handle()
	c.mu.Lock()
	if c.state != CallStateConnecting && c.state != CallStateActive {
		state := c.state
		c.mu.Unlock()
		return false, newCallError(ErrorInvalidState, c.chatID, "", fmt.Errorf("cannot toggle video in state %s", state))
	}
	if handle == nil || handle.Video == nil {
		c.mu.Unlock()
		return false, newCallError(ErrorInvalidState, c.chatID, "", fmt.Errorf("call has no local video"))
	}
	c.videoOff = !c.videoOff
	videoOff := c.videoOff
	c.mu.Unlock()

	c.media.SetTrackEnabled(webrtc.RTPCodecTypeVideo, !videoOff)
	c.presence.SetLocalVideoOff(videoOff)
	if err := c.signaler.ToggleVideo(ctx, c.chatID, videoOff); err != nil {
		c.logger.Warn().Err(err).Msg("failed to broadcast video state")
		return videoOff, err
	}
	return videoOff, nil
}

// Leave ends the call. A ringing call is declined instead. It is safe to
// call more than once.
func (c *Call) Leave(ctx context.Context) error {
	switch c.State() {
	case CallStateEnded:
		return nil
	case CallStateRinging:
		c.reject(ctx, signaling.ReasonRejected)
		return nil
	}
	c.end(ctx, true)
	return nil
}

// reject declines a ringing call and ends it.
func (c *Call) reject(ctx context.Context, reason string) {
	if c.State() != CallStateRinging {
		return
	}
	rctx, cancel := c.requestContext(ctx)
	if err := c.signaler.RejectCall(rctx, c.chatID, c.callerID, reason); err != nil {
		c.logger.Warn().Err(err).Str("reason", reason).Msg("failed to send rejectCall")
	}
	cancel()
	c.end(ctx, false)
}

// end tears the call down once: cancel handshakes, leave the room, close
// every transport, release media.
func (c *Call) end(ctx context.Context, sendLeave bool) {
	c.endOnce.Do(func() {
		c.mu.Lock()
		prev := c.state
		c.state = CallStateEnded
		joinSent := c.joinSent
		reg := c.registry
		if c.noAnswer != nil {
			c.noAnswer.Stop()
		}
		c.mu.Unlock()

		c.cancel()

		if sendLeave && joinSent {
			lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.RelayTimeout)
			if err := c.signaler.LeaveCall(lctx, c.chatID); err != nil {
				c.logger.Warn().Err(err).Msg("failed to send leaveCall")
			}
			cancel()
		}

		if reg != nil {
			if err := reg.RemoveAll(); err != nil {
				c.logger.Warn().Err(err).Msg("error closing transports")
			}
		}
		c.media.Release()
		c.unsubscribe()

		c.logger.Info().Str("from", string(prev)).Msg("call ended")
		c.Emitter.Emit(string(CallEventStateChanged), StateChange{From: prev, To: CallStateEnded})
		c.Emitter.Emit(string(CallEventEnded), c.chatID)
		close(c.ended)

		if c.onEnd != nil {
			c.onEnd(c)
		}
	})
}
