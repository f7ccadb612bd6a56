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

	"github.com/rs/zerolog"
	"github.com/tejzpr/meshcall-go-sdk/signaling"
)

// CallingClient places and receives mesh calls. It holds at most one call.
type CallingClient struct {
	signaler Signaler
	config   *Config
	logger   zerolog.Logger

	mu          sync.Mutex
	current     *Call
	incoming    *IncomingCall
	ringTimer   *time.Timer
	started     bool
	unsubscribe func()
	done        chan struct{}

	// Events
	Emitter *EventEmitter
}

// IncomingCall is a ringing call waiting for Accept or Reject.
type IncomingCall struct {
	ChatID     string
	CallerID   string
	CallerName string
	MediaType  MediaType

	call   *Call
	client *CallingClient
}

// NewCallingClient creates a calling client on top of a signaler.
func NewCallingClient(signaler Signaler, config *Config) *CallingClient {
	config = config.withDefaults()
	return &CallingClient{
		signaler: signaler,
		config:   config,
		logger:   config.logger().With().Str("component", "calling").Logger(),
		Emitter:  NewEventEmitter(),
	}
}

// Start subscribes to incoming calls. Calling it again has no effect.
func (cc *CallingClient) Start() {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.started {
		return
	}
	cc.started = true

	events, unsubscribe := cc.signaler.Subscribe()
	cc.unsubscribe = unsubscribe
	cc.done = make(chan struct{})
	go cc.dispatch(events, cc.done)
}

// Shutdown leaves the current call and stops listening for incoming calls.
func (cc *CallingClient) Shutdown(ctx context.Context) error {
	if call := cc.CurrentCall(); call != nil {
		call.Leave(ctx)
	}

	cc.mu.Lock()
	unsubscribe, done := cc.unsubscribe, cc.done
	cc.started = false
	cc.unsubscribe, cc.done = nil, nil
	cc.mu.Unlock()

	if unsubscribe == nil {
		return nil
	}
	unsubscribe()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CurrentCall returns the call in progress, or nil.
func (cc *CallingClient) CurrentCall() *Call {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.current
}

// PendingIncoming returns the ringing call awaiting an answer, or nil.
func (cc *CallingClient) PendingIncoming() *IncomingCall {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.incoming
}

// State returns the state of the current call, or Idle when there is none.
func (cc *CallingClient) State() CallState {
	call := cc.CurrentCall()
	if call == nil {
		return CallStateIdle
	}
	if s := call.State(); s != CallStateEnded {
		return s
	}
	return CallStateIdle
}

func (cc *CallingClient) report(err *CallError) *CallError {
	cc.logger.Error().Err(err.Err).Str("kind", string(err.Kind)).Str("chat_id", err.ChatID).Msg("call failure")
	if cc.config.Notifier != nil {
		cc.config.Notifier.Notify(err)
	}
	return err
}

// InitiateCall places a call to every member of chatID and joins the call room.
func (cc *CallingClient) InitiateCall(ctx context.Context, chatID string, mediaType MediaType) (*Call, error) {
	if mediaType == "" {
		mediaType = MediaTypeAudio
	}

	cc.mu.Lock()
	if cc.current != nil {
		cc.mu.Unlock()
		return nil, cc.report(newCallError(ErrorCallInProgress, chatID, "", fmt.Errorf("call in chat %s is in progress", cc.current.ChatID())))
	}
	if !cc.config.Capturer.Supported(mediaType.WantsVideo()) {
		cc.mu.Unlock()
		return nil, cc.report(newCallError(ErrorUnsupportedDevice, chatID, "", fmt.Errorf("no capture capability for %s", mediaType)))
	}
	call := newCall(cc.signaler, cc.config, callParams{
		chatID:    chatID,
		mediaType: mediaType,
		role:      RoleInitiator,
		state:     CallStateInitiating,
		onEnd:     cc.callEnded,
	})
	cc.current = call
	cc.mu.Unlock()

	cc.Emitter.Emit(string(ClientEventCallStarted), call)

	if cerr := call.acquireMedia(ctx); cerr != nil {
		return abortSetup(ctx, call, cerr, false)
	}

	rctx, cancel := call.requestContext(ctx)
	ringing, err := cc.signaler.InitiateCall(rctx, chatID, mediaType)
	cancel()
	if err != nil {
		return abortSetup(ctx, call, newCallError(ErrorRelayRejected, chatID, "", fmt.Errorf("initiateCall: %w", err)), false)
	}

	if cerr := call.connect(ctx); cerr != nil {
		return abortSetup(ctx, call, cerr, true)
	}
	call.startRinging(ringing)
	return setupResult(call)
}

// abortSetup ends a call whose setup step failed. When the user already left
// the call, the failure is a consequence of that and is not reported.
func abortSetup(ctx context.Context, call *Call, cerr *CallError, sendLeave bool) (*Call, error) {
	if ended := call.endedDuringSetup(); ended != nil {
		return nil, ended
	}
	if errors.Is(cerr, ErrCallEnded) {
		return nil, cerr
	}
	call.fail(cerr)
	call.end(ctx, sendLeave)
	return nil, cerr
}

// setupResult returns call unless it ended while setup was finishing.
func setupResult(call *Call) (*Call, error) {
	if ended := call.endedDuringSetup(); ended != nil {
		return nil, ended
	}
	return call, nil
}

func (cc *CallingClient) dispatch(events <-chan *signaling.Event, done chan struct{}) {
	defer close(done)
	for ev := range events {
		if ev.Type == signaling.EventIncomingCall {
			cc.handleIncoming(ev)
		}
	}
}

func (cc *CallingClient) handleIncoming(ev *signaling.Event) {
	logger := cc.logger.With().Str("chat_id", ev.ChatID).Str("caller_id", ev.UserID).Logger()

	cc.mu.Lock()
	if cur := cc.current; cur != nil {
		cc.mu.Unlock()
		if cur.ChatID() == ev.ChatID && cur.CallerID() == ev.UserID {
			logger.Debug().Msg("duplicate incoming call ignored")
			return
		}
		logger.Info().Msg("busy, rejecting incoming call")
		ctx, cancel := context.WithTimeout(context.Background(), cc.config.RelayTimeout)
		if err := cc.signaler.RejectCall(ctx, ev.ChatID, ev.UserID, signaling.ReasonBusy); err != nil {
			logger.Warn().Err(err).Msg("failed to send busy rejection")
		}
		cancel()
		cc.Emitter.Emit(string(ClientEventAutoRejected), ev)
		return
	}

	call := newCall(cc.signaler, cc.config, callParams{
		chatID:     ev.ChatID,
		mediaType:  ev.MediaType,
		role:       RoleReceiver,
		state:      CallStateRinging,
		callerID:   ev.UserID,
		callerName: ev.Username,
		onEnd:      cc.callEnded,
	})
	inc := &IncomingCall{
		ChatID:     ev.ChatID,
		CallerID:   ev.UserID,
		CallerName: ev.Username,
		MediaType:  call.MediaType(),
		call:       call,
		client:     cc,
	}
	cc.current = call
	cc.incoming = inc
	cc.ringTimer = time.AfterFunc(cc.config.RingTimeout, inc.expire)
	cc.mu.Unlock()

	logger.Info().Str("type", string(inc.MediaType)).Msg("incoming call")
	cc.Emitter.Emit(string(ClientEventIncomingCall), inc)
}

// claim takes ownership of the pending incoming call and stops the ring timer.
func (cc *CallingClient) claim(inc *IncomingCall) bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.incoming != inc {
		return false
	}
	cc.incoming = nil
	if cc.ringTimer != nil {
		cc.ringTimer.Stop()
		cc.ringTimer = nil
	}
	return true
}

func (cc *CallingClient) callEnded(call *Call) {
	cc.mu.Lock()
	if cc.current == call {
		cc.current = nil
	}
	if cc.incoming != nil && cc.incoming.call == call {
		cc.incoming = nil
		if cc.ringTimer != nil {
			cc.ringTimer.Stop()
			cc.ringTimer = nil
		}
	}
	cc.mu.Unlock()

	cc.Emitter.Emit(string(ClientEventCallEnded), call)
}

// Call returns the ringing call.
func (ic *IncomingCall) Call() *Call {
	return ic.call
}

// Accept answers the call: acquire media, accept, join the room.
func (ic *IncomingCall) Accept(ctx context.Context) (*Call, error) {
	call := ic.call
	if !ic.client.claim(ic) || call.State() != CallStateRinging {
		return nil, newCallError(ErrorInvalidState, ic.ChatID, "", fmt.Errorf("call is no longer ringing"))
	}

	if cerr := call.acquireMedia(ctx); cerr != nil {
		if ended := call.endedDuringSetup(); ended != nil {
			return nil, ended
		}
		call.fail(cerr)
		call.reject(ctx, signaling.ReasonRejected)
		return nil, cerr
	}

	rctx, cancel := call.requestContext(ctx)
	err := call.signaler.AcceptCall(rctx, ic.ChatID, ic.CallerID)
	cancel()
	if err != nil {
		return abortSetup(ctx, call, newCallError(ErrorRelayRejected, ic.ChatID, "", fmt.Errorf("acceptCall: %w", err)), false)
	}

	if cerr := call.connect(ctx); cerr != nil {
		return abortSetup(ctx, call, cerr, true)
	}
	return setupResult(call)
}

// Reject declines the call without acquiring media.
func (ic *IncomingCall) Reject(ctx context.Context) error {
	if !ic.client.claim(ic) {
		return newCallError(ErrorInvalidState, ic.ChatID, "", fmt.Errorf("call is no longer ringing"))
	}
	ic.call.reject(ctx, signaling.ReasonRejected)
	return nil
}

func (ic *IncomingCall) expire() {
	if !ic.client.claim(ic) {
		return
	}
	ic.client.logger.Info().Str("chat_id", ic.ChatID).Msg("incoming call not answered, rejecting")
	ic.call.reject(context.Background(), signaling.ReasonTimeout)
}
