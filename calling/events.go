/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import "sync"

// ---- Call State & Event Enums ----

// CallState represents the state of a call in the state machine
type CallState string

const (
	CallStateIdle       CallState = "idle"
	CallStateInitiating CallState = "initiating"
	CallStateRinging    CallState = "ringing"
	CallStateConnecting CallState = "connecting"
	CallStateActive     CallState = "active"
	CallStateEnded      CallState = "ended"
)

var callTransitions = map[CallState][]CallState{
	CallStateIdle:       {CallStateInitiating, CallStateRinging},
	CallStateInitiating: {CallStateConnecting, CallStateEnded},
	CallStateRinging:    {CallStateConnecting, CallStateEnded},
	CallStateConnecting: {CallStateActive, CallStateEnded},
	CallStateActive:     {CallStateEnded},
}

// canTransition reports whether s may move to next. Transitions only move forward.
func (s CallState) canTransition(next CallState) bool {
	for _, allowed := range callTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Role is the local side's part in setting up the call.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleReceiver  Role = "receiver"
)

// CallEventKey identifies the type of call event
type CallEventKey string

const (
	CallEventStateChanged        CallEventKey = "state_changed"
	CallEventParticipantJoined   CallEventKey = "participant_joined"
	CallEventParticipantLeft     CallEventKey = "participant_left"
	CallEventParticipantsChanged CallEventKey = "participants_changed"
	CallEventRemoteTrack         CallEventKey = "remote_track"
	CallEventError               CallEventKey = "call_error"
	CallEventEnded               CallEventKey = "ended"
)

// ClientEventKey identifies the type of calling client event
type ClientEventKey string

const (
	ClientEventIncomingCall ClientEventKey = "incoming_call"
	ClientEventCallStarted  ClientEventKey = "call_started"
	ClientEventCallEnded    ClientEventKey = "call_ended"
	ClientEventAutoRejected ClientEventKey = "auto_rejected"
)

// StateChange is the payload of CallEventStateChanged.
type StateChange struct {
	From CallState
	To   CallState
}

// ---- Event Emitter ----

// EventHandler is a callback function for events
type EventHandler func(data interface{})

// EventEmitter provides a simple event pub/sub system
type EventEmitter struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
}

// NewEventEmitter creates a new EventEmitter
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{
		handlers: make(map[string][]EventHandler),
	}
}

// On registers an event handler for a specific event type
func (e *EventEmitter) On(event string, handler EventHandler) {
	if handler == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[event] = append(e.handlers[event], handler)
}

// Off removes all handlers for a specific event type
func (e *EventEmitter) Off(event string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, event)
}

// Emit fires an event, calling all registered handlers
func (e *EventEmitter) Emit(event string, data interface{}) {
	e.mu.RLock()
	handlers := make([]EventHandler, len(e.handlers[event]))
	copy(handlers, e.handlers[event])
	e.mu.RUnlock()

	for _, handler := range handlers {
		handler(data)
	}
}
