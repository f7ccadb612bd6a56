/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"sync"
	"testing"
)

// ---- EventEmitter Tests ----

func TestEventEmitter(t *testing.T) {
	t.Run("On and Emit", func(t *testing.T) {
		emitter := NewEventEmitter()
		var received interface{}
		emitter.On("test", func(data interface{}) {
			received = data
		})
		emitter.Emit("test", "hello")
		if received != "hello" {
			t.Errorf("Expected 'hello', got %v", received)
		}
	})

	t.Run("handlers run in registration order", func(t *testing.T) {
		emitter := NewEventEmitter()
		var order []int
		emitter.On("test", func(interface{}) { order = append(order, 1) })
		emitter.On("test", func(interface{}) { order = append(order, 2) })
		emitter.Emit("test", nil)
		if len(order) != 2 || order[0] != 1 || order[1] != 2 {
			t.Errorf("Expected [1 2], got %v", order)
		}
	})

	t.Run("Off removes handlers", func(t *testing.T) {
		emitter := NewEventEmitter()
		called := false
		emitter.On("test", func(interface{}) { called = true })
		emitter.Off("test")
		emitter.Emit("test", nil)
		if called {
			t.Error("Handler should not have been called after Off")
		}
	})

	t.Run("nil handler ignored", func(t *testing.T) {
		emitter := NewEventEmitter()
		emitter.On("test", nil)
		emitter.Emit("test", nil)
	})

	t.Run("handler may register handlers", func(t *testing.T) {
		emitter := NewEventEmitter()
		emitter.On("test", func(interface{}) {
			emitter.On("other", func(interface{}) {})
		})
		emitter.Emit("test", nil)
	})

	t.Run("concurrent safety", func(t *testing.T) {
		emitter := NewEventEmitter()
		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				emitter.On("test", func(interface{}) {})
				emitter.Emit("test", nil)
			}()
		}
		wg.Wait()
	})
}

func TestCallStateTransitions(t *testing.T) {
	tests := []struct {
		from, to CallState
		want     bool
	}{
		{CallStateIdle, CallStateInitiating, true},
		{CallStateIdle, CallStateRinging, true},
		{CallStateInitiating, CallStateConnecting, true},
		{CallStateRinging, CallStateConnecting, true},
		{CallStateConnecting, CallStateActive, true},
		{CallStateActive, CallStateEnded, true},
		{CallStateRinging, CallStateEnded, true},
		{CallStateActive, CallStateConnecting, false},
		{CallStateEnded, CallStateIdle, false},
		{CallStateEnded, CallStateActive, false},
		{CallStateInitiating, CallStateActive, false},
		{CallStateActive, CallStateActive, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.canTransition(tt.to); got != tt.want {
				t.Errorf("canTransition = %v, want %v", got, tt.want)
			}
		})
	}
}
