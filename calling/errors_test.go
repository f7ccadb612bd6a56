/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCallError(t *testing.T) {
	cause := errors.New("boom")
	err := newCallError(ErrorTransportFailed, "chat-1", "u1", cause)

	msg := err.Error()
	for _, want := range []string{"transport_failed", "chat-1", "u1", "boom"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected %q in %q", want, msg)
		}
	}
	if !errors.Is(err, cause) {
		t.Error("Expected Unwrap to expose the cause")
	}

	wrapped := fmt.Errorf("outer: %w", err)
	if !IsTransportFailed(wrapped) {
		t.Error("Expected IsTransportFailed through wrapping")
	}
	if IsNegotiationFailed(wrapped) {
		t.Error("Did not expect IsNegotiationFailed")
	}
	if KindOf(wrapped) != ErrorTransportFailed {
		t.Errorf("Expected kind transport_failed, got %s", KindOf(wrapped))
	}
	if KindOf(cause) != ErrorUnknown {
		t.Errorf("Expected unknown kind for plain error, got %s", KindOf(cause))
	}
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		is   func(error) bool
	}{
		{ErrorPermissionDenied, IsPermissionDenied},
		{ErrorDeviceUnavailable, IsDeviceUnavailable},
		{ErrorUnsupportedDevice, IsUnsupportedDevice},
		{ErrorRelayRejected, IsRelayRejected},
		{ErrorBusy, IsBusy},
		{ErrorRejected, IsRejected},
		{ErrorNegotiationFailed, IsNegotiationFailed},
		{ErrorTransportFailed, IsTransportFailed},
		{ErrorRelayUnreachable, IsRelayUnreachable},
		{ErrorCallInProgress, IsCallInProgress},
		{ErrorInvalidState, IsInvalidState},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if !tt.is(newCallError(tt.kind, "c", "", nil)) {
				t.Errorf("Expected helper to match %s", tt.kind)
			}
			if tt.is(errors.New("plain")) {
				t.Error("Helper should not match a plain error")
			}
		})
	}
}

func TestMediaErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{fmt.Errorf("open: %w", ErrPermissionDenied), ErrorPermissionDenied},
		{ErrDeviceNotFound, ErrorDeviceUnavailable},
		{errors.New("driver crashed"), ErrorUnknown},
	}
	for _, tt := range tests {
		if got := mediaError("c", tt.err).Kind; got != tt.want {
			t.Errorf("mediaError(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
