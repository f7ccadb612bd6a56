/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a CallError.
type ErrorKind string

const (
	ErrorPermissionDenied  ErrorKind = "permission_denied"
	ErrorDeviceUnavailable ErrorKind = "device_unavailable"
	ErrorUnsupportedDevice ErrorKind = "unsupported_device"
	ErrorRelayRejected     ErrorKind = "relay_rejected"
	ErrorBusy              ErrorKind = "busy"
	ErrorRejected          ErrorKind = "rejected"
	ErrorNegotiationFailed ErrorKind = "negotiation_failed"
	ErrorTransportFailed   ErrorKind = "transport_failed"
	ErrorRelayUnreachable  ErrorKind = "relay_unreachable"
	ErrorCallInProgress    ErrorKind = "call_in_progress"
	ErrorInvalidState      ErrorKind = "invalid_state"
	ErrorUnknown           ErrorKind = "unknown"
)

// CallError is returned and emitted for every user-visible calling failure.
// UserID is set when the failure is scoped to one remote participant.
type CallError struct {
	Kind   ErrorKind
	ChatID string
	UserID string
	Err    error
}

// Error implements the error interface.
func (e *CallError) Error() string {
	msg := fmt.Sprintf("calling error: %s", e.Kind)
	if e.ChatID != "" {
		msg += " (chat " + e.ChatID
		if e.UserID != "" {
			msg += ", user " + e.UserID
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the wrapped error, if any.
func (e *CallError) Unwrap() error {
	return e.Err
}

func newCallError(kind ErrorKind, chatID, userID string, err error) *CallError {
	return &CallError{Kind: kind, ChatID: chatID, UserID: userID, Err: err}
}

func hasKind(err error, kind ErrorKind) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.Kind == kind
}

// KindOf returns the kind of a CallError in err's chain, or ErrorUnknown.
func KindOf(err error) ErrorKind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ErrorUnknown
}

// IsPermissionDenied reports whether the user refused device access.
func IsPermissionDenied(err error) bool { return hasKind(err, ErrorPermissionDenied) }

// IsDeviceUnavailable reports whether no capture device could be opened.
func IsDeviceUnavailable(err error) bool { return hasKind(err, ErrorDeviceUnavailable) }

// IsUnsupportedDevice reports whether the platform has no capture capability.
func IsUnsupportedDevice(err error) bool { return hasKind(err, ErrorUnsupportedDevice) }

// IsRelayRejected reports whether the relay refused or did not acknowledge a request.
func IsRelayRejected(err error) bool { return hasKind(err, ErrorRelayRejected) }

// IsBusy reports whether the remote side was busy.
func IsBusy(err error) bool { return hasKind(err, ErrorBusy) }

// IsRejected reports whether the remote side declined the call.
func IsRejected(err error) bool { return hasKind(err, ErrorRejected) }

// IsNegotiationFailed reports whether an offer/answer exchange failed.
func IsNegotiationFailed(err error) bool { return hasKind(err, ErrorNegotiationFailed) }

// IsTransportFailed reports whether a peer transport failed for good.
func IsTransportFailed(err error) bool { return hasKind(err, ErrorTransportFailed) }

// IsRelayUnreachable reports whether the relay connection was lost.
func IsRelayUnreachable(err error) bool { return hasKind(err, ErrorRelayUnreachable) }

// IsCallInProgress reports whether a call already exists.
func IsCallInProgress(err error) bool { return hasKind(err, ErrorCallInProgress) }

// IsInvalidState reports whether the operation is not allowed in the current state.
func IsInvalidState(err error) bool { return hasKind(err, ErrorInvalidState) }
