/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package callsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// APIError is the base error type for REST API failures. Specific sub-types
// embed it, so errors.As(err, &apiErr) gives access to the common fields
// regardless of the concrete type.
type APIError struct {
	// StatusCode is the HTTP status code from the response.
	StatusCode int

	// Status is the HTTP status line (e.g., "404 Not Found").
	Status string

	// Message is the error message from the response body.
	Message string

	// RequestID is the server-side request identifier, when provided.
	RequestID string

	// RetryAfter is parsed from the Retry-After header. Zero if absent.
	RetryAfter time.Duration

	// RawBody is the raw response body.
	RawBody []byte

	// Err is an optional wrapped error.
	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := fmt.Sprintf("API error: %d", e.StatusCode)
	if e.Message != "" {
		msg += " - " + e.Message
	}
	if e.RequestID != "" {
		msg += " (requestId: " + e.RequestID + ")"
	}
	return msg
}

// Unwrap returns the wrapped error, if any.
func (e *APIError) Unwrap() error {
	return e.Err
}

// RateLimitError is returned for HTTP 429 responses.
type RateLimitError struct {
	*APIError
}

func (e *RateLimitError) Unwrap() error { return e.APIError }

// AuthError is returned for HTTP 401 responses.
type AuthError struct {
	*APIError
}

func (e *AuthError) Unwrap() error { return e.APIError }

// ForbiddenError is returned for HTTP 403 responses.
type ForbiddenError struct {
	*APIError
}

func (e *ForbiddenError) Unwrap() error { return e.APIError }

// NotFoundError is returned for HTTP 404 responses.
type NotFoundError struct {
	*APIError
}

func (e *NotFoundError) Unwrap() error { return e.APIError }

// ServerError is returned for HTTP 5xx responses.
type ServerError struct {
	*APIError
}

func (e *ServerError) Unwrap() error { return e.APIError }

type apiErrorBody struct {
	Message   string `json:"message"`
	Error     string `json:"error"`
	RequestID string `json:"requestId"`
}

// NewAPIError builds a structured error from an HTTP response and its body.
// The JSON body may carry either "message" or "error".
func NewAPIError(resp *http.Response, body []byte) error {
	base := &APIError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		RawBody:    body,
	}

	if len(body) > 0 {
		var parsed apiErrorBody
		if err := json.Unmarshal(body, &parsed); err == nil {
			base.Message = parsed.Message
			if base.Message == "" {
				base.Message = parsed.Error
			}
			base.RequestID = parsed.RequestID
		}
	}
	if base.RequestID == "" {
		base.RequestID = resp.Header.Get("X-Request-Id")
	}

	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
			base.RetryAfter = time.Duration(seconds) * time.Second
		}
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return &AuthError{APIError: base}
	case http.StatusForbidden:
		return &ForbiddenError{APIError: base}
	case http.StatusNotFound:
		return &NotFoundError{APIError: base}
	case http.StatusTooManyRequests:
		return &RateLimitError{APIError: base}
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return &ServerError{APIError: base}
	default:
		return base
	}
}

// IsRateLimited reports whether err is a rate limit error (HTTP 429).
func IsRateLimited(err error) bool {
	var e *RateLimitError
	return errors.As(err, &e)
}

// IsNotFound reports whether err is a not found error (HTTP 404).
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsAuthError reports whether err is an authentication error (HTTP 401).
func IsAuthError(err error) bool {
	var e *AuthError
	return errors.As(err, &e)
}

// IsForbidden reports whether err is a forbidden error (HTTP 403).
func IsForbidden(err error) bool {
	var e *ForbiddenError
	return errors.As(err, &e)
}

// IsServerError reports whether err is a server error (HTTP 5xx).
func IsServerError(err error) bool {
	var e *ServerError
	return errors.As(err, &e)
}
