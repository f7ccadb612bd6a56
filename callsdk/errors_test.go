/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package callsdk

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

func asAPIError(err error, target **APIError) bool {
	return errors.As(err, target)
}

func TestAPIError_ErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		contains []string
	}{
		{
			name:     "With request ID",
			err:      &APIError{StatusCode: 404, Message: "chat not found", RequestID: "req-1"},
			contains: []string{"404", "chat not found", "req-1"},
		},
		{
			name:     "Without request ID",
			err:      &APIError{StatusCode: 500, Message: "internal error"},
			contains: []string{"500", "internal error"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg := tc.err.Error()
			for _, s := range tc.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("Expected error message to contain %q, got %q", s, msg)
				}
			}
		})
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("network timeout")
	err := &APIError{StatusCode: 502, Message: "bad gateway", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("Expected APIError to unwrap to inner error")
	}
}

func TestNewAPIError_SubTypes(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
		label  string
	}{
		{http.StatusUnauthorized, IsAuthError, "AuthError"},
		{http.StatusForbidden, IsForbidden, "ForbiddenError"},
		{http.StatusNotFound, IsNotFound, "NotFoundError"},
		{http.StatusTooManyRequests, IsRateLimited, "RateLimitError"},
		{http.StatusInternalServerError, IsServerError, "ServerError"},
		{http.StatusBadGateway, IsServerError, "ServerError"},
		{http.StatusServiceUnavailable, IsServerError, "ServerError"},
		{http.StatusGatewayTimeout, IsServerError, "ServerError"},
	}

	for _, tc := range tests {
		t.Run(fmt.Sprintf("%d", tc.status), func(t *testing.T) {
			resp := &http.Response{StatusCode: tc.status, Status: http.StatusText(tc.status), Header: http.Header{}}
			err := NewAPIError(resp, []byte(`{"message":"boom"}`))
			if !tc.check(err) {
				t.Errorf("Expected %s for status %d, got %T", tc.label, tc.status, err)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatal("Expected errors.As to match *APIError")
			}
			if apiErr.Message != "boom" {
				t.Errorf("Expected message 'boom', got %q", apiErr.Message)
			}
		})
	}
}

func TestNewAPIError_Fallbacks(t *testing.T) {
	t.Run("error field used when message missing", func(t *testing.T) {
		resp := &http.Response{StatusCode: http.StatusBadRequest, Header: http.Header{}}
		err := NewAPIError(resp, []byte(`{"error":"invalid chat"}`))
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatal("Expected *APIError")
		}
		if apiErr.Message != "invalid chat" {
			t.Errorf("Expected message from error field, got %q", apiErr.Message)
		}
	})

	t.Run("non JSON body kept raw", func(t *testing.T) {
		resp := &http.Response{StatusCode: http.StatusBadRequest, Header: http.Header{}}
		err := NewAPIError(resp, []byte("plain failure"))
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatal("Expected *APIError")
		}
		if apiErr.Message != "" {
			t.Errorf("Expected empty message, got %q", apiErr.Message)
		}
		if string(apiErr.RawBody) != "plain failure" {
			t.Errorf("Expected raw body preserved, got %q", apiErr.RawBody)
		}
	})

	t.Run("retry-after parsed", func(t *testing.T) {
		resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{}}
		resp.Header.Set("Retry-After", "60")
		err := NewAPIError(resp, nil)
		var rle *RateLimitError
		if !errors.As(err, &rle) {
			t.Fatal("Expected *RateLimitError")
		}
		if rle.RetryAfter != 60*time.Second {
			t.Errorf("Expected RetryAfter 60s, got %v", rle.RetryAfter)
		}
	})
}
