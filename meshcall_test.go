/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package meshcall

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/tejzpr/meshcall-go-sdk/callsdk"
	"github.com/tejzpr/meshcall-go-sdk/calling"
	"github.com/tejzpr/meshcall-go-sdk/devrelay"
)

func TestNewClientRequiresToken(t *testing.T) {
	if _, err := NewClient("", nil); err == nil {
		t.Fatal("Expected error for empty token")
	}
}

func TestPluginsAreSingletons(t *testing.T) {
	client, err := NewClient("test-token", nil)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	if client.ICEServers() != client.ICEServers() {
		t.Error("Expected ICEServers() to return the cached instance")
	}
	if client.Relay() != client.Relay() {
		t.Error("Expected Relay() to return the cached instance")
	}
	if client.Signaling() != client.Signaling() {
		t.Error("Expected Signaling() to return the cached instance")
	}
	if client.Calling() != client.Calling() {
		t.Error("Expected Calling() to return the cached instance")
	}
	if client.Core() == nil {
		t.Error("Expected a core client")
	}
}

func TestCallingIsIdleBeforeConnect(t *testing.T) {
	client, err := NewClient("test-token", nil)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	client.ConfigureCalling(&calling.Config{Capturer: calling.NewSyntheticCapturer()})

	cc := client.Calling()
	if cc.State() != calling.CallStateIdle {
		t.Errorf("Expected idle, got %s", cc.State())
	}
	if cc.CurrentCall() != nil {
		t.Error("Expected no current call")
	}
}

func TestConnectAgainstDevRelay(t *testing.T) {
	logger := zerolog.Nop()
	secret := []byte("secret")
	srv, err := devrelay.New(&devrelay.Config{Secret: secret, Logger: &logger})
	if err != nil {
		t.Fatalf("devrelay.New returned error: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer srv.CloseConnections()

	token, err := srv.IssueToken("alice", "Alice")
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}
	client, err := NewClient(token, &callsdk.Config{
		BaseURL:  ts.URL,
		RelayURL: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		Logger:   &logger,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	if got := client.Signaling().LocalID(); got != "alice" {
		t.Errorf("Expected local id alice, got %q", got)
	}
	if !client.Relay().IsConnected() {
		t.Error("Expected relay to be connected")
	}

	client.Close(ctx)
	if client.Relay().IsConnected() {
		t.Error("Expected relay to be disconnected after Close")
	}
}

func TestConnectFailsWithoutRelay(t *testing.T) {
	logger := zerolog.Nop()
	client, err := NewClient("test-token", &callsdk.Config{
		BaseURL:  "http://127.0.0.1:1",
		RelayURL: "ws://127.0.0.1:1/ws",
		Logger:   &logger,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err == nil {
		t.Fatal("Expected Connect to fail against a closed port")
	}
}
