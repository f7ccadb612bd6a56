/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tejzpr/meshcall-go-sdk/callsdk"
)

func newCore(t *testing.T) *callsdk.Client {
	t.Helper()
	logger := zerolog.Nop()
	core, err := callsdk.NewClient("test-token", &callsdk.Config{BaseURL: "http://localhost", Logger: &logger})
	if err != nil {
		t.Fatalf("Failed to create core client: %v", err)
	}
	return core
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.AckTimeout = 500 * time.Millisecond
	cfg.HandshakeTimeout = time.Second
	cfg.BackoffTimeReset = 10 * time.Millisecond
	cfg.BackoffTimeMax = 20 * time.Millisecond
	cfg.WriteTimeout = time.Second
	return cfg
}

// fakeRelay answers every ack request and drops the first connectionsToDrop connections.
type fakeRelay struct {
	server      *httptest.Server
	connections int32
	dropFirst   int32
	lastAuth    atomic.Value
}

func newFakeRelay(t *testing.T, dropFirst int32) *fakeRelay {
	t.Helper()
	fr := &fakeRelay{dropFirst: dropFirst}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	fr.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fr.lastAuth.Store(r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		n := atomic.AddInt32(&fr.connections, 1)
		welcome, _ := json.Marshal(Welcome{UserID: "u-local", Username: "alice"})
		if err := conn.WriteJSON(Frame{Event: eventWelcome, Data: welcome}); err != nil {
			return
		}
		if n <= fr.dropFirst {
			return
		}

		for {
			var f Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			switch {
			case f.Event == "fail" && f.Ack != "":
				_ = conn.WriteJSON(Frame{Event: eventAck, Ack: f.Ack, Error: "not allowed"})
			case f.Event == "silent":
			case f.Ack != "":
				data, _ := json.Marshal(map[string]string{"echo": f.Event})
				_ = conn.WriteJSON(Frame{Event: eventAck, Ack: f.Ack, Data: data})
			case f.Event == "ping-me":
				_ = conn.WriteJSON(Frame{Event: "pong-you", Data: f.Data})
			}
		}
	}))
	t.Cleanup(fr.server.Close)
	return fr
}

func (fr *fakeRelay) wsURL() string {
	return "ws" + strings.TrimPrefix(fr.server.URL, "http")
}

func waitEvent(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case got := <-ch:
			if got == want {
				return
			}
		case <-timeout:
			t.Fatalf("Timed out waiting for %s", want)
		}
	}
}

func TestNew(t *testing.T) {
	core := newCore(t)

	t.Run("with default config", func(t *testing.T) {
		c := New(core, nil)
		if c.config.PingInterval != 30*time.Second {
			t.Errorf("Expected PingInterval 30s, got %v", c.config.PingInterval)
		}
		if c.config.MaxRetries != 3 {
			t.Errorf("Expected MaxRetries 3, got %d", c.config.MaxRetries)
		}
		if c.URL() != core.RelayURL() {
			t.Errorf("Expected URL from core, got %q", c.URL())
		}
	})

	t.Run("with custom url", func(t *testing.T) {
		c := New(core, &Config{MaxRetries: 10})
		c.SetURL("wss://custom/ws")
		if c.URL() != "wss://custom/ws" {
			t.Errorf("Expected custom URL, got %q", c.URL())
		}
		if c.config.MaxRetries != 10 {
			t.Errorf("Expected MaxRetries 10, got %d", c.config.MaxRetries)
		}
	})
}

func TestOnOffAndClear(t *testing.T) {
	c := New(newCore(t), nil)

	c.On("offer", nil)()
	if len(c.EventHandlers()["offer"]) != 0 {
		t.Error("Expected nil handler to be ignored")
	}

	first := func(event *Event) {}
	second := func(event *Event) {}
	offFirst := c.On("offer", first)
	c.On("offer", second)
	c.On("answer", first)

	offFirst()
	offFirst()
	if got := len(c.EventHandlers()["offer"]); got != 1 {
		t.Errorf("Expected 1 handler after off, got %d", got)
	}

	c.ClearHandlers("offer")
	handlers := c.EventHandlers()
	if len(handlers["offer"]) != 0 {
		t.Errorf("Expected 0 handlers after ClearHandlers, got %d", len(handlers["offer"]))
	}
	if len(handlers["answer"]) != 1 {
		t.Errorf("Expected answer handler untouched, got %d", len(handlers["answer"]))
	}
}

func TestOffRemovesOnlyItsRegistration(t *testing.T) {
	c := New(newCore(t), nil)

	// Closures from one literal share a code pointer; removal must still be
	// per registration.
	var got []int
	register := func(n int) func() {
		return c.On("userJoined", func(event *Event) { got = append(got, n) })
	}
	register(1)
	offSecond := register(2)

	offSecond()
	c.dispatchEvent(&Event{Name: "userJoined"})

	if len(got) != 1 || got[0] != 1 {
		t.Errorf("Expected only the first handler to run, got %v", got)
	}
}

func TestDispatchEvent(t *testing.T) {
	c := New(newCore(t), nil)

	var order []string
	c.On("offer", func(event *Event) { order = append(order, "typed") })
	c.On("*", func(event *Event) { order = append(order, "wildcard") })
	c.On("answer", func(event *Event) { order = append(order, "other") })

	c.dispatchEvent(&Event{Name: "offer"})

	if len(order) != 2 || order[0] != "typed" || order[1] != "wildcard" {
		t.Errorf("Expected typed then wildcard, got %v", order)
	}

	// No handlers registered: must not panic.
	c.dispatchEvent(&Event{Name: "unknown"})
}

func TestEventDecode(t *testing.T) {
	ev := &Event{Name: "userJoined", Data: json.RawMessage(`{"userId":"u1"}`)}
	var out struct {
		UserID string `json:"userId"`
	}
	if err := ev.Decode(&out); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if out.UserID != "u1" {
		t.Errorf("Expected u1, got %q", out.UserID)
	}

	if err := (&Event{Name: "empty"}).Decode(&out); err == nil {
		t.Error("Expected error decoding empty payload")
	}
}

func TestDisconnectWhenNotConnected(t *testing.T) {
	c := New(newCore(t), nil)
	if err := c.Disconnect(); err != nil {
		t.Errorf("Expected nil error when disconnecting while not connected, got %v", err)
	}
}

func TestSendWhenNotConnected(t *testing.T) {
	c := New(newCore(t), testConfig())

	if err := c.Emit(context.Background(), "offer", map[string]string{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected from Emit, got %v", err)
	}
	if err := c.Request(context.Background(), "joinCall", nil, nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected from Request, got %v", err)
	}
}

func TestConnectAndRequest(t *testing.T) {
	fr := newFakeRelay(t, 0)
	c := New(newCore(t), testConfig())
	c.SetURL(fr.wsURL())

	events := make(chan string, 16)
	c.On("*", func(event *Event) { events <- event.Name })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	waitEvent(t, events, EventConnected)

	if !c.IsConnected() {
		t.Error("Expected client to be connected")
	}
	if c.UserID() != "u-local" || c.Username() != "alice" {
		t.Errorf("Expected identity from welcome, got %q/%q", c.UserID(), c.Username())
	}
	if got, _ := fr.lastAuth.Load().(string); got != "Bearer test-token" {
		t.Errorf("Expected bearer auth header, got %q", got)
	}

	t.Run("connect twice is a no-op", func(t *testing.T) {
		if err := c.Connect(context.Background()); err != nil {
			t.Errorf("Expected nil error on second Connect, got %v", err)
		}
	})

	t.Run("ack round trip", func(t *testing.T) {
		var out map[string]string
		if err := c.Request(context.Background(), "joinCall", map[string]string{"chatId": "c1"}, &out); err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		if out["echo"] != "joinCall" {
			t.Errorf("Expected echo joinCall, got %v", out)
		}
	})

	t.Run("ack error", func(t *testing.T) {
		err := c.Request(context.Background(), "fail", nil, nil)
		if !IsAckError(err) {
			t.Fatalf("Expected AckError, got %v", err)
		}
		if !strings.Contains(err.Error(), "not allowed") {
			t.Errorf("Expected relay message in error, got %q", err.Error())
		}
	})

	t.Run("unacknowledged request times out", func(t *testing.T) {
		err := c.Request(context.Background(), "silent", nil, nil)
		if !errors.Is(err, ErrAckTimeout) {
			t.Errorf("Expected ErrAckTimeout, got %v", err)
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := c.Request(ctx, "silent", nil, nil); err == nil {
			t.Error("Expected error with canceled context")
		}
	})

	t.Run("inbound events dispatched", func(t *testing.T) {
		if err := c.Emit(context.Background(), "ping-me", map[string]int{"n": 1}); err != nil {
			t.Fatalf("Emit failed: %v", err)
		}
		waitEvent(t, events, "pong-you")
	})
}

func TestAckTimeout(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		welcome, _ := json.Marshal(Welcome{UserID: "u1"})
		_ = conn.WriteJSON(Frame{Event: eventWelcome, Data: welcome})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.AckTimeout = 50 * time.Millisecond
	c := New(newCore(t), cfg)
	c.SetURL("ws" + strings.TrimPrefix(server.URL, "http"))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	err := c.Request(context.Background(), "initiateCall", map[string]string{"chatId": "c1"}, nil)
	if !errors.Is(err, ErrAckTimeout) {
		t.Errorf("Expected ErrAckTimeout, got %v", err)
	}
}

func TestConnectRejectsMissingWelcome(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(Frame{Event: "offer"})
	}))
	defer server.Close()

	c := New(newCore(t), testConfig())
	c.SetURL("ws" + strings.TrimPrefix(server.URL, "http"))
	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("Expected error when first frame is not welcome")
	}
	if c.IsConnected() {
		t.Error("Expected client to stay disconnected")
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	fr := newFakeRelay(t, 1)
	c := New(newCore(t), testConfig())
	c.SetURL(fr.wsURL())

	events := make(chan string, 16)
	c.On("*", func(event *Event) { events <- event.Name })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	waitEvent(t, events, EventDisconnected)
	waitEvent(t, events, EventReconnected)

	if atomic.LoadInt32(&fr.connections) < 2 {
		t.Errorf("Expected a second connection, got %d", fr.connections)
	}
	if !c.IsConnected() {
		t.Error("Expected client to be connected after reconnect")
	}
}

func TestLostAfterRetries(t *testing.T) {
	kill := make(chan struct{})
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		welcome, _ := json.Marshal(Welcome{UserID: "u1"})
		_ = conn.WriteJSON(Frame{Event: eventWelcome, Data: welcome})
		<-kill
	}))

	cfg := testConfig()
	cfg.MaxRetries = 2
	c := New(newCore(t), cfg)
	c.SetURL("ws" + strings.TrimPrefix(server.URL, "http"))

	events := make(chan string, 16)
	c.On("*", func(event *Event) { events <- event.Name })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	server.Close()
	close(kill)

	waitEvent(t, events, EventDisconnected)
	waitEvent(t, events, EventLost)
	if c.IsConnected() {
		t.Error("Expected client to be disconnected after retries are exhausted")
	}
}
