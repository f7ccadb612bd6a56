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
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tejzpr/meshcall-go-sdk/callsdk"
)

// Lifecycle events dispatched by the client itself.
const (
	EventConnected    = "relay.connected"
	EventDisconnected = "relay.disconnected"
	EventReconnected  = "relay.reconnected"
	EventLost         = "relay.lost"
)

const (
	eventAck     = "ack"
	eventWelcome = "welcome"
)

var (
	// ErrNotConnected is returned when sending without a live connection.
	ErrNotConnected = errors.New("relay: not connected")

	// ErrAckTimeout is returned when the relay does not acknowledge a request in time.
	ErrAckTimeout = errors.New("relay: ack timeout")
)

// AckError is a refusal returned by the relay in an acknowledgement.
type AckError struct {
	Event   string
	Message string
}

func (e *AckError) Error() string {
	return fmt.Sprintf("relay rejected %s: %s", e.Event, e.Message)
}

// IsAckError reports whether err is a relay-side refusal.
func IsAckError(err error) bool {
	var e *AckError
	return errors.As(err, &e)
}

// Frame is the JSON envelope exchanged over the websocket.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   string          `json:"ack,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Welcome is sent by the relay right after the upgrade.
type Welcome struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Event is an inbound relay event.
type Event struct {
	Name     string
	Data     json.RawMessage
	Received time.Time
}

// Decode unmarshals the event payload into v.
func (e *Event) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("relay: event %s has no data", e.Name)
	}
	return json.Unmarshal(e.Data, v)
}

// Handler is a callback for relay events
type Handler func(event *Event)

type registration struct {
	id      uint64
	handler Handler
}

// Config holds the configuration for the relay client
type Config struct {
	// PingInterval is the interval between websocket pings
	PingInterval time.Duration

	// PongTimeout is how long to wait past a ping for any inbound traffic
	PongTimeout time.Duration

	// WriteTimeout bounds a single frame write
	WriteTimeout time.Duration

	// HandshakeTimeout bounds the dial plus the welcome frame
	HandshakeTimeout time.Duration

	// AckTimeout bounds Request round-trips
	AckTimeout time.Duration

	// BackoffTimeReset is the first reconnect delay
	BackoffTimeReset time.Duration

	// BackoffTimeMax caps the reconnect delay
	BackoffTimeMax time.Duration

	// MaxRetries is the number of reconnect attempts before EventLost
	MaxRetries int

	// Logger overrides the core client's logger
	Logger *zerolog.Logger
}

// DefaultConfig returns the default configuration for the relay client
func DefaultConfig() *Config {
	return &Config{
		PingInterval:     30 * time.Second,
		PongTimeout:      10 * time.Second,
		WriteTimeout:     10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		AckTimeout:       10 * time.Second,
		BackoffTimeReset: 1 * time.Second,
		BackoffTimeMax:   32 * time.Second,
		MaxRetries:       3,
	}
}

// Client is a websocket client for the signaling relay.
type Client struct {
	core   *callsdk.Client
	config *Config
	logger zerolog.Logger

	mu            sync.Mutex
	conn          *websocket.Conn
	connected     bool
	connecting    bool
	closing       bool
	userID        string
	username      string
	customURL     string
	eventHandlers map[string][]registration
	nextHandler   uint64
	pending       map[string]chan *Frame
	done          chan struct{}
	stop          chan struct{}

	writeMu sync.Mutex
}

// New creates a new relay client
func New(core *callsdk.Client, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	logger := core.GetLogger()
	if config.Logger != nil {
		logger = *config.Logger
	}

	return &Client{
		core:          core,
		config:        config,
		logger:        logger.With().Str("component", "relay").Logger(),
		eventHandlers: make(map[string][]registration),
		pending:       make(map[string]chan *Frame),
	}
}

// SetURL overrides the relay URL from the core client.
func (c *Client) SetURL(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.customURL = url
}

// URL returns the relay URL in use.
func (c *Client) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.customURL != "" {
		return c.customURL
	}
	return c.core.RelayURL()
}

// IsConnected returns whether the websocket is open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// UserID returns the identity assigned by the relay in its welcome frame.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Username returns the display name assigned by the relay.
func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// Connect dials the relay and waits for the welcome frame.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	if c.connecting {
		c.mu.Unlock()
		return fmt.Errorf("relay: connection already in progress")
	}
	c.connecting = true
	c.closing = false
	c.stop = make(chan struct{})
	c.mu.Unlock()

	err := c.dial(ctx)

	c.mu.Lock()
	c.connecting = false
	c.mu.Unlock()

	if err != nil {
		return err
	}
	c.dispatchEvent(&Event{Name: EventConnected, Received: time.Now()})
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	target := c.URL()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.core.GetAccessToken())

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.config.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("relay: unauthorized: %w", err)
		}
		return fmt.Errorf("relay: dial %s: %w", target, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.config.HandshakeTimeout))
	var first Frame
	if err := conn.ReadJSON(&first); err != nil {
		conn.Close()
		return fmt.Errorf("relay: reading welcome: %w", err)
	}
	if first.Event != eventWelcome {
		conn.Close()
		return fmt.Errorf("relay: expected welcome, got %q", first.Event)
	}
	var welcome Welcome
	if err := json.Unmarshal(first.Data, &welcome); err != nil || welcome.UserID == "" {
		conn.Close()
		return fmt.Errorf("relay: invalid welcome payload")
	}

	readWindow := c.config.PingInterval + c.config.PongTimeout
	_ = conn.SetReadDeadline(time.Now().Add(readWindow))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWindow))
	})

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.userID = welcome.UserID
	c.username = welcome.Username
	c.done = done
	c.mu.Unlock()

	c.logger.Info().Str("url", target).Str("user_id", welcome.UserID).Msg("relay connected")

	go c.readLoop(conn, done)
	go c.pingLoop(conn, done)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	readWindow := c.config.PingInterval + c.config.PongTimeout
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			c.handleConnectionLoss(conn, err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWindow))
		c.handleFrame(&f)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteTimeout)); err != nil {
				c.logger.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

func (c *Client) handleFrame(f *Frame) {
	if f.Event == eventAck {
		c.mu.Lock()
		ch, ok := c.pending[f.Ack]
		if ok {
			delete(c.pending, f.Ack)
		}
		c.mu.Unlock()
		if ok {
			ch <- f
		} else {
			c.logger.Debug().Str("ack", f.Ack).Msg("ack for unknown request")
		}
		return
	}
	c.dispatchEvent(&Event{Name: f.Event, Data: f.Data, Received: time.Now()})
}

func (c *Client) handleConnectionLoss(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	closing := c.closing
	pending := c.pending
	c.pending = make(map[string]chan *Frame)
	c.mu.Unlock()

	conn.Close()
	for _, ch := range pending {
		close(ch)
	}

	if closing {
		return
	}

	c.logger.Warn().Err(cause).Msg("relay connection lost")
	c.dispatchEvent(&Event{Name: EventDisconnected, Received: time.Now()})
	go c.reconnect()
}

func (c *Client) reconnect() {
	c.mu.Lock()
	stop := c.stop
	c.mu.Unlock()

	delay := c.config.BackoffTimeReset
	for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.config.HandshakeTimeout)
		err := c.dial(ctx)
		cancel()
		if err == nil {
			c.dispatchEvent(&Event{Name: EventReconnected, Received: time.Now()})
			return
		}
		c.logger.Warn().Err(err).Int("attempt", attempt).Msg("relay reconnect failed")

		delay *= 2
		if delay > c.config.BackoffTimeMax {
			delay = c.config.BackoffTimeMax
		}
	}

	c.logger.Error().Int("attempts", c.config.MaxRetries).Msg("relay unreachable")
	c.dispatchEvent(&Event{Name: EventLost, Received: time.Now()})
}

// Disconnect closes the connection and stops reconnecting.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.closing = true
	if c.stop != nil {
		select {
		case <-c.stop:
		default:
			close(c.stop)
		}
	}
	conn := c.conn
	done := c.done
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.config.WriteTimeout))
	err := conn.Close()

	select {
	case <-done:
	case <-time.After(c.config.WriteTimeout):
	}

	c.logger.Info().Msg("relay disconnected")
	return err
}

// Emit sends an event without waiting for an acknowledgement.
func (c *Client) Emit(ctx context.Context, event string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("relay: encoding %s: %w", event, err)
	}
	return c.write(ctx, &Frame{Event: event, Data: raw})
}

// Request sends an event and waits for the relay's acknowledgement.
// When out is non-nil the ack payload is decoded into it.
func (c *Client) Request(ctx context.Context, event string, data interface{}, out interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("relay: encoding %s: %w", event, err)
	}

	id := uuid.NewString()
	ch := make(chan *Frame, 1)

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, &Frame{Event: event, Data: raw, Ack: id}); err != nil {
		return err
	}

	timer := time.NewTimer(c.config.AckTimeout)
	defer timer.Stop()

	select {
	case f, ok := <-ch:
		if !ok {
			return ErrNotConnected
		}
		if f.Error != "" {
			return &AckError{Event: event, Message: f.Error}
		}
		if out != nil && len(f.Data) > 0 {
			if err := json.Unmarshal(f.Data, out); err != nil {
				return fmt.Errorf("relay: decoding %s ack: %w", event, err)
			}
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: %s", ErrAckTimeout, event)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) write(ctx context.Context, f *Frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(c.config.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(f); err != nil {
		return fmt.Errorf("relay: writing %s: %w", f.Event, err)
	}
	return nil
}

// On registers a handler for an event name. "*" receives every event.
// The returned function removes exactly this registration.
func (c *Client) On(event string, handler Handler) func() {
	if handler == nil {
		return func() {}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextHandler++
	id := c.nextHandler
	c.eventHandlers[event] = append(c.eventHandlers[event], registration{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() { c.off(event, id) })
	}
}

func (c *Client) off(event string, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	regs := c.eventHandlers[event]
	for i, r := range regs {
		if r.id == id {
			c.eventHandlers[event] = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(c.eventHandlers[event]) == 0 {
		delete(c.eventHandlers, event)
	}
}

// ClearHandlers removes every handler for an event name.
func (c *Client) ClearHandlers(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.eventHandlers, event)
}

// EventHandlers returns a copy of the registered handlers.
func (c *Client) EventHandlers() map[string][]Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]Handler, len(c.eventHandlers))
	for k, regs := range c.eventHandlers {
		for _, r := range regs {
			out[k] = append(out[k], r.handler)
		}
	}
	return out
}

// dispatchEvent runs the handlers synchronously so per-connection order is kept.
func (c *Client) dispatchEvent(event *Event) {
	c.mu.Lock()
	regs := append([]registration(nil), c.eventHandlers[event.Name]...)
	regs = append(regs, c.eventHandlers["*"]...)
	c.mu.Unlock()

	for _, r := range regs {
		r.handler(event)
	}
}
