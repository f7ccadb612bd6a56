/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ICEServerProvider resolves the ICE servers for a chat. *iceservers.Client satisfies it.
type ICEServerProvider interface {
	ICEServers(ctx context.Context, chatID string) ([]webrtc.ICEServer, error)
}

// Notifier surfaces user-visible failures. Each failure is reported once.
type Notifier interface {
	Notify(err *CallError)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(err *CallError)

// Notify calls f(err).
func (f NotifierFunc) Notify(err *CallError) { f(err) }

// Config holds the configuration for the calling client
type Config struct {
	// ICEServers is used when ICEServerProvider is nil or fails
	ICEServers []webrtc.ICEServer

	// ICEServerProvider is consulted once per call
	ICEServerProvider ICEServerProvider

	// Capturer opens local capture devices (default: DeviceCapturer)
	Capturer Capturer

	// PeerConnectionFactory builds transports (default: pion)
	PeerConnectionFactory PeerConnectionFactory

	// Notifier receives user-visible failures (optional)
	Notifier Notifier

	// RingTimeout auto-rejects an unanswered incoming call and ends an
	// outbound call that nobody joined
	RingTimeout time.Duration

	// RelayTimeout bounds every acknowledged relay request
	RelayTimeout time.Duration

	// RestartTimeout bounds an ICE restart before the participant is marked disconnected
	RestartTimeout time.Duration

	// MaxICERestarts per failure episode; negative disables restarts
	MaxICERestarts int

	Logger *zerolog.Logger
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
		RingTimeout:    30 * time.Second,
		RelayTimeout:   10 * time.Second,
		RestartTimeout: 15 * time.Second,
		MaxICERestarts: 1,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c *Config) withDefaults() *Config {
	def := DefaultConfig()
	if c == nil {
		c = def
	}
	out := *c
	if len(out.ICEServers) == 0 {
		out.ICEServers = def.ICEServers
	}
	if out.RingTimeout <= 0 {
		out.RingTimeout = def.RingTimeout
	}
	if out.RelayTimeout <= 0 {
		out.RelayTimeout = def.RelayTimeout
	}
	if out.RestartTimeout <= 0 {
		out.RestartTimeout = def.RestartTimeout
	}
	switch {
	case out.MaxICERestarts == 0:
		out.MaxICERestarts = def.MaxICERestarts
	case out.MaxICERestarts < 0:
		out.MaxICERestarts = 0
	}
	if out.Capturer == nil {
		out.Capturer = NewDeviceCapturer()
	}
	if out.PeerConnectionFactory == nil {
		out.PeerConnectionFactory = NewPionFactory(nil)
	}
	return &out
}

func (c *Config) logger() zerolog.Logger {
	if c.Logger != nil {
		return *c.Logger
	}
	return log.Logger
}
