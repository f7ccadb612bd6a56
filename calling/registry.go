/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrRegistryClosed is returned by GetOrCreate after RemoveAll.
var ErrRegistryClosed = errors.New("transport registry closed")

// TransportHooks receive pion callbacks tagged with the transport they came from.
// Callers compare the transport against Registry.Get to drop late events.
type TransportHooks struct {
	OnCandidate       func(t *PeerTransport, c *webrtc.ICECandidate)
	OnTrack           func(t *PeerTransport, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	OnConnectionState func(t *PeerTransport, s webrtc.PeerConnectionState)
}

// Registry owns the transports of one call, keyed by remote user id.
type Registry struct {
	factory PeerConnectionFactory
	config  webrtc.Configuration
	media   *LocalMedia
	hooks   TransportHooks
	logger  zerolog.Logger

	mu         sync.Mutex
	transports map[string]*PeerTransport
	closed     bool
}

// NewRegistry creates an empty registry. Every transport gets the tracks of media.
func NewRegistry(factory PeerConnectionFactory, config webrtc.Configuration, media *LocalMedia, hooks TransportHooks, logger zerolog.Logger) *Registry {
	return &Registry{
		factory:    factory,
		config:     config,
		media:      media,
		hooks:      hooks,
		logger:     logger.With().Str("component", "registry").Logger(),
		transports: make(map[string]*PeerTransport),
	}
}

// GetOrCreate returns the transport for userID, creating it when absent.
// The bool reports whether it was created by this call.
func (r *Registry) GetOrCreate(userID string) (*PeerTransport, bool, error) {
	if userID == "" {
		return nil, false, fmt.Errorf("user id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, false, ErrRegistryClosed
	}
	if t, ok := r.transports[userID]; ok {
		return t, false, nil
	}

	pc, err := r.factory.NewPeerConnection(r.config)
	if err != nil {
		return nil, false, err
	}
	t := newPeerTransport(userID, pc, r.logger)
	if err := t.attach(r.media); err != nil {
		t.Close()
		return nil, false, fmt.Errorf("failed to attach local tracks: %w", err)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if r.hooks.OnCandidate != nil {
			r.hooks.OnCandidate(t, c)
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if r.hooks.OnTrack != nil {
			r.hooks.OnTrack(t, track, receiver)
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if r.hooks.OnConnectionState != nil {
			r.hooks.OnConnectionState(t, s)
		}
	})

	r.transports[userID] = t
	r.logger.Debug().Str("peer", userID).Int("transports", len(r.transports)).Msg("transport created")
	return t, true, nil
}

// Get returns the transport for userID, or nil.
func (r *Registry) Get(userID string) *PeerTransport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transports[userID]
}

// Owns reports whether t is the live transport for its user.
func (r *Registry) Owns(t *PeerTransport) bool {
	return t != nil && r.Get(t.userID) == t
}

// Remove closes and forgets the transport for userID. It is a no-op when absent.
func (r *Registry) Remove(userID string) bool {
	r.mu.Lock()
	t, ok := r.transports[userID]
	delete(r.transports, userID)
	r.mu.Unlock()

	if !ok {
		return false
	}
	if err := t.Close(); err != nil {
		r.logger.Warn().Err(err).Str("peer", userID).Msg("failed to close transport")
	}
	r.logger.Debug().Str("peer", userID).Msg("transport removed")
	return true
}

// RemoveAll closes every transport concurrently. The registry creates no
// transports afterwards.
func (r *Registry) RemoveAll() error {
	r.mu.Lock()
	transports := r.transports
	r.transports = make(map[string]*PeerTransport)
	r.closed = true
	r.mu.Unlock()

	var g errgroup.Group
	for _, t := range transports {
		g.Go(t.Close)
	}
	return g.Wait()
}

// Len returns the number of live transports.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transports)
}

// IDs returns the user ids with a live transport, sorted.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.transports))
	for id := range r.transports {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}
