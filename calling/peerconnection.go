/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// PeerConnection is the part of *webrtc.PeerConnection the engine uses.
type PeerConnection interface {
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	ConnectionState() webrtc.PeerConnectionState
	Close() error
}

var _ PeerConnection = (*webrtc.PeerConnection)(nil)

// PeerConnectionFactory creates one PeerConnection per remote participant.
type PeerConnectionFactory interface {
	NewPeerConnection(config webrtc.Configuration) (PeerConnection, error)
}

// PionConfig tunes the pion API built by PionFactory.
type PionConfig struct {
	// ICE agent timeouts
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration

	// LoopbackOnly gathers UDP4 host candidates on loopback only. Used for
	// same-host calls such as the dev relay walkthrough and tests.
	LoopbackOnly bool
}

// DefaultPionConfig returns ICE timeouts that ride out short relay or NAT outages.
func DefaultPionConfig() *PionConfig {
	return &PionConfig{
		DisconnectedTimeout: 10 * time.Second,
		FailedTimeout:       30 * time.Second,
		KeepAliveInterval:   2 * time.Second,
	}
}

// PionFactory builds peer connections from a shared pion API with the
// default VP8/Opus codecs and the default interceptors (NACK, RTCP reports, TWCC).
type PionFactory struct {
	config *PionConfig

	once sync.Once
	api  *webrtc.API
	err  error
}

// NewPionFactory creates a factory. A nil config uses DefaultPionConfig.
func NewPionFactory(config *PionConfig) *PionFactory {
	if config == nil {
		config = DefaultPionConfig()
	}
	return &PionFactory{config: config}
}

func (f *PionFactory) build() (*webrtc.API, error) {
	f.once.Do(func() {
		m := &webrtc.MediaEngine{}
		if err := m.RegisterDefaultCodecs(); err != nil {
			f.err = fmt.Errorf("failed to register codecs: %w", err)
			return
		}

		i := &interceptor.Registry{}
		if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
			f.err = fmt.Errorf("failed to register default interceptors: %w", err)
			return
		}

		se := webrtc.SettingEngine{}
		se.SetICETimeouts(f.config.DisconnectedTimeout, f.config.FailedTimeout, f.config.KeepAliveInterval)
		if f.config.LoopbackOnly {
			se.SetIncludeLoopbackCandidate(true)
			se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
			se.SetIPFilter(func(ip net.IP) bool { return ip.IsLoopback() })
		}

		f.api = webrtc.NewAPI(
			webrtc.WithMediaEngine(m),
			webrtc.WithInterceptorRegistry(i),
			webrtc.WithSettingEngine(se),
		)
	})
	return f.api, f.err
}

// NewPeerConnection creates a pion peer connection.
func (f *PionFactory) NewPeerConnection(config webrtc.Configuration) (PeerConnection, error) {
	api, err := f.build()
	if err != nil {
		return nil, err
	}
	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return pc, nil
}
