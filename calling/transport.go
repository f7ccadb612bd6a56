/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// NegotiationState is the offer/answer position of one transport.
type NegotiationState string

const (
	NegotiationStable          NegotiationState = "stable"
	NegotiationHaveLocalOffer  NegotiationState = "have-local-offer"
	NegotiationHaveRemoteOffer NegotiationState = "have-remote-offer"
	NegotiationFailed          NegotiationState = "failed"
)

// PeerTransport is the connection to one remote participant.
// It is owned by a Registry.
type PeerTransport struct {
	userID string
	pc     PeerConnection
	queue  *serialQueue
	logger zerolog.Logger

	mu                sync.Mutex
	state             NegotiationState
	remoteSet         bool
	pendingCandidates []webrtc.ICECandidateInit
	initiator         bool
	restarts          int
	restartTimer      *time.Timer
	connState         webrtc.PeerConnectionState
	closed            bool
}

func newPeerTransport(userID string, pc PeerConnection, logger zerolog.Logger) *PeerTransport {
	return &PeerTransport{
		userID:    userID,
		pc:        pc,
		queue:     newSerialQueue(),
		logger:    logger.With().Str("peer", userID).Logger(),
		state:     NegotiationStable,
		connState: webrtc.PeerConnectionStateNew,
	}
}

// UserID returns the remote participant id.
func (t *PeerTransport) UserID() string {
	return t.userID
}

// State returns the negotiation state.
func (t *PeerTransport) State() NegotiationState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// ConnectionState returns the last reported connection state.
func (t *PeerTransport) ConnectionState() webrtc.PeerConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connState
}

// Initiator reports whether the local side made the first offer.
func (t *PeerTransport) Initiator() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.initiator
}

// PendingCandidates returns the number of queued remote candidates.
func (t *PeerTransport) PendingCandidates() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pendingCandidates)
}

// Closed reports whether the transport was torn down.
func (t *PeerTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// negotiated reports whether an offer/answer has started or finished.
func (t *PeerTransport) negotiated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.initiator || t.remoteSet || t.state != NegotiationStable
}

func (t *PeerTransport) setState(s NegotiationState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// enqueue runs fn on this transport's serial queue.
func (t *PeerTransport) enqueue(fn func()) {
	t.queue.Enqueue(fn)
}

// attach adds every local track and starts one RTCP reader per sender.
func (t *PeerTransport) attach(m *LocalMedia) error {
	if m == nil {
		return nil
	}
	for _, lt := range m.Tracks() {
		sender, err := t.pc.AddTrack(lt.Track())
		if err != nil {
			return err
		}
		if sender != nil {
			go t.readRTCP(sender)
		}
	}
	return nil
}

// readRTCP drains a sender so interceptors run, logging keyframe requests.
func (t *PeerTransport) readRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				t.logger.Debug().Err(err).Msg("rtcp reader stopped")
			}
			return
		}
		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, p := range packets {
			switch pkt := p.(type) {
			case *rtcp.PictureLossIndication:
				t.logger.Debug().Uint32("ssrc", pkt.MediaSSRC).Msg("PLI received")
			case *rtcp.FullIntraRequest:
				t.logger.Debug().Uint32("ssrc", pkt.MediaSSRC).Msg("FIR received")
			}
		}
	}
}

// setConnState records a connection state and reports the previous one.
func (t *PeerTransport) setConnState(s webrtc.PeerConnectionState) webrtc.PeerConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.connState
	t.connState = s
	return prev
}

// beginRestart claims one restart from the budget and arms the timer.
// It reports false when a restart is already running or the budget is spent.
func (t *PeerTransport) beginRestart(max int, timeout time.Duration, expire func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.restartTimer != nil || t.restarts >= max {
		return false
	}
	t.restarts++
	t.restartTimer = time.AfterFunc(timeout, expire)
	return true
}

// restartPending reports whether a restart timer is armed.
func (t *PeerTransport) restartPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.restartTimer != nil
}

// recovered ends a failure episode.
func (t *PeerTransport) recovered() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.restartTimer != nil {
		t.restartTimer.Stop()
		t.restartTimer = nil
	}
	t.restarts = 0
}

// Close tears the connection down. Only the first call has an effect.
func (t *PeerTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	if t.restartTimer != nil {
		t.restartTimer.Stop()
		t.restartTimer = nil
	}
	t.pendingCandidates = nil
	t.mu.Unlock()

	return t.pc.Close()
}
