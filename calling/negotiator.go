/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// negotiator runs the offer/answer/candidate exchange for one call.
// Every method runs on the transport's serial queue.
type negotiator struct {
	ctx      context.Context
	chatID   string
	signaler Signaler
	logger   zerolog.Logger
}

func (n *negotiator) canceled(t *PeerTransport) bool {
	return n.ctx.Err() != nil || t.Closed()
}

// offer creates and sends a local offer. A restart offer sets ICERestart.
func (n *negotiator) offer(t *PeerTransport, restart bool) error {
	if n.canceled(t) {
		return nil
	}
	if !restart && t.State() == NegotiationHaveLocalOffer {
		t.logger.Debug().Msg("offer already pending")
		return nil
	}

	var opts *webrtc.OfferOptions
	if restart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	desc, err := t.pc.CreateOffer(opts)
	if err != nil {
		t.setState(NegotiationFailed)
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(desc); err != nil {
		t.setState(NegotiationFailed)
		return fmt.Errorf("failed to set local offer: %w", err)
	}

	t.mu.Lock()
	t.state = NegotiationHaveLocalOffer
	if !restart {
		t.initiator = true
	}
	t.mu.Unlock()

	if n.canceled(t) {
		return nil
	}
	t.logger.Debug().Bool("ice_restart", restart).Msg("sending offer")
	return n.signaler.SendOffer(n.ctx, n.chatID, t.userID, desc)
}

// handleOffer answers a remote offer. An offer that collides with a pending
// local offer is dropped.
func (n *negotiator) handleOffer(t *PeerTransport, offer webrtc.SessionDescription) error {
	if n.canceled(t) {
		return nil
	}
	if t.State() == NegotiationHaveLocalOffer {
		t.logger.Warn().Msg("ignoring remote offer while local offer is pending")
		return nil
	}

	if err := t.pc.SetRemoteDescription(offer); err != nil {
		t.setState(NegotiationFailed)
		return fmt.Errorf("failed to set remote offer: %w", err)
	}
	t.mu.Lock()
	t.state = NegotiationHaveRemoteOffer
	t.remoteSet = true
	t.mu.Unlock()
	n.flushCandidates(t)

	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		t.setState(NegotiationFailed)
		return fmt.Errorf("failed to create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		t.setState(NegotiationFailed)
		return fmt.Errorf("failed to set local answer: %w", err)
	}
	t.setState(NegotiationStable)

	if n.canceled(t) {
		return nil
	}
	t.logger.Debug().Msg("sending answer")
	return n.signaler.SendAnswer(n.ctx, n.chatID, t.userID, answer)
}

// handleAnswer completes a local offer. Answers in any other state are dropped.
func (n *negotiator) handleAnswer(t *PeerTransport, answer webrtc.SessionDescription) error {
	if n.canceled(t) {
		return nil
	}
	if t.State() != NegotiationHaveLocalOffer {
		t.logger.Debug().Str("state", string(t.State())).Msg("ignoring unexpected answer")
		return nil
	}

	if err := t.pc.SetRemoteDescription(answer); err != nil {
		t.setState(NegotiationFailed)
		return fmt.Errorf("failed to set remote answer: %w", err)
	}
	t.mu.Lock()
	t.state = NegotiationStable
	t.remoteSet = true
	t.mu.Unlock()
	n.flushCandidates(t)
	return nil
}

// handleCandidate applies a remote candidate, or queues it until the remote
// description is set.
func (n *negotiator) handleCandidate(t *PeerTransport, c webrtc.ICECandidateInit) {
	if n.canceled(t) {
		return
	}
	t.mu.Lock()
	if !t.remoteSet {
		t.pendingCandidates = append(t.pendingCandidates, c)
		t.mu.Unlock()
		t.logger.Debug().Msg("queued remote candidate")
		return
	}
	t.mu.Unlock()

	if err := t.pc.AddICECandidate(c); err != nil {
		t.logger.Warn().Err(err).Msg("failed to add remote candidate")
	}
}

func (n *negotiator) flushCandidates(t *PeerTransport) {
	t.mu.Lock()
	pending := t.pendingCandidates
	t.pendingCandidates = nil
	t.mu.Unlock()

	for _, c := range pending {
		if err := t.pc.AddICECandidate(c); err != nil {
			t.logger.Warn().Err(err).Msg("failed to add queued candidate")
		}
	}
	if len(pending) > 0 {
		t.logger.Debug().Int("count", len(pending)).Msg("flushed queued candidates")
	}
}

// sendCandidate forwards a local candidate to the remote participant.
func (n *negotiator) sendCandidate(t *PeerTransport, c webrtc.ICECandidateInit) {
	if n.canceled(t) {
		return
	}
	if err := n.signaler.SendCandidate(n.ctx, n.chatID, t.userID, c); err != nil {
		t.logger.Debug().Err(err).Msg("failed to send local candidate")
	}
}
