/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/tejzpr/meshcall-go-sdk/signaling"
)

// ConnectionState is the connection status shown for a participant.
type ConnectionState string

const (
	ConnectionNew          ConnectionState = "new"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionReconnecting ConnectionState = "reconnecting"
	// ConnectionDisconnected marks a participant whose transport was given up.
	ConnectionDisconnected ConnectionState = "disconnected"
)

func connectionStateFromPion(s webrtc.PeerConnectionState) ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return ConnectionConnecting
	case webrtc.PeerConnectionStateConnected:
		return ConnectionConnected
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
		return ConnectionReconnecting
	case webrtc.PeerConnectionStateClosed:
		return ConnectionDisconnected
	}
	return ConnectionNew
}

// Participant is one member of a call as seen locally.
type Participant struct {
	UserID          string
	Username        string
	Local           bool
	Muted           bool
	VideoOff        bool
	VideoOffered    bool
	ConnectionState ConnectionState
	Tracks          []*webrtc.TrackRemote
}

func (p *Participant) clone() Participant {
	out := *p
	out.Tracks = append([]*webrtc.TrackRemote(nil), p.Tracks...)
	return out
}

// Presence is the participant list of one call.
type Presence struct {
	localID      string
	videoOffered bool
	emitter      *EventEmitter

	mu      sync.RWMutex
	order   []string
	records map[string]*Participant
}

// NewPresence creates a tracker holding only the local participant.
// emitter may be nil.
func NewPresence(localID, localName string, videoOffered bool, emitter *EventEmitter) *Presence {
	p := &Presence{
		localID:      localID,
		videoOffered: videoOffered,
		emitter:      emitter,
		records:      make(map[string]*Participant),
	}
	p.records[localID] = &Participant{
		UserID:          localID,
		Username:        localName,
		Local:           true,
		VideoOffered:    videoOffered,
		ConnectionState: ConnectionConnected,
	}
	p.order = []string{localID}
	return p
}

func (p *Presence) changed() {
	if p.emitter != nil {
		p.emitter.Emit(string(CallEventParticipantsChanged), p.List())
	}
}

// ApplySnapshot replaces every remote record with the snapshot. The local
// entry is kept. It returns the ids added and removed.
func (p *Presence) ApplySnapshot(list []signaling.ParticipantInfo) (added, removed []string) {
	p.mu.Lock()
	incoming := make(map[string]signaling.ParticipantInfo, len(list))
	for _, info := range list {
		if info.UserID == "" || info.UserID == p.localID {
			continue
		}
		incoming[info.UserID] = info
	}

	order := make([]string, 0, len(incoming)+1)
	for _, id := range p.order {
		if id == p.localID {
			order = append(order, id)
			continue
		}
		info, keep := incoming[id]
		if !keep {
			delete(p.records, id)
			removed = append(removed, id)
			continue
		}
		rec := p.records[id]
		if info.Username != "" {
			rec.Username = info.Username
		}
		rec.Muted = info.Muted
		rec.VideoOff = info.VideoOff
		order = append(order, id)
	}
	for _, info := range list {
		id := info.UserID
		if _, ok := incoming[id]; !ok {
			continue
		}
		if _, exists := p.records[id]; exists {
			continue
		}
		p.records[id] = &Participant{
			UserID:          id,
			Username:        info.Username,
			Muted:           info.Muted,
			VideoOff:        info.VideoOff,
			VideoOffered:    p.videoOffered,
			ConnectionState: ConnectionNew,
		}
		order = append(order, id)
		added = append(added, id)
	}
	p.order = order
	p.mu.Unlock()

	p.changed()
	return added, removed
}

// Join adds a remote participant. It reports whether a record was added; an
// existing record without a username gets this one.
func (p *Presence) Join(userID, username string) bool {
	if userID == "" || userID == p.localID {
		return false
	}
	p.mu.Lock()
	if rec, ok := p.records[userID]; ok {
		filled := rec.Username == "" && username != ""
		if filled {
			rec.Username = username
		}
		p.mu.Unlock()
		if filled {
			p.changed()
		}
		return false
	}
	p.records[userID] = &Participant{
		UserID:          userID,
		Username:        username,
		VideoOffered:    p.videoOffered,
		ConnectionState: ConnectionNew,
	}
	p.order = append(p.order, userID)
	p.mu.Unlock()

	p.changed()
	return true
}

// Leave removes a remote participant. It reports whether one was removed.
func (p *Presence) Leave(userID string) bool {
	if userID == p.localID {
		return false
	}
	p.mu.Lock()
	if _, ok := p.records[userID]; !ok {
		p.mu.Unlock()
		return false
	}
	delete(p.records, userID)
	for i, id := range p.order {
		if id == userID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	p.changed()
	return true
}

// update applies fn to a remote record. Events addressed to the local user are ignored.
func (p *Presence) update(userID string, fn func(*Participant) bool) bool {
	if userID == p.localID {
		return false
	}
	p.mu.Lock()
	rec, ok := p.records[userID]
	changed := ok && fn(rec)
	p.mu.Unlock()

	if changed {
		p.changed()
	}
	return changed
}

func (p *Presence) updateLocal(fn func(*Participant) bool) {
	p.mu.Lock()
	changed := fn(p.records[p.localID])
	p.mu.Unlock()
	if changed {
		p.changed()
	}
}

// SetMuted sets a remote participant's mute flag.
func (p *Presence) SetMuted(userID string, muted bool) bool {
	return p.update(userID, func(rec *Participant) bool {
		if rec.Muted == muted {
			return false
		}
		rec.Muted = muted
		return true
	})
}

// SetVideoOff sets a remote participant's camera flag.
func (p *Presence) SetVideoOff(userID string, videoOff bool) bool {
	return p.update(userID, func(rec *Participant) bool {
		if rec.VideoOff == videoOff {
			return false
		}
		rec.VideoOff = videoOff
		return true
	})
}

// SetLocalMuted sets the local mute flag.
func (p *Presence) SetLocalMuted(muted bool) {
	p.updateLocal(func(rec *Participant) bool {
		if rec.Muted == muted {
			return false
		}
		rec.Muted = muted
		return true
	})
}

// SetLocalVideoOff sets the local camera flag.
func (p *Presence) SetLocalVideoOff(videoOff bool) {
	p.updateLocal(func(rec *Participant) bool {
		if rec.VideoOff == videoOff {
			return false
		}
		rec.VideoOff = videoOff
		return true
	})
}

// SetConnectionState records the connection status of a remote participant.
func (p *Presence) SetConnectionState(userID string, s ConnectionState) bool {
	return p.update(userID, func(rec *Participant) bool {
		if rec.ConnectionState == s {
			return false
		}
		rec.ConnectionState = s
		return true
	})
}

// AttachTrack adds a remote track to a participant.
func (p *Presence) AttachTrack(userID string, track *webrtc.TrackRemote) bool {
	return p.update(userID, func(rec *Participant) bool {
		rec.Tracks = append(rec.Tracks, track)
		return true
	})
}

// List returns a copy of every participant, local first then join order.
func (p *Presence) List() []Participant {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Participant, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.records[id].clone())
	}
	return out
}

// Get returns a copy of one participant.
func (p *Presence) Get(userID string) (Participant, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rec, ok := p.records[userID]
	if !ok {
		return Participant{}, false
	}
	return rec.clone(), true
}

// Len returns the number of participants including the local one.
func (p *Presence) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.order)
}

// Active returns the remote ids that are not disconnected.
func (p *Presence) Active() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []string
	for _, id := range p.order {
		rec := p.records[id]
		if !rec.Local && rec.ConnectionState != ConnectionDisconnected {
			out = append(out, id)
		}
	}
	return out
}

// RemoteCount returns the number of remote participants.
func (p *Presence) RemoteCount() int {
	return p.Len() - 1
}
