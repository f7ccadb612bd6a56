/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
	"github.com/tejzpr/meshcall-go-sdk/signaling"
)

// ---- Peer connection fakes ----

type fakePC struct {
	mu           sync.Mutex
	offerOptions []*webrtc.OfferOptions
	local        []webrtc.SessionDescription
	remote       []webrtc.SessionDescription
	ops          []string
	tracks       int
	closes       int
	state        webrtc.PeerConnectionState
	setRemoteErr error

	onCandidate func(*webrtc.ICECandidate)
	onState     func(webrtc.PeerConnectionState)
}

func (p *fakePC) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks++
	return nil, nil
}

func (p *fakePC) CreateOffer(opts *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offerOptions = append(p.offerOptions, opts)
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", len(p.offerOptions))}, nil
}

func (p *fakePC) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (p *fakePC) SetLocalDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = append(p.local, d)
	p.ops = append(p.ops, "local:"+d.Type.String())
	return nil
}

func (p *fakePC) SetRemoteDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.setRemoteErr != nil {
		return p.setRemoteErr
	}
	p.remote = append(p.remote, d)
	p.ops = append(p.ops, "remote:"+d.Type.String())
	return nil
}

func (p *fakePC) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops = append(p.ops, "candidate:"+c.Candidate)
	return nil
}

func (p *fakePC) OnICECandidate(f func(*webrtc.ICECandidate)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCandidate = f
}

func (p *fakePC) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (p *fakePC) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = f
}

func (p *fakePC) ConnectionState() webrtc.PeerConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePC) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

// fire reports a connection state change the way pion would.
func (p *fakePC) fire(s webrtc.PeerConnectionState) {
	p.mu.Lock()
	p.state = s
	f := p.onState
	p.mu.Unlock()
	if f != nil {
		f(s)
	}
}

func (p *fakePC) opLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ops...)
}

func (p *fakePC) restartOffers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, o := range p.offerOptions {
		if o != nil && o.ICERestart {
			n++
		}
	}
	return n
}

func (p *fakePC) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

type fakeFactory struct {
	mu  sync.Mutex
	pcs []*fakePC
	err error
}

func (f *fakeFactory) NewPeerConnection(webrtc.Configuration) (PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	pc := &fakePC{state: webrtc.PeerConnectionStateNew}
	f.pcs = append(f.pcs, pc)
	return pc, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pcs)
}

func fakeOf(t *PeerTransport) *fakePC {
	return t.pc.(*fakePC)
}

// ---- Capture fakes ----

type fakeSource struct {
	kind     webrtc.RTPCodecType
	once     sync.Once
	done     chan struct{}
	releases *atomic.Int32
}

func (s *fakeSource) Kind() webrtc.RTPCodecType { return s.kind }

func (s *fakeSource) Codec() webrtc.RTPCodecCapability {
	if s.kind == webrtc.RTPCodecTypeVideo {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
}

func (s *fakeSource) ReadSample() (media.Sample, error) {
	<-s.done
	return media.Sample{}, io.EOF
}

func (s *fakeSource) Close() error {
	s.once.Do(func() {
		s.releases.Add(1)
		close(s.done)
	})
	return nil
}

type fakeCapturer struct {
	unsupported bool
	noVideo     bool
	err         error
	requests    atomic.Int32
	releases    atomic.Int32
}

func (c *fakeCapturer) Supported(bool) bool { return !c.unsupported }

func (c *fakeCapturer) RequestCapture(_ context.Context, cons Constraints) ([]SampleSource, error) {
	c.requests.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	var out []SampleSource
	if cons.Audio {
		out = append(out, &fakeSource{kind: webrtc.RTPCodecTypeAudio, done: make(chan struct{}), releases: &c.releases})
	}
	if cons.Video && !c.noVideo {
		out = append(out, &fakeSource{kind: webrtc.RTPCodecTypeVideo, done: make(chan struct{}), releases: &c.releases})
	}
	return out, nil
}

// ---- Signaler fake ----

type sentMsg struct {
	Name      string
	ChatID    string
	Target    string
	Reason    string
	Flag      bool
	Desc      webrtc.SessionDescription
	Candidate webrtc.ICECandidateInit
}

type fakeSignaler struct {
	localID   string
	localName string

	mu          sync.Mutex
	subs        map[int]chan *signaling.Event
	nextSub     int
	sent        []sentMsg
	snapshot    []signaling.ParticipantInfo
	initiateErr error
	ringing     int
	acceptErr   error
	joinErr     error

	// joinGate holds JoinCall until closed. With joinHonorsCtx a canceled
	// request context releases it early.
	joinGate      chan struct{}
	joinHonorsCtx bool
	joinEntered   chan struct{}
}

func newFakeSignaler(localID string) *fakeSignaler {
	return &fakeSignaler{
		localID:   localID,
		localName: "name-" + localID,
		subs:      make(map[int]chan *signaling.Event),
		snapshot:  []signaling.ParticipantInfo{{UserID: localID, Username: "name-" + localID}},
	}
}

func (s *fakeSignaler) LocalID() string   { return s.localID }
func (s *fakeSignaler) LocalName() string { return s.localName }

func (s *fakeSignaler) Subscribe() (<-chan *signaling.Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan *signaling.Event, 64)
	s.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

func (s *fakeSignaler) push(ev *signaling.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		ch <- ev
	}
}

func (s *fakeSignaler) subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *fakeSignaler) record(m sentMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, m)
}

func (s *fakeSignaler) messages(name string) []sentMsg {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sentMsg
	for _, m := range s.sent {
		if m.Name == name {
			out = append(out, m)
		}
	}
	return out
}

func (s *fakeSignaler) InitiateCall(_ context.Context, chatID string, _ MediaType) (int, error) {
	s.record(sentMsg{Name: signaling.MsgInitiateCall, ChatID: chatID})
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ringing, s.initiateErr
}

func (s *fakeSignaler) AcceptCall(_ context.Context, chatID, callerID string) error {
	s.record(sentMsg{Name: signaling.MsgAcceptCall, ChatID: chatID, Target: callerID})
	return s.acceptErr
}

func (s *fakeSignaler) RejectCall(_ context.Context, chatID, callerID, reason string) error {
	s.record(sentMsg{Name: signaling.MsgRejectCall, ChatID: chatID, Target: callerID, Reason: reason})
	return nil
}

func (s *fakeSignaler) JoinCall(ctx context.Context, chatID string) ([]signaling.ParticipantInfo, error) {
	s.record(sentMsg{Name: signaling.MsgJoinCall, ChatID: chatID})
	s.mu.Lock()
	gate, honorsCtx, entered := s.joinGate, s.joinHonorsCtx, s.joinEntered
	s.mu.Unlock()
	if gate != nil {
		if entered != nil {
			close(entered)
		}
		if honorsCtx {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		} else {
			<-gate
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot, s.joinErr
}

func (s *fakeSignaler) LeaveCall(_ context.Context, chatID string) error {
	s.record(sentMsg{Name: signaling.MsgLeaveCall, ChatID: chatID})
	return nil
}

func (s *fakeSignaler) SendOffer(_ context.Context, chatID, target string, d webrtc.SessionDescription) error {
	s.record(sentMsg{Name: signaling.MsgOffer, ChatID: chatID, Target: target, Desc: d})
	return nil
}

func (s *fakeSignaler) SendAnswer(_ context.Context, chatID, target string, d webrtc.SessionDescription) error {
	s.record(sentMsg{Name: signaling.MsgAnswer, ChatID: chatID, Target: target, Desc: d})
	return nil
}

func (s *fakeSignaler) SendCandidate(_ context.Context, chatID, target string, c webrtc.ICECandidateInit) error {
	s.record(sentMsg{Name: signaling.MsgICECandidate, ChatID: chatID, Target: target, Candidate: c})
	return nil
}

func (s *fakeSignaler) ToggleAudio(_ context.Context, chatID string, muted bool) error {
	s.record(sentMsg{Name: signaling.MsgToggleAudio, ChatID: chatID, Flag: muted})
	return nil
}

func (s *fakeSignaler) ToggleVideo(_ context.Context, chatID string, videoOff bool) error {
	s.record(sentMsg{Name: signaling.MsgToggleVideo, ChatID: chatID, Flag: videoOff})
	return nil
}

// holdJoin makes the next JoinCall block. The returned channel is closed once
// JoinCall is in flight; release unblocks it.
func (s *fakeSignaler) holdJoin(honorsCtx bool) (entered <-chan struct{}, release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gate := make(chan struct{})
	in := make(chan struct{})
	s.joinGate, s.joinHonorsCtx, s.joinEntered = gate, honorsCtx, in
	var once sync.Once
	return in, func() { once.Do(func() { close(gate) }) }
}

// ---- Helpers ----

type recordingNotifier struct {
	mu   sync.Mutex
	errs []*CallError
}

func (n *recordingNotifier) Notify(err *CallError) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errs = append(n.errs, err)
}

func (n *recordingNotifier) kinds() []ErrorKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []ErrorKind
	for _, e := range n.errs {
		out = append(out, e.Kind)
	}
	return out
}

func (n *recordingNotifier) has(kind ErrorKind) bool {
	for _, k := range n.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

type harness struct {
	signaler *fakeSignaler
	factory  *fakeFactory
	capturer *fakeCapturer
	notifier *recordingNotifier
	client   *CallingClient
}

func newHarness(t *testing.T, localID string) *harness {
	t.Helper()
	nop := zerolog.Nop()
	h := &harness{
		signaler: newFakeSignaler(localID),
		factory:  &fakeFactory{},
		capturer: &fakeCapturer{},
		notifier: &recordingNotifier{},
	}
	h.client = NewCallingClient(h.signaler, &Config{
		Capturer:              h.capturer,
		PeerConnectionFactory: h.factory,
		Notifier:              h.notifier,
		RingTimeout:           time.Minute,
		RelayTimeout:          time.Second,
		RestartTimeout:        50 * time.Millisecond,
		Logger:                &nop,
	})
	h.client.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		h.client.Shutdown(ctx)
	})
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func transportFor(t *testing.T, call *Call, userID string) *PeerTransport {
	t.Helper()
	var tr *PeerTransport
	waitFor(t, "transport for "+userID, func() bool {
		tr = call.getRegistry().Get(userID)
		return tr != nil
	})
	return tr
}
