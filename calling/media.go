/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
)

var (
	// ErrPermissionDenied is returned by a Capturer when device access was refused.
	ErrPermissionDenied = errors.New("capture permission denied")

	// ErrDeviceNotFound is returned by a Capturer when no matching device exists.
	ErrDeviceNotFound = errors.New("capture device not found")
)

// Constraints selects which kinds of capture are requested.
type Constraints struct {
	Audio bool
	Video bool
}

// SampleSource produces encoded media samples for one local track.
// ReadSample blocks until a sample is ready and fails after Close.
type SampleSource interface {
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecCapability
	ReadSample() (media.Sample, error)
	Close() error
}

// Capturer opens local capture devices.
type Capturer interface {
	// Supported reports whether a capture capability exists at all.
	Supported(wantsVideo bool) bool

	// RequestCapture opens the requested devices. It may return fewer
	// sources than requested when a kind is unavailable.
	RequestCapture(ctx context.Context, c Constraints) ([]SampleSource, error)
}

// LocalTrack is one shared local track. The same instance is attached to
// every transport; disabling it stops samples for all of them.
type LocalTrack struct {
	track   *webrtc.TrackLocalStaticSample
	source  SampleSource
	enabled atomic.Bool

	stopOnce sync.Once
	done     chan struct{}
	logger   zerolog.Logger
}

func newLocalTrack(src SampleSource, streamID string, logger zerolog.Logger) (*LocalTrack, error) {
	kind := src.Kind()
	track, err := webrtc.NewTrackLocalStaticSample(src.Codec(), kind.String(), streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s track: %w", kind, err)
	}
	t := &LocalTrack{
		track:  track,
		source: src,
		done:   make(chan struct{}),
		logger: logger.With().Str("track", kind.String()).Logger(),
	}
	t.enabled.Store(true)
	go t.pump()
	return t, nil
}

// pump copies samples from the source into the track while enabled.
func (t *LocalTrack) pump() {
	defer close(t.done)
	for {
		sample, err := t.source.ReadSample()
		if err != nil {
			t.logger.Debug().Err(err).Msg("local sample source stopped")
			return
		}
		if !t.enabled.Load() {
			continue
		}
		if err := t.track.WriteSample(sample); err != nil {
			t.logger.Debug().Err(err).Msg("failed to write local sample")
		}
	}
}

// Track returns the pion track to attach to a peer connection.
func (t *LocalTrack) Track() *webrtc.TrackLocalStaticSample {
	return t.track
}

// Kind returns audio or video.
func (t *LocalTrack) Kind() webrtc.RTPCodecType {
	return t.source.Kind()
}

// Enabled reports whether samples are flowing.
func (t *LocalTrack) Enabled() bool {
	return t.enabled.Load()
}

// SetEnabled gates the sample pump.
func (t *LocalTrack) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
}

func (t *LocalTrack) stop() error {
	var err error
	t.stopOnce.Do(func() {
		err = t.source.Close()
		<-t.done
	})
	return err
}

// LocalMedia is the handle for the tracks of one call.
type LocalMedia struct {
	Audio *LocalTrack
	Video *LocalTrack
}

// Tracks returns the tracks present, audio first.
func (m *LocalMedia) Tracks() []*LocalTrack {
	var out []*LocalTrack
	if m.Audio != nil {
		out = append(out, m.Audio)
	}
	if m.Video != nil {
		out = append(out, m.Video)
	}
	return out
}

// MediaSource acquires and releases the local capture for one call.
type MediaSource struct {
	capturer Capturer
	streamID string
	logger   zerolog.Logger

	mu       sync.Mutex
	handle   *LocalMedia
	released bool
}

// NewMediaSource creates a media source backed by capturer.
func NewMediaSource(capturer Capturer, streamID string, logger zerolog.Logger) *MediaSource {
	return &MediaSource{
		capturer: capturer,
		streamID: streamID,
		logger:   logger.With().Str("component", "media").Logger(),
	}
}

// Supported reports whether the capturer can serve the request.
func (s *MediaSource) Supported(wantsVideo bool) bool {
	return s.capturer != nil && s.capturer.Supported(wantsVideo)
}

// Acquire opens audio, and video when wantsVideo, and returns the handle.
// While a handle is held further calls return it unchanged.
func (s *MediaSource) Acquire(ctx context.Context, wantsVideo bool) (*LocalMedia, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil {
		return s.handle, nil
	}
	if s.released {
		return nil, fmt.Errorf("media source already released")
	}
	if s.capturer == nil {
		return nil, ErrDeviceNotFound
	}

	sources, err := s.capturer.RequestCapture(ctx, Constraints{Audio: true, Video: wantsVideo})
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, ErrDeviceNotFound
	}

	handle := &LocalMedia{}
	for _, src := range sources {
		var slot **LocalTrack
		switch src.Kind() {
		case webrtc.RTPCodecTypeAudio:
			slot = &handle.Audio
		case webrtc.RTPCodecTypeVideo:
			slot = &handle.Video
		}
		if slot == nil || *slot != nil {
			src.Close()
			continue
		}
		track, err := newLocalTrack(src, s.streamID, s.logger)
		if err != nil {
			src.Close()
			releaseTracks(handle)
			return nil, err
		}
		*slot = track
	}
	if handle.Audio == nil && handle.Video == nil {
		return nil, ErrDeviceNotFound
	}
	if wantsVideo && handle.Video == nil {
		s.logger.Warn().Msg("video capture unavailable, continuing with audio only")
	}

	s.handle = handle
	s.logger.Info().Int("tracks", len(handle.Tracks())).Msg("local media acquired")
	return handle, nil
}

// Handle returns the current handle, or nil.
func (s *MediaSource) Handle() *LocalMedia {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// SetTrackEnabled gates one kind of track. It reports false when no such track is held.
func (s *MediaSource) SetTrackEnabled(kind webrtc.RTPCodecType, enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return false
	}
	var t *LocalTrack
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		t = s.handle.Audio
	case webrtc.RTPCodecTypeVideo:
		t = s.handle.Video
	}
	if t == nil {
		return false
	}
	t.SetEnabled(enabled)
	return true
}

// Release stops every track. Only the first call has an effect.
func (s *MediaSource) Release() {
	s.mu.Lock()
	handle := s.handle
	already := s.released
	s.handle = nil
	s.released = true
	s.mu.Unlock()

	if already || handle == nil {
		return
	}
	releaseTracks(handle)
	s.logger.Info().Msg("local media released")
}

func releaseTracks(m *LocalMedia) {
	for _, t := range m.Tracks() {
		t.stop()
	}
}
