/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

var (
	// Opus DTX silence frame.
	opusSilence = []byte{0xf8, 0xff, 0xfe}

	// Placeholder VP8 payload with a keyframe header.
	vp8Placeholder = []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x10, 0x00, 0x10, 0x00, 0x00, 0x47, 0x08, 0x85, 0x85, 0x88}
)

// SyntheticCapturer produces silent audio and placeholder video at a fixed
// cadence. It needs no devices and is used on headless hosts.
type SyntheticCapturer struct {
	AudioInterval time.Duration
	VideoInterval time.Duration
}

// NewSyntheticCapturer returns a capturer with 20ms audio and ~30fps video.
func NewSyntheticCapturer() *SyntheticCapturer {
	return &SyntheticCapturer{
		AudioInterval: 20 * time.Millisecond,
		VideoInterval: 33 * time.Millisecond,
	}
}

// Supported always reports true.
func (c *SyntheticCapturer) Supported(bool) bool { return true }

// RequestCapture returns one source per requested kind.
func (c *SyntheticCapturer) RequestCapture(ctx context.Context, cons Constraints) ([]SampleSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []SampleSource
	if cons.Audio {
		out = append(out, newSyntheticSource(webrtc.RTPCodecTypeAudio,
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			opusSilence, c.AudioInterval))
	}
	if cons.Video {
		out = append(out, newSyntheticSource(webrtc.RTPCodecTypeVideo,
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			vp8Placeholder, c.VideoInterval))
	}
	return out, nil
}

type syntheticSource struct {
	kind     webrtc.RTPCodecType
	codec    webrtc.RTPCodecCapability
	frame    []byte
	interval time.Duration
	ticker   *time.Ticker

	once sync.Once
	done chan struct{}
}

func newSyntheticSource(kind webrtc.RTPCodecType, codec webrtc.RTPCodecCapability, frame []byte, interval time.Duration) *syntheticSource {
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	return &syntheticSource{
		kind:     kind,
		codec:    codec,
		frame:    frame,
		interval: interval,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
	}
}

func (s *syntheticSource) Kind() webrtc.RTPCodecType        { return s.kind }
func (s *syntheticSource) Codec() webrtc.RTPCodecCapability { return s.codec }

func (s *syntheticSource) ReadSample() (media.Sample, error) {
	select {
	case <-s.done:
		return media.Sample{}, io.EOF
	case <-s.ticker.C:
		return media.Sample{Data: s.frame, Duration: s.interval}, nil
	}
}

func (s *syntheticSource) Close() error {
	s.once.Do(func() {
		s.ticker.Stop()
		close(s.done)
	})
	return nil
}
