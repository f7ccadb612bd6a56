//go:build linux && devices

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
	"os"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

// DeviceCapturer captures the camera and microphone through pion/mediadevices
// (V4L2 and malgo) and encodes VP8 and Opus.
type DeviceCapturer struct {
	VideoBitRate int
	MaxWidth     int
	MaxHeight    int
}

// NewDeviceCapturer returns the platform device capturer.
func NewDeviceCapturer() *DeviceCapturer {
	return &DeviceCapturer{VideoBitRate: 1_500_000, MaxWidth: 640, MaxHeight: 480}
}

// Supported reports whether a microphone is present. Video falls back to
// audio only, so a camera is not required.
func (c *DeviceCapturer) Supported(bool) bool {
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind == mediadevices.AudioInput {
			return true
		}
	}
	return false
}

// RequestCapture opens the devices, trying video+audio before audio only.
func (c *DeviceCapturer) RequestCapture(ctx context.Context, cons Constraints) ([]SampleSource, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = c.VideoBitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	attempts := []Constraints{cons}
	if cons.Video && cons.Audio {
		attempts = append(attempts, Constraints{Audio: true})
	}

	var lastErr error
	for _, a := range attempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stream, err := mediadevices.GetUserMedia(c.streamConstraints(selector, a))
		if err != nil {
			log.Warn().Err(err).Bool("video", a.Video).Msg("GetUserMedia failed")
			lastErr = err
			continue
		}

		var out []SampleSource
		for _, track := range stream.GetTracks() {
			src, err := newDeviceSource(track)
			if err != nil {
				log.Warn().Err(err).Str("kind", track.Kind().String()).Msg("failed to open encoded reader")
				track.Close()
				continue
			}
			out = append(out, src)
		}
		if len(out) > 0 {
			return out, nil
		}
		lastErr = ErrDeviceNotFound
	}
	return nil, mapCaptureError(lastErr)
}

func (c *DeviceCapturer) streamConstraints(selector *mediadevices.CodecSelector, a Constraints) mediadevices.MediaStreamConstraints {
	out := mediadevices.MediaStreamConstraints{Codec: selector}
	if a.Video {
		out.Video = func(mc *mediadevices.MediaTrackConstraints) {
			// MJPEG nodes on some cameras produce frames the VP8 encoder rejects.
			mc.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			mc.Width = prop.IntRanged{Max: c.MaxWidth}
			mc.Height = prop.IntRanged{Max: c.MaxHeight}
		}
	}
	if a.Audio {
		out.Audio = func(*mediadevices.MediaTrackConstraints) {}
	}
	return out
}

func mapCaptureError(err error) error {
	switch {
	case err == nil:
		return ErrDeviceNotFound
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case errors.Is(err, ErrDeviceNotFound):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	}
}

type deviceSource struct {
	track  mediadevices.Track
	reader mediadevices.EncodedReadCloser
	codec  webrtc.RTPCodecCapability
}

func newDeviceSource(track mediadevices.Track) (*deviceSource, error) {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	reader, err := track.NewEncodedReader(codec.MimeType)
	if err != nil {
		return nil, err
	}
	return &deviceSource{track: track, reader: reader, codec: codec}, nil
}

func (s *deviceSource) Kind() webrtc.RTPCodecType        { return s.track.Kind() }
func (s *deviceSource) Codec() webrtc.RTPCodecCapability { return s.codec }

func (s *deviceSource) ReadSample() (media.Sample, error) {
	buf, release, err := s.reader.Read()
	if err != nil {
		return media.Sample{}, err
	}
	defer release()
	data := make([]byte, len(buf.Data))
	copy(data, buf.Data)
	return media.Sample{
		Data:     data,
		Duration: time.Duration(buf.Samples) * time.Second / time.Duration(s.codec.ClockRate),
	}, nil
}

func (s *deviceSource) Close() error {
	err := s.reader.Close()
	if cerr := s.track.Close(); err == nil {
		err = cerr
	}
	return err
}
