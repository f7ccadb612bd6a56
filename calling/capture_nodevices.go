//go:build !(linux && devices)

/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import "context"

// DeviceCapturer reports no capture capability on this build.
// Build on linux with the "devices" tag to capture real devices.
type DeviceCapturer struct{}

// NewDeviceCapturer returns the platform device capturer.
func NewDeviceCapturer() *DeviceCapturer {
	return &DeviceCapturer{}
}

// Supported always reports false.
func (c *DeviceCapturer) Supported(bool) bool { return false }

// RequestCapture always fails with ErrDeviceNotFound.
func (c *DeviceCapturer) RequestCapture(context.Context, Constraints) ([]SampleSource, error) {
	return nil, ErrDeviceNotFound
}
