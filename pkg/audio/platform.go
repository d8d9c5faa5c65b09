// Package audio defines the interfaces and types for audio device
// connectivity and playback mixing within chatvoice.
//
// The two primary abstractions are:
//
//   - [Callbacks]: the pair of real-time hooks the core implements. The
//     device invokes OnCaptureBuffer for every microphone block and
//     OnPlaybackBuffer whenever the output device needs the next block.
//   - [Device]: a platform adapter that opens a capture stream and a playback
//     stream in the pipeline [Format] and drives the registered [Callbacks]
//     from its own real-time threads until closed.
//
// Implementations of [Device] are provided by backend packages (e.g.,
// audio/portaudio). The interfaces are intentionally narrow so that the
// mixing core stays decoupled from the audio host API.
package audio

import (
	"context"
	"errors"
)

// ErrDeviceClosed is returned by [Device.Start] after [Device.Close] has been
// called.
var ErrDeviceClosed = errors.New("audio: device closed")

// Callbacks is the real-time contract between a [Device] and the mixing core.
//
// Both methods are called from device threads at a fixed cadence. They must
// never block on I/O, must not allocate unboundedly and must return quickly
// relative to the device period; a slow callback causes audible dropouts.
// The two callbacks are scheduled independently and may run concurrently.
type Callbacks interface {
	// OnPlaybackBuffer fills out with the next len(out) samples to play.
	OnPlaybackBuffer(out []int16)

	// OnCaptureBuffer consumes one block of captured microphone samples.
	// in is owned by the device and must not be retained.
	OnCaptureBuffer(in []int16)
}

// DeviceInfo describes one host audio endpoint.
type DeviceInfo struct {
	// Name is the host-reported device name.
	Name string

	// HostAPI names the host audio API (e.g., "ALSA", "Core Audio").
	HostAPI string

	// MaxInputChannels is zero for output-only devices.
	MaxInputChannels int

	// MaxOutputChannels is zero for capture-only devices.
	MaxOutputChannels int

	// DefaultSampleRate is the device's preferred rate in Hz.
	DefaultSampleRate float64
}

// Device opens a capture stream and a playback stream in the pipeline format
// and drives [Callbacks] from them.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// Start opens both streams and begins invoking cb. It returns once the
	// streams are running; callbacks continue until [Device.Close]. Failure to
	// open either stream is returned as an error and leaves nothing running.
	Start(ctx context.Context, cb Callbacks) error

	// Devices lists the host endpoints visible to the backend.
	Devices() ([]DeviceInfo, error)

	// Running reports whether both streams are currently active.
	Running() bool

	// Close stops both streams and releases host resources. It is safe to call
	// Close more than once; subsequent calls are no-ops and return nil.
	Close() error
}
