// Package mock provides in-memory mock implementations of the [audio.Device]
// and [audio.Mixer] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	dev := &mock.Device{}
//	_ = dev.Start(ctx, mixer)
//	out := dev.Playback(4096)   // drives OnPlaybackBuffer once
//	dev.Capture(micBlock)       // drives OnCaptureBuffer once
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/chatvoice/pkg/audio"
)

// ─── Device ──────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device]. Nothing runs in the
// background; the test drives the registered callbacks with [Device.Playback]
// and [Device.Capture].
type Device struct {
	mu sync.Mutex

	cb      audio.Callbacks
	running bool
	closed  bool

	// StartError is returned by [Device.Start] when non-nil.
	StartError error

	// DevicesResult is returned by [Device.Devices].
	DevicesResult []audio.DeviceInfo

	// DevicesError is returned by [Device.Devices].
	DevicesError error

	// CloseError is returned by [Device.Close].
	CloseError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Start implements [audio.Device]. It records cb for later driving.
func (d *Device) Start(_ context.Context, cb audio.Callbacks) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStart++
	if d.closed {
		return audio.ErrDeviceClosed
	}
	if d.StartError != nil {
		return d.StartError
	}
	d.cb = cb
	d.running = true
	return nil
}

// Devices implements [audio.Device].
func (d *Device) Devices() ([]audio.DeviceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.DevicesResult, d.DevicesError
}

// Running implements [audio.Device].
func (d *Device) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Close implements [audio.Device].
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	d.running = false
	d.closed = true
	return d.CloseError
}

// Playback invokes OnPlaybackBuffer with an n-sample block and returns it.
// It returns nil when the device is not running.
func (d *Device) Playback(n int) []int16 {
	cb := d.callbacks()
	if cb == nil {
		return nil
	}
	out := make([]int16, n)
	cb.OnPlaybackBuffer(out)
	return out
}

// Capture invokes OnCaptureBuffer with in. It is a no-op when the device is
// not running.
func (d *Device) Capture(in []int16) {
	if cb := d.callbacks(); cb != nil {
		cb.OnCaptureBuffer(in)
	}
}

func (d *Device) callbacks() audio.Callbacks {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return nil
	}
	return d.cb
}

// ─── Mixer ───────────────────────────────────────────────────────────────────

// Mixer is a mock implementation of [audio.Mixer] that records every mixed
// utterance.
type Mixer struct {
	mu sync.Mutex

	// MixResult is returned by every Mix call.
	MixResult audio.MixMode

	// StatsResult is returned by Stats.
	StatsResult audio.MixerStats

	// MixCalls records every utterance passed to Mix, in order.
	MixCalls []audio.Utterance

	// PlaybackCalls counts OnPlaybackBuffer invocations.
	PlaybackCalls int

	// CaptureCalls counts OnCaptureBuffer invocations.
	CaptureCalls int
}

// Mix implements [audio.Mixer].
func (m *Mixer) Mix(u audio.Utterance) audio.MixMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MixCalls = append(m.MixCalls, u)
	return m.MixResult
}

// Stats implements [audio.Mixer].
func (m *Mixer) Stats() audio.MixerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.StatsResult
}

// OnPlaybackBuffer implements [audio.Callbacks] by emitting silence.
func (m *Mixer) OnPlaybackBuffer(out []int16) {
	m.mu.Lock()
	m.PlaybackCalls++
	m.mu.Unlock()
	clear(out)
}

// OnCaptureBuffer implements [audio.Callbacks].
func (m *Mixer) OnCaptureBuffer([]int16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CaptureCalls++
}

// Mixed returns a copy of the recorded utterances.
func (m *Mixer) Mixed() []audio.Utterance {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]audio.Utterance, len(m.MixCalls))
	copy(out, m.MixCalls)
	return out
}

var (
	_ audio.Device = (*Device)(nil)
	_ audio.Mixer  = (*Mixer)(nil)
)
