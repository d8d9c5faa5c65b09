// Package null provides a headless [audio.Device] that drives the callbacks
// from a ticker at the block cadence. Capture always delivers silence;
// playback is discarded or, with [WithSink], written out as little-endian
// PCM.
package null

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/chatvoice/pkg/audio"
)

var _ audio.Device = (*Device)(nil)

// Option configures a [Device].
type Option func(*Device)

// WithFormat sets the block format. Default: [audio.DefaultFormat].
func WithFormat(f audio.Format) Option {
	return func(d *Device) { d.format = f }
}

// WithSink writes every playback block to w.
func WithSink(w io.Writer) Option {
	return func(d *Device) { d.sink = w }
}

// WithTick overrides the callback period. Default: one block at the format's
// sample rate.
func WithTick(p time.Duration) Option {
	return func(d *Device) { d.tick = p }
}

// Device is a clock-driven [audio.Device] with no host audio.
type Device struct {
	format audio.Format
	sink   io.Writer
	tick   time.Duration

	mu      sync.Mutex
	running bool
	closed  bool
	stop    chan struct{}
	done    chan struct{}
}

// New returns an unstarted null Device.
func New(opts ...Option) *Device {
	d := &Device{format: audio.DefaultFormat}
	for _, o := range opts {
		o(d)
	}
	if d.tick <= 0 {
		d.tick = d.format.Duration(d.format.BlockSize)
	}
	return d
}

// Start launches the clock goroutine.
func (d *Device) Start(_ context.Context, cb audio.Callbacks) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return audio.ErrDeviceClosed
	}
	if d.running {
		return errors.New("null: already started")
	}
	if d.tick <= 0 || d.format.BlockSize <= 0 {
		return errors.New("null: invalid format")
	}
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	d.running = true
	go d.loop(cb, d.stop, d.done)
	return nil
}

func (d *Device) loop(cb audio.Callbacks, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	in := make([]int16, d.format.BlockSize)
	out := make([]int16, d.format.BlockSize)
	t := time.NewTicker(d.tick)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}
		cb.OnCaptureBuffer(in)
		cb.OnPlaybackBuffer(out)
		if d.sink != nil {
			if _, err := d.sink.Write(audio.SamplesToBytes(out)); err != nil {
				slog.Warn("null device sink write failed, disabling sink", "err", err)
				d.sink = nil
			}
		}
	}
}

// Devices reports a single virtual endpoint.
func (d *Device) Devices() ([]audio.DeviceInfo, error) {
	return []audio.DeviceInfo{{
		Name:              "null",
		HostAPI:           "none",
		MaxInputChannels:  1,
		MaxOutputChannels: 1,
		DefaultSampleRate: float64(d.format.SampleRate),
	}}, nil
}

// Running reports whether the clock goroutine is active.
func (d *Device) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Close stops the clock and waits for the in-flight callback to return.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	stop, done, running := d.stop, d.done, d.running
	d.running = false
	d.mu.Unlock()

	if running {
		close(stop)
		<-done
	}
	return nil
}
