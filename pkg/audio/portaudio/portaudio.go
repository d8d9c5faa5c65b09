// Package portaudio implements [audio.Device] on top of the PortAudio host
// library via github.com/gordonklaus/portaudio.
//
// Capture and playback run as two independent mono int16 streams in the
// pipeline format, each driving its half of [audio.Callbacks] from the
// PortAudio callback thread. Build requires the PortAudio C library
// (portaudio19-dev on Debian, brew install portaudio on macOS).
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/chatvoice/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Device = (*Device)(nil)

// Option configures a [Device].
type Option func(*Device)

// WithFormat sets the stream format. Default: [audio.DefaultFormat].
func WithFormat(f audio.Format) Option {
	return func(d *Device) { d.format = f }
}

// WithInputDevice selects the capture endpoint by case-insensitive name
// substring. Empty selects the host default.
func WithInputDevice(name string) Option {
	return func(d *Device) { d.inputName = name }
}

// WithOutputDevice selects the playback endpoint by case-insensitive name
// substring. Empty selects the host default.
func WithOutputDevice(name string) Option {
	return func(d *Device) { d.outputName = name }
}

// Device is a PortAudio-backed [audio.Device].
type Device struct {
	format     audio.Format
	inputName  string
	outputName string

	mu      sync.Mutex
	in      *pa.Stream
	out     *pa.Stream
	running bool
	closed  bool
}

// New initializes PortAudio and returns an unstarted Device. The caller must
// Close it to release the host library.
func New(opts ...Option) (*Device, error) {
	d := &Device{format: audio.DefaultFormat}
	for _, o := range opts {
		o(d)
	}
	if d.format.SampleRate <= 0 || d.format.BlockSize <= 0 {
		return nil, fmt.Errorf("portaudio: invalid format %+v", d.format)
	}
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return d, nil
}

// Start opens the capture and playback streams and starts them. Either
// stream failing to open or start tears down both.
func (d *Device) Start(ctx context.Context, cb audio.Callbacks) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return audio.ErrDeviceClosed
	}
	if d.running {
		return errors.New("portaudio: already started")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	inDev, err := d.pick(d.inputName, true)
	if err != nil {
		return err
	}
	outDev, err := d.pick(d.outputName, false)
	if err != nil {
		return err
	}

	in, err := pa.OpenStream(d.params(inDev, true), func(buf []int16) { cb.OnCaptureBuffer(buf) })
	if err != nil {
		return fmt.Errorf("portaudio: open capture stream on %q: %w", inDev.Name, err)
	}
	out, err := pa.OpenStream(d.params(outDev, false), func(buf []int16) { cb.OnPlaybackBuffer(buf) })
	if err != nil {
		_ = in.Close()
		return fmt.Errorf("portaudio: open playback stream on %q: %w", outDev.Name, err)
	}

	if err := in.Start(); err != nil {
		_ = in.Close()
		_ = out.Close()
		return fmt.Errorf("portaudio: start capture: %w", err)
	}
	if err := out.Start(); err != nil {
		_ = in.Stop()
		_ = in.Close()
		_ = out.Close()
		return fmt.Errorf("portaudio: start playback: %w", err)
	}

	d.in, d.out, d.running = in, out, true
	slog.Info("audio streams started",
		"input", inDev.Name,
		"output", outDev.Name,
		"sample_rate", d.format.SampleRate,
		"block_size", d.format.BlockSize,
	)
	return nil
}

// Devices lists every endpoint PortAudio can see.
func (d *Device) Devices() ([]audio.DeviceInfo, error) {
	devs, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	out := make([]audio.DeviceInfo, 0, len(devs))
	for _, dev := range devs {
		info := audio.DeviceInfo{
			Name:              dev.Name,
			MaxInputChannels:  dev.MaxInputChannels,
			MaxOutputChannels: dev.MaxOutputChannels,
			DefaultSampleRate: dev.DefaultSampleRate,
		}
		if dev.HostApi != nil {
			info.HostAPI = dev.HostApi.Name
		}
		out = append(out, info)
	}
	return out, nil
}

// Running reports whether both streams are active.
func (d *Device) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Close stops both streams and terminates PortAudio.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	var errs []error
	for _, s := range []*pa.Stream{d.out, d.in} {
		if s == nil {
			continue
		}
		if d.running {
			if err := s.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("portaudio: stop stream: %w", err))
			}
		}
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: close stream: %w", err))
		}
	}
	d.running = false
	d.in, d.out = nil, nil
	if err := pa.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: terminate: %w", err))
	}
	return errors.Join(errs...)
}

func (d *Device) params(dev *pa.DeviceInfo, input bool) pa.StreamParameters {
	var p pa.StreamParameters
	if input {
		p = pa.LowLatencyParameters(dev, nil)
		p.Input.Channels = 1
	} else {
		p = pa.LowLatencyParameters(nil, dev)
		p.Output.Channels = 1
	}
	p.SampleRate = float64(d.format.SampleRate)
	p.FramesPerBuffer = d.format.BlockSize
	return p
}

// pick resolves name to a device with channels in the wanted direction.
func (d *Device) pick(name string, input bool) (*pa.DeviceInfo, error) {
	if name == "" {
		var (
			dev *pa.DeviceInfo
			err error
		)
		if input {
			dev, err = pa.DefaultInputDevice()
		} else {
			dev, err = pa.DefaultOutputDevice()
		}
		if err != nil {
			return nil, fmt.Errorf("portaudio: default %s device: %w", direction(input), err)
		}
		return dev, nil
	}

	devs, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	return match(devs, name, input)
}

func match(devs []*pa.DeviceInfo, name string, input bool) (*pa.DeviceInfo, error) {
	want := strings.ToLower(name)
	for _, dev := range devs {
		channels := dev.MaxOutputChannels
		if input {
			channels = dev.MaxInputChannels
		}
		if channels > 0 && strings.Contains(strings.ToLower(dev.Name), want) {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("portaudio: no %s device matching %q", direction(input), name)
}

func direction(input bool) string {
	if input {
		return "input"
	}
	return "output"
}
