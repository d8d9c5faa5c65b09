package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/chatvoice/pkg/audio"
	"github.com/MrWong99/chatvoice/pkg/provider/tts"
	"github.com/MrWong99/chatvoice/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tts   map[string]func(SynthesisConfig, audio.Format) (tts.Provider, error)
	vad   map[string]func(AudioConfig) (vad.Engine, error)
	audio map[string]func(AudioConfig) (audio.Device, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		tts:   make(map[string]func(SynthesisConfig, audio.Format) (tts.Provider, error)),
		vad:   make(map[string]func(AudioConfig) (vad.Engine, error)),
		audio: make(map[string]func(AudioConfig) (audio.Device, error)),
	}
}

// RegisterTTS registers a synthesis provider factory under name. The factory
// receives the pipeline format so it can request matching PCM.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTTS(name string, factory func(SynthesisConfig, audio.Format) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(AudioConfig) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterAudio registers an audio device factory under name.
func (r *Registry) RegisterAudio(name string, factory func(AudioConfig) (audio.Device, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// CreateTTS instantiates the synthesis provider named by cfg.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateTTS(cfg SynthesisConfig, f audio.Format) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg, f)
}

// CreateVAD instantiates the VAD engine named by cfg.VAD.
func (r *Registry) CreateVAD(cfg AudioConfig) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[cfg.VAD]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, cfg.VAD)
	}
	return factory(cfg)
}

// CreateAudio instantiates the audio device named by cfg.Device.
func (r *Registry) CreateAudio(cfg AudioConfig) (audio.Device, error) {
	r.mu.RLock()
	factory, ok := r.audio[cfg.Device]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, cfg.Device)
	}
	return factory(cfg)
}

// Format returns the pipeline PCM format described by cfg.
func (cfg AudioConfig) Format() audio.Format {
	return audio.Format{SampleRate: cfg.SampleRate, BlockSize: cfg.BlockSize}
}
