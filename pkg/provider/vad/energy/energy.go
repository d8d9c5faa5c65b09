// Package energy provides a pure-Go peak-level VAD engine.
//
// A block whose peak amplitude reaches the configured dBFS threshold raises
// the session's activity to Hold. Every other block decrements it, never
// below zero. There is no model and no state beyond the countdown, so the
// detector is cheap enough for a capture callback.
package energy

import (
	"errors"
	"sync/atomic"

	"github.com/MrWong99/chatvoice/pkg/audio"
	"github.com/MrWong99/chatvoice/pkg/provider/vad"
)

// ErrClosed is returned by ProcessFrame after Close.
var ErrClosed = errors.New("energy: session closed")

// Engine creates peak-level VAD sessions.
type Engine struct{}

// New returns an energy [Engine].
func New() *Engine { return &Engine{} }

// NewSession validates cfg and returns a fresh session with zero activity.
// Zero-valued fields fall back to [vad.DefaultThresholdDB] and [vad.DefaultHold].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.ThresholdDB == 0 {
		cfg.ThresholdDB = vad.DefaultThresholdDB
	}
	if cfg.Hold == 0 {
		cfg.Hold = vad.DefaultHold
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Session{threshold: cfg.ThresholdDB, hold: cfg.Hold}, nil
}

var _ vad.Engine = (*Engine)(nil)

// Session is a single peak-level detector. It is not safe for concurrent use.
type Session struct {
	threshold float64
	hold      int
	activity  int
	closed    atomic.Bool
}

var _ vad.SessionHandle = (*Session)(nil)

// ProcessFrame updates the activity countdown from frame.
func (s *Session) ProcessFrame(frame []int16) (vad.VADEvent, error) {
	if s.closed.Load() {
		return vad.VADEvent{Type: vad.VADSilence}, ErrClosed
	}
	peak := audio.PeakDBFS(frame)
	prev := s.activity

	var typ vad.VADEventType
	if peak >= s.threshold {
		s.activity = s.hold
		if prev == 0 {
			typ = vad.VADSpeechStart
		} else {
			typ = vad.VADSpeechContinue
		}
	} else {
		if s.activity > 0 {
			s.activity--
		}
		switch {
		case s.activity > 0:
			typ = vad.VADSpeechContinue
		case prev > 0:
			typ = vad.VADSpeechEnd
		default:
			typ = vad.VADSilence
		}
	}
	return vad.VADEvent{Type: typ, PeakDB: peak, Activity: s.activity}, nil
}

// Activity returns the current countdown.
func (s *Session) Activity() int { return s.activity }

// Reset zeroes the countdown.
func (s *Session) Reset() { s.activity = 0 }

// Close marks the session closed.
func (s *Session) Close() error {
	s.closed.Store(true)
	return nil
}
