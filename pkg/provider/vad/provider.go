// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a block-level speech detector and surfaces it as a
// stateful, per-stream session. The session keeps a talk-activity countdown:
// a block judged as speech sets it to the configured hold, every other block
// decrements it towards zero. Consumers treat a non-zero activity as "a human
// is talking right now".
//
// VAD is synchronous: ProcessFrame returns immediately with a detection
// result, so it can run inside a real-time capture callback.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle is not safe for concurrent use; callers serialise
// access (the ducking mixer calls it under its own lock).
package vad

import (
	"errors"
	"fmt"
)

// Default detection parameters.
const (
	// DefaultThresholdDB is the peak level, in dBFS, at or above which a block
	// counts as speech.
	DefaultThresholdDB = -12.0

	// DefaultHold is the number of capture blocks the activity stays raised
	// after the last loud block.
	DefaultHold = 5
)

// Config holds the parameters for a VAD session.
type Config struct {
	// ThresholdDB is the peak level in dBFS at or above which a block is
	// classified as speech. Must be <= 0. Typical: -12.
	ThresholdDB float64

	// Hold is the activity value set by a loud block. Each following quiet block
	// decrements it by one. Must be >= 1. Typical: 5.
	Hold int
}

// Validate reports whether the configuration is usable.
func (c Config) Validate() error {
	var errs []error
	if c.ThresholdDB > 0 {
		errs = append(errs, fmt.Errorf("vad: threshold_db must be <= 0, got %v", c.ThresholdDB))
	}
	if c.Hold < 1 {
		errs = append(errs, fmt.Errorf("vad: hold must be >= 1, got %d", c.Hold))
	}
	return errors.Join(errs...)
}

// SessionHandle represents an active VAD session for a single audio stream. It is
// an interface so that test code can supply mock implementations without a live
// engine. Each session maintains its own detection state; Reset clears this state
// without closing the session.
type SessionHandle interface {
	// ProcessFrame analyses one capture block of mono PCM and returns the
	// detection result. Blocks of any length are accepted; an empty block is
	// treated as silence.
	//
	// This method is called from the capture callback; it must not block,
	// allocate or perform I/O.
	ProcessFrame(frame []int16) (VADEvent, error)

	// Activity returns the current talk-activity countdown in [0, Hold].
	Activity() int

	// Reset sets the activity back to zero without closing the session.
	Reset()

	// Close releases all resources associated with the session. After Close,
	// ProcessFrame returns an error. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may call
// NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration. The session
	// is immediately ready to accept audio frames.
	//
	// Returns an error if the configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
