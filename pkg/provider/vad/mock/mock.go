// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to pin the talk activity a consumer observes and to inspect the
// blocks that were submitted for processing.
//
// Example:
//
//	sess := &mock.Session{}
//	sess.SetActivity(3)
//	eng := &mock.Engine{Session: sess}
//	handle, _ := eng.NewSession(cfg)
package mock

import (
	"sync"

	"github.com/MrWong99/chatvoice/pkg/provider/vad"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	// Cfg is the Config passed to NewSession.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by NewSession. If nil, NewSession
	// returns a new default Session.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// Session is a mock implementation of vad.SessionHandle. ProcessFrame never
// changes the activity; tests drive it with SetActivity.
type Session struct {
	mu sync.Mutex

	activity int

	// EventResult is returned by every ProcessFrame call. Its Activity field
	// is overwritten with the pinned activity.
	EventResult vad.VADEvent

	// ProcessFrameErr, if non-nil, is returned by every ProcessFrame call.
	ProcessFrameErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// Frames holds a copy of every block passed to ProcessFrame, in order.
	Frames [][]int16

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// SetActivity pins the value returned by Activity.
func (s *Session) SetActivity(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity = n
}

// ProcessFrame records the call and returns EventResult, ProcessFrameErr.
func (s *Session) ProcessFrame(frame []int16) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Frames = append(s.Frames, append([]int16(nil), frame...))
	ev := s.EventResult
	ev.Activity = s.activity
	return ev, s.ProcessFrameErr
}

// Activity returns the pinned activity.
func (s *Session) Activity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activity
}

// Reset records the call and clears the pinned activity.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
	s.activity = 0
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// FrameCount returns the number of ProcessFrame calls so far.
func (s *Session) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Frames)
}

// Ensure Session implements vad.SessionHandle at compile time.
var _ vad.SessionHandle = (*Session)(nil)
