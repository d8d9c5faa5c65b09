// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a remote speech synthesis service and presents a
// uniform request/response interface: one SSML document in, one complete
// mono PCM waveform out. Authentication is bearer-token based; the token is
// owned by the caller and passed on every request so that the caller decides
// when to refresh it.
//
// Synthesis outcomes are reported as a tagged [Result] rather than a bare
// error, because an expired token is an expected, recoverable outcome that
// the caller handles with a refresh and a retry.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Status classifies the outcome of a synthesis request.
type Status int

const (
	// StatusOK means PCM holds the synthesized waveform.
	StatusOK Status = iota

	// StatusAuthExpired means the service rejected the bearer token (HTTP 401).
	// The caller should obtain a fresh token and retry.
	StatusAuthExpired

	// StatusFailed covers every other failure: transport errors, non-success
	// responses, empty or malformed audio.
	StatusFailed
)

// String returns the status name used in logs and metric attributes.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusAuthExpired:
		return "auth_expired"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Request is a single synthesis call.
type Request struct {
	// Token is the bearer token presented to the service.
	Token string

	// Voice is the provider voice identifier (e.g., "en-US-AriaRUS").
	Voice string

	// SSML is the complete speech markup document.
	SSML string
}

// Result is the tagged outcome of [Provider.Synthesize].
type Result struct {
	// Status classifies the outcome.
	Status Status

	// PCM is little-endian decoded signed 16-bit mono audio at the provider's
	// configured sample rate. Only set when Status is StatusOK.
	PCM []int16

	// Err describes the failure for StatusAuthExpired and StatusFailed.
	Err error
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Synthesize sends req to the service and blocks until the complete
	// waveform has been received, the service rejects the request, or ctx is
	// done. It never panics on malformed responses; those are StatusFailed.
	Synthesize(ctx context.Context, req Request) Result

	// ListVoices returns all voice profiles available from this provider.
	//
	// Returns an error if the provider cannot be reached or if ctx is cancelled
	// before the list is retrieved.
	ListVoices(ctx context.Context, token string) ([]VoiceProfile, error)
}

// TokenIssuer exchanges a long-lived credential for a short-lived bearer token.
//
// Implementations must be safe for concurrent use.
type TokenIssuer interface {
	// IssueToken returns a fresh bearer token or an error.
	IssueToken(ctx context.Context) (string, error)
}
