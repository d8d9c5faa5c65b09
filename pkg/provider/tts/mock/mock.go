// Package mock provides test doubles for the tts.Provider and tts.TokenIssuer
// interfaces.
//
// Provider replays a script of results, one per Synthesize call, so tests can
// express sequences like "401 then success". Issuer hands out numbered tokens
// and counts issuance calls.
//
// Example:
//
//	p := &mock.Provider{Script: []tts.Result{
//	    {Status: tts.StatusAuthExpired},
//	    {Status: tts.StatusOK, PCM: pcm},
//	}}
//	iss := &mock.Issuer{}
package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/chatvoice/pkg/provider/tts"
)

// ErrScriptExhausted is returned in a StatusFailed result once the script runs out
// and no Default is set.
var ErrScriptExhausted = errors.New("mock: synthesis script exhausted")

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Script is consumed front to back, one entry per Synthesize call.
	Script []tts.Result

	// Default is returned once Script is exhausted. A zero Default yields a
	// StatusFailed result wrapping ErrScriptExhausted.
	Default *tts.Result

	// Block, if non-nil, makes Synthesize wait until it is closed or ctx is
	// done. Useful for timeout tests.
	Block chan struct{}

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned by ListVoices.
	ListVoicesErr error

	// --- Call records ---

	// SynthesizeCalls records every request passed to Synthesize, in order.
	SynthesizeCalls []tts.Request

	// ListVoicesCallCount is the number of times ListVoices was called.
	ListVoicesCallCount int
}

// Synthesize records req and returns the next scripted result.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) tts.Result {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, req)
	block := p.Block
	var res tts.Result
	switch {
	case len(p.Script) > 0:
		res = p.Script[0]
		p.Script = p.Script[1:]
	case p.Default != nil:
		res = *p.Default
	default:
		res = tts.Result{Status: tts.StatusFailed, Err: ErrScriptExhausted}
	}
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return tts.Result{Status: tts.StatusFailed, Err: ctx.Err()}
		}
	}
	return res
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context, _ string) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCallCount++
	return p.ListVoicesResult, p.ListVoicesErr
}

// Calls returns a copy of the recorded synthesis requests.
func (p *Provider) Calls() []tts.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]tts.Request, len(p.SynthesizeCalls))
	copy(out, p.SynthesizeCalls)
	return out
}

// Issuer is a mock implementation of tts.TokenIssuer. Tokens are "token-1",
// "token-2", ... in issuance order.
type Issuer struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by every IssueToken call.
	Err error

	calls int
}

// IssueToken records the call and returns the next numbered token or Err.
func (i *Issuer) IssueToken(_ context.Context) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.calls++
	if i.Err != nil {
		return "", i.Err
	}
	return fmt.Sprintf("token-%d", i.calls), nil
}

// CallCount returns the number of IssueToken calls so far.
func (i *Issuer) CallCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.calls
}

var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.TokenIssuer = (*Issuer)(nil)
)
