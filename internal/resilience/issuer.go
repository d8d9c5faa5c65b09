package resilience

import (
	"context"

	"github.com/MrWong99/chatvoice/pkg/provider/tts"
)

// GuardedIssuer implements [tts.TokenIssuer] by routing every call through a
// [CircuitBreaker].
type GuardedIssuer struct {
	inner   tts.TokenIssuer
	breaker *CircuitBreaker
}

// Compile-time interface assertion.
var _ tts.TokenIssuer = (*GuardedIssuer)(nil)

// NewGuardedIssuer wraps inner with a breaker built from cfg.
func NewGuardedIssuer(inner tts.TokenIssuer, cfg CircuitBreakerConfig) *GuardedIssuer {
	if cfg.Name == "" {
		cfg.Name = "token-issuer"
	}
	return &GuardedIssuer{inner: inner, breaker: NewCircuitBreaker(cfg)}
}

// IssueToken returns a fresh token, or [ErrCircuitOpen] without contacting
// the issuer while the breaker is open.
func (g *GuardedIssuer) IssueToken(ctx context.Context) (string, error) {
	var token string
	err := g.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		token, err = g.inner.IssueToken(ctx)
		return err
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// Breaker exposes the underlying breaker for health checks.
func (g *GuardedIssuer) Breaker() *CircuitBreaker { return g.breaker }
