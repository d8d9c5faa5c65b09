// Package speech turns chat lines into mixed speech.
//
// [Pipeline.Speak] picks a voice, renders SSML with an optional spoken
// attribution, calls the synthesis provider and hands the resulting waveform
// to the mixer. The bearer token is refreshed reactively: an auth-expired
// result triggers one token issuance and one retry. Any other failure drops
// the line. Playback is never affected by a failed line.
package speech

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/chatvoice/internal/observe"
	"github.com/MrWong99/chatvoice/pkg/audio"
	"github.com/MrWong99/chatvoice/pkg/provider/tts"
)

var (
	// ErrGaveUp is returned when every attempt ended in an auth failure or
	// the token could not be refreshed.
	ErrGaveUp = errors.New("speech: gave up on synthesis")

	// ErrSynthesisFailed is returned when the provider failed for a reason
	// other than an expired token. The line is dropped without retry.
	ErrSynthesisFailed = errors.New("speech: synthesis failed")
)

// Defaults for [Pipeline].
const (
	DefaultMaxAttempts = 2
	DefaultTimeout     = 15 * time.Second

	// DefaultLeadIn is the silence prepended to each utterance, twice the
	// mixer's lookahead so a fresh line always starts on a pause point.
	DefaultLeadIn = 4000
)

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithVoiceSelector sets the voice selector. Default: built-in rosters, no
// overrides.
func WithVoiceSelector(s *VoiceSelector) Option {
	return func(p *Pipeline) {
		if s != nil {
			p.selector.Store(s)
		}
	}
}

// WithPronouncer sets the name pronouncer. Default: [DefaultPronunciations].
func WithPronouncer(pr *Pronouncer) Option {
	return func(p *Pipeline) {
		if pr != nil {
			p.pronouncer.Store(pr)
		}
	}
}

// WithSanitizer sets the chat text sanitizer. Default: [XMLSanitizer].
func WithSanitizer(s Sanitizer) Option {
	return func(p *Pipeline) {
		if s != nil {
			p.sanitizer = s
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithMaxAttempts bounds synthesis attempts per line.
func WithMaxAttempts(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithTimeout bounds each synthesis and token call.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithLeadIn sets the silence, in samples, prepended to every utterance.
func WithLeadIn(n int) Option {
	return func(p *Pipeline) {
		if n >= 0 {
			p.leadIn = n
		}
	}
}

// Pipeline synthesizes chat lines and mixes them into playback.
//
// Speak is safe for concurrent use, but the "same speaker as the previous
// line" check assumes lines arrive one at a time; callers that need the
// attribution to be exact feed Speak from a single goroutine.
type Pipeline struct {
	provider tts.Provider
	issuer   tts.TokenIssuer
	mixer    audio.Mixer

	selector   atomic.Pointer[VoiceSelector]
	pronouncer atomic.Pointer[Pronouncer]
	sanitizer  Sanitizer
	metrics    *observe.Metrics

	maxAttempts int
	timeout     time.Duration
	leadIn      int

	tokenMu sync.RWMutex
	token   string
	refresh singleflight.Group

	lastMu      sync.Mutex
	lastSpeaker string
}

// New creates a Pipeline that synthesizes with provider, refreshes tokens
// with issuer and mixes into mixer.
func New(provider tts.Provider, issuer tts.TokenIssuer, mixer audio.Mixer, opts ...Option) (*Pipeline, error) {
	if provider == nil || issuer == nil || mixer == nil {
		return nil, errors.New("speech: provider, issuer and mixer are required")
	}
	p := &Pipeline{
		provider:    provider,
		issuer:      issuer,
		mixer:       mixer,
		sanitizer:   XMLSanitizer,
		maxAttempts: DefaultMaxAttempts,
		timeout:     DefaultTimeout,
		leadIn:      DefaultLeadIn,
	}
	for _, o := range opts {
		o(p)
	}
	if p.selector.Load() == nil {
		sel, err := NewVoiceSelector()
		if err != nil {
			return nil, err
		}
		p.selector.Store(sel)
	}
	if p.pronouncer.Load() == nil {
		p.pronouncer.Store(NewPronouncer(nil))
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p, nil
}

// SetVoiceSelector swaps the voice selector. Lines already in flight keep
// the voice they started with.
func (p *Pipeline) SetVoiceSelector(s *VoiceSelector) {
	if s != nil {
		p.selector.Store(s)
	}
}

// SetPronouncer swaps the name pronouncer.
func (p *Pipeline) SetPronouncer(pr *Pronouncer) {
	if pr != nil {
		p.pronouncer.Store(pr)
	}
}

// VoiceFor reports the voice Speak would use for name and text.
func (p *Pipeline) VoiceFor(name, text string) string {
	return p.selector.Load().Select(name, text)
}

// Speak synthesizes one chat line and mixes it into playback. It blocks
// until the line is mixed or abandoned. self marks lines authored by the
// operator; they are always attributed and never carry a verb.
//
// A nil return means the utterance was mixed. Failures are logged and
// recorded before being returned; they never touch playback.
func (p *Pipeline) Speak(ctx context.Context, name, text string, self bool) error {
	id := uuid.NewString()
	ctx, span := observe.StartSpan(ctx, "speech.Speak",
		trace.WithAttributes(observe.UtteranceAttrs(id, name, self)...))
	defer span.End()

	log := observe.Logger(ctx).With("utterance_id", id, "speaker", name)
	start := time.Now()

	voice := p.selector.Load().Select(name, text)
	ssml := p.render(name, text, self, voice)
	log.Debug("speaking line", "voice", voice, "text", text)

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		res := p.synthesize(ctx, voice, ssml)

		switch res.Status {
		case tts.StatusOK:
			utt := audio.Utterance{ID: id, Speaker: name, Samples: p.withLeadIn(res.PCM)}
			mode := p.mixer.Mix(utt)
			p.setLastSpeaker(name)

			p.metrics.RecordMix(ctx, mode)
			p.metrics.SpeakDuration.Record(ctx, time.Since(start).Seconds())
			log.Info("utterance mixed",
				"voice", voice,
				"samples", utt.Len(),
				"mode", mode.String(),
				"attempt", attempt,
			)
			return nil

		case tts.StatusAuthExpired:
			if attempt == p.maxAttempts {
				log.Warn("synthesis token rejected on final attempt", "attempt", attempt, "err", res.Err)
				continue
			}
			log.Warn("synthesis token rejected, refreshing", "attempt", attempt, "err", res.Err)
			if err := p.refreshToken(ctx); err != nil {
				log.Error("token refresh failed, dropping line", "err", err)
				p.metrics.RecordDrop(ctx, "token_refresh")
				err = fmt.Errorf("%w: refresh token: %w", ErrGaveUp, err)
				span.RecordError(err)
				span.SetStatus(codes.Error, "token refresh failed")
				return err
			}

		default:
			log.Error("synthesis failed, dropping line", "voice", voice, "attempt", attempt, "err", res.Err)
			p.metrics.RecordDrop(ctx, "synthesis_failed")
			err := fmt.Errorf("%w: %w", ErrSynthesisFailed, res.Err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "synthesis failed")
			return err
		}
	}

	log.Error("giving up on synthesis", "attempts", p.maxAttempts)
	p.metrics.RecordDrop(ctx, "gave_up")
	span.RecordError(ErrGaveUp)
	span.SetStatus(codes.Error, "gave up")
	return ErrGaveUp
}

// render builds the SSML document, suppressing the attribution when name
// spoke the previous successfully mixed line.
func (p *Pipeline) render(name, text string, self bool, voice string) string {
	p.lastMu.Lock()
	suppress := !self && p.lastSpeaker == name
	p.lastMu.Unlock()

	attribution := ""
	if !suppress {
		attribution = Attribution(p.pronouncer.Load(), name, text, self)
	}
	return BuildSSML(voice, attribution, p.sanitizer.Sanitize(name, text))
}

func (p *Pipeline) setLastSpeaker(name string) {
	p.lastMu.Lock()
	p.lastSpeaker = name
	p.lastMu.Unlock()
}

func (p *Pipeline) synthesize(ctx context.Context, voice, ssml string) tts.Result {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	p.tokenMu.RLock()
	token := p.token
	p.tokenMu.RUnlock()

	start := time.Now()
	res := p.provider.Synthesize(ctx, tts.Request{Token: token, Voice: voice, SSML: ssml})
	if res.Status == tts.StatusOK && len(res.PCM) == 0 {
		res = tts.Result{Status: tts.StatusFailed, Err: errors.New("empty audio")}
	}
	p.metrics.RecordSynthesis(ctx, res.Status.String(), time.Since(start).Seconds())
	return res
}

// refreshToken fetches a new bearer token. Concurrent callers share one
// issuance.
func (p *Pipeline) refreshToken(ctx context.Context) error {
	_, err, _ := p.refresh.Do("token", func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		token, err := p.issuer.IssueToken(ctx)
		if err != nil {
			p.metrics.RecordTokenRefresh(ctx, "error")
			return nil, err
		}
		p.tokenMu.Lock()
		p.token = token
		p.tokenMu.Unlock()
		p.metrics.RecordTokenRefresh(ctx, "ok")
		return nil, nil
	})
	return err
}

func (p *Pipeline) withLeadIn(pcm []int16) []int16 {
	out := make([]int16, p.leadIn+len(pcm))
	copy(out[p.leadIn:], pcm)
	return out
}
