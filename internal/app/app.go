// Package app wires all chatvoice subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run starts the audio device and the serving goroutines, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithMixer,
// WithMetrics, WithStdin). Providers always come from the caller.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/chatvoice/internal/config"
	"github.com/MrWong99/chatvoice/internal/health"
	"github.com/MrWong99/chatvoice/internal/ingest"
	"github.com/MrWong99/chatvoice/internal/observe"
	"github.com/MrWong99/chatvoice/internal/resilience"
	"github.com/MrWong99/chatvoice/internal/speech"
	"github.com/MrWong99/chatvoice/pkg/audio"
	audiomixer "github.com/MrWong99/chatvoice/pkg/audio/mixer"
	"github.com/MrWong99/chatvoice/pkg/provider/tts"
	"github.com/MrWong99/chatvoice/pkg/provider/vad"
)

// Providers holds one interface value per provider slot. Populated by
// main.go via the config registry.
type Providers struct {
	TTS    tts.Provider
	Issuer tts.TokenIssuer
	VAD    vad.Engine
	Audio  audio.Device
}

// Mixer is the playback engine the device drives. *mixer.DuckingMixer
// satisfies it.
type Mixer interface {
	audio.Mixer
	audio.Callbacks
}

// shutdownGrace bounds how long in-flight HTTP requests may take once Run's
// context is cancelled.
const shutdownGrace = 5 * time.Second

// App owns all subsystem lifetimes and orchestrates the chat-to-speech
// pipeline.
type App struct {
	cfg        *config.Config
	configPath string
	providers  *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	metrics  *observe.Metrics
	mixer    Mixer
	issuer   *resilience.GuardedIssuer
	pipeline *speech.Pipeline
	queue    *ingest.Queue
	health   *health.Handler
	server   *http.Server
	listener net.Listener

	stdin    io.Reader
	logLevel *slog.LevelVar

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMixer injects a mixer instead of building a DuckingMixer on a VAD
// session.
func WithMixer(m Mixer) Option {
	return func(a *App) { a.mixer = m }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithStdin sets the reader used when ingest.stdin is enabled.
func WithStdin(r io.Reader) Option {
	return func(a *App) { a.stdin = r }
}

// WithConfigPath sets the path relative file references in the config are
// resolved against.
func WithConfigPath(p string) Option {
	return func(a *App) { a.configPath = p }
}

// WithLogLevel lets hot reload change the process log level.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithListener serves HTTP on l instead of listening on server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: VAD session and mixer,
// guarded token issuer, voice selection, speech pipeline, ingest queue and
// the HTTP surface. Nothing is started until [App.Run].
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is nil")
	}
	if providers == nil || providers.TTS == nil || providers.Issuer == nil || providers.Audio == nil {
		return nil, errors.New("app: tts provider, token issuer and audio device are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.logDevices(ctx)

	// ── 1. Mixer ─────────────────────────────────────────────────────────
	if err := a.initMixer(); err != nil {
		return nil, fmt.Errorf("app: init mixer: %w", err)
	}

	// ── 2. Synthesis ─────────────────────────────────────────────────────
	if err := a.initSpeech(); err != nil {
		return nil, fmt.Errorf("app: init speech: %w", err)
	}

	// ── 3. Ingest ────────────────────────────────────────────────────────
	a.queue = ingest.NewQueue(a.pipeline,
		ingest.WithSize(cfg.Ingest.QueueSize),
		ingest.WithDedupSize(cfg.Ingest.DedupSize),
		ingest.WithMetrics(a.metrics),
	)

	// ── 4. HTTP surface ──────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// logDevices prints every audio endpoint at debug level.
func (a *App) logDevices(ctx context.Context) {
	devs, err := a.providers.Audio.Devices()
	if err != nil {
		slog.WarnContext(ctx, "could not list audio devices", "err", err)
		return
	}
	for i, d := range devs {
		slog.DebugContext(ctx, "audio device",
			"index", i,
			"name", d.Name,
			"host_api", d.HostAPI,
			"max_input_channels", d.MaxInputChannels,
			"max_output_channels", d.MaxOutputChannels,
		)
	}
}

// initMixer opens the VAD session and builds the ducking mixer if one wasn't
// injected.
func (a *App) initMixer() error {
	if a.mixer == nil {
		ac := a.cfg.Audio
		if a.providers.VAD == nil {
			return errors.New("vad engine is required when no mixer is injected")
		}
		sess, err := a.providers.VAD.NewSession(vad.Config{
			ThresholdDB: ac.ThresholdDB,
			Hold:        ac.TalkHold,
		})
		if err != nil {
			return fmt.Errorf("open vad session: %w", err)
		}
		a.closers = append(a.closers, sess.Close)

		a.mixer = audiomixer.New(sess,
			audiomixer.WithFormat(ac.Format()),
			audiomixer.WithThreshold(ac.ThresholdDB),
			audiomixer.WithLookahead(ac.Lookahead),
			audiomixer.WithBacklogCeiling(ac.BacklogCeiling),
			audiomixer.WithClamp(ac.Clamp),
		)
	}

	unregister, err := a.metrics.ObserveMixer(a.mixer)
	if err != nil {
		return fmt.Errorf("observe mixer: %w", err)
	}
	a.closers = append(a.closers, unregister)
	return nil
}

// initSpeech guards the token issuer, builds voice selection and the
// synthesis pipeline.
func (a *App) initSpeech() error {
	sc := a.cfg.Synthesis
	a.issuer = resilience.NewGuardedIssuer(a.providers.Issuer, resilience.CircuitBreakerConfig{
		Name:         "token-issuer",
		MaxFailures:  sc.TokenBreaker.MaxFailures,
		ResetTimeout: sc.TokenBreaker.ResetTimeout,
	})

	sel, pr, err := buildVoices(a.cfg.Voices, a.configPath)
	if err != nil {
		return err
	}

	p, err := speech.New(a.providers.TTS, a.issuer, a.mixer,
		speech.WithVoiceSelector(sel),
		speech.WithPronouncer(pr),
		speech.WithMetrics(a.metrics),
		speech.WithMaxAttempts(sc.MaxAttempts),
		speech.WithTimeout(sc.Timeout),
	)
	if err != nil {
		return err
	}
	a.pipeline = p
	return nil
}

// initHTTP registers health, metrics and the chat websocket on one mux.
func (a *App) initHTTP() {
	checks := []health.Checker{
		health.DeviceCheck(a.providers.Audio),
		health.BreakerCheck("token", a.issuer.Breaker()),
		health.BacklogCheck(a.mixer, 2*a.cfg.Audio.BacklogCeiling),
	}
	a.health = health.New(checks, health.WithPlayback(health.PlaybackSnapshot(a.mixer)))

	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	if path := a.cfg.Ingest.WebsocketPath; path != "" && path != "-" {
		mux.Handle(path, ingest.NewWebsocketHandler(a.queue))
	}

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the audio device, the ingest worker and the HTTP server, speaks
// the startup announcement, and blocks until ctx is cancelled or a component
// fails. A cancelled ctx is a clean stop and returns nil.
func (a *App) Run(ctx context.Context) error {
	if err := a.providers.Audio.Start(ctx, a.mixer); err != nil {
		return fmt.Errorf("app: start audio device: %w", err)
	}

	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.server.Addr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.queue.Run(gctx)
	})

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownGrace)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	// The stdin reader blocks in Read and cannot observe ctx, so it is not
	// part of the group.
	if a.cfg.Ingest.Stdin && a.stdin != nil {
		go func() {
			if err := ingest.ReadLines(gctx, a.stdin, a.queue, a.cfg.Ingest.SelfName); err != nil {
				slog.Warn("stdin reader stopped", "err", err)
			}
		}()
	}

	if text := a.cfg.Ingest.Announce; text != "" && text != "-" {
		msg := ingest.Message{Name: a.cfg.Ingest.SelfName, Text: text, Self: true}
		if err := a.queue.Submit(gctx, "startup", msg); err != nil {
			slog.Warn("startup announcement dropped", "err", err)
		}
	}

	slog.Info("app running",
		"listen_addr", ln.Addr().String(),
		"websocket_path", a.cfg.Ingest.WebsocketPath,
		"stdin", a.cfg.Ingest.Stdin,
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Speak submits a chat line as if it arrived from an ingest source.
func (a *App) Speak(ctx context.Context, msg ingest.Message) error {
	return a.queue.Submit(ctx, "api", msg)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems. The audio device stops first so no
// callback runs against a closed VAD session; the ingest queue then stops
// accepting lines. It respects the context deadline: if ctx expires before
// all closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.providers.Audio.Close(); err != nil {
			slog.Warn("audio device close error", "err", err)
		}
		a.queue.Close()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
