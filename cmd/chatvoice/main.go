// Command chatvoice reads chat lines aloud on the local sound card, ducking
// under the operator's microphone.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/MrWong99/chatvoice/internal/app"
	"github.com/MrWong99/chatvoice/internal/config"
	"github.com/MrWong99/chatvoice/internal/observe"
	"github.com/MrWong99/chatvoice/pkg/audio"
	"github.com/MrWong99/chatvoice/pkg/audio/null"
	"github.com/MrWong99/chatvoice/pkg/audio/portaudio"
	"github.com/MrWong99/chatvoice/pkg/provider/tts"
	"github.com/MrWong99/chatvoice/pkg/provider/tts/azure"
	"github.com/MrWong99/chatvoice/pkg/provider/vad"
	"github.com/MrWong99/chatvoice/pkg/provider/vad/energy"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	listVoices := flag.Bool("list-voices", false, "print the synthesis voices and exit")
	listDevices := flag.Bool("list-devices", false, "print the audio devices and exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "chatvoice: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "chatvoice: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(level))

	slog.Info("chatvoice starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case *listDevices:
		return printDevices(os.Stdout, cfg, reg)
	case *listVoices:
		return printVoices(ctx, os.Stdout, cfg, reg)
	}

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "chatvoice",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithConfigPath(*configPath),
		app.WithLogLevel(level),
		app.WithStdin(os.Stdin),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		_ = providers.Audio.Close()
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── TTS ───────────────────────────────────────────────────────────────────
	reg.RegisterTTS("azure", func(sc config.SynthesisConfig, f audio.Format) (tts.Provider, error) {
		opts := []azure.Option{
			azure.WithRegion(sc.Region),
			azure.WithSampleRate(f.SampleRate),
			azure.WithHTTPClient(&http.Client{Timeout: sc.Timeout}),
		}
		if sc.BaseURL != "" {
			opts = append(opts, azure.WithBaseURL(sc.BaseURL))
		}
		if sc.TokenURL != "" {
			opts = append(opts, azure.WithTokenURL(sc.TokenURL))
		}
		return azure.New(sc.APIKey, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────
	reg.RegisterVAD("energy", func(config.AudioConfig) (vad.Engine, error) {
		return energy.New(), nil
	})

	// ── Audio ─────────────────────────────────────────────────────────────────
	reg.RegisterAudio("portaudio", func(ac config.AudioConfig) (audio.Device, error) {
		return portaudio.New(
			portaudio.WithFormat(ac.Format()),
			portaudio.WithInputDevice(ac.InputDevice),
			portaudio.WithOutputDevice(ac.OutputDevice),
		)
	})
	reg.RegisterAudio("null", func(ac config.AudioConfig) (audio.Device, error) {
		return null.New(null.WithFormat(ac.Format())), nil
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	p, err := reg.CreateTTS(cfg.Synthesis, cfg.Audio.Format())
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.Synthesis.Name, err)
	}
	issuer, ok := p.(tts.TokenIssuer)
	if !ok {
		return nil, fmt.Errorf("tts provider %q does not issue tokens", cfg.Synthesis.Name)
	}
	ps.TTS, ps.Issuer = p, issuer
	slog.Info("provider created", "kind", "tts", "name", cfg.Synthesis.Name)

	engine, err := reg.CreateVAD(cfg.Audio)
	if err != nil {
		return nil, fmt.Errorf("create vad engine %q: %w", cfg.Audio.VAD, err)
	}
	ps.VAD = engine
	slog.Info("provider created", "kind", "vad", "name", cfg.Audio.VAD)

	dev, err := reg.CreateAudio(cfg.Audio)
	if err != nil {
		return nil, fmt.Errorf("create audio device %q: %w", cfg.Audio.Device, err)
	}
	ps.Audio = dev
	slog.Info("provider created", "kind", "audio", "name", cfg.Audio.Device)

	return ps, nil
}

// ── Listing commands ──────────────────────────────────────────────────────────

func printDevices(w io.Writer, cfg *config.Config, reg *config.Registry) int {
	dev, err := reg.CreateAudio(cfg.Audio)
	if err != nil {
		slog.Error("failed to open audio backend", "err", err)
		return 1
	}
	defer dev.Close()

	devs, err := dev.Devices()
	if err != nil {
		slog.Error("failed to list audio devices", "err", err)
		return 1
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tNAME\tHOST API\tIN\tOUT\tRATE")
	for i, d := range devs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%.0f\n", i, d.Name, d.HostAPI, d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate)
	}
	if err := tw.Flush(); err != nil {
		return 1
	}
	return 0
}

func printVoices(ctx context.Context, w io.Writer, cfg *config.Config, reg *config.Registry) int {
	p, err := reg.CreateTTS(cfg.Synthesis, cfg.Audio.Format())
	if err != nil {
		slog.Error("failed to create tts provider", "err", err)
		return 1
	}
	var token string
	if issuer, ok := p.(tts.TokenIssuer); ok {
		if token, err = issuer.IssueToken(ctx); err != nil {
			slog.Error("failed to issue token", "err", err)
			return 1
		}
	}
	voices, err := p.ListVoices(ctx, token)
	if err != nil {
		slog.Error("failed to list voices", "err", err)
		return 1
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLOCALE\tGENDER\tNAME")
	for _, v := range voices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.ID, v.Locale, v.Gender, v.Name)
	}
	if err := tw.Flush(); err != nil {
		return 1
	}
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        chatvoice: startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Synthesis", cfg.Synthesis.Name+" / "+cfg.Synthesis.Region)
	printRow("Audio", cfg.Audio.Device)
	printRow("VAD", cfg.Audio.VAD)
	printRow("Sample rate", fmt.Sprintf("%d Hz", cfg.Audio.SampleRate))
	printRow("Duck below", fmt.Sprintf("%.1f dBFS", cfg.Audio.ThresholdDB))
	if p := cfg.Ingest.WebsocketPath; p != "" && p != "-" {
		printRow("Websocket", p)
	} else {
		printRow("Websocket", "(disabled)")
	}
	if cfg.Ingest.Stdin {
		printRow("Stdin", "enabled")
	} else {
		printRow("Stdin", "(disabled)")
	}
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
