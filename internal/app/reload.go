package app

import (
	"fmt"
	"log/slog"
	"maps"
	"os"

	"github.com/MrWong99/chatvoice/internal/config"
	"github.com/MrWong99/chatvoice/internal/speech"
)

// ApplyConfig applies a reloaded config. Log level and voice settings take
// effect immediately; everything else is reported as needing a restart and
// otherwise ignored. Safe to call from the config watcher goroutine.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	// The overrides file may have changed on disk without the config
	// changing, so a configured file always triggers a rebuild.
	if d.VoicesChanged || new.Voices.OverridesFile != "" {
		sel, pr, err := buildVoices(new.Voices, a.configPath)
		if err != nil {
			slog.Warn("voice reload rejected, keeping previous voices", "err", err)
		} else {
			a.pipeline.SetVoiceSelector(sel)
			a.pipeline.SetPronouncer(pr)
			slog.Info("voices reloaded",
				"overrides", len(new.Voices.Overrides),
				"overrides_file", new.Voices.OverridesFile,
			)
		}
	}

	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart to take effect", "sections", d.RestartRequired)
	}
}

// buildVoices constructs the voice selector and pronouncer for vc. Inline
// overrides win over entries of the overrides file; configured
// pronunciations extend the built-in table.
func buildVoices(vc config.VoicesConfig, configPath string) (*speech.VoiceSelector, *speech.Pronouncer, error) {
	overrides := make(map[string]string)
	if vc.OverridesFile != "" {
		path := config.ResolvePath(configPath, vc.OverridesFile)
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open overrides file: %w", err)
		}
		fromFile, err := speech.ParseOverrides(f)
		f.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("parse overrides file %q: %w", path, err)
		}
		maps.Copy(overrides, fromFile)
	}
	maps.Copy(overrides, vc.Overrides)

	opts := []speech.VoiceOption{
		speech.WithOverrides(overrides),
		speech.WithFuzzyThreshold(vc.FuzzyThreshold),
	}
	if len(vc.Rosters) > 0 {
		opts = append(opts, speech.WithRosters(vc.Rosters))
	}
	sel, err := speech.NewVoiceSelector(opts...)
	if err != nil {
		return nil, nil, err
	}

	table := maps.Clone(speech.DefaultPronunciations)
	maps.Copy(table, vc.Pronunciations)
	return sel, speech.NewPronouncer(table), nil
}

// SlogLevel maps a config log level onto slog. Unknown values give Info.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
