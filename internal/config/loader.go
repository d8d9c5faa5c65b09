package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"tts":   {"azure"},
	"vad":   {"energy"},
	"audio": {"portaudio", "null"},
}

// supportedSampleRates are the rates the synthesis service can emit as raw
// PCM without resampling.
var supportedSampleRates = []int{16000, 24000, 48000}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with their defaults. The API key
// may also come from the CHATVOICE_SYNTHESIS_KEY environment variable.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	a := &cfg.Audio
	if a.Device == "" {
		a.Device = DefaultAudioDevice
	}
	if a.VAD == "" {
		a.VAD = DefaultVAD
	}
	if a.SampleRate == 0 {
		a.SampleRate = DefaultSampleRate
	}
	if a.BlockSize == 0 {
		a.BlockSize = DefaultBlockSize
	}
	if a.ThresholdDB == 0 {
		a.ThresholdDB = DefaultThresholdDB
	}
	if a.TalkHold == 0 {
		a.TalkHold = DefaultTalkHold
	}
	if a.Lookahead == 0 {
		a.Lookahead = DefaultLookahead
	}
	if a.BacklogCeiling == 0 {
		a.BacklogCeiling = DefaultBacklogCeiling
	}
	if a.Clamp == 0 {
		a.Clamp = DefaultClamp
	}

	s := &cfg.Synthesis
	if s.Name == "" {
		s.Name = DefaultSynthesis
	}
	if s.APIKey == "" {
		s.APIKey = os.Getenv("CHATVOICE_SYNTHESIS_KEY")
	}
	if s.Region == "" {
		s.Region = DefaultRegion
	}
	if s.Timeout == 0 {
		s.Timeout = DefaultTimeout
	}
	if s.MaxAttempts == 0 {
		s.MaxAttempts = DefaultMaxAttempts
	}
	if s.TokenBreaker.MaxFailures == 0 {
		s.TokenBreaker.MaxFailures = DefaultBreakerFails
	}
	if s.TokenBreaker.ResetTimeout == 0 {
		s.TokenBreaker.ResetTimeout = DefaultBreakerReset
	}

	in := &cfg.Ingest
	if in.WebsocketPath == "" {
		in.WebsocketPath = DefaultWebsocketPath
	}
	if in.QueueSize == 0 {
		in.QueueSize = DefaultQueueSize
	}
	if in.DedupSize == 0 {
		in.DedupSize = DefaultDedupSize
	}
	if in.Announce == "" {
		in.Announce = DefaultAnnounce
	}
	if in.SelfName == "" {
		in.SelfName = DefaultSelfName
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Audio
	a := cfg.Audio
	validateProviderName("audio", a.Device)
	validateProviderName("vad", a.VAD)
	if !slices.Contains(supportedSampleRates, a.SampleRate) {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is invalid; valid values: 16000, 24000, 48000", a.SampleRate))
	}
	if a.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("audio.block_size %d must be positive", a.BlockSize))
	}
	if a.ThresholdDB > 0 {
		errs = append(errs, fmt.Errorf("audio.threshold_db %.1f must be <= 0", a.ThresholdDB))
	}
	if a.TalkHold < 0 {
		errs = append(errs, fmt.Errorf("audio.talk_hold %d must be positive", a.TalkHold))
	}
	if a.Lookahead < 0 {
		errs = append(errs, fmt.Errorf("audio.lookahead %d must be positive", a.Lookahead))
	}
	if a.BacklogCeiling < 0 {
		errs = append(errs, fmt.Errorf("audio.backlog_ceiling %s must be positive", a.BacklogCeiling))
	}
	if a.Clamp < 0 || a.Clamp > 32767 {
		errs = append(errs, fmt.Errorf("audio.clamp %d is out of range [1, 32767]", a.Clamp))
	}

	// Synthesis
	s := cfg.Synthesis
	validateProviderName("tts", s.Name)
	if s.APIKey == "" {
		slog.Warn("synthesis.api_key is empty; token issuance will fail until it is set")
	}
	if s.Timeout < 0 {
		errs = append(errs, fmt.Errorf("synthesis.timeout %s must be positive", s.Timeout))
	}
	if s.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("synthesis.max_attempts %d must be positive", s.MaxAttempts))
	}
	if s.TokenBreaker.MaxFailures < 0 || s.TokenBreaker.ResetTimeout < 0 {
		errs = append(errs, errors.New("synthesis.token_breaker values must be positive"))
	}

	// Voices
	v := cfg.Voices
	if v.FuzzyThreshold < 0 || v.FuzzyThreshold > 1 {
		errs = append(errs, fmt.Errorf("voices.fuzzy_threshold %.2f is out of range [0, 1]", v.FuzzyThreshold))
	}
	if en, ok := v.Rosters["en"]; ok && len(en) == 0 {
		errs = append(errs, errors.New("voices.rosters.en must not be empty"))
	}
	for name, voice := range v.Overrides {
		if strings.TrimSpace(voice) == "" {
			errs = append(errs, fmt.Errorf("voices.overrides[%q] has an empty voice", name))
		}
	}

	// Ingest
	in := cfg.Ingest
	if in.WebsocketPath != "" && in.WebsocketPath != "-" && !strings.HasPrefix(in.WebsocketPath, "/") {
		errs = append(errs, fmt.Errorf("ingest.websocket_path %q must start with /", in.WebsocketPath))
	}
	if in.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("ingest.queue_size %d must be positive", in.QueueSize))
	}
	if in.DedupSize < 0 {
		errs = append(errs, fmt.Errorf("ingest.dedup_size %d must be positive", in.DedupSize))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
