// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry for chatvoice.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr     = ":8080"
	DefaultAudioDevice    = "portaudio"
	DefaultVAD            = "energy"
	DefaultSampleRate     = 24000
	DefaultBlockSize      = 4096
	DefaultThresholdDB    = -12.0
	DefaultTalkHold       = 5
	DefaultLookahead      = 2000
	DefaultBacklogCeiling = 30 * time.Second
	DefaultClamp          = 32000
	DefaultSynthesis      = "azure"
	DefaultRegion         = "eastus"
	DefaultTimeout        = 15 * time.Second
	DefaultMaxAttempts    = 2
	DefaultBreakerFails   = 3
	DefaultBreakerReset   = 30 * time.Second
	DefaultWebsocketPath  = "/ws/chat"
	DefaultQueueSize      = 64
	DefaultDedupSize      = 1024
	DefaultAnnounce       = "is running"
	DefaultSelfName       = "tts"
)

// Config is the root configuration structure for chatvoice.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Voices    VoicesConfig    `yaml:"voices"`
	Ingest    IngestConfig    `yaml:"ingest"`
}

// ServerConfig holds the HTTP listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address for health, metrics and the chat
	// websocket (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds PEM file paths for HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AudioConfig selects the audio device and tunes the ducking mixer.
type AudioConfig struct {
	// Device selects the registered device backend ("portaudio", "null").
	Device string `yaml:"device"`

	// InputDevice and OutputDevice select endpoints by case-insensitive name
	// substring. Empty uses the host default.
	InputDevice  string `yaml:"input_device"`
	OutputDevice string `yaml:"output_device"`

	// SampleRate is the fixed pipeline rate: 16000, 24000 or 48000.
	SampleRate int `yaml:"sample_rate"`

	// BlockSize is the number of samples per device callback.
	BlockSize int `yaml:"block_size"`

	// VAD selects the registered voice activity engine.
	VAD string `yaml:"vad"`

	// ThresholdDB is the peak level, in dBFS, that counts as talking. Also
	// used for the quiet-lookahead test.
	ThresholdDB float64 `yaml:"threshold_db"`

	// TalkHold is the number of quiet capture blocks before ducking disarms.
	TalkHold int `yaml:"talk_hold"`

	// Lookahead is the window, in samples, that must be quiet to duck.
	Lookahead int `yaml:"lookahead"`

	// BacklogCeiling is the pending audio above which new lines are overlaid
	// rather than appended.
	BacklogCeiling time.Duration `yaml:"backlog_ceiling"`

	// Clamp bounds overlaid samples to [-Clamp, Clamp].
	Clamp int `yaml:"clamp"`
}

// ProviderEntry is the common configuration block for a named provider. The
// Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "azure").
	Name string `yaml:"name"`

	// APIKey is the static subscription credential.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default synthesis endpoint.
	BaseURL string `yaml:"base_url"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// SynthesisConfig configures the speech synthesis provider and the retry
// contract around it.
type SynthesisConfig struct {
	ProviderEntry `yaml:",inline"`

	// Region is the cloud region used to derive default endpoints.
	Region string `yaml:"region"`

	// TokenURL overrides the token issuance endpoint.
	TokenURL string `yaml:"token_url"`

	// Timeout bounds each synthesis and token request.
	Timeout time.Duration `yaml:"timeout"`

	// MaxAttempts bounds synthesis attempts per chat line.
	MaxAttempts int `yaml:"max_attempts"`

	// TokenBreaker guards the token issuance endpoint.
	TokenBreaker BreakerConfig `yaml:"token_breaker"`
}

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// VoicesConfig configures voice selection and name pronunciation. Every
// field is hot-reloadable.
type VoicesConfig struct {
	// Rosters maps a language code ("en", "ru") to its voice list. Missing
	// languages keep the built-in roster.
	Rosters map[string][]string `yaml:"rosters"`

	// Overrides pins a voice for a speaker name.
	Overrides map[string]string `yaml:"overrides"`

	// OverridesFile is a legacy voices.txt file ("name voice" per line).
	// Entries in Overrides win over the file.
	OverridesFile string `yaml:"overrides_file"`

	// Pronunciations maps a normalised display name to its spoken form.
	Pronunciations map[string]string `yaml:"pronunciations"`

	// FuzzyThreshold enables approximate override matching in (0, 1].
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
}

// IngestConfig configures how chat lines reach the synthesis pipeline.
type IngestConfig struct {
	// Stdin reads "name: text" lines from standard input.
	Stdin bool `yaml:"stdin"`

	// WebsocketPath is the HTTP path that accepts chat frames. Set to "-" to
	// disable the endpoint.
	WebsocketPath string `yaml:"websocket_path"`

	// QueueSize bounds pending chat lines. A full queue drops new lines.
	QueueSize int `yaml:"queue_size"`

	// DedupSize bounds the set of recently seen message ids.
	DedupSize int `yaml:"dedup_size"`

	// Announce is spoken as a self line at startup. Set to "-" to disable.
	Announce string `yaml:"announce"`

	// SelfName is the operator's speaker name. Stdin lines without a
	// "name:" prefix and the startup announcement use it.
	SelfName string `yaml:"self_name"`
}
