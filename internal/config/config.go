// Package config provides the configuration schema, loader, and provider
// registry for the lingoxa pipeline.
package config

import (
	"os"
	"strings"
	"time"
)

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

// AudioSource selects where the pipeline reads audio from.
type AudioSource string

const (
	// SourceWAV plays a WAV file, optionally paced in real time.
	SourceWAV AudioSource = "wav"

	// SourceDiscord listens to a Discord voice channel.
	SourceDiscord AudioSource = "discord"
)

// IsValid reports whether s is a recognised audio source.
func (s AudioSource) IsValid() bool {
	return s == SourceWAV || s == SourceDiscord
}

// Segmentation selects how sentence boundaries are found.
type Segmentation string

const (
	// SegmentVAD finalizes a sentence after silence or when the buffer is full.
	SegmentVAD Segmentation = "vad"

	// SegmentPunctuation lets terminal punctuation decide finality.
	SegmentPunctuation Segmentation = "punctuation"
)

// IsValid reports whether s is a recognised segmentation mode.
func (s Segmentation) IsValid() bool {
	return s == SegmentVAD || s == SegmentPunctuation
}

// DialogueFormat selects the dialogue log file format.
type DialogueFormat string

const (
	FormatJSONL DialogueFormat = "jsonl"
	FormatCSV   DialogueFormat = "csv"
)

// IsValid reports whether f is a recognised dialogue format.
func (f DialogueFormat) IsValid() bool {
	return f == FormatJSONL || f == FormatCSV
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Audio       AudioConfig       `yaml:"audio"`
	STT         STTConfig         `yaml:"stt"`
	Translation TranslationConfig `yaml:"translation"`
	Dialogue    DialogueConfig    `yaml:"dialogue"`
	Display     DisplayConfig     `yaml:"display"`
}

// ServerConfig holds network and logging settings for the control API.
type ServerConfig struct {
	// ListenAddr is the TCP address the control API listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// AutoStart starts the pipeline as soon as the server is up.
	AutoStart bool `yaml:"auto_start"`

	// InstanceID labels this process in metrics and traces. Random when empty.
	InstanceID string `yaml:"instance_id"`

	// TraceSampleRatio is the fraction of new traces sampled. Zero means all.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AudioConfig configures capture and chunking.
type AudioConfig struct {
	// Source selects the audio source implementation.
	Source AudioSource `yaml:"source"`

	// Input is the WAV file path for the wav source.
	Input string `yaml:"input"`

	// Realtime paces WAV playback at its natural speed.
	Realtime bool `yaml:"realtime"`

	// SampleRate is the pipeline rate every source is converted to.
	SampleRate int `yaml:"sample_rate"`

	// ChunkMs and OverlapMs define the sliding chunk window.
	ChunkMs   int `yaml:"chunk_ms"`
	OverlapMs int `yaml:"overlap_ms"`

	// RecordDir, when set, receives a WAV recording of every capture run.
	RecordDir string `yaml:"record_dir"`

	// Discord configures the discord source.
	Discord DiscordConfig `yaml:"discord"`
}

// DiscordConfig identifies the voice channel to listen to.
type DiscordConfig struct {
	Token     string `yaml:"token"`
	TokenEnv  string `yaml:"token_env"`
	GuildID   string `yaml:"guild_id"`
	ChannelID string `yaml:"channel_id"`
}

// ResolveToken returns Token, or the value of TokenEnv (default
// DISCORD_BOT_TOKEN) when Token is empty.
func (d DiscordConfig) ResolveToken() string {
	if d.Token != "" {
		return d.Token
	}
	env := d.TokenEnv
	if env == "" {
		env = "DISCORD_BOT_TOKEN"
	}
	return os.Getenv(env)
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// APIKeyEnv names an environment variable holding the API key. Used when
	// APIKey is empty; see [ProviderEntry.ResolveAPIKey].
	APIKeyEnv string `yaml:"api_key_env"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini", "base").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// DefaultAPIKeyEnv maps provider names to the environment variable read when
// neither api_key nor api_key_env is set.
var DefaultAPIKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"gemini":    "GEMINI_API_KEY",
	"deepseek":  "DEEPSEEK_API_KEY",
	"mistral":   "MISTRAL_API_KEY",
	"groq":      "GROQ_API_KEY",
	"deepgram":  "DEEPGRAM_API_KEY",
}

// ResolveAPIKey returns the API key from APIKey, APIKeyEnv or the provider's
// default environment variable, in that order.
func (e ProviderEntry) ResolveAPIKey() string {
	if e.APIKey != "" {
		return e.APIKey
	}
	env := e.APIKeyEnv
	if env == "" {
		env = DefaultAPIKeyEnv[strings.ToLower(e.Name)]
	}
	if env == "" {
		return ""
	}
	return os.Getenv(env)
}

// STTConfig configures the speech recognizer and sentence detection.
type STTConfig struct {
	// Provider selects the recognizer engine.
	Provider ProviderEntry `yaml:"provider"`

	// Fallbacks are tried in order when the primary engine fails.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// Language is the spoken language code; "auto" or empty means detect.
	Language string `yaml:"language"`

	// Device and ComputeType select the hardware and precision of local
	// engines (e.g., "cpu", "int8").
	Device      string `yaml:"device"`
	ComputeType string `yaml:"compute_type"`

	// Segmentation selects how sentence boundaries are found.
	Segmentation Segmentation `yaml:"segmentation"`

	// QueueSize bounds the chunk queue in front of the recognizer.
	QueueSize int `yaml:"queue_size"`

	// VAD tunes the energy-based voice activity heuristic.
	VAD VADConfig `yaml:"vad"`

	// Glossary lists proper nouns that recognized text is corrected towards.
	Glossary GlossaryConfig `yaml:"glossary"`
}

// GlossaryConfig configures proper noun correction. An empty term list
// disables it.
type GlossaryConfig struct {
	Terms []string `yaml:"terms"`

	// PhoneticThreshold and FuzzyThreshold are Jaro-Winkler scores in [0, 1].
	// Zero selects the defaults (0.70 and 0.85).
	PhoneticThreshold float64 `yaml:"phonetic_threshold"`
	FuzzyThreshold    float64 `yaml:"fuzzy_threshold"`
}

// VADConfig tunes sentence finalization.
type VADConfig struct {
	// Threshold is the RMS level below which a chunk counts as silence.
	Threshold float64 `yaml:"threshold"`

	// SilenceChunks is how many silent chunks end a sentence.
	SilenceChunks int `yaml:"silence_chunks"`

	// MinBuffer is the minimum buffered audio before any decode.
	MinBuffer time.Duration `yaml:"min_buffer"`

	// MinFinalize is the minimum buffered audio for a silence finalize.
	MinFinalize time.Duration `yaml:"min_finalize"`

	// MaxBuffer forces a finalize once exceeded.
	MaxBuffer time.Duration `yaml:"max_buffer"`

	// TranscribeInterval is the number of chunks between partial decodes.
	TranscribeInterval int `yaml:"transcribe_interval"`
}

// TranslationConfig configures the translation and summary LLMs.
type TranslationConfig struct {
	// LLM is the translation model.
	LLM ProviderEntry `yaml:"llm"`

	// SummaryLLM is the context summary model. Defaults to LLM.
	SummaryLLM ProviderEntry `yaml:"summary_llm"`

	// Fallbacks are tried in order when the primary LLM fails.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// TargetLanguage is the output language. Hot-reloadable.
	TargetLanguage string `yaml:"target_language"`

	// ContextUpdateInterval is the number of sentences per context summary.
	// Hot-reloadable.
	ContextUpdateInterval int `yaml:"context_update_interval"`

	// UseOriginalTextForContext summarizes source sentences instead of
	// translations. Hot-reloadable.
	UseOriginalTextForContext bool `yaml:"use_original_text_for_context"`

	// ContextCachePath persists the scenario context across restarts.
	ContextCachePath string `yaml:"context_cache_path"`

	// Timeout bounds each LLM call.
	Timeout time.Duration `yaml:"timeout"`
}

// DialogueConfig configures the dialogue log.
type DialogueConfig struct {
	// Dir receives dialogue_<session>.<format> files. Empty disables file logs.
	Dir string `yaml:"dir"`

	// Format is jsonl or csv.
	Format DialogueFormat `yaml:"format"`

	// PostgresDSN, when set, also writes records to Postgres.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// DisplayConfig configures the display front-end feeds.
type DisplayConfig struct {
	// Topics restricts forwarded events. Empty means the default set.
	Topics []string `yaml:"topics"`

	// OriginPatterns allows cross-origin WebSocket clients.
	OriginPatterns []string `yaml:"origin_patterns"`

	// ClientBuffer is the per-client message queue size.
	ClientBuffer int `yaml:"client_buffer"`

	// MQTT bridges events to a broker when BrokerURL is set.
	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig configures the MQTT bridge.
type MQTTConfig struct {
	BrokerURL   string `yaml:"broker_url"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`

	// QueueSize bounds events waiting for the broker. Defaults to 64.
	QueueSize int `yaml:"queue_size"`
}
