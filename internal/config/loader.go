package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr            = ":8080"
	DefaultSampleRate            = 16000
	DefaultChunkMs               = 640
	DefaultOverlapMs             = 160
	DefaultQueueSize             = 20
	DefaultVADThreshold          = 0.005
	DefaultSilenceChunks         = 1
	DefaultMinBuffer             = 100 * time.Millisecond
	DefaultMinFinalize           = 300 * time.Millisecond
	DefaultMaxBuffer             = 10 * time.Second
	DefaultTranscribeInterval    = 2
	DefaultTargetLanguage        = "Traditional Chinese"
	DefaultContextUpdateInterval = 1
	DefaultLLMTimeout            = 30 * time.Second
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"whisper", "whisper-native", "openai", "deepgram", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, fills in defaults and
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

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	a := &cfg.Audio
	if a.Source == "" {
		a.Source = SourceWAV
	}
	if a.SampleRate == 0 {
		a.SampleRate = DefaultSampleRate
	}
	if a.ChunkMs == 0 {
		a.ChunkMs = DefaultChunkMs
		if a.OverlapMs == 0 {
			a.OverlapMs = DefaultOverlapMs
		}
	}

	s := &cfg.STT
	if s.Provider.Name == "" {
		s.Provider.Name = "whisper"
	}
	if s.Segmentation == "" {
		s.Segmentation = SegmentVAD
	}
	if s.QueueSize == 0 {
		s.QueueSize = DefaultQueueSize
	}
	if s.VAD.Threshold == 0 {
		s.VAD.Threshold = DefaultVADThreshold
	}
	if s.VAD.SilenceChunks == 0 {
		s.VAD.SilenceChunks = DefaultSilenceChunks
	}
	if s.VAD.MinBuffer == 0 {
		s.VAD.MinBuffer = DefaultMinBuffer
	}
	if s.VAD.MinFinalize == 0 {
		s.VAD.MinFinalize = DefaultMinFinalize
	}
	if s.VAD.MaxBuffer == 0 {
		s.VAD.MaxBuffer = DefaultMaxBuffer
	}
	if s.VAD.TranscribeInterval == 0 {
		s.VAD.TranscribeInterval = DefaultTranscribeInterval
	}

	t := &cfg.Translation
	if t.LLM.Name == "" {
		t.LLM.Name = "openai"
	}
	if t.LLM.Model == "" && t.LLM.Name == "openai" {
		t.LLM.Model = "gpt-4o-mini"
	}
	if t.SummaryLLM.Name == "" {
		t.SummaryLLM = t.LLM
	}
	if t.TargetLanguage == "" {
		t.TargetLanguage = DefaultTargetLanguage
	}
	if t.ContextUpdateInterval == 0 {
		t.ContextUpdateInterval = DefaultContextUpdateInterval
	}
	if t.Timeout == 0 {
		t.Timeout = DefaultLLMTimeout
	}

	if cfg.Dialogue.Format == "" {
		cfg.Dialogue.Format = FormatJSONL
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
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %v out of range [0, 1]", r))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Audio
	a := cfg.Audio
	if !a.Source.IsValid() {
		errs = append(errs, fmt.Errorf("audio.source %q is invalid; valid values: wav, discord", a.Source))
	}
	if a.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", a.SampleRate))
	}
	if a.ChunkMs <= 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_ms %d must be positive", a.ChunkMs))
	}
	if a.OverlapMs < 0 || a.OverlapMs >= a.ChunkMs {
		errs = append(errs, fmt.Errorf("audio.overlap_ms %d must be in [0, chunk_ms)", a.OverlapMs))
	}
	if a.Source == SourceDiscord && (a.Discord.GuildID == "" || a.Discord.ChannelID == "") {
		errs = append(errs, errors.New("audio.discord.guild_id and channel_id are required for the discord source"))
	}
	if a.Source == SourceWAV && a.Input == "" {
		slog.Warn("audio.input is empty; set it or pass -input before starting the pipeline")
	}

	// STT
	s := cfg.STT
	validateProviderName("stt", s.Provider.Name)
	for _, fb := range s.Fallbacks {
		validateProviderName("stt", fb.Name)
	}
	if !s.Segmentation.IsValid() {
		errs = append(errs, fmt.Errorf("stt.segmentation %q is invalid; valid values: vad, punctuation", s.Segmentation))
	}
	if s.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("stt.queue_size %d must not be negative", s.QueueSize))
	}
	if s.VAD.Threshold < 0 || s.VAD.Threshold > 1 {
		errs = append(errs, fmt.Errorf("stt.vad.threshold %.4f is out of range [0, 1]", s.VAD.Threshold))
	}
	if s.VAD.MaxBuffer < s.VAD.MinFinalize {
		errs = append(errs, fmt.Errorf("stt.vad.max_buffer %s must not be below min_finalize %s", s.VAD.MaxBuffer, s.VAD.MinFinalize))
	}
	if s.VAD.TranscribeInterval < 1 || s.VAD.SilenceChunks < 1 {
		errs = append(errs, errors.New("stt.vad.transcribe_interval and silence_chunks must be at least 1"))
	}
	for name, v := range map[string]float64{
		"phonetic_threshold": s.Glossary.PhoneticThreshold,
		"fuzzy_threshold":    s.Glossary.FuzzyThreshold,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("stt.glossary.%s %.2f is out of range [0, 1]", name, v))
		}
	}

	// Translation
	t := cfg.Translation
	validateProviderName("llm", t.LLM.Name)
	validateProviderName("llm", t.SummaryLLM.Name)
	for _, fb := range t.Fallbacks {
		validateProviderName("llm", fb.Name)
	}
	if t.LLM.Model == "" {
		errs = append(errs, errors.New("translation.llm.model is required"))
	}
	if t.ContextUpdateInterval < 1 {
		errs = append(errs, fmt.Errorf("translation.context_update_interval %d must be at least 1", t.ContextUpdateInterval))
	}
	if t.Timeout < 0 {
		errs = append(errs, fmt.Errorf("translation.timeout %s must not be negative", t.Timeout))
	}

	// Dialogue
	if !cfg.Dialogue.Format.IsValid() {
		errs = append(errs, fmt.Errorf("dialogue.format %q is invalid; valid values: jsonl, csv", cfg.Dialogue.Format))
	}
	if cfg.Dialogue.Dir == "" && cfg.Dialogue.PostgresDSN == "" {
		slog.Warn("dialogue.dir and dialogue.postgres_dsn are empty; translations will not be logged")
	}

	// Display
	if q := cfg.Display.MQTT.QoS; q > 2 {
		errs = append(errs, fmt.Errorf("display.mqtt.qos %d is invalid; valid values: 0, 1, 2", q))
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
