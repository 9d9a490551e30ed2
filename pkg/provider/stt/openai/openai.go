// Package openai provides an STT engine backed by the OpenAI audio
// transcription endpoint (POST /v1/audio/transcriptions). Each Transcribe call
// uploads the buffered utterance as a 16-bit WAV file.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/lingoxa/pkg/audio"
	"github.com/MrWong99/lingoxa/pkg/provider/stt"
)

const defaultModel = "whisper-1"

// Compile-time assertions.
var (
	_ stt.Transcriber    = (*Provider)(nil)
	_ stt.LanguageSetter = (*Provider)(nil)
	_ stt.AutoDetector   = (*Provider)(nil)
	_ stt.ModelReloader  = (*Provider)(nil)
)

// Provider implements stt.Transcriber using the OpenAI API.
type Provider struct {
	client   oai.Client
	model    string
	language string
	prompt   string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL    string
	model      string
	language   string
	prompt     string
	timeout    time.Duration
	maxRetries int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL (e.g. for a local
// OpenAI-compatible speech server).
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel sets the transcription model. Defaults to "whisper-1".
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithLanguage pins the ISO-639-1 input language. "auto" or empty lets the
// service detect it, which is the default.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = stt.NormalizeLanguage(lang) }
}

// WithPrompt sets a vocabulary/style hint sent with every request.
func WithPrompt(prompt string) Option {
	return func(c *config) { c.prompt = prompt }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries sets how often the SDK retries failed requests. Negative
// values keep the SDK default.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// New constructs a new OpenAI transcription engine.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel, maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}

	return &Provider{
		client:   oai.NewClient(reqOpts...),
		model:    cfg.model,
		language: cfg.language,
		prompt:   cfg.prompt,
	}, nil
}

// SetLanguage switches the input language for subsequent requests.
func (p *Provider) SetLanguage(code string) { p.language = stt.NormalizeLanguage(code) }

// IsAutoDetect reports whether no language is pinned.
func (p *Provider) IsAutoDetect() bool { return p.language == "" }

// ReloadModel switches the hosted model used for subsequent requests.
func (p *Provider) ReloadModel(_ context.Context, name string) error {
	if name != "" {
		p.model = name
	}
	return nil
}

// Transcribe uploads samples as audio.wav and returns the transcript text.
func (p *Provider) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	wav := audio.EncodeWAV(samples, sampleRate)

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model: oai.AudioModel(p.model),
	}
	if p.language != "" {
		params.Language = param.NewOpt(p.language)
	}
	if p.prompt != "" {
		params.Prompt = param.NewOpt(p.prompt)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai stt: transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
