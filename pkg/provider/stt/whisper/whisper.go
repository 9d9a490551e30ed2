// Package whisper provides local whisper.cpp-backed STT engines.
//
// [Provider] talks to a running whisper-server binary (REST API at
// POST /inference, model swaps via POST /load). [NativeProvider] links
// whisper.cpp directly through its CGO bindings. Both are batch engines: every
// Transcribe call uploads or decodes the whole buffer handed over by the STT
// manager, resampled to the 16 kHz that whisper models expect.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("auto"))
//	text, err := p.Transcribe(ctx, samples, 44100)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/lingoxa/pkg/audio"
	"github.com/MrWong99/lingoxa/pkg/provider/stt"
)

// modelSampleRate is the input rate of every whisper model.
const modelSampleRate = 16000

// Compile-time assertions.
var (
	_ stt.Transcriber    = (*Provider)(nil)
	_ stt.LanguageSetter = (*Provider)(nil)
	_ stt.AutoDetector   = (*Provider)(nil)
	_ stt.ModelReloader  = (*Provider)(nil)
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel records the model currently loaded by the server (a path on the
// server host). It is only used to make [Provider.ReloadModel] a no-op for the
// same model. Defaults to empty (unknown).
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the recognition language (e.g., "en", "de"). "auto" or an
// empty string lets whisper detect the language. Defaults to auto-detect.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = stt.NormalizeLanguage(lang)
	}
}

// WithHTTPClient replaces the default HTTP client (30 s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Transcriber backed by a local whisper.cpp HTTP server.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// SetLanguage switches the recognition language for subsequent requests.
func (p *Provider) SetLanguage(code string) { p.language = stt.NormalizeLanguage(code) }

// IsAutoDetect reports whether no language is pinned.
func (p *Provider) IsAutoDetect() bool { return p.language == "" }

// Transcribe encodes samples as a 16 kHz WAV file and POSTs it to the
// whisper.cpp /inference endpoint as multipart/form-data.
func (p *Provider) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	wav := audio.EncodeWAV(audio.ResampleFloat32(samples, sampleRate, modelSampleRate), modelSampleRate)

	lang := p.language
	if lang == "" {
		lang = stt.AutoLanguage
	}
	body, contentType, err := multipartBody("file", "audio.wav", wav, map[string]string{
		"language":        lang,
		"response_format": "json",
	})
	if err != nil {
		return "", err
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := p.post(ctx, "/inference", body, contentType, &result); err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Text), nil
}

// ReloadModel asks the server to load the model at path name. Reloading the
// model already in use is a no-op.
func (p *Provider) ReloadModel(ctx context.Context, name string) error {
	if name == "" || name == p.model {
		return nil
	}
	body, contentType, err := multipartBody("", "", nil, map[string]string{"model": name})
	if err != nil {
		return err
	}
	if err := p.post(ctx, "/load", body, contentType, nil); err != nil {
		return err
	}
	p.model = name
	return nil
}

// post sends a multipart request to path and decodes a JSON response into out
// when out is non-nil.
func (p *Provider) post(ctx context.Context, path string, body *bytes.Buffer, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+path, body)
	if err != nil {
		return fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("whisper: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return nil
}

// ---- helpers ----------------------------------------------------------------

// multipartBody builds a multipart form with an optional file part followed
// by the given fields.
func multipartBody(fileField, fileName string, file []byte, fields map[string]string) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if fileField != "" {
		fw, err := mw.CreateFormFile(fileField, fileName)
		if err != nil {
			return nil, "", fmt.Errorf("whisper: create form file: %w", err)
		}
		if _, err := fw.Write(file); err != nil {
			return nil, "", fmt.Errorf("whisper: write wav data: %w", err)
		}
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}
