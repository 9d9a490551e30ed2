// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/lingoxa/pkg/audio"
	"github.com/MrWong99/lingoxa/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Compile-time assertions.
var (
	_ stt.Transcriber    = (*NativeProvider)(nil)
	_ stt.LanguageSetter = (*NativeProvider)(nil)
	_ stt.AutoDetector   = (*NativeProvider)(nil)
	_ stt.ModelReloader  = (*NativeProvider)(nil)
)

// NativeProvider implements stt.Transcriber using whisper.cpp Go bindings
// (CGO), eliminating HTTP overhead entirely. The model stays loaded until it
// is replaced by ReloadModel or released by Close.
type NativeProvider struct {
	mu        sync.Mutex
	model     whisperlib.Model
	modelPath string
	language  string
	threads   uint

	// loadModel is whisperlib.New; overridden in tests.
	loadModel func(path string) (whisperlib.Model, error)
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the recognition language (e.g., "en", "de").
// "auto" or an empty string enables detection. Defaults to auto-detect.
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = stt.NormalizeLanguage(lang) }
}

// WithNativeThreads sets the number of CPU threads whisper.cpp may use per
// decode. Zero keeps the library default.
func WithNativeThreads(n uint) NativeOption {
	return func(p *NativeProvider) { p.threads = n }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	p := &NativeProvider{loadModel: whisperlib.New}
	for _, o := range opts {
		o(p)
	}
	model, err := p.loadModel(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p.model = model
	p.modelPath = modelPath
	return p, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return nil
	}
	err := p.model.Close()
	p.model = nil
	return err
}

// SetLanguage switches the recognition language for subsequent decodes.
func (p *NativeProvider) SetLanguage(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.language = stt.NormalizeLanguage(code)
}

// IsAutoDetect reports whether no language is pinned.
func (p *NativeProvider) IsAutoDetect() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.language == ""
}

// ReloadModel loads the model at path name and releases the previous one.
// Reloading the model already in use is a no-op. On failure the previous
// model stays active.
func (p *NativeProvider) ReloadModel(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if name == "" || name == p.modelPath {
		return nil
	}
	model, err := p.loadModel(name)
	if err != nil {
		return fmt.Errorf("whisper: load model %q: %w", name, err)
	}
	if p.model != nil {
		if err := p.model.Close(); err != nil {
			slog.Warn("whisper: failed to release previous model", "model", p.modelPath, "err", err)
		}
	}
	p.model = model
	p.modelPath = name
	slog.Info("whisper: model reloaded", "model", name)
	return nil
}

// Transcribe resamples samples to 16 kHz, runs whisper.cpp inference using a
// fresh context and returns the concatenated segment text.
func (p *NativeProvider) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return "", errors.New("whisper: provider is closed")
	}

	// Each context is NOT thread-safe, but the model can be shared.
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	lang := p.language
	if lang == "" {
		lang = stt.AutoLanguage
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "err", err)
	}
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}

	if err := wctx.Process(audio.ResampleFloat32(samples, sampleRate, modelSampleRate), nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
