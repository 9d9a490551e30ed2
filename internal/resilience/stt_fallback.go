package resilience

import (
	"context"
	"errors"
	"io"

	"github.com/MrWong99/lingoxa/pkg/provider/stt"
)

var (
	_ stt.Transcriber    = (*STTFallback)(nil)
	_ stt.LanguageSetter = (*STTFallback)(nil)
	_ stt.AutoDetector   = (*STTFallback)(nil)
	_ stt.ModelReloader  = (*STTFallback)(nil)
	_ io.Closer          = (*STTFallback)(nil)
)

// STTFallback is an [stt.Transcriber] that fails over across several
// engines. Optional capabilities are forwarded to the engines that support
// them.
type STTFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// engine.
func NewSTTFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *STTFallback {
	if cfg.Kind == "" {
		cfg.Kind = "stt"
	}
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional engine.
func (f *STTFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// States reports each engine's breaker state by name.
func (f *STTFallback) States() map[string]string { return f.group.States() }

// Transcribe sends samples to the first healthy engine.
func (f *STTFallback) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	return ExecuteWithResult(ctx, f.group, func(t stt.Transcriber) (string, error) {
		return t.Transcribe(ctx, samples, sampleRate)
	})
}

// SetLanguage forwards code to every engine that accepts a language.
func (f *STTFallback) SetLanguage(code string) {
	for _, t := range f.group.Values() {
		if ls, ok := t.(stt.LanguageSetter); ok {
			ls.SetLanguage(code)
		}
	}
}

// IsAutoDetect reports the primary engine's mode. Engines without the
// capability are treated as auto-detecting.
func (f *STTFallback) IsAutoDetect() bool {
	if ad, ok := f.group.Values()[0].(stt.AutoDetector); ok {
		return ad.IsAutoDetect()
	}
	return true
}

// ReloadModel switches the primary engine's model.
func (f *STTFallback) ReloadModel(ctx context.Context, name string) error {
	mr, ok := f.group.Values()[0].(stt.ModelReloader)
	if !ok {
		return stt.ErrNotSupported
	}
	return mr.ReloadModel(ctx, name)
}

// Close closes every engine that holds resources.
func (f *STTFallback) Close() error {
	var errs []error
	for _, t := range f.group.Values() {
		if c, ok := t.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
