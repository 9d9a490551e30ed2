// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// A Transcriber turns a complete buffer of mono float32 audio into text. It is
// a batch interface: the STT manager owns buffering and voice-activity
// detection and hands every decode window to the engine in full, so engines
// stay stateless between calls apart from their configuration.
//
// Engines may implement the optional capability interfaces [LanguageSetter],
// [AutoDetector] and [ModelReloader]. Callers must type-assert for them and
// treat a missing capability as "not supported".
package stt

import (
	"context"
	"errors"
	"strings"
)

// AutoLanguage selects automatic language detection.
const AutoLanguage = "auto"

// ErrNotSupported is returned when an engine cannot honour a configuration
// change (e.g. a model reload on a hosted API with a fixed model).
var ErrNotSupported = errors.New("stt: operation not supported by engine")

// Transcriber is the abstraction over any STT engine.
//
// Implementations need not be safe for concurrent use; the STT manager calls
// every method from a single goroutine.
type Transcriber interface {
	// Transcribe decodes samples (mono float32 in [-1, 1] at sampleRate) and
	// returns the recognised text, trimmed of surrounding whitespace. An empty
	// string means nothing intelligible was heard.
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error)
}

// LanguageSetter is implemented by engines whose recognition language can be
// changed without rebuilding them. "" and [AutoLanguage] select auto-detect.
type LanguageSetter interface {
	SetLanguage(code string)
}

// AutoDetector reports whether the engine currently auto-detects language.
// Auto-detection is slower, so the STT manager decodes less often.
type AutoDetector interface {
	IsAutoDetect() bool
}

// ModelReloader is implemented by engines that can swap their model in place.
// Reloading the currently loaded model must be a no-op.
type ModelReloader interface {
	ReloadModel(ctx context.Context, name string) error
}

// NormalizeLanguage maps "" and "auto" (any case) to "" and lower-cases
// everything else.
func NormalizeLanguage(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == AutoLanguage {
		return ""
	}
	return code
}
