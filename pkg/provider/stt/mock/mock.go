// Package mock provides a test double for the stt package interfaces.
//
// Transcriber implements [stt.Transcriber] together with every optional
// capability interface. Queue results in Results (consumed in order), or set
// Text/Err for a fixed answer, then inspect TranscribeCalls.
//
// Example:
//
//	tr := &mock.Transcriber{Results: []mock.Result{{Text: "hello"}, {Err: errBoom}}}
//	text, _ := tr.Transcribe(ctx, samples, 16000) // "hello"
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lingoxa/pkg/provider/stt"
)

// Result is one queued Transcribe outcome.
type Result struct {
	Text string
	Err  error
}

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Samples is a copy of the audio passed to Transcribe.
	Samples []float32
	// SampleRate is the rate passed to Transcribe.
	SampleRate int
	// Language is the engine language at call time.
	Language string
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Results are returned in order by Transcribe. When exhausted, Text and Err
	// are returned.
	Results []Result

	// Text is the fallback transcript once Results is exhausted.
	Text string

	// Err is the fallback error once Results is exhausted.
	Err error

	// Language is the current language ("" means auto-detect).
	Language string

	// Model is the currently loaded model name.
	Model string

	// ReloadErr, if non-nil, is returned by ReloadModel.
	ReloadErr error

	// --- Call records ---

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall

	// SetLanguageCalls records every language passed to SetLanguage.
	SetLanguageCalls []string

	// ReloadModelCalls records every model name passed to ReloadModel.
	ReloadModelCalls []string

	// CloseCount records how many times Close was called.
	CloseCount int
}

// Transcribe records the call and returns the next queued result.
func (t *Transcriber) Transcribe(_ context.Context, samples []float32, sampleRate int) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make([]float32, len(samples))
	copy(cp, samples)
	t.TranscribeCalls = append(t.TranscribeCalls, TranscribeCall{Samples: cp, SampleRate: sampleRate, Language: t.Language})
	if len(t.Results) > 0 {
		r := t.Results[0]
		t.Results = t.Results[1:]
		return r.Text, r.Err
	}
	return t.Text, t.Err
}

// SetLanguage records the call. "auto" is normalised to "".
func (t *Transcriber) SetLanguage(code string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.SetLanguageCalls = append(t.SetLanguageCalls, code)
	t.Language = stt.NormalizeLanguage(code)
}

// IsAutoDetect reports whether Language is empty.
func (t *Transcriber) IsAutoDetect() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Language == ""
}

// ReloadModel records the call and switches Model unless ReloadErr is set.
func (t *Transcriber) ReloadModel(_ context.Context, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReloadModelCalls = append(t.ReloadModelCalls, name)
	if t.ReloadErr != nil {
		return t.ReloadErr
	}
	t.Model = name
	return nil
}

// Close records the call.
func (t *Transcriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CloseCount++
	return nil
}

// Calls returns a snapshot of TranscribeCalls. Thread-safe.
func (t *Transcriber) Calls() []TranscribeCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TranscribeCall, len(t.TranscribeCalls))
	copy(out, t.TranscribeCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (t *Transcriber) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.TranscribeCalls = nil
	t.SetLanguageCalls = nil
	t.ReloadModelCalls = nil
	t.CloseCount = 0
}

var (
	_ stt.Transcriber    = (*Transcriber)(nil)
	_ stt.LanguageSetter = (*Transcriber)(nil)
	_ stt.AutoDetector   = (*Transcriber)(nil)
	_ stt.ModelReloader  = (*Transcriber)(nil)
)
