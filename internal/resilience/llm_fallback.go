package resilience

import (
	"context"
	"sync/atomic"

	"github.com/MrWong99/lingoxa/pkg/provider/llm"
)

var _ llm.Provider = (*LLMFallback)(nil)

// LLMFallback is an [llm.Provider] that fails over across translation models.
// A reply cut off at the token limit counts as a success; the caller decides
// what a truncated reply means.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]

	// served is the model of the backend that answered last.
	served atomic.Pointer[string]
}

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	if cfg.Kind == "" {
		cfg.Kind = "llm"
	}
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) {
	f.group.AddFallback(name, p)
}

// States reports each backend's breaker state by name.
func (f *LLMFallback) States() map[string]string { return f.group.States() }

// Complete sends req to the first healthy backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		resp, err := p.Complete(ctx, req)
		if err == nil {
			model := p.Model()
			f.served.Store(&model)
		}
		return resp, err
	})
}

// Model returns the model that answered the most recent successful call, or
// the primary's model before the first one. Request metrics are labelled with
// it, so failovers show up under the model that actually served.
func (f *LLMFallback) Model() string {
	if m := f.served.Load(); m != nil {
		return *m
	}
	return f.group.Values()[0].Model()
}
