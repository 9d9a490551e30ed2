package translation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/lingoxa/internal/observe"
	"github.com/MrWong99/lingoxa/internal/translation/prompt"
	"github.com/MrWong99/lingoxa/pkg/provider/llm"
)

// System prompts and sampling parameters for the two model calls.
const (
	translateSystemPrompt = "You are a helpful translator."
	summarizeSystemPrompt = "You are a helpful summarizer."

	defaultTemperature = 0.3
	translateMaxTokens = 1000
	summarizeMaxTokens = 500
)

var (
	// ErrEmptyResponse is returned when a model replies with no text.
	ErrEmptyResponse = errors.New("translation: empty model response")

	// ErrTruncated is returned when a context summary hit its token cap.
	// A cut-off summary would replace the scenario context with a fragment.
	ErrTruncated = errors.New("translation: summary truncated")
)

// Result is one translated sentence.
type Result struct {
	Text      string
	TokensIn  int
	TokensOut int
}

// Translator is the model-facing half of the pipeline.
type Translator interface {
	// Translate renders sentence in the target language, using context to
	// resolve references.
	Translate(ctx context.Context, sentence, context string) (Result, error)

	// Summarize folds newText into oldContext and returns the new context.
	Summarize(ctx context.Context, oldContext, newText string, useOriginal bool) (string, error)

	// SetTargetLanguage changes the output language of later translations.
	SetTargetLanguage(lang string)

	// TargetLanguage returns the current output language.
	TargetLanguage() string
}

// LLMTranslator implements [Translator] with chat-completion models. The
// translation and summary calls may use different providers.
//
// LLMTranslator is safe for concurrent use.
type LLMTranslator struct {
	translate llm.Provider
	summarize llm.Provider
	metrics   *observe.Metrics
	timeout   time.Duration

	mu     sync.RWMutex
	target string
}

var _ Translator = (*LLMTranslator)(nil)

// LLMOption configures an [LLMTranslator].
type LLMOption func(*LLMTranslator)

// WithSummaryProvider uses p for context summaries instead of the
// translation provider.
func WithSummaryProvider(p llm.Provider) LLMOption {
	return func(t *LLMTranslator) { t.summarize = p }
}

// WithTargetLanguage sets the initial output language.
// Default: [prompt.DefaultTargetLanguage].
func WithTargetLanguage(lang string) LLMOption {
	return func(t *LLMTranslator) { t.target = lang }
}

// WithCallTimeout bounds each model call. Zero (the default) leaves calls
// bounded only by the caller's context.
func WithCallTimeout(d time.Duration) LLMOption {
	return func(t *LLMTranslator) { t.timeout = d }
}

// WithLLMMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithLLMMetrics(m *observe.Metrics) LLMOption {
	return func(t *LLMTranslator) { t.metrics = m }
}

// NewLLMTranslator returns a translator backed by p.
func NewLLMTranslator(p llm.Provider, opts ...LLMOption) (*LLMTranslator, error) {
	if p == nil {
		return nil, errors.New("translation: translation provider must not be nil")
	}
	t := &LLMTranslator{translate: p, target: prompt.DefaultTargetLanguage}
	for _, o := range opts {
		o(t)
	}
	if t.summarize == nil {
		t.summarize = p
	}
	if t.metrics == nil {
		t.metrics = observe.DefaultMetrics()
	}
	return t, nil
}

// SetTargetLanguage implements [Translator].
func (t *LLMTranslator) SetTargetLanguage(lang string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.target = lang
}

// TargetLanguage implements [Translator].
func (t *LLMTranslator) TargetLanguage() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.target
}

// Translate implements [Translator].
func (t *LLMTranslator) Translate(ctx context.Context, sentence, scenario string) (Result, error) {
	ctx, span := observe.StartSpan(ctx, "translation.translate")
	defer span.End()

	resp, err := t.complete(ctx, t.translate, "translate", llm.CompletionRequest{
		SystemPrompt: translateSystemPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: prompt.Translation(sentence, scenario, t.TargetLanguage())},
		},
		Temperature: defaultTemperature,
		MaxTokens:   translateMaxTokens,
	})
	if err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("translation: translate: %w", err)
	}
	return Result{
		Text:      resp.Content,
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
	}, nil
}

// Summarize implements [Translator].
func (t *LLMTranslator) Summarize(ctx context.Context, oldContext, newText string, useOriginal bool) (string, error) {
	ctx, span := observe.StartSpan(ctx, "translation.summarize")
	defer span.End()

	resp, err := t.complete(ctx, t.summarize, "summarize", llm.CompletionRequest{
		SystemPrompt: summarizeSystemPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: prompt.Summary(oldContext, newText, useOriginal)},
		},
		Temperature: defaultTemperature,
		MaxTokens:   summarizeMaxTokens,
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("translation: summarize: %w", err)
	}
	return resp.Content, nil
}

// complete sends req to p and records latency and request metrics. The reply
// is trimmed; an empty reply is an error.
func (t *LLMTranslator) complete(ctx context.Context, p llm.Provider, kind string, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := p.Complete(ctx, req)
	took := time.Since(start)
	if err == nil && (resp == nil || strings.TrimSpace(resp.Content) == "") {
		err = ErrEmptyResponse
	}
	if err != nil {
		t.metrics.RecordCompletion(ctx, p.Model(), kind, observe.StatusError, took)
		return nil, err
	}
	if resp.Truncated() {
		t.metrics.RecordCompletion(ctx, p.Model(), kind, observe.StatusTruncated, took)
		if kind == "summarize" {
			return nil, ErrTruncated
		}
		observe.Logger(ctx).Warn("translation: reply truncated at token limit", "model", p.Model(), "max_tokens", req.MaxTokens)
	} else {
		t.metrics.RecordCompletion(ctx, p.Model(), kind, observe.StatusOK, took)
	}
	out := *resp
	out.Content = strings.TrimSpace(out.Content)
	return &out, nil
}
