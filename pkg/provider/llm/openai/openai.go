// Package openai talks to the OpenAI chat completions API through the
// official SDK. Self-hosted servers that speak the same protocol (vLLM,
// LM Studio, llama.cpp) are reached with WithBaseURL and need no API key.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/lingoxa/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// ErrNoChoices is returned when the server answers without a completion.
var ErrNoChoices = errors.New("openai: response has no choices")

// Provider is a chat model served over the chat completions API.
type Provider struct {
	client oai.Client
	model  string
	seed   *int64
}

type settings struct {
	baseURL    string
	org        string
	timeout    time.Duration
	maxRetries int
	seed       *int64
}

// Option configures a [Provider].
type Option func(*settings)

// WithBaseURL points the client at another OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithOrganization sends the OpenAI-Organization header.
func WithOrganization(org string) Option {
	return func(s *settings) { s.org = org }
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithMaxRetries sets the SDK retry count. Negative keeps the SDK default.
func WithMaxRetries(n int) Option {
	return func(s *settings) { s.maxRetries = n }
}

// WithSeed asks the server for reproducible sampling.
func WithSeed(seed int64) Option {
	return func(s *settings) { s.seed = &seed }
}

// New returns a provider for model. apiKey may only be empty together with
// [WithBaseURL].
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	s := settings{maxRetries: -1}
	for _, o := range opts {
		o(&s)
	}
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	if apiKey == "" && s.baseURL == "" {
		return nil, errors.New("openai: api key required for the hosted API")
	}

	var ro []option.RequestOption
	if apiKey != "" {
		ro = append(ro, option.WithAPIKey(apiKey))
	}
	if s.baseURL != "" {
		ro = append(ro, option.WithBaseURL(s.baseURL))
	}
	if s.org != "" {
		ro = append(ro, option.WithOrganization(s.org))
	}
	if s.timeout > 0 {
		ro = append(ro, option.WithHTTPClient(&http.Client{Timeout: s.timeout}))
	}
	if s.maxRetries >= 0 {
		ro = append(ro, option.WithMaxRetries(s.maxRetries))
	}
	return &Provider{client: oai.NewClient(ro...), model: model, seed: s.seed}, nil
}

// Model returns the configured model name.
func (p *Provider) Model() string { return p.model }

// Complete sends one chat completion request and returns the first choice.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion with %s: %w", p.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}
	choice := resp.Choices[0]
	return &llm.CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

func (p *Provider) params(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, oai.SystemMessage(req.SystemPrompt))
	}
	for i, m := range req.Messages {
		u, err := toParam(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, fmt.Errorf("openai: message %d: %w", i, err)
		}
		msgs = append(msgs, u)
	}

	out := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: msgs,
	}
	if req.Temperature != 0 {
		out.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		out.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if p.seed != nil {
		out.Seed = param.NewOpt(*p.seed)
	}
	return out, nil
}

func toParam(m llm.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case llm.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case llm.RoleUser:
		return oai.UserMessage(m.Content), nil
	case llm.RoleAssistant:
		return oai.AssistantMessage(m.Content), nil
	}
	return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unknown role %q", m.Role)
}
