// Package mock provides a scripted [llm.Provider] for tests.
//
// Replies are taken from Script in order; once it is used up every call gets
// Response and Err. A translation test typically scripts the translation
// reply followed by the context summary:
//
//	p := &mock.Provider{Script: []mock.Step{
//	    {Response: mock.Reply("你好")},
//	    {Response: mock.Reply("Two people greet each other.")},
//	}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lingoxa/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Step is one scripted reply.
type Step struct {
	Response *llm.CompletionResponse
	Err      error
}

// Call records one invocation of Complete.
type Call struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Reply returns a finished response with content text.
func Reply(text string) *llm.CompletionResponse {
	return &llm.CompletionResponse{Content: text, FinishReason: llm.FinishStop}
}

// Provider is a scripted [llm.Provider]. Configure the exported fields before
// the first call.
type Provider struct {
	// Name is returned by Model.
	Name string

	// Script is consumed one step per call.
	Script []Step

	// Response and Err answer calls after Script is used up. A nil Response
	// with a nil Err is returned as is.
	Response *llm.CompletionResponse
	Err      error

	// Func, if set, answers every call instead.
	Func func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	mu    sync.Mutex
	next  int
	calls []Call
}

// Complete records the call and returns the next scripted reply.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Ctx: ctx, Req: req})
	fn := p.Func
	step := Step{Response: p.Response, Err: p.Err}
	if p.next < len(p.Script) {
		step = p.Script[p.next]
		p.next++
	}
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Response, nil
}

// Model returns Name.
func (p *Provider) Model() string { return p.Name }

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

// Requests returns the recorded requests in call order.
func (p *Provider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.CompletionRequest, len(p.calls))
	for i, c := range p.calls {
		out[i] = c.Req
	}
	return out
}

// Reset forgets recorded calls and rewinds Script.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls, p.next = nil, 0
}
