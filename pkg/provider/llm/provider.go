// Package llm defines the chat-completion interface the translation engine
// talks to. Sentences are translated and the scenario context summarised with
// single non-streaming calls, so one method is enough.
//
// Implementations must be safe for concurrent use: translations of different
// sentences run on separate goroutines.
package llm

import "context"

// CompletionRequest is one call to a chat model. Messages must not be empty.
type CompletionRequest struct {
	// SystemPrompt is sent ahead of Messages. Backends without a system
	// field receive it as a system-role message.
	SystemPrompt string

	Messages []Message

	// Temperature in [0, 2]. Zero keeps the backend default.
	Temperature float64

	// MaxTokens caps the reply length. Zero keeps the backend default.
	MaxTokens int
}

// CompletionResponse is the reply to a [CompletionRequest].
type CompletionResponse struct {
	Content string
	Usage   Usage

	// FinishReason is why the model stopped, e.g. [FinishStop]. Empty when
	// the backend does not say.
	FinishReason string
}

// Truncated reports whether the reply was cut off by MaxTokens.
func (r *CompletionResponse) Truncated() bool {
	return r.FinishReason == FinishLength
}

// Provider is a chat model backend.
type Provider interface {
	// Complete sends req and waits for the whole reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Model returns the model identifier, used as the provider label in
	// metrics.
	Model() string
}
