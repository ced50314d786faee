// Package llm defines the Provider interface for text completion backends.
//
// The concierge uses an LLM to draft the short personalised reply shown after
// an event inquiry is submitted. Providers wrap a remote model API (Gemini
// through any-llm-go, or any OpenAI-compatible endpoint) behind a uniform
// interface so that callers do not couple to a specific SDK.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn of a conversation.
type Message struct {
	// Role is one of [RoleSystem], [RoleUser] or [RoleAssistant].
	Role string

	// Content is the text of the message.
	Content string
}

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message drives the reply.
	Messages []Message

	// SystemPrompt is an optional instruction sent ahead of Messages.
	SystemPrompt string

	// Temperature controls randomness. Zero leaves the provider default.
	Temperature float64

	// MaxTokens caps the number of generated tokens. Zero leaves the provider
	// default.
	MaxTokens int
}

// CompletionResponse is the result of [Provider.Complete].
type CompletionResponse struct {
	// Content is the full text of the reply. It may be empty if the model
	// produced nothing.
	Content string

	// Usage contains token accounting for the request.
	Usage Usage
}

// ModelCapabilities describes static limits of the configured model.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input and output combined.
	ContextWindow int

	// MaxOutputTokens is the maximum number of tokens one completion may yield.
	MaxOutputTokens int
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full reply. It returns
	// an error if the request fails or ctx is cancelled first.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns metadata about the underlying model. The result is
	// constant for the lifetime of the Provider.
	Capabilities() ModelCapabilities
}
