// Package llm provides interfaces and types for large language model
// providers, including streaming chat completions with tool calls.
package llm

import (
	"context"

	"github.com/chriscow/voiceagent/pkg/ai"
	"github.com/chriscow/voiceagent/pkg/chatctx"
)

// LLM-specific error variables for backward compatibility.
var (
	// ErrRecoverable indicates a temporary LLM failure that may succeed if retried.
	// Examples: rate limiting, temporary service error, timeout.
	ErrRecoverable = ai.ErrRecoverable

	// ErrFatal indicates a permanent LLM failure that will not succeed if retried.
	// Examples: invalid API key, unsupported model, content policy violation.
	ErrFatal = ai.ErrFatal
)

// ToolCall is a single tool invocation requested by the model mid-stream.
type ToolCall struct {
	CallID    string
	Name      string
	Arguments string // JSON-encoded, possibly partial until the chunk marked Done
}

// ChatChunk is one increment of a streaming chat completion. A ChatChunk
// carries either a piece of assistant text, a tool call delta, or (on the
// terminal chunk) usage accounting.
type ChatChunk struct {
	Delta        string
	ToolCalls    []ToolCall
	FinishReason string

	// Usage is only populated on the terminal chunk of the stream.
	Usage *Usage
}

// Usage reports token accounting for a completed request.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatRequest contains parameters for a chat completion request.
type ChatRequest struct {
	Chat        *chatctx.Context
	MaxTokens   int
	Temperature float32
	TopP        float32
	Tools       []ToolDefinition
	// ParallelToolCalls gates whether the provider may return more than one
	// ToolCall in a single turn.
	ParallelToolCalls bool
}

// ToolDefinition describes a function the model may call.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema
}

// ChatResponse is the aggregated result of a non-streaming chat completion.
type ChatResponse struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
}

// ChatStream is an active streaming chat completion.
type ChatStream interface {
	// Recv returns a channel of ChatChunks. It is closed when the stream
	// ends, whether cleanly or with an error retrievable via Err.
	Recv() <-chan ChatChunk
	// Err returns the terminal error of the stream, if any. Only
	// meaningful after Recv's channel has closed.
	Err() error
	// Close aborts the stream, releasing any underlying connection.
	Close() error
}

// Capabilities describes the capabilities of an LLM provider.
type Capabilities struct {
	SupportsTools      bool
	SupportsStreaming  bool
	MaxTokens          int
	SupportedModels    []string
	SupportsSystemRole bool
}

// LLM is the main interface for large language model providers.
type LLM interface {
	// Chat performs a non-streaming chat completion request.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)

	// ChatStreaming performs a streaming chat completion request.
	ChatStreaming(ctx context.Context, req ChatRequest) (ChatStream, error)

	// Capabilities returns the provider's capabilities.
	Capabilities() Capabilities
}
