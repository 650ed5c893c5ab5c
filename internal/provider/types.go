// Package provider defines the LLM provider contract consumed by the drive
// loop, plus the retry wrapper, failure classifier, and context-health
// evaluator layered on top of it.
package provider

import "context"

// Provider is the interface all LLM providers must implement.
type Provider interface {
	// GenToReceiver streams a generation into recv and returns final usage.
	GenToReceiver(ctx context.Context, req GenRequest, recv *Receiver) (GenResult, error)

	// GenMessages runs a generation in batch mode, returning the complete
	// assistant message array.
	GenMessages(ctx context.Context, req GenRequest) ([]Message, GenResult, error)

	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string
}

// GenRequest is the input for one model generation.
type GenRequest struct {
	SystemPrompt string
	Messages     []Message
	Tools        []ToolDef
	Model        string
	Genseq       int64
	MaxTokens    int
}

// GenResult carries usage and the concrete model that generated.
type GenResult struct {
	Usage Usage
	Model string
}

// Receiver holds streaming callbacks. Nil funcs are skipped.
type Receiver struct {
	OnThinkingChunk func(text string)
	OnSayingStart   func()
	OnSayingChunk   func(text string)
	OnSayingFinish  func(full string)
	OnToolCall      func(call ToolCall)
}

// Message is a provider-projected conversation message.
type Message struct {
	Role       string     `json:"role"` // "user", "assistant", "tool"
	Content    string     `json:"content"`
	Thinking   string     `json:"thinking,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // for role="tool" responses
}

// ToolCall is a tool invocation requested by the model. Arguments stay as the
// raw JSON string; validation happens in the tool round.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDef describes a tool available to the model.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage tracks token consumption for one generation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}
