// Package llm defines the Completer interface for chat-completion backends.
//
// A Completer wraps a remote or local model API (e.g. OpenAI, Anthropic via
// any-llm, or an Ollama instance) behind a single-shot completion call. The
// translation and scoring engines drive it with structured prompts and parse
// the reply as JSON, so the interface carries a JSONOnly hint that backends
// map to their native structured-output mode where one exists.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
package llm

import "context"

// Message is a single message in a completion conversation.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Request carries everything the model needs to produce a completion.
// At minimum Messages must be non-empty.
type Request struct {
	// Messages is the ordered conversation. The last message is typically
	// from the "user" role and drives the response.
	Messages []Message

	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation. Backends without a dedicated system slot prepend it
	// as a "system"-role message.
	SystemPrompt string

	// Temperature controls output randomness in [0.0, 2.0]. The engines use
	// 0 for reproducible structured output; backends treat 0 as their
	// default, which for greedy decoding is what we want.
	Temperature float64

	// MaxTokens caps the completion length. Zero means the backend default.
	MaxTokens int

	// JSONOnly asks the backend to emit a single JSON value. Backends with a
	// native JSON response format enable it; others rely on the prompt.
	JSONOnly bool
}

// Usage holds token accounting returned by the backend. Counts are in the
// model's native token unit and may differ between backends for the same
// text.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input.
	PromptTokens int

	// CompletionTokens is the number of tokens generated.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// Response is the completed reply.
type Response struct {
	// Content is the full text of the model's reply.
	Content string

	// Usage contains token accounting for this request/response pair. Zero
	// when the backend does not report usage.
	Usage Usage
}

// Completer is the abstraction over any chat-completion backend.
type Completer interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or ctx is cancelled before the
	// completion arrives.
	Complete(ctx context.Context, req Request) (*Response, error)
}
