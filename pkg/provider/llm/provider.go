// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI GPT-4, a local
// Ollama instance) and exposes a uniform text-in/text-out interface for the
// conversation engine to run its classification and generation prompts without
// coupling to any specific SDK.
//
// Implementations must be safe for concurrent use: a single provider instance is
// shared between every active call of a softphone pool.
package llm

import "context"

// Chat message roles as used in CompletionRequest.Messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn of a conversation: either something the caller said
// (RoleUser) or something the system uttered on the call (RoleAssistant).
type Message struct {
	Role    string
	Content string
}

// CompletionRequest carries everything the LLM needs to produce a response.
//
// The engine issues two kinds of requests: tightly constrained classification
// prompts (verify information, verify choice) and open-ended generation prompts
// (elicitation, scripted prompt items). Both map onto the same shape.
type CompletionRequest struct {
	// SystemPrompts are high-priority instructions injected before the
	// conversation history, in order. Providers emit one system message each.
	SystemPrompts []string

	// Messages is the ordered chat history of the call so far.
	Messages []Message

	// UserInput, when non-empty, is appended after the history as a final
	// user-role message. Classification prompts use this to put the message
	// under test in a prominent position.
	UserInput string
}

// Provider is the abstraction over any chat-completion backend.
//
// Complete runs a single blocking completion and returns the model's text.
// Errors are fatal to the conversation step that issued the request; the
// engine recovers by falling back to the aborted path.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}
