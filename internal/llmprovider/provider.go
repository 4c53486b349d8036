// Package llmprovider wires the RAG orchestrator (§4.8) to a chat-completion
// backend through the OpenAI-compatible API shared by both provider variants
// named in spec.md: a Mistral-hosted model and a self-hosted Chocolatine
// deployment. Both speak the same wire protocol, so one client
// implementation serves either, distinguished only by base URL and model
// name (see dispatch.go).
package llmprovider

import (
	"context"
	"encoding/json"
)

// ToolDefinition describes a single callable tool offered to the model, in
// the shape the orchestrator's search_knowledge_base tool uses (§4.8).
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema
}

// ToolCall is a model-emitted request to invoke one tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON arguments
}

// Message is one turn in a chat-completion exchange. Exactly one of Content
// or ToolCalls is meaningful for an assistant turn; ToolCallID is set only
// on role "tool" messages, the result fed back after executing a ToolCall.
type Message struct {
	Role       string // "system" | "user" | "assistant" | "tool"
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// CompletionResult is one model turn: either a final textual answer
// (len(ToolCalls) == 0) or a request to invoke tools.
type CompletionResult struct {
	Content          string
	ToolCalls        []ToolCall
	PromptTokens     int
	CompletionTokens int
}

// ChatClient is the capability interface both sealed provider variants
// implement. The orchestrator depends only on this interface (DESIGN NOTES
// §9: sealed provider variant pattern).
type ChatClient interface {
	// ChatComplete sends messages with no tools and returns the model's
	// final text.
	ChatComplete(ctx context.Context, messages []Message) (CompletionResult, error)
	// ChatCompleteWithTools sends messages plus a tool catalogue; the model
	// may respond with ToolCalls instead of final text.
	ChatCompleteWithTools(ctx context.Context, messages []Message, tools []ToolDefinition) (CompletionResult, error)
}

// MarshalArguments is a small helper for tests and callers constructing a
// tool-call result to feed back to ChatCompleteWithTools.
func MarshalArguments(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
