// Package engine runs the conversation loop: it feeds session history and
// the user's message to a completion provider, executes the tool calls the
// model requests, and loops until the model produces plain text or the
// iteration cap trips. One turn, one transactional history commit.
package engine

import (
	"context"
	"encoding/json"
)

// Completion roles, aligned with the persistence layer's message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is one tool request issued by the model. ID correlates the
// eventual tool result back to this request.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// Message is one conversation message as the provider sees it.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall // assistant messages only
	ToolCallID string     // tool messages only
	ToolName   string     // tool messages only
}

// CompletionRequest is one provider call: full context, every time.
type CompletionRequest struct {
	System   string
	Messages []Message
}

// Completion is the provider's answer: either plain text, or one or more
// tool calls to execute (some providers emit text alongside tool calls).
type Completion struct {
	Text      string
	ToolCalls []ToolCall
}

// CompletionProvider abstracts the LLM behind the loop.
type CompletionProvider interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}
