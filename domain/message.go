// Package domain defines the core domain models for the research loop.
package domain

import (
	"encoding/json"
	"time"
)

// Role identifies who produced a message.
type Role string

const (
	RoleHuman      Role = "human"
	RoleModel      Role = "model"
	RoleToolResult Role = "tool_result"
)

// Operation is the closed set of tool operations a model may request.
type Operation string

const (
	// OpSearch runs every query of a tool call as an independent web search.
	OpSearch Operation = "search"
)

// KnownOperation reports whether op is part of the closed operation set.
func KnownOperation(op Operation) bool {
	return op == OpSearch
}

// ToolCall is a model-issued request to execute one operation against a
// batch of query strings. The ID is assigned by the backend and is unique
// within the message that carries the call.
type ToolCall struct {
	ID      string    `json:"id"`
	Op      Operation `json:"op"`
	Queries []string  `json:"queries"`
}

// Message is one entry of a conversation. Exactly one role-specific field
// group is populated:
//
//   - RoleHuman: Content.
//   - RoleModel: Content plus ToolCalls and the Structured candidate.
//   - RoleToolResult: CallID plus Results, keyed by query string.
//
// Messages are immutable once appended to a Conversation.
type Message struct {
	MessageID  string                     `json:"message_id"`
	RunID      string                     `json:"run_id,omitempty"`
	Role       Role                       `json:"role"`
	Content    string                     `json:"content,omitempty"`
	ToolCalls  []ToolCall                 `json:"tool_calls,omitempty"`
	Structured json.RawMessage            `json:"structured,omitempty"`
	CallID     string                     `json:"call_id,omitempty"`
	Results    map[string]json.RawMessage `json:"results,omitempty"`
	CreatedAt  time.Time                  `json:"created_at"`
}
