package domain

import (
	"encoding/json"
	"time"
)

// RunStatus represents the status of a run.
type RunStatus string

const (
	RunStatusCreated RunStatus = "CREATED"
	RunStatusRunning RunStatus = "RUNNING"
	RunStatusDone    RunStatus = "DONE"
	RunStatusFailed  RunStatus = "FAILED"
)

// IsTerminalRunStatus reports whether a run can no longer change state.
func IsTerminalRunStatus(status RunStatus) bool {
	return status == RunStatusDone || status == RunStatusFailed
}

// EventType represents the type of a trace event.
type EventType string

const (
	EventTypeRunStarted       EventType = "run_started"
	EventTypeUserInput        EventType = "user_input"
	EventTypeLLMCallStarted   EventType = "llm_call_started"
	EventTypeLLMCallDone      EventType = "llm_call_done"
	EventTypeDraftDone        EventType = "draft_done"
	EventTypeToolBatchStarted EventType = "tool_batch_started"
	EventTypePolicyDecision   EventType = "policy_decision"
	EventTypeToolBatchDone    EventType = "tool_batch_done"
	EventTypeRevisionDone     EventType = "revision_done"
	EventTypeRunDone          EventType = "run_done"
	EventTypeRunFailed        EventType = "run_failed"
)

// Run represents a single execution of the research loop.
type Run struct {
	RunID     string          `json:"run_id"`
	Question  string          `json:"question"`
	Status    RunStatus       `json:"status"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
}

// Event represents a trace event for replay. Seq is assigned by the store in
// insertion order; it is the pagination cursor, since Ts collapses to the
// same millisecond for events recorded back to back.
type Event struct {
	EventID string          `json:"event_id"`
	RunID   string          `json:"run_id"`
	Ts      int64           `json:"ts"` // Unix milliseconds
	Seq     int64           `json:"seq,omitempty"`
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RunStartedPayload is the payload for run_started event.
type RunStartedPayload struct {
	Question string `json:"question"`
}

// UserInputPayload is the payload for user_input event.
type UserInputPayload struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

// LLMCallPayload is the payload for llm_call_started and llm_call_done
// events.
type LLMCallPayload struct {
	Variant   string `json:"variant"`
	MessageID string `json:"message_id,omitempty"`
	Validated bool   `json:"validated,omitempty"`
}

// StagePayload is the payload for draft_done and revision_done events.
type StagePayload struct {
	MessageID  string `json:"message_id"`
	ToolCalls  int    `json:"tool_calls"`
	Queries    int    `json:"queries"`
	Validated  bool   `json:"validated"`
	Iterations int    `json:"iterations"`
}

// PolicyDecisionPayload is the payload for policy_decision event.
type PolicyDecisionPayload struct {
	CallID   string `json:"call_id"`
	Query    string `json:"query"`
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
}

// ToolBatchPayload is the payload for tool_batch_started and tool_batch_done
// events.
type ToolBatchPayload struct {
	MessageID    string   `json:"message_id"`
	CallIDs      []string `json:"call_ids,omitempty"`
	Queries      int      `json:"queries"`
	Blocked      int      `json:"blocked,omitempty"`
	Failed       int      `json:"failed,omitempty"`
	PolicyErrors int      `json:"policy_errors,omitempty"`
}

// RunDonePayload is the payload for run_done event.
type RunDonePayload struct {
	FinalMessageID string `json:"final_message_id"`
	Iterations     int    `json:"iterations"`
}

// RunFailedPayload is the payload for run_failed event.
type RunFailedPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
