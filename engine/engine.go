// Package engine implements the reflect-revise research loop as a state
// machine over an append-only conversation.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/SilenceZen/langgraph/dispatch"
	"github.com/SilenceZen/langgraph/domain"
	"github.com/SilenceZen/langgraph/llm"
	"github.com/SilenceZen/langgraph/responder"
	"github.com/SilenceZen/langgraph/store"
)

// State is a stage of the research loop.
type State string

const (
	StateDraft        State = "DRAFT"
	StateExecuteTools State = "EXECUTE_TOOLS"
	StateRevise       State = "REVISE"
	StateTerminated   State = "TERMINATED"
	StateFailed       State = "FAILED"
)

// Engine sequences Draft -> ExecuteTools -> Revise -> (ExecuteTools |
// Terminated). It owns the canonical conversation of a run; every component
// it calls returns new messages instead of mutating shared state, so the
// loop itself is strictly sequential.
type Engine struct {
	responder     *responder.Responder
	dispatcher    *dispatch.Dispatcher
	store         store.Store
	maxIterations int
	runTimeout    time.Duration
}

// New creates an engine. MaxIterations of zero or less falls back to 5.
func New(r *responder.Responder, d *dispatch.Dispatcher, st store.Store, maxIterations int, runTimeout time.Duration) *Engine {
	if maxIterations <= 0 {
		maxIterations = 5
	}
	if runTimeout <= 0 {
		runTimeout = 10 * time.Minute
	}
	return &Engine{
		responder:     r,
		dispatcher:    d,
		store:         st,
		maxIterations: maxIterations,
		runTimeout:    runTimeout,
	}
}

// RunResult is the deliverable of a completed run.
type RunResult struct {
	RunID      string          `json:"run_id"`
	Answer     json.RawMessage `json:"answer"`
	Iterations int             `json:"iterations"`
}

// Run executes the whole loop synchronously and returns the structured
// payload of the final model message. This is the single boundary operation;
// drivers that want fire-and-poll semantics use Start instead.
func (e *Engine) Run(ctx context.Context, question string) (*RunResult, error) {
	run, err := e.createRun(ctx, question)
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, run)
}

// Start creates the run record and executes the loop in the background,
// bounded by the configured run timeout. The returned run ID can be polled
// through the store.
func (e *Engine) Start(ctx context.Context, question string) (string, error) {
	run, err := e.createRun(ctx, question)
	if err != nil {
		return "", err
	}

	go func() {
		runCtx, cancel := context.WithTimeout(context.Background(), e.runTimeout)
		defer cancel()
		if _, err := e.execute(runCtx, run); err != nil {
			log.Printf("ERROR: run %s failed: %v", run.RunID, err)
		}
	}()

	return run.RunID, nil
}

func (e *Engine) createRun(ctx context.Context, question string) (*domain.Run, error) {
	if question == "" {
		return nil, fmt.Errorf("question is required")
	}

	run := &domain.Run{
		RunID:     "run_" + uuid.New().String()[:8],
		Question:  question,
		Status:    domain.RunStatusCreated,
		StartedAt: time.Now(),
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

func (e *Engine) execute(ctx context.Context, run *domain.Run) (*RunResult, error) {
	if err := e.store.UpdateRunStatus(ctx, run.RunID, domain.RunStatusRunning); err != nil {
		log.Printf("ERROR: failed to update run status: %v", err)
	}
	e.recordEvent(ctx, run.RunID, domain.EventTypeRunStarted, domain.RunStartedPayload{Question: run.Question})

	human := domain.Message{
		MessageID: "msg_" + uuid.New().String()[:8],
		RunID:     run.RunID,
		Role:      domain.RoleHuman,
		Content:   run.Question,
		CreatedAt: time.Now(),
	}
	e.persistMessage(ctx, human)
	e.recordEvent(ctx, run.RunID, domain.EventTypeUserInput, domain.UserInputPayload{
		MessageID: human.MessageID,
		Content:   human.Content,
	})

	conv := domain.NewConversation(human)
	state := StateDraft

	for state != StateTerminated {
		if err := ctx.Err(); err != nil {
			return nil, e.fail(run, "cancelled", err)
		}

		switch state {
		case StateDraft:
			msg, err := e.respond(ctx, run, conv, llm.DraftVariant, domain.EventTypeDraftDone)
			if err != nil {
				return nil, e.fail(run, "backend_error", err)
			}
			conv = conv.Append(msg)
			state = StateExecuteTools

		case StateExecuteTools:
			last, ok := conv.LastModel()
			if !ok {
				return nil, e.fail(run, "internal_error", fmt.Errorf("no model message to execute tools for"))
			}
			msgs, err := e.executeTools(ctx, run, last)
			if err != nil {
				return nil, e.fail(run, "tool_error", err)
			}
			conv = conv.Append(msgs...)
			state = StateRevise

		case StateRevise:
			msg, err := e.respond(ctx, run, conv, llm.ReviseVariant, domain.EventTypeRevisionDone)
			if err != nil {
				return nil, e.fail(run, "backend_error", err)
			}
			conv = conv.Append(msg)

			// Termination is a pure function of the conversation: more than
			// maxIterations trailing generated messages ends the loop. The
			// strict inequality is deliberate and load-bearing.
			if conv.IterationDepth() > e.maxIterations {
				state = StateTerminated
			} else {
				state = StateExecuteTools
			}
		}
	}

	final, _ := conv.LastModel()
	answer := final.Structured
	if len(answer) == 0 || !json.Valid(answer) {
		// Every attempt failed validation and the candidate is absent or not
		// even parseable JSON; surface the free text rather than storing a
		// result the API could never re-serialize.
		answer, _ = json.Marshal(map[string]string{"answer": final.Content})
	}

	if err := e.store.UpdateRunCompleted(ctx, run.RunID, domain.RunStatusDone, answer, nil); err != nil {
		log.Printf("ERROR: failed to complete run: %v", err)
	}
	e.recordEvent(ctx, run.RunID, domain.EventTypeRunDone, domain.RunDonePayload{
		FinalMessageID: final.MessageID,
		Iterations:     conv.IterationDepth(),
	})

	return &RunResult{
		RunID:      run.RunID,
		Answer:     answer,
		Iterations: conv.IterationDepth(),
	}, nil
}

// respond runs one responder stage and persists its outcome.
func (e *Engine) respond(ctx context.Context, run *domain.Run, conv domain.Conversation, v llm.Variant, done domain.EventType) (domain.Message, error) {
	e.recordEvent(ctx, run.RunID, domain.EventTypeLLMCallStarted, domain.LLMCallPayload{Variant: v.Name})

	msg, err := e.responder.Respond(ctx, conv, v)
	if err != nil {
		return domain.Message{}, err
	}
	msg.RunID = run.RunID
	e.persistMessage(ctx, msg)

	validated := domain.ValidateStructured(v.Schema, msg.Structured) == nil
	e.recordEvent(ctx, run.RunID, domain.EventTypeLLMCallDone, domain.LLMCallPayload{
		Variant:   v.Name,
		MessageID: msg.MessageID,
		Validated: validated,
	})

	queries := 0
	for _, call := range msg.ToolCalls {
		queries += len(call.Queries)
	}
	e.recordEvent(ctx, run.RunID, done, domain.StagePayload{
		MessageID:  msg.MessageID,
		ToolCalls:  len(msg.ToolCalls),
		Queries:    queries,
		Validated:  validated,
		Iterations: conv.IterationDepth() + 1,
	})
	return msg, nil
}

// executeTools dispatches the latest model message's tool calls and persists
// the correlated results.
func (e *Engine) executeTools(ctx context.Context, run *domain.Run, last domain.Message) ([]domain.Message, error) {
	e.recordEvent(ctx, run.RunID, domain.EventTypeToolBatchStarted, domain.ToolBatchPayload{
		MessageID: last.MessageID,
		Queries:   countQueries(last),
	})

	msgs, report, err := e.dispatcher.Execute(ctx, last)
	if err != nil {
		return nil, err
	}

	for _, blocked := range report.Blocked {
		e.recordEvent(ctx, run.RunID, domain.EventTypePolicyDecision, domain.PolicyDecisionPayload{
			CallID:   blocked.CallID,
			Query:    blocked.Query,
			Decision: "block",
			Reason:   blocked.Reason,
		})
	}

	callIDs := make([]string, 0, len(msgs))
	for _, m := range msgs {
		e.persistMessage(ctx, m)
		callIDs = append(callIDs, m.CallID)
	}

	e.recordEvent(ctx, run.RunID, domain.EventTypeToolBatchDone, domain.ToolBatchPayload{
		MessageID:    last.MessageID,
		CallIDs:      callIDs,
		Queries:      report.Queries,
		Blocked:      len(report.Blocked),
		Failed:       len(report.Failed),
		PolicyErrors: len(report.PolicyErrors),
	})
	return msgs, nil
}

// fail marks the run FAILED and returns the original error. Bookkeeping uses
// a fresh context so a cancelled run still gets its terminal state recorded.
func (e *Engine) fail(run *domain.Run, code string, cause error) error {
	bgCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errData, _ := json.Marshal(domain.RunFailedPayload{Code: code, Message: cause.Error()})
	if err := e.store.UpdateRunCompleted(bgCtx, run.RunID, domain.RunStatusFailed, nil, errData); err != nil {
		log.Printf("ERROR: failed to mark run failed: %v", err)
	}
	e.recordEvent(bgCtx, run.RunID, domain.EventTypeRunFailed, domain.RunFailedPayload{Code: code, Message: cause.Error()})
	return fmt.Errorf("run %s: %w", run.RunID, cause)
}

func (e *Engine) persistMessage(ctx context.Context, msg domain.Message) {
	if err := e.store.CreateMessage(ctx, &msg); err != nil {
		// Trace storage failure should not abort the run.
		log.Printf("ERROR: failed to save message %s: %v", msg.MessageID, err)
	}
}

func (e *Engine) recordEvent(ctx context.Context, runID string, eventType domain.EventType, payload interface{}) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		log.Printf("ERROR: failed to marshal %s payload: %v", eventType, err)
		return
	}
	event := &domain.Event{
		EventID: "evt_" + uuid.New().String()[:8],
		RunID:   runID,
		Ts:      time.Now().UnixMilli(),
		Type:    eventType,
		Payload: payloadBytes,
	}
	if err := e.store.CreateEvent(ctx, event); err != nil {
		log.Printf("ERROR: failed to record %s event: %v", eventType, err)
	}
}

func countQueries(msg domain.Message) int {
	n := 0
	for _, call := range msg.ToolCalls {
		n += len(call.Queries)
	}
	return n
}
