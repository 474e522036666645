// Package dispatch executes the search operations requested by a model
// message and correlates the results back to their originating tool calls.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/SilenceZen/langgraph/domain"
	"github.com/SilenceZen/langgraph/policy"
	"github.com/SilenceZen/langgraph/search"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// QueryPolicy gates individual queries before dispatch. *policy.Engine is
// the production implementation.
type QueryPolicy interface {
	Evaluate(ctx context.Context, input policy.Input) (decision string, reason string, err error)
}

// Dispatcher runs the flattened query batch of a model message. Queries run
// concurrently up to the configured limit; failures and policy blocks are
// isolated per query so one bad lookup never loses its siblings.
type Dispatcher struct {
	provider     search.Provider
	policyEngine QueryPolicy // nil disables the policy gate
	concurrency  int
	queryTimeout time.Duration
}

// New creates a dispatcher. A concurrency of zero or less falls back to 1;
// a zero timeout leaves query deadlines to the caller's context.
func New(provider search.Provider, policyEngine QueryPolicy, concurrency int, queryTimeout time.Duration) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Dispatcher{
		provider:     provider,
		policyEngine: policyEngine,
		concurrency:  concurrency,
		queryTimeout: queryTimeout,
	}
}

// BlockedQuery records a query the policy refused.
type BlockedQuery struct {
	CallID string `json:"call_id"`
	Query  string `json:"query"`
	Reason string `json:"reason,omitempty"`
}

// FailedQuery records a query whose lookup failed.
type FailedQuery struct {
	CallID string `json:"call_id"`
	Query  string `json:"query"`
	Error  string `json:"error"`
}

// PolicyError records a query whose policy evaluation itself failed. Such a
// query is still dispatched: the gate fails open, but never silently.
type PolicyError struct {
	CallID string `json:"call_id"`
	Query  string `json:"query"`
	Error  string `json:"error"`
}

// Report summarizes one executed batch for the run's event trace.
type Report struct {
	Queries      int            `json:"queries"`
	Blocked      []BlockedQuery `json:"blocked,omitempty"`
	Failed       []FailedQuery  `json:"failed,omitempty"`
	PolicyErrors []PolicyError  `json:"policy_errors,omitempty"`
}

// operation is one flattened (call identifier, query) pair.
type operation struct {
	callID string
	query  string
}

// Execute flattens every (call identifier, query) pair of the message's tool
// calls, runs the batch, and emits exactly one tool_result message per
// distinct call identifier, keyed by query string. A model message with no
// tool calls yields no messages. An operation outside the closed set fails
// the whole batch with *domain.UnknownOperationError before anything runs.
func (d *Dispatcher) Execute(ctx context.Context, msg domain.Message) ([]domain.Message, *Report, error) {
	if msg.Role != domain.RoleModel {
		return nil, nil, fmt.Errorf("dispatch expects a model message, got role %q", msg.Role)
	}

	for _, call := range msg.ToolCalls {
		if !domain.KnownOperation(call.Op) {
			return nil, nil, &domain.UnknownOperationError{CallID: call.ID, Op: call.Op}
		}
	}

	report := &Report{}

	// Flatten. Queries of the same call are independent operations, never
	// merged into one request.
	var ops []operation
	for _, call := range msg.ToolCalls {
		for _, query := range call.Queries {
			ops = append(ops, operation{callID: call.ID, query: query})
		}
	}
	report.Queries = len(ops)

	results := make([]json.RawMessage, len(ops))
	skipped := make([]bool, len(ops))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for i, op := range ops {
		g.Go(func() error {
			if d.policyEngine != nil {
				decision, reason, err := d.policyEngine.Evaluate(gctx, policy.Input{
					Query:  op.query,
					CallID: op.callID,
					RunID:  msg.RunID,
				})
				if err != nil {
					// Fail open: the query still runs, but the lapse is
					// recorded so the trace shows it was never vetted.
					log.Printf("WARN: policy evaluation failed for query %q: %v", op.query, err)
					mu.Lock()
					report.PolicyErrors = append(report.PolicyErrors, PolicyError{CallID: op.callID, Query: op.query, Error: err.Error()})
					mu.Unlock()
				} else if decision == "block" {
					mu.Lock()
					skipped[i] = true
					report.Blocked = append(report.Blocked, BlockedQuery{CallID: op.callID, Query: op.query, Reason: reason})
					mu.Unlock()
					return nil
				}
			}

			qctx := gctx
			if d.queryTimeout > 0 {
				var cancel context.CancelFunc
				qctx, cancel = context.WithTimeout(gctx, d.queryTimeout)
				defer cancel()
			}

			found, err := d.provider.Search(qctx, op.query)
			if err != nil {
				// Per-operation isolation: the failed entry is omitted from
				// the result mapping, siblings keep going.
				log.Printf("WARN: search failed for query %q: %v", op.query, err)
				mu.Lock()
				skipped[i] = true
				report.Failed = append(report.Failed, FailedQuery{CallID: op.callID, Query: op.query, Error: err.Error()})
				mu.Unlock()
				return nil
			}

			raw, err := json.Marshal(found)
			if err != nil {
				return fmt.Errorf("failed to marshal results for query %q: %w", op.query, err)
			}
			mu.Lock()
			results[i] = raw
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	// Group back by originating call identifier, one tool_result per call,
	// in the order the calls appeared.
	byCall := make(map[string]map[string]json.RawMessage, len(msg.ToolCalls))
	for i, op := range ops {
		if skipped[i] {
			continue
		}
		if byCall[op.callID] == nil {
			byCall[op.callID] = make(map[string]json.RawMessage)
		}
		byCall[op.callID][op.query] = results[i]
	}

	out := make([]domain.Message, 0, len(msg.ToolCalls))
	now := time.Now()
	for _, call := range msg.ToolCalls {
		resultMap := byCall[call.ID]
		if resultMap == nil {
			resultMap = map[string]json.RawMessage{}
		}
		out = append(out, domain.Message{
			MessageID: "msg_" + uuid.New().String()[:8],
			RunID:     msg.RunID,
			Role:      domain.RoleToolResult,
			CallID:    call.ID,
			Results:   resultMap,
			CreatedAt: now,
		})
	}

	return out, report, nil
}
