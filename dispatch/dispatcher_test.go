package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/SilenceZen/langgraph/domain"
	"github.com/SilenceZen/langgraph/policy"
	"github.com/SilenceZen/langgraph/search"
)

// fakeProvider records queries and serves canned results keyed by query.
type fakeProvider struct {
	mu      sync.Mutex
	queries []string
	fail    map[string]error
}

func (f *fakeProvider) Search(_ context.Context, query string) ([]search.Result, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if err := f.fail[query]; err != nil {
		return nil, err
	}
	return []search.Result{{Title: "t", URL: "https://example.com/" + query, Snippet: "s"}}, nil
}

func modelMessage(calls ...domain.ToolCall) domain.Message {
	return domain.Message{
		MessageID: "m1",
		RunID:     "r1",
		Role:      domain.RoleModel,
		ToolCalls: calls,
		CreatedAt: time.Now(),
	}
}

func TestExecuteNoToolCalls(t *testing.T) {
	d := New(&fakeProvider{}, nil, 2, 0)
	msgs, report, err := d.Execute(context.Background(), modelMessage())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected zero tool_result messages, got %d", len(msgs))
	}
	if report.Queries != 0 {
		t.Fatalf("expected zero queries, got %d", report.Queries)
	}
}

func TestExecuteCorrelatesResultsByCallID(t *testing.T) {
	provider := &fakeProvider{}
	d := New(provider, nil, 4, 0)

	msg := modelMessage(
		domain.ToolCall{ID: "call_a", Op: domain.OpSearch, Queries: []string{"q1", "q2"}},
		domain.ToolCall{ID: "call_b", Op: domain.OpSearch, Queries: []string{"q3"}},
	)

	msgs, report, err := d.Execute(context.Background(), msg)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected one tool_result per call identifier, got %d", len(msgs))
	}
	if report.Queries != 3 {
		t.Fatalf("expected 3 flattened queries, got %d", report.Queries)
	}

	byCall := map[string]domain.Message{}
	for _, m := range msgs {
		if m.Role != domain.RoleToolResult {
			t.Fatalf("unexpected role: %s", m.Role)
		}
		byCall[m.CallID] = m
	}

	a := byCall["call_a"]
	if len(a.Results) != 2 {
		t.Fatalf("call_a key set: %v", a.Results)
	}
	for _, q := range []string{"q1", "q2"} {
		if _, ok := a.Results[q]; !ok {
			t.Fatalf("call_a missing query %q", q)
		}
	}

	b := byCall["call_b"]
	if len(b.Results) != 1 {
		t.Fatalf("call_b key set: %v", b.Results)
	}
	if _, ok := b.Results["q3"]; !ok {
		t.Fatal("call_b missing q3")
	}
	// No cross-identifier leakage.
	if _, ok := b.Results["q1"]; ok {
		t.Fatal("q1 leaked into call_b")
	}
}

func TestExecuteIsolatesFailedQuery(t *testing.T) {
	provider := &fakeProvider{fail: map[string]error{"q2": errors.New("timeout")}}
	d := New(provider, nil, 2, 0)

	msg := modelMessage(domain.ToolCall{ID: "call_a", Op: domain.OpSearch, Queries: []string{"q1", "q2", "q3"}})

	msgs, report, err := d.Execute(context.Background(), msg)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 tool_result, got %d", len(msgs))
	}

	results := msgs[0].Results
	if len(results) != 2 {
		t.Fatalf("expected failed entry omitted, got keys %v", results)
	}
	if _, ok := results["q2"]; ok {
		t.Fatal("failed query must be omitted from the mapping")
	}
	if len(report.Failed) != 1 || report.Failed[0].Query != "q2" {
		t.Fatalf("unexpected failure report: %+v", report.Failed)
	}
}

func TestExecuteUnknownOperation(t *testing.T) {
	d := New(&fakeProvider{}, nil, 2, 0)
	msg := modelMessage(domain.ToolCall{ID: "call_a", Op: domain.Operation("shell"), Queries: []string{"rm"}})

	_, _, err := d.Execute(context.Background(), msg)
	var unknownErr *domain.UnknownOperationError
	if !errors.As(err, &unknownErr) {
		t.Fatalf("expected UnknownOperationError, got %v", err)
	}
	if unknownErr.CallID != "call_a" {
		t.Fatalf("unexpected call ID: %s", unknownErr.CallID)
	}
}

func TestExecuteEmptyQueriesStillEmitsToolResult(t *testing.T) {
	// A forced function call with no queries must still get a correlated
	// reply so the wire history stays consistent.
	d := New(&fakeProvider{}, nil, 2, 0)
	msg := modelMessage(domain.ToolCall{ID: "call_a", Op: domain.OpSearch})

	msgs, _, err := d.Execute(context.Background(), msg)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].CallID != "call_a" {
		t.Fatalf("expected one empty tool_result for call_a, got %+v", msgs)
	}
	if len(msgs[0].Results) != 0 {
		t.Fatalf("expected empty result map, got %v", msgs[0].Results)
	}
}

func TestExecutePolicyBlocksQuery(t *testing.T) {
	ctx := context.Background()
	custom := `
package search_policy

import rego.v1

default decision := "allow"

decision := "block" if {
	contains(input.query, "forbidden")
}
`
	engine, err := policy.NewEngine(ctx, custom)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	provider := &fakeProvider{}
	d := New(provider, engine, 2, 0)
	msg := modelMessage(domain.ToolCall{ID: "call_a", Op: domain.OpSearch, Queries: []string{"ok", "forbidden topic"}})

	msgs, report, err := d.Execute(ctx, msg)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 tool_result, got %d", len(msgs))
	}
	if _, ok := msgs[0].Results["forbidden topic"]; ok {
		t.Fatal("blocked query must be omitted")
	}
	if _, ok := msgs[0].Results["ok"]; !ok {
		t.Fatal("allowed query missing")
	}
	if len(report.Blocked) != 1 || report.Blocked[0].Query != "forbidden topic" {
		t.Fatalf("unexpected blocked report: %+v", report.Blocked)
	}

	// The blocked query never reached the provider.
	for _, q := range provider.queries {
		if q == "forbidden topic" {
			t.Fatal("blocked query was dispatched")
		}
	}
}

// brokenPolicy fails evaluation for every query.
type brokenPolicy struct{}

func (brokenPolicy) Evaluate(context.Context, policy.Input) (string, string, error) {
	return "", "", errors.New("policy bundle unavailable")
}

func TestExecutePolicyErrorFailsOpen(t *testing.T) {
	provider := &fakeProvider{}
	d := New(provider, brokenPolicy{}, 2, 0)
	msg := modelMessage(domain.ToolCall{ID: "call_a", Op: domain.OpSearch, Queries: []string{"q1"}})

	msgs, report, err := d.Execute(context.Background(), msg)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	// A broken gate must not take search down with it, but the lapse has to
	// show up on the report.
	if len(provider.queries) != 1 || provider.queries[0] != "q1" {
		t.Fatalf("expected query dispatched despite policy error, got %v", provider.queries)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 tool_result, got %d", len(msgs))
	}
	if _, ok := msgs[0].Results["q1"]; !ok {
		t.Fatal("expected result for q1")
	}
	if len(report.PolicyErrors) != 1 {
		t.Fatalf("expected 1 recorded policy error, got %+v", report.PolicyErrors)
	}
	pe := report.PolicyErrors[0]
	if pe.CallID != "call_a" || pe.Query != "q1" || pe.Error == "" {
		t.Fatalf("unexpected policy error record: %+v", pe)
	}
}

func TestExecuteConcurrencyBound(t *testing.T) {
	var mu sync.Mutex
	active, peak := 0, 0
	provider := searchFunc(func(ctx context.Context, query string) ([]search.Result, error) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return nil, nil
	})

	d := New(provider, nil, 2, 0)
	queries := make([]string, 6)
	for i := range queries {
		queries[i] = fmt.Sprintf("q%d", i)
	}
	msg := modelMessage(domain.ToolCall{ID: "call_a", Op: domain.OpSearch, Queries: queries})

	if _, _, err := d.Execute(context.Background(), msg); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if peak > 2 {
		t.Fatalf("concurrency limit exceeded: peak %d", peak)
	}
}

type searchFunc func(ctx context.Context, query string) ([]search.Result, error)

func (f searchFunc) Search(ctx context.Context, query string) ([]search.Result, error) {
	return f(ctx, query)
}
