// Package policy gates search queries through an OPA rego policy before they
// are dispatched to the search collaborator.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.search_policy.decision"),
		rego.Module("search_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Input is the evaluation input for one search query.
type Input struct {
	Query  string `json:"query"`
	CallID string `json:"call_id,omitempty"`
	RunID  string `json:"run_id,omitempty"`
}

// Evaluate checks the search policy for a single query.
// Returns: decision (allow or block), reason (optional), error.
func (e *Engine) Evaluate(ctx context.Context, input Input) (string, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(map[string]interface{}{
		"query":   input.Query,
		"call_id": input.CallID,
		"run_id":  input.RunID,
	}))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// The policy defines a default; an empty result means it was
		// undefined for this input, so fall back to allow.
		return "allow", "default", nil
	}

	val := results[0].Expressions[0].Value
	switch v := val.(type) {
	case string:
		return v, "", nil
	case map[string]interface{}:
		decision, _ := v["decision"].(string)
		reason, _ := v["reason"].(string)
		if decision == "" {
			decision = "allow"
		}
		return decision, reason, nil
	}

	return "allow", "unexpected return type", nil
}

// DefaultPolicy is the default policy content. Empty and oversized queries
// are refused before they reach the collaborator.
const DefaultPolicy = `
package search_policy

import rego.v1

default decision := "allow"

decision := "block" if {
	trim_space(input.query) == ""
}

decision := "block" if {
	count(input.query) > 400
}
`
