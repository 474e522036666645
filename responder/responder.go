// Package responder composes a completion client with schema validation and
// bounded retry. It is the failure containment layer between an unreliable
// generator and the loop: a malformed generation costs bounded extra model
// calls, never a propagated error.
package responder

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/SilenceZen/langgraph/domain"
	"github.com/SilenceZen/langgraph/llm"
	"github.com/google/uuid"
)

const defaultMaxAttempts = 3

// Responder wraps a Completer with validate-and-retry.
type Responder struct {
	completer   llm.Completer
	maxAttempts int
}

// New creates a responder. Attempts of zero or less fall back to the
// default bound of 3.
func New(completer llm.Completer, maxAttempts int) *Responder {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Responder{completer: completer, maxAttempts: maxAttempts}
}

// Respond produces one model message whose structured candidate conforms to
// the variant's schema, retrying up to the bound. Failed attempts accumulate
// on a private copy of the conversation, each followed by a synthetic human
// message describing the validation error, so the model can correct itself;
// the caller's conversation never sees them. When every attempt fails
// validation the last candidate is returned as-is: a degraded answer beats
// no answer. Backend errors are returned immediately and untouched.
func (r *Responder) Respond(ctx context.Context, conv domain.Conversation, v llm.Variant) (domain.Message, error) {
	local := conv
	var last domain.Message

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		msg, err := r.completer.Complete(ctx, local, v)
		if err != nil {
			return domain.Message{}, err
		}
		last = msg

		verr := domain.ValidateStructured(v.Schema, msg.Structured)
		if verr == nil {
			return msg, nil
		}

		log.Printf("WARN: %s attempt %d/%d failed schema validation: %v", v.Name, attempt, r.maxAttempts, verr)
		if attempt < r.maxAttempts {
			local = local.Append(msg, feedbackMessage(verr))
		}
	}

	return last, nil
}

// feedbackMessage builds the synthetic human message that tells the model
// what was wrong with its previous output, in a machine-readable form.
func feedbackMessage(verr *domain.SchemaValidationError) domain.Message {
	payload, err := json.Marshal(map[string]interface{}{
		"error":  "schema_validation",
		"schema": verr.Kind,
		"causes": verr.Causes,
	})
	if err != nil {
		payload = []byte(`{"error":"schema_validation"}`)
	}
	return domain.Message{
		MessageID: "msg_" + uuid.New().String()[:8],
		Role:      domain.RoleHuman,
		Content:   "Your previous response did not conform to the required schema. Fix the listed problems and respond again: " + string(payload),
		CreatedAt: time.Now(),
	}
}
