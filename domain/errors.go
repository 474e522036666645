package domain

import (
	"fmt"
	"strings"
)

// SchemaValidationError reports that a structured-output candidate does not
// conform to its declared schema. It is recovered locally by the responder;
// it never propagates out of a run.
type SchemaValidationError struct {
	Kind   SchemaKind
	Causes []string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("output does not conform to %s schema: %s", e.Kind, strings.Join(e.Causes, "; "))
}

// UnknownOperationError reports a tool call whose operation is outside the
// closed operation set. The dispatcher refuses the whole batch rather than
// guessing at free-form dispatch.
type UnknownOperationError struct {
	CallID string
	Op     Operation
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("tool call %s requests unknown operation %q", e.CallID, e.Op)
}
