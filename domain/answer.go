package domain

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Reflection is the model's critique of its own answer.
type Reflection struct {
	Missing     string `json:"missing"`
	Superfluous string `json:"superfluous"`
}

// StructuredAnswer is the declared shape of a draft response. The ~250 word
// cap on the answer and the lower bound on search_queries are enforced by the
// prompt, not the schema; the schema caps the query count at three.
type StructuredAnswer struct {
	Answer        string     `json:"answer"`
	Reflection    Reflection `json:"reflection"`
	SearchQueries []string   `json:"search_queries"`
}

// RevisedAnswer extends StructuredAnswer with numbered citations.
type RevisedAnswer struct {
	StructuredAnswer
	References []string `json:"references"`
}

// SchemaKind names a declared output schema.
type SchemaKind string

const (
	SchemaStructuredAnswer SchemaKind = "structured_answer"
	SchemaRevisedAnswer    SchemaKind = "revised_answer"
)

const structuredAnswerSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["answer", "reflection", "search_queries"],
  "properties": {
    "answer": {
      "type": "string",
      "minLength": 1,
      "description": "~250 word detailed answer to the question"
    },
    "reflection": {
      "type": "object",
      "required": ["missing", "superfluous"],
      "properties": {
        "missing": {
          "type": "string",
          "description": "Critique of what is missing"
        },
        "superfluous": {
          "type": "string",
          "description": "Critique of what is superfluous"
        }
      }
    },
    "search_queries": {
      "type": "array",
      "items": {"type": "string"},
      "maxItems": 3,
      "description": "1-3 search queries for researching improvements"
    }
  }
}`

const revisedAnswerSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["answer", "reflection", "search_queries", "references"],
  "properties": {
    "answer": {
      "type": "string",
      "minLength": 1,
      "description": "~250 word revised answer with numeric citations"
    },
    "reflection": {
      "type": "object",
      "required": ["missing", "superfluous"],
      "properties": {
        "missing": {
          "type": "string",
          "description": "Critique of what is missing"
        },
        "superfluous": {
          "type": "string",
          "description": "Critique of what is superfluous"
        }
      }
    },
    "search_queries": {
      "type": "array",
      "items": {"type": "string"},
      "maxItems": 3,
      "description": "1-3 search queries for researching improvements"
    },
    "references": {
      "type": "array",
      "items": {"type": "string"},
      "description": "Citations motivating the revised answer"
    }
  }
}`

var compiledSchemas = map[SchemaKind]*gojsonschema.Schema{}

func init() {
	for kind, raw := range map[SchemaKind]string{
		SchemaStructuredAnswer: structuredAnswerSchemaJSON,
		SchemaRevisedAnswer:    revisedAnswerSchemaJSON,
	} {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
		if err != nil {
			panic(fmt.Sprintf("domain: compile %s schema: %v", kind, err))
		}
		compiledSchemas[kind] = schema
	}
}

// SchemaJSON returns the raw JSON Schema for the given kind. It is what gets
// declared to the backend as the tool parameter schema.
func SchemaJSON(kind SchemaKind) json.RawMessage {
	switch kind {
	case SchemaStructuredAnswer:
		return json.RawMessage(structuredAnswerSchemaJSON)
	case SchemaRevisedAnswer:
		return json.RawMessage(revisedAnswerSchemaJSON)
	}
	return nil
}

// ValidateStructured checks a structured-output candidate against the
// declared schema. A nil return means the candidate conforms. Any failure,
// including an absent candidate, is reported as *SchemaValidationError so
// callers can tell a malformed generation apart from a backend failure.
func ValidateStructured(kind SchemaKind, candidate json.RawMessage) *SchemaValidationError {
	schema, ok := compiledSchemas[kind]
	if !ok {
		return &SchemaValidationError{Kind: kind, Causes: []string{"unknown schema kind"}}
	}
	if len(candidate) == 0 {
		return &SchemaValidationError{Kind: kind, Causes: []string{"no structured output in response"}}
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(candidate))
	if err != nil {
		// Not valid JSON at all.
		return &SchemaValidationError{Kind: kind, Causes: []string{err.Error()}}
	}
	if result.Valid() {
		return nil
	}

	causes := make([]string, 0, len(result.Errors()))
	for _, resultErr := range result.Errors() {
		causes = append(causes, resultErr.String())
	}
	return &SchemaValidationError{Kind: kind, Causes: causes}
}
