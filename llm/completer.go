package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/SilenceZen/langgraph/domain"
	"github.com/google/uuid"
)

// Variant binds an instruction to the function tool and schema the backend
// must answer with. The loop uses two: the initial draft and the revision.
type Variant struct {
	Name         string
	Instruction  string
	FunctionName string
	Schema       domain.SchemaKind
}

// DraftVariant produces the initial answer, reflection, and search queries.
var DraftVariant = Variant{
	Name:         "draft",
	Instruction:  draftInstruction,
	FunctionName: "AnswerQuestion",
	Schema:       domain.SchemaStructuredAnswer,
}

// ReviseVariant revises the answer with search results and citations.
var ReviseVariant = Variant{
	Name:         "revise",
	Instruction:  reviseInstruction,
	FunctionName: "ReviseAnswer",
	Schema:       domain.SchemaRevisedAnswer,
}

// Completer turns a conversation into one model message. Implementations
// make no conformance guarantee about the structured candidate; validation
// belongs to the responder.
type Completer interface {
	Complete(ctx context.Context, conv domain.Conversation, v Variant) (domain.Message, error)
}

// ChatCompleter implements Completer against an OpenAI-compatible backend.
type ChatCompleter struct {
	client *Client
	model  string
}

// Ensure ChatCompleter implements the Completer interface.
var _ Completer = (*ChatCompleter)(nil)

// NewChatCompleter creates a completer using the given client and model.
func NewChatCompleter(client *Client, model string) *ChatCompleter {
	return &ChatCompleter{client: client, model: model}
}

// Complete makes exactly one completion call. The backend is forced to call
// the variant's function; the raw arguments of that call become the
// structured candidate and its search_queries become the domain tool call.
func (c *ChatCompleter) Complete(ctx context.Context, conv domain.Conversation, v Variant) (domain.Message, error) {
	req := &ChatCompletionRequest{
		Model:    c.model,
		Messages: buildWireMessages(conv, v),
		Tools: []Tool{{
			Type: "function",
			Function: ToolFunction{
				Name:        v.FunctionName,
				Description: "Record the structured answer.",
				Parameters:  domain.SchemaJSON(v.Schema),
			},
		}},
		ToolChoice: map[string]interface{}{
			"type":     "function",
			"function": map[string]interface{}{"name": v.FunctionName},
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return domain.Message{}, err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return domain.Message{}, fmt.Errorf("backend returned no choices")
	}

	return parseModelMessage(resp.Choices[0].Message, v), nil
}

// buildWireMessages renders the conversation in the OpenAI message format.
// The system message carries the variant instruction; model messages replay
// their tool calls so later tool_result messages stay correlated. The first
// model message of a run is always the draft, every later one a revision,
// which fixes the function name to replay for each.
func buildWireMessages(conv domain.Conversation, v Variant) []ChatMessage {
	out := make([]ChatMessage, 0, conv.Len()+1)
	out = append(out, ChatMessage{
		Role:    "system",
		Content: strings.ReplaceAll(v.Instruction, "{time}", time.Now().UTC().Format(time.RFC1123)),
	})

	modelSeen := 0
	for i := 0; i < conv.Len(); i++ {
		msg := conv.At(i)
		switch msg.Role {
		case domain.RoleHuman:
			out = append(out, ChatMessage{Role: "user", Content: msg.Content})
		case domain.RoleModel:
			name := DraftVariant.FunctionName
			if modelSeen > 0 {
				name = ReviseVariant.FunctionName
			}
			modelSeen++
			wire := ChatMessage{Role: "assistant", Content: msg.Content}
			args := "{}"
			if len(msg.Structured) > 0 {
				args = string(msg.Structured)
			}
			for _, call := range msg.ToolCalls {
				wire.ToolCalls = append(wire.ToolCalls, ToolCall{
					ID:       call.ID,
					Type:     "function",
					Function: ToolCallFunction{Name: name, Arguments: args},
				})
			}
			out = append(out, wire)
		case domain.RoleToolResult:
			content, err := json.Marshal(msg.Results)
			if err != nil {
				content = []byte("{}")
			}
			out = append(out, ChatMessage{
				Role:       "tool",
				ToolCallID: msg.CallID,
				Content:    string(content),
			})
		}
	}
	return out
}

// parseModelMessage lifts a wire response into a domain model message. The
// first call to the variant function supplies the structured candidate; its
// search_queries, if parseable, become the domain tool call. A response with
// no tool calls yields a nil candidate, which the responder will reject.
func parseModelMessage(wire *ChatMessage, v Variant) domain.Message {
	msg := domain.Message{
		MessageID: "msg_" + uuid.New().String()[:8],
		Role:      domain.RoleModel,
		Content:   wire.Content,
		CreatedAt: time.Now(),
	}

	for _, call := range wire.ToolCalls {
		if call.Function.Name != v.FunctionName {
			continue
		}
		raw := json.RawMessage(call.Function.Arguments)
		if msg.Structured == nil {
			msg.Structured = raw
		}

		var payload struct {
			SearchQueries []string `json:"search_queries"`
		}
		// A candidate that does not even parse still keeps its tool call ID
		// so a later tool_result can correlate to it; it just carries no
		// queries.
		_ = json.Unmarshal(raw, &payload)
		callID := call.ID
		if callID == "" {
			// Some backends omit call IDs; mint one so correlation holds.
			callID = "tc_" + uuid.New().String()[:8]
		}
		msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{
			ID:      callID,
			Op:      domain.OpSearch,
			Queries: payload.SearchQueries,
		})
	}

	return msg
}
