package domain

// Conversation is the append-only ordered message history shared between the
// loop stages. Append copies the backing slice, so an older Conversation
// value is never affected by later appends. This is what lets the responder
// keep a private retry history without touching the caller's view.
type Conversation struct {
	messages []Message
}

// NewConversation builds a conversation from the given messages.
func NewConversation(msgs ...Message) Conversation {
	c := Conversation{}
	return c.Append(msgs...)
}

// Append returns a new Conversation with msgs added at the end. The receiver
// is left unchanged.
func (c Conversation) Append(msgs ...Message) Conversation {
	out := make([]Message, 0, len(c.messages)+len(msgs))
	out = append(out, c.messages...)
	out = append(out, msgs...)
	return Conversation{messages: out}
}

// Len returns the number of messages.
func (c Conversation) Len() int {
	return len(c.messages)
}

// At returns the message at index i.
func (c Conversation) At(i int) Message {
	return c.messages[i]
}

// Last returns the most recent message, if any.
func (c Conversation) Last() (Message, bool) {
	if len(c.messages) == 0 {
		return Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// LastModel returns the most recent model message, if any.
func (c Conversation) LastModel() (Message, bool) {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == RoleModel {
			return c.messages[i], true
		}
	}
	return Message{}, false
}

// Messages returns a copy of the ordered message history.
func (c Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// IterationDepth counts the trailing model and tool_result messages, scanning
// backward and stopping at the first message of any other role. The loop uses
// it as its termination signal: deriving the count from the history keeps the
// decision a pure function of conversation state, so a loop resumed from a
// serialized conversation needs no side counter.
func (c Conversation) IterationDepth() int {
	depth := 0
	for i := len(c.messages) - 1; i >= 0; i-- {
		role := c.messages[i].Role
		if role != RoleModel && role != RoleToolResult {
			break
		}
		depth++
	}
	return depth
}
