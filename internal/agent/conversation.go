package agent

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrDuplicateCallID is returned when a tool call reuses a call id.
	ErrDuplicateCallID = errors.New("duplicate tool call id")

	// ErrUnmatchedResult is returned when a tool result has no pending call.
	ErrUnmatchedResult = errors.New("tool result without pending call")

	// ErrMissingCallID is returned for tool calls or results without a call id.
	ErrMissingCallID = errors.New("missing tool call id")
)

// Turn is one entry in a conversation. The concrete types are SystemTurn,
// UserTurn, ModelTextTurn, ToolCallTurn and ToolResultTurn.
type Turn interface {
	Kind() string
	isTurn()
}

// SystemTurn carries the fixed instruction.
type SystemTurn struct {
	Text string
}

// UserTurn carries the alert payload.
type UserTurn struct {
	Text string
}

// ModelTextTurn is free text produced by the model.
type ModelTextTurn struct {
	Text string
}

// ToolCallTurn is a tool invocation requested by the model.
type ToolCallTurn struct {
	CallID    string
	Name      string
	Arguments json.RawMessage
}

// ToolResultTurn answers the ToolCallTurn with the same CallID.
type ToolResultTurn struct {
	CallID string
	Output json.RawMessage
}

func (SystemTurn) Kind() string     { return "system" }
func (UserTurn) Kind() string       { return "user" }
func (ModelTextTurn) Kind() string  { return "model_text" }
func (ToolCallTurn) Kind() string   { return "tool_call" }
func (ToolResultTurn) Kind() string { return "tool_result" }

func (SystemTurn) isTurn()     {}
func (UserTurn) isTurn()       {}
func (ModelTextTurn) isTurn()  {}
func (ToolCallTurn) isTurn()   {}
func (ToolResultTurn) isTurn() {}

// modelOriginated reports whether t may appear in a transport response.
func modelOriginated(t Turn) bool {
	switch t.(type) {
	case ModelTextTurn, ToolCallTurn:
		return true
	}
	return false
}

// Conversation is an append-only turn sequence. Append enforces that every
// tool call id is unique and every tool result answers a pending call.
// A Conversation is owned by one run and is not safe for concurrent use.
type Conversation struct {
	turns   []Turn
	seen    map[string]struct{}
	pending map[string]struct{}
}

// NewConversation returns an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{
		seen:    make(map[string]struct{}),
		pending: make(map[string]struct{}),
	}
}

// Append validates t against the conversation so far and appends it.
func (c *Conversation) Append(t Turn) error {
	switch v := t.(type) {
	case nil:
		return errors.New("nil turn")
	case ToolCallTurn:
		if v.CallID == "" {
			return fmt.Errorf("%w: tool %q", ErrMissingCallID, v.Name)
		}
		if _, dup := c.seen[v.CallID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateCallID, v.CallID)
		}
		c.seen[v.CallID] = struct{}{}
		c.pending[v.CallID] = struct{}{}
	case ToolResultTurn:
		if v.CallID == "" {
			return ErrMissingCallID
		}
		if _, ok := c.pending[v.CallID]; !ok {
			return fmt.Errorf("%w: %s", ErrUnmatchedResult, v.CallID)
		}
		delete(c.pending, v.CallID)
	}
	c.turns = append(c.turns, t)
	return nil
}

// Turns returns a copy of the turn sequence.
func (c *Conversation) Turns() []Turn {
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len returns the number of turns.
func (c *Conversation) Len() int { return len(c.turns) }

// Pending returns the number of tool calls still waiting for a result.
func (c *Conversation) Pending() int { return len(c.pending) }

type turnJSON struct {
	Kind      string          `json:"kind"`
	Text      string          `json:"text,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
}

func encodeTurn(t Turn) turnJSON {
	j := turnJSON{Kind: t.Kind()}
	switch v := t.(type) {
	case SystemTurn:
		j.Text = v.Text
	case UserTurn:
		j.Text = v.Text
	case ModelTextTurn:
		j.Text = v.Text
	case ToolCallTurn:
		j.CallID, j.Name, j.Arguments = v.CallID, v.Name, v.Arguments
	case ToolResultTurn:
		j.CallID, j.Output = v.CallID, v.Output
	}
	return j
}

// MarshalJSON encodes the conversation as a list of kind-tagged objects.
func (c *Conversation) MarshalJSON() ([]byte, error) {
	out := make([]turnJSON, 0, len(c.turns))
	for _, t := range c.turns {
		out = append(out, encodeTurn(t))
	}
	return json.Marshal(out)
}
