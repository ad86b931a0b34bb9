package agent

import (
	"context"
	"errors"

	"github.com/linnemanlabs/responder/internal/tools"
)

// ErrMalformedOutput is returned by a Provider when the model response
// cannot be mapped onto turns.
var ErrMalformedOutput = errors.New("malformed model output")

// Provider is the interface for any model transport.
type Provider interface {
	// Name prefixes failure reasons, e.g. "openai" -> "openai_non_json".
	Name() string

	// Configured reports whether credentials are present. An unconfigured
	// provider is never called.
	Configured() bool

	Send(ctx context.Context, req *Request) (*Response, error)
}

// Request is one transport call: the full conversation so far and the
// tool definitions the model may call.
type Request struct {
	MaxTokens int
	Turns     []Turn
	Tools     []tools.ToolDef
}

// Response is the model's output for one call. Output holds only
// ModelTextTurn and ToolCallTurn values; OutputText is the provider's
// aggregate text when it reports one separately.
type Response struct {
	Output     []Turn
	OutputText string
	Usage      Usage
	Model      string
}

// Usage is the token accounting for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// SystemText returns the text of the first SystemTurn in turns, for
// transports that carry the instruction out of band.
func SystemText(turns []Turn) string {
	for _, t := range turns {
		if s, ok := t.(SystemTurn); ok {
			return s.Text
		}
	}
	return ""
}
