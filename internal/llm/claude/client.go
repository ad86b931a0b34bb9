// Package claude is the model transport for the Anthropic messages API.
package claude

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/responder/internal/agent"
	"github.com/linnemanlabs/responder/internal/tools"
)

// Name prefixes failure reasons from this transport.
const Name = "claude"

// Client implements agent.Provider for the Claude API.
type Client struct {
	client anthropic.Client
	model  string
	apiKey string
}

// New creates a new Claude API client with the given API key and model
// name. Extra options are passed to the SDK (base URL, retries, ...).
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{
		client: anthropic.NewClient(opts...),
		model:  model,
		apiKey: apiKey,
	}
}

func (c *Client) Name() string     { return Name }
func (c *Client) Configured() bool { return c.apiKey != "" }

// Send sends one messages request and maps the reply onto turns.
func (c *Client) Send(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  toSDKMessages(req.Turns),
		Tools:     toSDKTools(req.Tools),
	}
	if sys := agent.SystemText(req.Turns); sys != "" {
		params.System = []anthropic.TextBlockParam{{Text: sys}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude messages: %w", err)
	}
	return fromSDKResponse(msg), nil
}

// toSDKMessages groups turns into alternating user/assistant messages.
// The system turn travels separately and is skipped here.
func toSDKMessages(turns []agent.Turn) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	var role anthropic.MessageParamRole
	var blocks []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(blocks) > 0 {
			out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
		}
		blocks = nil
	}
	add := func(r anthropic.MessageParamRole, b anthropic.ContentBlockParamUnion) {
		if r != role {
			flush()
			role = r
		}
		blocks = append(blocks, b)
	}

	for _, t := range turns {
		switch v := t.(type) {
		case agent.UserTurn:
			add(anthropic.MessageParamRoleUser, anthropic.NewTextBlock(v.Text))
		case agent.ModelTextTurn:
			add(anthropic.MessageParamRoleAssistant, anthropic.NewTextBlock(v.Text))
		case agent.ToolCallTurn:
			add(anthropic.MessageParamRoleAssistant, anthropic.NewToolUseBlock(v.CallID, v.Arguments, v.Name))
		case agent.ToolResultTurn:
			_, failed := tools.Failed(v.Output)
			add(anthropic.MessageParamRoleUser, anthropic.NewToolResultBlock(v.CallID, string(v.Output), failed))
		}
	}
	flush()
	return out
}

// toSDKTools converts tool definitions to the SDK's tool params.
func toSDKTools(defs []tools.ToolDef) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		var schema struct {
			Properties any      `json:"properties"`
			Required   []string `json:"required"`
		}
		_ = json.Unmarshal(d.InputSchema, &schema)

		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        d.Name,
				Description: anthropic.String(d.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema.Properties,
					Required:   schema.Required,
				},
			},
		})
	}
	return out
}

// fromSDKResponse maps text and tool_use blocks onto turns. Other block
// types carry nothing the engine acts on and are dropped.
func fromSDKResponse(msg *anthropic.Message) *agent.Response {
	out := []agent.Turn{}
	for _, b := range msg.Content {
		switch b.Type {
		case "text":
			out = append(out, agent.ModelTextTurn{Text: b.Text})
		case "tool_use":
			args := json.RawMessage(b.Input)
			if !json.Valid(args) {
				args = json.RawMessage(`{}`)
			}
			out = append(out, agent.ToolCallTurn{CallID: b.ID, Name: b.Name, Arguments: args})
		}
	}
	return &agent.Response{
		Output: out,
		Usage: agent.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
		Model: string(msg.Model),
	}
}
