// Package openai is the model transport for OpenAI-compatible chat
// completion APIs.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/linnemanlabs/responder/internal/agent"
	"github.com/linnemanlabs/responder/internal/tools"
)

// Name prefixes failure reasons from this transport.
const Name = "openai"

// Client implements agent.Provider over the chat completions API.
type Client struct {
	client *goopenai.Client
	model  string
	apiKey string
}

// New creates a client for model at baseURL. An empty apiKey yields a
// client that reports itself as not configured.
func New(apiKey, baseURL, model string) *Client {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &Client{
		client: goopenai.NewClientWithConfig(cfg),
		model:  model,
		apiKey: apiKey,
	}
}

func (c *Client) Name() string     { return Name }
func (c *Client) Configured() bool { return c.apiKey != "" }

// Send performs one chat completion call.
func (c *Client) Send(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	resp, err := c.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toMessages(req.Turns),
		Tools:    toTools(req.Tools),
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	return fromResponse(&resp)
}

// toMessages maps turns onto chat messages. Consecutive model turns are
// folded into one assistant message so tool calls and their text travel
// together.
func toMessages(turns []agent.Turn) []goopenai.ChatCompletionMessage {
	var out []goopenai.ChatCompletionMessage
	var assistant *goopenai.ChatCompletionMessage

	flush := func() {
		if assistant != nil {
			out = append(out, *assistant)
			assistant = nil
		}
	}
	open := func() *goopenai.ChatCompletionMessage {
		if assistant == nil {
			assistant = &goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleAssistant}
		}
		return assistant
	}

	for _, t := range turns {
		switch v := t.(type) {
		case agent.SystemTurn:
			flush()
			out = append(out, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: v.Text})
		case agent.UserTurn:
			flush()
			out = append(out, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: v.Text})
		case agent.ModelTextTurn:
			m := open()
			if m.Content != "" {
				m.Content += "\n"
			}
			m.Content += v.Text
		case agent.ToolCallTurn:
			m := open()
			m.ToolCalls = append(m.ToolCalls, goopenai.ToolCall{
				ID:   v.CallID,
				Type: goopenai.ToolTypeFunction,
				Function: goopenai.FunctionCall{
					Name:      v.Name,
					Arguments: string(v.Arguments),
				},
			})
		case agent.ToolResultTurn:
			flush()
			out = append(out, goopenai.ChatCompletionMessage{
				Role:       goopenai.ChatMessageRoleTool,
				Content:    string(v.Output),
				ToolCallID: v.CallID,
			})
		}
	}
	flush()
	return out
}

func toTools(defs []tools.ToolDef) []goopenai.Tool {
	out := make([]goopenai.Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.InputSchema,
			},
		})
	}
	return out
}

func fromResponse(resp *goopenai.ChatCompletionResponse) (*agent.Response, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", agent.ErrMalformedOutput)
	}
	msg := resp.Choices[0].Message

	out := []agent.Turn{}
	if msg.Content != "" {
		out = append(out, agent.ModelTextTurn{Text: msg.Content})
	}
	for _, tc := range msg.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		out = append(out, agent.ToolCallTurn{
			CallID:    tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	return &agent.Response{
		Output: out,
		Usage: agent.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
		Model: resp.Model,
	}, nil
}
