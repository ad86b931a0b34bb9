package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/responder/internal/alert"
	"github.com/linnemanlabs/responder/internal/tools"
)

var tracer = otel.Tracer("github.com/linnemanlabs/responder/internal/agent")

const (
	// MaxSteps bounds transport calls per run.
	MaxSteps = 6

	// DefaultCallTimeout bounds a single transport call.
	DefaultCallTimeout = 20 * time.Second

	ResponseTokens = 4096
)

// EngineHooks are optional callbacks for observability.
type EngineHooks struct {
	OnModelCall func(provider, model string, inputTokens, outputTokens int, duration float64, err error)
	OnToolCall  func(tool string, duration float64, failed bool)
	OnComplete  func(e *CompleteEvent)
}

// CompleteEvent summarizes a finished run.
type CompleteEvent struct {
	Provider     string
	Model        string
	Failed       bool
	Reason       string
	Duration     float64
	Steps        int
	ToolCalls    int
	InputTokens  int
	OutputTokens int
}

// TurnCallback observes every turn appended to a run's conversation.
type TurnCallback func(ctx context.Context, seq int, t Turn)

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithCallTimeout sets the per-call transport timeout.
func WithCallTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.callTimeout = d
		}
	}
}

// WithTurnCallback registers fn to observe appended turns.
func WithTurnCallback(fn TurnCallback) EngineOption {
	return func(e *Engine) { e.onTurn = fn }
}

// Engine runs the bounded model/tool loop.
type Engine struct {
	provider    Provider
	dispatcher  *tools.Dispatcher
	logger      log.Logger
	hooks       EngineHooks
	callTimeout time.Duration
	onTurn      TurnCallback
}

// NewEngine creates an engine. A nil provider makes every run fail as not
// configured.
func NewEngine(provider Provider, dispatcher *tools.Dispatcher, logger log.Logger, hooks EngineHooks, opts ...EngineOption) *Engine {
	if dispatcher == nil {
		panic(xerrors.New("agent: nil dispatcher"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	e := &Engine{
		provider:    provider,
		dispatcher:  dispatcher,
		logger:      logger,
		hooks:       hooks,
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProviderName returns the reason prefix used by this engine.
func (e *Engine) ProviderName() string {
	if e.provider == nil {
		return "llm"
	}
	return e.provider.Name()
}

// run carries the mutable state of one Run call.
type run struct {
	id     string
	conv   *Conversation
	result *Result
	logger log.Logger
}

// Run drives the model over the alert payload until it returns a verdict
// or the run fails. It never returns nil.
func (e *Engine) Run(ctx context.Context, runID string, raw alert.Raw) *Result {
	start := time.Now()
	name := e.ProviderName()

	ctx, span := tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("llm.provider", name),
	))

	r := &run{
		id:     runID,
		conv:   NewConversation(),
		result: &Result{Provider: name},
		logger: e.logger.With("run_id", runID, "provider", name),
	}

	defer func() {
		res := r.result
		res.Duration = time.Since(start).Seconds()
		span.SetAttributes(
			attribute.Int("run.steps", res.Steps),
			attribute.Int("run.tool_calls", res.ToolCalls),
		)
		if res.Failed() {
			span.SetAttributes(attribute.String("run.reason", res.Reason))
			span.SetStatus(codes.Error, res.Reason)
		}
		span.End()

		if e.hooks.OnComplete != nil {
			e.hooks.OnComplete(&CompleteEvent{
				Provider:     name,
				Model:        res.Model,
				Failed:       res.Failed(),
				Reason:       res.Reason,
				Duration:     res.Duration,
				Steps:        res.Steps,
				ToolCalls:    res.ToolCalls,
				InputTokens:  res.InputTokens,
				OutputTokens: res.OutputTokens,
			})
		}
		r.logger.Info(ctx, "run complete",
			"failed", res.Failed(),
			"reason", res.Reason,
			"steps", res.Steps,
			"tool_calls", res.ToolCalls,
			"duration", res.Duration,
		)
	}()

	if e.provider == nil || !e.provider.Configured() {
		r.fail(name, CodeNotConfigured)
		return r.result
	}

	if raw == nil {
		raw = alert.Raw{}
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		r.logger.Error(ctx, err, "marshal alert payload")
		r.fail(name, CodeBadOutput)
		return r.result
	}
	e.append(ctx, r, SystemTurn{Text: SystemPrompt})
	e.append(ctx, r, UserTurn{Text: string(payload)})

	defs := e.dispatcher.ToolDefs()

	for step := 1; step <= MaxSteps; step++ {
		if ctx.Err() != nil {
			r.fail(name, CodeCanceled)
			return r.result
		}

		resp, err := e.call(ctx, r, step, defs)
		if err != nil {
			switch {
			case errors.Is(err, ErrMalformedOutput):
				r.fail(name, CodeBadOutput)
			case errors.Is(err, context.DeadlineExceeded):
				r.fail(name, CodeTimeout)
			default:
				r.fail(name, CodeRequestFailed)
			}
			r.logger.Error(ctx, err, "model call failed", "step", step)
			return r.result
		}

		calls, ok := e.appendOutput(ctx, r, step, resp)
		if !ok {
			r.fail(name, CodeBadOutput)
			return r.result
		}

		if len(calls) > 0 {
			for _, c := range calls {
				out := e.dispatch(ctx, r, c)
				if err := e.append(ctx, r, ToolResultTurn{CallID: c.CallID, Output: out}); err != nil {
					r.logger.Error(ctx, err, "append tool result", "call_id", c.CallID)
					r.fail(name, CodeBadOutput)
					return r.result
				}
			}
			if n := r.conv.Pending(); n != 0 {
				r.logger.Warn(ctx, "tool calls left unanswered", "pending", n)
				r.fail(name, CodeBadOutput)
				return r.result
			}
			continue
		}

		text := finalText(resp)
		if text == "" {
			r.fail(name, CodeEmptyOutput)
			return r.result
		}
		v, err := DecodeVerdict(text)
		if err != nil {
			r.logger.Warn(ctx, "model returned an invalid verdict", "error", err.Error())
			r.fail(name, CodeNonJSON)
			r.result.Raw = &text
			return r.result
		}
		r.result.Verdict = v
		return r.result
	}

	r.logger.Warn(ctx, "run hit step limit", "limit", MaxSteps)
	r.fail(name, CodeMaxSteps)
	return r.result
}

func (r *run) fail(provider, code string) {
	r.result.Reason = Reason(provider, code)
}

// call performs one transport call under the per-call timeout.
func (e *Engine) call(ctx context.Context, r *run, step int, defs []tools.ToolDef) (*Response, error) {
	ctx, span := tracer.Start(ctx, "model.call", trace.WithAttributes(
		attribute.Int("llm.step", step),
		attribute.String("llm.provider", e.provider.Name()),
	))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	start := time.Now()
	resp, err := e.provider.Send(callCtx, &Request{
		MaxTokens: ResponseTokens,
		Turns:     r.conv.Turns(),
		Tools:     defs,
	})
	dur := time.Since(start).Seconds()
	r.result.Steps = step

	var model string
	var usage Usage
	if resp != nil {
		model, usage = resp.Model, resp.Usage
		r.result.Model = model
		r.result.InputTokens += usage.InputTokens
		r.result.OutputTokens += usage.OutputTokens
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}

	span.SetAttributes(
		attribute.String("llm.model", model),
		attribute.Int("llm.input_tokens", usage.InputTokens),
		attribute.Int("llm.output_tokens", usage.OutputTokens),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if e.hooks.OnModelCall != nil {
		e.hooks.OnModelCall(e.provider.Name(), model, usage.InputTokens, usage.OutputTokens, dur, err)
	}

	r.logger.Info(ctx, "model response",
		"step", step,
		"model", model,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"duration", dur,
	)
	return resp, err
}

// appendOutput validates and appends the response turns, assigning
// synthetic ids to unnamed tool calls. It returns the tool calls in order.
func (e *Engine) appendOutput(ctx context.Context, r *run, step int, resp *Response) ([]ToolCallTurn, bool) {
	if resp == nil || resp.Output == nil {
		r.logger.Warn(ctx, "model response carried no output", "step", step)
		return nil, false
	}
	for _, t := range resp.Output {
		if t == nil || !modelOriginated(t) {
			r.logger.Warn(ctx, "model response carried a non-model turn", "step", step)
			return nil, false
		}
	}

	var calls []ToolCallTurn
	for i, t := range resp.Output {
		if c, ok := t.(ToolCallTurn); ok {
			if c.CallID == "" {
				c.CallID = fmt.Sprintf("call_%d_%d", step, i+1)
			}
			t = c
			calls = append(calls, c)
		}
		if err := e.append(ctx, r, t); err != nil {
			r.logger.Warn(ctx, "rejected model turn", "step", step, "error", err.Error())
			return nil, false
		}
	}
	return calls, true
}

func (e *Engine) append(ctx context.Context, r *run, t Turn) error {
	if err := r.conv.Append(t); err != nil {
		return err
	}
	if e.onTurn != nil {
		e.onTurn(ctx, r.conv.Len()-1, t)
	}
	return nil
}

func (e *Engine) dispatch(ctx context.Context, r *run, c ToolCallTurn) json.RawMessage {
	capability := tools.ParseCapability(c.Name).String()
	ctx, span := tracer.Start(ctx, "tool.dispatch", trace.WithAttributes(
		attribute.String("tool.capability", capability),
		attribute.String("tool.name", c.Name),
		attribute.String("tool.call_id", c.CallID),
	))
	defer span.End()

	r.result.ToolCalls++
	start := time.Now()
	out := e.dispatcher.Dispatch(ctx, c.Name, c.Arguments)
	dur := time.Since(start).Seconds()

	reason, failed := tools.Failed(out)
	span.SetAttributes(attribute.Bool("tool.ok", !failed))
	if failed {
		span.SetStatus(codes.Error, reason)
	}
	if e.hooks.OnToolCall != nil {
		// unknown names collapse to "unknown" so metric labels stay bounded
		e.hooks.OnToolCall(capability, dur, failed)
	}
	r.logger.Info(ctx, "tool dispatched",
		"tool", c.Name,
		"call_id", c.CallID,
		"ok", !failed,
		"call_number", r.result.ToolCalls,
	)
	return out
}

// finalText joins the response's text turns, falling back to OutputText.
func finalText(resp *Response) string {
	var parts []string
	for _, t := range resp.Output {
		if m, ok := t.(ModelTextTurn); ok && m.Text != "" {
			parts = append(parts, m.Text)
		}
	}
	if text := strings.TrimSpace(strings.Join(parts, "\n")); text != "" {
		return text
	}
	return strings.TrimSpace(resp.OutputText)
}
