package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// ReasonMissingToolName is returned when a tool call carries no name.
const ReasonMissingToolName = "missing_tool_name"

// failure is the structured error value handed back to the model.
type failure struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason"`
}

// Dispatcher routes tool calls to registered tools. Dispatch never returns
// a Go error: every failure becomes an {"ok":false,"reason":...} value the
// model can read and recover from.
type Dispatcher struct {
	registry *Registry
	logger   log.Logger
}

// NewDispatcher returns a dispatcher over registry.
func NewDispatcher(registry *Registry, logger log.Logger) *Dispatcher {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Dispatcher{registry: registry, logger: logger}
}

// ToolDefs returns the schema set advertised to the model.
func (d *Dispatcher) ToolDefs() []ToolDef {
	return d.registry.ToToolDefs()
}

// Dispatch invokes the tool named name with args and returns its JSON
// result or a structured failure.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args json.RawMessage) json.RawMessage {
	if name == "" {
		return failureJSON(ReasonMissingToolName)
	}
	c := ParseCapability(name)
	if _, ok := d.registry.Get(c); !ok {
		d.logger.Warn(ctx, "unknown tool requested", "tool", name)
		return failureJSON(fmt.Sprintf("unknown tool '%s'", name))
	}

	out, err := d.Invoke(ctx, c, args)
	if err != nil {
		d.logger.Warn(ctx, "tool call failed", "tool", name, "error", err.Error())
		return failureJSON(err.Error())
	}
	return out
}

// Invoke runs the tool for capability c and returns its error unflattened,
// for callers that map errors themselves. Arguments that are not a JSON
// object are treated as {}; a panicking tool is reported as an error.
func (d *Dispatcher) Invoke(ctx context.Context, c Capability, args json.RawMessage) (out json.RawMessage, err error) {
	t, ok := d.registry.Get(c)
	if !ok {
		return nil, fmt.Errorf("unknown tool '%s'", c)
	}

	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("tool panic: %v", r)
		}
	}()

	start := time.Now()
	out, err = t.Execute(ctx, objectOrEmpty(args))
	d.logger.Info(ctx, "tool executed",
		"tool", c.String(),
		"duration", time.Since(start).Seconds(),
		"ok", err == nil,
	)
	return out, err
}

// Failed reports whether out is a structured failure and returns its reason.
func Failed(out json.RawMessage) (string, bool) {
	var f struct {
		OK     *bool  `json:"ok"`
		Reason string `json:"reason"`
	}
	if json.Unmarshal(out, &f) != nil || f.OK == nil || *f.OK {
		return "", false
	}
	return f.Reason, true
}

func failureJSON(reason string) json.RawMessage {
	b, _ := json.Marshal(failure{OK: false, Reason: reason})
	return b
}

func objectOrEmpty(args json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return json.RawMessage(`{}`)
	}
	return trimmed
}
