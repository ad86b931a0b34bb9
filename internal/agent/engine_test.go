package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/responder/internal/alert"
)

func testAlert() alert.Raw {
	return alert.Raw{
		"incident_type": "payments_failing",
		"service":       "checkout",
		"signal":        "error_rate_spike",
		"start_time":    "T0",
		"impact":        "checkout down",
	}
}

func runEngine(t *testing.T, p Provider, opts ...EngineOption) *Result {
	t.Helper()
	d, _ := newDispatcher(t)
	return NewEngine(p, d, log.Nop(), EngineHooks{}, opts...).Run(context.Background(), "run-test", testAlert())
}

func TestRun_SingleTurnVerdict(t *testing.T) {
	t.Parallel()

	p := scripted(text(validVerdict))
	res := runEngine(t, p)

	if res.Failed() {
		t.Fatalf("run failed: %s", res.Reason)
	}
	if res.Verdict.IncidentID != "INC-0A1B2C3D" {
		t.Errorf("incident_id = %q", res.Verdict.IncidentID)
	}
	if res.Steps != 1 || res.ToolCalls != 0 || res.Model != "gpt-test" {
		t.Errorf("steps=%d tool_calls=%d model=%q", res.Steps, res.ToolCalls, res.Model)
	}
	if res.InputTokens != 10 || res.OutputTokens != 5 {
		t.Errorf("tokens = %d/%d", res.InputTokens, res.OutputTokens)
	}

	req := p.requests[0]
	if len(req.Turns) != 2 {
		t.Fatalf("first request has %d turns, want 2", len(req.Turns))
	}
	if _, ok := req.Turns[0].(SystemTurn); !ok {
		t.Errorf("turn 0 = %T, want SystemTurn", req.Turns[0])
	}
	u, ok := req.Turns[1].(UserTurn)
	if !ok {
		t.Fatalf("turn 1 = %T, want UserTurn", req.Turns[1])
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(u.Text), &payload); err != nil || payload["service"] != "checkout" {
		t.Errorf("user turn = %q", u.Text)
	}
	if len(req.Tools) != 5 {
		t.Errorf("advertised %d tools, want 5", len(req.Tools))
	}
}

func TestRun_ToolCallThenVerdict(t *testing.T) {
	t.Parallel()

	p := scripted(
		toolCalls(call("c1", "create_incident", `{"alert":{"incident_type":"payments_failing","service":"checkout"}}`)),
		text(validVerdict),
	)
	d, store := newDispatcher(t)
	res := NewEngine(p, d, log.Nop(), EngineHooks{}).Run(context.Background(), "run-test", testAlert())

	if res.Failed() {
		t.Fatalf("run failed: %s", res.Reason)
	}
	if res.Steps != 2 || res.ToolCalls != 1 {
		t.Errorf("steps=%d tool_calls=%d", res.Steps, res.ToolCalls)
	}
	if res.InputTokens != 30 || res.OutputTokens != 13 {
		t.Errorf("tokens = %d/%d", res.InputTokens, res.OutputTokens)
	}

	second := p.requests[1].Turns
	last, ok := second[len(second)-1].(ToolResultTurn)
	if !ok {
		t.Fatalf("last turn = %T, want ToolResultTurn", second[len(second)-1])
	}
	if last.CallID != "c1" {
		t.Errorf("result call id = %q, want c1", last.CallID)
	}
	var out struct {
		IncidentID string `json:"incident_id"`
	}
	if err := json.Unmarshal(last.Output, &out); err != nil || out.IncidentID == "" {
		t.Fatalf("tool output = %s", last.Output)
	}
	if _, found, _ := store.GetIncident(context.Background(), out.IncidentID); !found {
		t.Errorf("incident %s not persisted", out.IncidentID)
	}
}

func TestRun_Failures(t *testing.T) {
	t.Parallel()

	loop := newMock(func(_ context.Context, idx int, _ *Request) (*Response, error) {
		return toolCalls(call(fmt.Sprintf("loop-%d", idx), "kb_search", `{"query":"payments"}`)), nil
	})

	tests := []struct {
		name      string
		provider  *mockProvider
		reason    string
		wantCalls int
	}{
		{"non json", scripted(text("not json")), "openai_non_json", 1},
		{"empty text", scripted(text("   ")), "openai_empty_output", 1},
		{"nil response", scripted(nil), "openai_bad_output", 1},
		{"nil output", scripted(&Response{OutputText: validVerdict}), "openai_bad_output", 1},
		{"non model turn", scripted(&Response{Output: []Turn{UserTurn{Text: "hi"}}}), "openai_bad_output", 1},
		{"duplicate call ids", scripted(toolCalls(call("x", "kb_search", `{}`), call("x", "kb_search", `{}`))), "openai_bad_output", 1},
		{"call id reused across steps", scripted(toolCalls(call("x", "kb_search", `{}`)), toolCalls(call("x", "kb_search", `{}`))), "openai_bad_output", 2},
		{"max steps", loop, "openai_max_steps", MaxSteps},
		{"transport error", newMock(func(context.Context, int, *Request) (*Response, error) {
			return nil, errors.New("connection refused")
		}), "openai_request_failed", 1},
		{"malformed output", newMock(func(context.Context, int, *Request) (*Response, error) {
			return nil, fmt.Errorf("decode: %w", ErrMalformedOutput)
		}), "openai_bad_output", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := runEngine(t, tt.provider)
			if !res.Failed() || res.Reason != tt.reason {
				t.Errorf("result = %+v, want reason %q", res, tt.reason)
			}
			if got := tt.provider.calls(); got != tt.wantCalls {
				t.Errorf("transport calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestRun_NonJSONKeepsRaw(t *testing.T) {
	t.Parallel()

	res := runEngine(t, scripted(text("not json")))
	b, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"status":"failed","reason":"openai_non_json","raw":"not json"}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
}

func TestRun_OutputTextFallback(t *testing.T) {
	t.Parallel()

	res := runEngine(t, scripted(&Response{Output: []Turn{}, OutputText: validVerdict}))
	if res.Failed() {
		t.Fatalf("run failed: %s", res.Reason)
	}
}

func TestRun_NotConfigured(t *testing.T) {
	t.Parallel()

	p := scripted(text(validVerdict))
	p.configured = false
	if res := runEngine(t, p); res.Reason != "openai_not_configured" {
		t.Errorf("reason = %q", res.Reason)
	}
	if p.calls() != 0 {
		t.Errorf("unconfigured provider called %d times", p.calls())
	}

	if res := runEngine(t, nil); res.Reason != "llm_not_configured" {
		t.Errorf("nil provider reason = %q", res.Reason)
	}
}

func TestRun_CallTimeout(t *testing.T) {
	t.Parallel()

	p := newMock(func(ctx context.Context, _ int, _ *Request) (*Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	res := runEngine(t, p, WithCallTimeout(20*time.Millisecond))
	if res.Reason != "openai_timeout" {
		t.Errorf("reason = %q, want openai_timeout", res.Reason)
	}
}

func TestRun_TimeoutWrappedWithoutCause(t *testing.T) {
	t.Parallel()

	// transport hides the context error behind its own message
	p := newMock(func(ctx context.Context, _ int, _ *Request) (*Response, error) {
		<-ctx.Done()
		return nil, errors.New("request aborted")
	})
	res := runEngine(t, p, WithCallTimeout(20*time.Millisecond))
	if res.Reason != "openai_timeout" {
		t.Errorf("reason = %q, want openai_timeout", res.Reason)
	}
}

func TestRun_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := scripted(text(validVerdict))
	d, _ := newDispatcher(t)
	res := NewEngine(p, d, nil, EngineHooks{}).Run(ctx, "run-test", testAlert())
	if res.Reason != "openai_canceled" || p.calls() != 0 {
		t.Errorf("reason = %q calls = %d", res.Reason, p.calls())
	}
}

func TestRun_SyntheticCallIDs(t *testing.T) {
	t.Parallel()

	p := scripted(
		&Response{Output: []Turn{
			ModelTextTurn{Text: "checking"},
			call("", "kb_search", `{"query":"payments"}`),
			call("", "kb_search", `{"query":"sev1"}`),
		}},
		text(validVerdict),
	)
	res := runEngine(t, p)
	if res.Failed() {
		t.Fatalf("run failed: %s", res.Reason)
	}

	var ids []string
	for _, turn := range p.requests[1].Turns {
		if r, ok := turn.(ToolResultTurn); ok {
			ids = append(ids, r.CallID)
		}
	}
	if strings.Join(ids, ",") != "call_1_2,call_1_3" {
		t.Errorf("result ids = %v", ids)
	}
}

func TestRun_ToolFailureIsFedBack(t *testing.T) {
	t.Parallel()

	p := scripted(
		toolCalls(
			call("c1", "page_ceo", `{}`),
			call("c2", "assign_owners", `{"incident_id":"INC-MISSING0"}`),
			call("c3", "", `{}`),
		),
		text(validVerdict),
	)
	res := runEngine(t, p)
	if res.Failed() {
		t.Fatalf("run failed: %s", res.Reason)
	}

	want := map[string]string{
		"c1": "unknown tool 'page_ceo'",
		"c2": "incident not found",
		"c3": "missing_tool_name",
	}
	for _, turn := range p.requests[1].Turns {
		r, ok := turn.(ToolResultTurn)
		if !ok {
			continue
		}
		var f struct {
			OK     bool   `json:"ok"`
			Reason string `json:"reason"`
		}
		_ = json.Unmarshal(r.Output, &f)
		if f.OK || f.Reason != want[r.CallID] {
			t.Errorf("%s output = %s, want reason %q", r.CallID, r.Output, want[r.CallID])
		}
	}
}

func TestRun_HooksAndTurnCallback(t *testing.T) {
	t.Parallel()

	var (
		mu         sync.Mutex
		modelCalls int
		toolNames  []string
		complete   *CompleteEvent
		seqs       []int
		kinds      []string
	)
	hooks := EngineHooks{
		OnModelCall: func(provider, model string, in, out int, _ float64, err error) {
			mu.Lock()
			defer mu.Unlock()
			modelCalls++
			if provider != "openai" || model != "gpt-test" || err != nil {
				t.Errorf("OnModelCall(%q, %q, err=%v)", provider, model, err)
			}
		},
		OnToolCall: func(tool string, _ float64, failed bool) {
			mu.Lock()
			defer mu.Unlock()
			toolNames = append(toolNames, fmt.Sprintf("%s:%v", tool, failed))
		},
		OnComplete: func(e *CompleteEvent) {
			mu.Lock()
			defer mu.Unlock()
			complete = e
		},
	}
	onTurn := func(_ context.Context, seq int, turn Turn) {
		mu.Lock()
		defer mu.Unlock()
		seqs = append(seqs, seq)
		kinds = append(kinds, turn.Kind())
	}

	p := scripted(
		toolCalls(call("c1", "kb_search", `{"query":"payments"}`), call("c2", "nope", `{}`)),
		text(validVerdict),
	)
	d, _ := newDispatcher(t)
	NewEngine(p, d, log.Nop(), hooks, WithTurnCallback(onTurn)).Run(context.Background(), "run-test", testAlert())

	mu.Lock()
	defer mu.Unlock()
	if modelCalls != 2 {
		t.Errorf("model calls = %d, want 2", modelCalls)
	}
	if strings.Join(toolNames, ",") != "kb_search:false,unknown:true" {
		t.Errorf("tool calls = %v", toolNames)
	}
	if complete == nil || complete.Failed || complete.Steps != 2 || complete.ToolCalls != 2 {
		t.Errorf("complete = %+v", complete)
	}
	wantKinds := "system,user,tool_call,tool_call,tool_result,tool_result,model_text"
	if strings.Join(kinds, ",") != wantKinds {
		t.Errorf("kinds = %v", kinds)
	}
	for i, s := range seqs {
		if s != i {
			t.Fatalf("seqs = %v", seqs)
		}
	}
}

// Not parallel: swaps the global tracer provider.
func TestRun_Spans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	p := scripted(
		toolCalls(call("c1", "kb_search", `{"query":"payments"}`)),
		text("not json"),
	)
	res := runEngine(t, p)
	if res.Reason != "openai_non_json" {
		t.Fatalf("reason = %q", res.Reason)
	}

	counts := map[string]int{}
	var runSpan sdktrace.ReadOnlySpan
	for _, s := range sr.Ended() {
		counts[s.Name()]++
		if s.Name() == "agent.run" {
			runSpan = s
		}
	}
	if counts["agent.run"] != 1 || counts["model.call"] != 2 || counts["tool.dispatch"] != 1 {
		t.Errorf("span counts = %v", counts)
	}
	if runSpan == nil {
		t.Fatal("no agent.run span")
	}
	var reason string
	for _, kv := range runSpan.Attributes() {
		if kv.Key == "run.reason" {
			reason = kv.Value.AsString()
		}
	}
	if reason != "openai_non_json" {
		t.Errorf("run.reason = %q", reason)
	}
}
