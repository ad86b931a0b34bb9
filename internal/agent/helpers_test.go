package agent

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/linnemanlabs/responder/internal/evidence"
	"github.com/linnemanlabs/responder/internal/incident/memstore"
	"github.com/linnemanlabs/responder/internal/kb"
	"github.com/linnemanlabs/responder/internal/tools"
)

const validVerdict = `{
  "incident_id": "INC-0A1B2C3D",
  "status": "in_progress",
  "severity": "SEV1",
  "service": "checkout",
  "summary": "Checkout payments failing",
  "evidence": {
    "metrics_window": "last 15m",
    "error_rate": 0.12,
    "p95_latency_ms": 1800,
    "upstream_timeout_rate": null,
    "request_rate_rps": 240,
    "log_window": "10:00-10:15",
    "log_highlights": ["ERROR gateway timeout"],
    "recent_changes": [],
    "runbook_title": "Payments failing"
  },
  "recommended_actions": ["Check gateway status"],
  "suggested_mitigations": [],
  "next_update_minutes": 15
}`

// mockProvider returns preconfigured responses in sequence and records
// every request it receives.
type mockProvider struct {
	name       string
	configured bool
	send       func(ctx context.Context, idx int, req *Request) (*Response, error)

	mu       sync.Mutex
	requests []*Request
}

func newMock(send func(ctx context.Context, idx int, req *Request) (*Response, error)) *mockProvider {
	return &mockProvider{name: "openai", configured: true, send: send}
}

// scripted returns a mock that replays responses in order.
func scripted(responses ...*Response) *mockProvider {
	return newMock(func(_ context.Context, idx int, _ *Request) (*Response, error) {
		if idx < len(responses) {
			return responses[idx], nil
		}
		return text("fallback"), nil
	})
}

func (m *mockProvider) Name() string     { return m.name }
func (m *mockProvider) Configured() bool { return m.configured }

func (m *mockProvider) Send(ctx context.Context, req *Request) (*Response, error) {
	m.mu.Lock()
	idx := len(m.requests)
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	return m.send(ctx, idx, req)
}

func (m *mockProvider) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func text(s string) *Response {
	return &Response{
		Output: []Turn{ModelTextTurn{Text: s}},
		Usage:  Usage{InputTokens: 10, OutputTokens: 5},
		Model:  "gpt-test",
	}
}

func call(id, name, args string) ToolCallTurn {
	return ToolCallTurn{CallID: id, Name: name, Arguments: json.RawMessage(args)}
}

func toolCalls(calls ...ToolCallTurn) *Response {
	out := make([]Turn, 0, len(calls))
	for _, c := range calls {
		out = append(out, c)
	}
	return &Response{Output: out, Usage: Usage{InputTokens: 20, OutputTokens: 8}, Model: "gpt-test"}
}

type stubSearcher struct{}

func (stubSearcher) Search(context.Context, kb.Query) ([]kb.Hit, error) {
	return []kb.Hit{{ChunkID: "rb-payments-001", Title: "Payments runbook"}}, nil
}

// newDispatcher returns a dispatcher over the default tool set backed by
// a memstore and the embedded evidence fixtures.
func newDispatcher(tb testing.TB) (*tools.Dispatcher, *memstore.Store) {
	tb.Helper()
	store := memstore.New()
	reg := tools.NewDefaultRegistry(tools.Deps{
		Store:    store,
		Evidence: evidence.Embedded(),
		KB:       stubSearcher{},
	})
	return tools.NewDispatcher(reg, nil), store
}
