package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/linnemanlabs/go-core/log"
)

func TestMetrics_Hooks(t *testing.T) {
	t.Parallel()

	m := NewMetrics(prometheus.NewRegistry())
	p := scripted(
		toolCalls(call("c1", "kb_search", `{"query":"payments"}`), call("c2", "nope", `{}`)),
		text(validVerdict),
	)
	d, _ := newDispatcher(t)
	NewEngine(p, d, log.Nop(), m.Hooks()).Run(context.Background(), "run-m", testAlert())

	if v := testutil.ToFloat64(m.RunsTotal.WithLabelValues("complete", "")); v != 1 {
		t.Errorf("runs complete = %v", v)
	}
	if v := testutil.ToFloat64(m.ModelCallsTotal.WithLabelValues("openai", "ok")); v != 2 {
		t.Errorf("model calls = %v", v)
	}
	if v := testutil.ToFloat64(m.ModelTokensIn); v != 30 {
		t.Errorf("tokens in = %v", v)
	}
	if v := testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("kb_search", "success")); v != 1 {
		t.Errorf("kb_search success = %v", v)
	}
	if v := testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("unknown", "error")); v != 1 {
		t.Errorf("unknown error = %v", v)
	}
}

func TestMetrics_InventedToolNamesShareOneSeries(t *testing.T) {
	t.Parallel()

	m := NewMetrics(prometheus.NewRegistry())
	responses := make([]*Response, 0, MaxSteps)
	for i := range MaxSteps {
		responses = append(responses, toolCalls(call(fmt.Sprintf("c%d", i), fmt.Sprintf("bogus_tool_%d", i), `{}`)))
	}
	d, _ := newDispatcher(t)
	NewEngine(scripted(responses...), d, log.Nop(), m.Hooks()).Run(context.Background(), "run-bogus", testAlert())

	if n := testutil.CollectAndCount(m.ToolCallsTotal); n != 1 {
		t.Errorf("tool call series = %d, want 1", n)
	}
	if n := testutil.CollectAndCount(m.ToolDuration); n != 1 {
		t.Errorf("tool duration series = %d, want 1", n)
	}
	if v := testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("unknown", "error")); v != MaxSteps {
		t.Errorf("unknown error = %v, want %d", v, MaxSteps)
	}
}

func TestMetrics_Observers(t *testing.T) {
	t.Parallel()

	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveKBSearch(3, 2*time.Millisecond, nil)
	m.ObserveKBSearch(0, time.Millisecond, errors.New("boom"))
	m.ObserveQuery(context.Background(), "SELECT", "ok", time.Millisecond)
	m.SetApprovalDepth(4)

	if v := testutil.ToFloat64(m.KBSearchesTotal.WithLabelValues("ok")); v != 1 {
		t.Errorf("kb ok = %v", v)
	}
	if v := testutil.ToFloat64(m.KBSearchesTotal.WithLabelValues("error")); v != 1 {
		t.Errorf("kb error = %v", v)
	}
	if n := testutil.CollectAndCount(m.DBQueryDuration); n != 1 {
		t.Errorf("db query series = %d", n)
	}
	if v := testutil.ToFloat64(m.ApprovalDepth); v != 4 {
		t.Errorf("approval depth = %v", v)
	}
}

func TestNewMetrics_DoubleRegisterPanics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	NewMetrics(reg)
}
