package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestOperationName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, tag, sql, want string
	}{
		{"from tag", "INSERT 0 1", "insert into x", "INSERT"},
		{"from sql when no tag", "", "  select 1", "SELECT"},
		{"multiline sql", "", "\n\tWITH x AS (SELECT 1) SELECT * FROM x", "WITH"},
		{"nothing", "", "", "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := operationName(tt.tag, tt.sql); got != tt.want {
				t.Errorf("operationName(%q, %q) = %q, want %q", tt.tag, tt.sql, got, tt.want)
			}
		})
	}
}

type recordingTracer struct {
	mu     sync.Mutex
	starts int
	ends   int
}

func (r *recordingTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, _ pgx.TraceQueryStartData) context.Context {
	r.mu.Lock()
	r.starts++
	r.mu.Unlock()
	return ctx
}

func (r *recordingTracer) TraceQueryEnd(context.Context, *pgx.Conn, pgx.TraceQueryEndData) {
	r.mu.Lock()
	r.ends++
	r.mu.Unlock()
}

type observation struct {
	op, outcome string
	dur         time.Duration
}

// Not parallel: installs the global query observer.
func TestLoggingTracer_ObservesAndDelegates(t *testing.T) {
	var got []observation
	SetQueryObserver(QueryObserverFunc(func(_ context.Context, op, outcome string, dur time.Duration) {
		got = append(got, observation{op, outcome, dur})
	}))
	t.Cleanup(func() { SetQueryObserver(nil) })

	inner := &recordingTracer{}
	tr := wrapQueryTracer(inner)
	ctx := context.Background()

	qctx := tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	time.Sleep(time.Millisecond)
	tr.TraceQueryEnd(qctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("SELECT 1")})

	qctx = tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "insert into incidents"})
	tr.TraceQueryEnd(qctx, nil, pgx.TraceQueryEndData{Err: errors.New("boom")})

	if inner.starts != 2 || inner.ends != 2 {
		t.Errorf("inner tracer starts=%d ends=%d, want 2/2", inner.starts, inner.ends)
	}
	if len(got) != 2 {
		t.Fatalf("observations = %d, want 2", len(got))
	}
	if got[0].op != "SELECT" || got[0].outcome != "ok" || got[0].dur <= 0 {
		t.Errorf("first observation = %+v", got[0])
	}
	if got[1].op != "INSERT" || got[1].outcome != "error" {
		t.Errorf("second observation = %+v", got[1])
	}
}

func TestLoggingTracer_NilInner(t *testing.T) {
	t.Parallel()

	tr := wrapQueryTracer(nil)
	ctx := tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})
}

func TestNewPool_BadURL(t *testing.T) {
	t.Parallel()

	if _, err := NewPool(context.Background(), "://not a url"); err == nil {
		t.Fatal("NewPool accepted an invalid url")
	}
}
