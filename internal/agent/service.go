package agent

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/responder/internal/alert"
)

// RunStatus tracks where a run is in its lifecycle.
type RunStatus string

const (
	// RunPending means accepted, not yet started
	RunPending RunStatus = "pending"

	// RunInProgress means the engine is running
	RunInProgress RunStatus = "in_progress"

	// RunComplete means a verdict was produced
	RunComplete RunStatus = "complete"

	// RunFailed means the run ended without a verdict
	RunFailed RunStatus = "failed"
)

// Run is one submitted alert and, once finished, its result.
type Run struct {
	ID          string    `json:"run_id"`
	Status      RunStatus `json:"status"`
	Alert       alert.Raw `json:"alert"`
	Fallback    bool      `json:"fallback"`
	Result      *Result   `json:"result,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// Notifier posts a finished run to a chat channel.
type Notifier interface {
	Notify(ctx context.Context, runID string, r *Result) error
}

// DefaultRetainedRuns is how many finished runs a Service keeps.
const DefaultRetainedRuns = 1000

// Service is the business boundary for runs. Runs are held in memory and
// are not durable. In-flight runs are always kept; once more than the
// retention bound have finished, the oldest finished runs are evicted.
type Service struct {
	engine   *Engine
	fallback *Fallback
	notifier Notifier
	metrics  *Metrics
	logger   log.Logger
	retain   int

	mu       sync.RWMutex
	runs     map[string]*Run
	finished []string // completion order, oldest first
	wg       sync.WaitGroup
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithNotifier posts every finished run through n.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) { s.notifier = n }
}

// WithFallback runs f when the engine's provider is not configured.
func WithFallback(f *Fallback) ServiceOption {
	return func(s *Service) { s.fallback = f }
}

// WithMetrics counts submissions on m.
func WithMetrics(m *Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithRetainedRuns keeps at most n finished runs. Non-positive n is ignored.
func WithRetainedRuns(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.retain = n
		}
	}
}

// NewService creates a new run service.
func NewService(engine *Engine, logger log.Logger, opts ...ServiceOption) *Service {
	if engine == nil {
		panic(xerrors.New("agent: nil engine"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	s := &Service{
		engine: engine,
		logger: logger,
		retain: DefaultRetainedRuns,
		runs:   make(map[string]*Run),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit accepts an alert payload and starts a run in the background. The
// run outlives ctx's cancellation but keeps its values.
func (s *Service) Submit(ctx context.Context, raw alert.Raw) (*Run, error) {
	if raw == nil {
		raw = alert.Raw{}
	}
	r := &Run{
		ID:        ulid.Make().String(),
		Status:    RunPending,
		Alert:     raw,
		CreatedAt: time.Now().UTC(),
	}
	s.put(r)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(context.WithoutCancel(ctx), r.ID, raw)
	}()

	return r.clone(), nil
}

// Get returns a snapshot of the run with the given id.
func (s *Service) Get(_ context.Context, id string) (*Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, false
	}
	return r.clone(), true
}

// Wait blocks until all in-flight runs finish or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) execute(ctx context.Context, id string, raw alert.Raw) {
	L := s.logger.With("run_id", id)
	s.update(id, func(r *Run) { r.Status = RunInProgress })

	res := s.engine.Run(ctx, id, raw)
	fallback := false
	if res.Failed() && IsNotConfigured(res.Reason) && s.fallback != nil {
		L.Info(ctx, "provider not configured, using fixture runner", "reason", res.Reason)
		res = s.fallback.Run(ctx, id, raw)
		fallback = true
	}
	if s.metrics != nil {
		mode := "model"
		if fallback {
			mode = "fallback"
		}
		s.metrics.SubmitsTotal.WithLabelValues(mode).Inc()
	}

	s.finish(id, func(r *Run) {
		r.Result = res
		r.Fallback = fallback
		r.CompletedAt = time.Now().UTC()
		r.Status = RunComplete
		if res.Failed() {
			r.Status = RunFailed
		}
	})

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, id, res); err != nil {
			L.Error(ctx, err, "notification failed")
		}
	}

	L.Info(ctx, "run finished",
		"failed", res.Failed(),
		"reason", res.Reason,
		"fallback", fallback,
	)
}

func (s *Service) put(r *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = r
}

func (s *Service) update(id string, fn func(*Run)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runs[id]; ok {
		fn(r)
	}
}

// finish applies fn to a run, records it as finished and evicts the oldest
// finished runs beyond the retention bound.
func (s *Service) finish(id string, fn func(*Run)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return
	}
	fn(r)
	s.finished = append(s.finished, id)
	for len(s.finished) > s.retain {
		delete(s.runs, s.finished[0])
		s.finished = s.finished[1:]
	}
}

// clone copies the run. Result and Alert are never mutated after they are
// set, so they are shared.
func (r *Run) clone() *Run {
	c := *r
	return &c
}
