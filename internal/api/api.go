// Package api exposes runs, the incident tool surface and the approval
// queue over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/responder/internal/agent"
	"github.com/linnemanlabs/responder/internal/alert"
	"github.com/linnemanlabs/responder/internal/approvals"
	"github.com/linnemanlabs/responder/internal/authmw"
	"github.com/linnemanlabs/responder/internal/evidence"
	"github.com/linnemanlabs/responder/internal/incident"
	"github.com/linnemanlabs/responder/internal/tools"
)

// RunService defines the run operations the API needs.
type RunService interface {
	Submit(ctx context.Context, raw alert.Raw) (*agent.Run, error)
	Get(ctx context.Context, id string) (*agent.Run, bool)
}

// ToolInvoker runs a single tool and returns its error unflattened.
type ToolInvoker interface {
	Invoke(ctx context.Context, c tools.Capability, args json.RawMessage) (json.RawMessage, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger    log.Logger
	svc       RunService
	tools     ToolInvoker
	approvals approvals.Queue
	token     string
	onDepth   func(int)
}

// Option configures an API.
type Option func(*API)

// WithBearerToken requires "Authorization: Bearer <token>" on /api/v1.
// An empty token disables auth.
func WithBearerToken(token string) Option {
	return func(a *API) { a.token = token }
}

// WithApprovalDepth registers a callback that receives the approval queue
// length after every enqueue and take.
func WithApprovalDepth(fn func(int)) Option {
	return func(a *API) { a.onDepth = fn }
}

// New creates a new API handler.
func New(logger log.Logger, svc RunService, invoker ToolInvoker, queue approvals.Queue, opts ...Option) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("run service is required"))
	}
	if invoker == nil {
		panic(xerrors.New("tool invoker is required"))
	}
	if queue == nil {
		panic(xerrors.New("approval queue is required"))
	}
	a := &API{
		logger:    logger,
		svc:       svc,
		tools:     invoker,
		approvals: queue,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		if a.token != "" {
			r.Use(authmw.BearerToken(a.token))
		}

		r.Post("/alerts", a.handleIngestAlert)
		r.Get("/runs/{id}", a.handleGetRun)

		r.Post("/incidents", a.handleCreateIncident)
		r.Post("/incidents/{id}/assign", a.handleAssignOwners)
		r.Get("/incidents/{id}/evidence", a.handleGetEvidence)
		r.Post("/incidents/{id}/notes", a.handleAddNote)
		r.Get("/kb/search", a.handleKBSearch)

		r.Post("/approvals", a.handleEnqueueApproval)
		r.Get("/approvals/next", a.handleTakeApproval)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, status int, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeError renders err as {"ok":false,"reason":...}. Only client errors
// carry the underlying message.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	reason := err.Error()
	if status == http.StatusInternalServerError {
		a.logger.Error(r.Context(), err, "request failed", "path", r.URL.Path)
		reason = "internal error"
	}
	writeJSON(w, status, map[string]any{"ok": false, "reason": reason})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, incident.ErrNotFound), errors.Is(err, evidence.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, tools.ErrInvalidArgs):
		return http.StatusBadRequest
	case errors.Is(err, approvals.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
