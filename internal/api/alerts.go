package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/responder/internal/alert"
)

func (a *API) handleIngestAlert(w http.ResponseWriter, r *http.Request) {
	var raw alert.Raw
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil || raw == nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "reason": "invalid payload"})
		return
	}

	run, err := a.svc.Submit(r.Context(), raw)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("responder.run.id", run.ID))
	writeJSON(w, http.StatusAccepted, map[string]any{"run_id": run.ID})
}

func (a *API) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("responder.run.id", id))

	run, ok := a.svc.Get(r.Context(), id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "reason": "run not found"})
		return
	}

	span.SetAttributes(attribute.String("responder.run.status", string(run.Status)))
	writeJSON(w, http.StatusOK, run)
}
