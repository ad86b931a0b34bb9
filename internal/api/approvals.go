package api

import (
	"encoding/json"
	"net/http"

	"github.com/linnemanlabs/responder/internal/approvals"
)

func (a *API) handleEnqueueApproval(w http.ResponseWriter, r *http.Request) {
	var req approvals.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badPayload(w)
		return
	}

	item, err := a.approvals.Enqueue(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.reportDepth(r)

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "approval_id": item.ID})
}

func (a *API) handleTakeApproval(w http.ResponseWriter, r *http.Request) {
	item, ok, err := a.approvals.TakeNext(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "has_item": false})
		return
	}
	a.reportDepth(r)

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "has_item": true, "item": item})
}

func (a *API) reportDepth(r *http.Request) {
	if a.onDepth == nil {
		return
	}
	n, err := a.approvals.Len(r.Context())
	if err != nil {
		a.logger.Warn(r.Context(), "approval queue length unavailable", "error", err.Error())
		return
	}
	a.onDepth(n)
}
