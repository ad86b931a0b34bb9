package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/responder/internal/tools"
)

func (a *API) invoke(w http.ResponseWriter, r *http.Request, c tools.Capability, args any) {
	b, err := json.Marshal(args)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out, err := a.tools.Invoke(r.Context(), c, b)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeRaw(w, http.StatusOK, out)
}

// decodeObject reads a JSON object body; an empty body is an empty object.
func decodeObject(r *http.Request) (map[string]any, bool) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]any{}, true
		}
		return nil, false
	}
	if body == nil {
		body = map[string]any{}
	}
	return body, true
}

func badPayload(w http.ResponseWriter) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "reason": "invalid payload"})
}

func (a *API) handleCreateIncident(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeObject(r)
	if !ok {
		badPayload(w)
		return
	}
	a.invoke(w, r, tools.CapCreateIncident, map[string]any{"alert": body})
}

func (a *API) handleAssignOwners(w http.ResponseWriter, r *http.Request) {
	a.invoke(w, r, tools.CapAssignOwners, map[string]any{"incident_id": chi.URLParam(r, "id")})
}

func (a *API) handleGetEvidence(w http.ResponseWriter, r *http.Request) {
	a.invoke(w, r, tools.CapGetEvidence, map[string]any{"incident_id": chi.URLParam(r, "id")})
}

func (a *API) handleAddNote(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeObject(r)
	if !ok {
		badPayload(w)
		return
	}
	args := map[string]any{
		"incident_id": chi.URLParam(r, "id"),
		"note_type":   body["type"],
		"title":       body["title"],
		"payload":     body["payload"],
		"created_by":  body["created_by"],
	}
	a.invoke(w, r, tools.CapAddNote, args)
}

func (a *API) handleKBSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	args := map[string]any{"query": q.Get("q")}
	if k := q.Get("k"); k != "" {
		n, err := strconv.Atoi(k)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "reason": "k must be an integer"})
			return
		}
		args["k"] = n
	}
	for _, key := range []string{"incident_type", "service"} {
		if v := q.Get(key); v != "" {
			args[key] = v
		}
	}
	a.invoke(w, r, tools.CapKBSearch, args)
}
