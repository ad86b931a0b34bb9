package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/linnemanlabs/responder/internal/alert"
	"github.com/linnemanlabs/responder/internal/evidence"
	"github.com/linnemanlabs/responder/internal/incident"
)

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// CreateIncident normalizes alert fields and persists a new incident.
type CreateIncident struct {
	store incident.Store
	now   Clock
}

// NewCreateIncident returns the create_incident tool.
func NewCreateIncident(store incident.Store, now Clock) *CreateIncident {
	if now == nil {
		now = time.Now
	}
	return &CreateIncident{store: store, now: now}
}

func (t *CreateIncident) Capability() Capability { return CapCreateIncident }
func (t *CreateIncident) Name() string           { return CapCreateIncident.String() }

func (t *CreateIncident) Description() string {
	return "Create an incident record from an alert payload."
}

func (t *CreateIncident) Parameters() json.RawMessage {
	return json.RawMessage(`{
        "type": "object",
        "properties": {
            "alert": {
                "type": "object",
                "properties": {
                    "incident_type": {"type": "string"},
                    "service": {"type": "string"},
                    "signal": {"type": "string"},
                    "start_time": {"type": "string"},
                    "impact": {"type": "string"},
                    "region": {"type": ["string", "null"]}
                }
            }
        },
        "required": ["alert"]
    }`)
}

func (t *CreateIncident) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var envelope map[string]any
	if err := decodeArgs(params, &envelope); err != nil {
		return nil, err
	}
	// models occasionally send the alert fields at the top level
	raw := alert.Raw(envelope)
	if nested, ok := envelope["alert"].(map[string]any); ok {
		raw = alert.Raw(nested)
	}

	now := t.now()
	inc := incident.New(alert.Normalize(raw, now), now)
	id, err := t.store.CreateIncident(ctx, inc)
	if err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}

	return json.Marshal(map[string]any{
		"incident_id": id,
		"severity":    inc.Severity,
		"created_at":  timestamp(inc.CreatedAt),
	})
}

// AssignOwners returns the assignees recorded on an incident.
type AssignOwners struct {
	store incident.Store
}

// NewAssignOwners returns the assign_owners tool.
func NewAssignOwners(store incident.Store) *AssignOwners {
	return &AssignOwners{store: store}
}

func (t *AssignOwners) Capability() Capability { return CapAssignOwners }
func (t *AssignOwners) Name() string           { return CapAssignOwners.String() }

func (t *AssignOwners) Description() string {
	return "Fetch default assignees for an incident."
}

func (t *AssignOwners) Parameters() json.RawMessage {
	return incidentIDSchema
}

func (t *AssignOwners) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	inc, err := loadIncident(ctx, t.store, params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"incident_id": inc.ID,
		"assignees":   inc.Assignees,
	})
}

// GetEvidence bundles an incident's metadata with its evidence documents.
type GetEvidence struct {
	store    incident.Store
	provider evidence.Provider
}

// NewGetEvidence returns the get_evidence tool.
func NewGetEvidence(store incident.Store, provider evidence.Provider) *GetEvidence {
	return &GetEvidence{store: store, provider: provider}
}

func (t *GetEvidence) Capability() Capability { return CapGetEvidence }
func (t *GetEvidence) Name() string           { return CapGetEvidence.String() }

func (t *GetEvidence) Description() string {
	return "Get evidence bundle (logs/metrics/changes/runbook) for an incident."
}

func (t *GetEvidence) Parameters() json.RawMessage {
	return incidentIDSchema
}

func (t *GetEvidence) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	inc, err := loadIncident(ctx, t.store, params)
	if err != nil {
		return nil, err
	}
	bundle, err := evidence.LoadBundle(ctx, t.provider, inc.Type)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"incident_id":     inc.ID,
		"incident_type":   inc.Type,
		"service":         inc.Service,
		"region":          inc.Region,
		"evidence_bundle": bundle,
	})
}

// AddNote appends a structured note to an incident.
type AddNote struct {
	store incident.Store
	now   Clock
}

// NewAddNote returns the add_note tool.
func NewAddNote(store incident.Store, now Clock) *AddNote {
	if now == nil {
		now = time.Now
	}
	return &AddNote{store: store, now: now}
}

func (t *AddNote) Capability() Capability { return CapAddNote }
func (t *AddNote) Name() string           { return CapAddNote.String() }

func (t *AddNote) Description() string {
	return "Attach a structured note to an incident."
}

func (t *AddNote) Parameters() json.RawMessage {
	return json.RawMessage(`{
        "type": "object",
        "properties": {
            "incident_id": {"type": "string"},
            "note_type": {"type": "string"},
            "title": {"type": ["string", "null"]},
            "payload": {"type": "object"},
            "created_by": {"type": ["string", "null"]}
        },
        "required": ["incident_id", "note_type", "payload"]
    }`)
}

func (t *AddNote) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var input struct {
		IncidentID string          `json:"incident_id"`
		NoteType   string          `json:"note_type"`
		Title      *string         `json:"title"`
		Payload    json.RawMessage `json:"payload"`
		CreatedBy  *string         `json:"created_by"`
	}
	if err := decodeArgs(params, &input); err != nil {
		return nil, err
	}
	if err := required("incident_id", input.IncidentID); err != nil {
		return nil, err
	}
	if err := required("note_type", input.NoteType); err != nil {
		return nil, err
	}

	payload := input.Payload
	if len(payload) == 0 || string(payload) == "null" {
		payload = json.RawMessage(`{}`)
	}
	createdBy := incident.DefaultCreatedBy
	if input.CreatedBy != nil && *input.CreatedBy != "" {
		createdBy = *input.CreatedBy
	}

	n := &incident.Note{
		ID:         incident.NewNoteID(),
		IncidentID: input.IncidentID,
		CreatedAt:  t.now().UTC(),
		Type:       input.NoteType,
		Title:      input.Title,
		Payload:    payload,
		CreatedBy:  createdBy,
	}
	if _, err := t.store.AppendNote(ctx, n); err != nil {
		return nil, err
	}
	count, err := t.store.CountNotes(ctx, n.IncidentID)
	if err != nil {
		return nil, fmt.Errorf("count notes: %w", err)
	}

	return json.Marshal(map[string]any{
		"ok":          true,
		"incident_id": n.IncidentID,
		"note_id":     n.ID,
		"created_at":  timestamp(n.CreatedAt),
		"notes_count": count,
	})
}

var incidentIDSchema = json.RawMessage(`{
        "type": "object",
        "properties": {"incident_id": {"type": "string"}},
        "required": ["incident_id"]
    }`)

func loadIncident(ctx context.Context, store incident.Store, params json.RawMessage) (*incident.Incident, error) {
	var input struct {
		IncidentID string `json:"incident_id"`
	}
	if err := decodeArgs(params, &input); err != nil {
		return nil, err
	}
	if err := required("incident_id", input.IncidentID); err != nil {
		return nil, err
	}
	inc, ok, err := store.GetIncident(ctx, input.IncidentID)
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	if !ok {
		return nil, incident.ErrNotFound
	}
	return inc, nil
}
