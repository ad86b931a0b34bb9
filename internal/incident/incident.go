// Package incident defines the persistent incident and note entities, the
// pure severity and ownership policies, and the Store repository contract.
package incident

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/linnemanlabs/responder/internal/alert"
)

// ErrNotFound is returned when an operation references a missing incident.
var ErrNotFound = errors.New("incident not found")

// DefaultCreatedBy labels notes whose creator was not given.
const DefaultCreatedBy = "orchestrate"

// Severity is the impact tier of an incident.
type Severity string

const (
	SEV1 Severity = "SEV1"
	SEV2 Severity = "SEV2"
	SEV3 Severity = "SEV3"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SEV1, SEV2, SEV3:
		return true
	}
	return false
}

// Role of an assignee on an incident.
type Role string

const (
	RolePrimary   Role = "Primary"
	RoleSecondary Role = "Secondary"
)

// Assignee is a team attached to an incident in a given role.
type Assignee struct {
	Team string `json:"team"`
	Role Role   `json:"role"`
}

// Incident is created once from a normalized alert and never mutated.
type Incident struct {
	ID        string             `json:"incident_id"`
	Type      alert.IncidentType `json:"incident_type"`
	Service   string             `json:"service"`
	Signal    alert.Signal       `json:"signal"`
	StartTime string             `json:"start_time"`
	Impact    string             `json:"impact"`
	Region    *string            `json:"region"`
	Severity  Severity           `json:"severity"`
	CreatedAt time.Time          `json:"created_at"`
	Assignees []Assignee         `json:"assignees"`
}

// Clone returns a deep copy of the incident.
func (i *Incident) Clone() *Incident {
	cp := *i
	if i.Region != nil {
		r := *i.Region
		cp.Region = &r
	}
	cp.Assignees = append([]Assignee(nil), i.Assignees...)
	return &cp
}

// Note is an append-only annotation on exactly one incident.
type Note struct {
	ID         string          `json:"note_id"`
	IncidentID string          `json:"incident_id"`
	CreatedAt  time.Time       `json:"created_at"`
	Type       string          `json:"type"`
	Title      *string         `json:"title"`
	Payload    json.RawMessage `json:"payload"`
	CreatedBy  string          `json:"created_by"`
}

// Store persists incidents and their notes. Implementations must be safe
// for concurrent use and commit each write atomically.
type Store interface {
	CreateIncident(ctx context.Context, inc *Incident) (string, error)
	GetIncident(ctx context.Context, id string) (*Incident, bool, error)
	// AppendNote returns ErrNotFound when the referenced incident is missing.
	AppendNote(ctx context.Context, n *Note) (string, error)
	CountNotes(ctx context.Context, incidentID string) (int, error)
	ListNotes(ctx context.Context, incidentID string) ([]Note, error)
}

// ClassifySeverity maps an incident type to its severity tier.
func ClassifySeverity(t alert.IncidentType) Severity {
	switch t {
	case alert.PaymentsFailing, alert.LoginOutage:
		return SEV1
	case alert.LatencyRegression:
		return SEV2
	default:
		return SEV3
	}
}

// DefaultAssignees returns the fixed Primary/Secondary pairing for an
// incident type. Unrecognized types get the infrastructure pairing.
func DefaultAssignees(t alert.IncidentType) []Assignee {
	secondary := "Performance/Infra Team"
	switch t {
	case alert.PaymentsFailing:
		secondary = "Payments Team"
	case alert.LoginOutage:
		secondary = "Identity/Auth Team"
	}
	return []Assignee{
		{Team: "Backend Oncall", Role: RolePrimary},
		{Team: secondary, Role: RoleSecondary},
	}
}

// New builds an incident from a normalized alert with a fresh id and the
// derived severity and assignees.
func New(a alert.Alert, now time.Time) *Incident {
	return &Incident{
		ID:        NewIncidentID(),
		Type:      a.IncidentType,
		Service:   a.Service,
		Signal:    a.Signal,
		StartTime: a.StartTime,
		Impact:    a.Impact,
		Region:    a.Region,
		Severity:  ClassifySeverity(a.IncidentType),
		CreatedAt: now.UTC(),
		Assignees: DefaultAssignees(a.IncidentType),
	}
}

// NewIncidentID returns an id of the form INC-XXXXXXXX.
func NewIncidentID() string { return newID("INC-") }

// NewNoteID returns an id of the form NOTE-XXXXXXXX.
func NewNoteID() string { return newID("NOTE-") }

func newID(prefix string) string {
	u := uuid.New()
	hex := strings.ReplaceAll(u.String(), "-", "")
	return prefix + strings.ToUpper(hex[:8])
}
