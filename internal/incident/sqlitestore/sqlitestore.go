// Package sqlitestore provides a SQLite implementation of incident.Store.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/responder/internal/alert"
	"github.com/linnemanlabs/responder/internal/incident"
)

var tracer = otel.Tracer("github.com/linnemanlabs/responder/internal/incident/sqlitestore")

//go:embed schema.sql
var schema string

// Store persists incidents and notes in SQLite. It does not own the
// database handle.
type Store struct {
	db *sql.DB
}

// New applies the schema to db and returns a ready Store.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// CreateIncident inserts a new incident row.
func (s *Store) CreateIncident(ctx context.Context, inc *incident.Incident) (string, error) {
	ctx, span := startSpan(ctx, "sqlitestore.CreateIncident", "INSERT")
	defer span.End()

	assignees, err := json.Marshal(inc.Assignees)
	if err != nil {
		return "", fail(span, fmt.Errorf("marshal assignees: %w", err))
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO incidents (incident_id, incident_type, service, signal, start_time, impact, region, severity, created_at, assignees_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.ID, string(inc.Type), inc.Service, string(inc.Signal), inc.StartTime, inc.Impact,
		inc.Region, string(inc.Severity), inc.CreatedAt.UTC().Format(time.RFC3339Nano), string(assignees),
	)
	if err != nil {
		return "", fail(span, fmt.Errorf("insert incident: %w", err))
	}
	return inc.ID, nil
}

// GetIncident retrieves an incident by ID.
func (s *Store) GetIncident(ctx context.Context, id string) (*incident.Incident, bool, error) {
	ctx, span := startSpan(ctx, "sqlitestore.GetIncident", "SELECT")
	defer span.End()

	var (
		inc                        incident.Incident
		itype, signal, sev, region sql.NullString
		createdAt, assignees       string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT incident_id, incident_type, service, signal, start_time, impact, region, severity, created_at, assignees_json
		 FROM incidents WHERE incident_id = ?`, id,
	).Scan(&inc.ID, &itype, &inc.Service, &signal, &inc.StartTime, &inc.Impact, &region, &sev, &createdAt, &assignees)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("select incident: %w", err))
	}

	inc.Type = alert.IncidentType(itype.String)
	inc.Signal = alert.Signal(signal.String)
	inc.Severity = incident.Severity(sev.String)
	if region.Valid {
		inc.Region = &region.String
	}
	if inc.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, false, fail(span, fmt.Errorf("parse created_at: %w", err))
	}
	if err := json.Unmarshal([]byte(assignees), &inc.Assignees); err != nil {
		return nil, false, fail(span, fmt.Errorf("unmarshal assignees: %w", err))
	}
	return &inc, true, nil
}

// AppendNote inserts a note after confirming its incident exists, in one
// transaction.
func (s *Store) AppendNote(ctx context.Context, n *incident.Note) (string, error) {
	ctx, span := startSpan(ctx, "sqlitestore.AppendNote", "INSERT")
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is harmless

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM incidents WHERE incident_id = ?`, n.IncidentID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return "", incident.ErrNotFound
	}
	if err != nil {
		return "", fail(span, fmt.Errorf("lookup incident: %w", err))
	}

	payload := n.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO incident_notes (note_id, incident_id, created_at, type, title, payload_json, created_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.IncidentID, n.CreatedAt.UTC().Format(time.RFC3339Nano), n.Type, n.Title, string(payload), n.CreatedBy,
	)
	if err != nil {
		return "", fail(span, fmt.Errorf("insert note: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return "", fail(span, fmt.Errorf("commit: %w", err))
	}
	return n.ID, nil
}

// CountNotes returns the number of notes attached to an incident.
func (s *Store) CountNotes(ctx context.Context, incidentID string) (int, error) {
	ctx, span := startSpan(ctx, "sqlitestore.CountNotes", "SELECT")
	defer span.End()

	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM incident_notes WHERE incident_id = ?`, incidentID,
	).Scan(&n); err != nil {
		return 0, fail(span, fmt.Errorf("count notes: %w", err))
	}
	return n, nil
}

// ListNotes returns an incident's notes in append order.
func (s *Store) ListNotes(ctx context.Context, incidentID string) ([]incident.Note, error) {
	ctx, span := startSpan(ctx, "sqlitestore.ListNotes", "SELECT")
	defer span.End()

	rows, err := s.db.QueryContext(ctx,
		`SELECT note_id, incident_id, created_at, type, title, payload_json, created_by
		 FROM incident_notes WHERE incident_id = ? ORDER BY seq`, incidentID)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query notes: %w", err))
	}
	defer func() { _ = rows.Close() }()

	notes := []incident.Note{}
	for rows.Next() {
		var (
			n         incident.Note
			createdAt string
			title     sql.NullString
			payload   string
		)
		if err := rows.Scan(&n.ID, &n.IncidentID, &createdAt, &n.Type, &title, &payload, &n.CreatedBy); err != nil {
			return nil, fail(span, fmt.Errorf("scan note: %w", err))
		}
		if n.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fail(span, fmt.Errorf("parse note created_at: %w", err))
		}
		if title.Valid {
			n.Title = &title.String
		}
		n.Payload = json.RawMessage(payload)
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate notes: %w", err))
	}
	return notes, nil
}
