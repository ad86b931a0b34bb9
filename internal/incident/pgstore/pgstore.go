// Package pgstore provides a PostgreSQL implementation of incident.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/responder/internal/alert"
	"github.com/linnemanlabs/responder/internal/incident"
	"github.com/linnemanlabs/responder/internal/postgres"
)

var tracer = otel.Tracer("github.com/linnemanlabs/responder/internal/incident/pgstore")

//go:embed schema.sql
var schema string

// Store persists incidents and notes in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL, applies the schema, and returns a ready Store.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
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
	ctx, span := startSpan(ctx, "pgstore.CreateIncident", "INSERT")
	defer span.End()

	assignees, err := json.Marshal(inc.Assignees)
	if err != nil {
		return "", fail(span, fmt.Errorf("marshal assignees: %w", err))
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO incidents (incident_id, incident_type, service, signal, start_time, impact, region, severity, created_at, assignees)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		inc.ID, string(inc.Type), inc.Service, string(inc.Signal), inc.StartTime, inc.Impact,
		inc.Region, string(inc.Severity), inc.CreatedAt, assignees,
	)
	if err != nil {
		return "", fail(span, fmt.Errorf("insert incident: %w", err))
	}
	return inc.ID, nil
}

// GetIncident retrieves an incident by ID.
func (s *Store) GetIncident(ctx context.Context, id string) (*incident.Incident, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetIncident", "SELECT")
	defer span.End()

	var (
		inc                incident.Incident
		itype, signal, sev string
		assignees          []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT incident_id, incident_type, service, signal, start_time, impact, region, severity, created_at, assignees
		 FROM incidents WHERE incident_id = $1`, id,
	).Scan(&inc.ID, &itype, &inc.Service, &signal, &inc.StartTime, &inc.Impact, &inc.Region, &sev, &inc.CreatedAt, &assignees)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("scan incident: %w", err))
	}

	inc.Type = alert.IncidentType(itype)
	inc.Signal = alert.Signal(signal)
	inc.Severity = incident.Severity(sev)
	if err := json.Unmarshal(assignees, &inc.Assignees); err != nil {
		return nil, false, fail(span, fmt.Errorf("unmarshal assignees: %w", err))
	}
	return &inc, true, nil
}

// AppendNote inserts a note, locking the parent incident row so concurrent
// appends to one incident serialize.
func (s *Store) AppendNote(ctx context.Context, n *incident.Note) (string, error) {
	ctx, span := startSpan(ctx, "pgstore.AppendNote", "INSERT")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	var id string
	err = tx.QueryRow(ctx, `SELECT incident_id FROM incidents WHERE incident_id = $1 FOR UPDATE`, n.IncidentID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", incident.ErrNotFound
	}
	if err != nil {
		return "", fail(span, fmt.Errorf("lock incident: %w", err))
	}

	payload := n.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO incident_notes (note_id, incident_id, created_at, type, title, payload, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.IncidentID, n.CreatedAt, n.Type, n.Title, []byte(payload), n.CreatedBy,
	)
	if err != nil {
		return "", fail(span, fmt.Errorf("insert note: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fail(span, fmt.Errorf("commit: %w", err))
	}
	return n.ID, nil
}

// CountNotes returns the number of notes attached to an incident.
func (s *Store) CountNotes(ctx context.Context, incidentID string) (int, error) {
	ctx, span := startSpan(ctx, "pgstore.CountNotes", "SELECT")
	defer span.End()

	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM incident_notes WHERE incident_id = $1`, incidentID,
	).Scan(&n); err != nil {
		return 0, fail(span, fmt.Errorf("count notes: %w", err))
	}
	return n, nil
}

// ListNotes returns an incident's notes in append order.
func (s *Store) ListNotes(ctx context.Context, incidentID string) ([]incident.Note, error) {
	ctx, span := startSpan(ctx, "pgstore.ListNotes", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT note_id, incident_id, created_at, type, title, payload, created_by
		 FROM incident_notes WHERE incident_id = $1 ORDER BY seq`, incidentID)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query notes: %w", err))
	}
	defer rows.Close()

	notes := []incident.Note{}
	for rows.Next() {
		var (
			n         incident.Note
			createdAt time.Time
			payload   []byte
		)
		if err := rows.Scan(&n.ID, &n.IncidentID, &createdAt, &n.Type, &n.Title, &payload, &n.CreatedBy); err != nil {
			return nil, fail(span, fmt.Errorf("scan note: %w", err))
		}
		n.CreatedAt = createdAt.UTC()
		n.Payload = json.RawMessage(payload)
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate notes: %w", err))
	}
	return notes, nil
}
