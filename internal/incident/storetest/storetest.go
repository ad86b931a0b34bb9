// Package storetest holds behavioural tests shared by every incident.Store
// implementation.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/responder/internal/alert"
	"github.com/linnemanlabs/responder/internal/incident"
)

// Run exercises s against the incident.Store contract. newStore must return
// an empty store per call.
func Run(t *testing.T, newStore func(t *testing.T) incident.Store) {
	t.Helper()

	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("ReturnsCopies", func(t *testing.T) { testReturnsCopies(t, newStore(t)) })
	t.Run("AppendNoteMissingIncident", func(t *testing.T) { testAppendNoteMissing(t, newStore(t)) })
	t.Run("NotesOrderedAndCounted", func(t *testing.T) { testNotes(t, newStore(t)) })
	t.Run("ConcurrentNotes", func(t *testing.T) { testConcurrentNotes(t, newStore(t)) })
}

// NewIncident returns a normalized payments incident for tests.
func NewIncident() *incident.Incident {
	region := "us-east-1"
	a := alert.Normalize(alert.Raw{
		"incident_type": "payments_failing",
		"service":       "checkout",
		"signal":        "error_rate_spike",
		"start_time":    "2026-03-01T11:58:00Z",
		"impact":        "checkout down",
		"region":        region,
	}, time.Now())
	// microsecond precision survives every backend
	return incident.New(a, time.Now().Truncate(time.Microsecond))
}

func create(t *testing.T, s incident.Store) *incident.Incident {
	t.Helper()
	inc := NewIncident()
	id, err := s.CreateIncident(context.Background(), inc)
	if err != nil {
		t.Fatalf("CreateIncident: %v", err)
	}
	if id != inc.ID {
		t.Fatalf("CreateIncident id = %q, want %q", id, inc.ID)
	}
	return inc
}

func testCreateAndGet(t *testing.T, s incident.Store) {
	inc := create(t, s)

	got, ok, err := s.GetIncident(context.Background(), inc.ID)
	if err != nil {
		t.Fatalf("GetIncident: %v", err)
	}
	if !ok {
		t.Fatal("GetIncident ok=false, want true")
	}
	if got.ID != inc.ID || got.Type != inc.Type || got.Service != inc.Service ||
		got.Signal != inc.Signal || got.StartTime != inc.StartTime || got.Impact != inc.Impact ||
		got.Severity != inc.Severity {
		t.Errorf("GetIncident = %+v, want %+v", got, inc)
	}
	if got.Region == nil || *got.Region != *inc.Region {
		t.Errorf("Region = %v, want %q", got.Region, *inc.Region)
	}
	if !got.CreatedAt.Equal(inc.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, inc.CreatedAt)
	}
	if len(got.Assignees) != 2 || got.Assignees[0] != inc.Assignees[0] || got.Assignees[1] != inc.Assignees[1] {
		t.Errorf("Assignees = %+v, want %+v", got.Assignees, inc.Assignees)
	}
}

func testGetMissing(t *testing.T, s incident.Store) {
	_, ok, err := s.GetIncident(context.Background(), "INC-NOPE0000")
	if err != nil {
		t.Fatalf("GetIncident: %v", err)
	}
	if ok {
		t.Error("GetIncident ok=true for missing id")
	}
}

func testReturnsCopies(t *testing.T, s incident.Store) {
	inc := create(t, s)
	ctx := context.Background()

	got, _, err := s.GetIncident(ctx, inc.ID)
	if err != nil {
		t.Fatalf("GetIncident: %v", err)
	}
	got.Assignees[0].Team = "mutated"
	got.Service = "mutated"

	again, _, err := s.GetIncident(ctx, inc.ID)
	if err != nil {
		t.Fatalf("GetIncident: %v", err)
	}
	if again.Service != "checkout" || again.Assignees[0].Team != "Backend Oncall" {
		t.Errorf("stored incident was mutated through a returned value: %+v", again)
	}
}

func testAppendNoteMissing(t *testing.T, s incident.Store) {
	_, err := s.AppendNote(context.Background(), &incident.Note{
		ID: incident.NewNoteID(), IncidentID: "INC-MISSING0", CreatedAt: time.Now(),
		Type: "triage", Payload: json.RawMessage(`{}`), CreatedBy: incident.DefaultCreatedBy,
	})
	if !errors.Is(err, incident.ErrNotFound) {
		t.Fatalf("AppendNote err = %v, want ErrNotFound", err)
	}
}

func testNotes(t *testing.T, s incident.Store) {
	ctx := context.Background()
	inc := create(t, s)
	other := create(t, s)

	title := "first"
	for i := range 3 {
		n := &incident.Note{
			ID: incident.NewNoteID(), IncidentID: inc.ID,
			CreatedAt: time.Now().Truncate(time.Microsecond),
			Type:      "status", Payload: json.RawMessage(fmt.Sprintf(`{"i":%d}`, i)),
			CreatedBy: incident.DefaultCreatedBy,
		}
		if i == 0 {
			n.Title = &title
		}
		if _, err := s.AppendNote(ctx, n); err != nil {
			t.Fatalf("AppendNote %d: %v", i, err)
		}
		got, err := s.CountNotes(ctx, inc.ID)
		if err != nil {
			t.Fatalf("CountNotes: %v", err)
		}
		if got != i+1 {
			t.Fatalf("CountNotes after %d appends = %d", i+1, got)
		}
		// notes on another incident do not disturb the count
		if _, err := s.AppendNote(ctx, &incident.Note{
			ID: incident.NewNoteID(), IncidentID: other.ID, CreatedAt: time.Now(),
			Type: "noise", Payload: json.RawMessage(`{}`), CreatedBy: "test",
		}); err != nil {
			t.Fatalf("AppendNote other: %v", err)
		}
	}

	notes, err := s.ListNotes(ctx, inc.ID)
	if err != nil {
		t.Fatalf("ListNotes: %v", err)
	}
	if len(notes) != 3 {
		t.Fatalf("ListNotes len = %d, want 3", len(notes))
	}
	for i, n := range notes {
		var p struct{ I int }
		if err := json.Unmarshal(n.Payload, &p); err != nil {
			t.Fatalf("payload %d: %v", i, err)
		}
		if p.I != i {
			t.Errorf("notes[%d] payload i = %d, want in append order", i, p.I)
		}
	}
	if notes[0].Title == nil || *notes[0].Title != "first" {
		t.Errorf("notes[0].Title = %v, want first", notes[0].Title)
	}
	if notes[1].Title != nil {
		t.Errorf("notes[1].Title = %q, want nil", *notes[1].Title)
	}

	if n, err := s.CountNotes(ctx, "INC-NONE0000"); err != nil || n != 0 {
		t.Errorf("CountNotes(missing) = %d, %v; want 0, nil", n, err)
	}
}

func testConcurrentNotes(t *testing.T, s incident.Store) {
	ctx := context.Background()
	a := create(t, s)
	b := create(t, s)

	const perIncident = 20
	var wg sync.WaitGroup
	errs := make(chan error, 2*perIncident)
	for i := range 2 * perIncident {
		target := a.ID
		if i%2 == 1 {
			target = b.ID
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AppendNote(ctx, &incident.Note{
				ID: incident.NewNoteID(), IncidentID: target, CreatedAt: time.Now(),
				Type: "status", Payload: json.RawMessage(`{}`), CreatedBy: "test",
			})
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("AppendNote: %v", err)
	}

	for _, id := range []string{a.ID, b.ID} {
		n, err := s.CountNotes(ctx, id)
		if err != nil {
			t.Fatalf("CountNotes: %v", err)
		}
		if n != perIncident {
			t.Errorf("CountNotes(%s) = %d, want %d", id, n, perIncident)
		}
	}
}
