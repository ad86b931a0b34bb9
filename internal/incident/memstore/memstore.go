// Package memstore provides an in-memory implementation of incident.Store.
package memstore

import (
	"context"
	"slices"
	"sync"

	"github.com/linnemanlabs/responder/internal/incident"
)

// Store holds incidents and notes in memory. Suitable for dev/testing.
type Store struct {
	mu        sync.RWMutex
	incidents map[string]*incident.Incident
	notes     map[string][]incident.Note // incident ID -> notes in append order
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		incidents: make(map[string]*incident.Incident),
		notes:     make(map[string][]incident.Note),
	}
}

// CreateIncident stores a copy of the incident.
func (s *Store) CreateIncident(_ context.Context, inc *incident.Incident) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[inc.ID] = inc.Clone()
	return inc.ID, nil
}

// GetIncident retrieves an incident by ID. Returns a copy.
func (s *Store) GetIncident(_ context.Context, id string) (*incident.Incident, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, false, nil
	}
	return inc.Clone(), true, nil
}

// AppendNote appends a copy of the note to its incident.
func (s *Store) AppendNote(_ context.Context, n *incident.Note) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.incidents[n.IncidentID]; !ok {
		return "", incident.ErrNotFound
	}
	cp := *n
	cp.Payload = slices.Clone(n.Payload)
	s.notes[n.IncidentID] = append(s.notes[n.IncidentID], cp)
	return n.ID, nil
}

// CountNotes returns the number of notes attached to an incident.
func (s *Store) CountNotes(_ context.Context, incidentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.notes[incidentID]), nil
}

// ListNotes returns copies of an incident's notes in append order.
func (s *Store) ListNotes(_ context.Context, incidentID string) ([]incident.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]incident.Note, len(s.notes[incidentID]))
	for i, n := range s.notes[incidentID] {
		n.Payload = slices.Clone(n.Payload)
		out[i] = n
	}
	return out, nil
}
