package tools

import (
	"github.com/linnemanlabs/responder/internal/evidence"
	"github.com/linnemanlabs/responder/internal/incident"
)

// Deps are the collaborators the built-in tools need.
type Deps struct {
	Store    incident.Store
	Evidence evidence.Provider
	KB       Searcher
	Now      Clock
}

// NewDefaultRegistry registers all five built-in tools.
func NewDefaultRegistry(d Deps) *Registry {
	r := NewRegistry()
	r.Register(NewCreateIncident(d.Store, d.Now))
	r.Register(NewAssignOwners(d.Store))
	r.Register(NewGetEvidence(d.Store, d.Evidence))
	r.Register(NewKBSearch(d.KB))
	r.Register(NewAddNote(d.Store, d.Now))
	return r
}
