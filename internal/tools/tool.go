package tools

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
)

// Capability identifies one of the fixed operations offered to the model.
type Capability int

const (
	// CapUnknown is any name the model sends that is not a known capability.
	CapUnknown Capability = iota
	CapCreateIncident
	CapAssignOwners
	CapGetEvidence
	CapKBSearch
	CapAddNote
)

var capabilityNames = map[Capability]string{
	CapCreateIncident: "create_incident",
	CapAssignOwners:   "assign_owners",
	CapGetEvidence:    "get_evidence",
	CapKBSearch:       "kb_search",
	CapAddNote:        "add_note",
}

// String returns the wire name of the capability.
func (c Capability) String() string {
	if n, ok := capabilityNames[c]; ok {
		return n
	}
	return "unknown"
}

// ParseCapability maps a wire name to a Capability, CapUnknown if none.
func ParseCapability(name string) Capability {
	for c, n := range capabilityNames {
		if n == name {
			return c
		}
	}
	return CapUnknown
}

// ErrInvalidArgs marks a tool call whose arguments cannot be used.
var ErrInvalidArgs = errors.New("invalid arguments")

// Tool is a capability the model can invoke during a run.
type Tool interface {
	Capability() Capability
	Name() string
	Description() string
	Parameters() json.RawMessage // JSON Schema
	Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error)
}

// ToolDef is the provider-neutral tool definition handed to model transports.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Registry holds available tools keyed by capability.
type Registry struct {
	tools map[Capability]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[Capability]Tool)}
}

// Register adds a tool, replacing any tool with the same capability.
// Tools reporting CapUnknown are ignored.
func (r *Registry) Register(t Tool) {
	if t.Capability() == CapUnknown {
		return
	}
	r.tools[t.Capability()] = t
}

// Get retrieves a tool by capability.
func (r *Registry) Get(c Capability) (Tool, bool) {
	t, ok := r.tools[c]
	return t, ok
}

// ToToolDefs returns the tool definitions ordered by capability so every
// step advertises an identical schema set.
func (r *Registry) ToToolDefs() []ToolDef {
	caps := make([]Capability, 0, len(r.tools))
	for c := range r.tools {
		caps = append(caps, c)
	}
	slices.Sort(caps)

	out := make([]ToolDef, 0, len(caps))
	for _, c := range caps {
		t := r.tools[c]
		out = append(out, ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Parameters(),
		})
	}
	return out
}
