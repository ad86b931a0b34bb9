// Package evidence loads the per-incident-type evidence documents (logs,
// metrics, recent changes, runbook) used to build model context.
package evidence

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"slices"

	"github.com/linnemanlabs/responder/internal/alert"
)

// ErrNotFound is returned, wrapped with the document path, when a document
// does not exist.
var ErrNotFound = errors.New("missing fixture")

// DocumentNames are the documents every incident type must provide.
var DocumentNames = []string{"logs", "metrics", "changes", "runbook"}

// Provider loads one evidence document.
type Provider interface {
	Load(ctx context.Context, incidentType alert.IncidentType, name string) (json.RawMessage, error)
}

//go:embed fixtures
var embedded embed.FS

// FS serves documents laid out as <incident_type>/<name>.json.
type FS struct {
	fsys fs.FS
}

// NewFS returns a provider over fsys.
func NewFS(fsys fs.FS) *FS {
	return &FS{fsys: fsys}
}

// Embedded returns a provider over the fixtures compiled into the binary.
func Embedded() *FS {
	sub, err := fs.Sub(embedded, "fixtures")
	if err != nil {
		panic(err) // embed path is fixed at compile time
	}
	return NewFS(sub)
}

// Dir returns a provider over a fixture directory on disk.
func Dir(dir string) *FS {
	return NewFS(os.DirFS(dir))
}

// Load reads and validates one document.
func (f *FS) Load(ctx context.Context, incidentType alert.IncidentType, name string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := path.Join(string(incidentType), name+".json")
	if !slices.Contains(DocumentNames, name) || !fs.ValidPath(p) || incidentType == "" {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, incidentType, name)
	}

	b, err := fs.ReadFile(f.fsys, p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, incidentType, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("fixture %s is not valid JSON", p)
	}
	return json.RawMessage(b), nil
}

// Bundle is the four evidence documents for one incident type.
type Bundle struct {
	Logs    json.RawMessage `json:"logs"`
	Metrics json.RawMessage `json:"metrics"`
	Changes json.RawMessage `json:"changes"`
	Runbook json.RawMessage `json:"runbook"`
}

// LoadBundle loads every document in DocumentNames and fails on the first
// missing one.
func LoadBundle(ctx context.Context, p Provider, incidentType alert.IncidentType) (*Bundle, error) {
	var b Bundle
	dst := map[string]*json.RawMessage{
		"logs": &b.Logs, "metrics": &b.Metrics, "changes": &b.Changes, "runbook": &b.Runbook,
	}
	for _, name := range DocumentNames {
		doc, err := p.Load(ctx, incidentType, name)
		if err != nil {
			return nil, err
		}
		*dst[name] = doc
	}
	return &b, nil
}
