package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/linnemanlabs/responder/internal/kb"
)

// Searcher is the subset of kb.Index used by kb_search.
type Searcher interface {
	Search(ctx context.Context, q kb.Query) ([]kb.Hit, error)
}

// KBSearch queries the knowledge base, boosting by incident type and service.
type KBSearch struct {
	index Searcher
}

// NewKBSearch returns the kb_search tool.
func NewKBSearch(index Searcher) *KBSearch {
	return &KBSearch{index: index}
}

func (t *KBSearch) Capability() Capability { return CapKBSearch }
func (t *KBSearch) Name() string           { return CapKBSearch.String() }

func (t *KBSearch) Description() string {
	return "Search the knowledge base for relevant runbooks and policies."
}

func (t *KBSearch) Parameters() json.RawMessage {
	return json.RawMessage(`{
        "type": "object",
        "properties": {
            "query": {"type": "string"},
            "k": {"type": "integer", "minimum": 1, "maximum": 10},
            "incident_type": {"type": ["string", "null"]},
            "service": {"type": ["string", "null"]}
        },
        "required": ["query"]
    }`)
}

func (t *KBSearch) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var input struct {
		Query        string  `json:"query"`
		K            optInt  `json:"k"`
		IncidentType *string `json:"incident_type"`
		Service      *string `json:"service"`
	}
	if err := decodeArgs(params, &input); err != nil {
		return nil, err
	}

	k := kb.DefaultK
	if input.K.Set {
		k = kb.ClampK(input.K.Value)
	}
	var boosts []string
	for _, b := range []*string{input.IncidentType, input.Service} {
		if b != nil {
			boosts = append(boosts, *b)
		}
	}

	hits, err := t.index.Search(ctx, kb.Query{Text: input.Query, K: k, Boosts: boosts})
	if err != nil {
		return nil, fmt.Errorf("kb search: %w", err)
	}
	return json.Marshal(map[string]any{
		"query":   input.Query,
		"top_k":   k,
		"results": hits,
	})
}
