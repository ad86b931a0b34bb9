package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/linnemanlabs/responder/internal/incident"
)

// Status is the incident status reported in a verdict.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusFailed     Status = "failed"
)

// Verdict is the structured answer the model must end a run with.
type Verdict struct {
	IncidentID           string            `json:"incident_id"`
	Status               Status            `json:"status"`
	Severity             incident.Severity `json:"severity"`
	Service              string            `json:"service"`
	Summary              string            `json:"summary"`
	Evidence             Evidence          `json:"evidence"`
	RecommendedActions   []string          `json:"recommended_actions"`
	SuggestedMitigations []string          `json:"suggested_mitigations"`
	NextUpdateMinutes    float64           `json:"next_update_minutes"`
}

// Evidence is the digest of the evidence bundle inside a verdict.
type Evidence struct {
	MetricsWindow       *string  `json:"metrics_window"`
	ErrorRate           *float64 `json:"error_rate"`
	P95LatencyMS        *float64 `json:"p95_latency_ms"`
	UpstreamTimeoutRate *float64 `json:"upstream_timeout_rate"`
	RequestRateRPS      *float64 `json:"request_rate_rps"`
	LogWindow           *string  `json:"log_window"`
	LogHighlights       []string `json:"log_highlights"`
	RecentChanges       []string `json:"recent_changes"`
	RunbookTitle        *string  `json:"runbook_title"`
}

var (
	verdictKeys = []string{
		"incident_id", "status", "severity", "service", "summary", "evidence",
		"recommended_actions", "suggested_mitigations", "next_update_minutes",
	}
	evidenceKeys = []string{
		"metrics_window", "error_rate", "p95_latency_ms", "upstream_timeout_rate",
		"request_rate_rps", "log_window", "log_highlights", "recent_changes", "runbook_title",
	}
	// top-level keys that must carry a value
	nonNullKeys = []string{
		"incident_id", "status", "severity", "service", "summary", "evidence", "next_update_minutes",
	}
)

// DecodeVerdict parses text as a Verdict. Every key must be present, no
// other keys are allowed, only the evidence scalars and lists may be null, nothing may follow the object, and status and
// severity must be known values. List fields are never nil on success.
func DecodeVerdict(text string) (*Verdict, error) {
	b := []byte(strings.TrimSpace(text))

	var top map[string]json.RawMessage
	if err := decodeOne(b, &top); err != nil {
		return nil, err
	}
	if err := requireKeys(top, verdictKeys); err != nil {
		return nil, err
	}
	for _, k := range nonNullKeys {
		if bytes.Equal(bytes.TrimSpace(top[k]), []byte("null")) {
			return nil, fmt.Errorf("key %q must not be null", k)
		}
	}
	var ev map[string]json.RawMessage
	if err := json.Unmarshal(top["evidence"], &ev); err != nil {
		return nil, fmt.Errorf("evidence: %w", err)
	}
	if err := requireKeys(ev, evidenceKeys); err != nil {
		return nil, fmt.Errorf("evidence: %w", err)
	}

	var v Verdict
	if err := decodeOne(b, &v); err != nil {
		return nil, err
	}
	if v.Status != StatusInProgress && v.Status != StatusFailed {
		return nil, fmt.Errorf("invalid status %q", v.Status)
	}
	if !v.Severity.Valid() {
		return nil, fmt.Errorf("invalid severity %q", v.Severity)
	}
	v.normalize()
	return &v, nil
}

func decodeOne(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after verdict object")
	}
	return nil
}

func requireKeys(m map[string]json.RawMessage, keys []string) error {
	if m == nil {
		return errors.New("not an object")
	}
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			return fmt.Errorf("missing key %q", k)
		}
	}
	for k := range m {
		if !slices.Contains(keys, k) {
			return fmt.Errorf("unknown key %q", k)
		}
	}
	return nil
}

func (v *Verdict) normalize() {
	v.RecommendedActions = nonNil(v.RecommendedActions)
	v.SuggestedMitigations = nonNil(v.SuggestedMitigations)
	v.Evidence.LogHighlights = nonNil(v.Evidence.LogHighlights)
	v.Evidence.RecentChanges = nonNil(v.Evidence.RecentChanges)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
