package agent

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/responder/internal/alert"
	"github.com/linnemanlabs/responder/internal/incident"
	"github.com/linnemanlabs/responder/internal/tools"
)

// FallbackProvider prefixes reasons produced by the fixture runner.
const FallbackProvider = "fixtures"

const (
	fallbackHighlights  = 3
	fallbackChanges     = 3
	fallbackActions     = 4
	fallbackMitigations = 3
	fallbackNextUpdate  = 15
)

// Fallback builds a verdict directly from evidence without a model. It
// runs the same tools the model would, through the dispatcher.
type Fallback struct {
	dispatcher *tools.Dispatcher
	logger     log.Logger
	now        func() time.Time
}

// NewFallback returns a fixture runner over dispatcher.
func NewFallback(dispatcher *tools.Dispatcher, logger log.Logger) *Fallback {
	if logger == nil {
		logger = log.Nop()
	}
	return &Fallback{dispatcher: dispatcher, logger: logger, now: time.Now}
}

type fixtureLogs struct {
	Window *string  `json:"window"`
	Lines  []string `json:"lines"`
}

type fixtureMetrics struct {
	TimeRange           *string  `json:"time_range"`
	ErrorRate           *float64 `json:"error_rate"`
	P95LatencyMS        *float64 `json:"p95_latency_ms"`
	UpstreamTimeoutRate *float64 `json:"upstream_timeout_rate"`
	RequestRateRPS      *float64 `json:"request_rate_rps"`
}

type fixtureChanges struct {
	RecentChanges []struct {
		TS      string `json:"ts"`
		Type    string `json:"type"`
		Summary string `json:"summary"`
	} `json:"recent_changes"`
}

type fixtureRunbook struct {
	Title *string  `json:"runbook_title"`
	Steps []string `json:"steps"`
}

// Run creates the incident, loads its evidence and assembles a verdict.
func (f *Fallback) Run(ctx context.Context, runID string, raw alert.Raw) *Result {
	start := time.Now()
	res := &Result{Provider: FallbackProvider}
	defer func() { res.Duration = time.Since(start).Seconds() }()

	L := f.logger.With("run_id", runID, "provider", FallbackProvider)

	var created struct {
		IncidentID string            `json:"incident_id"`
		Severity   incident.Severity `json:"severity"`
	}
	if err := f.invoke(ctx, res, tools.CapCreateIncident, map[string]any{"alert": raw}, &created); err != nil {
		L.Error(ctx, err, "fallback create_incident failed")
		res.Reason = Reason(FallbackProvider, "create_incident_failed")
		return res
	}

	var ev struct {
		Service string `json:"service"`
		Bundle  struct {
			Logs    fixtureLogs    `json:"logs"`
			Metrics fixtureMetrics `json:"metrics"`
			Changes fixtureChanges `json:"changes"`
			Runbook fixtureRunbook `json:"runbook"`
		} `json:"evidence_bundle"`
	}
	if err := f.invoke(ctx, res, tools.CapGetEvidence, map[string]any{"incident_id": created.IncidentID}, &ev); err != nil {
		L.Error(ctx, err, "fallback get_evidence failed", "incident_id", created.IncidentID)
		res.Reason = Reason(FallbackProvider, "get_evidence_failed")
		return res
	}

	b := ev.Bundle
	steps := b.Runbook.Steps
	v := &Verdict{
		IncidentID: created.IncidentID,
		Status:     StatusInProgress,
		Severity:   created.Severity,
		Service:    ev.Service,
		Summary:    alert.Normalize(raw, f.now()).Impact,
		Evidence: Evidence{
			MetricsWindow:       b.Metrics.TimeRange,
			ErrorRate:           b.Metrics.ErrorRate,
			P95LatencyMS:        b.Metrics.P95LatencyMS,
			UpstreamTimeoutRate: b.Metrics.UpstreamTimeoutRate,
			RequestRateRPS:      b.Metrics.RequestRateRPS,
			LogWindow:           b.Logs.Window,
			LogHighlights:       LogHighlights(b.Logs.Lines, fallbackHighlights),
			RecentChanges:       formatChanges(b.Changes, fallbackChanges),
			RunbookTitle:        b.Runbook.Title,
		},
		RecommendedActions:   slices.Clone(steps[:min(fallbackActions, len(steps))]),
		SuggestedMitigations: Mitigations(steps, fallbackMitigations),
		NextUpdateMinutes:    fallbackNextUpdate,
	}
	v.normalize()
	res.Verdict = v

	// the verdict is also kept on the incident timeline; failing to write it
	// does not fail the run
	note := map[string]any{
		"incident_id": created.IncidentID,
		"note_type":   "verdict",
		"payload":     v,
		"created_by":  FallbackProvider,
	}
	if err := f.invoke(ctx, res, tools.CapAddNote, note, nil); err != nil {
		L.Warn(ctx, "fallback add_note failed", "incident_id", created.IncidentID, "error", err.Error())
	}
	return res
}

func (f *Fallback) invoke(ctx context.Context, res *Result, c tools.Capability, args any, out any) error {
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal %s args: %w", c, err)
	}
	res.ToolCalls++
	raw, err := f.dispatcher.Invoke(ctx, c, b)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s output: %w", c, err)
	}
	return nil
}

func logPriority(line string) int {
	for i, level := range []string{"ERROR", "WARN", "INFO"} {
		if strings.Contains(line, " "+level+" ") {
			return i
		}
	}
	return 99
}

// LogHighlights returns up to limit lines, most severe first. Lines of
// equal severity keep their original order.
func LogHighlights(lines []string, limit int) []string {
	sorted := slices.Clone(lines)
	slices.SortStableFunc(sorted, func(a, b string) int {
		return cmp.Compare(logPriority(a), logPriority(b))
	})
	out := make([]string, 0, min(limit, len(sorted)))
	for _, l := range sorted[:min(limit, len(sorted))] {
		out = append(out, strings.TrimSpace(l))
	}
	return out
}

func formatChanges(c fixtureChanges, limit int) []string {
	out := []string{}
	for _, ch := range c.RecentChanges[:min(limit, len(c.RecentChanges))] {
		ts, typ := cmp.Or(ch.TS, "?"), cmp.Or(ch.Type, "?")
		out = append(out, strings.TrimSpace(fmt.Sprintf("%s [%s] %s", ts, typ, ch.Summary)))
	}
	return out
}

// Mitigations returns up to limit runbook steps that start with
// "mitigation", case-insensitively.
func Mitigations(steps []string, limit int) []string {
	out := []string{}
	for _, s := range steps {
		if len(out) == limit {
			break
		}
		if strings.HasPrefix(strings.ToLower(s), "mitigation") {
			out = append(out, s)
		}
	}
	return out
}
