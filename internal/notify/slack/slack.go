// Package slack posts finished incident runs to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/responder/internal/agent"
	"github.com/linnemanlabs/responder/internal/incident"
)

const (
	maxSectionLen = 2900
	maxRawLen     = 500
	httpTimeout   = 10 * time.Second
)

// Notifier sends run results to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Notify is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Notify posts a run result to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Notify(ctx context.Context, runID string, r *agent.Result) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(runID, r))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "slack notification sent", "run_id", runID, "failed", r.Failed())
	return nil
}

func buildMessage(runID string, r *agent.Result) map[string]any {
	if r.Failed() {
		return failureMessage(runID, r)
	}
	v := r.Verdict
	ev := v.Evidence

	return map[string]any{
		"text": fmt.Sprintf("Incident started: %s", v.IncidentID),
		"blocks": []map[string]any{
			header(fmt.Sprintf("%s Incident Started: %s", severityEmoji(v.Severity), v.IncidentID)),
			fieldsBlock(v),
			section(fmt.Sprintf("*Summary:* %s", v.Summary)),
			{"type": "divider"},
			section(fmt.Sprintf("*\U0001f4c8 Evidence (Metrics)*\n"+
				"• Window: %s\n"+
				"• Error rate: %s\n"+
				"• P95 latency (ms): %s\n"+
				"• Upstream timeout rate: %s\n"+
				"• Request rate (rps): %s\n"+
				"• Runbook: %s",
				str(ev.MetricsWindow), pct(ev.ErrorRate), num(ev.P95LatencyMS),
				pct(ev.UpstreamTimeoutRate), num(ev.RequestRateRPS), str(ev.RunbookTitle))),
			listSection("\U0001f9fe Recent Changes", ev.RecentChanges),
			listSection(fmt.Sprintf("\U0001f4dc Log Highlights (%s)", str(ev.LogWindow)), ev.LogHighlights),
			listSection("✅ Recommended Actions", v.RecommendedActions),
			listSection("\U0001f6e0️ Suggested Mitigations", v.SuggestedMitigations),
			contextBlock(runID, r, fmt.Sprintf("Next update in *%s minutes* \U0001f501", strconv.FormatFloat(v.NextUpdateMinutes, 'f', -1, 64))),
		},
	}
}

func failureMessage(runID string, r *agent.Result) map[string]any {
	blocks := []map[string]any{
		header("\U0001f6d1 Incident workflow failed"),
		section(fmt.Sprintf("Run `%s` failed: `%s`", runID, r.Reason)),
	}
	if r.Raw != nil {
		blocks = append(blocks, section(fmt.Sprintf("*Model output*\n```%s```", truncate(*r.Raw, maxRawLen))))
	}
	blocks = append(blocks, contextBlock(runID, r, ""))

	return map[string]any{
		"text":   fmt.Sprintf("Incident workflow failed: %s", r.Reason),
		"blocks": blocks,
	}
}

func header(text string) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": truncate(text, 150),
		},
	}
}

func section(text string) map[string]any {
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": truncate(text, maxSectionLen),
		},
	}
}

func listSection(title string, items []string) map[string]any {
	body := "• (none)"
	if len(items) > 0 {
		body = "• " + strings.Join(items, "\n• ")
	}
	return section(fmt.Sprintf("*%s*\n%s", title, body))
}

func fieldsBlock(v *agent.Verdict) map[string]any {
	return map[string]any{
		"type": "section",
		"fields": []map[string]any{
			{"type": "mrkdwn", "text": fmt.Sprintf("*Service:* %s", v.Service)},
			{"type": "mrkdwn", "text": fmt.Sprintf("*Severity:* %s", v.Severity)},
			{"type": "mrkdwn", "text": fmt.Sprintf("*Status:* %s", v.Status)},
		},
	}
}

func contextBlock(runID string, r *agent.Result, lead string) map[string]any {
	parts := []string{}
	if lead != "" {
		parts = append(parts, lead)
	}
	parts = append(parts, fmt.Sprintf("responder • run %s", runID))
	if r.Model != "" {
		parts = append(parts, shortModel(r.Model))
	} else if r.Provider != "" {
		parts = append(parts, r.Provider)
	}
	parts = append(parts, fmt.Sprintf("%.1fs", r.Duration))

	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{"type": "mrkdwn", "text": strings.Join(parts, " • ")},
		},
	}
}

func severityEmoji(s incident.Severity) string {
	switch s {
	case incident.SEV1:
		return "\U0001f534" // red circle
	case incident.SEV2:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func str(s *string) string {
	if s == nil {
		return "n/a"
	}
	return *s
}

func num(f *float64) string {
	if f == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func pct(f *float64) string {
	if f == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", *f*100)
}

// dateModelRe matches model names ending with a YYYYMMDD date suffix.
var dateModelRe = regexp.MustCompile(`-\d{8}$`)

func shortModel(model string) string {
	return dateModelRe.ReplaceAllString(model, "")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	// back off to a rune boundary
	cut := limit - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
