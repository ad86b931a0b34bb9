// Package alert defines the inbound alert event and the normalization
// applied to untrusted alert fields before an incident is created from them.
package alert

import (
	"strings"
	"time"
)

// IncidentType is the category of an alert.
type IncidentType string

const (
	PaymentsFailing   IncidentType = "payments_failing"
	LoginOutage       IncidentType = "login_outage"
	LatencyRegression IncidentType = "latency_regression"
)

// IncidentTypes lists the recognized incident types.
var IncidentTypes = []IncidentType{PaymentsFailing, LoginOutage, LatencyRegression}

// Valid reports whether t is a recognized incident type.
func (t IncidentType) Valid() bool {
	switch t {
	case PaymentsFailing, LoginOutage, LatencyRegression:
		return true
	}
	return false
}

// Signal is the observed symptom that fired the alert.
type Signal string

const (
	ErrorRateSpike   Signal = "error_rate_spike"
	AvailabilityDrop Signal = "availability_drop"
	P95LatencySpike  Signal = "p95_latency_spike"
)

// Valid reports whether s is a recognized signal.
func (s Signal) Valid() bool {
	switch s {
	case ErrorRateSpike, AvailabilityDrop, P95LatencySpike:
		return true
	}
	return false
}

// Fallbacks substituted for missing or unrecognized fields.
const (
	DefaultIncidentType = PaymentsFailing
	DefaultSignal       = ErrorRateSpike
	DefaultService      = "unknown"
	DefaultImpact       = "unknown impact"
)

// Alert is a normalized alert. It is built once by Normalize and not mutated.
type Alert struct {
	IncidentType IncidentType `json:"incident_type"`
	Service      string       `json:"service"`
	Signal       Signal       `json:"signal"`
	StartTime    string       `json:"start_time"`
	Impact       string       `json:"impact"`
	Region       *string      `json:"region"`
}

// Raw holds alert fields exactly as received from the model or the API.
// Values of the wrong JSON type are treated as absent.
type Raw map[string]any

func (r Raw) str(key string) string {
	if r == nil {
		return ""
	}
	s, _ := r[key].(string)
	return s
}

// Normalize maps untrusted fields onto an Alert. It never fails: unknown
// incident types and signals are replaced with the documented defaults and
// missing text fields fall back to their aliases, then to fixed values.
func Normalize(raw Raw, now time.Time) Alert {
	a := Alert{
		IncidentType: IncidentType(raw.str("incident_type")),
		Signal:       Signal(raw.str("signal")),
		Service:      raw.str("service"),
		StartTime:    firstNonEmpty(raw.str("start_time"), raw.str("timestamp")),
		Impact:       firstNonEmpty(raw.str("impact"), raw.str("short_summary"), DefaultImpact),
	}
	if !a.IncidentType.Valid() {
		a.IncidentType = DefaultIncidentType
	}
	if !a.Signal.Valid() {
		a.Signal = DefaultSignal
	}
	if a.Service == "" {
		a.Service = DefaultService
	}
	if a.StartTime == "" {
		a.StartTime = now.UTC().Format(time.RFC3339Nano)
	}
	if region := raw.str("region"); region != "" {
		a.Region = &region
	}
	return a
}

// Tag returns s lowercased with hyphens folded to underscores, the form
// used for knowledge base tags.
func Tag(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
