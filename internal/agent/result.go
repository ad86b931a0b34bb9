package agent

import (
	"encoding/json"
	"strings"
)

// Failure codes. The reason reported on a Result is "<provider>_<code>".
const (
	CodeNotConfigured = "not_configured"
	CodeRequestFailed = "request_failed"
	CodeTimeout       = "timeout"
	CodeCanceled      = "canceled"
	CodeBadOutput     = "bad_output"
	CodeEmptyOutput   = "empty_output"
	CodeNonJSON       = "non_json"
	CodeMaxSteps      = "max_steps"
)

// Reason joins a provider name and a failure code.
func Reason(provider, code string) string {
	return provider + "_" + code
}

// IsNotConfigured reports whether reason is a not_configured failure.
func IsNotConfigured(reason string) bool {
	return strings.HasSuffix(reason, "_"+CodeNotConfigured)
}

// Result is the outcome of one engine run: either a Verdict or a failure
// reason, with Raw set when the model's final text could not be parsed.
type Result struct {
	Verdict *Verdict
	Reason  string
	Raw     *string

	Provider     string
	Model        string
	Steps        int
	ToolCalls    int
	InputTokens  int
	OutputTokens int
	Duration     float64
}

// Failed reports whether the run ended without a verdict.
func (r *Result) Failed() bool { return r.Verdict == nil }

type failedJSON struct {
	Status Status  `json:"status"`
	Reason string  `json:"reason"`
	Raw    *string `json:"raw,omitempty"`
}

// MarshalJSON encodes a successful result as the bare verdict and a failed
// one as {"status":"failed","reason":...,"raw":...}.
func (r *Result) MarshalJSON() ([]byte, error) {
	if r.Verdict != nil {
		return json.Marshal(r.Verdict)
	}
	return json.Marshal(failedJSON{Status: StatusFailed, Reason: r.Reason, Raw: r.Raw})
}
