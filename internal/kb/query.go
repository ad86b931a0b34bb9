package kb

import (
	"regexp"
	"strings"

	"github.com/linnemanlabs/responder/internal/alert"
)

var wordRE = regexp.MustCompile(`[A-Za-z0-9_]+`)

var (
	severityBase    = []string{"sev", "severity", "rubric", "policy"}
	severityTiers   = []string{"sev1", "sev2", "sev3"}
	severityTrigger = append([]string{"severity", "rubric"}, severityTiers...)
)

// quoted extracts word tokens from text and wraps each in double quotes so
// FTS5 operator characters in the input are never parsed as syntax.
func quoted(text string) []string {
	toks := wordRE.FindAllString(text, -1)
	for i, t := range toks {
		toks[i] = `"` + t + `"`
	}
	return toks
}

// SanitizeQuery turns arbitrary text into a safe FTS5 MATCH expression of
// individually quoted tokens (implicit AND). It returns "" when the text has
// no word tokens.
//
//	`sev1-outage:"test"` -> `"sev1" "outage" "test"`
func SanitizeQuery(text string) string {
	return strings.Join(quoted(text), " ")
}

// severityRewrite returns the replacement OR-list for queries that mention
// a severity tier, "severity" or "rubric". Detection is by substring on the
// lowercased text.
func severityRewrite(text string) (string, bool) {
	lower := strings.ToLower(text)
	hit := false
	for _, t := range severityTrigger {
		if strings.Contains(lower, t) {
			hit = true
			break
		}
	}
	if !hit {
		return "", false
	}

	terms := append([]string(nil), severityBase...)
	for _, t := range severityTiers {
		if strings.Contains(lower, t) {
			terms = append(terms, t)
		}
	}
	for i, t := range terms {
		terms[i] = `"` + t + `"`
	}
	return strings.Join(terms, " OR "), true
}

// NormalizeBoosts lowercases boost tags, folds hyphens to underscores and
// drops empties and duplicates, keeping first-seen order.
func NormalizeBoosts(boosts []string) []string {
	out := make([]string, 0, len(boosts))
	seen := make(map[string]bool, len(boosts))
	for _, b := range boosts {
		for _, tok := range wordRE.FindAllString(alert.Tag(b), -1) {
			if !seen[tok] {
				seen[tok] = true
				out = append(out, tok)
			}
		}
	}
	return out
}

// BuildMatchQuery builds the FTS5 MATCH expression for a search. Severity
// queries are rewritten first; boost tags are OR'd onto the result so a tag
// match alone is enough to surface a chunk. An empty return means there is
// nothing to search for.
func BuildMatchQuery(text string, boosts []string) string {
	base, ok := severityRewrite(text)
	if !ok {
		base = SanitizeQuery(text)
	}

	tags := quoted(strings.Join(NormalizeBoosts(boosts), " "))
	switch {
	case len(tags) == 0:
		return base
	case base == "":
		return strings.Join(tags, " OR ")
	default:
		return "(" + base + ") OR (" + strings.Join(tags, " OR ") + ")"
	}
}
