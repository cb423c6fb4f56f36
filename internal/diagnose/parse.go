package diagnose

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/miradorstack/mirador-remediate/internal/models"
	"github.com/miradorstack/mirador-remediate/internal/utils"
)

// ParseError indicates the model response was not usable structured output.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("diagnosis response not parseable: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// rawDiagnosis tolerates loosely typed model output; confidence in
// particular arrives as number, string, or garbage.
type rawDiagnosis struct {
	RootCause     string `json:"root_cause"`
	Action        string `json:"action"`
	Justification string `json:"justification"`
	Confidence    any    `json:"confidence"`
	ReplicaCount  int    `json:"replica_count"`
}

// parseDiagnosis turns the raw model text into a Diagnosis, stripping an
// optional markdown code fence first.
func parseDiagnosis(raw string) (models.Diagnosis, error) {
	body := utils.StripCodeFence(raw)

	var parsed rawDiagnosis
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return models.Diagnosis{}, &ParseError{Raw: raw, Err: err}
	}

	action := models.ActionType(strings.ToUpper(strings.TrimSpace(parsed.Action)))
	if !action.Valid() {
		return models.Diagnosis{}, &ParseError{Raw: raw, Err: fmt.Errorf("unknown action %q", parsed.Action)}
	}

	replicas := parsed.ReplicaCount
	if replicas < 0 {
		replicas = 0
	}

	return models.Diagnosis{
		RootCause:     sanitizeText(parsed.RootCause),
		Action:        action,
		Justification: sanitizeText(parsed.Justification),
		Confidence:    NormalizeConfidence(parsed.Confidence),
		ReplicaCount:  replicas,
	}, nil
}

// NormalizeConfidence maps whatever scale the model used onto [0,1].
// Values in (1,100] are treated as percentages, values in (100,1000] as
// per-mille; anything non-numeric becomes 0. Total and idempotent.
func NormalizeConfidence(v any) float64 {
	var c float64
	switch t := v.(type) {
	case float64:
		c = t
	case int:
		c = float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0
		}
		c = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		c = f
	default:
		return 0
	}

	switch {
	case c > 1 && c <= 100:
		c /= 100
	case c > 100 && c <= 1000:
		c /= 1000
	}
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// sanitizeText applies a fixed whitelist of corrections for known model
// misspellings and formatting artifacts, then collapses whitespace. This is
// deterministic string substitution, not NLP cleanup.
func sanitizeText(raw string) string {
	if raw == "" {
		return raw
	}
	s := raw
	for _, r := range textCorrections {
		s = strings.ReplaceAll(s, r.from, r.to)
	}
	return strings.Join(strings.Fields(s), " ")
}

var textCorrections = []struct{ from, to string }{
	{"Rot Cause", "Root Cause"},
	{"NNtwork", "Network"},
	{"Netwrok", "Network"},
	{"connettivity", "connectivity"},
	{"conectivity", "connectivity"},
	{"Justificatiin", "Justification"},
	{"Justificaton", "Justification"},
	{"\t", " "},
}
