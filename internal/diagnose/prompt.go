package diagnose

import (
	"fmt"
	"strings"

	"github.com/miradorstack/mirador-remediate/internal/models"
)

const promptSnippetChars = 200

// buildSystemPrompt assembles the SRE diagnostician instruction: the fixed
// action vocabulary, the heuristic hints, and - when precedents matched -
// the rendered runbook knowledge block.
func buildSystemPrompt(hints []Hint, matches []models.PrecedentMatch) string {
	var sb strings.Builder
	sb.WriteString("You are an expert SRE diagnostician with memory of past incidents.\n")
	sb.WriteString("Analyse the incident payload and return **only** valid JSON:\n")
	sb.WriteString(`{"root_cause": "<one-line>", "action": "RESTART"|"SCALE_UP"|"SCALE_DOWN"|"ROLLBACK"|"NOOP", `)
	sb.WriteString(`"justification": "<why>", "confidence": 0.0-1.0, "replica_count": <int>}` + "\n")
	for _, h := range hints {
		sb.WriteString(renderHint(h))
		sb.WriteString("\n")
	}
	sb.WriteString("If you have past runbook knowledge below, USE IT to improve your diagnosis.\n")
	sb.WriteString("A higher confidence means you've seen this pattern before.\n")
	sb.WriteString("Return ONLY the JSON object.")
	sb.WriteString(renderPrecedentBlock(matches))
	return sb.String()
}

func renderPrecedentBlock(matches []models.PrecedentMatch) string {
	if len(matches) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("\n\n-- RUNBOOK KNOWLEDGE (from past resolved incidents) --\n")
	sb.WriteString("Use these to inform your analysis. Learn from what worked before.\n\n")
	for i, m := range matches {
		fmt.Fprintf(&sb, "Past Incident #%d (similarity: %.1f%%):\n", i+1, m.Similarity*100)
		fmt.Fprintf(&sb, "  Alert Type : %s\n", m.AlertType)
		fmt.Fprintf(&sb, "  Root Cause : %s\n", m.RootCause)
		fmt.Fprintf(&sb, "  Action     : %s\n", m.Action)
		fmt.Fprintf(&sb, "  Justification: %s\n", m.Justification)
		if m.ReplicasUsed > 0 {
			fmt.Fprintf(&sb, "  Replicas   : %d\n", m.ReplicasUsed)
		}
		fmt.Fprintf(&sb, "  Log Snippet: %s\n\n", truncate(m.LogSnippet, promptSnippetChars))
	}
	sb.WriteString("If the current incident is similar, apply the same proven fix. ")
	sb.WriteString("If it's different, reason from first principles.\n")
	sb.WriteString("-- END RUNBOOK KNOWLEDGE --")
	return sb.String()
}

// userMessage renders the incident payload for the model.
func userMessage(signal models.IncidentSignal, safeLogs string, truncateChars int) string {
	workload := signal.WorkloadName
	if workload == "" {
		workload = "unknown"
	}
	severity := signal.Severity
	if severity == "" {
		severity = "UNKNOWN"
	}
	return fmt.Sprintf(
		"Incident ID : %s\nWorkload    : %s\nAlert Type  : %s\nSeverity    : %s\nLogs (last %d chars):\n%s",
		signal.IncidentID, workload, signal.AlertType, severity, truncateChars, safeLogs,
	)
}

// truncateTail keeps the most recent max characters of raw log text.
func truncateTail(raw string, max int) string {
	if max <= 0 || len(raw) <= max {
		return raw
	}
	return raw[len(raw)-max:]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
