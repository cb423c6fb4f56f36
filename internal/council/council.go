package council

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/miradorstack/mirador-remediate/internal/llm"
	"github.com/miradorstack/mirador-remediate/internal/metrics"
	"github.com/miradorstack/mirador-remediate/internal/models"
	"github.com/miradorstack/mirador-remediate/internal/utils"
)

const safetySystem = `You are a Security & Compliance Officer reviewing an SRE's proposed action.
Given the incident and the proposed plan, return **only** valid JSON:
{"verdict": "APPROVED"|"REJECTED"|"NEEDS_REVIEW", "reasoning": "<security assessment>"}
APPROVE safe actions (restart, scale up/down). REJECT dangerous actions (rollback without backup, arbitrary code execution). Return ONLY the JSON object.`

const complianceSystem = `You are a Corporate Auditor logging compliance decisions.
Given the incident, the SRE plan, and the security review, return **only** valid JSON:
{"verdict": "APPROVED"|"REJECTED"|"NEEDS_REVIEW", "reasoning": "<compliance log entry>"}
Check: Is the action proportionate? Is there an audit trail? APPROVE if the action is safe and logged. Return ONLY the JSON object.`

// Council collects the three-vote review over a proposed remediation plan.
// Reviewer outages never block remediation: a failed reviewer call becomes
// an automatic APPROVED vote with error-tagged reasoning.
type Council struct {
	backend llm.Backend
	logger  *slog.Logger
}

// New constructs a Council using the given model backend for reviewer votes.
func New(backend llm.Backend, logger *slog.Logger) *Council {
	if logger == nil {
		logger = slog.Default()
	}
	return &Council{backend: backend, logger: logger}
}

// Review runs the fixed-order vote protocol: diagnoser, safety reviewer,
// compliance reviewer. The returned error is reserved for plumbing faults;
// the orchestrator treats it as a bypass-approval.
func (c *Council) Review(ctx context.Context, signal models.IncidentSignal, diagnosis models.Diagnosis) (models.CouncilDecision, error) {
	decision := models.CouncilDecision{}

	diagnoserVote := models.CouncilVote{
		Role:      models.RoleDiagnoser,
		Verdict:   models.VerdictApproved,
		Reasoning: fmt.Sprintf("Proposing %s: %s", diagnosis.Action, diagnosis.Justification),
		Timestamp: time.Now().UTC(),
	}
	decision.Votes = append(decision.Votes, diagnoserVote)

	plan := fmt.Sprintf(
		"Incident: %s (%s)\nRoot Cause: %s\nProposed Action: %s\nConfidence: %.2f\nReplica Count: %d\nJustification: %s\n",
		signal.IncidentID, signal.AlertType, diagnosis.RootCause, diagnosis.Action,
		diagnosis.Confidence, diagnosis.ReplicaCount, diagnosis.Justification,
	)

	safetyVote := c.reviewerVote(ctx, models.RoleSafetyReviewer, safetySystem, plan)
	decision.Votes = append(decision.Votes, safetyVote)

	complianceContext := plan + fmt.Sprintf("\nSecurity Review: %s - %s", safetyVote.Verdict, safetyVote.Reasoning)
	complianceVote := c.reviewerVote(ctx, models.RoleComplianceReviewer, complianceSystem, complianceContext)
	decision.Votes = append(decision.Votes, complianceVote)

	for _, vote := range decision.Votes {
		metrics.ObserveVote(string(vote.Role), string(vote.Verdict))
		if vote.Verdict == models.VerdictApproved {
			decision.Approvals++
		}
	}
	decision.Consensus = decision.Approvals >= 2
	if decision.Consensus {
		decision.FinalVerdict = models.VerdictApproved
	} else {
		decision.FinalVerdict = models.VerdictRejected
	}
	decision.Summary = fmt.Sprintf("Council voted %d/3 APPROVED. Final: %s", decision.Approvals, decision.FinalVerdict)

	c.logger.Info("council decision",
		slog.String("incident_id", signal.IncidentID),
		slog.String("verdict", string(decision.FinalVerdict)),
		slog.Int("approvals", decision.Approvals))
	return decision, nil
}

// reviewerVote obtains one guarded reviewer vote. Call or parse failures
// auto-approve so a reviewer outage never blocks an outage fix.
func (c *Council) reviewerVote(ctx context.Context, role models.CouncilRole, system, user string) models.CouncilVote {
	vote := models.CouncilVote{Role: role, Timestamp: time.Now().UTC()}

	raw, err := c.backend.Complete(ctx, system, user)
	if err == nil {
		var verdict models.CouncilVerdict
		var reasoning string
		verdict, reasoning, err = parseVote(raw)
		if err == nil {
			vote.Verdict = verdict
			vote.Reasoning = reasoning
			return vote
		}
	}

	c.logger.Warn("reviewer failed, auto-approving",
		slog.String("role", string(role)), slog.Any("error", err))
	vote.Verdict = models.VerdictApproved
	vote.Reasoning = fmt.Sprintf("Auto-approved (agent error: %v)", err)
	return vote
}

func parseVote(raw string) (models.CouncilVerdict, string, error) {
	body := utils.StripCodeFence(raw)

	var parsed struct {
		Verdict   string `json:"verdict"`
		Reasoning string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return "", "", fmt.Errorf("parse vote: %w", err)
	}

	verdict := models.CouncilVerdict(strings.ToUpper(strings.TrimSpace(parsed.Verdict)))
	switch verdict {
	case models.VerdictApproved, models.VerdictRejected, models.VerdictNeedsReview:
	case "":
		verdict = models.VerdictApproved
	default:
		return "", "", fmt.Errorf("unknown verdict %q", parsed.Verdict)
	}

	reasoning := parsed.Reasoning
	if reasoning == "" {
		reasoning = "No issues found"
	}
	return verdict, reasoning, nil
}
