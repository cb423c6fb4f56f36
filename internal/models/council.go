package models

import "time"

// CouncilRole identifies which agent cast a vote.
type CouncilRole string

const (
	RoleDiagnoser          CouncilRole = "DIAGNOSER"
	RoleSafetyReviewer     CouncilRole = "SAFETY_REVIEWER"
	RoleComplianceReviewer CouncilRole = "COMPLIANCE_REVIEWER"
)

// CouncilVerdict is a single agent's judgement on the proposed plan.
type CouncilVerdict string

const (
	VerdictApproved    CouncilVerdict = "APPROVED"
	VerdictRejected    CouncilVerdict = "REJECTED"
	VerdictNeedsReview CouncilVerdict = "NEEDS_REVIEW"
)

// CouncilVote records one agent's verdict and reasoning.
type CouncilVote struct {
	Role      CouncilRole    `json:"role"`
	Verdict   CouncilVerdict `json:"verdict"`
	Reasoning string         `json:"reasoning"`
	Timestamp time.Time      `json:"timestamp"`
}

// CouncilDecision is the tallied outcome of the three-vote review.
type CouncilDecision struct {
	Votes        []CouncilVote  `json:"votes"`
	Approvals    int            `json:"approvals"`
	FinalVerdict CouncilVerdict `json:"final_verdict"`
	Consensus    bool           `json:"consensus"`
	Summary      string         `json:"summary"`
}
