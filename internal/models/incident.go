package models

import "time"

// IncidentSignal is the alert payload received on the webhook.
type IncidentSignal struct {
	IncidentID   string `json:"incident_id" binding:"required"`
	AlertType    string `json:"alert_type" binding:"required"`
	Logs         string `json:"logs"`
	WorkloadName string `json:"workload_name,omitempty"`
	Severity     string `json:"severity,omitempty"`
	Timestamp    string `json:"timestamp,omitempty"`
}

// ActionType enumerates the fixed remediation vocabulary.
type ActionType string

const (
	ActionRestart   ActionType = "RESTART"
	ActionScaleUp   ActionType = "SCALE_UP"
	ActionScaleDown ActionType = "SCALE_DOWN"
	ActionRollback  ActionType = "ROLLBACK"
	ActionNoop      ActionType = "NOOP"
)

// Valid reports whether the action is part of the known vocabulary.
func (a ActionType) Valid() bool {
	switch a {
	case ActionRestart, ActionScaleUp, ActionScaleDown, ActionRollback, ActionNoop:
		return true
	}
	return false
}

// Diagnosis is the structured output of the diagnosis agent.
type Diagnosis struct {
	RootCause     string     `json:"root_cause"`
	Action        ActionType `json:"action"`
	Justification string     `json:"justification"`
	Confidence    float64    `json:"confidence"`
	ReplicaCount  int        `json:"replica_count"`
}

// RunStatus tracks a run through the remediation pipeline.
type RunStatus string

const (
	StatusReceived      RunStatus = "RECEIVED"
	StatusAnalysing     RunStatus = "ANALYSING"
	StatusCouncilReview RunStatus = "COUNCIL_REVIEW"
	StatusApproved      RunStatus = "APPROVED"
	StatusExecuting     RunStatus = "EXECUTING"
	StatusScaling       RunStatus = "SCALING"
	StatusVerifying     RunStatus = "VERIFYING"
	StatusResolved      RunStatus = "RESOLVED"
	StatusFailed        RunStatus = "FAILED"
)

// Terminal reports whether no further transitions occur for this status.
func (s RunStatus) Terminal() bool {
	return s == StatusResolved || s == StatusFailed
}

// TimelineEntry records a notable progression inside one run.
type TimelineEntry struct {
	Timestamp time.Time `json:"ts"`
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Actor     string    `json:"actor,omitempty"`
}

// RunResult is the mutable record of one remediation run.
type RunResult struct {
	IncidentID      string           `json:"incident_id"`
	AlertType       string           `json:"alert_type"`
	Diagnosis       *Diagnosis       `json:"diagnosis,omitempty"`
	CouncilDecision *CouncilDecision `json:"council_decision,omitempty"`
	Status          RunStatus        `json:"status"`
	ResolvedAt      string           `json:"resolved_at,omitempty"`
	Error           string           `json:"error,omitempty"`
	ReplicasSpawned int              `json:"replicas_spawned"`
	Timeline        []TimelineEntry  `json:"timeline"`
}

// Precedent is one persisted resolved incident in the learning corpus.
type Precedent struct {
	IncidentID      string  `json:"incident_id"`
	AlertType       string  `json:"alert_type"`
	Logs            string  `json:"logs"`
	WorkloadName    string  `json:"workload_name"`
	Severity        string  `json:"severity"`
	RootCause       string  `json:"root_cause"`
	Action          string  `json:"action"`
	Justification   string  `json:"justification"`
	Confidence      float64 `json:"confidence"`
	CouncilApproved bool    `json:"council_approved"`
	ReplicasUsed    int     `json:"replicas_used"`
	ResolvedAt      string  `json:"resolved_at"`
}

// PrecedentMatch is a retrieval hit with its similarity context.
type PrecedentMatch struct {
	IncidentID    string  `json:"incident_id"`
	AlertType     string  `json:"alert_type"`
	RootCause     string  `json:"root_cause"`
	Action        string  `json:"action"`
	Justification string  `json:"justification"`
	LogSnippet    string  `json:"logs"`
	Similarity    float64 `json:"similarity_score"`
	WorkloadName  string  `json:"workload_name,omitempty"`
	Severity      string  `json:"severity,omitempty"`
	ReplicasUsed  int     `json:"replicas_used,omitempty"`
}

// ScaleEvent summarises a scale-up or scale-down operation.
type ScaleEvent struct {
	EventID      string    `json:"event_id"`
	WorkloadBase string    `json:"workload_base"`
	ReplicaCount int       `json:"replica_count"`
	Replicas     []string  `json:"replicas"`
	LBConfigured bool      `json:"lb_configured"`
	Timestamp    time.Time `json:"timestamp"`
}
