package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/miradorstack/mirador-remediate/internal/metrics"
	"github.com/miradorstack/mirador-remediate/internal/models"
	"github.com/miradorstack/mirador-remediate/internal/utils"
)

// Diagnoser produces a structured remediation plan for an incident.
type Diagnoser interface {
	RetrievePrecedents(signal models.IncidentSignal) []models.PrecedentMatch
	Diagnose(ctx context.Context, signal models.IncidentSignal) (models.Diagnosis, []models.PrecedentMatch, error)
	StreamDiagnosis(ctx context.Context, signal models.IncidentSignal, onDelta func(string)) error
}

// Reviewer collects the council decision over a proposed plan.
type Reviewer interface {
	Review(ctx context.Context, signal models.IncidentSignal, diagnosis models.Diagnosis) (models.CouncilDecision, error)
}

// RuntimeDriver executes remediation actions against the container runtime.
type RuntimeDriver interface {
	Restart(ctx context.Context) error
	ScaleUp(ctx context.Context, replicas int) (models.ScaleEvent, error)
	ScaleDown(ctx context.Context) ([]string, error)
	ReconfigureRouting(ctx context.Context, replicas []string) error
}

// HealthVerifier confirms the workload recovered after an action.
type HealthVerifier interface {
	Verify(ctx context.Context) bool
}

// CorpusAppender records resolved incidents for future retrieval.
type CorpusAppender interface {
	Append(entry models.Precedent) error
}

// Broadcaster fans frames out to live-channel subscribers. Broadcast
// failures never affect the run.
type Broadcaster interface {
	Broadcast(frameType models.FrameType, incidentID string, data any)
	Count() int
}

// Notifier pushes terminal run outcomes to an external sink. Fire and
// forget: implementations swallow their own failures.
type Notifier interface {
	Notify(ctx context.Context, result models.RunResult)
}

// Deps wires the orchestrator's collaborators.
type Deps struct {
	Agent    Diagnoser
	Council  Reviewer
	Runtime  RuntimeDriver
	Verifier HealthVerifier
	Corpus   CorpusAppender
	Live     Broadcaster
	Notifier Notifier
	Logger   *slog.Logger
}

// Orchestrator drives one incident through retrieval, diagnosis, council
// review, execution, verification, and learning. Stages within a run are
// strictly sequential; distinct incidents run concurrently.
type Orchestrator struct {
	agent    Diagnoser
	council  Reviewer
	runtime  RuntimeDriver
	verifier HealthVerifier
	corpus   CorpusAppender
	live     Broadcaster
	notifier Notifier
	runs     *runRegistry
	latency  *utils.LatencyTracker
	logger   *slog.Logger
}

// New constructs an Orchestrator from its collaborators.
func New(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		agent:    deps.Agent,
		council:  deps.Council,
		runtime:  deps.Runtime,
		verifier: deps.Verifier,
		corpus:   deps.Corpus,
		live:     deps.Live,
		notifier: deps.Notifier,
		runs:     newRunRegistry(),
		latency:  utils.NewLatencyTracker(200),
		logger:   logger,
	}
}

// Accept records a new incident and returns its initial run state. The
// caller schedules Run separately so ingress can reply immediately.
func (o *Orchestrator) Accept(signal models.IncidentSignal) models.RunResult {
	run := o.runs.create(signal)
	o.broadcast(models.FrameIncidentNew, signal.IncidentID, signal)
	o.logger.Info("incident accepted",
		slog.String("incident_id", signal.IncidentID),
		slog.String("alert_type", signal.AlertType))
	return run
}

// Get returns the current run state for an incident.
func (o *Orchestrator) Get(incidentID string) (models.RunResult, bool) {
	return o.runs.get(incidentID)
}

// List returns all known runs.
func (o *Orchestrator) List() []models.RunResult {
	return o.runs.list()
}

// Run executes the remediation pipeline for one incident and returns the
// terminal run state.
func (o *Orchestrator) Run(ctx context.Context, signal models.IncidentSignal) models.RunResult {
	start := time.Now()
	o.runs.create(signal)
	log := o.logger.With(slog.String("incident_id", signal.IncidentID))

	matches := o.retrieve(signal, log)
	diagnosis, ok := o.diagnose(ctx, signal, matches, log)
	if !ok {
		return o.observe(start, signal.IncidentID)
	}

	if !o.review(ctx, signal, diagnosis, log) {
		return o.observe(start, signal.IncidentID)
	}

	verifyNeeded, ok := o.execute(ctx, signal, diagnosis, log)
	if !ok {
		return o.observe(start, signal.IncidentID)
	}

	if verifyNeeded && !o.verify(ctx, signal) {
		return o.observe(start, signal.IncidentID)
	}

	o.resolve(ctx, signal, diagnosis, log)
	return o.observe(start, signal.IncidentID)
}

func (o *Orchestrator) retrieve(signal models.IncidentSignal, log *slog.Logger) []models.PrecedentMatch {
	o.stage(signal.IncidentID, "RAG_RETRIEVAL", "searching runbook for precedents", "retriever")
	matches := o.agent.RetrievePrecedents(signal)
	o.stage(signal.IncidentID, "RAG_RETRIEVAL",
		fmt.Sprintf("found %d precedent(s)", len(matches)), "retriever")
	o.broadcast(models.FrameAIThinking, signal.IncidentID, map[string]any{
		"precedents": matches,
	})
	log.Info("precedents retrieved", slog.Int("count", len(matches)))
	return matches
}

func (o *Orchestrator) diagnose(ctx context.Context, signal models.IncidentSignal, matches []models.PrecedentMatch, log *slog.Logger) (models.Diagnosis, bool) {
	o.setStatus(signal.IncidentID, models.StatusAnalysing, "ANALYSING", "consulting diagnosis model")
	o.streamPreview(ctx, signal, log)

	diagnosis, _, err := o.agent.Diagnose(ctx, signal)
	if err != nil {
		log.Error("diagnosis failed", slog.Any("error", err))
		o.fail(ctx, signal.IncidentID, fmt.Sprintf("diagnosis failed: %v", err))
		return models.Diagnosis{}, false
	}

	run := o.runs.update(signal.IncidentID, func(r *models.RunResult) {
		d := diagnosis
		r.Diagnosis = &d
	})
	o.stage(signal.IncidentID, "AI_COMPLETE",
		fmt.Sprintf("diagnosed %s (confidence %.2f): %s", diagnosis.Action, diagnosis.Confidence, diagnosis.RootCause),
		"diagnoser")
	o.broadcast(models.FrameAIComplete, signal.IncidentID, run.Diagnosis)
	log.Info("diagnosis complete",
		slog.String("action", string(diagnosis.Action)),
		slog.Float64("confidence", diagnosis.Confidence))
	return diagnosis, true
}

// streamPreview emits incremental analysis to live subscribers. It is
// advisory: failures are discarded, and it is skipped with no subscribers
// to avoid a second model call nobody would see.
func (o *Orchestrator) streamPreview(ctx context.Context, signal models.IncidentSignal, log *slog.Logger) {
	if o.live == nil || o.live.Count() == 0 {
		return
	}
	err := o.agent.StreamDiagnosis(ctx, signal, func(delta string) {
		o.broadcast(models.FrameAIStream, signal.IncidentID, map[string]string{"delta": delta})
	})
	if err != nil {
		log.Warn("streaming preview unavailable", slog.Any("error", err))
	}
}

// review runs the council. A plumbing fault in the council is a
// bypass-approval: availability wins over a second opinion.
func (o *Orchestrator) review(ctx context.Context, signal models.IncidentSignal, diagnosis models.Diagnosis, log *slog.Logger) bool {
	o.setStatus(signal.IncidentID, models.StatusCouncilReview, "COUNCIL_REVIEW", "collecting council votes")

	decision, err := o.council.Review(ctx, signal, diagnosis)
	if err != nil {
		log.Error("council unavailable, bypassing review", slog.Any("error", err))
		o.stage(signal.IncidentID, "COUNCIL_BYPASS",
			fmt.Sprintf("council unavailable (%v), proceeding without review", err), "orchestrator")
		o.setStatus(signal.IncidentID, models.StatusApproved, "APPROVED", "approved via council bypass")
		return true
	}

	run := o.runs.update(signal.IncidentID, func(r *models.RunResult) {
		d := decision
		r.CouncilDecision = &d
	})
	for _, vote := range decision.Votes {
		o.stage(signal.IncidentID, "COUNCIL_VOTE",
			fmt.Sprintf("%s voted %s: %s", vote.Role, vote.Verdict, vote.Reasoning),
			string(vote.Role))
		o.broadcast(models.FrameCouncilVote, signal.IncidentID, vote)
	}
	o.broadcast(models.FrameCouncilDecision, signal.IncidentID, run.CouncilDecision)
	o.stage(signal.IncidentID, "COUNCIL_DECISION", decision.Summary, "council")

	if decision.FinalVerdict != models.VerdictApproved {
		o.fail(ctx, signal.IncidentID, "council rejected the proposed remediation")
		return false
	}
	o.setStatus(signal.IncidentID, models.StatusApproved, "APPROVED", decision.Summary)
	return true
}

// execute maps the approved action onto the runtime driver. It returns
// whether health verification is still required and whether the run may
// proceed.
func (o *Orchestrator) execute(ctx context.Context, signal models.IncidentSignal, diagnosis models.Diagnosis, log *slog.Logger) (verifyNeeded, ok bool) {
	o.setStatus(signal.IncidentID, models.StatusExecuting, "EXECUTING",
		fmt.Sprintf("executing %s", diagnosis.Action))

	switch diagnosis.Action {
	case models.ActionNoop:
		o.stage(signal.IncidentID, "NOOP", "no action required", "executor")
		return false, true

	case models.ActionRestart:
		if err := o.runtime.Restart(ctx); err != nil {
			o.fail(ctx, signal.IncidentID, fmt.Sprintf("restart failed: %v", err))
			return false, false
		}
		o.stage(signal.IncidentID, "RESTARTED", "workload restarted", "executor")
		o.broadcast(models.FrameRuntimeAction, signal.IncidentID, map[string]string{"action": "RESTART"})
		return true, true

	case models.ActionScaleUp:
		return o.scaleUp(ctx, signal, diagnosis, log)

	case models.ActionScaleDown:
		removed, err := o.runtime.ScaleDown(ctx)
		if err != nil {
			log.Warn("scale down failed", slog.Any("error", err))
			o.stage(signal.IncidentID, "SCALE_DOWN_FAILED",
				fmt.Sprintf("scale down failed (non-fatal): %v", err), "executor")
		} else {
			o.stage(signal.IncidentID, "SCALED_DOWN",
				fmt.Sprintf("removed %d replica(s)", len(removed)), "executor")
			o.reconfigureRouting(ctx, signal.IncidentID, nil, log)
			o.broadcast(models.FrameScaleEvent, signal.IncidentID, map[string]any{
				"direction": "down", "removed": removed,
			})
		}
		return true, true

	case models.ActionRollback:
		o.fail(ctx, signal.IncidentID, "rollback requires external deployment tooling and is not supported")
		return false, false
	}

	o.fail(ctx, signal.IncidentID, fmt.Sprintf("unknown action %q", diagnosis.Action))
	return false, false
}

// scaleUp spawns replicas and rewires the load balancer. A scaling failure
// falls back to exactly one restart of the original workload.
func (o *Orchestrator) scaleUp(ctx context.Context, signal models.IncidentSignal, diagnosis models.Diagnosis, log *slog.Logger) (verifyNeeded, ok bool) {
	o.setStatus(signal.IncidentID, models.StatusScaling, "SCALING",
		fmt.Sprintf("scaling to %d replica(s)", diagnosis.ReplicaCount))

	event, err := o.runtime.ScaleUp(ctx, diagnosis.ReplicaCount)
	if err != nil {
		log.Warn("scale up failed, falling back to restart", slog.Any("error", err))
		o.stage(signal.IncidentID, "SCALE_FAILED",
			fmt.Sprintf("scale up failed: %v; falling back to restart", err), "executor")

		if restartErr := o.runtime.Restart(ctx); restartErr != nil {
			o.fail(ctx, signal.IncidentID,
				fmt.Sprintf("scale up failed: %v; restart fallback failed: %v", err, restartErr))
			return false, false
		}
		o.stage(signal.IncidentID, "RESTARTED", "fallback restart succeeded", "executor")
		o.broadcast(models.FrameRuntimeAction, signal.IncidentID, map[string]string{"action": "RESTART"})
		return true, true
	}

	o.runs.update(signal.IncidentID, func(r *models.RunResult) {
		r.ReplicasSpawned = event.ReplicaCount
	})
	o.stage(signal.IncidentID, "SCALED",
		fmt.Sprintf("spawned %d replica(s): %s", event.ReplicaCount, strings.Join(event.Replicas, ", ")),
		"executor")
	o.broadcast(models.FrameScaleEvent, signal.IncidentID, event)

	o.reconfigureRouting(ctx, signal.IncidentID, event.Replicas, log)
	return true, true
}

// reconfigureRouting updates the load balancer upstreams. Failures leave
// the original upstream serving, so they are logged, not fatal.
func (o *Orchestrator) reconfigureRouting(ctx context.Context, incidentID string, replicas []string, log *slog.Logger) {
	if err := o.runtime.ReconfigureRouting(ctx, replicas); err != nil {
		log.Warn("load balancer reconfiguration failed", slog.Any("error", err))
		o.stage(incidentID, "LB_FAILED",
			fmt.Sprintf("load balancer reconfiguration failed (non-fatal): %v", err), "executor")
		return
	}
	o.stage(incidentID, "LB_CONFIGURED",
		fmt.Sprintf("load balancer serving %d upstream(s)", len(replicas)+1), "executor")
}

func (o *Orchestrator) verify(ctx context.Context, signal models.IncidentSignal) bool {
	o.setStatus(signal.IncidentID, models.StatusVerifying, "VERIFYING", "polling workload health")

	healthy := o.verifier.Verify(ctx)
	o.broadcast(models.FrameHealthCheck, signal.IncidentID, map[string]bool{"healthy": healthy})
	if !healthy {
		o.fail(ctx, signal.IncidentID, "workload failed health verification after remediation")
		return false
	}
	o.stage(signal.IncidentID, "VERIFIED", "workload healthy", "verifier")
	return true
}

func (o *Orchestrator) resolve(ctx context.Context, signal models.IncidentSignal, diagnosis models.Diagnosis, log *slog.Logger) {
	run := o.runs.update(signal.IncidentID, func(r *models.RunResult) {
		r.Status = models.StatusResolved
		r.ResolvedAt = time.Now().UTC().Format(time.RFC3339)
		r.Timeline = append(r.Timeline, models.TimelineEntry{
			Timestamp: time.Now().UTC(),
			Stage:     "RESOLVED",
			Message:   "incident resolved",
			Actor:     "orchestrator",
		})
	})
	o.broadcast(models.FrameResolved, signal.IncidentID, run)
	o.broadcast(models.FrameStatusUpdate, signal.IncidentID, run)

	o.learn(signal, diagnosis, run, log)
	if o.notifier != nil {
		o.notifier.Notify(ctx, run)
	}
	log.Info("incident resolved", slog.String("action", string(diagnosis.Action)))
}

// learn appends the resolved run to the corpus so the next incident of
// this shape starts warmer.
func (o *Orchestrator) learn(signal models.IncidentSignal, diagnosis models.Diagnosis, run models.RunResult, log *slog.Logger) {
	if o.corpus == nil {
		return
	}
	entry := models.Precedent{
		IncidentID:      signal.IncidentID,
		AlertType:       signal.AlertType,
		Logs:            signal.Logs,
		WorkloadName:    signal.WorkloadName,
		Severity:        signal.Severity,
		RootCause:       diagnosis.RootCause,
		Action:          string(diagnosis.Action),
		Justification:   diagnosis.Justification,
		Confidence:      diagnosis.Confidence,
		CouncilApproved: run.CouncilDecision != nil && run.CouncilDecision.FinalVerdict == models.VerdictApproved,
		ReplicasUsed:    run.ReplicasSpawned,
		ResolvedAt:      run.ResolvedAt,
	}
	if err := o.corpus.Append(entry); err != nil {
		log.Warn("failed to persist precedent", slog.Any("error", err))
	}
}

func (o *Orchestrator) fail(ctx context.Context, incidentID, message string) {
	run := o.runs.update(incidentID, func(r *models.RunResult) {
		r.Status = models.StatusFailed
		r.Error = message
		r.Timeline = append(r.Timeline, models.TimelineEntry{
			Timestamp: time.Now().UTC(),
			Stage:     "FAILED",
			Message:   message,
			Actor:     "orchestrator",
		})
	})
	o.broadcast(models.FrameFailed, incidentID, run)
	o.broadcast(models.FrameStatusUpdate, incidentID, run)
	if o.notifier != nil {
		o.notifier.Notify(ctx, run)
	}
	o.logger.Warn("run failed",
		slog.String("incident_id", incidentID), slog.String("error", message))
}

// ManualScale applies an operator-triggered scale override without
// diagnosis or council review.
func (o *Orchestrator) ManualScale(ctx context.Context, direction string, count int) (map[string]any, error) {
	switch direction {
	case "up":
		event, err := o.runtime.ScaleUp(ctx, count)
		if err != nil {
			return nil, err
		}
		lbErr := o.runtime.ReconfigureRouting(ctx, event.Replicas)
		if lbErr != nil {
			o.logger.Warn("load balancer reconfiguration failed", slog.Any("error", lbErr))
		}
		o.broadcast(models.FrameScaleEvent, "", event)
		return map[string]any{
			"direction":     "up",
			"event":         event,
			"lb_configured": lbErr == nil,
		}, nil

	case "down":
		removed, err := o.runtime.ScaleDown(ctx)
		if err != nil {
			return nil, err
		}
		lbErr := o.runtime.ReconfigureRouting(ctx, nil)
		if lbErr != nil {
			o.logger.Warn("load balancer reconfiguration failed", slog.Any("error", lbErr))
		}
		o.broadcast(models.FrameScaleEvent, "", map[string]any{
			"direction": "down", "removed": removed,
		})
		return map[string]any{
			"direction":     "down",
			"removed":       removed,
			"lb_configured": lbErr == nil,
		}, nil
	}
	return nil, fmt.Errorf("unknown scale direction %q", direction)
}

func (o *Orchestrator) setStatus(incidentID string, status models.RunStatus, stage, message string) {
	run := o.runs.update(incidentID, func(r *models.RunResult) {
		r.Status = status
		r.Timeline = append(r.Timeline, models.TimelineEntry{
			Timestamp: time.Now().UTC(),
			Stage:     stage,
			Message:   message,
			Actor:     "orchestrator",
		})
	})
	o.broadcast(models.FrameStatusUpdate, incidentID, run)
}

func (o *Orchestrator) stage(incidentID, stage, message, actor string) models.RunResult {
	return o.runs.update(incidentID, func(r *models.RunResult) {
		r.Timeline = append(r.Timeline, models.TimelineEntry{
			Timestamp: time.Now().UTC(),
			Stage:     stage,
			Message:   message,
			Actor:     actor,
		})
	})
}

func (o *Orchestrator) broadcast(frameType models.FrameType, incidentID string, data any) {
	if o.live == nil {
		return
	}
	o.live.Broadcast(frameType, incidentID, data)
}

func (o *Orchestrator) observe(start time.Time, incidentID string) models.RunResult {
	run, _ := o.runs.get(incidentID)
	elapsed := time.Since(start)

	outcome := metrics.OutcomeFailed
	if run.Status == models.StatusResolved {
		outcome = metrics.OutcomeResolved
	}
	metrics.ObserveRemediation(elapsed, outcome)

	o.latency.Observe(elapsed)
	if n := o.latency.Count(); n > 0 && n%20 == 0 {
		o.logger.Info("remediation latency",
			slog.Int("runs", n),
			slog.Duration("p95", o.latency.Percentile(95)))
	}
	return run
}
