package orchestrator

import (
	"sort"
	"sync"
	"time"

	"github.com/miradorstack/mirador-remediate/internal/models"
)

// runRegistry is the shared incident-id to run-state map. Runs mutate their
// entry while status queries read concurrently, so every read hands out a
// detached copy.
type runRegistry struct {
	mu   sync.RWMutex
	runs map[string]*models.RunResult
}

func newRunRegistry() *runRegistry {
	return &runRegistry{runs: make(map[string]*models.RunResult)}
}

func (r *runRegistry) create(signal models.IncidentSignal) models.RunResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[signal.IncidentID]
	if !ok {
		run = &models.RunResult{
			IncidentID: signal.IncidentID,
			AlertType:  signal.AlertType,
			Status:     models.StatusReceived,
			Timeline: []models.TimelineEntry{{
				Timestamp: time.Now().UTC(),
				Stage:     "RECEIVED",
				Message:   "incident accepted",
				Actor:     "ingress",
			}},
		}
		r.runs[signal.IncidentID] = run
	}
	return cloneRun(run)
}

func (r *runRegistry) get(id string) (models.RunResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return models.RunResult{}, false
	}
	return cloneRun(run), true
}

func (r *runRegistry) list() []models.RunResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.RunResult, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, cloneRun(run))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IncidentID < out[j].IncidentID })
	return out
}

// update applies fn to the stored run under the lock and returns a snapshot.
func (r *runRegistry) update(id string, fn func(*models.RunResult)) models.RunResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		run = &models.RunResult{IncidentID: id, Status: models.StatusReceived}
		r.runs[id] = run
	}
	fn(run)
	return cloneRun(run)
}

func cloneRun(run *models.RunResult) models.RunResult {
	out := *run
	out.Timeline = append([]models.TimelineEntry(nil), run.Timeline...)
	if run.Diagnosis != nil {
		diagnosis := *run.Diagnosis
		out.Diagnosis = &diagnosis
	}
	if run.CouncilDecision != nil {
		decision := *run.CouncilDecision
		decision.Votes = append([]models.CouncilVote(nil), run.CouncilDecision.Votes...)
		out.CouncilDecision = &decision
	}
	return out
}
