package diagnose

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/miradorstack/mirador-remediate/internal/llm"
	"github.com/miradorstack/mirador-remediate/internal/models"
	"github.com/miradorstack/mirador-remediate/internal/retrieval"
)

// CorpusSource provides the precedent corpus consumed by retrieval.
type CorpusSource interface {
	Load() ([]models.Precedent, error)
}

// Agent produces a structured Diagnosis for an incident, augmenting the
// prompt with retrieved precedents.
type Agent struct {
	backend       llm.Backend
	retriever     *retrieval.Retriever
	corpus        CorpusSource
	hints         []Hint
	truncateChars int
	logger        *slog.Logger
}

// NewAgent constructs the diagnosis agent.
func NewAgent(backend llm.Backend, retriever *retrieval.Retriever, corpus CorpusSource, hints []Hint, truncateChars int, logger *slog.Logger) *Agent {
	if retriever == nil {
		retriever = retrieval.NewRetriever(0, 0, 0, logger)
	}
	if len(hints) == 0 {
		hints = defaultHints()
	}
	if truncateChars <= 0 {
		truncateChars = 2000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		backend:       backend,
		retriever:     retriever,
		corpus:        corpus,
		hints:         hints,
		truncateChars: truncateChars,
		logger:        logger,
	}
}

// RetrievePrecedents runs similarity search for the signal's logs. Failures
// to load the corpus degrade to cold start, never to an error.
func (a *Agent) RetrievePrecedents(signal models.IncidentSignal) []models.PrecedentMatch {
	safeLogs := truncateTail(signal.Logs, a.truncateChars)
	var corpus []models.Precedent
	if a.corpus != nil {
		loaded, err := a.corpus.Load()
		if err != nil {
			a.logger.Warn("corpus load failed, diagnosing cold start", slog.Any("error", err))
		} else {
			corpus = loaded
		}
	}
	return a.retriever.Retrieve(safeLogs, corpus)
}

// Diagnose runs the full retrieval-augmented analysis and returns the
// authoritative Diagnosis plus the precedents that informed it. Idempotent
// from the caller's perspective: each invocation is an independent analysis.
func (a *Agent) Diagnose(ctx context.Context, signal models.IncidentSignal) (models.Diagnosis, []models.PrecedentMatch, error) {
	safeLogs := truncateTail(signal.Logs, a.truncateChars)
	matches := a.RetrievePrecedents(signal)

	system := buildSystemPrompt(a.hints, matches)
	user := userMessage(signal, safeLogs, a.truncateChars)

	raw, err := a.backend.Complete(ctx, system, user)
	if err != nil {
		return models.Diagnosis{}, matches, fmt.Errorf("model call failed: %w", err)
	}

	diagnosis, err := parseDiagnosis(raw)
	if err != nil {
		return models.Diagnosis{}, matches, err
	}

	a.logger.Info("diagnosis complete",
		slog.String("incident_id", signal.IncidentID),
		slog.String("root_cause", diagnosis.RootCause),
		slog.String("action", string(diagnosis.Action)),
		slog.Float64("confidence", diagnosis.Confidence),
		slog.Int("precedents", len(matches)))
	return diagnosis, matches, nil
}

// StreamDiagnosis emits incremental analysis text via onDelta. The output
// is advisory only; the authoritative result always comes from Diagnose.
func (a *Agent) StreamDiagnosis(ctx context.Context, signal models.IncidentSignal, onDelta func(string)) error {
	safeLogs := truncateTail(signal.Logs, a.truncateChars)
	matches := a.RetrievePrecedents(signal)

	system := buildSystemPrompt(a.hints, matches)
	user := userMessage(signal, safeLogs, a.truncateChars)
	return a.backend.Stream(ctx, system, user, onDelta)
}
