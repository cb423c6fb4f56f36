package retrieval

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/miradorstack/mirador-remediate/internal/models"
)

const (
	// DefaultTopK bounds how many precedents reach the diagnosis prompt.
	DefaultTopK = 2
	// DefaultMinSimilarity filters out noise matches.
	DefaultMinSimilarity = 0.05

	storedSnippetChars = 300
)

// Retriever ranks past precedents against the current incident text.
type Retriever struct {
	topK          int
	minSimilarity float64
	maxFeatures   int
	logger        *slog.Logger
}

// NewRetriever constructs a Retriever with the supplied tuning; zero values
// fall back to defaults.
func NewRetriever(topK int, minSimilarity float64, maxFeatures int, logger *slog.Logger) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if minSimilarity <= 0 {
		minSimilarity = DefaultMinSimilarity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		topK:          topK,
		minSimilarity: minSimilarity,
		maxFeatures:   maxFeatures,
		logger:        logger,
	}
}

// Retrieve returns the top-K precedents whose similarity to query clears the
// threshold, ranked descending. An empty corpus or any internal failure in
// the vectorization step degrades to an empty result; diagnosis then runs
// cold-start.
func (r *Retriever) Retrieve(query string, corpus []models.Precedent) []models.PrecedentMatch {
	if len(corpus) == 0 {
		r.logger.Info("retrieval: corpus empty, cold start")
		return nil
	}

	scores, err := r.score(query, corpus)
	if err != nil {
		r.logger.Warn("retrieval failed (non-fatal)", slog.Any("error", err))
		return nil
	}

	ranked := make([]int, len(scores))
	for i := range ranked {
		ranked[i] = i
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return scores[ranked[i]] > scores[ranked[j]]
	})

	matches := make([]models.PrecedentMatch, 0, r.topK)
	for _, idx := range ranked {
		if len(matches) == r.topK {
			break
		}
		score := scores[idx]
		if score < r.minSimilarity {
			continue
		}
		entry := corpus[idx]
		matches = append(matches, models.PrecedentMatch{
			IncidentID:    entry.IncidentID,
			AlertType:     entry.AlertType,
			RootCause:     entry.RootCause,
			Action:        entry.Action,
			Justification: entry.Justification,
			LogSnippet:    truncate(entry.Logs, storedSnippetChars),
			Similarity:    round4(score),
			WorkloadName:  entry.WorkloadName,
			Severity:      entry.Severity,
			ReplicasUsed:  entry.ReplicasUsed,
		})
	}

	if len(matches) > 0 {
		r.logger.Info("retrieval: matched precedents",
			slog.Int("count", len(matches)),
			slog.Float64("best", matches[0].Similarity))
	} else {
		r.logger.Info("retrieval: no precedent above threshold",
			slog.Float64("threshold", r.minSimilarity))
	}
	return matches
}

func (r *Retriever) score(query string, corpus []models.Precedent) (_ []float64, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("vectorizer panic: %v", rec)
		}
	}()

	docs := make([]string, 0, len(corpus)+1)
	for _, entry := range corpus {
		docs = append(docs, corpusDocument(entry))
	}
	// The query joins the corpus so both share one TF-IDF space.
	docs = append(docs, strings.ToLower(query))

	vectors := newVectorizer(r.maxFeatures).fitTransform(docs)
	queryVec := vectors[len(vectors)-1]

	scores := make([]float64, len(corpus))
	for i := range corpus {
		scores[i] = cosine(queryVec, vectors[i])
	}
	return scores, nil
}

// corpusDocument flattens one precedent into a single searchable string so
// the vectorizer can match on any of its signals.
func corpusDocument(entry models.Precedent) string {
	parts := []string{
		entry.Logs,
		entry.AlertType,
		entry.RootCause,
		entry.Action,
		entry.Justification,
		entry.Severity,
		entry.WorkloadName,
	}
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.ToLower(strings.Join(kept, " "))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}
