package runbook

import (
	"sort"

	"github.com/miradorstack/mirador-remediate/internal/models"
)

// AlertTypeStats aggregates outcomes for one alert type.
type AlertTypeStats struct {
	AlertType string         `json:"alert_type"`
	Total     int            `json:"total"`
	Approved  int            `json:"approved"`
	Actions   map[string]int `json:"actions"`
	TopAction string         `json:"top_action"`
}

// Summary is the corpus-wide digest served on the runbook endpoint.
type Summary struct {
	TotalEntries int              `json:"total_entries"`
	Approved     int              `json:"approved"`
	ActionTotals map[string]int   `json:"action_totals"`
	ByAlertType  []AlertTypeStats `json:"by_alert_type"`
}

// Summarize folds the corpus into per-alert-type action frequencies so
// operators can see which fixes the system keeps reaching for.
func Summarize(entries []models.Precedent) Summary {
	summary := Summary{ActionTotals: make(map[string]int)}
	byType := make(map[string]*AlertTypeStats)

	for _, entry := range entries {
		summary.TotalEntries++
		summary.ActionTotals[entry.Action]++
		if entry.CouncilApproved {
			summary.Approved++
		}

		stats, ok := byType[entry.AlertType]
		if !ok {
			stats = &AlertTypeStats{AlertType: entry.AlertType, Actions: make(map[string]int)}
			byType[entry.AlertType] = stats
		}
		stats.Total++
		stats.Actions[entry.Action]++
		if entry.CouncilApproved {
			stats.Approved++
		}
	}

	for _, stats := range byType {
		stats.TopAction = topAction(stats.Actions)
		summary.ByAlertType = append(summary.ByAlertType, *stats)
	}
	sort.Slice(summary.ByAlertType, func(i, j int) bool {
		a, b := summary.ByAlertType[i], summary.ByAlertType[j]
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		return a.AlertType < b.AlertType
	})
	return summary
}

func topAction(counts map[string]int) string {
	best := ""
	bestCount := 0
	for action, count := range counts {
		if count > bestCount || (count == bestCount && action < best) {
			best = action
			bestCount = count
		}
	}
	return best
}
