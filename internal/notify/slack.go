package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/miradorstack/mirador-remediate/internal/models"
)

var statusEmoji = map[models.RunStatus]string{
	models.StatusResolved: ":white_check_mark:",
	models.StatusFailed:   ":rotating_light:",
}

// SlackNotifier posts terminal run outcomes to a Slack incoming webhook
// using Block Kit. It is fire-and-forget: every failure is swallowed and
// logged, and an empty webhook URL disables it entirely.
type SlackNotifier struct {
	webhookURL string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSlackNotifier builds a notifier. An empty webhookURL yields a no-op.
func NewSlackNotifier(webhookURL string, logger *slog.Logger) *SlackNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlackNotifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     logger,
	}
}

// Notify posts the run outcome. Failures never reach the caller.
func (n *SlackNotifier) Notify(ctx context.Context, result models.RunResult) {
	if n.webhookURL == "" {
		return
	}

	payload, err := json.Marshal(buildMessage(result))
	if err != nil {
		n.logger.Warn("slack payload marshal failed", slog.Any("error", err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		n.logger.Warn("slack request invalid", slog.Any("error", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Warn("slack notification failed", slog.Any("error", err))
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode != http.StatusOK {
		n.logger.Warn("slack notification rejected", slog.Int("status", resp.StatusCode))
		return
	}
	n.logger.Info("slack notification sent",
		slog.String("incident_id", result.IncidentID),
		slog.String("status", string(result.Status)))
}

type block map[string]any

func buildMessage(result models.RunResult) map[string]any {
	emoji := statusEmoji[result.Status]
	if emoji == "" {
		emoji = ":information_source:"
	}

	blocks := []block{
		{
			"type": "header",
			"text": map[string]any{
				"type": "plain_text",
				"text": fmt.Sprintf("%s Incident %s: %s", emoji, result.IncidentID, result.Status),
			},
		},
		{
			"type": "section",
			"fields": []map[string]any{
				{"type": "mrkdwn", "text": "*Alert Type:*\n" + result.AlertType},
				{"type": "mrkdwn", "text": "*Status:*\n" + string(result.Status)},
			},
		},
	}

	if d := result.Diagnosis; d != nil {
		blocks = append(blocks, block{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*Root Cause:* %s\n*Action:* %s (confidence %.0f%%)\n*Justification:* %s",
					d.RootCause, d.Action, d.Confidence*100, d.Justification),
			},
		})
	}

	if c := result.CouncilDecision; c != nil {
		var lines []string
		for _, vote := range c.Votes {
			lines = append(lines, fmt.Sprintf("• %s: %s", vote.Role, vote.Verdict))
		}
		blocks = append(blocks, block{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*Council:* %s\n%s", c.Summary, strings.Join(lines, "\n")),
			},
		})
	}

	if result.Error != "" {
		blocks = append(blocks, block{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": "*Error:* " + result.Error,
			},
		})
	}

	return map[string]any{
		"text":   fmt.Sprintf("Incident %s: %s", result.IncidentID, result.Status),
		"blocks": blocks,
	}
}
