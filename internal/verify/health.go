package verify

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/miradorstack/mirador-remediate/internal/config"
)

// Verifier polls a health endpoint after a remediation action to confirm
// the workload actually recovered. Each attempt waits for the configured
// delay first so the workload has time to come back up.
type Verifier struct {
	healthURL  string
	retries    int
	delay      time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewVerifier builds a Verifier from config.
func NewVerifier(cfg config.VerifyConfig, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = 3
	}
	delay := cfg.Delay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Verifier{
		healthURL:  cfg.HealthURL,
		retries:    retries,
		delay:      delay,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// HealthURL returns the endpoint being polled.
func (v *Verifier) HealthURL() string { return v.healthURL }

// Verify returns true as soon as one attempt gets a 2xx response. It gives
// up after the configured number of attempts or when ctx is cancelled.
func (v *Verifier) Verify(ctx context.Context) bool {
	for attempt := 1; attempt <= v.retries; attempt++ {
		select {
		case <-time.After(v.delay):
		case <-ctx.Done():
			v.logger.Warn("health verification cancelled", slog.Any("error", ctx.Err()))
			return false
		}

		if v.probe(ctx, attempt) {
			v.logger.Info("workload healthy", slog.Int("attempt", attempt))
			return true
		}
	}
	v.logger.Warn("workload still unhealthy", slog.Int("attempts", v.retries))
	return false
}

func (v *Verifier) probe(ctx context.Context, attempt int) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.healthURL, nil)
	if err != nil {
		v.logger.Warn("health probe request invalid", slog.Any("error", err))
		return false
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		v.logger.Debug("health probe failed",
			slog.Int("attempt", attempt), slog.Any("error", err))
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	healthy := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !healthy {
		v.logger.Debug("health probe unhealthy",
			slog.Int("attempt", attempt), slog.Int("status", resp.StatusCode))
	}
	return healthy
}
