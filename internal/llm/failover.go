package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/miradorstack/mirador-remediate/internal/metrics"
)

// FailoverError reports that both configured endpoints failed.
type FailoverError struct {
	Primary  error
	Fallback error
}

func (e *FailoverError) Error() string {
	return fmt.Sprintf("primary endpoint failed (%v); fallback endpoint failed (%v)", e.Primary, e.Fallback)
}

// Failover tries the primary endpoint once and, on any failure, retries the
// same prompt exactly once against the fallback. No endpoint is ever retried
// against itself.
type Failover struct {
	primary  Backend
	fallback Backend
	logger   *slog.Logger
}

// NewFailover wires the two backends together.
func NewFailover(primary, fallback Backend, logger *slog.Logger) *Failover {
	if logger == nil {
		logger = slog.Default()
	}
	return &Failover{primary: primary, fallback: fallback, logger: logger}
}

// Name identifies the composite client.
func (f *Failover) Name() string { return "failover" }

// Complete runs the prompt against primary, then fallback.
func (f *Failover) Complete(ctx context.Context, system, user string) (string, error) {
	text, primaryErr := f.primary.Complete(ctx, system, user)
	metrics.ObserveLLMCall(f.primary.Name(), primaryErr)
	if primaryErr == nil {
		return text, nil
	}
	f.logger.Warn("primary model endpoint failed, trying fallback",
		slog.String("endpoint", f.primary.Name()), slog.Any("error", primaryErr))

	text, fallbackErr := f.fallback.Complete(ctx, system, user)
	metrics.ObserveLLMCall(f.fallback.Name(), fallbackErr)
	if fallbackErr == nil {
		return text, nil
	}
	return "", &FailoverError{Primary: primaryErr, Fallback: fallbackErr}
}

// Stream streams from primary, then fallback; if neither transport can
// stream, it degrades to a one-shot completion emitted in small fragments so
// the caller still sees progressive output.
func (f *Failover) Stream(ctx context.Context, system, user string, onDelta func(string)) error {
	if err := f.primary.Stream(ctx, system, user, onDelta); err == nil {
		return nil
	} else {
		f.logger.Warn("primary stream failed, trying fallback",
			slog.String("endpoint", f.primary.Name()), slog.Any("error", err))
	}

	if err := f.fallback.Stream(ctx, system, user, onDelta); err == nil {
		return nil
	} else {
		f.logger.Warn("fallback stream failed, degrading to one-shot",
			slog.String("endpoint", f.fallback.Name()), slog.Any("error", err))
	}

	text, err := f.Complete(ctx, system, user)
	if err != nil {
		return err
	}
	for _, r := range text {
		onDelta(string(r))
	}
	return nil
}
