package worker

import (
	"context"
	"time"

	"github.com/dontdude/walq/internal/domain"
)

// SleepRunner simulates work by waiting for Duration.
type SleepRunner struct {
	Duration time.Duration
}

var _ domain.Runner = SleepRunner{}

func (r SleepRunner) Run(ctx context.Context, job domain.Job) (string, error) {
	t := time.NewTimer(r.Duration)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-t.C:
		return "processed " + job.Payload, nil
	}
}
