package usecase

import (
	"context"
	"time"
)

// PollPolicy decides how the verification loop waits between gateway polls.
// The sleep implementation suits interactive calls; a server deployment can
// swap in a scheduled-requeue policy without touching the orchestrator.
type PollPolicy interface {
	Wait(ctx context.Context, attempt int) error
}

type sleepPolicy struct {
	delay time.Duration
}

// NewSleepPolicy waits a fixed delay between attempts, honoring cancellation.
func NewSleepPolicy(delay time.Duration) PollPolicy {
	if delay <= 0 {
		delay = 5 * time.Second
	}
	return sleepPolicy{delay: delay}
}

func (p sleepPolicy) Wait(ctx context.Context, attempt int) error {
	t := time.NewTimer(p.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
