package acme

import (
	"context"
	"time"
)

// PollPolicy bounds a status polling loop.
type PollPolicy struct {
	// Interval between refreshes.
	Interval time.Duration
	// Attempts is the maximum number of refreshes after the initial request.
	Attempts int
}

// DefaultPollPolicy polls every 5 seconds for up to 2 minutes.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{Interval: 5 * time.Second, Attempts: 24}
}

func (p PollPolicy) normalize() PollPolicy {
	if p.Interval < 0 {
		p.Interval = 0
	}
	if p.Attempts < 0 {
		p.Attempts = 0
	}
	return p
}

// Wait blocks for d or until ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
