package payments

import (
	"context"
	"fmt"
	"time"
)

// PollPolicy bounds a poll loop.
type PollPolicy struct {
	Interval    time.Duration
	Multiplier  float64
	MaxInterval time.Duration
	MaxAttempts int
}

// DefaultPollPolicy re-checks after two seconds and backs off up to ten, six times at most.
// Its sleeps add up to 26.25s, which keeps a poll inside one API request.
var DefaultPollPolicy = PollPolicy{
	Interval:    2 * time.Second,
	Multiplier:  1.5,
	MaxInterval: 10 * time.Second,
	MaxAttempts: 6,
}

// Budget returns the total sleep time before Poll gives up on a gateway that never
// reaches a terminal state.
func (p PollPolicy) Budget() time.Duration {
	p = p.normalised()
	var total time.Duration
	interval := p.Interval
	for attempt := 1; attempt < p.MaxAttempts; attempt++ {
		total += interval
		interval = min(time.Duration(float64(interval)*p.Multiplier), p.MaxInterval)
	}
	return total
}

func (p PollPolicy) normalised() PollPolicy {
	if p.Interval <= 0 {
		p.Interval = DefaultPollPolicy.Interval
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.MaxInterval < p.Interval {
		p.MaxInterval = p.Interval
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPollPolicy.MaxAttempts
	}
	return p
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// SleepContext is the production SleepFunc.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// CheckFunc performs one poll attempt. Attempts are numbered from 1.
type CheckFunc func(ctx context.Context, attempt int) (Outcome, error)

// Poll calls check until it returns a terminal outcome or the policy is exhausted.
// Errors from check count as attempts. Exhaustion yields ErrPollTimeout together with the
// last pending outcome.
func Poll(ctx context.Context, policy PollPolicy, sleep SleepFunc, check CheckFunc) (Outcome, error) {
	policy = policy.normalised()
	if sleep == nil {
		sleep = SleepContext
	}

	interval := policy.Interval
	last := Outcome{Status: StatusPending}
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		outcome, err := check(ctx, attempt)
		if err == nil {
			if outcome.Terminal() {
				return outcome, nil
			}
			last = outcome
		}
		lastErr = err
		if attempt == policy.MaxAttempts {
			break
		}
		if err := sleep(ctx, interval); err != nil {
			return last, err
		}
		next := time.Duration(float64(interval) * policy.Multiplier)
		if next > policy.MaxInterval {
			next = policy.MaxInterval
		}
		interval = next
	}

	if lastErr != nil {
		return last, fmt.Errorf("%w after %d attempts: %v", ErrPollTimeout, policy.MaxAttempts, lastErr)
	}
	return last, fmt.Errorf("%w after %d attempts", ErrPollTimeout, policy.MaxAttempts)
}
