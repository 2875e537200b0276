package payments

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recordingSleep(waits *[]time.Duration) SleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	}
}

func TestPollStopsAtTerminalOutcome(t *testing.T) {
	var waits []time.Duration
	calls := 0
	outcome, err := Poll(context.Background(), DefaultPollPolicy, recordingSleep(&waits), func(ctx context.Context, attempt int) (Outcome, error) {
		calls++
		if attempt < 4 {
			return Outcome{Status: StatusPending}, nil
		}
		return Outcome{Status: StatusSucceeded, CorrelationID: "c1"}, nil
	})
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if outcome.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %q", outcome.Status)
	}
	if calls != 4 {
		t.Fatalf("expected 4 checks, got %d", calls)
	}
	want := []time.Duration{2 * time.Second, 3 * time.Second, 4500 * time.Millisecond}
	if len(waits) != len(want) {
		t.Fatalf("expected %d waits, got %v", len(want), waits)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Fatalf("wait %d: expected %s, got %s", i, want[i], waits[i])
		}
	}
}

func TestPollCapsIntervalAndTimesOut(t *testing.T) {
	var waits []time.Duration
	calls := 0
	policy := PollPolicy{Interval: 2 * time.Second, Multiplier: 3, MaxInterval: 5 * time.Second, MaxAttempts: 4}
	_, err := Poll(context.Background(), policy, recordingSleep(&waits), func(ctx context.Context, attempt int) (Outcome, error) {
		calls++
		return Outcome{Status: StatusPending}, nil
	})
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("expected ErrPollTimeout, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 checks, got %d", calls)
	}
	if len(waits) != 3 || waits[1] != 5*time.Second || waits[2] != 5*time.Second {
		t.Fatalf("expected capped waits, got %v", waits)
	}
}

func TestPollCountsErrorsAsAttempts(t *testing.T) {
	upstream := errors.New("boom")
	calls := 0
	_, err := Poll(context.Background(), PollPolicy{Interval: time.Millisecond, MaxAttempts: 3}, recordingSleep(new([]time.Duration)), func(ctx context.Context, attempt int) (Outcome, error) {
		calls++
		return Outcome{}, upstream
	})
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("expected ErrPollTimeout, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestPollHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Poll(ctx, DefaultPollPolicy, func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}, func(ctx context.Context, attempt int) (Outcome, error) {
		calls++
		return Outcome{Status: StatusPending}, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single check before cancellation, got %d", calls)
	}
}

func TestSleepContextReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestPollSleepsExactlyTheBudget(t *testing.T) {
	var waits []time.Duration
	_, err := Poll(context.Background(), DefaultPollPolicy, recordingSleep(&waits), func(ctx context.Context, attempt int) (Outcome, error) {
		return Outcome{Status: StatusPending}, nil
	})
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("expected ErrPollTimeout, got %v", err)
	}
	var total time.Duration
	for _, w := range waits {
		total += w
	}
	if total != DefaultPollPolicy.Budget() {
		t.Fatalf("expected sleeps to add up to %s, got %s", DefaultPollPolicy.Budget(), total)
	}
	if total != 26250*time.Millisecond {
		t.Fatalf("expected default budget of 26.25s, got %s", total)
	}
}
