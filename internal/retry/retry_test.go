package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"futures-sentinel/internal/config"
)

func testPolicy(maxAttempts int, jitter float64) Policy {
	return FromConfig(config.RetryConfig{
		MaxAttempts: maxAttempts,
		Schedule:    []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond},
		Jitter:      jitter,
	})
}

func TestWait_FollowsScheduleAndClamps(t *testing.T) {
	policy := testPolicy(10, 0)

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Millisecond},
		{2, 2 * time.Millisecond},
		{3, 3 * time.Millisecond},
		{4, 3 * time.Millisecond},
		{9, 3 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := policy.Wait(tc.attempt); got != tc.want {
			t.Errorf("Wait(%d): got %v want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestWait_JitterBounds(t *testing.T) {
	policy := testPolicy(10, 0.2)
	base := 2 * time.Millisecond
	lower := time.Duration(float64(base) * 0.8)
	upper := time.Duration(float64(base) * 1.2)

	for i := 0; i < 200; i++ {
		got := policy.Wait(2)
		if got < lower || got > upper {
			t.Fatalf("Wait(2) out of jitter bounds: %v not in [%v,%v]", got, lower, upper)
		}
	}
}

func TestWait_ConcurrentUse(t *testing.T) {
	policy := testPolicy(10, 0.2)
	base := 2 * time.Millisecond
	lower := time.Duration(float64(base) * 0.8)
	upper := time.Duration(float64(base) * 1.2)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				got := policy.Wait(2)
				if got < lower || got > upper {
					errs <- fmt.Errorf("Wait(2) out of jitter bounds: %v not in [%v,%v]", got, lower, upper)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	policy := testPolicy(5, 0)

	calls := 0
	err := policy.Do(context.Background(), "op", nil, alwaysRetryable, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls: got %d want 3", calls)
	}
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	policy := testPolicy(5, 0)
	fatal := errors.New("fatal")

	calls := 0
	err := policy.Do(context.Background(), "op", nil, func(error) bool { return false }, func() error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls: got %d want 1", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	policy := testPolicy(4, 0)
	transient := errors.New("transient")

	calls := 0
	err := policy.Do(context.Background(), "op", nil, alwaysRetryable, func() error {
		calls++
		return transient
	})
	if !errors.Is(err, transient) {
		t.Fatalf("expected transient error after exhaustion, got %v", err)
	}
	if calls != 4 {
		t.Errorf("calls: got %d want 4", calls)
	}
}

func TestDo_ContextCancelStopsWaiting(t *testing.T) {
	policy := FromConfig(config.RetryConfig{
		MaxAttempts: 3,
		Schedule:    []time.Duration{time.Hour},
		Jitter:      0,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := policy.Do(ctx, "op", nil, alwaysRetryable, func() error {
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancel took too long: %v", elapsed)
	}
}

func alwaysRetryable(error) bool { return true }
