package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errRetryable = errors.New("transient")
var errFatal = errors.New("fatal")

func alwaysRetryable(err error) bool { return errors.Is(err, errRetryable) }

func TestDo_SucceedsWithoutRetry(t *testing.T) {
	calls := 0
	op := func(ctx context.Context) (any, error) {
		calls++
		return "ok", nil
	}

	result, err := Do(context.Background(), nil, Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Classifier: alwaysRetryable}, op)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Fatalf("unexpected result: %v", result)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_NonRetryableFailsImmediately(t *testing.T) {
	calls := 0
	op := func(ctx context.Context) (any, error) {
		calls++
		return nil, errFatal
	}

	_, err := Do(context.Background(), nil, Config{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Classifier: alwaysRetryable}, op)
	if !errors.Is(err, errFatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call for a non-retryable error, got %d", calls)
	}
}

func TestDo_RetriesUpToMaxAttempts(t *testing.T) {
	calls := 0
	op := func(ctx context.Context) (any, error) {
		calls++
		return nil, errRetryable
	}

	_, err := Do(context.Background(), nil, Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Classifier: alwaysRetryable}, op)
	if err == nil {
		t.Fatal("expected retry exhaustion error")
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	op := func(ctx context.Context) (any, error) {
		calls++
		if calls < 3 {
			return nil, errRetryable
		}
		return "recovered", nil
	}

	result, err := Do(context.Background(), nil, Config{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Classifier: alwaysRetryable}, op)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "recovered" {
		t.Fatalf("unexpected result: %v", result)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDelay_ExponentialWithCap(t *testing.T) {
	base := 10 * time.Millisecond
	max := 50 * time.Millisecond

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 10 * time.Millisecond},
		{1, 20 * time.Millisecond},
		{2, 40 * time.Millisecond},
		{3, 50 * time.Millisecond}, // would be 80ms uncapped
		{4, 50 * time.Millisecond},
	}

	for _, c := range cases {
		got := Delay(base, max, c.attempt)
		if got != c.want {
			t.Errorf("Delay(attempt=%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestDoWithCleanup_RunsOnSuccessAndFailure(t *testing.T) {
	cleanupCalls := 0
	cleanup := func(ctx context.Context) error {
		cleanupCalls++
		return nil
	}

	okOp := func(ctx context.Context) (any, error) { return "ok", nil }
	_, _ = DoWithCleanup(context.Background(), nil, Config{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, okOp, cleanup)

	failOp := func(ctx context.Context) (any, error) { return nil, errFatal }
	_, _ = DoWithCleanup(context.Background(), nil, Config{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Classifier: alwaysRetryable}, failOp, cleanup)

	if cleanupCalls != 2 {
		t.Fatalf("expected cleanup to run on both paths, got %d calls", cleanupCalls)
	}
}

func TestTimedRetrier_RecordsStats(t *testing.T) {
	tr := NewTimedRetrier(nil)
	calls := 0
	op := func(ctx context.Context) (any, error) {
		calls++
		if calls < 2 {
			return nil, errRetryable
		}
		return "ok", nil
	}

	_, err := tr.Do(context.Background(), Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Classifier: alwaysRetryable}, op)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := tr.Snapshot()
	if snap.Calls != 1 {
		t.Fatalf("expected 1 call recorded, got %d", snap.Calls)
	}
	if snap.Successes != 1 {
		t.Fatalf("expected 1 success, got %d", snap.Successes)
	}
	if snap.TotalAttempts != 2 {
		t.Fatalf("expected 2 attempts recorded, got %d", snap.TotalAttempts)
	}
}

func TestDo_ContextCancellationDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	op := func(ctx context.Context) (any, error) {
		calls++
		return nil, errRetryable
	}

	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := Do(ctx, nil, Config{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second, Classifier: alwaysRetryable}, op)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
