package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kmalloy/sessionscribe/internal/logger"
)

func testCaller(maxAttempts int, onAttempt func(Attempt)) *Caller {
	log := logger.New("error", "text")
	return New(maxAttempts, time.Millisecond, time.Millisecond, log, onAttempt)
}

func TestCallSucceedsFirstAttempt(t *testing.T) {
	var attempts []Attempt
	c := testCaller(5, func(a Attempt) { attempts = append(attempts, a) })

	calls := 0
	err := c.Call(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(attempts) != 0 {
		t.Errorf("backoff events = %d, want 0", len(attempts))
	}
}

func TestCallRetriesThenSucceeds(t *testing.T) {
	const maxAttempts = 5
	var attempts []Attempt
	c := testCaller(maxAttempts, func(a Attempt) { attempts = append(attempts, a) })

	calls := 0
	err := c.Call(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < maxAttempts {
			return Retryable(errors.New("rate limited"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if calls != maxAttempts {
		t.Errorf("calls = %d, want %d", calls, maxAttempts)
	}
	// max_attempts-1 failures, each with one logged backoff wait
	if len(attempts) != maxAttempts-1 {
		t.Errorf("backoff events = %d, want %d", len(attempts), maxAttempts-1)
	}
	for i, a := range attempts {
		if a.Number != i+1 {
			t.Errorf("attempt[%d].Number = %d, want %d", i, a.Number, i+1)
		}
		if a.Wait < 0 {
			t.Errorf("attempt[%d].Wait negative", i)
		}
	}
}

func TestCallExhaustsRetries(t *testing.T) {
	const maxAttempts = 5
	c := testCaller(maxAttempts, nil)

	calls := 0
	err := c.Call(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return Retryable(errors.New("server error"))
	})

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Call() error = %v, want ExhaustedError", err)
	}
	if calls != maxAttempts {
		t.Errorf("calls = %d, want %d", calls, maxAttempts)
	}
	if exhausted.Attempts != maxAttempts {
		t.Errorf("Attempts = %d, want %d", exhausted.Attempts, maxAttempts)
	}
}

func TestCallNonRetryablePropagatesImmediately(t *testing.T) {
	c := testCaller(5, nil)

	fatal := errors.New("invalid api key")
	calls := 0
	err := c.Call(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return fatal
	})

	if !errors.Is(err, fatal) {
		t.Fatalf("Call() error = %v, want %v", err, fatal)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries for non-retryable errors)", calls)
	}
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		t.Error("non-retryable failure reported as ExhaustedError")
	}
}

func TestCallCancelledBeforeStart(t *testing.T) {
	c := testCaller(5, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := c.Call(ctx, "op", func(ctx context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Call() error = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}

func TestCallCancelledDuringWait(t *testing.T) {
	log := logger.New("error", "text")
	// Long base delay so cancellation lands inside the backoff wait
	c := New(5, time.Minute, 0, log, nil)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := c.Call(ctx, "op", func(ctx context.Context) error {
		calls++
		return Retryable(errors.New("transient"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Call() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no new attempt after cancellation)", calls)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("cancellation did not abort the wait (took %s)", elapsed)
	}
}

func TestRetryableWrapping(t *testing.T) {
	base := errors.New("boom")
	if !IsRetryable(Retryable(base)) {
		t.Error("Retryable() not detected by IsRetryable")
	}
	if IsRetryable(base) {
		t.Error("plain error detected as retryable")
	}
	if Retryable(nil) != nil {
		t.Error("Retryable(nil) should be nil")
	}
	if !errors.Is(Retryable(base), base) {
		t.Error("Retryable() breaks errors.Is chain")
	}
}
