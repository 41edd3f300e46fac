package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
	}
}

func TestRetry_FirstTry(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetry_RecoversFromTransient(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), func(_ context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError("vector", errors.New("busy"), 503)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetry_StopsAtMaxAttempts(t *testing.T) {
	calls := 0
	var retried []int
	p := fastPolicy(4)
	p.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	err := Retry(context.Background(), p, func(_ context.Context) error {
		calls++
		return NewTransientError("llm", errors.New("overloaded"), 529)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 4 {
		t.Errorf("expected 4 calls, got %d", calls)
	}
	if len(retried) != 3 || retried[0] != 1 || retried[2] != 3 {
		t.Errorf("unexpected retry hooks: %v", retried)
	}
}

func TestRetry_PermanentErrorNotRetried(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), func(_ context.Context) error {
		calls++
		return StatusError("vector", 400, "bad request")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetry_CustomRetryable(t *testing.T) {
	sentinel := errors.New("retry me")
	p := fastPolicy(3)
	p.Retryable = func(err error) bool { return errors.Is(err, sentinel) }

	calls := 0
	_ = Retry(context.Background(), p, func(_ context.Context) error {
		calls++
		return sentinel
	})
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := fastPolicy(10)
	p.InitialBackoff = time.Second
	p.MaxBackoff = time.Second

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, p, func(_ context.Context) error {
			calls++
			return NewTransientError("x", errors.New("down"), 0)
		})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetryVal_ReturnsValue(t *testing.T) {
	calls := 0
	v, err := RetryVal(context.Background(), fastPolicy(3), func(_ context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", NewTransientError("x", errors.New("flaky"), 502)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "ok" {
		t.Errorf("expected ok, got %q", v)
	}
}

func TestPolicy_BackoffCapped(t *testing.T) {
	p := Policy{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 10}
	if got := p.Backoff(0); got != 100*time.Millisecond {
		t.Errorf("attempt 0: got %v", got)
	}
	if got := p.Backoff(5); got != time.Second {
		t.Errorf("attempt 5: got %v", got)
	}
}

func TestPolicy_BackoffJitterBounds(t *testing.T) {
	p := Policy{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2, Jitter: 0.5}
	for i := 0; i < 50; i++ {
		got := p.Backoff(0)
		if got < 50*time.Millisecond || got > 150*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", got)
		}
	}
}

func TestNewPolicy_Defaults(t *testing.T) {
	p := NewPolicy(0, 0, 0, 0, -1)
	d := DefaultPolicy()
	if p.MaxAttempts != d.MaxAttempts || p.InitialBackoff != d.InitialBackoff || p.Jitter != d.Jitter {
		t.Errorf("expected defaults, got %+v", p)
	}

	p = NewPolicy(5, 10, 100, 3, 0)
	if p.MaxAttempts != 5 || p.InitialBackoff != 10*time.Millisecond || p.MaxBackoff != 100*time.Millisecond {
		t.Errorf("unexpected policy %+v", p)
	}
	if p.Multiplier != 3 || p.Jitter != 0 {
		t.Errorf("unexpected policy %+v", p)
	}
}
