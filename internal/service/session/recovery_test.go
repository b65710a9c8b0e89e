package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err   error
		class ErrorClass
	}{
		{errors.New("request timed out after 5s"), ErrorRecoverable},
		{errors.New("context deadline exceeded"), ErrorRecoverable},
		{errors.New("auth token has expired"), ErrorRecoverable},
		{errors.New("permission denied for relation transactions"), ErrorPermissionDenied},
		{errors.New("403 Forbidden"), ErrorPermissionDenied},
		{errors.New("dial tcp: connection refused"), ErrorServiceUnavailable},
		{errors.New("circuit breaker is open"), ErrorServiceUnavailable},
		{errors.New("something odd happened"), ErrorUnknown},
		{nil, ErrorUnknown},
	}

	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.class {
			t.Errorf("Classify(%v): expected %v, got %v", tc.err, tc.class, got)
		}
	}
}

func TestUserMessage_NeverExposesRawError(t *testing.T) {
	for _, class := range []ErrorClass{ErrorRecoverable, ErrorPermissionDenied, ErrorServiceUnavailable, ErrorUnknown} {
		message, suggestion := UserMessage(class)
		if message == "" || suggestion == "" {
			t.Errorf("class %v: expected a message and a suggestion, got %q / %q", class, message, suggestion)
		}
	}
}

func TestExecute_RetriesRecoverableThenSucceeds(t *testing.T) {
	p := NewRecoveryPolicy(3, 100*time.Millisecond, newTestLogger())

	var backoffs []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		backoffs = append(backoffs, d)
		return nil
	}

	calls := 0
	class, err := p.Execute(context.Background(), "flaky op", func() error {
		calls++
		if calls == 1 {
			return errors.New("i/o timeout")
		}
		return nil
	})

	if err != nil || class != ErrorUnknown {
		t.Fatalf("expected success, got class=%v err=%v", class, err)
	}
	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
	if len(backoffs) != 1 || backoffs[0] != 100*time.Millisecond {
		t.Errorf("expected one backoff of 100ms, got %v", backoffs)
	}
	if p.Attempts() != 0 {
		t.Errorf("expected the counter to reset on success, got %d", p.Attempts())
	}
}

func TestExecute_NonRecoverableFailsImmediately(t *testing.T) {
	p := NewRecoveryPolicy(3, 100*time.Millisecond, newTestLogger())

	slept := false
	p.sleep = func(ctx context.Context, d time.Duration) error {
		slept = true
		return nil
	}

	calls := 0
	class, err := p.Execute(context.Background(), "denied op", func() error {
		calls++
		return errors.New("permission denied")
	})

	if class != ErrorPermissionDenied || err == nil {
		t.Fatalf("expected permission_denied, got class=%v err=%v", class, err)
	}
	if calls != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}
	if slept {
		t.Error("a non-recoverable failure must not back off")
	}
}

func TestExecute_RetryBudgetExhausted(t *testing.T) {
	p := NewRecoveryPolicy(2, 50*time.Millisecond, newTestLogger())

	var backoffs []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		backoffs = append(backoffs, d)
		return nil
	}

	calls := 0
	class, err := p.Execute(context.Background(), "always failing", func() error {
		calls++
		return errors.New("connection reset by peer")
	})

	if class != ErrorRecoverable || err == nil {
		t.Fatalf("expected the final recoverable error, got class=%v err=%v", class, err)
	}
	if calls != 3 {
		t.Errorf("expected maxRetries+1 attempts, got %d", calls)
	}
	// Backoff grows with the attempt count.
	want := []time.Duration{50 * time.Millisecond, 100 * time.Millisecond}
	if len(backoffs) != len(want) || backoffs[0] != want[0] || backoffs[1] != want[1] {
		t.Errorf("expected backoffs %v, got %v", want, backoffs)
	}
	if p.Attempts() != 0 {
		t.Errorf("expected the counter to reset after exhaustion, got %d", p.Attempts())
	}
}

func TestExecute_CancelledContextStopsRetrying(t *testing.T) {
	p := NewRecoveryPolicy(5, time.Second, newTestLogger())
	p.sleep = func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}

	calls := 0
	class, err := p.Execute(context.Background(), "cancelled op", func() error {
		calls++
		return errors.New("timeout")
	})

	if class != ErrorRecoverable || err == nil {
		t.Fatalf("expected the recoverable error back, got class=%v err=%v", class, err)
	}
	if calls != 1 {
		t.Errorf("expected no further attempts after cancellation, got %d", calls)
	}
}
