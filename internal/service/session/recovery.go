package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrorClass buckets an upstream failure for retry and messaging decisions.
type ErrorClass string

const (
	ErrorRecoverable        ErrorClass = "recoverable"
	ErrorPermissionDenied   ErrorClass = "permission_denied"
	ErrorServiceUnavailable ErrorClass = "service_unavailable"
	ErrorUnknown            ErrorClass = "unknown"
)

// classPatterns is the single source of truth for string-pattern error
// classification. Upstream errors are unstructured, so matching is ordered
// case-insensitive substring search with recoverable checked first.
var classPatterns = []struct {
	class    ErrorClass
	patterns []string
}{
	{ErrorRecoverable, []string{
		"timeout", "timed out", "deadline exceeded", "connection reset",
		"temporarily", "token expired", "token has expired", "try again",
		"too many requests", "i/o timeout",
	}},
	{ErrorPermissionDenied, []string{
		"permission denied", "forbidden", "access denied", "not authorized",
		"unauthorized",
	}},
	{ErrorServiceUnavailable, []string{
		"service unavailable", "connection refused", "no such host",
		"unavailable", "bad gateway", "circuit breaker is open",
	}},
}

// Classify maps an error to its recovery class.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorUnknown
	}
	msg := strings.ToLower(err.Error())
	for _, entry := range classPatterns {
		for _, p := range entry.patterns {
			if strings.Contains(msg, p) {
				return entry.class
			}
		}
	}
	return ErrorUnknown
}

// UserMessage returns the spoken message and actionable suggestion for a
// failure class. Raw error text is never spoken.
func UserMessage(class ErrorClass) (message, suggestion string) {
	switch class {
	case ErrorRecoverable:
		return "The network is being slow right now and I couldn't finish that.",
			"Please check your connection and try once more."
	case ErrorPermissionDenied:
		return "I'm not allowed to do that with the current account.",
			"Please sign in again or check the account permissions."
	case ErrorServiceUnavailable:
		return "The service I need for that isn't reachable at the moment.",
			"Please try again in a little while."
	default:
		return "Something unexpected went wrong while handling that.",
			"Please try again, or rephrase the request."
	}
}

// RecoveryPolicy retries recoverable failures with backoff proportional to
// the attempt count, bounded by MaxRetries. A success resets the counter.
type RecoveryPolicy struct {
	maxRetries  int
	backoffBase time.Duration
	sleep       func(context.Context, time.Duration) error
	log         *zap.Logger

	mu       sync.Mutex
	attempts int
}

func NewRecoveryPolicy(maxRetries int, backoffBase time.Duration, log *zap.Logger) *RecoveryPolicy {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if backoffBase <= 0 {
		backoffBase = 500 * time.Millisecond
	}
	return &RecoveryPolicy{
		maxRetries:  maxRetries,
		backoffBase: backoffBase,
		sleep:       sleepCtx,
		log:         log,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Execute runs op, retrying while the failure classifies as Recoverable.
// The returned class describes the final error; ErrorUnknown with a nil
// error means success.
func (p *RecoveryPolicy) Execute(ctx context.Context, name string, op func() error) (ErrorClass, error) {
	for {
		err := op()
		if err == nil {
			p.reset()
			return ErrorUnknown, nil
		}

		class := Classify(err)
		if class != ErrorRecoverable {
			p.reset()
			return class, err
		}

		p.mu.Lock()
		p.attempts++
		attempt := p.attempts
		p.mu.Unlock()

		if attempt > p.maxRetries {
			p.reset()
			p.log.Warn("retry budget exhausted",
				zap.String("operation", name),
				zap.Int("max_retries", p.maxRetries),
				zap.Error(err),
			)
			return class, err
		}

		backoff := time.Duration(attempt) * p.backoffBase
		p.log.Info("retrying recoverable failure",
			zap.String("operation", name),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if serr := p.sleep(ctx, backoff); serr != nil {
			p.reset()
			return class, err
		}
	}
}

func (p *RecoveryPolicy) reset() {
	p.mu.Lock()
	p.attempts = 0
	p.mu.Unlock()
}

// Attempts exposes the current retry counter for tests and observables.
func (p *RecoveryPolicy) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}
