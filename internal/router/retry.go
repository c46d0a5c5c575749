package router

import (
	"time"

	"github.com/agumabanks/baraka-gateway/internal/config"
)

// RetryPolicy decides how many attempts a routed call gets and how long
// to wait between them. It is independent of the transport: Route feeds
// it a pure attempt function.
type RetryPolicy struct {
	MaxAttempts int
	Strategy    string
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	retryable map[string]struct{}
}

// NewRetryPolicy builds a policy from config.
func NewRetryPolicy(cfg config.RetryConfig) RetryPolicy {
	retryable := make(map[string]struct{}, len(cfg.RetryableMethods))
	for _, m := range cfg.RetryableMethods {
		retryable[m] = struct{}{}
	}
	return RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		Strategy:    cfg.BackoffStrategy,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		retryable:   retryable,
	}
}

// Retryable reports whether failed attempts with this method may be
// retried automatically.
func (p RetryPolicy) Retryable(method string) bool {
	_, ok := p.retryable[method]
	return ok
}

// Delay returns the wait before the given attempt number (2 = first
// retry). Exponential doubles the base per retry, capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	if p.Strategy != "exponential" {
		return p.BaseDelay
	}

	d := p.BaseDelay
	for i := 2; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
