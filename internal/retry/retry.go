// Package retry wraps calls to external providers with a per-attempt timeout and bounded
// exponential backoff. Only errors classified as transient by apperr are retried.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hyperjump/docchat/internal/apperr"
)

// Policy bounds how an operation is retried.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// AttemptTimeout bounds each attempt; zero disables the per-attempt deadline.
	AttemptTimeout time.Duration
	// TimeoutKind classifies an attempt that hit AttemptTimeout. Defaults to KindProvider.
	TimeoutKind apperr.Kind
	// Notify, when set, is called before each retry wait.
	Notify func(op string, err error, wait time.Duration)
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		AttemptTimeout:  30 * time.Second,
	}
}

// WithKind returns a copy of p whose attempt timeouts are classified as kind.
func (p Policy) WithKind(kind apperr.Kind) Policy {
	p.TimeoutKind = kind
	return p
}

func (p Policy) timeoutKind() apperr.Kind {
	if p.TimeoutKind == "" {
		return apperr.KindProvider
	}
	return p.TimeoutKind
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return b
}

// Do runs fn until it succeeds, returns a non-retryable error, or MaxAttempts is reached.
// The last error is returned unchanged apart from timeout classification.
func Do[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	operation := func() (T, error) {
		res, err := attempt(ctx, p, op, fn)
		if err != nil && !apperr.IsRetryable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}
	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(attempts)),
	}
	if p.Notify != nil {
		opts = append(opts, backoff.WithNotify(func(err error, wait time.Duration) {
			p.Notify(op, err, wait)
		}))
	}
	res, err := backoff.Retry(ctx, operation, opts...)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	return res, err
}

func attempt[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	if p.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()
	res, err := fn(attemptCtx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = apperr.Transient(p.timeoutKind(), op, fmt.Errorf("attempt timed out after %s: %w", p.AttemptTimeout, err))
	}
	return res, err
}
