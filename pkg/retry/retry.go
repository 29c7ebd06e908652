// Package retry wraps fallible I/O operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy describes an attempt budget and the delay schedule between attempts.
type Policy struct {
	Attempts     int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// Default policies used across the pipeline.
var (
	FetchPolicy = Policy{Attempts: 3, InitialDelay: 2 * time.Second, Multiplier: 2}
	MediaPolicy = Policy{Attempts: 3, InitialDelay: 3 * time.Second, Multiplier: 2}
	SMTPPolicy  = Policy{Attempts: 3, InitialDelay: 5 * time.Second, Multiplier: 2}
)

// Notify is invoked before each sleep with the failed attempt number, its error and the wait.
type Notify func(attempt int, err error, wait time.Duration)

// Do runs op until it succeeds, returns a permanent error, the attempt budget is spent, or ctx
// is done. Errors wrapped with Permanent are returned immediately and unwrapped.
func Do[T any](ctx context.Context, p Policy, notify Notify, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalize()

	attempt := 0
	operation := func() (T, error) {
		attempt++
		return op(ctx)
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(p.Attempts)),
		backoff.WithMaxElapsedTime(0),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(func(err error, wait time.Duration) {
			notify(attempt, err, wait)
		}))
	}

	res, err := backoff.Retry(ctx, operation, opts...)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return res, perm.Err
		}
		return res, err
	}
	return res, nil
}

func (p Policy) normalize() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = time.Millisecond
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = time.Duration(float64(p.InitialDelay) * pow(p.Multiplier, p.Attempts))
	}
	return p
}

func (p Policy) backOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialDelay
	bo.Multiplier = p.Multiplier
	bo.MaxInterval = p.MaxDelay
	bo.RandomizationFactor = 0
	bo.Reset()
	return bo
}

func pow(base float64, exp int) float64 {
	out := 1.0
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	StatusCode int
	Snippet    string
}

func (e *StatusError) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Snippet)
}

// IsSuccess reports whether code is a 2xx status.
func IsSuccess(code int) bool {
	return code >= http.StatusOK && code < http.StatusMultipleChoices
}

// IsTransient reports whether err is a timeout, connection-level failure (including a connection
// closed mid-response) or non-2xx response.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
