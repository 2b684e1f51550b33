package webclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// AttemptFunc performs one request and reports its status and body.
type AttemptFunc func() (status int, body []byte, err error)

// RetryOptions bounds DoWithRetry.
type RetryOptions struct {
	Attempts        uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryOptions suits calls to third-party APIs made on behalf of a user.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		Attempts:        3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsedTime:  30 * time.Second,
	}
}

// Transient reports whether a status is worth retrying (429 and 5xx).
func Transient(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// DoWithRetry retries fn with exponential backoff while it returns an error or a
// transient status. The last status, body and error are returned.
func DoWithRetry(ctx context.Context, opts RetryOptions, fn AttemptFunc) (int, []byte, error) {
	if opts.Attempts == 0 {
		opts.Attempts = 1
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(opts.InitialInterval),
		backoff.WithMaxInterval(opts.MaxInterval),
		backoff.WithMaxElapsedTime(opts.MaxElapsedTime),
	), opts.Attempts-1), ctx)

	var (
		status int
		body   []byte
		err    error
	)
	op := func() error {
		status, body, err = fn()
		if err != nil {
			return err
		}
		if Transient(status) {
			return fmt.Errorf("transient status %d", status)
		}
		return nil
	}

	retryErr := backoff.Retry(op, b)
	if err == nil && retryErr != nil && ctx.Err() != nil {
		return status, body, ctx.Err()
	}
	return status, body, err
}
