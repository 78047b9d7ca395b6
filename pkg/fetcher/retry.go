package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/jmylchreest/wirefeed/internal/logger"
)

// Retrying wraps a Fetcher and retries failed fetches a fixed number of
// times before giving up. Once the caller's context is done no further
// attempt is made.
type Retrying struct {
	next     Fetcher
	attempts int
	delay    time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewRetrying wraps next so that each Fetch is attempted up to attempts
// times. The wait before attempt n is delay*(n-1).
func NewRetrying(next Fetcher, attempts int, delay time.Duration) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	return &Retrying{
		next:     next,
		attempts: attempts,
		delay:    delay,
		sleep:    sleepContext,
	}
}

// Fetch implements Fetcher.
func (r *Retrying) Fetch(ctx context.Context, url string, opts Options) (Content, error) {
	var (
		content Content
		err     error
	)
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if attempt > 1 {
			wait := r.delay * time.Duration(attempt-1)
			logger.Debug("retrying fetch", "url", url, "attempt", attempt, "wait", wait, "error", err)
			if serr := r.sleep(ctx, wait); serr != nil {
				return content, serr
			}
		}

		content, err = r.next.Fetch(ctx, url, opts)
		if err == nil {
			return content, nil
		}
		if ctx.Err() != nil {
			return content, err
		}
	}
	return content, fmt.Errorf("giving up after %d attempts: %w", r.attempts, err)
}

// Close closes the wrapped fetcher.
func (r *Retrying) Close() error {
	return r.next.Close()
}

// Type reports the wrapped fetcher's type.
func (r *Retrying) Type() string {
	return r.next.Type()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
