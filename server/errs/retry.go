package errs

import (
	"context"
	"time"
)

const (
	maxRetries     = 2
	retryBaseDelay = 250 * time.Millisecond
)

// HandleWithRetry runs fn, and for retryable failures re-runs it up to
// maxRetries more times with a linear delay. Non-retryable failures are
// returned classified on the first attempt.
func (h *Handler) HandleWithRetry(ctx context.Context, opContext string, fn func(context.Context) error) error {
	var last *AppError
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			if last != nil {
				h.Recovered()
			}
			return nil
		}
		last = h.Report(err, opContext)
		if !last.Retry || attempt >= maxRetries {
			return last
		}
		select {
		case <-ctx.Done():
			return last
		case <-time.After(retryBaseDelay * time.Duration(attempt+1)):
		}
	}
}
