package device

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// ConnectWithRetry runs attempt until it succeeds, the retry budget in opts is
// spent, or the failure is not recoverable. Each attempt gets its own
// ConnectTimeout deadline; backoff between attempts honours ctx.
func ConnectWithRetry(ctx context.Context, address string, opts *ConnectOptions, logger *logrus.Entry,
	attempt func(ctx context.Context) (Channel, error)) (Channel, error) {
	if opts == nil {
		opts = DefaultConnectOptions()
	}

	var lastErr error
	for i := 0; i <= opts.Retries; i++ {
		if i > 0 {
			delay := BackoffDelay(i-1, opts.RetryBackoff, opts.MaxBackoff)
			logger.WithFields(logrus.Fields{
				"attempt": i + 1,
				"delay":   delay,
				"error":   lastErr,
			}).Debug("Retrying connection")

			if err := Sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		ch, err := runAttempt(ctx, opts.ConnectTimeout, attempt)
		if err == nil {
			return ch, nil
		}
		lastErr = err

		if ctxErr := ContextError(ctx); ctxErr != nil {
			return nil, ctxErr
		}
		if !IsRecoverable(lastErr) {
			return nil, lastErr
		}
	}

	return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrConnectFailed, address, opts.Retries+1, lastErr)
}

func runAttempt(ctx context.Context, timeout time.Duration, attempt func(ctx context.Context) (Channel, error)) (Channel, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ch, err := attempt(ctx)
	if err != nil {
		if ctxErr := ContextError(ctx); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return ch, nil
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ContextError(ctx)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ContextError(ctx)
	}
}
