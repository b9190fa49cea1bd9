// Package dbretry implements the engine's single cross-cutting recovery
// rule: a busy/locked backend error gets exactly one automatic retry
// after a short pause; a second failure surfaces to the caller as
// kberrors.Busy. This is deliberately not exception interception — it is
// an explicit combinator callers opt into around one backend call.
package dbretry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kbengine/kbengine/internal/kberrors"
)

// IsBusy is overridable by storage backends to recognize their driver's
// busy/locked error shape (e.g. SQLITE_BUSY).
type IsBusy func(error) bool

// WithRetry runs fn once; if it fails with an error isBusy recognizes, it
// waits delay and runs fn exactly one more time. Any other error, or a
// second busy failure, is returned to the caller — the second busy
// failure is wrapped as kberrors.Busy so callers can check with
// errors.Is regardless of the underlying driver.
func WithRetry(ctx context.Context, op string, delay time.Duration, isBusy IsBusy, fn func(context.Context) error) error {
	attempts := 0
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), 1)

	err := backoff.Retry(func() error {
		attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if isBusy != nil && isBusy(err) {
			return err // retryable
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(policy, ctx))

	if err == nil {
		return nil
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}

	// Exhausted retries on a busy error.
	return fmt.Errorf("%s: %w", op, kberrors.Busy)
}
