package dbretry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kbengine/kbengine/internal/dbretry"
	"github.com/kbengine/kbengine/internal/kberrors"
)

var errBusy = errors.New("database is locked")
var errOther = errors.New("disk full")

func isBusy(err error) bool { return errors.Is(err, errBusy) }

func TestWithRetry_SucceedsOnSecondAttemptAfterBusy(t *testing.T) {
	attempts := 0
	err := dbretry.WithRetry(context.Background(), "test op", time.Millisecond, isBusy, func(ctx context.Context) error {
		attempts++
		if attempts == 1 {
			return errBusy
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success on retry, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", attempts)
	}
}

func TestWithRetry_SurfacesBusyAsKberrorsAfterExhaustingRetries(t *testing.T) {
	attempts := 0
	err := dbretry.WithRetry(context.Background(), "test op", time.Millisecond, isBusy, func(ctx context.Context) error {
		attempts++
		return errBusy
	})
	if !errors.Is(err, kberrors.Busy) {
		t.Fatalf("expected kberrors.Busy after exhausting the single retry, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected exactly 2 attempts (initial + one retry), got %d", attempts)
	}
}

func TestWithRetry_NonBusyErrorIsNotRetried(t *testing.T) {
	attempts := 0
	err := dbretry.WithRetry(context.Background(), "test op", time.Millisecond, isBusy, func(ctx context.Context) error {
		attempts++
		return errOther
	})
	if !errors.Is(err, errOther) {
		t.Fatalf("expected the original error to propagate unwrapped, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-busy error, got %d", attempts)
	}
}
