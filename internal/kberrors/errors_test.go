package kberrors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/kbengine/kbengine/internal/kberrors"
)

func TestSentinels_AreDistinctAndWrappable(t *testing.T) {
	sentinels := []error{
		kberrors.Busy, kberrors.NotFound, kberrors.Integrity,
		kberrors.Validation, kberrors.Transport, kberrors.AuthFailure, kberrors.Fatal,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				continue
			}
			if errors.Is(a, b) {
				t.Fatalf("sentinels %v and %v must be distinct", a, b)
			}
		}
	}

	wrapped := fmt.Errorf("resolve conflict abc123: %w", kberrors.NotFound)
	if !errors.Is(wrapped, kberrors.NotFound) {
		t.Fatal("expected errors.Is to see through fmt.Errorf wrapping")
	}
	if !kberrors.Is(wrapped, kberrors.NotFound) {
		t.Fatal("expected kberrors.Is to match the stdlib contract")
	}
}
