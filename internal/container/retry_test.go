// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryWithBackoffSucceedsFirstTry(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := RetryWithBackoff(context.Background(), 3, time.Millisecond, func(int) (bool, error) {
		attempts++
		return false, nil
	})
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryWithBackoffRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := RetryWithBackoff(context.Background(), 5, time.Millisecond, func(int) (bool, error) {
		attempts++
		if attempts < 3 {
			return true, errors.New("not ready")
		}
		return false, nil
	})
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryWithBackoffPermanentFailureStops(t *testing.T) {
	t.Parallel()

	permanent := errors.New("permanent")
	attempts := 0
	err := RetryWithBackoff(context.Background(), 5, time.Millisecond, func(int) (bool, error) {
		attempts++
		return false, permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("error = %v, want the permanent error", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryWithBackoffExhaustionReturnsLastError(t *testing.T) {
	t.Parallel()

	last := errors.New("still failing")
	err := RetryWithBackoff(context.Background(), 3, time.Millisecond, func(int) (bool, error) {
		return true, last
	})
	if !errors.Is(err, last) {
		t.Fatalf("error = %v, want the last error", err)
	}
}

func TestRetryWithBackoffHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := RetryWithBackoff(ctx, 10, time.Millisecond, func(int) (bool, error) {
		attempts++
		cancel()
		return true, errors.New("flaky")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}
