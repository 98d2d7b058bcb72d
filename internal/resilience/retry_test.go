package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry_SucceedsWithoutRetryOnFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryConfig{}, func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetry_RetriesExactlyOnceOnFailure(t *testing.T) {
	calls := 0
	want := errors.New("transient")
	err := Retry(context.Background(), RetryConfig{BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		if calls == 1 {
			return want
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestRetry_ReturnsSecondAttemptErrorAfterBothFail(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryConfig{BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return errors.New("attempt failed")
	})
	if err == nil {
		t.Fatal("expected an error after both attempts fail")
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2 (no retry storm)", calls)
	}
}

func TestRetry_AbortsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	cancel()
	err := Retry(ctx, RetryConfig{BaseDelay: time.Second}, func(context.Context) error {
		calls++
		return errors.New("down")
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want wrapped context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (retry should not happen once ctx is done)", calls)
	}
}
