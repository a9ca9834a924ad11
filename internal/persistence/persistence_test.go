package persistence

import (
	"context"
	"errors"
	"testing"
)

func TestRetryBudgetSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	want := "ok"
	got, err := retryBudget(context.Background(), 2, func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("transient")
		}
		return want, nil
	})
	if err != nil {
		t.Fatalf("retryBudget: %v", err)
	}
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3 (1 initial + 2 retries)", attempts)
	}
}

func TestRetryBudgetGivesUpAfterBudgetExhausted(t *testing.T) {
	attempts := 0
	_, err := retryBudget(context.Background(), 1, func() (string, error) {
		attempts++
		return "", errors.New("persistent failure")
	})
	if err == nil {
		t.Fatal("expected an error once the retry budget is exhausted")
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2 (1 initial + 1 retry)", attempts)
	}
}
