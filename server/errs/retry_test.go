package errs

import (
	"context"
	"testing"
)

func TestHandleWithRetryRetriesTransientFailures(t *testing.T) {
	h := NewHandler()
	defer h.Close()

	attempts := 0
	err := h.HandleWithRetry(context.Background(), "chat", func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return &StatusError{Code: 502}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestHandleWithRetryStopsAtBound(t *testing.T) {
	h := NewHandler()
	defer h.Close()

	attempts := 0
	err := h.HandleWithRetry(context.Background(), "chat", func(ctx context.Context) error {
		attempts++
		return &StatusError{Code: 500}
	})
	if err == nil {
		t.Fatal("expected failure")
	}
	if attempts != maxRetries+1 {
		t.Errorf("attempts = %d, want %d", attempts, maxRetries+1)
	}
}

func TestHandleWithRetryDoesNotRetryTerminalFailures(t *testing.T) {
	h := NewHandler()
	defer h.Close()

	attempts := 0
	err := h.HandleWithRetry(context.Background(), "invitation", func(ctx context.Context) error {
		attempts++
		return ErrInvitationUsed
	})
	if err == nil {
		t.Fatal("expected failure")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	app, ok := err.(*AppError)
	if !ok || app.Kind != KindInvitationUsed {
		t.Errorf("unexpected error %v", err)
	}
}
