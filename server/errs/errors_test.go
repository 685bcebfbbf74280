package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassifyKinds(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind Kind
	}{
		{"offline", fmt.Errorf("send: %w", ErrOffline), KindOffline},
		{"auth", ErrUnauthorized, KindAuthentication},
		{"validation", ErrValidation, KindValidation},
		{"user missing", fmt.Errorf("lookup: %w", ErrUserNotFound), KindUserNotFound},
		{"chat missing", ErrChatNotFound, KindChatNotFound},
		{"invite expired", ErrInvitationExpired, KindInvitationExpired},
		{"invite used", ErrInvitationUsed, KindInvitationUsed},
		{"invite revoked", ErrInvitationRevoked, KindInvitationUsed},
		{"server", &StatusError{Code: 503}, KindServer},
		{"timeout", context.DeadlineExceeded, KindNetwork},
		{"unknown", errors.New("boom"), KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := Classify(tc.err, "chat")
			if app.Kind != tc.kind {
				t.Errorf("kind = %s, want %s", app.Kind, tc.kind)
			}
		})
	}
}

func TestRetryEligibility(t *testing.T) {
	if !Classify(context.DeadlineExceeded, "chat").Retry {
		t.Error("network errors should be retryable")
	}
	if !Classify(&StatusError{Code: 500}, "chat").Retry {
		t.Error("5xx should be retryable")
	}
	if Classify(&StatusError{Code: 400}, "chat").Retry {
		t.Error("4xx should not be retryable")
	}
	if Classify(ErrOffline, "chat").Retry {
		t.Error("offline should not be retryable")
	}
	if Classify(ErrInvitationExpired, "invitation").Retry {
		t.Error("expired invitation should not be retryable")
	}
	if !Classify(errors.New("mystery"), "chat").Retry {
		t.Error("unknown errors should be retryable")
	}
}

func TestActionLabels(t *testing.T) {
	if got := Classify(ErrUnauthorized, "login").Action; got != "Sign In Again" {
		t.Errorf("auth action = %q", got)
	}
	if got := Classify(ErrValidation, "registration").Action; got != "Fix Input" {
		t.Errorf("validation action = %q", got)
	}
	if got := Classify(context.DeadlineExceeded, "chat").Action; got != "Retry" {
		t.Errorf("network action = %q", got)
	}
}

func TestContextSelectsMessageVariant(t *testing.T) {
	chat := Classify(ErrOffline, "chat").Message
	generic := Classify(ErrOffline, "settings").Message
	if chat == generic {
		t.Error("expected context-specific offline message for chat")
	}
}

func TestHandlerBroadcastsToSubscribers(t *testing.T) {
	h := NewHandler()
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := h.Subscribe(ctx)

	h.Report(ErrChatNotFound, "chat")
	sig := <-ch
	if sig.Kind != SignalError || sig.Error == nil || sig.Error.Kind != KindChatNotFound {
		t.Errorf("unexpected signal %+v", sig)
	}

	h.Cleared()
	sig = <-ch
	if sig.Kind != SignalCleared {
		t.Errorf("expected cleared signal, got %+v", sig)
	}
}
