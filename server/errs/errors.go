package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind is the closed classification taxonomy. Every failure surfaced to a
// caller maps to exactly one kind.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindAuthentication
	KindValidation
	KindServer
	KindOffline
	KindInvitationExpired
	KindInvitationUsed
	KindUserNotFound
	KindChatNotFound
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuthentication:
		return "authentication"
	case KindValidation:
		return "validation"
	case KindServer:
		return "server"
	case KindOffline:
		return "offline"
	case KindInvitationExpired:
		return "invitation_expired"
	case KindInvitationUsed:
		return "invitation_used"
	case KindUserNotFound:
		return "user_not_found"
	case KindChatNotFound:
		return "chat_not_found"
	case KindUnknown:
		return "unknown"
	}
	return "unknown"
}

// Sentinels wrapped by repositories so Classify can recover the kind.
var (
	ErrOffline           = errors.New("device is offline")
	ErrUnauthorized      = errors.New("authentication required")
	ErrValidation        = errors.New("invalid input")
	ErrUserNotFound      = errors.New("user not found")
	ErrChatNotFound      = errors.New("chat not found")
	ErrMessageNotFound   = errors.New("message not found")
	ErrInvitationMissing = errors.New("invitation not found")
	ErrInvitationExpired = errors.New("invitation expired")
	ErrInvitationUsed    = errors.New("invitation already used")
	ErrInvitationRevoked = errors.New("invitation revoked")
)

// StatusError marks a remote HTTP failure with its status code.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote returned status %d", e.Code)
}

// AppError is a classified failure: what happened, whether a retry can help,
// and the action label the UI should put on its button.
type AppError struct {
	Kind    Kind
	Code    int
	Context string
	Message string
	Retry   bool
	Action  string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Classify maps an arbitrary failure onto the taxonomy. The context string
// ("chat", "login", "registration", "invitation", ...) selects among
// human-readable message variants for the same kind.
func Classify(err error, ctx string) *AppError {
	kind, code := kindOf(err)
	retry := canRetry(kind, code)
	return &AppError{
		Kind:    kind,
		Code:    code,
		Context: ctx,
		Message: messageFor(kind, ctx),
		Retry:   retry,
		Action:  actionFor(kind, retry),
		Cause:   err,
	}
}

func kindOf(err error) (Kind, int) {
	var app *AppError
	if errors.As(err, &app) {
		return app.Kind, app.Code
	}
	var status *StatusError
	switch {
	case errors.Is(err, ErrOffline):
		return KindOffline, 0
	case errors.Is(err, ErrUnauthorized):
		return KindAuthentication, 0
	case errors.Is(err, ErrValidation):
		return KindValidation, 0
	case errors.Is(err, ErrUserNotFound):
		return KindUserNotFound, 0
	case errors.Is(err, ErrChatNotFound), errors.Is(err, ErrMessageNotFound):
		return KindChatNotFound, 0
	case errors.Is(err, ErrInvitationExpired):
		return KindInvitationExpired, 0
	case errors.Is(err, ErrInvitationUsed), errors.Is(err, ErrInvitationRevoked), errors.Is(err, ErrInvitationMissing):
		return KindInvitationUsed, 0
	case errors.As(err, &status):
		return KindServer, status.Code
	case isNetworkError(err):
		return KindNetwork, 0
	}
	return KindUnknown, 0
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// canRetry is true only for transient kinds: network blips, 5xx responses,
// and failures we could not classify.
func canRetry(kind Kind, code int) bool {
	switch kind {
	case KindNetwork, KindUnknown:
		return true
	case KindServer:
		return code >= 500
	case KindAuthentication, KindValidation, KindOffline,
		KindInvitationExpired, KindInvitationUsed,
		KindUserNotFound, KindChatNotFound:
		return false
	}
	return false
}

func messageFor(kind Kind, ctx string) string {
	switch kind {
	case KindNetwork:
		if ctx == "chat" {
			return "Messages can't be sent right now. Check your connection."
		}
		return "A network problem interrupted the request. Check your connection."
	case KindAuthentication:
		if ctx == "registration" {
			return "We couldn't create your account. Please sign in again."
		}
		return "Your session has expired. Please sign in again."
	case KindValidation:
		if ctx == "registration" {
			return "Some registration details look invalid. Please review them."
		}
		return "Some of the entered details look invalid. Please review them."
	case KindServer:
		return "The service is having trouble. Please try again shortly."
	case KindOffline:
		if ctx == "chat" {
			return "You're offline. Messages will be delivered when you reconnect."
		}
		return "You're offline. Changes will sync when you reconnect."
	case KindInvitationExpired:
		return "This invitation link has expired. Ask your carer for a new one."
	case KindInvitationUsed:
		return "This invitation link is no longer active."
	case KindUserNotFound:
		return "We couldn't find that account."
	case KindChatNotFound:
		return "That conversation no longer exists."
	case KindUnknown:
		return "Something went wrong. Please try again."
	}
	return "Something went wrong. Please try again."
}

func actionFor(kind Kind, retry bool) string {
	switch {
	case kind == KindAuthentication:
		return "Sign In Again"
	case kind == KindValidation:
		return "Fix Input"
	case kind == KindInvitationExpired, kind == KindInvitationUsed:
		return "Request New Invite"
	case retry:
		return "Retry"
	}
	return "Dismiss"
}
