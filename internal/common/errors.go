// Package common defines shared constants and sentinel errors used across
// the server layers of gophchat. Callers should use errors.Is to match these
// values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorValidation   = errors.New("validation error")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Validation errors. Each wraps ErrorValidation.
var (
	ErrSelfConversation = fmt.Errorf("%w: cannot send messages to yourself", ErrorValidation)
	ErrEmptyMessage     = fmt.Errorf("%w: message must contain text, image or video", ErrorValidation)
	ErrReceiverRequired = fmt.Errorf("%w: receiver id is required", ErrorValidation)
	ErrTargetRequired   = fmt.Errorf("%w: target user id is required", ErrorValidation)
	ErrInvalidUserID    = fmt.Errorf("%w: invalid user id", ErrorValidation)
	ErrUnknownEvent     = fmt.Errorf("%w: unknown event", ErrorValidation)
	ErrMalformedPayload = fmt.Errorf("%w: malformed payload", ErrorValidation)
	ErrRateLimited      = fmt.Errorf("%w: too many events", ErrorValidation)
	ErrUnsupportedMedia = fmt.Errorf("%w: unsupported media kind", ErrorValidation)
)

// Lookup errors. Each wraps ErrorNotFound.
var (
	ErrUserNotFound         = fmt.Errorf("user %w", ErrorNotFound)
	ErrConversationNotFound = fmt.Errorf("conversation %w", ErrorNotFound)
)
