// Package services defines the business logic for conversations, messages
// and the inbox read model. This file centralizes common service-level error
// values so that they can be consistently returned by service methods and
// checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed
// at the handler and gateway layers.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/tbourn/go-jobboard-chat/internal/repo"
)

var (
	// ErrConversationNotFound indicates that the conversation does not exist
	// or that the principal is not one of its participants.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrValidation is the parent of every input validation failure. Such
	// errors are returned before any store access.
	ErrValidation = errors.New("validation failed")

	// ErrEmptyContent is returned when a message has no content.
	ErrEmptyContent = fmt.Errorf("%w: content is empty", ErrValidation)

	// ErrContentTooLong is returned when a message exceeds MaxContentRunes.
	ErrContentTooLong = fmt.Errorf("%w: content too long", ErrValidation)

	// ErrInvalidPrincipal is returned when the acting principal has no kind or id.
	ErrInvalidPrincipal = fmt.Errorf("%w: invalid principal", ErrValidation)

	// ErrInvalidID is returned for blank or oversized identifiers.
	ErrInvalidID = fmt.Errorf("%w: invalid id", ErrValidation)

	// ErrInvalidStatus is returned for blank or oversized status labels.
	ErrInvalidStatus = fmt.Errorf("%w: invalid status", ErrValidation)

	// ErrForbidden is returned when a principal tries to open a pairing it
	// is not part of.
	ErrForbidden = errors.New("forbidden")

	// ErrStoreUnavailable wraps infrastructure failures of the relational
	// store. Callers decide whether to retry.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// storeErr classifies a repository error: not-found becomes
// ErrConversationNotFound, cancellation is passed through, everything else
// is wrapped in ErrStoreUnavailable while keeping the cause inspectable.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repo.ErrNotFound):
		return ErrConversationNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
}
