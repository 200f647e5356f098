package pubsched

import (
	"errors"
	"strings"
)

var (
	ErrMissingField      = errors.New("pubsched: missing required field")
	ErrInvalidSchedule   = errors.New("pubsched: scheduled time must be in the future")
	ErrDuplicateSlug     = errors.New("pubsched: a post with this URL slug already exists")
	ErrNotFound          = errors.New("pubsched: scheduled post not found")
	ErrMissingTemplate   = errors.New("pubsched: post template unavailable")
	ErrWriteError        = errors.New("pubsched: write failed")
	ErrDeliveryError     = errors.New("pubsched: newsletter delivery failed")
	ErrPublishInProgress = errors.New("pubsched: publish run already in progress")
)

// FieldError lists the required fields absent from a schedule request.
type FieldError struct {
	Fields []string
}

func (e *FieldError) Error() string {
	return "Missing required fields: " + strings.Join(e.Fields, ", ")
}

// Is lets errors.Is(err, ErrMissingField) match a *FieldError.
func (e *FieldError) Is(target error) bool {
	return target == ErrMissingField
}

// IsValidation reports whether err is one of the synchronous validation
// kinds surfaced to schedule callers.
func IsValidation(err error) bool {
	return errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidSchedule) ||
		errors.Is(err, ErrDuplicateSlug)
}
