package users

import (
	"fmt"

	"github.com/filingdesk/filingdesk/internal/platform/httpx"
)

// ErrUserNotFound is returned when no account matches.
var ErrUserNotFound = fmt.Errorf("%w: user", httpx.ErrNotFound)

// DuplicateError reports a registration clashing with an existing account.
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s is already registered", e.Field)
}

// Unwrap lets errors.Is match httpx.ErrDuplicate.
func (e *DuplicateError) Unwrap() error { return httpx.ErrDuplicate }

// FieldErrors exposes the clashing field to the problem responder.
func (e *DuplicateError) FieldErrors() map[string]string {
	return map[string]string{e.Field: "is already registered"}
}
