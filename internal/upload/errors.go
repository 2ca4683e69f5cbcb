package upload

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/your-org/reserve/internal/blob"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindPayloadTooLarge
	KindUnauthorized
	KindUnavailable
	KindClassification
	KindPersistence
)

// Error carries a user-facing message and the HTTP status it maps to.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func validationError(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// blobError maps a blob store failure to an upload error.
func blobError(err error) *Error {
	switch {
	case errors.Is(err, blob.ErrPayloadTooLarge):
		return &Error{Kind: KindPayloadTooLarge, Message: "Image is too large.", Err: err}
	case errors.Is(err, blob.ErrValidation):
		return &Error{Kind: KindValidation, Message: "Only jpeg, jpg and png images are allowed.", Err: err}
	default:
		return &Error{Kind: KindInternal, Message: "Failed to store image.", Err: err}
	}
}

// AsError returns err as an *Error, wrapping unknown errors as internal.
func AsError(err error) *Error {
	var ue *Error
	if errors.As(err, &ue) {
		return ue
	}
	return &Error{Kind: KindInternal, Message: "Internal Server Error", Err: err}
}
