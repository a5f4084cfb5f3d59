package httpx

import (
	"errors"
	"net/http"
)

// Error classes understood by RespondError.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")
)

type classified struct {
	class error
	err   error
}

func (c classified) Error() string   { return c.err.Error() }
func (c classified) Unwrap() []error { return []error{c.class, c.err} }

// Classify tags err with one of the error classes while keeping err's message
// as the user-facing text.
func Classify(class, err error) error {
	if err == nil {
		return nil
	}
	return classified{class: class, err: err}
}

// RespondError maps classified errors to HTTP failure envelopes. Unclassified
// errors become a generic 500 so internal details never reach the client.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		Fail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		Fail(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConflict):
		Fail(w, http.StatusConflict, err.Error())
	default:
		Fail(w, http.StatusInternalServerError, "internal server error")
	}
}
