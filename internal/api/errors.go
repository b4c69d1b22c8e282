package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mrsinham/dicomfix/internal/batch"
	"github.com/mrsinham/dicomfix/internal/geometry"
)

// Error kinds that exist only at the HTTP layer.
const (
	kindBadRequest = "BadRequest"
	kindTooLarge   = "TooLarge"
	kindCanceled   = "Canceled"
)

// statusClientClosed answers a request whose client went away before the
// response was ready.
const statusClientClosed = 499

// requestError is a malformed request: a missing upload or a bad query parameter.
type requestError struct {
	msg string
	err error
}

func (e *requestError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *requestError) Unwrap() error {
	return e.err
}

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error    string `json:"error"`
	Message  string `json:"message"`
	Expected *int   `json:"expected,omitempty"`
	Actual   *int   `json:"actual,omitempty"`
}

// writeJSON is a small helper to send JSON responses with status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// classify maps err to its HTTP status and error kind.
func classify(err error) (int, string) {
	var reqErr *requestError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, kindTooLarge
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, kindBadRequest
	case errors.Is(err, context.Canceled):
		return statusClientClosed, kindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, kindCanceled
	}

	switch kind := batch.ErrorKind(err); kind {
	case batch.KindValidationError, batch.KindFormatError:
		return http.StatusUnprocessableEntity, kind
	case batch.KindArchiveError:
		return http.StatusBadRequest, kind
	default:
		return http.StatusInternalServerError, batch.KindInternalError
	}
}

func errorResponse(err error) (int, errorBody) {
	status, kind := classify(err)
	body := errorBody{Error: kind, Message: err.Error()}
	var mismatch *geometry.SizeMismatchError
	if errors.As(err, &mismatch) {
		body.Expected = &mismatch.Expected
		body.Actual = &mismatch.Actual
	}
	return status, body
}
