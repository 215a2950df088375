package nifi

import (
	"errors"
	"net/http"

	cerrors "cdcflow/internal/errors"
)

// RequestError is a non-2xx answer from nifi. Its cause is
// ErrRemoteRequestFailed, so both ErrRemoteRequestFailed.Equal and
// errors.Is see through it.
type RequestError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string

	err error
}

func newRequestError(method, url string, status int, body string) *RequestError {
	return &RequestError{
		Method:     method,
		URL:        url,
		StatusCode: status,
		Body:       body,
		err:        cerrors.ErrRemoteRequestFailed.GenWithStackByArgs(method, url, status, body),
	}
}

func (e *RequestError) Error() string { return e.err.Error() }

func (e *RequestError) Cause() error { return e.err }

func (e *RequestError) Unwrap() error { return e.err }

// StatusCode returns the HTTP status carried by err, or 0 when err is not
// a nifi answer.
func StatusCode(err error) int {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode
	}
	return 0
}

// IsRevisionConflict reports whether nifi rejected a change for a stale revision.
func IsRevisionConflict(err error) bool {
	return StatusCode(err) == http.StatusConflict
}
