package gateway

import (
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrUnauthenticated is returned when no identity is signed in at call
	// time, or the identity could not mint a token. No request is sent.
	ErrUnauthenticated = errors.New("user is not authenticated")

	// ErrTransport wraps failures where the call never reached the backend
	// or no response came back.
	ErrTransport = errors.New("backend not reachable")

	// ErrHTTP matches every *HTTPError.
	ErrHTTP = errors.New("backend returned an error status")

	// ErrMalformedResponse is returned when a response declared as JSON does
	// not parse.
	ErrMalformedResponse = errors.New("malformed response")
)

const (
	unknownErrorMessage    = "An unknown error occurred"
	unauthenticatedMessage = "User is not authenticated"
)

// HTTPError is a non-2xx response.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string { return e.Message }

func (e *HTTPError) Is(target error) bool { return target == ErrHTTP }

// newHTTPError picks the message from the body text, then the status text,
// then a generic fallback.
func newHTTPError(status int, body []byte) *HTTPError {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	if msg == "" {
		msg = unknownErrorMessage
	}
	return &HTTPError{Status: status, Message: msg}
}

// Message returns the text to show a user for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Message
	}
	if errors.Is(err, ErrUnauthenticated) {
		return unauthenticatedMessage
	}
	return err.Error()
}
