package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthenticated is returned when a call needs a token and none is set.
var ErrUnauthenticated = errors.New("not logged in")

// NetworkError means the request failed, timed out, or came back unusable.
// The fetch is safe to retry.
type NetworkError struct {
	Op     string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RejectedError is an explicit failure reported by the server. Message is
// shown to the user as-is. Status is the HTTP status it came with, or zero
// when the server reported the failure in a 2xx body.
type RejectedError struct {
	Status  int
	Message string
}

func (e *RejectedError) Error() string { return e.Message }

// IsRejected reports whether err carries a server-provided failure message.
func IsRejected(err error) bool {
	var r *RejectedError
	return errors.As(err, &r)
}

// IsUnauthorized reports whether the server refused the bearer token, with
// or without a message envelope.
func IsUnauthorized(err error) bool {
	var n *NetworkError
	if errors.As(err, &n) {
		return n.Status == http.StatusUnauthorized
	}
	var r *RejectedError
	return errors.As(err, &r) && r.Status == http.StatusUnauthorized
}

// Message returns the server-provided text for a rejection, or err.Error().
func Message(err error) string {
	var r *RejectedError
	if errors.As(err, &r) {
		return r.Message
	}
	return err.Error()
}

// IsNetwork reports whether err is a transport-level failure.
func IsNetwork(err error) bool {
	var n *NetworkError
	return errors.As(err, &n)
}
