package transport

import (
	"errors"
	"fmt"
)

var ErrNotConfigured = errors.New("embed settings lack base-api-url or embed-id")

// NetworkError means the embed API could not be reached or the response body
// could not be read.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError means the embed API answered but refused the request.
type ServerError struct {
	Op      string
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: server error: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: server error %d: %s", e.Op, e.Status, e.Message)
}
