package client

import (
	"errors"
	"fmt"
)

var (
	// ErrDaemonNotRunning is returned when nothing listens on the daemon address
	ErrDaemonNotRunning = errors.New("daemon not running")

	// ErrNotFound is returned when 404 is returned from the daemon
	ErrNotFound = errors.New("404 not found")
)

// StatusError is any other non-2xx reply.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("got %d", e.Code)
	}
	return fmt.Sprintf("got %d: %s", e.Code, e.Message)
}
