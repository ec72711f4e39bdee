package imu

import (
	"errors"
	"fmt"
)

var (
	// ErrSensorUnavailable matches every *UnavailableError. The condition is
	// recoverable: a later call may succeed once the hardware responds.
	ErrSensorUnavailable = errors.New("sensor unavailable")

	// ErrUnexpected matches every *UnexpectedError. These are faults the driver
	// does not know how to recover from, such as a malformed configuration.
	ErrUnexpected = errors.New("unexpected sensor error")
)

// UnavailableError reports that the sensor is not initialized, could not be
// initialized, or failed its last transaction.
type UnavailableError struct {
	Detail string
	Cause  error
}

func (e *UnavailableError) Error() string {
	if e.Cause == nil {
		return e.Detail
	}
	return fmt.Sprintf("%s: %v", e.Detail, e.Cause)
}

func (e *UnavailableError) Unwrap() error { return e.Cause }

func (e *UnavailableError) Is(target error) bool { return target == ErrSensorUnavailable }

// UnexpectedError wraps a fault that is neither a hardware absence nor a bus
// error.
type UnexpectedError struct {
	Op    string
	Cause error
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("unexpected error during %s: %v", e.Op, e.Cause)
}

func (e *UnexpectedError) Unwrap() error { return e.Cause }

func (e *UnexpectedError) Is(target error) bool { return target == ErrUnexpected }
