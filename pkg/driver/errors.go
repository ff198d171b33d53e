package driver

import "errors"

// Error is a constant driver error.
type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	ErrNotConnected      = Error("not connected")
	ErrAlreadyConnected  = Error("already connected")
	ErrNotInitialized    = Error("analog input not initialized")
	ErrConversionTimeout = Error("conversion did not complete")
	ErrTimeout           = Error("timed out waiting for device")
	ErrOutputFault       = Error("pwm output fault")
)

// DriverError is a peripheral-level failure of a single driver operation.
type DriverError struct {
	Op  string
	Err error
}

func (e *DriverError) Error() string {
	return "driver: " + e.Op + ": " + e.Err.Error()
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// Wrap annotates err with the failed operation unless it already is a DriverError.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *DriverError
	if errors.As(err, &de) {
		return err
	}
	return &DriverError{Op: op, Err: err}
}
