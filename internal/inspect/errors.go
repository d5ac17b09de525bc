package inspect

import (
	"errors"
	"fmt"
)

// ValidationError reports a payload or parameter the service cannot work
// with. The message is the underlying cause, unchanged.
type ValidationError struct {
	Op  string
	Err error
}

func (e *ValidationError) Error() string {
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err carries a ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func invalid(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsValidation(err) {
		return err
	}
	return &ValidationError{Op: op, Err: err}
}

func invalidf(op, format string, args ...interface{}) error {
	return &ValidationError{Op: op, Err: fmt.Errorf(format, args...)}
}
