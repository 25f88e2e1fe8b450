package common

import (
	"errors"
	"fmt"

	"xsell/logger"
)

func NewErrorf(format string, a ...any) error {
	msg := fmt.Sprintf(format, a...)
	return errors.New(msg)
}

func NewError(a ...any) error {
	msg := fmt.Sprintln(a...)
	return errors.New(msg)
}

// fatalError marks a failure no amount of retrying can heal, such as a
// malformed task payload or an unknown plan.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }

func (e *fatalError) Unwrap() error { return e.err }

// Fatal wraps err so IsFatal reports true for it.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

func NewFatalErrorf(format string, a ...any) error {
	return Fatal(NewErrorf(format, a...))
}

func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}

func Recover(msg string) any {
	panicErr := recover()
	if panicErr != nil {
		if msg != "" {
			logger.Error(msg, "panic:", panicErr)
		}
	}
	return panicErr
}
