package engine

import (
	"errors"
	"fmt"
)

// ErrTimeout is the Result error of an execution abandoned at its deadline.
var ErrTimeout = errors.New("task execution timed out")

// PanicError is the Result error of a task whose Run panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// IsPanic reports whether err came from a recovered panic.
func IsPanic(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}
