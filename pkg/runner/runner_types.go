package runner

import "fmt"

// PanicError wraps a panic raised by a unit of work. The transaction was
// rolled back and the session checked in before this error is surfaced.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("unit of work panicked: %v", e.Value)
}
