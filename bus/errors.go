package bus

import (
	"errors"
	"fmt"
)

// ErrLoopClosed is returned by Loop.Call after Close.
var ErrLoopClosed = errors.New("bus: loop closed")

// ErrActionNotFound is returned when no handler is registered for an action.
type ErrActionNotFound struct {
	Action string
}

func (e *ErrActionNotFound) Error() string {
	return fmt.Sprintf("bus: no handler for action %q", e.Action)
}

// ErrRemoteStatus is returned by HTTP transports on a non-2xx response.
type ErrRemoteStatus struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *ErrRemoteStatus) Error() string {
	return fmt.Sprintf("bus: remote %s: status %d: %s", e.Endpoint, e.Status, e.Body)
}

// ErrPanic wraps a recovered panic value.
type ErrPanic struct {
	Value any
}

func (e *ErrPanic) Error() string {
	return fmt.Sprintf("bus: handler panicked: %v", e.Value)
}
