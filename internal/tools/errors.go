package tools

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a namespaced tool name is malformed or names
// a tool which is not in the published catalog.
var ErrNotFound = errors.New("tool not found")

// ExecutionError is a failure reported by the tool server itself.
type ExecutionError struct {
	Tool    string
	Message string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool '%v' reported an error: %v", e.Tool, e.Message)
}

// CallError ties any failure of a dispatched call to the id of the call.
type CallError struct {
	CallID string
	Err    error
}

func (e *CallError) Error() string {
	return e.Err.Error()
}

func (e *CallError) Unwrap() error {
	return e.Err
}
