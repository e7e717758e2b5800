package types

import (
	"fmt"

	"github.com/juju/errors"
)

const (
	ErrRequiredInput  = errors.ConstError("required input missing")
	ErrInvalidType    = errors.ConstError("invalid type")
	ErrNoMoreElements = errors.ConstError("no more elements")
	ErrHalted         = errors.ConstError("processor halted")
)

var (
	_ error = &ProcessingError{}
	_ error = &BreakpointError{}
)

// NewProcessingError wraps err as the failure of the given node. An error
// that already is a ProcessingError is returned unchanged so that failures
// of nested graphs surface exactly once.
func NewProcessingError(nodeID, nodeName string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return err
	}
	return &ProcessingError{baseError: newBaseErr(err), NodeID: nodeID, NodeName: nodeName}
}

func NewProcessingErrorf(nodeID, nodeName string, format string, args ...interface{}) error {
	return NewProcessingError(nodeID, nodeName, errors.Errorf(format, args...))
}

func NewBreakpointError(nodeID, nodeName string) error {
	return &BreakpointError{&ProcessingError{
		baseError: newBaseErr(errors.Errorf("breakpoint")),
		NodeID:    nodeID,
		NodeName:  nodeName,
	}}
}

// IsBreakpoint reports whether err is a breakpoint signal.
func IsBreakpoint(err error) bool {
	var be *BreakpointError
	return errors.As(err, &be)
}

func newBaseErr(otherErr error) *baseError {
	return &baseError{otherErr}
}

type baseError struct {
	BaseErr error
}

func (e *baseError) Error() string {
	return e.BaseErr.Error()
}

func (e *baseError) Unwrap() error {
	return e.BaseErr
}

// ProcessingError is raised while stepping through a graph. NodeID names the
// node that failed, which may live in a nested graph.
type ProcessingError struct {
	*baseError
	NodeID   string
	NodeName string
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("node %s (%s): %v", e.NodeName, e.NodeID, e.BaseErr)
}

// BreakpointError signals that stepping stopped before a breakpoint node.
// It does not halt the processor.
type BreakpointError struct {
	*ProcessingError
}

func (e *BreakpointError) Error() string {
	return fmt.Sprintf("breakpoint at node %s (%s)", e.NodeName, e.NodeID)
}

// Unwrap exposes the embedded ProcessingError to errors.As.
func (e *BreakpointError) Unwrap() error {
	return e.ProcessingError
}
