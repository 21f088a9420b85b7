package agents

import (
	"errors"
	"fmt"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/types"
)

// Failure kinds reported by the invoker. Match them with errors.Is.
var (
	// ErrServiceFailure covers transport errors and non-success replies from the generation service
	ErrServiceFailure = errors.New("generation service failure")
	// ErrMalformedResponse covers replies that are not JSON or violate the stage schema
	ErrMalformedResponse = errors.New("malformed agent response")
	// ErrTruncated covers replies cut off at the output token limit
	ErrTruncated = errors.New("agent response truncated")
	// ErrMissingInput covers calls made without the image or prior results a stage reads
	ErrMissingInput = errors.New("missing agent input")
)

// InvocationError reports a failed stage agent call
type InvocationError struct {
	Stage types.Stage
	Kind  error
	Cause error
}

func (e *InvocationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s agent: %v: %v", e.Stage, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s agent: %v", e.Stage, e.Kind)
}

func (e *InvocationError) Unwrap() error {
	return e.Cause
}

// Is matches the failure kind so callers can test errors.Is(err, ErrTruncated)
func (e *InvocationError) Is(target error) bool {
	return target == e.Kind
}

// MissingPriorError is returned when a stage is invoked without the results it reads
type MissingPriorError struct {
	Stage types.Stage
	Need  types.Stage
}

func (e *MissingPriorError) Error() string {
	return fmt.Sprintf("%s agent requires the %s result", e.Stage, e.Need)
}
