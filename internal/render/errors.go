package render

import (
	"errors"
	"fmt"
)

// ErrTimeout is returned when a job does not settle within the polling budget
var ErrTimeout = errors.New("render job did not finish within the polling budget")

// SubmitRejectedError is returned when the provider refuses a job
type SubmitRejectedError struct {
	StatusCode int
	Message    string
	Cause      error
}

func (e *SubmitRejectedError) Error() string {
	msg := fmt.Sprintf("render submit rejected: %s", e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("render submit rejected (HTTP %d): %s", e.StatusCode, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *SubmitRejectedError) Unwrap() error {
	return e.Cause
}

// RenderFailedError is returned when the provider reports a job as failed
type RenderFailedError struct {
	JobID   string
	Message string
}

func (e *RenderFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("render job %s failed", e.JobID)
	}
	return fmt.Sprintf("render job %s failed: %s", e.JobID, e.Message)
}
