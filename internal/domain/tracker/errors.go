package tracker

import (
	"errors"
	"fmt"
	"time"
)

// ErrEmptyPrompt is returned when a submission carries no prompt text.
var ErrEmptyPrompt = errors.New("prompt is empty")

// RemoteSubmissionError reports a failed task creation.
type RemoteSubmissionError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *RemoteSubmissionError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("submit task: status %d: %v", e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("submit task: %v", e.Err)
	default:
		return fmt.Sprintf("submit task: status %d: %s", e.StatusCode, e.Body)
	}
}

func (e *RemoteSubmissionError) Unwrap() error { return e.Err }

// HTTPStatus exposes the remote status code for error classification.
func (e *RemoteSubmissionError) HTTPStatus() int { return e.StatusCode }

// RemoteQueryError reports a failed status query. It is absorbed per tick.
type RemoteQueryError struct {
	TaskID     string
	StatusCode int
	Err        error
}

func (e *RemoteQueryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("query task %s: status %d: %v", e.TaskID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("query task %s: %v", e.TaskID, e.Err)
}

func (e *RemoteQueryError) Unwrap() error { return e.Err }

// HTTPStatus exposes the remote status code for error classification.
func (e *RemoteQueryError) HTTPStatus() int { return e.StatusCode }

// TaskFailedError is the terminal error of a run whose remote task failed.
type TaskFailedError struct {
	TaskID string
	Reason string
}

func (e *TaskFailedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("task %s failed", e.TaskID)
	}
	return fmt.Sprintf("task %s failed: %s", e.TaskID, e.Reason)
}

// ConvergenceTimeoutError is the terminal error of a run that exhausted its budget.
type ConvergenceTimeoutError struct {
	Elapsed time.Duration
	Ticks   int
	Reason  string
}

func (e *ConvergenceTimeoutError) Error() string {
	return fmt.Sprintf("no convergence after %d ticks (%s): %s", e.Ticks, e.Elapsed.Round(time.Millisecond), e.Reason)
}
