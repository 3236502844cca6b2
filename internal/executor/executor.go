// Package executor defines the domain types shared by every code execution backend:
// the request a caller submits, the result it gets back, and the language profiles
// used to turn source text into a container command line.
package executor

import (
	"context"
	"math"
	"time"
)

// ErrorExecutionID is the execution_id carried by every error-shaped result.
const ErrorExecutionID = "error"

// ExecutionRequest represents a request to execute user code.
//
// Timeout is optional: zero means "use the configured default".
// Stdin is accepted but not forwarded to the container.
type ExecutionRequest struct {
	Language Language
	Code     string
	Timeout  time.Duration
	Stdin    *string
}

// ExecutionResult represents the output and status of the code execution.
//
// Duration is wall-clock seconds measured from container start until the
// wait/timeout race settles.
type ExecutionResult struct {
	ExecutionID string  `json:"execution_id"`
	Stdout      string  `json:"stdout"`
	Stderr      string  `json:"stderr"`
	ExitCode    int64   `json:"exit_code"`
	Duration    float64 `json:"duration"`
	TimedOut    bool    `json:"timed_out"`
}

// TimeoutSeconds converts a client-supplied timeout in whole seconds.
// Zero selects the default timeout; values too large for a Duration
// saturate instead of wrapping negative.
func TimeoutSeconds(n uint64) time.Duration {
	if n > uint64(math.MaxInt64/int64(time.Second)) {
		return math.MaxInt64
	}
	return time.Duration(n) * time.Second
}

// ErrorResult builds the result-shaped error returned for any failure that
// happens before a container produced output.
func ErrorResult(message string) *ExecutionResult {
	return &ExecutionResult{
		ExecutionID: ErrorExecutionID,
		Stdout:      "",
		Stderr:      message,
		ExitCode:    -1,
		Duration:    0,
		TimedOut:    false,
	}
}

// Shape folds an execution error into an error-shaped result so callers
// always have a result to render.
func Shape(res *ExecutionResult, err error) *ExecutionResult {
	if err != nil {
		return ErrorResult(err.Error())
	}
	if res == nil {
		return ErrorResult("execution produced no result")
	}
	return res
}

// IsError reports whether r is an error-shaped result.
func (r *ExecutionResult) IsError() bool {
	return r.ExecutionID == ErrorExecutionID
}

// Executor represents the core interface for running code in an isolated environment.
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}
