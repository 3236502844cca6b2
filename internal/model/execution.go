// Package model defines the data structures persisted by the service.
package model

import "time"

// Execution is one completed execution as stored in the history.
//
// ID is the storage key; ExecutionID is the identifier returned to the
// caller and embedded in the container name.
type Execution struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id"`
	Language    string    `json:"language"`
	ExitCode    int64     `json:"exit_code"`
	TimedOut    bool      `json:"timed_out"`
	Duration    float64   `json:"duration"`
	Stdout      string    `json:"stdout"`
	Stderr      string    `json:"stderr"`
	CreatedAt   time.Time `json:"created_at"`
}
