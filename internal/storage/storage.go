package storage

import (
	"context"
	"errors"
	"time"
)

// RunStatus represents the lifecycle state of a recorded run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// ErrNotFound is returned when no run matches an ID or prefix.
var ErrNotFound = errors.New("run not found")

// Run is the history record of one pipeline run.
type Run struct {
	ID          string    `json:"id"`
	Status      RunStatus `json:"status"`
	State       string    `json:"state"`
	Instruction string    `json:"instruction"`
	Command     string    `json:"command"`
	ExitCode    *int      `json:"exit_code,omitempty"` // nil until the command ran
	Output      string    `json:"output"`
	Explanation string    `json:"explanation"`
	Error       string    `json:"error,omitempty"`
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	Image       string    `json:"image"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RunListOptions controls filtering and pagination for ListRuns.
type RunListOptions struct {
	Status RunStatus
	Limit  int
	Offset int
}

// Store is the persistence interface for run history.
type Store interface {
	// CreateRun inserts a new run. The ID field must be set by the caller.
	CreateRun(ctx context.Context, r *Run) error

	// GetRun returns a run by ID or unique ID prefix.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns runs ordered by updated_at descending.
	ListRuns(ctx context.Context, opts RunListOptions) ([]Run, error)

	// UpdateRun overwrites every mutable field and bumps updated_at.
	UpdateRun(ctx context.Context, r *Run) error

	// DeleteRun removes a run by ID or unique ID prefix.
	DeleteRun(ctx context.Context, id string) error

	// Close releases resources.
	Close() error
}
