// Package sandbox runs untrusted commands inside single-use containers.
//
// The container is the only isolation: commands are executed exactly as
// given, with no filtering, timeout or rate limit applied here.
package sandbox

import "context"

// Container is a handle to a provisioned, running sandbox instance.
// It is owned by the run that provisioned it.
type Container struct {
	ID    string
	Image string
}

// ExecResult is the output of a sandboxed execution. A non-zero ExitCode
// is a normal result, not a failure.
type ExecResult struct {
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output"` // stdout and stderr combined
}

// Sandbox provisions isolated environments and runs commands in them.
type Sandbox interface {
	// Provision starts a container from image and blocks until it is running.
	Provision(ctx context.Context, image string) (*Container, error)

	// Exec runs command inside c and waits for it to finish.
	Exec(ctx context.Context, c *Container, command string) (*ExecResult, error)

	// Remove stops and deletes c.
	Remove(ctx context.Context, c *Container) error
}
