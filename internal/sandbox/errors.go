package sandbox

import (
	"errors"
	"fmt"
)

var (
	// ErrProvision matches any ProvisionError via errors.Is.
	ErrProvision = errors.New("sandbox provisioning failed")
	// ErrExecution matches any ExecutionError via errors.Is.
	ErrExecution = errors.New("sandbox execution failed")
)

// ProvisionError reports that an image could not be fetched or an instance
// could not be started.
type ProvisionError struct {
	Image string
	Err   error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provisioning sandbox from %s: %v", e.Image, e.Err)
}

func (e *ProvisionError) Unwrap() error        { return e.Err }
func (e *ProvisionError) Is(target error) bool { return target == ErrProvision }

// ExecutionError reports that a command could not be dispatched at all.
// A command that runs and exits non-zero is not an ExecutionError.
type ExecutionError struct {
	ContainerID string
	Err         error
}

func (e *ExecutionError) Error() string {
	if e.ContainerID == "" {
		return fmt.Sprintf("executing in sandbox: %v", e.Err)
	}
	return fmt.Sprintf("executing in sandbox %s: %v", shortID(e.ContainerID), e.Err)
}

func (e *ExecutionError) Unwrap() error        { return e.Err }
func (e *ExecutionError) Is(target error) bool { return target == ErrExecution }

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
