package sandbox

import (
	"slices"
	"time"
)

// Policy defines resource limits for sandbox containers.
type Policy struct {
	MaxMemory    string        // Docker memory limit (e.g. "256m"); empty means unlimited
	Network      bool          // Whether network access is allowed
	Images       []string      // Allowed Docker images; empty allows any
	Shell        string        // If set, commands run as `<shell> -c <command>`
	StartTimeout time.Duration // How long Provision waits for the container to run
	PollInterval time.Duration // How often Provision checks container state
}

// DefaultPolicy returns the defaults used when no config overrides them.
func DefaultPolicy() Policy {
	return Policy{
		MaxMemory:    "256m",
		Network:      false,
		StartTimeout: 30 * time.Second,
		PollInterval: 250 * time.Millisecond,
	}
}

// IsImageAllowed checks if an image is on the allowlist.
func (p Policy) IsImageAllowed(image string) bool {
	if image == "" {
		return false
	}
	if len(p.Images) == 0 {
		return true
	}
	return slices.Contains(p.Images, image)
}
