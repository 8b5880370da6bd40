package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/google/uuid"
)

// ManagedLabel marks containers created by DockerSandbox.
const ManagedLabel = "sandcmd.managed=true"

// ProvisionLabel carries a per-Provision token so a container can be found
// and removed even when docker run fails before printing its id.
const ProvisionLabel = "sandcmd.provision"

// KeepAliveCommand holds a container open until it is removed.
var KeepAliveCommand = []string{"sleep", "infinity"}

// DockerSandbox runs commands in long-lived Docker containers driven through
// the docker CLI.
type DockerSandbox struct {
	Policy Policy
	Binary string // docker CLI binary, "docker" by default
	runner CommandRunner
	newTag func() string
}

// NewDockerSandbox creates a sandbox with the given policy.
func NewDockerSandbox(policy Policy) *DockerSandbox {
	return NewDockerSandboxWithRunner(policy, ExecRunner{})
}

// NewDockerSandboxWithRunner creates a sandbox that invokes docker through r.
func NewDockerSandboxWithRunner(policy Policy, r CommandRunner) *DockerSandbox {
	if policy.StartTimeout <= 0 {
		policy.StartTimeout = DefaultPolicy().StartTimeout
	}
	if policy.PollInterval <= 0 {
		policy.PollInterval = DefaultPolicy().PollInterval
	}
	return &DockerSandbox{Policy: policy, Binary: "docker", runner: r, newTag: uuid.NewString}
}

func (d *DockerSandbox) Provision(ctx context.Context, image string) (*Container, error) {
	if !d.Policy.IsImageAllowed(image) {
		return nil, &ProvisionError{Image: image, Err: fmt.Errorf("image %q not in allowlist", image)}
	}

	if _, err := d.docker(ctx, "pull", image); err != nil {
		return nil, &ProvisionError{Image: image, Err: fmt.Errorf("pulling image: %w", err)}
	}

	tag := d.newTag()
	args := []string{"run", "-d", "-t", "--label", ManagedLabel, "--label", ProvisionLabel + "=" + tag}
	if d.Policy.MaxMemory != "" {
		args = append(args, "--memory", d.Policy.MaxMemory)
	}
	if !d.Policy.Network {
		args = append(args, "--network=none")
	}
	args = append(args, image)
	args = append(args, KeepAliveCommand...)

	out, err := d.docker(ctx, args...)
	var id string
	if err != nil {
		err = fmt.Errorf("starting container: %w", err)
	} else if id = lastLine(out); id == "" {
		err = errors.New("docker run returned no container id")
	}
	if err != nil {
		// docker run may have created the container before failing or
		// being killed by ctx.
		if cerr := d.removeTagged(context.WithoutCancel(ctx), tag); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return nil, &ProvisionError{Image: image, Err: err}
	}

	c := &Container{ID: id, Image: image}
	if err := d.waitRunning(ctx, c); err != nil {
		// The container exists but never became usable.
		if rerr := d.Remove(context.WithoutCancel(ctx), c); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return nil, &ProvisionError{Image: image, Err: err}
	}
	return c, nil
}

// removeTagged force-removes every container labeled with tag.
func (d *DockerSandbox) removeTagged(ctx context.Context, tag string) error {
	out, err := d.docker(ctx, "ps", "-aq", "--filter", "label="+ProvisionLabel+"="+tag)
	if err != nil {
		return fmt.Errorf("listing containers for cleanup: %w", err)
	}
	var errs []error
	for _, id := range strings.Fields(string(out)) {
		if err := d.Remove(ctx, &Container{ID: id}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// waitRunning polls docker inspect until the container reports running.
func (d *DockerSandbox) waitRunning(ctx context.Context, c *Container) error {
	ctx, cancel := context.WithTimeout(ctx, d.Policy.StartTimeout)
	defer cancel()

	ticker := time.NewTicker(d.Policy.PollInterval)
	defer ticker.Stop()

	for {
		state, err := d.inspectState(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("inspecting container: %w", err)
		}
		switch state.Status {
		case "running":
			if state.Running {
				return nil
			}
		case "exited", "dead":
			return fmt.Errorf("container %s exited before becoming ready (status %s)", shortID(c.ID), state.Status)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for container %s: %w", shortID(c.ID), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (d *DockerSandbox) Exec(ctx context.Context, c *Container, command string) (*ExecResult, error) {
	if c == nil || c.ID == "" {
		return nil, &ExecutionError{Err: errors.New("no container handle")}
	}

	argv, err := d.argv(command)
	if err != nil {
		return nil, &ExecutionError{ContainerID: c.ID, Err: err}
	}

	state, err := d.inspectState(ctx, c.ID)
	if err != nil {
		return nil, &ExecutionError{ContainerID: c.ID, Err: fmt.Errorf("inspecting container: %w", err)}
	}
	if !state.Running {
		return nil, &ExecutionError{ContainerID: c.ID, Err: fmt.Errorf("container is not running (status %s)", state.Status)}
	}

	args := append([]string{"exec", c.ID}, argv...)
	out, exitCode, err := d.runner.Run(ctx, d.Binary, args...)
	if err != nil {
		return nil, &ExecutionError{ContainerID: c.ID, Err: fmt.Errorf("running docker exec: %w", err)}
	}

	return &ExecResult{
		ExitCode: exitCode,
		Output:   string(out),
	}, nil
}

func (d *DockerSandbox) Remove(ctx context.Context, c *Container) error {
	if c == nil || c.ID == "" {
		return nil
	}
	if _, err := d.docker(ctx, "rm", "-f", c.ID); err != nil {
		return fmt.Errorf("removing container %s: %w", shortID(c.ID), err)
	}
	return nil
}

// argv splits command into exec arguments. Without a configured shell the
// command is split into words, so pipes and redirects are passed literally.
func (d *DockerSandbox) argv(command string) ([]string, error) {
	if d.Policy.Shell != "" {
		if strings.TrimSpace(command) == "" {
			return nil, errors.New("empty command")
		}
		return []string{d.Policy.Shell, "-c", command}, nil
	}
	words, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("splitting command: %w", err)
	}
	if len(words) == 0 {
		return nil, errors.New("empty command")
	}
	return words, nil
}

type containerState struct {
	Status  string
	Running bool
}

func (d *DockerSandbox) inspectState(ctx context.Context, id string) (containerState, error) {
	out, err := d.docker(ctx, "inspect", "--format", "{{.State.Status}} {{.State.Running}}", id)
	if err != nil {
		return containerState{}, err
	}
	fields := strings.Fields(lastLine(out))
	if len(fields) != 2 {
		return containerState{}, fmt.Errorf("unexpected inspect output %q", strings.TrimSpace(string(out)))
	}
	return containerState{Status: fields[0], Running: fields[1] == "true"}, nil
}

// docker runs a docker CLI subcommand whose non-zero exit is a failure.
func (d *DockerSandbox) docker(ctx context.Context, args ...string) ([]byte, error) {
	out, exitCode, err := d.runner.Run(ctx, d.Binary, args...)
	if err != nil {
		return out, fmt.Errorf("running %s %s: %w", d.Binary, args[0], err)
	}
	if exitCode != 0 {
		return out, fmt.Errorf("%s %s exited %d: %s", d.Binary, args[0], exitCode, strings.TrimSpace(string(out)))
	}
	return out, nil
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
