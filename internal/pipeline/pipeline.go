// Package pipeline sequences a single suggest, execute, explain round trip
// between an oracle and a sandbox.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/michaelbrown/sandcmd/internal/oracle"
	"github.com/michaelbrown/sandcmd/internal/sandbox"
)

// Generator produces raw oracle text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt, system string) (string, error)
}

// Config holds per-pipeline defaults. Request fields override them.
type Config struct {
	Image        string
	SystemPrompt string
	KeepSandbox  bool // leave the container running after the run
}

// Request is a single run.
type Request struct {
	ID           string // generated when empty
	Instruction  string
	Image        string
	SystemPrompt string
}

// Pipeline runs instructions through an oracle and a sandbox.
type Pipeline struct {
	oracle  Generator
	sandbox sandbox.Sandbox
	cfg     Config
	logger  *zap.Logger

	// OnTransition, if set, is called synchronously after every state change.
	OnTransition func(Transition)
}

// New creates a Pipeline. A nil logger discards log output.
func New(o Generator, sb sandbox.Sandbox, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		oracle:  o,
		sandbox: sb,
		cfg:     cfg,
		logger:  logger,
	}
}

// run tracks the state of one Run call.
type run struct {
	p       *Pipeline
	res     *Result
	system  string
	log     *zap.Logger
	entered time.Time
}

// Run executes req and returns what it produced. The Result is never nil:
// on failure it is in StateFailed and holds every value produced before
// the error, which is also returned.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	image := req.Image
	if image == "" {
		image = p.cfg.Image
	}
	system := req.SystemPrompt
	if system == "" {
		system = p.cfg.SystemPrompt
	}

	r := &run{
		p: p,
		res: &Result{
			ID:          id,
			State:       StateInit,
			Instruction: req.Instruction,
			Image:       image,
		},
		system:  system,
		log:     p.logger.With(zap.String("run_id", id)),
		entered: time.Now(),
	}

	r.log.Info("run started", zap.String("instruction", req.Instruction), zap.String("image", image))

	if err := r.suggest(ctx); err != nil {
		return r.fail(err)
	}

	c, err := r.p.sandbox.Provision(ctx, image)
	if err != nil {
		return r.fail(fmt.Errorf("provisioning sandbox: %w", err))
	}
	r.res.ContainerID = c.ID
	r.log.Info("sandbox ready", zap.String("container_id", c.ID))
	defer r.teardown(ctx, c)

	if err := r.execute(ctx, c); err != nil {
		return r.fail(err)
	}
	if err := r.explain(ctx); err != nil {
		return r.fail(err)
	}

	r.transition(StateDone, nil)
	r.log.Info("run finished")
	return r.res, nil
}

func (r *run) suggest(ctx context.Context) error {
	r.res.Prompt = oracle.InstructionPrompt(r.res.Instruction)

	raw, err := r.p.oracle.Generate(ctx, r.res.Prompt, r.system)
	if err != nil {
		return fmt.Errorf("requesting suggestion: %w", err)
	}
	r.res.RawSuggestion = raw
	r.log.Debug("oracle response", zap.String("stage", "suggest"), zap.String("raw_response", raw))

	s, err := oracle.ParseSuggestion(raw)
	if err != nil {
		return fmt.Errorf("parsing suggestion: %w", err)
	}
	r.res.Command = s.Command
	r.log.Info("command suggested", zap.String("command", s.Command))

	r.transition(StateSuggested, nil)
	return nil
}

func (r *run) execute(ctx context.Context, c *sandbox.Container) error {
	res, err := r.p.sandbox.Exec(ctx, c, r.res.Command)
	if err != nil {
		return fmt.Errorf("executing command: %w", err)
	}
	r.res.Exec = res

	fields := []zap.Field{zap.String("command", r.res.Command), zap.Int("exit_code", res.ExitCode)}
	if res.ExitCode != 0 {
		r.log.Warn("command exited with non-zero status", fields...)
	} else {
		r.log.Info("command executed", fields...)
	}
	r.log.Debug("command output", zap.String("output", res.Output))

	r.transition(StateExecuted, nil)
	return nil
}

func (r *run) explain(ctx context.Context) error {
	r.res.FeedbackPrompt = oracle.FeedbackPrompt(r.res.Command, r.res.Exec.ExitCode, r.res.Exec.Output)

	raw, err := r.p.oracle.Generate(ctx, r.res.FeedbackPrompt, r.system)
	if err != nil {
		return fmt.Errorf("requesting explanation: %w", err)
	}
	r.res.RawExplanation = raw
	r.log.Debug("oracle response", zap.String("stage", "explain"), zap.String("raw_response", raw))

	e, err := oracle.ParseExplanation(raw)
	if err != nil {
		return fmt.Errorf("parsing explanation: %w", err)
	}
	r.res.Explanation = e.Explanation
	r.log.Info("explanation received", zap.String("explanation", e.Explanation))

	r.transition(StateExplained, nil)
	return nil
}

// teardown removes the container unless the pipeline keeps sandboxes.
// It runs even when ctx is cancelled, and never changes the run outcome.
func (r *run) teardown(ctx context.Context, c *sandbox.Container) {
	if r.p.cfg.KeepSandbox {
		r.log.Info("keeping sandbox", zap.String("container_id", c.ID))
		return
	}
	if err := r.p.sandbox.Remove(context.WithoutCancel(ctx), c); err != nil {
		r.log.Warn("sandbox teardown failed", zap.String("container_id", c.ID), zap.Error(err))
		return
	}
	r.log.Debug("sandbox removed", zap.String("container_id", c.ID))
}

func (r *run) fail(err error) (*Result, error) {
	r.res.FailedIn = r.res.State
	r.res.Error = err.Error()
	r.log.Error("run failed", zap.String("state", string(r.res.State)), zap.Error(err))
	r.transition(StateFailed, err)
	return r.res, err
}

func (r *run) transition(to State, err error) {
	now := time.Now()
	t := Transition{
		From:    r.res.State,
		To:      to,
		Result:  r.res,
		Err:     err,
		Elapsed: now.Sub(r.entered),
	}
	r.res.State = to
	r.entered = now

	if r.p.OnTransition != nil {
		r.p.OnTransition(t)
	}
}
