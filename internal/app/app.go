// Package app assembles a pipeline from configuration and runs it one
// instruction at a time, recording each run in history.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/michaelbrown/sandcmd/internal/config"
	"github.com/michaelbrown/sandcmd/internal/llm"
	"github.com/michaelbrown/sandcmd/internal/metrics"
	"github.com/michaelbrown/sandcmd/internal/oracle"
	"github.com/michaelbrown/sandcmd/internal/pipeline"
	"github.com/michaelbrown/sandcmd/internal/sandbox"
	"github.com/michaelbrown/sandcmd/internal/storage"
)

// ErrBusy is returned by TryExecute while another run is in progress.
var ErrBusy = errors.New("another run is in progress")

// Options select the provider, model and run defaults, usually from flags.
// Empty fields fall back to the profile, then to config.
type Options struct {
	Provider     string
	Model        string
	Profile      string
	Image        string
	SystemPrompt string
	Keep         bool
}

// Deps are optional collaborators. Nil Client and Sandbox are built from
// config; a nil Store disables history; a nil Logger discards logs.
type Deps struct {
	Client  llm.Client
	Sandbox sandbox.Sandbox
	Store   storage.Store
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// App runs instructions through a single configured pipeline.
type App struct {
	cfg         *config.Config
	store       storage.Store
	logger      *zap.Logger
	metrics     *metrics.Metrics
	pipeline    *pipeline.Pipeline
	provider    string
	model       string
	image       string
	instruction string

	mu       sync.Mutex // one run at a time
	observer func(pipeline.Transition)
}

// New resolves options against the profile and config and builds the pipeline.
func New(cfg *config.Config, opts Options, deps Deps) (*App, error) {
	var profile config.Profile
	if opts.Profile != "" {
		p, err := cfg.Profile(opts.Profile)
		if err != nil {
			return nil, fmt.Errorf("loading profile: %w", err)
		}
		profile = *p
	}

	providerName := firstNonEmpty(opts.Provider, profile.Provider, cfg.DefaultProvider)
	provider, err := cfg.Provider(providerName)
	if err != nil {
		return nil, err
	}
	model := firstNonEmpty(opts.Model, profile.Model, provider.Models["default"])

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client := deps.Client
	if client == nil {
		client, err = NewClient(provider, model)
		if err != nil {
			return nil, err
		}
	}

	sb := deps.Sandbox
	if sb == nil {
		sb = sandbox.NewDockerSandbox(SandboxPolicy(cfg.Sandbox))
	}

	o := oracle.New(client, llm.CompletionOptions{
		Temperature: llm.Float(cfg.Oracle.Temperature),
		MaxTokens:   cfg.Oracle.MaxTokens,
		JSONMode:    cfg.Oracle.JSONMode,
	})

	a := &App{
		cfg:         cfg,
		store:       deps.Store,
		logger:      logger,
		metrics:     deps.Metrics,
		provider:    providerName,
		model:       model,
		image:       firstNonEmpty(opts.Image, profile.Image, cfg.Sandbox.Image),
		instruction: firstNonEmpty(profile.Instruction, cfg.Oracle.Instruction),
	}
	a.pipeline = pipeline.New(o, sb, pipeline.Config{
		Image:        a.image,
		SystemPrompt: firstNonEmpty(opts.SystemPrompt, profile.SystemPrompt, cfg.Oracle.SystemPrompt),
		KeepSandbox:  opts.Keep || cfg.Sandbox.Keep,
	}, logger.With(zap.String("provider", providerName), zap.String("model", model)))
	a.pipeline.OnTransition = a.dispatch

	return a, nil
}

// NewClient builds the LLM client for a provider.
func NewClient(p config.ProviderConfig, model string) (llm.Client, error) {
	switch p.Type {
	case "", config.ProviderTypeOpenAI:
		return llm.NewClient(p.BaseURL, p.APIKey, model), nil
	case config.ProviderTypeAnthropic:
		return llm.NewAnthropicClient(p.BaseURL, p.APIKey, model), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %s", p.Type)
	}
}

// firstNonEmpty returns the first non-empty value, in precedence order.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// SandboxPolicy converts sandbox config into a sandbox policy.
func SandboxPolicy(c config.SandboxConfig) sandbox.Policy {
	p := sandbox.DefaultPolicy()
	p.MaxMemory = c.MaxMemory
	p.Network = c.Network
	p.Images = c.Images
	p.Shell = c.Shell
	if c.StartTimeout > 0 {
		p.StartTimeout = c.StartTimeout
	}
	return p
}

func (a *App) Provider() string { return a.provider }
func (a *App) Model() string    { return a.model }
func (a *App) Image() string    { return a.image }

// Execute runs req, waiting for any run already in progress. observe, if
// non-nil, receives this run's transitions.
func (a *App) Execute(ctx context.Context, req pipeline.Request, observe func(pipeline.Transition)) (*pipeline.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.execute(ctx, req, observe)
}

// TryExecute is like Execute but returns ErrBusy instead of waiting.
func (a *App) TryExecute(ctx context.Context, req pipeline.Request, observe func(pipeline.Transition)) (*pipeline.Result, error) {
	if !a.mu.TryLock() {
		return nil, ErrBusy
	}
	defer a.mu.Unlock()
	return a.execute(ctx, req, observe)
}

func (a *App) execute(ctx context.Context, req pipeline.Request, observe func(pipeline.Transition)) (*pipeline.Result, error) {
	if req.Instruction == "" {
		req.Instruction = a.instruction
	}

	rec := a.startRecord(ctx, &req)

	a.observer = observe
	res, err := a.pipeline.Run(ctx, req)
	a.observer = nil

	a.finishRecord(ctx, rec, res)
	return res, err
}

func (a *App) dispatch(t pipeline.Transition) {
	if a.metrics != nil {
		a.metrics.Observe(t)
	}
	if a.observer != nil {
		a.observer(t)
	}
}
