package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/michaelbrown/sandcmd/internal/app"
	"github.com/michaelbrown/sandcmd/internal/config"
	"github.com/michaelbrown/sandcmd/internal/metrics"
	"github.com/michaelbrown/sandcmd/internal/storage"
)

var (
	configFlag   string
	providerFlag string
	modelFlag    string
	profileFlag  string
	verboseFlag  bool

	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "sandcmd",
	Short: "sandcmd - ask an LLM for a command, run it in a sandbox, explain the result",
	Long: `sandcmd asks a language model for a shell command that satisfies an
instruction, runs it inside a throwaway Docker container, and asks the model
to explain what happened.

It talks to Ollama or any OpenAI-compatible API, or to Claude.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verboseFlag {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		l, err := zcfg.Build()
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: ./sandcmd.yaml or ~/.sandcmd/sandcmd.yaml)")
	rootCmd.PersistentFlags().StringVar(&providerFlag, "provider", "", "LLM provider from config (e.g. ollama, claude)")
	rootCmd.PersistentFlags().StringVar(&modelFlag, "model", "", "Model to use (overrides config)")
	rootCmd.PersistentFlags().StringVar(&profileFlag, "profile", "", "Run profile to use (e.g. linux)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// newApp builds an App from the global flags plus per-command overrides.
func newApp(cfg *config.Config, opts app.Options, store storage.Store, m *metrics.Metrics) (*app.App, error) {
	opts.Provider = providerFlag
	opts.Model = modelFlag
	opts.Profile = profileFlag
	return app.New(cfg, opts, app.Deps{
		Store:   store,
		Logger:  logger,
		Metrics: m,
	})
}
