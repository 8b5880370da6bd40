package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelbrown/sandcmd/internal/app"
	"github.com/michaelbrown/sandcmd/internal/pipeline"
	"github.com/michaelbrown/sandcmd/internal/storage"
	"github.com/michaelbrown/sandcmd/internal/storage/sqlite"
)

var (
	imageFlag  string
	systemFlag string
	keepFlag   bool
	noSaveFlag bool
	jsonFlag   bool
)

var runCmd = &cobra.Command{
	Use:   "run [instruction...]",
	Short: "Suggest, execute and explain one command",
	Long: `Ask the model for a command, run it in a fresh container and print the
model's explanation of the result. Without an instruction the configured
default is used.

Examples:
  sandcmd run
  sandcmd run list the files in /etc sorted by size
  sandcmd run --image alpine:3.20 --provider claude show the kernel version`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&imageFlag, "image", "", "Sandbox image (overrides config)")
	runCmd.Flags().StringVar(&systemFlag, "system", "", "System prompt sent with every request")
	runCmd.Flags().BoolVar(&keepFlag, "keep", false, "Leave the container running afterwards")
	runCmd.Flags().BoolVar(&noSaveFlag, "no-save", false, "Do not record the run in history")
	runCmd.Flags().BoolVar(&jsonFlag, "json", false, "Print the result as JSON")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var store storage.Store
	if !noSaveFlag {
		s, err := sqlite.Open(cfg.Storage.DBPath)
		if err != nil {
			logger.Warn("run history unavailable", zap.Error(err))
		} else {
			defer s.Close()
			store = s
		}
	}

	a, err := newApp(cfg, app.Options{
		Image:        imageFlag,
		SystemPrompt: systemFlag,
		Keep:         keepFlag,
	}, store, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := a.Execute(ctx, pipeline.Request{Instruction: strings.Join(args, " ")}, nil)
	if jsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(res); encErr != nil {
			return encErr
		}
		return err
	}

	printResult(os.Stdout, res)
	return err
}
