package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelbrown/sandcmd/internal/app"
	"github.com/michaelbrown/sandcmd/internal/pipeline"
	"github.com/michaelbrown/sandcmd/internal/storage"
	"github.com/michaelbrown/sandcmd/internal/storage/sqlite"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Run instructions interactively",
	Long: `Start an interactive loop where every line is one instruction.
Ctrl+C cancels the run in progress; the container is still removed.

Examples:
  sandcmd repl
  sandcmd repl --provider claude --image debian:bookworm`,
	RunE: runRepl,
}

func init() {
	replCmd.Flags().StringVar(&imageFlag, "image", "", "Sandbox image (overrides config)")
	replCmd.Flags().StringVar(&systemFlag, "system", "", "System prompt sent with every request")
	replCmd.Flags().BoolVar(&noSaveFlag, "no-save", false, "Do not record runs in history")
	rootCmd.AddCommand(replCmd)
}

func runRepl(cmd *cobra.Command, args []string) error {
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

	a, err := newApp(cfg, app.Options{Image: imageFlag, SystemPrompt: systemFlag}, store, nil)
	if err != nil {
		return err
	}

	fmt.Printf("sandcmd - interactive\n")
	if profileFlag != "" {
		fmt.Printf("Profile: %s\n", profileFlag)
	}
	fmt.Printf("Provider: %s | Model: %s | Image: %s\n", a.Provider(), a.Model(), a.Image())
	fmt.Printf("Type /help for commands, /quit to exit\n\n")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36mdo>\033[0m ",
		HistoryFile:     filepath.Join(os.TempDir(), "sandcmd_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	// Ctrl+C cancels the active run, not the whole app. While idle,
	// readline reports it as ErrInterrupt and the loop exits.
	var reqCancel context.CancelFunc
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			if reqCancel != nil {
				reqCancel()
			}
		}
	}()

	var last *pipeline.Result
	for {
		input, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if quit := handleCommand(input, last); quit {
				return nil
			}
			continue
		}

		reqCtx, cancel := context.WithCancel(context.Background())
		reqCancel = cancel

		res, err := a.Execute(reqCtx, pipeline.Request{Instruction: input}, nil)
		wasInterrupted := reqCtx.Err() != nil
		cancel()
		reqCancel = nil
		last = res

		printResult(os.Stdout, res)
		if err != nil {
			if wasInterrupted {
				fmt.Println("(interrupted)")
			} else {
				fmt.Printf("\033[31merror: %s\033[0m\n", err)
			}
		}
		fmt.Println()
	}
}

// handleCommand runs a slash command and reports whether to quit.
func handleCommand(input string, last *pipeline.Result) bool {
	switch strings.ToLower(strings.Fields(input)[0]) {
	case "/quit", "/exit", "/q":
		fmt.Println("Goodbye!")
		return true
	case "/last":
		if last == nil {
			fmt.Println("No runs yet.")
			fmt.Println()
			return false
		}
		data, _ := json.MarshalIndent(last, "", "  ")
		fmt.Println(string(data))
		fmt.Println()
	case "/help":
		fmt.Println("Commands:")
		fmt.Println("  /help  - Show this help")
		fmt.Println("  /last  - Show the previous run (JSON)")
		fmt.Println("  /quit  - Exit")
		fmt.Println()
	default:
		fmt.Printf("Unknown command: %s (try /help)\n\n", input)
	}
	return false
}
