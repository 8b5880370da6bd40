package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/sandcmd/internal/storage"
	"github.com/michaelbrown/sandcmd/internal/storage/sqlite"
)

var (
	statusFilter string
	limitFlag    int
	exportFormat string
	exportOutput string
	forceFlag    bool
)

var runsCmd = &cobra.Command{
	Use:     "runs",
	Aliases: []string{"history", "r"},
	Short:   "Manage recorded runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs",
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run in full",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsDelete,
}

var runsExportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export a run as markdown or JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsExport,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsDeleteCmd, runsExportCmd)

	runsListCmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status (running, completed, failed)")
	runsListCmd.Flags().IntVar(&limitFlag, "limit", 20, "Max runs to show")

	runsExportCmd.Flags().StringVar(&exportFormat, "format", "md", "Export format: md or json")
	runsExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")

	runsDeleteCmd.Flags().BoolVar(&forceFlag, "force", false, "Skip confirmation")
}

func openStore() (storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return sqlite.Open(cfg.Storage.DBPath)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(context.Background(), storage.RunListOptions{
		Status: storage.RunStatus(statusFilter),
		Limit:  limitFlag,
	})
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("No runs found.")
		return nil
	}

	fmt.Printf("%-10s %-10s %-40s %-6s %-15s %s\n", "ID", "STATUS", "COMMAND", "EXIT", "MODEL", "UPDATED")
	fmt.Println(strings.Repeat("─", 100))

	for _, r := range runs {
		command := r.Command
		if command == "" {
			command = "(none)"
		}
		if len(command) > 38 {
			command = prefix(command, 38) + ".."
		}

		exit := "-"
		if r.ExitCode != nil {
			exit = fmt.Sprint(*r.ExitCode)
		}

		model := r.Model
		if len(model) > 13 {
			model = prefix(model, 13) + ".."
		}

		fmt.Printf("%-10s %-10s %-40s %-6s %-15s %s\n",
			shortID(r.ID), r.Status, command, exit, model, timeAgo(r.UpdatedAt))
	}

	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	r, err := store.GetRun(context.Background(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Run:         %s\n", r.ID)
	fmt.Printf("Status:      %s (%s)\n", r.Status, r.State)
	fmt.Printf("Instruction: %s\n", r.Instruction)
	fmt.Printf("Provider:    %s\n", r.Provider)
	fmt.Printf("Model:       %s\n", r.Model)
	fmt.Printf("Image:       %s\n", r.Image)
	fmt.Printf("Created:     %s\n", r.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated:     %s\n", r.UpdatedAt.Format(time.RFC3339))
	fmt.Println(strings.Repeat("─", 60))

	if r.Command != "" {
		fmt.Printf("\n\033[33m$ %s\033[0m\n", r.Command)
	}
	if r.ExitCode != nil {
		for _, line := range strings.Split(strings.TrimRight(r.Output, "\n"), "\n") {
			fmt.Printf("  \033[90m│ %s\033[0m\n", line)
		}
		fmt.Printf("exit code: %d\n", *r.ExitCode)
	}
	if r.Explanation != "" {
		fmt.Printf("\n\033[32m%s\033[0m\n", r.Explanation)
	}
	if r.Error != "" {
		fmt.Printf("\n\033[31merror: %s\033[0m\n", truncate(r.Error, 500))
	}

	return nil
}

func runRunsDelete(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	r, err := store.GetRun(ctx, args[0])
	if err != nil {
		return err
	}

	if !forceFlag {
		fmt.Printf("Delete run %s - %q? [y/N] ", shortID(r.ID), truncate(r.Instruction, 60))
		var confirm string
		fmt.Scanln(&confirm)
		if strings.ToLower(confirm) != "y" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := store.DeleteRun(ctx, r.ID); err != nil {
		return err
	}
	fmt.Printf("Deleted run %s\n", shortID(r.ID))
	return nil
}

func runRunsExport(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	r, err := store.GetRun(context.Background(), args[0])
	if err != nil {
		return err
	}

	var output string
	switch exportFormat {
	case "json":
		data, err := storage.ExportJSON(r)
		if err != nil {
			return err
		}
		output = string(data) + "\n"
	default:
		output = storage.ExportMarkdown(r)
	}

	if exportOutput != "" {
		return os.WriteFile(exportOutput, []byte(output), 0o644)
	}

	fmt.Print(output)
	return nil
}
