package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/sandcmd/internal/llm"
)

var modelsCmd = &cobra.Command{
	Use:   "models [provider]",
	Short: "List the models a provider offers",
	Long: `List models for a provider. Ollama providers are queried live; the
rest show the models named in config.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}

func runModels(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	name := providerFlag
	if len(args) > 0 {
		name = args[0]
	}
	if name == "" {
		name = cfg.DefaultProvider
	}
	provider, err := cfg.Provider(name)
	if err != nil {
		return err
	}

	if !provider.IsOllama() {
		for _, m := range provider.ModelNames() {
			fmt.Println(m)
		}
		return nil
	}

	models, err := llm.NewClient(provider.BaseURL, provider.APIKey, "").ListModels(context.Background())
	if err != nil {
		return fmt.Errorf("querying models: %w", err)
	}
	for _, m := range models {
		fmt.Printf("%-30s %8.1f GB\n", m.Name, float64(m.Size)/1e9)
	}
	return nil
}
