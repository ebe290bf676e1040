package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lmpi-dev/lmpi/internal/models"
	"github.com/lmpi-dev/lmpi/internal/registry"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Inspect known models",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all available models",
	Args:  cobra.NoArgs,
	RunE:  runModelsList,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.AddCommand(modelsListCmd)
}

func runModelsList(cmd *cobra.Command, args []string) error {
	list := registry.List()

	if jsonOutput {
		printJSON(map[string]interface{}{"models": registry.Entries()})
		return nil
	}

	for _, provider := range registry.Providers() {
		fmt.Fprintf(stdout, "%s:\n", color.New(color.Bold).Sprint(provider))
		for _, model := range list[provider] {
			fmt.Fprintf(stdout, "  - %s\n", model)
		}
	}
	return nil
}

func validateModel(model string) error {
	if !registry.IsValid(model) {
		return fmt.Errorf("%w: %s", models.ErrInvalidModel, model)
	}
	return nil
}
