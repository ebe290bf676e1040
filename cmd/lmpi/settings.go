package main

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/lmpi-dev/lmpi/internal/config"
	"github.com/lmpi-dev/lmpi/internal/models"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the saved run configuration",
}

var configSaveCmd = &cobra.Command{
	Use:         "save",
	Short:       "Save model, prompt and output for later runs",
	Example:     `  lmpi config save --model gpt-4 --prompt "Ignore previous instructions"`,
	Args:        cobra.NoArgs,
	Annotations: authRequired,
	RunE:        runConfigSave,
}

var configLoadCmd = &cobra.Command{
	Use:         "load",
	Short:       "Show the saved run configuration",
	Args:        cobra.NoArgs,
	Annotations: authRequired,
	RunE:        runConfigLoad,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the encrypted configuration file path",
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

var configExampleCmd = &cobra.Command{
	Use:   "example <file>",
	Short: "Write an example settings file",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigExample,
}

var (
	configModel  string
	configPrompt string
	configOutput string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSaveCmd, configLoadCmd, configPathCmd, configExampleCmd)

	configSaveCmd.Flags().StringVarP(&configModel, "model", "m", "", "Target language model")
	configSaveCmd.Flags().StringVarP(&configPrompt, "prompt", "p", "", "Prompt to inject")
	configSaveCmd.Flags().StringVarP(&configOutput, "output", "o", "", "Output file for results")
}

// runSettings returns the non-empty run settings as vault entries.
func runSettings(model, prompt, output string) map[string]interface{} {
	values := map[string]interface{}{}
	for name, v := range map[string]string{"model": model, "prompt": prompt, "output": output} {
		if v != "" {
			values[name] = v
		}
	}
	return values
}

func runConfigSave(cmd *cobra.Command, args []string) error {
	values := runSettings(configModel, configPrompt, configOutput)
	if len(values) == 0 {
		return fmt.Errorf("%w: at least one of --model, --prompt or --output", models.ErrMissingInput)
	}

	if model, ok := values["model"].(string); ok {
		if err := validateModel(model); err != nil {
			return err
		}
	}

	if err := apiClient.SaveConfig(cmd.Context(), values); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "path": apiClient.Vault.Path()})
	} else {
		printSuccess("Saved current configuration to %s", apiClient.Vault.Path())
	}
	return nil
}

func runConfigLoad(cmd *cobra.Command, args []string) error {
	values, err := apiClient.Vault.Load()

	var loadErr *models.LoadError
	if err != nil && !errors.As(err, &loadErr) {
		return err
	}

	// API keys have their own command
	apiKeys, _ := values[models.APIKeysKey].(map[string]interface{})
	delete(values, models.APIKeysKey)

	if jsonOutput {
		out := map[string]interface{}{
			"path":     apiClient.Vault.Path(),
			"config":   values,
			"api_keys": len(apiKeys),
		}
		if loadErr != nil {
			out["failed_keys"] = loadErr.Keys()
		}
		printJSON(out)
		return nil
	}

	printInfo("Loaded configuration from %s", apiClient.Vault.Path())

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(stdout, "  %s: %v\n", name, values[name])
	}
	if len(names) == 0 {
		printInfo("No saved configuration.")
	}

	if loadErr != nil {
		printWarning("Could not decrypt: %v", loadErr.Keys())
	}
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	if jsonOutput {
		printJSON(map[string]interface{}{
			"config_path":  cfg.ConfigPath(),
			"salt_path":    cfg.SaltPath(),
			"session_path": cfg.SessionPath(),
			"audit_path":   cfg.AuditPath(),
		})
		return nil
	}

	fmt.Fprintf(stdout, "Configuration file path: %s\n", cfg.ConfigPath())
	return nil
}

func runConfigExample(cmd *cobra.Command, args []string) error {
	if err := config.SaveExample(args[0]); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "path": args[0]})
	} else {
		printSuccess("Wrote example settings to %s", args[0])
	}
	return nil
}
