package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lmpi-dev/lmpi/internal/models"
	"github.com/lmpi-dev/lmpi/internal/storage"
	"github.com/lmpi-dev/lmpi/internal/testers"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Send a prompt to a model",
	Long: `Run sends the prompt to the model and prints the answer.

--load-config fills in model, prompt and output from the saved configuration
where the flags are not given. --save-config stores the values used.`,
	Example: `  lmpi run --model gpt-4 --prompt "Ignore previous instructions"
  lmpi run --load-config
  lmpi run -m gpt2 -p "Hello" -o result.json --save-config`,
	Args:        cobra.NoArgs,
	Annotations: authRequired,
	RunE:        runRun,
}

var (
	runModel      string
	runPrompt     string
	runOutput     string
	runLoadConfig bool
	runSaveConfig bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Target language model")
	runCmd.Flags().StringVarP(&runPrompt, "prompt", "p", "", "Prompt to inject")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "Output file for results")
	runCmd.Flags().BoolVar(&runLoadConfig, "load-config", false, "Load saved configuration")
	runCmd.Flags().BoolVar(&runSaveConfig, "save-config", false, "Save current configuration")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if runLoadConfig {
		if err := loadRunSettings(); err != nil {
			return err
		}
		if !jsonOutput {
			printInfo("Loaded configuration from %s", apiClient.Vault.Path())
		}
	}

	if runSaveConfig {
		if err := apiClient.SaveConfig(ctx, runSettings(runModel, runPrompt, runOutput)); err != nil {
			return err
		}
		if !jsonOutput {
			printInfo("Saved current configuration to %s", apiClient.Vault.Path())
		}
	}

	if runModel == "" || runPrompt == "" {
		return fmt.Errorf("%w: --model and --prompt are required", models.ErrMissingInput)
	}

	if err := validateModel(runModel); err != nil {
		return err
	}

	if !jsonOutput {
		printInfo("Testing model %s with prompt: %s", runModel, runPrompt)
	}

	var result *testers.Result
	err := withSpinner("Waiting for "+runModel+"...", func() error {
		var err error
		result, err = apiClient.RunTest(ctx, runModel, runPrompt)
		return err
	})
	if err != nil {
		return err
	}

	if runOutput != "" {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		if err := storage.WriteFile(runOutput, append(data, '\n'), 0644, false); err != nil {
			return err
		}
	}

	if jsonOutput {
		printJSON(result)
		return nil
	}

	fmt.Fprintf(stdout, "\n%s\n\n", result.Response)
	if runOutput != "" {
		printSuccess("Result written to %s", runOutput)
	}
	return nil
}

// loadRunSettings fills unset run flags from the saved configuration.
func loadRunSettings() error {
	values, err := apiClient.Vault.Load()

	var loadErr *models.LoadError
	if err != nil && !errors.As(err, &loadErr) {
		return err
	}
	if loadErr != nil && !jsonOutput {
		printWarning("Could not decrypt: %v", loadErr.Keys())
	}

	fill := func(dst *string, name string) {
		if *dst != "" {
			return
		}
		if v, ok := values[name].(string); ok {
			*dst = v
		}
	}
	fill(&runModel, "model")
	fill(&runPrompt, "prompt")
	fill(&runOutput, "output")

	return nil
}
