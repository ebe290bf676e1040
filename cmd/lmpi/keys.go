package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lmpi-dev/lmpi/internal/creds"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short:       "Manage provider API keys",
	Annotations: authRequired,
}

var keysSaveCmd = &cobra.Command{
	Use:     "save <company> <api-key>",
	Short:   "Save the API key for a company",
	Example: `  lmpi keys save openai sk-...`,
	Args:    cobra.ExactArgs(2),
	RunE:    runKeysSave,
}

var keysShowCmd = &cobra.Command{
	Use:   "show <company>",
	Short: "Show the API key for a company",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysShow,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List companies with a saved API key",
	Args:  cobra.NoArgs,
	RunE:  runKeysList,
}

var keysRemoveCmd = &cobra.Command{
	Use:   "remove <company>",
	Short: "Remove the API key for a company",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRemove,
}

var keysImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import API keys from a JSON file",
	Long: `Import reads {"api_keys": {"<company>": "<key>"}} from a file, or from
standard input when the file is "-", and stores every key.`,
	Example: `  lmpi keys import keys.json
  cat keys.json | lmpi keys import -`,
	Args: cobra.ExactArgs(1),
	RunE: runKeysImport,
}

var keysShowMasked bool

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysSaveCmd, keysShowCmd, keysListCmd, keysRemoveCmd, keysImportCmd)

	keysShowCmd.Flags().BoolVar(&keysShowMasked, "masked", false,
		"Hide the middle of the key")
}

func runKeysSave(cmd *cobra.Command, args []string) error {
	company, apiKey := args[0], args[1]

	if err := apiClient.SaveAPIKey(cmd.Context(), company, apiKey); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "company": company})
	} else {
		printSuccess("Saved API key for %s", company)
	}
	return nil
}

func runKeysShow(cmd *cobra.Command, args []string) error {
	company := args[0]

	apiKey, ok, err := apiClient.Vault.APIKey(company)
	if err != nil {
		return err
	}

	if keysShowMasked {
		apiKey = maskKey(apiKey)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"company": company,
			"found":   ok,
			"api_key": apiKey,
		})
		return nil
	}

	if !ok {
		printWarning("No API key found for %s", company)
		return nil
	}

	fmt.Fprintf(stdout, "API key for %s: %s\n", company, apiKey)
	return nil
}

func runKeysList(cmd *cobra.Command, args []string) error {
	companies, err := apiClient.Vault.ListCompanies()
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"companies": companies})
		return nil
	}

	if len(companies) == 0 {
		printInfo("No API keys saved yet.")
		return nil
	}

	fmt.Fprintln(stdout, "Companies with saved API keys:")
	for _, company := range companies {
		fmt.Fprintf(stdout, "  - %s\n", company)
	}
	return nil
}

func runKeysRemove(cmd *cobra.Command, args []string) error {
	company := args[0]

	removed, err := apiClient.RemoveAPIKey(cmd.Context(), company)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"company": company, "removed": removed})
		return nil
	}

	if removed {
		printSuccess("Removed API key for %s", company)
	} else {
		printWarning("No API key found for %s", company)
	}
	return nil
}

func runKeysImport(cmd *cobra.Command, args []string) error {
	bundle, err := creds.LoadFromFile(args[0])
	if err != nil {
		return err
	}

	keys, err := bundle.Keys()
	if err != nil {
		return err
	}

	if err := apiClient.ImportAPIKeys(cmd.Context(), keys); err != nil {
		return err
	}

	companies := creds.Companies(keys)
	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "companies": companies})
		return nil
	}

	for _, company := range companies {
		printSuccess("Saved API key for %s", company)
	}
	return nil
}
