package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lmpi-dev/lmpi/internal/client"
	"github.com/lmpi-dev/lmpi/internal/config"
	"github.com/lmpi-dev/lmpi/internal/events"
)

var (
	cfgFile    string
	verbose    bool
	jsonOutput bool
	noBanner   bool

	cfg       *config.Config
	logger    *events.Logger
	apiClient *client.Client
)

var rootCmd = &cobra.Command{
	Use:   "lmpi",
	Short: "LMpi - Language Model Prompt Injector",
	Long: `LMpi sends prompts to hosted and Hugging Face language models.

API keys and saved run settings are kept in a local vault encrypted with a
password. A successful login opens a session for a limited time so the
password is not asked for on every command.`,
	SilenceUsage:       true,
	SilenceErrors:      true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"Settings file (default: ./lmpi.yaml or ~/.config/lmpi/lmpi.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noBanner, "no-banner", false,
		"Do not print the banner")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)

	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		reportError(err)
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, args []string) error {
	if !noBanner && !jsonOutput {
		printBanner()
	}

	if apiClient != nil {
		_ = apiClient.Close()
	}

	loader := config.NewLoader(cfgFile)
	loaded, err := loader.Load()
	if err != nil {
		return err
	}
	cfg = loaded

	if verbose {
		cfg.Log.Level = "debug"
	}

	logger, err = events.NewLogger(&cfg.Log)
	if err != nil {
		return err
	}
	events.SetDefault(logger)

	if used := loader.ConfigFileUsed(); used != "" {
		logger.WithField("file", used).Debug("Loaded settings")
	}

	apiClient, err = client.New(cfg, logger)
	if err != nil {
		return err
	}

	// Tag everything this invocation logs or records
	ctx := events.WithLogger(cmd.Context(), logger)
	ctx = events.WithRequestID(ctx, uuid.NewString())
	ctx = events.WithOperation(ctx, cmd.CommandPath())
	cmd.SetContext(ctx)

	if requiresAuth(cmd) {
		return ensureAuth(cmd.Context())
	}
	return nil
}

// authRequired marks commands that need an open session.
var authRequired = map[string]string{"auth": "required"}

func requiresAuth(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations["auth"] == "required" {
			return true
		}
	}
	return false
}

func teardown(cmd *cobra.Command, args []string) error {
	var err error
	if apiClient != nil {
		err = apiClient.Close()
		apiClient = nil
	}
	if logger != nil {
		_ = logger.Close()
	}
	return err
}
