package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent vault activity",
	Args:  cobra.NoArgs,
	RunE:  runAudit,
}

var auditLimit int

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.Flags().IntVarP(&auditLimit, "limit", "n", 20,
		"Number of events to show (0 for all)")
}

func runAudit(cmd *cobra.Command, args []string) error {
	list, err := apiClient.Audit.List(cmd.Context(), auditLimit)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"events": list})
		return nil
	}

	if len(list) == 0 {
		printInfo("No events recorded.")
		return nil
	}

	for _, e := range list {
		line := fmt.Sprintf("%s  %-18s", e.Time.Local().Format(time.DateTime), e.Action)
		if e.Subject != "" {
			line += "  " + color.CyanString(e.Subject)
		}
		fmt.Fprintln(stdout, line)
	}
	return nil
}
