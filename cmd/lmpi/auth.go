package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lmpi-dev/lmpi/internal/models"
)

var setPasswordCmd = &cobra.Command{
	Use:   "set-password",
	Short: "Set or change the vault password",
	Long: `Set the password protecting the vault.

When a password already exists it is changed and every stored value is
re-encrypted under the new one. --reset discards all stored values instead,
for when the current password is lost.`,
	Example: `  lmpi set-password
  lmpi set-password --reset`,
	RunE: runSetPassword,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Unlock the vault for a limited time",
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the current session",
	RunE:  runLogout,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show password and session state",
	RunE:  runStatus,
}

var setPasswordReset bool

func init() {
	rootCmd.AddCommand(setPasswordCmd, loginCmd, logoutCmd, statusCmd)

	setPasswordCmd.Flags().BoolVar(&setPasswordReset, "reset", false,
		"Discard all stored values and start over")
}

func runSetPassword(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	exists := apiClient.Session.IsPasswordSet()

	// Changing a password requires the current one
	if exists && !setPasswordReset {
		if err := ensureAuth(ctx); err != nil {
			return err
		}
	}

	password, err := readNewPassword()
	if err != nil {
		return err
	}

	switch {
	case exists && !setPasswordReset:
		err = withSpinner("Re-encrypting vault...", func() error {
			return apiClient.ChangePassword(ctx, password)
		})
	default:
		if exists && !jsonOutput {
			printWarning("Resetting the vault; stored API keys and settings are discarded")
		}
		err = withSpinner("Deriving key...", func() error {
			return apiClient.SetPassword(ctx, password)
		})
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"changed": exists && !setPasswordReset,
		})
	} else if exists && !setPasswordReset {
		printSuccess("Password changed successfully.")
	} else {
		printSuccess("Password set successfully.")
	}

	return nil
}

func readNewPassword() (string, error) {
	password, err := readPassword("Enter new password: ")
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}

	confirm, err := readPassword("Confirm new password: ")
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}

	if password != confirm {
		return "", fmt.Errorf("%w: passwords do not match", models.ErrMissingInput)
	}
	if password == "" {
		return "", fmt.Errorf("%w: password must not be empty", models.ErrMissingInput)
	}

	return password, nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if !apiClient.Session.IsPasswordSet() {
		return errNoPassword()
	}

	password, err := readPassword("Enter your password: ")
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	if err := login(ctx, password); err != nil {
		return err
	}

	status := apiClient.Session.Status()
	if jsonOutput {
		printJSON(map[string]interface{}{
			"success":    true,
			"expires_at": status.ExpiresAt,
		})
	} else {
		printSuccess("Session started, valid until %s", status.ExpiresAt.Format(time.Kitchen))
	}

	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	if err := apiClient.Logout(cmd.Context()); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true})
	} else {
		printSuccess("Logged out successfully.")
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	status := apiClient.Session.Status()

	if jsonOutput {
		out := map[string]interface{}{
			"password_set":   status.PasswordSet,
			"session_active": status.SessionActive,
			"config_path":    apiClient.Vault.Path(),
		}
		if status.SessionActive {
			out["expires_at"] = status.ExpiresAt
			out["remaining_seconds"] = int(status.Remaining.Seconds())
		}
		printJSON(out)
		return nil
	}

	if !status.PasswordSet {
		printWarning("No password set. Run 'lmpi set-password' first.")
		return nil
	}

	printInfo("Vault: %s", apiClient.Vault.Path())
	if status.SessionActive {
		printSuccess("Session active, %s remaining", status.Remaining.Round(time.Second))
	} else {
		printInfo("No active session")
	}
	return nil
}

// ensureAuth makes sure a session is open, prompting for the password when
// the previous one has expired.
func ensureAuth(ctx context.Context) error {
	if !apiClient.Session.IsPasswordSet() {
		return errNoPassword()
	}

	if apiClient.Session.IsSessionValid() {
		return nil
	}

	password, err := readPassword("Enter your password: ")
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	return login(ctx, password)
}

func login(ctx context.Context, password string) error {
	err := withSpinner("Deriving key...", func() error {
		return apiClient.Login(ctx, password)
	})
	if errors.Is(err, models.ErrAuthenticationFailed) {
		return fmt.Errorf("incorrect password: %w", err)
	}
	return err
}

func errNoPassword() error {
	return fmt.Errorf("%w: run 'lmpi set-password' first", models.ErrPasswordNotSet)
}
