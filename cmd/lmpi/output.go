package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/common-nighthawk/go-figure"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"github.com/lmpi-dev/lmpi/internal/models"
)

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr

	// readPassword prompts for a secret. Replaced in tests.
	readPassword = promptPassword

	stdinReader = bufio.NewReader(os.Stdin)
)

func printBanner() {
	fig := figure.NewColorFigure("LMpi", "", "cyan", true)
	if color.NoColor {
		fmt.Fprintln(stdout, fig.String())
	} else {
		fmt.Fprintln(stdout, fig.ColorString())
	}
	fmt.Fprintln(stdout, color.New(color.Bold).Sprint("LMpi - Language Model Prompt Injector"))
	fmt.Fprintln(stdout)
}

func printSuccess(format string, args ...interface{}) {
	fmt.Fprintf(stdout, "%s %s\n", color.GreenString("✓"), fmt.Sprintf(format, args...))
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(stderr, "%s %s\n", color.RedString("✗"), fmt.Sprintf(format, args...))
}

func printInfo(format string, args ...interface{}) {
	fmt.Fprintf(stdout, "%s %s\n", color.CyanString("→"), fmt.Sprintf(format, args...))
}

func printWarning(format string, args ...interface{}) {
	fmt.Fprintf(stdout, "%s %s\n", color.YellowString("⚠"), fmt.Sprintf(format, args...))
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		printError("Failed to encode output: %v", err)
		return
	}
	fmt.Fprintln(stdout, string(data))
}

// reportError prints a command failure in the selected output format.
func reportError(err error) {
	if jsonOutput {
		out := map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		}
		if code := models.Code(err); code != "" {
			out["code"] = code
		}

		var loadErr *models.LoadError
		if errors.As(err, &loadErr) {
			out["failed_keys"] = loadErr.Keys()
		}

		printJSON(out)
		return
	}
	printError("%v", err)
}

// withSpinner runs fn behind a spinner on interactive terminals.
func withSpinner(message string, fn func() error) error {
	if jsonOutput || !isatty.IsTerminal(os.Stderr.Fd()) {
		return fn()
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + message
	s.Start()
	defer s.Stop()

	return fn()
}

// promptPassword reads a password without echo. Piped input is read one
// line at a time.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := stdinReader.ReadString('\n')
		fmt.Fprintln(os.Stderr)
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	// Read password without echo
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr) // New line after password

	if err != nil {
		return "", err
	}

	return string(password), nil
}

// maskKey shows the first and last characters of a secret.
func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
