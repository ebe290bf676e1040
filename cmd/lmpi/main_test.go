package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmpi-dev/lmpi/internal/models"
	"github.com/lmpi-dev/lmpi/test/testutil"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

type harness struct {
	t         *testing.T
	dataDir   string
	passwords []string
	out       *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{t: t, dataDir: t.TempDir(), out: &bytes.Buffer{}}
	t.Setenv("LMPI_DATA_DIR", h.dataDir)
	t.Setenv("LMPI_LOG_LEVEL", "error")

	stdout, stderr = h.out, h.out
	readPassword = func(prompt string) (string, error) {
		if len(h.passwords) == 0 {
			return "", fmt.Errorf("unexpected prompt %q", prompt)
		}
		pw := h.passwords[0]
		h.passwords = h.passwords[1:]
		return pw, nil
	}

	t.Cleanup(func() {
		if apiClient != nil {
			_ = apiClient.Close()
			apiClient = nil
		}
		stdout, stderr = os.Stdout, os.Stderr
		readPassword = promptPassword
	})

	return h
}

// run executes the CLI with fresh flag values.
func (h *harness) run(passwords []string, args ...string) (string, error) {
	h.t.Helper()

	resetFlags(rootCmd)
	h.passwords = passwords
	h.out.Reset()

	rootCmd.SetArgs(append([]string{"--no-banner"}, args...))
	err := rootCmd.Execute()
	return h.out.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func TestSetPasswordAndKeys(t *testing.T) {
	h := newHarness(t)
	pw := testutil.TestPassword

	out, err := h.run([]string{pw, pw}, "set-password")
	require.NoError(t, err)
	assert.Contains(t, out, "Password set successfully.")

	out, err = h.run(nil, "keys", "save", "openai", "sk-abcdef123456")
	require.NoError(t, err)
	assert.Contains(t, out, "Saved API key for openai")

	out, err = h.run(nil, "keys", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "- openai")

	out, err = h.run(nil, "keys", "show", "openai")
	require.NoError(t, err)
	assert.Contains(t, out, "API key for openai: sk-abcdef123456")

	out, err = h.run(nil, "keys", "show", "openai", "--masked")
	require.NoError(t, err)
	assert.Contains(t, out, "sk-a*******3456")

	out, err = h.run(nil, "keys", "remove", "openai")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed API key for openai")

	out, err = h.run(nil, "keys", "remove", "openai")
	require.NoError(t, err)
	assert.Contains(t, out, "No API key found for openai")
}

func TestKeysImport(t *testing.T) {
	h := newHarness(t)

	_, err := h.run([]string{"pw", "pw"}, "set-password")
	require.NoError(t, err)

	bundle := filepath.Join(h.dataDir, "keys.json")
	require.NoError(t, os.WriteFile(bundle, []byte(
		`{"api_keys": {"openai": "sk-1", "anthropic": {"api_key": "ak-1"}}}`), 0600))

	out, err := h.run(nil, "keys", "import", bundle)
	require.NoError(t, err)
	assert.Contains(t, out, "Saved API key for anthropic")
	assert.Contains(t, out, "Saved API key for openai")

	out, err = h.run(nil, "keys", "list", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"companies": ["anthropic", "openai"]}`, out)
}

func TestPasswordMismatch(t *testing.T) {
	h := newHarness(t)

	_, err := h.run([]string{"one", "two"}, "set-password")
	assert.ErrorIs(t, err, models.ErrMissingInput)
	assert.NoFileExists(t, filepath.Join(h.dataDir, "lmpi_config.json"))
}

func TestProtectedCommandsNeedPassword(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(nil, "keys", "list")
	assert.ErrorIs(t, err, models.ErrPasswordNotSet)
}

func TestLogoutAndLogin(t *testing.T) {
	h := newHarness(t)
	pw := testutil.TestPassword

	_, err := h.run([]string{pw, pw}, "set-password")
	require.NoError(t, err)

	out, err := h.run(nil, "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged out successfully.")

	// Expired session prompts for the password
	_, err = h.run([]string{"wrong"}, "keys", "list")
	assert.ErrorIs(t, err, models.ErrAuthenticationFailed)

	out, err = h.run([]string{pw}, "keys", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No API keys saved yet.")

	_, err = h.run(nil, "logout")
	require.NoError(t, err)

	out, err = h.run([]string{pw}, "login")
	require.NoError(t, err)
	assert.Contains(t, out, "Session started")
}

func TestChangePasswordKeepsKeys(t *testing.T) {
	h := newHarness(t)

	_, err := h.run([]string{"old", "old"}, "set-password")
	require.NoError(t, err)
	_, err = h.run(nil, "keys", "save", "cohere", "co-key")
	require.NoError(t, err)

	out, err := h.run([]string{"new", "new"}, "set-password")
	require.NoError(t, err)
	assert.Contains(t, out, "Password changed successfully.")

	_, err = h.run(nil, "logout")
	require.NoError(t, err)

	_, err = h.run([]string{"old"}, "login")
	assert.ErrorIs(t, err, models.ErrAuthenticationFailed)

	out, err = h.run([]string{"new"}, "keys", "show", "cohere")
	require.NoError(t, err)
	assert.Contains(t, out, "co-key")
}

func TestResetDiscardsKeys(t *testing.T) {
	h := newHarness(t)

	_, err := h.run([]string{"old", "old"}, "set-password")
	require.NoError(t, err)
	_, err = h.run(nil, "keys", "save", "cohere", "co-key")
	require.NoError(t, err)
	_, err = h.run(nil, "logout")
	require.NoError(t, err)

	// No current password is needed for a reset
	out, err := h.run([]string{"fresh", "fresh"}, "set-password", "--reset")
	require.NoError(t, err)
	assert.Contains(t, out, "Password set successfully.")

	out, err = h.run(nil, "keys", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No API keys saved yet.")
}

func TestStatusJSON(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(nil, "status", "--json")
	require.NoError(t, err)

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, false, status["password_set"])
	assert.Equal(t, false, status["session_active"])

	_, err = h.run([]string{"pw", "pw"}, "set-password")
	require.NoError(t, err)

	out, err = h.run(nil, "status", "--json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, true, status["session_active"])
	assert.Equal(t, filepath.Join(h.dataDir, "lmpi_config.json"), status["config_path"])
}

func TestConfigSaveAndLoad(t *testing.T) {
	h := newHarness(t)

	_, err := h.run([]string{"pw", "pw"}, "set-password")
	require.NoError(t, err)

	_, err = h.run(nil, "config", "save", "--model", "nope")
	assert.ErrorIs(t, err, models.ErrInvalidModel)

	_, err = h.run(nil, "config", "save", "--model", "gpt-4", "--prompt", "hello")
	require.NoError(t, err)

	out, err := h.run(nil, "config", "load")
	require.NoError(t, err)
	assert.Contains(t, out, "model: gpt-4")
	assert.Contains(t, out, "prompt: hello")

	out, err = h.run(nil, "config", "path")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(h.dataDir, "lmpi_config.json"))
}

func TestRunAgainstProvider(t *testing.T) {
	h := newHarness(t)

	ps := testutil.NewProviderServer()
	defer ps.Close()

	settings := filepath.Join(h.dataDir, "lmpi.yaml")
	require.NoError(t, os.WriteFile(settings, []byte(fmt.Sprintf(`
api:
  retry_delay: 1ms
providers:
  huggingface_url: %s
  endpoints:
    openai: %s/v1/completions
`, ps.URL, ps.URL)), 0600))

	_, err := h.run([]string{"pw", "pw"}, "--config", settings, "set-password")
	require.NoError(t, err)

	_, err = h.run(nil, "--config", settings, "run", "--model", "gpt-4", "--prompt", "hi")
	assert.ErrorIs(t, err, models.ErrMissingInput)

	_, err = h.run(nil, "--config", settings, "keys", "save", "openai", "sk-run")
	require.NoError(t, err)

	result := filepath.Join(h.dataDir, "result.json")
	out, err := h.run(nil, "--config", settings, "run",
		"-m", "gpt-4", "-p", "hi", "-o", result, "--save-config")
	require.NoError(t, err)
	assert.Contains(t, out, "completion for test")
	assert.FileExists(t, result)

	// Saved settings drive the next run
	out, err = h.run(nil, "--config", settings, "run", "--load-config", "--json")
	require.NoError(t, err)

	var res map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "gpt-4", res["model"])
	assert.Equal(t, "hi", res["prompt"])

	requests := ps.Requests()
	require.NotEmpty(t, requests)
	assert.Equal(t, "Bearer sk-run", requests[len(requests)-1].Authorization)

	out, err = h.run(nil, "--config", settings, "run", "-m", "gpt2", "-p", "hello")
	require.NoError(t, err)
	assert.Contains(t, out, "generated by gpt2")
}

func TestRunRejectsUnknownModel(t *testing.T) {
	h := newHarness(t)

	_, err := h.run([]string{"pw", "pw"}, "set-password")
	require.NoError(t, err)

	_, err = h.run(nil, "run", "-m", "gpt-99", "-p", "hi")
	assert.ErrorIs(t, err, models.ErrInvalidModel)
}

func TestModelsList(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(nil, "models", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "openai:")
	assert.Contains(t, out, "  - gpt-4")
	assert.Contains(t, out, "huggingface:")
}

func TestAuditCommand(t *testing.T) {
	h := newHarness(t)

	_, err := h.run([]string{"pw", "pw"}, "set-password")
	require.NoError(t, err)
	_, err = h.run(nil, "logout")
	require.NoError(t, err)

	out, err := h.run(nil, "audit", "--json")
	require.NoError(t, err)

	var result struct {
		Events []struct {
			Action string `json:"action"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Len(t, result.Events, 2)
	assert.Equal(t, "logout", result.Events[0].Action)
	assert.Equal(t, "password_set", result.Events[1].Action)
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "****", maskKey("abcd"))
	assert.Equal(t, "sk-1*****7890", maskKey("sk-1234567890"))
}
