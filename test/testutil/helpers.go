package testutil

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmpi-dev/lmpi/internal/config"
)

// LogEntry represents a captured log entry for testing
type LogEntry struct {
	Level   string                 `json:"level"`
	Message string                 `json:"msg"`
	Fields  map[string]interface{} `json:"-"`
}

// ProviderRequest is one request captured by ProviderServer.
type ProviderRequest struct {
	Path          string
	Authorization string
	UserAgent     string
	Body          map[string]interface{}
}

// ProviderServer fakes the model provider HTTP APIs.
type ProviderServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []ProviderRequest
	failures int
	status   int
}

// NewProviderServer starts a fake provider. Completion endpoints answer in
// the OpenAI shape; /models/<name> answers in the Hugging Face shape.
func NewProviderServer() *ProviderServer {
	ps := &ProviderServer{status: http.StatusServiceUnavailable}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/completions", ps.handleCompletion)
	mux.HandleFunc("/v1/complete", ps.handleCompletion)
	mux.HandleFunc("/v1/generate", ps.handleCompletion)
	mux.HandleFunc("/models/", ps.handleInference)

	ps.Server = httptest.NewServer(mux)
	return ps
}

// FailNext makes the next n requests fail with status.
func (ps *ProviderServer) FailNext(n, status int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.failures = n
	ps.status = status
}

// Requests returns the captured requests.
func (ps *ProviderServer) Requests() []ProviderRequest {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	out := make([]ProviderRequest, len(ps.requests))
	copy(out, ps.requests)
	return out
}

func (ps *ProviderServer) record(r *http.Request) (int, bool) {
	var body map[string]interface{}
	_ = decodeJSON(r.Body, &body)

	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.requests = append(ps.requests, ProviderRequest{
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
		UserAgent:     r.Header.Get("User-Agent"),
		Body:          body,
	})

	if ps.failures > 0 {
		ps.failures--
		return ps.status, true
	}
	return 0, false
}

func (ps *ProviderServer) handleCompletion(w http.ResponseWriter, r *http.Request) {
	if status, fail := ps.record(r); fail {
		w.WriteHeader(status)
		_ = writeJSON(w, map[string]interface{}{
			"error": map[string]interface{}{"code": "overloaded", "message": "try again"},
		})
		return
	}

	if r.Header.Get("Authorization") == "" {
		w.WriteHeader(http.StatusUnauthorized)
		_ = writeJSON(w, map[string]interface{}{
			"error": map[string]interface{}{"code": "invalid_api_key", "message": "missing key"},
		})
		return
	}

	_ = writeJSON(w, map[string]interface{}{
		"id": "cmpl-test",
		"choices": []map[string]interface{}{
			{"text": "completion for test"},
		},
	})
}

func (ps *ProviderServer) handleInference(w http.ResponseWriter, r *http.Request) {
	if status, fail := ps.record(r); fail {
		w.WriteHeader(status)
		_ = writeJSON(w, map[string]interface{}{"error": "model loading"})
		return
	}

	model := strings.TrimPrefix(r.URL.Path, "/models/")
	_ = writeJSON(w, []map[string]interface{}{
		{"generated_text": "generated by " + model},
	})
}

// TestHelpers provides common test utilities.
type TestHelpers struct {
	t       *testing.T
	tempDir string
}

// NewTestHelpers creates test helpers.
func NewTestHelpers(t *testing.T) *TestHelpers {
	return &TestHelpers{
		t:       t,
		tempDir: t.TempDir(),
	}
}

// TempDir returns the temporary directory for this test.
func (h *TestHelpers) TempDir() string {
	return h.tempDir
}

// CreateTempFile creates a temporary file with content.
func (h *TestHelpers) CreateTempFile(name, content string) string {
	path := filepath.Join(h.tempDir, name)

	err := os.MkdirAll(filepath.Dir(path), 0700)
	require.NoError(h.t, err)

	err = os.WriteFile(path, []byte(content), 0600)
	require.NoError(h.t, err)

	return path
}

// AssertFileContent checks file content matches expected.
func (h *TestHelpers) AssertFileContent(path, expectedContent string) {
	content, err := os.ReadFile(path)
	require.NoError(h.t, err)
	assert.Equal(h.t, expectedContent, string(content))
}

// AssertFileMode checks the permission bits of a file.
func (h *TestHelpers) AssertFileMode(path string, mode os.FileMode) {
	info, err := os.Stat(path)
	require.NoError(h.t, err)
	assert.Equal(h.t, mode, info.Mode().Perm(), "mode of %s", path)
}

// TestTimeout provides timeout context for tests.
func TestTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

// TestContext creates a test context with reasonable timeout.
func TestContext() (context.Context, context.CancelFunc) {
	return TestTimeout(30 * time.Second)
}

// TestConfigWithDir creates a test configuration rooted at dataDir.
func TestConfigWithDir(dataDir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Storage.DataDir = dataDir
	cfg.API.Timeout = 5 * time.Second
	cfg.API.RetryDelay = time.Millisecond
	cfg.Log = config.LogConfig{
		Level:  "debug",
		Format: "json",
		Color:  false,
	}
	return cfg
}

// WithProviderServer points every provider endpoint at ps.
func WithProviderServer(cfg *config.Config, ps *ProviderServer) *config.Config {
	cfg.Providers.Endpoints = map[string]string{
		"openai":    ps.URL + "/v1/completions",
		"anthropic": ps.URL + "/v1/complete",
		"cohere":    ps.URL + "/v1/generate",
	}
	cfg.Providers.HuggingFaceURL = ps.URL
	return cfg
}

// LogOutput captures JSON log output for testing.
type LogOutput struct {
	mu      sync.RWMutex
	entries []LogEntry
}

// NewLogOutput creates a new log output capturer.
func NewLogOutput() *LogOutput {
	return &LogOutput{}
}

// Write implements io.Writer to capture log output.
func (lo *LogOutput) Write(p []byte) (n int, err error) {
	var entry LogEntry
	if err := json.Unmarshal(p, &entry); err == nil {
		_ = json.Unmarshal(p, &entry.Fields)
		lo.mu.Lock()
		lo.entries = append(lo.entries, entry)
		lo.mu.Unlock()
	}
	return len(p), nil
}

// Entries returns captured log entries.
func (lo *LogOutput) Entries() []LogEntry {
	lo.mu.RLock()
	defer lo.mu.RUnlock()

	entries := make([]LogEntry, len(lo.entries))
	copy(entries, lo.entries)
	return entries
}

// HasMessage checks if any log entry contains the message.
func (lo *LogOutput) HasMessage(message string) bool {
	lo.mu.RLock()
	defer lo.mu.RUnlock()

	for _, entry := range lo.entries {
		if strings.Contains(entry.Message, message) {
			return true
		}
	}
	return false
}

// Contains reports whether any captured line mentions s anywhere.
func (lo *LogOutput) Contains(s string) bool {
	lo.mu.RLock()
	defer lo.mu.RUnlock()

	for _, entry := range lo.entries {
		if strings.Contains(entry.Message, s) {
			return true
		}
		for _, v := range entry.Fields {
			if str, ok := v.(string); ok && strings.Contains(str, s) {
				return true
			}
		}
	}
	return false
}

func decodeJSON(r io.Reader, v interface{}) error {
	return json.NewDecoder(r).Decode(v)
}

func writeJSON(w http.ResponseWriter, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(v)
}
