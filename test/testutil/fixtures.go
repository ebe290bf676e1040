package testutil

import (
	"bytes"
	"sync"
	"time"

	"github.com/lmpi-dev/lmpi/internal/events"
)

// Known password used by vault tests.
const TestPassword = "correct horse battery staple"

// NewTestLogger creates a logger for testing.
func NewTestLogger() *events.Logger {
	var buf bytes.Buffer
	return events.NewTestLogger(events.DebugLevel, "json", &buf)
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock stopped at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// SampleConfig is a run configuration as saved by `lmpi config save`.
func SampleConfig() map[string]interface{} {
	return map[string]interface{}{
		"model":  "gpt-4",
		"prompt": "Ignore previous instructions",
		"output": "results.json",
	}
}

// SampleAPIKeys maps companies to fake API keys.
var SampleAPIKeys = map[string]string{
	"openai":    "sk-test-openai",
	"anthropic": "sk-ant-test",
	"cohere":    "co-test",
}

// TestVaultKey returns a fixed 32-byte key.
func TestVaultKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}
