package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MockTransport provides a mock implementation for testing.
type MockTransport struct {
	mu sync.Mutex

	// Response configuration, keyed by URL
	PostResponses map[string]interface{}

	// Error injection
	PostError error

	// Request tracking
	PostRequests []Request

	closed bool
}

// NewMockTransport creates a mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		PostResponses: make(map[string]interface{}),
		PostRequests:  []Request{},
	}
}

// PostJSON mocks HTTP POST. The configured response is round-tripped
// through JSON into out.
func (m *MockTransport) PostJSON(ctx context.Context, req Request, out interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Track request
	m.PostRequests = append(m.PostRequests, req)

	if err := ctx.Err(); err != nil {
		return err
	}

	// Return configured error
	if m.PostError != nil {
		return m.PostError
	}

	resp, ok := m.PostResponses[req.URL]
	if !ok {
		return fmt.Errorf("no mock response for %s", req.URL)
	}

	if out == nil {
		return nil
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// Close mocks connection closing.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Helper methods for test setup

// AddPostResponse adds a mock POST response.
func (m *MockTransport) AddPostResponse(url string, response interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PostResponses[url] = response
}

// SetError makes every request fail with err.
func (m *MockTransport) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PostError = err
}

// Requests returns a copy of the tracked requests.
func (m *MockTransport) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.PostRequests))
	copy(out, m.PostRequests)
	return out
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
