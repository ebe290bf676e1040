package transport

import (
	"context"
)

// Request is one JSON POST to a provider.
type Request struct {
	URL     string
	Token   string            // Sent as a bearer token when set
	Headers map[string]string // Extra headers
	Body    interface{}
}

// Transport sends JSON requests to model providers.
type Transport interface {
	// PostJSON sends req and decodes the response body into out.
	PostJSON(ctx context.Context, req Request, out interface{}) error

	// Close releases idle connections.
	Close() error
}
