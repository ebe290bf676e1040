package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/lmpi-dev/lmpi/internal/config"
	"github.com/lmpi-dev/lmpi/internal/events"
	"github.com/lmpi-dev/lmpi/internal/models"
)

// maxResponseSize caps how much of a provider response is read.
const maxResponseSize = 10 << 20

// HTTPClient handles HTTP communication with model providers.
type HTTPClient struct {
	client    *http.Client
	userAgent string
	logger    *events.Logger

	// Retry configuration
	maxRetries int
	retryDelay time.Duration
}

// NewHTTPClient creates an HTTP client.
func NewHTTPClient(cfg *config.APIConfig, logger *events.Logger) *HTTPClient {
	// Create transport with HTTP/2 support
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			NextProtos: []string{"h2", "http/1.1"},
		},
	}

	// Configure HTTP/2
	if err := http2.ConfigureTransport(transport); err != nil {
		logger.WithError(err).Warn("Failed to configure HTTP/2")
	}

	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		userAgent:  cfg.UserAgent,
		maxRetries: cfg.MaxRetries,
		retryDelay: retryDelay,
		logger:     logger.WithField("component", "http_client"),
	}
}

// PostJSON sends a JSON POST request and decodes the response into out.
func (c *HTTPClient) PostJSON(ctx context.Context, r Request, out interface{}) error {
	body, err := json.Marshal(r.Body)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	logger := c.logger
	if op := events.GetOperation(ctx); op != "" {
		logger = logger.WithField("op", op)
	}

	// Headers are never logged; they carry API keys
	logger.WithFields(map[string]interface{}{
		"method": http.MethodPost,
		"url":    r.URL,
		"size":   len(body),
	}).Debug("Sending request")

	var respBody []byte
	err = c.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		if r.Token != "" {
			req.Header.Set("Authorization", "Bearer "+r.Token)
		}
		for k, v := range r.Headers {
			req.Header.Set(k, v)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		logger.WithFields(map[string]interface{}{
			"status": resp.StatusCode,
			"size":   len(data),
		}).Debug("Received response")

		if resp.StatusCode != http.StatusOK {
			return parseAPIError(resp, data)
		}

		respBody = data
		return nil
	})
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}

	return nil
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// retry executes a function with exponential backoff.
func (c *HTTPClient) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := c.retryDelay

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WithFields(map[string]interface{}{
				"attempt": attempt,
				"delay":   delay.String(),
			}).Debug("Retrying request")

			select {
			case <-time.After(delay):
				delay *= 2 // Exponential backoff
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		// Check if error is retryable
		if !c.isRetryableError(err) {
			return err
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// isRetryable checks if an HTTP status code is retryable.
func (c *HTTPClient) isRetryable(status int) bool {
	return status == http.StatusTooManyRequests ||
		(status >= 500 && status < 600)
}

// isRetryableError checks if an error is retryable. Provider errors are
// retried only for throttling and server failures; network errors always.
func (c *HTTPClient) isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *models.APIError
	if errors.As(err, &apiErr) {
		return c.isRetryable(apiErr.StatusCode)
	}

	return true
}

// parseAPIError builds an APIError from the common provider error shapes:
// {"error": {"code": .., "message": ..}}, {"error": ".."} and {"message": ..}.
func parseAPIError(resp *http.Response, body []byte) error {
	apiErr := &models.APIError{
		Code:       http.StatusText(resp.StatusCode),
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("X-Request-Id"),
	}

	var payload struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}

	if err := json.Unmarshal(body, &payload); err == nil {
		var nested struct {
			Code    interface{} `json:"code"`
			Type    string      `json:"type"`
			Message string      `json:"message"`
		}
		var text string

		switch {
		case json.Unmarshal(payload.Error, &nested) == nil && nested.Message != "":
			apiErr.Message = nested.Message
			if nested.Code != nil {
				apiErr.Code = fmt.Sprint(nested.Code)
			} else if nested.Type != "" {
				apiErr.Code = nested.Type
			}
		case json.Unmarshal(payload.Error, &text) == nil && text != "":
			apiErr.Message = text
		case payload.Message != "":
			apiErr.Message = payload.Message
		}
	}

	if apiErr.Message == "" {
		apiErr.Message = string(bytes.TrimSpace(body))
	}

	return apiErr
}
