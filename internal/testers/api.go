package testers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lmpi-dev/lmpi/internal/events"
	"github.com/lmpi-dev/lmpi/internal/registry"
	"github.com/lmpi-dev/lmpi/internal/transport"
)

const anthropicVersion = "2023-06-01"

// APITester posts prompts to a hosted completion endpoint.
type APITester struct {
	entry     registry.Entry
	url       string
	apiKey    string
	transport transport.Transport
	logger    *events.Logger
}

type completionRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// completionResponse covers the OpenAI, Anthropic and Cohere answer shapes.
type completionResponse struct {
	Choices []struct {
		Text    string `json:"text"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Completion  string `json:"completion"`
	Generations []struct {
		Text string `json:"text"`
	} `json:"generations"`
}

func (r *completionResponse) text() (string, bool) {
	switch {
	case len(r.Choices) > 0 && r.Choices[0].Text != "":
		return r.Choices[0].Text, true
	case len(r.Choices) > 0 && r.Choices[0].Message.Content != "":
		return r.Choices[0].Message.Content, true
	case r.Completion != "":
		return r.Completion, true
	case len(r.Generations) > 0:
		return r.Generations[0].Text, true
	}
	return "", false
}

// Test sends prompt to the provider endpoint.
func (a *APITester) Test(ctx context.Context, prompt string) (*Result, error) {
	a.logger.WithField("url", a.url).Info("Testing API model")

	req := transport.Request{
		URL:   a.url,
		Token: a.apiKey,
		Body:  completionRequest{Model: a.entry.Model, Prompt: prompt},
	}
	if a.entry.Provider == "anthropic" {
		req.Headers = map[string]string{
			"x-api-key":         a.apiKey,
			"anthropic-version": anthropicVersion,
		}
	}

	var raw json.RawMessage
	if err := a.transport.PostJSON(ctx, req, &raw); err != nil {
		return nil, fmt.Errorf("test %s: %w", a.entry.Model, err)
	}

	var resp completionResponse
	response, ok := "", false
	if err := json.Unmarshal(raw, &resp); err == nil {
		response, ok = resp.text()
	}
	if !ok {
		// Unknown shape; hand back the body as is
		response = strings.TrimSpace(string(raw))
	}

	return &Result{
		Type:     TypeAPI,
		Provider: a.entry.Provider,
		Model:    a.entry.Model,
		URL:      a.url,
		Prompt:   prompt,
		Response: response,
	}, nil
}
