package testers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/lmpi-dev/lmpi/internal/events"
	"github.com/lmpi-dev/lmpi/internal/registry"
	"github.com/lmpi-dev/lmpi/internal/transport"
)

// HuggingFaceTester queries the Hugging Face inference API.
type HuggingFaceTester struct {
	entry     registry.Entry
	baseURL   string
	apiKey    string
	transport transport.Transport
	logger    *events.Logger
}

type inferenceRequest struct {
	Inputs string `json:"inputs"`
}

type generated struct {
	GeneratedText string `json:"generated_text"`
}

// URL returns the inference endpoint of the model.
func (h *HuggingFaceTester) URL() string {
	return strings.TrimRight(h.baseURL, "/") + "/models/" + url.PathEscape(h.entry.Model)
}

// Test runs prompt through the model.
func (h *HuggingFaceTester) Test(ctx context.Context, prompt string) (*Result, error) {
	endpoint := h.URL()
	h.logger.WithField("url", endpoint).Info("Testing Hugging Face model")

	var raw json.RawMessage
	err := h.transport.PostJSON(ctx, transport.Request{
		URL:   endpoint,
		Token: h.apiKey,
		Body:  inferenceRequest{Inputs: prompt},
	}, &raw)
	if err != nil {
		return nil, fmt.Errorf("test %s: %w", h.entry.Model, err)
	}

	return &Result{
		Type:     TypeHuggingFace,
		Provider: h.entry.Provider,
		Model:    h.entry.Model,
		URL:      endpoint,
		Prompt:   prompt,
		Response: generatedText(raw),
	}, nil
}

// generatedText accepts both the list and the single object answer.
func generatedText(raw json.RawMessage) string {
	var list []generated
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0].GeneratedText
	}

	var single generated
	if err := json.Unmarshal(raw, &single); err == nil && single.GeneratedText != "" {
		return single.GeneratedText
	}

	return strings.TrimSpace(string(raw))
}
