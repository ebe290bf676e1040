// Package testers sends a prompt to a model and returns what it answered.
package testers

import (
	"context"
	"fmt"

	"github.com/lmpi-dev/lmpi/internal/config"
	"github.com/lmpi-dev/lmpi/internal/events"
	"github.com/lmpi-dev/lmpi/internal/models"
	"github.com/lmpi-dev/lmpi/internal/registry"
	"github.com/lmpi-dev/lmpi/internal/transport"
)

// Result types.
const (
	TypeAPI         = "API"
	TypeHuggingFace = "HuggingFace"
)

// Result is the outcome of one prompt.
type Result struct {
	Type     string `json:"type"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	URL      string `json:"url"`
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

// Tester sends a prompt to one model.
type Tester interface {
	Test(ctx context.Context, prompt string) (*Result, error)
}

// New returns the tester for entry's category. apiKey may be empty for
// Hugging Face models.
func New(entry registry.Entry, apiKey string, cfg *config.Config, t transport.Transport, logger *events.Logger) (Tester, error) {
	logger = logger.WithFields(map[string]interface{}{
		"component": "tester",
		"model":     entry.Model,
		"provider":  entry.Provider,
	})

	switch entry.Category {
	case registry.CategoryAPI:
		url, ok := cfg.Providers.Endpoints[entry.Provider]
		if !ok || url == "" {
			return nil, fmt.Errorf("%w: no endpoint for provider %q", models.ErrInvalidConfig, entry.Provider)
		}
		if apiKey == "" {
			return nil, fmt.Errorf("%w: API key for %s", models.ErrMissingInput, entry.Provider)
		}
		return &APITester{
			entry:     entry,
			url:       url,
			apiKey:    apiKey,
			transport: t,
			logger:    logger,
		}, nil

	case registry.CategoryHuggingFace:
		if cfg.Providers.HuggingFaceURL == "" {
			return nil, fmt.Errorf("%w: no Hugging Face URL", models.ErrInvalidConfig)
		}
		return &HuggingFaceTester{
			entry:     entry,
			baseURL:   cfg.Providers.HuggingFaceURL,
			apiKey:    apiKey,
			transport: t,
			logger:    logger,
		}, nil

	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownCategory, entry.Category)
	}
}
