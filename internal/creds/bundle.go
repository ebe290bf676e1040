// Package creds reads API key bundles for bulk import into the vault.
package creds

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/lmpi-dev/lmpi/internal/models"
)

// Bundle is a plain-text set of API keys. Both the nested and the flat
// form are accepted:
//
//	{"api_keys": {"openai": {"api_key": "sk-..."}}}
//	{"api_keys": {"openai": "sk-..."}}
type Bundle struct {
	APIKeys json.RawMessage `json:"api_keys"`
}

// Parse parses JSON bytes into a Bundle.
func Parse(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: parse key bundle: %v", models.ErrInvalidConfig, err)
	}
	return &b, nil
}

// LoadFromFile loads a Bundle from path. "-" reads standard input.
func LoadFromFile(path string) (*Bundle, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, &models.StorageError{Op: "read", Path: path, Err: err}
	}
	return Parse(data)
}

// Keys returns the company to API key map. Empty keys are skipped.
func (b *Bundle) Keys() (map[string]string, error) {
	keys := make(map[string]string)
	if len(b.APIKeys) == 0 {
		return keys, nil
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(b.APIKeys, &entries); err != nil {
		return nil, fmt.Errorf("%w: api_keys must be an object", models.ErrInvalidConfig)
	}

	for company, raw := range entries {
		// flat format
		var flat string
		if err := json.Unmarshal(raw, &flat); err == nil {
			if flat != "" {
				keys[company] = flat
			}
			continue
		}

		// nested format
		var nested struct {
			APIKey string `json:"api_key"`
		}
		if err := json.Unmarshal(raw, &nested); err != nil {
			return nil, fmt.Errorf("%w: api_keys.%s", models.ErrInvalidConfig, company)
		}
		if nested.APIKey != "" {
			keys[company] = nested.APIKey
		}
	}

	return keys, nil
}

// Companies returns the bundle's companies, sorted.
func Companies(keys map[string]string) []string {
	out := make([]string, 0, len(keys))
	for company := range keys {
		out = append(out, company)
	}
	sort.Strings(out)
	return out
}
