// Package registry maps model names to the provider and tester category
// that serve them.
package registry

import (
	"sort"
)

// Tester categories.
const (
	CategoryAPI         = "api"
	CategoryHuggingFace = "huggingface"
)

// Entry describes one known model.
type Entry struct {
	Model    string `json:"model"`
	Provider string `json:"provider"`
	Category string `json:"category"`
}

// table lists models per provider and category, in display order.
var table = []struct {
	provider string
	category string
	models   []string
}{
	{"openai", CategoryAPI, []string{"gpt-3.5-turbo", "gpt-4", "text-davinci-002", "text-davinci-003"}},
	{"anthropic", CategoryAPI, []string{"claude-1", "claude-2", "claude-instant-1"}},
	{"cohere", CategoryAPI, []string{"command", "command-light", "command-nightly"}},
	{"huggingface", CategoryHuggingFace, []string{"bert-base-uncased", "gpt2", "t5-base"}},
}

var index = buildIndex()

func buildIndex() map[string]Entry {
	idx := make(map[string]Entry)
	for _, row := range table {
		for _, model := range row.models {
			idx[model] = Entry{Model: model, Provider: row.provider, Category: row.category}
		}
	}
	return idx
}

// Lookup returns the entry for model.
func Lookup(model string) (Entry, bool) {
	e, ok := index[model]
	return e, ok
}

// Provider returns the provider serving model, or "" if unknown.
func Provider(model string) string {
	return index[model].Provider
}

// Category returns the tester category of model, or "" if unknown.
func Category(model string) string {
	return index[model].Category
}

// IsValid reports whether model is known.
func IsValid(model string) bool {
	_, ok := index[model]
	return ok
}

// List returns the models of every provider.
func List() map[string][]string {
	out := make(map[string][]string, len(table))
	for _, row := range table {
		out[row.provider] = append(out[row.provider], row.models...)
	}
	return out
}

// Providers returns provider names in sorted order.
func Providers() []string {
	seen := make(map[string]bool)
	var providers []string
	for _, row := range table {
		if !seen[row.provider] {
			seen[row.provider] = true
			providers = append(providers, row.provider)
		}
	}
	sort.Strings(providers)
	return providers
}

// Entries returns every model ordered by provider, then table order.
func Entries() []Entry {
	var entries []Entry
	for _, provider := range Providers() {
		for _, row := range table {
			if row.provider != provider {
				continue
			}
			for _, model := range row.models {
				entries = append(entries, index[model])
			}
		}
	}
	return entries
}
