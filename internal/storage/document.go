package storage

import (
	"errors"
)

// Errors
var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrCorruptDocument  = errors.New("corrupt document")
)

// DocumentStore persists the encrypted configuration document: a flat
// JSON object mapping entry names to ciphertext tokens.
type DocumentStore interface {
	// Exists reports whether the document has been written.
	Exists() bool

	// Read returns the stored entries. A missing document yields
	// ErrDocumentNotFound.
	Read() (map[string]string, error)

	// Write replaces the whole document.
	Write(entries map[string]string) error

	// Path returns where the document lives.
	Path() string
}
