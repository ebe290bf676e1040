package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error codes for structured error handling.
const (
	ErrCodeNoSession   = "NO_SESSION"
	ErrCodeAuth        = "AUTH_ERROR"
	ErrCodeDecryption  = "DECRYPTION_ERROR"
	ErrCodeStorage     = "STORAGE_ERROR"
	ErrCodeValidation  = "VALIDATION_ERROR"
	ErrCodeConfig      = "CONFIG_ERROR"
	ErrCodeServerError = "SERVER_ERROR"
)

// Sentinel errors
var (
	ErrNoSession            = errors.New("no valid session")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrDecryptionFailed     = errors.New("decryption failed")
	ErrPasswordNotSet       = errors.New("no password set")
	ErrReservedKey          = errors.New("reserved configuration key")
	ErrInvalidModel         = errors.New("invalid model")
	ErrMissingInput         = errors.New("missing required input")
	ErrUnknownCategory      = errors.New("unknown model category")
	ErrInvalidConfig        = errors.New("invalid configuration")
)

// Code maps an error onto one of the ErrCode constants.
func Code(err error) string {
	var storageErr *StorageError
	var apiErr *APIError

	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoSession):
		return ErrCodeNoSession
	case errors.Is(err, ErrAuthenticationFailed):
		return ErrCodeAuth
	case errors.Is(err, ErrDecryptionFailed):
		return ErrCodeDecryption
	case errors.As(err, &storageErr):
		return ErrCodeStorage
	case errors.As(err, &apiErr):
		return ErrCodeServerError
	case errors.Is(err, ErrInvalidConfig):
		return ErrCodeConfig
	case errors.Is(err, ErrReservedKey),
		errors.Is(err, ErrInvalidModel),
		errors.Is(err, ErrMissingInput),
		errors.Is(err, ErrUnknownCategory),
		errors.Is(err, ErrPasswordNotSet):
		return ErrCodeValidation
	default:
		return ""
	}
}

// APIError represents an error returned by a model provider.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	RequestID  string `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// StorageError wraps a filesystem failure on one of the vault files.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// DecryptError represents a decryption failure of a single configuration entry.
type DecryptError struct {
	Key string
	Err error
}

func (e *DecryptError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("decrypt %q: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("decrypt: %v", e.Err)
}

// Unwrap always reports ErrDecryptionFailed alongside the cause.
func (e *DecryptError) Unwrap() []error {
	return []error{ErrDecryptionFailed, e.Err}
}

// LoadError collects the entries that could not be opened during a load.
// The entries that did decrypt are still returned to the caller.
type LoadError struct {
	Failures map[string]error
}

func (e *LoadError) Error() string {
	keys := e.Keys()
	return fmt.Sprintf("%d configuration entries could not be decrypted: %s",
		len(keys), strings.Join(keys, ", "))
}

// Keys returns the failed entry names in sorted order.
func (e *LoadError) Keys() []string {
	keys := make([]string, 0, len(e.Failures))
	for k := range e.Failures {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e *LoadError) Unwrap() error {
	return ErrDecryptionFailed
}
