package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lmpi-dev/lmpi/internal/crypto"
	"github.com/lmpi-dev/lmpi/internal/events"
	"github.com/lmpi-dev/lmpi/internal/models"
	"github.com/lmpi-dev/lmpi/internal/storage"
)

// KeySource supplies the session key. It is implemented by session.Manager.
type KeySource interface {
	SessionKey() ([]byte, bool)
	DeriveKey(password string) ([]byte, error)
	SetSessionKey(key []byte, ttl time.Duration) error
	SealSentinel(key []byte) (string, error)
	VerifyKey(key []byte) error
}

// Store keeps configuration values encrypted one entry at a time.
type Store struct {
	keys   KeySource
	crypto crypto.Provider
	docs   storage.DocumentStore
	logger *events.Logger
}

// NewStore creates a configuration store.
func NewStore(keys KeySource, provider crypto.Provider, docs storage.DocumentStore, logger *events.Logger) *Store {
	return &Store{
		keys:   keys,
		crypto: provider,
		docs:   docs,
		logger: logger.WithField("service", "vault"),
	}
}

// Path returns the configuration document path.
func (s *Store) Path() string {
	return s.docs.Path()
}

// Save replaces the stored configuration with values.
func (s *Store) Save(values map[string]interface{}) error {
	key, err := s.writeKey()
	if err != nil {
		return err
	}

	if err := checkReserved(values); err != nil {
		return err
	}

	entries, err := s.sealAll(values, key)
	if err != nil {
		return err
	}

	if err := s.docs.Write(entries); err != nil {
		return err
	}

	s.logger.WithField("entries", len(values)).Debug("Configuration saved")
	return nil
}

// Load returns the stored configuration. Entries that cannot be decrypted
// are left out and reported in a *models.LoadError next to the entries that
// could.
func (s *Store) Load() (map[string]interface{}, error) {
	if !s.docs.Exists() {
		return map[string]interface{}{}, nil
	}

	key, err := s.sessionKey()
	if err != nil {
		return nil, err
	}

	values, _, err := s.open(key)
	return values, err
}

// Update merges partial into the stored configuration. Entries that cannot
// be decrypted are kept as they are unless partial replaces them. The
// session key must open the verification entry first.
func (s *Store) Update(partial map[string]interface{}) error {
	key, err := s.writeKey()
	if err != nil {
		return err
	}

	if err := checkReserved(partial); err != nil {
		return err
	}

	current := map[string]interface{}{}
	raw := map[string]string{}
	var failed []string

	if s.docs.Exists() {
		var loadErr *models.LoadError
		current, raw, err = s.open(key)
		if err != nil {
			if !errors.As(err, &loadErr) {
				return err
			}
			failed = loadErr.Keys()
		}
	}

	for k, v := range partial {
		current[k] = v
	}

	entries, err := s.sealAll(current, key)
	if err != nil {
		return err
	}

	var kept int
	for _, k := range failed {
		if _, replaced := partial[k]; replaced {
			continue
		}
		entries[k] = raw[k]
		kept++
	}

	if kept > 0 {
		s.logger.WithField("kept", kept).Warn("Preserving entries that could not be decrypted")
	}

	if err := s.docs.Write(entries); err != nil {
		return err
	}

	s.logger.WithField("updated", len(partial)).Debug("Configuration updated")
	return nil
}

// SaveAPIKey stores apiKey for company.
func (s *Store) SaveAPIKey(company, apiKey string) error {
	if err := s.SaveAPIKeys(map[string]string{company: apiKey}); err != nil {
		return err
	}

	s.logger.WithField("company", company).Info("API key saved")
	return nil
}

// SaveAPIKeys stores several API keys with a single write.
func (s *Store) SaveAPIKeys(add map[string]string) error {
	for company, apiKey := range add {
		if strings.TrimSpace(company) == "" || apiKey == "" {
			return fmt.Errorf("%w: company and API key", models.ErrMissingInput)
		}
	}

	keys, err := s.apiKeys()
	if err != nil {
		return err
	}

	for company, apiKey := range add {
		keys[company] = apiKey
	}

	return s.Update(map[string]interface{}{models.APIKeysKey: keys})
}

// APIKey returns the API key stored for company.
func (s *Store) APIKey(company string) (string, bool, error) {
	keys, err := s.apiKeys()
	if err != nil {
		return "", false, err
	}

	apiKey, ok := keys[company]
	return apiKey, ok, nil
}

// RemoveAPIKey deletes the API key for company. It reports whether a key
// was removed; nothing is written otherwise.
func (s *Store) RemoveAPIKey(company string) (bool, error) {
	keys, err := s.apiKeys()
	if err != nil {
		return false, err
	}

	if _, ok := keys[company]; !ok {
		return false, nil
	}

	delete(keys, company)
	if err := s.Update(map[string]interface{}{models.APIKeysKey: keys}); err != nil {
		return false, err
	}

	s.logger.WithField("company", company).Info("API key removed")
	return true, nil
}

// ListCompanies returns the companies with a stored API key, sorted.
func (s *Store) ListCompanies() ([]string, error) {
	keys, err := s.apiKeys()
	if err != nil {
		return nil, err
	}

	companies := make([]string, 0, len(keys))
	for company := range keys {
		companies = append(companies, company)
	}
	sort.Strings(companies)

	return companies, nil
}

// ChangePassword re-encrypts every entry under a key derived from
// newPassword and installs it as the session. Nothing is written if the
// session key does not open the vault or any entry cannot be decrypted.
func (s *Store) ChangePassword(newPassword string) error {
	key, err := s.writeKey()
	if err != nil {
		return err
	}

	values := map[string]interface{}{}
	if s.docs.Exists() {
		values, _, err = s.open(key)
		if err != nil {
			return fmt.Errorf("change password: %w", err)
		}
	}

	newKey, err := s.keys.DeriveKey(newPassword)
	if err != nil {
		return err
	}

	entries, err := s.sealAll(values, newKey)
	if err != nil {
		return err
	}

	// Install the new session first; a failed write restores the old key
	if err := s.keys.SetSessionKey(newKey, 0); err != nil {
		return err
	}

	if err := s.docs.Write(entries); err != nil {
		if restoreErr := s.keys.SetSessionKey(key, 0); restoreErr != nil {
			s.logger.WithError(restoreErr).Error("Failed to restore previous session")
		}
		return err
	}

	s.logger.WithField("entries", len(values)).Info("Password changed")
	return nil
}

func (s *Store) sessionKey() ([]byte, error) {
	key, ok := s.keys.SessionKey()
	if !ok {
		return nil, models.ErrNoSession
	}
	return key, nil
}

// writeKey returns the session key once it has opened the stored
// verification entry. A key that cannot must never re-seal the document.
func (s *Store) writeKey() ([]byte, error) {
	key, err := s.sessionKey()
	if err != nil {
		return nil, err
	}

	if !s.docs.Exists() {
		return key, nil
	}

	if err := s.keys.VerifyKey(key); err != nil {
		s.logger.WithError(err).Warn("Session key does not open the vault")
		return nil, fmt.Errorf("session key rejected: %w", err)
	}

	return key, nil
}

// open decrypts every user entry of the document. raw holds the document
// as read.
func (s *Store) open(key []byte) (map[string]interface{}, map[string]string, error) {
	raw, err := s.docs.Read()
	if err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			return map[string]interface{}{}, map[string]string{}, nil
		}
		return nil, nil, err
	}

	values := make(map[string]interface{}, len(raw))
	failures := make(map[string]error)

	for name, token := range raw {
		if name == models.SentinelKey {
			continue
		}

		plaintext, err := s.crypto.Open(token, key)
		if err != nil {
			failures[name] = &models.DecryptError{Key: name, Err: err}
			continue
		}

		var value interface{}
		if err := json.Unmarshal(plaintext, &value); err != nil {
			failures[name] = &models.DecryptError{Key: name, Err: err}
			continue
		}

		values[name] = value
	}

	if len(failures) > 0 {
		loadErr := &models.LoadError{Failures: failures}
		s.logger.WithField("keys", strings.Join(loadErr.Keys(), ",")).Warn("Some entries could not be decrypted")
		return values, raw, loadErr
	}

	return values, raw, nil
}

// sealAll encrypts each value separately and adds the verification entry.
func (s *Store) sealAll(values map[string]interface{}, key []byte) (map[string]string, error) {
	entries := make(map[string]string, len(values)+1)

	for name, value := range values {
		plaintext, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode %q: %w", name, err)
		}

		token, err := s.crypto.Seal(plaintext, key)
		if err != nil {
			return nil, fmt.Errorf("seal %q: %w", name, err)
		}

		entries[name] = token
	}

	sentinel, err := s.keys.SealSentinel(key)
	if err != nil {
		return nil, fmt.Errorf("seal verification entry: %w", err)
	}
	entries[models.SentinelKey] = sentinel

	return entries, nil
}

// apiKeys returns a copy of the API key sub-map. A decryption failure of
// the sub-map itself is returned; failures of unrelated entries are not.
func (s *Store) apiKeys() (map[string]string, error) {
	values, err := s.Load()
	if err != nil {
		var loadErr *models.LoadError
		if !errors.As(err, &loadErr) {
			return nil, err
		}
		if failure, ok := loadErr.Failures[models.APIKeysKey]; ok {
			return nil, failure
		}
	}

	keys := make(map[string]string)
	sub, ok := values[models.APIKeysKey].(map[string]interface{})
	if !ok {
		return keys, nil
	}

	for company, v := range sub {
		if apiKey, ok := v.(string); ok {
			keys[company] = apiKey
		}
	}

	return keys, nil
}

func checkReserved(values map[string]interface{}) error {
	if _, ok := values[models.SentinelKey]; ok {
		return fmt.Errorf("%w: %q", models.ErrReservedKey, models.SentinelKey)
	}
	return nil
}
