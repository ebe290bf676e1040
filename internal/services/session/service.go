package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/lmpi-dev/lmpi/internal/config"
	"github.com/lmpi-dev/lmpi/internal/crypto"
	"github.com/lmpi-dev/lmpi/internal/events"
	"github.com/lmpi-dev/lmpi/internal/models"
	"github.com/lmpi-dev/lmpi/internal/storage"
)

// Paths locates the files owned by the session manager.
type Paths struct {
	Salt    string
	Session string
}

// Manager derives the vault key and tracks the active session.
type Manager struct {
	paths  Paths
	crypto crypto.Provider
	docs   storage.DocumentStore
	logger *events.Logger

	ttl    time.Duration
	atomic bool
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL sets the default session lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithAtomicWrites writes the session file through a temp file and rename.
func WithAtomicWrites(atomic bool) Option {
	return func(m *Manager) {
		m.atomic = atomic
	}
}

// NewManager creates a session manager. docs is the configuration document
// holding the sentinel entry.
func NewManager(paths Paths, provider crypto.Provider, docs storage.DocumentStore, logger *events.Logger, opts ...Option) *Manager {
	m := &Manager{
		paths:  paths,
		crypto: provider,
		docs:   docs,
		logger: logger.WithField("service", "session"),
		ttl:    config.DefaultSessionTTL,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// DeriveKey derives the vault key for password, creating the salt file on
// first use.
func (m *Manager) DeriveKey(password string) ([]byte, error) {
	salt, err := m.loadOrCreateSalt()
	if err != nil {
		return nil, err
	}

	key, err := m.crypto.DeriveKey(password, salt)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	return key, nil
}

// SessionKey returns the key of an unexpired session.
func (m *Manager) SessionKey() ([]byte, bool) {
	record, err := m.readRecord()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			m.logger.WithError(err).Debug("Ignoring unreadable session file")
		}
		return nil, false
	}

	if record.IsExpiredAt(m.now()) {
		m.logger.WithField("expired_at", record.ExpiresAt().UTC().Format(time.RFC3339)).Debug("Session expired")
		return nil, false
	}

	key, err := crypto.DecodeKey(record.Key)
	if err != nil {
		m.logger.WithError(err).Debug("Ignoring session with malformed key")
		return nil, false
	}

	return key, true
}

// SetSessionKey installs key as the active session for ttl. A non-positive
// ttl uses the configured default.
func (m *Manager) SetSessionKey(key []byte, ttl time.Duration) error {
	if err := crypto.ValidateKeySize(key); err != nil {
		return err
	}

	if ttl <= 0 {
		ttl = m.ttl
	}

	record := models.NewSessionRecord(crypto.EncodeKey(key), m.now(), ttl)
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	if err := storage.WriteFile(m.paths.Session, data, 0600, m.atomic); err != nil {
		return err
	}

	m.logger.WithField("ttl", ttl.String()).Debug("Session installed")
	return nil
}

// StartSession verifies password against the stored sentinel and, on
// success, installs a new session.
func (m *Manager) StartSession(password string) bool {
	return m.Authenticate(password) == nil
}

// Authenticate is StartSession with the failure reason. Nothing is written
// unless the password is correct.
func (m *Manager) Authenticate(password string) error {
	if !m.docs.Exists() {
		return models.ErrPasswordNotSet
	}

	// An existing vault never gets a fresh salt
	salt, err := m.readSalt()
	if err != nil {
		m.logger.WithError(err).Debug("Salt unavailable")
		return fmt.Errorf("%w: %v", models.ErrAuthenticationFailed, err)
	}

	key, err := m.crypto.DeriveKey(password, salt)
	if err != nil {
		m.logger.WithError(err).Debug("Key derivation failed")
		return fmt.Errorf("%w: %v", models.ErrAuthenticationFailed, err)
	}

	if err := m.VerifyKey(key); err != nil {
		m.logger.WithError(err).Debug("Password rejected")
		return err
	}

	if err := m.SetSessionKey(key, 0); err != nil {
		return err
	}

	m.logger.Info("Session started")
	return nil
}

// VerifyKey opens the sentinel entry with key.
func (m *Manager) VerifyKey(key []byte) error {
	entries, err := m.docs.Read()
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrAuthenticationFailed, err)
	}

	token, ok := entries[models.SentinelKey]
	if !ok {
		return fmt.Errorf("%w: verification entry missing", models.ErrAuthenticationFailed)
	}

	plaintext, err := m.crypto.Open(token, key)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrAuthenticationFailed, err)
	}

	var value string
	if err := json.Unmarshal(plaintext, &value); err != nil || value != models.SentinelValue {
		return fmt.Errorf("%w: verification entry mismatch", models.ErrAuthenticationFailed)
	}

	return nil
}

// SealSentinel seals the verification entry under key.
func (m *Manager) SealSentinel(key []byte) (string, error) {
	plaintext, err := json.Marshal(models.SentinelValue)
	if err != nil {
		return "", err
	}
	return m.crypto.Seal(plaintext, key)
}

// IsSessionValid reports whether an unexpired session exists.
func (m *Manager) IsSessionValid() bool {
	_, ok := m.SessionKey()
	return ok
}

// EndSession removes the session file. Ending twice is not an error.
func (m *Manager) EndSession() error {
	if err := os.Remove(m.paths.Session); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &models.StorageError{Op: "remove", Path: m.paths.Session, Err: err}
	}

	m.logger.Info("Session ended")
	return nil
}

// IsPasswordSet reports whether the configuration document exists.
func (m *Manager) IsPasswordSet() bool {
	return m.docs.Exists()
}

// SetPassword establishes password and replaces the configuration document
// with one holding only the verification entry. Existing entries are lost.
func (m *Manager) SetPassword(password string) error {
	key, err := m.DeriveKey(password)
	if err != nil {
		return err
	}

	if err := m.SetSessionKey(key, 0); err != nil {
		return err
	}

	sentinel, err := m.SealSentinel(key)
	if err != nil {
		return fmt.Errorf("seal verification entry: %w", err)
	}

	if err := m.docs.Write(map[string]string{models.SentinelKey: sentinel}); err != nil {
		return err
	}

	m.logger.Info("Password set")
	return nil
}

// Status reports the password and session state.
func (m *Manager) Status() models.SessionStatus {
	status := models.SessionStatus{
		PasswordSet: m.IsPasswordSet(),
	}

	record, err := m.readRecord()
	if err != nil {
		return status
	}

	now := m.now()
	if record.IsExpiredAt(now) {
		return status
	}

	if _, err := crypto.DecodeKey(record.Key); err != nil {
		return status
	}

	status.SessionActive = true
	status.ExpiresAt = record.ExpiresAt()
	status.Remaining = status.ExpiresAt.Sub(now)

	return status
}

// TTL returns the default session lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

func (m *Manager) readRecord() (*models.SessionRecord, error) {
	data, err := os.ReadFile(m.paths.Session)
	if err != nil {
		return nil, err
	}

	var record models.SessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}

	return &record, nil
}

func (m *Manager) readSalt() ([]byte, error) {
	salt, err := os.ReadFile(m.paths.Salt)
	if err != nil {
		return nil, &models.StorageError{Op: "read", Path: m.paths.Salt, Err: err}
	}
	return salt, nil
}

// loadOrCreateSalt returns the stored salt, creating it exactly once.
func (m *Manager) loadOrCreateSalt() ([]byte, error) {
	salt, err := os.ReadFile(m.paths.Salt)
	if err == nil {
		return salt, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, &models.StorageError{Op: "read", Path: m.paths.Salt, Err: err}
	}

	salt, err = crypto.GenerateSalt()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(m.paths.Salt), 0700); err != nil {
		return nil, &models.StorageError{Op: "mkdir", Path: filepath.Dir(m.paths.Salt), Err: err}
	}

	f, err := os.OpenFile(m.paths.Salt, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			// Another process created it first; use theirs
			return m.readSalt()
		}
		return nil, &models.StorageError{Op: "create", Path: m.paths.Salt, Err: err}
	}

	if _, err := f.Write(salt); err != nil {
		_ = f.Close()
		_ = os.Remove(m.paths.Salt)
		return nil, &models.StorageError{Op: "write", Path: m.paths.Salt, Err: err}
	}

	if err := f.Close(); err != nil {
		return nil, &models.StorageError{Op: "close", Path: m.paths.Salt, Err: err}
	}

	m.logger.WithField("path", m.paths.Salt).Debug("Created salt")
	return salt, nil
}
