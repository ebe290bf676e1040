package models

import (
	"math"
	"time"
)

// SessionRecord is the persisted session file.
// Expiry is stored as fractional epoch seconds.
type SessionRecord struct {
	Key    string  `json:"key"`
	Expiry float64 `json:"expiry"`
}

// NewSessionRecord builds a record expiring ttl after now.
func NewSessionRecord(key string, now time.Time, ttl time.Duration) *SessionRecord {
	expiry := now.Add(ttl)
	return &SessionRecord{
		Key:    key,
		Expiry: float64(expiry.Unix()) + float64(expiry.Nanosecond())/float64(time.Second),
	}
}

// ExpiresAt converts the stored expiry to a time.Time.
func (s *SessionRecord) ExpiresAt() time.Time {
	sec, frac := math.Modf(s.Expiry)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}

// IsExpiredAt reports whether the session is no longer valid at t.
// A session is valid strictly before its expiry.
func (s *SessionRecord) IsExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt())
}

// IsExpired checks if the session has expired.
func (s *SessionRecord) IsExpired() bool {
	return s.IsExpiredAt(time.Now())
}

// Reserved entries of the encrypted configuration document.
const (
	// SentinelKey holds a known value sealed under the vault key. Opening it
	// proves a candidate password without storing the password.
	SentinelKey = "test"

	// SentinelValue is the plaintext stored under SentinelKey.
	SentinelValue = "test"

	// APIKeysKey holds the company to API key sub-map.
	APIKeysKey = "api_keys"
)

// SessionStatus is a read-only view of the vault state.
type SessionStatus struct {
	PasswordSet   bool          `json:"password_set"`
	SessionActive bool          `json:"session_active"`
	ExpiresAt     time.Time     `json:"expires_at"`
	Remaining     time.Duration `json:"remaining"`
}
