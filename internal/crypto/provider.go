package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/unicode/norm"
)

const (
	// TokenVersion is the first byte of every sealed token.
	TokenVersion byte = 0x01

	// Key sizes
	KeySize   = 32 // AES-256
	NonceSize = 12 // GCM standard
	TagSize   = 16 // GCM tag

	// PBKDF2 parameters
	DefaultIterations = 100000
	SaltSize          = 16
)

// Errors
var (
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	ErrInvalidKey        = errors.New("invalid key size")
	ErrDecryptionFailed  = errors.New("decryption failed")
	ErrUnsupportedToken  = errors.New("unsupported token version")
)

var tokenEncoding = base64.URLEncoding

// CryptoProvider handles all cryptographic operations.
type CryptoProvider struct {
	iterations int
}

// NewProvider creates a crypto provider. Work factors below
// DefaultIterations are raised to it.
func NewProvider(iterations int) Provider {
	if iterations < DefaultIterations {
		iterations = DefaultIterations
	}
	return &CryptoProvider{
		iterations: iterations,
	}
}

// Iterations returns the PBKDF2 work factor.
func (p *CryptoProvider) Iterations() int {
	return p.iterations
}

// normalizeText normalizes Unicode text to NFKC form so that visually
// identical passwords derive the same key.
func normalizeText(s string) string {
	return norm.NFKC.String(s)
}

// DeriveKey derives the vault key using PBKDF2-HMAC-SHA256.
func (p *CryptoProvider) DeriveKey(password string, salt []byte) ([]byte, error) {
	if len(salt) < SaltSize {
		return nil, fmt.Errorf("salt too short: %d bytes", len(salt))
	}

	key := pbkdf2.Key(
		[]byte(normalizeText(password)),
		salt,
		p.iterations,
		KeySize,
		sha256.New,
	)

	return key, nil
}

// Seal encrypts plaintext and returns
// base64url(version || nonce || ciphertext || tag).
func (p *CryptoProvider) Seal(plaintext, key []byte) (string, error) {
	sealed, err := EncryptData(plaintext, key)
	if err != nil {
		return "", err
	}

	buf := make([]byte, 0, 1+len(sealed))
	buf = append(buf, TokenVersion)
	buf = append(buf, sealed...)

	return tokenEncoding.EncodeToString(buf), nil
}

// Open decrypts a token produced by Seal.
func (p *CryptoProvider) Open(token string, key []byte) ([]byte, error) {
	raw, err := tokenEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}

	if len(raw) == 0 {
		return nil, ErrInvalidCiphertext
	}

	if raw[0] != TokenVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedToken, raw[0])
	}

	return DecryptData(raw[1:], key)
}

// GenerateSalt returns SaltSize random bytes.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// EncodeKey encodes a key as padded URL-safe base64.
func EncodeKey(key []byte) string {
	return base64.URLEncoding.EncodeToString(key)
}

// DecodeKey reverses EncodeKey and checks the key size.
func DecodeKey(s string) ([]byte, error) {
	key, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if err := ValidateKeySize(key); err != nil {
		return nil, err
	}
	return key, nil
}
