package crypto

// Provider defines the interface for cryptographic operations.
type Provider interface {
	// DeriveKey derives the vault key from a password and salt.
	DeriveKey(password string, salt []byte) ([]byte, error)

	// Seal encrypts plaintext into a self-contained ciphertext token.
	Seal(plaintext, key []byte) (string, error)

	// Open decrypts a token produced by Seal.
	Open(token string, key []byte) ([]byte, error)
}
