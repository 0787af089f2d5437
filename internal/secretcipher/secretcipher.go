// Package secretcipher protects OAuth client secrets at rest. Secrets are
// stored as compact JWEs encrypted with a direct symmetric key, so the
// plaintext never touches the database.
package secretcipher

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwe"
)

const keySize = 32

type Cipher struct {
	key []byte
}

// New creates a cipher around a 32-byte key.
func New(key []byte) (*Cipher, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("encryption key must be exactly %d bytes, got %d", keySize, len(key))
	}

	return &Cipher{key: key}, nil
}

// Encrypt encrypts a client secret into a compact JWE string.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	b, err := jwe.Encrypt(
		[]byte(plaintext),
		jwe.WithKey(jwa.DIRECT, c.key),
		jwe.WithContentEncryption(jwa.A256GCM),
	)
	if err != nil {
		return "", fmt.Errorf("could not encrypt secret: %w", err)
	}

	return string(b), nil
}

// Decrypt recovers a client secret from its stored JWE form. A failure here
// is terminal for whatever request needed the secret.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	b, err := jwe.Decrypt([]byte(ciphertext), jwe.WithKey(jwa.DIRECT, c.key))
	if err != nil {
		return "", fmt.Errorf("could not decrypt secret: %w", err)
	}

	return string(b), nil
}

// GenerateKey returns a fresh random key of the right size.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("could not generate key: %w", err)
	}

	return key, nil
}

// KeyFromBase64 decodes a standard-base64 key as produced by KeyToBase64.
func KeyFromBase64(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("could not decode key: %w", err)
	}

	if len(key) != keySize {
		return nil, fmt.Errorf("encryption key must be exactly %d bytes, got %d", keySize, len(key))
	}

	return key, nil
}

func KeyToBase64(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}
