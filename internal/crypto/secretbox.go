// Package crypto seals AI provider API keys at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// ErrCiphertextTooShort is returned when a sealed value is shorter than a nonce.
var ErrCiphertextTooShort = errors.New("ciphertext too short")

// SecretBox encrypts and decrypts short secrets with AES-256-GCM.
// Sealed values are base64(nonce || ciphertext).
type SecretBox struct {
	gcm cipher.AEAD
}

// NewSecretBox creates a SecretBox from a base64-encoded 32-byte key.
func NewSecretBox(base64Key string) (*SecretBox, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("encryption key is required")
	}

	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encryption key: %w", err)
	}
	return newSecretBox(key)
}

// NewSecretBoxFromPassphrase derives the AES key from an arbitrary passphrase.
// Only meant for development setups without AI_ENCRYPTION_KEY.
func NewSecretBoxFromPassphrase(passphrase string) (*SecretBox, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase is required")
	}
	sum := sha256.Sum256([]byte(passphrase))
	return newSecretBox(sum[:])
}

func newSecretBox(key []byte) (*SecretBox, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes for AES-256, got %d bytes", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher block: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM mode: %w", err)
	}

	return &SecretBox{gcm: gcm}, nil
}

// Encrypt seals plaintext. An empty plaintext seals to an empty string.
func (b *SecretBox) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, b.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := b.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (b *SecretBox) Decrypt(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	nonceSize := b.gcm.NonceSize()
	if len(raw) < nonceSize {
		return "", ErrCiphertextTooShort
	}

	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := b.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}
