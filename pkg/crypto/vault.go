// Package crypto provides encryption for connection credentials at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

var (
	// ErrKeyMissing is returned when no encryption key is configured.
	// This is fatal at startup; the server must not run without a vault key.
	ErrKeyMissing = errors.New("credentials key missing: must not be empty")
	// ErrDecryptionFailed is returned when ciphertext is malformed or was
	// produced with a different key.
	ErrDecryptionFailed = errors.New("decryption failed: invalid ciphertext or wrong key")
)

// Vault provides AES-256-GCM authenticated encryption for credential blobs.
// Tampered ciphertext fails the GCM authentication check and never decrypts
// to garbage.
type Vault struct {
	gcm cipher.AEAD
}

// NewVault creates a vault from a key string. The key can be:
//   - a base64-encoded 32-byte key (e.g. from: openssl rand -base64 32)
//   - any passphrase (hashed to 32 bytes with SHA-256)
func NewVault(keyInput string) (*Vault, error) {
	if keyInput == "" {
		return nil, ErrKeyMissing
	}

	var key []byte
	decoded, err := base64.StdEncoding.DecodeString(keyInput)
	if err == nil && len(decoded) == 32 {
		key = decoded
	} else {
		hash := sha256.Sum256([]byte(keyInput))
		key = hash[:]
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Vault{gcm: gcm}, nil
}

// Encrypt encrypts plaintext bytes and returns base64(nonce || ciphertext || tag).
func (v *Vault) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, v.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal appends ciphertext and tag to nonce: nonce || ciphertext || tag
	ciphertext := v.gcm.Seal(nonce, nonce, plaintext, nil)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts base64(nonce || ciphertext || tag) back to plaintext bytes.
func (v *Vault) Decrypt(encrypted string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, fmt.Errorf("%w: base64 decode failed", ErrDecryptionFailed)
	}

	nonceSize := v.gcm.NonceSize()
	if len(data) < nonceSize+v.gcm.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := v.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrDecryptionFailed)
	}

	return plaintext, nil
}
