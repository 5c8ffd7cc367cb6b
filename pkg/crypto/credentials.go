package crypto

import (
	"encoding/json"
	"fmt"
)

// Credentials is the plaintext connection payload for an external database.
// It exists in decrypted form only inside the process that needs it; the
// persisted representation is always the vault-encrypted blob.
type Credentials struct {
	Host     string            `json:"host,omitempty"`
	Port     int               `json:"port,omitempty"`
	Username string            `json:"username,omitempty"`
	Password string            `json:"password,omitempty"`
	Database string            `json:"database_name"`
	Params   map[string]string `json:"additional_params,omitempty"`
}

// EncryptCredentials serializes and encrypts a credential payload.
func (v *Vault) EncryptCredentials(creds *Credentials) (string, error) {
	raw, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("failed to serialize credentials: %w", err)
	}
	return v.Encrypt(raw)
}

// DecryptCredentials decrypts and deserializes a credential payload.
func (v *Vault) DecryptCredentials(encrypted string) (*Credentials, error) {
	raw, err := v.Decrypt(encrypted)
	if err != nil {
		return nil, err
	}
	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, fmt.Errorf("%w: malformed credential payload", ErrDecryptionFailed)
	}
	return &creds, nil
}
