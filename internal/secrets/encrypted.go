package secrets

import (
	"database/sql/driver"
	"encoding/base64"
	"errors"
	"fmt"
)

// encryptionKey is the package-level AES-256 key used by EncryptedString.
// It must be initialized once at startup via InitEncryption before any
// repository read/write touches an encrypted column.
var encryptionKey []byte

// InitEncryption sets the AES-256 key used to encrypt and decrypt sensitive
// columns at rest (OAuth tokens, git-host tokens). Call once during startup,
// after the master key has been loaded — cmd/controller/main.go does this
// before storage.Provide, since the first credential read/write may touch
// an encrypted column:
//
//	provider, _ := secrets.NewMasterKeyProvider(cfg.Server.DataDir)
//	secrets.InitEncryption(provider.Key())
func InitEncryption(key []byte) error {
	if len(key) != MasterKeySize {
		return fmt.Errorf("secrets: encryption key must be exactly %d bytes, got %d", MasterKeySize, len(key))
	}
	encryptionKey = make([]byte, MasterKeySize)
	copy(encryptionKey, key)
	return nil
}

// EncryptedString is a string transparently encrypted with AES-256-GCM
// before being written to the database, and decrypted after being read.
// Use it for any storage column holding an OAuth/git-host token at rest.
//
// The stored value is base64(nonce + ciphertext); an empty string is
// stored as an empty string without encryption.
type EncryptedString string

// Value implements driver.Valuer, called by database/sql before writing.
func (e EncryptedString) Value() (driver.Value, error) {
	if e == "" {
		return "", nil
	}
	if encryptionKey == nil {
		return nil, errors.New("secrets: encryption key not initialized, call InitEncryption first")
	}

	ciphertext, nonce, err := Encrypt([]byte(e), encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("secrets: encrypt column: %w", err)
	}

	return base64.StdEncoding.EncodeToString(append(nonce, ciphertext...)), nil
}

// Scan implements sql.Scanner, called by database/sql after reading.
func (e *EncryptedString) Scan(value interface{}) error {
	if value == nil {
		*e = ""
		return nil
	}

	var str string
	switch v := value.(type) {
	case string:
		str = v
	case []byte:
		str = string(v)
	default:
		return fmt.Errorf("secrets: EncryptedString.Scan: expected string, got %T", value)
	}
	if str == "" {
		*e = ""
		return nil
	}
	if encryptionKey == nil {
		return errors.New("secrets: encryption key not initialized, call InitEncryption first")
	}

	data, err := base64.StdEncoding.DecodeString(str)
	if err != nil {
		return fmt.Errorf("secrets: decode base64: %w", err)
	}
	if len(data) < gcmNonceSize {
		return errors.New("secrets: encrypted data too short to contain nonce")
	}

	nonce, ciphertext := data[:gcmNonceSize], data[gcmNonceSize:]
	plaintext, err := Decrypt(ciphertext, nonce, encryptionKey)
	if err != nil {
		return fmt.Errorf("secrets: decrypt value: %w", err)
	}

	*e = EncryptedString(plaintext)
	return nil
}

// gcmNonceSize is the standard AES-GCM nonce length used by Encrypt/Decrypt.
const gcmNonceSize = 12
