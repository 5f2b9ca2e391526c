package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/neboloop/nexus/internal/keyring"
	"github.com/neboloop/nexus/internal/logging"
)

// ResolveKey returns the 32-byte master key. Order: NEXUS_ENCRYPTION_KEY,
// the OS keychain (when useKeychain and available), then a key file in dataDir.
// A fresh key is generated and stored in the first writable location.
func ResolveKey(dataDir string, useKeychain bool) ([]byte, error) {
	if key := os.Getenv("NEXUS_ENCRYPTION_KEY"); key != "" {
		decoded, err := hex.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("invalid NEXUS_ENCRYPTION_KEY: must be hex encoded: %w", err)
		}
		if len(decoded) != 32 {
			return nil, fmt.Errorf("invalid NEXUS_ENCRYPTION_KEY: must be 32 bytes (256 bits)")
		}
		return decoded, nil
	}

	if useKeychain && keyring.Available() {
		key, err := keyring.Get()
		if err == nil && len(key) == 32 {
			return key, nil
		}
		if err != nil && !keyring.IsNotFound(err) {
			logging.Warnf("[Credential] keychain read failed, falling back to key file: %v", err)
		} else {
			key, err = newKey()
			if err != nil {
				return nil, err
			}
			if err := keyring.Set(key); err == nil {
				return key, nil
			}
			logging.Warnf("[Credential] keychain write failed, falling back to key file")
		}
	}

	keyFile := filepath.Join(dataDir, ".nexus-key")
	if data, err := os.ReadFile(keyFile); err == nil {
		decoded, err := hex.DecodeString(string(data))
		if err == nil && len(decoded) == 32 {
			return decoded, nil
		}
	}

	key, err := newKey()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(keyFile, []byte(hex.EncodeToString(key)), 0600); err != nil {
		return nil, fmt.Errorf("failed to persist encryption key: %w", err)
	}
	return key, nil
}

func newKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}
	return key, nil
}

// encryptString encrypts plaintext using AES-256-GCM
func encryptString(plaintext string, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(ciphertext), nil
}

// decryptString decrypts ciphertext using AES-256-GCM
func decryptString(ciphertext string, key []byte) (string, error) {
	data, err := hex.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, cipherdata := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, cipherdata, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}
