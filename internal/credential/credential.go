package credential

import (
	"errors"
	"strings"
	"sync"
)

const encPrefix = "enc:"

// ErrNoKey is returned when encrypting before Init was called with a key.
var ErrNoKey = errors.New("credential: encryption key not initialized")

var (
	encKey []byte
	mu     sync.RWMutex
)

// Init sets the master encryption key. Called once from ServiceContext at startup.
func Init(key []byte) {
	mu.Lock()
	defer mu.Unlock()
	encKey = key
}

// Encrypt encrypts a plaintext string and prepends the "enc:" prefix.
// Returns empty string for empty input.
func Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	mu.RLock()
	k := encKey
	mu.RUnlock()
	if len(k) == 0 {
		return "", ErrNoKey
	}

	ct, err := encryptString(plaintext, k)
	if err != nil {
		return "", err
	}
	return encPrefix + ct, nil
}

// Decrypt decrypts an "enc:"-prefixed value. Values without the prefix
// are plaintext written before encryption was enabled and pass through.
func Decrypt(value string) (string, error) {
	if value == "" || !IsEncrypted(value) {
		return value, nil
	}
	mu.RLock()
	k := encKey
	mu.RUnlock()
	if len(k) == 0 {
		return "", ErrNoKey
	}

	return decryptString(strings.TrimPrefix(value, encPrefix), k)
}

// IsEncrypted returns true if the value has the "enc:" prefix.
func IsEncrypted(s string) bool {
	return strings.HasPrefix(s, encPrefix)
}
