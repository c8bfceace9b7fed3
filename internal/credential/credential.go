// Package credential seals API keys before they are written to the local
// configuration table and masks them for display. Keys are encrypted with
// AES-256-GCM under a key derived from this machine and user, so a copied
// database is useless elsewhere.
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// SealedPrefix marks values as encrypted in storage
const SealedPrefix = "sealed:v1:"

var (
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrInvalidFormat    = errors.New("invalid sealed format")
)

// SecretKeyPatterns match configuration keys whose values are sealed.
var SecretKeyPatterns = []string{"*.api_key", "api_key", "*.token"}

// IsSecretKey reports whether a configuration key holds key material.
func IsSecretKey(key string) bool {
	key = strings.ToLower(key)
	for _, pattern := range SecretKeyPatterns {
		if ok, err := doublestar.Match(pattern, key); err == nil && ok {
			return true
		}
	}
	return false
}

// Manager seals and opens credential values.
type Manager struct {
	aead cipher.AEAD
}

// PassphraseEnv names the variable that replaces the machine-derived key.
const PassphraseEnv = "STORYLOOM_PASSPHRASE"

// FromEnv uses the passphrase in PassphraseEnv when set and the machine key
// otherwise.
func FromEnv() (*Manager, error) {
	if p := os.Getenv(PassphraseEnv); p != "" {
		return NewManagerWithPassphrase(p)
	}
	return NewManager()
}

// NewManager derives the sealing key from machine and user identifiers.
func NewManager() (*Manager, error) {
	return NewManagerWithPassphrase(machineEntropy())
}

// NewManagerWithPassphrase derives the sealing key from passphrase. Tests and
// hosts that keep their own secret use it.
func NewManagerWithPassphrase(passphrase string) (*Manager, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase must not be empty")
	}
	key := sha256.Sum256([]byte("storyloom-credential-v1\x00" + passphrase))

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Manager{aead: aead}, nil
}

// Seal encrypts plaintext into a storable string. Empty input stays empty.
func (m *Manager) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, m.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := m.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return SealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal. Values without the prefix are
// returned unchanged, so keys set through the environment or by hand in an
// older database still work.
func (m *Manager) Open(stored string) (string, error) {
	if !IsSealed(stored) {
		return stored, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, SealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64: %v", ErrInvalidFormat, err)
	}

	n := m.aead.NonceSize()
	if len(raw) < n {
		return "", ErrInvalidFormat
	}
	plaintext, err := m.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// IsSealed checks if a value is already encrypted.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, SealedPrefix)
}

func machineEntropy() string {
	var b strings.Builder

	hostname, _ := os.Hostname()
	home, _ := os.UserHomeDir()
	b.WriteString(hostname)
	b.WriteString(home)
	b.WriteString(runtime.GOOS)
	b.WriteString(runtime.GOARCH)

	// UID is -1 on Windows.
	if uid := os.Getuid(); uid != -1 {
		fmt.Fprintf(&b, "uid:%d", uid)
	}
	if username := os.Getenv("USER"); username != "" {
		b.WriteString(username)
	}
	return b.String()
}

// Mask returns a display form of a secret that shows at most its first and
// last four characters.
func Mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 12 {
		return "****"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
