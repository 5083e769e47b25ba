// Package crypto provides content hashing and authenticated symmetric
// encryption (C1). Despite the historical "XChaCha20" naming this code was
// ported from, the wire format uses a 96-bit (12-byte) nonce — standard
// ChaCha20-Poly1305, not its 192-bit-nonce XChaCha20 sibling.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"

	fabricerrors "github.com/memcortex/fabric/internal/errors"
)

const KeySize = chacha20poly1305.KeySize // 32 bytes

// secretStoreSalt is fixed, not random: the master secret is unique per
// install, so a static salt here doesn't weaken the derivation, and a fixed
// salt is what makes DeriveSecretStoreKey deterministic across restarts.
var secretStoreSalt = []byte("memcortex-oauth-tokens-v1")

const secretStoreIterations = 100_000

// DeriveSecretStoreKey turns an operator-supplied master secret into a
// 32-byte AEAD key via PBKDF2-HMAC-SHA256, used only for internal/secrets'
// OAuth token vault — a separate key from the content-encryption key so a
// compromise of one doesn't expose the other.
func DeriveSecretStoreKey(masterSecret string) []byte {
	return pbkdf2.Key([]byte(masterSecret), secretStoreSalt, secretStoreIterations, KeySize, sha256.New)
}

// HashContent returns the hex-encoded SHA-256 digest of content, used as the
// stable, collision-acceptable dedup key on (user, content_hash).
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Manager encrypts and decrypts with a single 256-bit key. Each Encrypt call
// draws a fresh random nonce; the wire format is nonce ∥ ciphertext ∥ tag.
type Manager struct {
	aead   interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
		Overhead() int
	}
	key []byte
}

// NewManager builds a Manager from an existing 32-byte key.
func NewManager(key []byte) (*Manager, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("crypto: key must be exactly %d bytes, got %d", KeySize, len(key))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: constructing AEAD: %w", err)
	}
	return &Manager{aead: aead, key: key}, nil
}

// NewManagerFromBase64Key decodes a base64-encoded 32-byte key.
func NewManagerFromBase64Key(keyB64 string) (*Manager, error) {
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding base64 key: %w", err)
	}
	return NewManager(key)
}

// GenerateKey returns a fresh random 32-byte key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("crypto: generating key: %w", err)
	}
	return key, nil
}

// Key returns the manager's raw key. Callers must store it securely; loss of
// the key means permanent data loss for everything it encrypted.
func (m *Manager) Key() []byte { return m.key }

// ExportKeyBase64 returns the key base64-encoded, for storage/transport.
func (m *Manager) ExportKeyBase64() string { return base64.StdEncoding.EncodeToString(m.key) }

// Encrypt authenticates and encrypts plaintext, returning nonce ∥ ciphertext
// ∥ tag. associatedData may be nil.
func (m *Manager) Encrypt(plaintext, associatedData []byte) ([]byte, error) {
	nonce := make([]byte, m.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}
	sealed := m.aead.Seal(nil, nonce, plaintext, associatedData)
	return append(nonce, sealed...), nil
}

// Decrypt verifies and decrypts data produced by Encrypt. Tampered input or
// the wrong key surfaces as ErrDecryption/ErrTamperDetected.
func (m *Manager) Decrypt(data, associatedData []byte) ([]byte, error) {
	nonceSize := m.aead.NonceSize()
	if len(data) < nonceSize+m.aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", fabricerrors.ErrDecryption)
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := m.aead.Open(nil, nonce, ciphertext, associatedData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fabricerrors.ErrTamperDetected, err)
	}
	return plaintext, nil
}

// EncryptToBase64 encrypts and base64-encodes, for storage in text columns.
func (m *Manager) EncryptToBase64(plaintext string, associatedData []byte) (string, error) {
	encrypted, err := m.Encrypt([]byte(plaintext), associatedData)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(encrypted), nil
}

// DecryptFromBase64 is the inverse of EncryptToBase64.
func (m *Manager) DecryptFromBase64(encryptedB64 string, associatedData []byte) (string, error) {
	encrypted, err := base64.StdEncoding.DecodeString(encryptedB64)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding base64 ciphertext: %w", err)
	}
	plaintext, err := m.Decrypt(encrypted, associatedData)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// KeyManager wraps per-user keys under a master key using the same AEAD
// construction, so a compromised user key never exposes the master secret
// and vice versa.
type KeyManager struct {
	master *Manager
}

// NewKeyManager builds a KeyManager from an existing 32-byte master key.
func NewKeyManager(masterKey []byte) (*KeyManager, error) {
	m, err := NewManager(masterKey)
	if err != nil {
		return nil, err
	}
	return &KeyManager{master: m}, nil
}

// EncryptKey wraps a user key under the master key.
func (k *KeyManager) EncryptKey(key []byte) ([]byte, error) { return k.master.Encrypt(key, nil) }

// DecryptKey unwraps a user key that was wrapped with EncryptKey.
func (k *KeyManager) DecryptKey(encryptedKey []byte) ([]byte, error) {
	return k.master.Decrypt(encryptedKey, nil)
}
