package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashContentStable(t *testing.T) {
	h1 := HashContent("The capital of France is Paris.")
	h2 := HashContent("The capital of France is Paris.")
	require.Equal(t, h1, h2)
	require.Len(t, h1, 64)
	require.NotEqual(t, h1, HashContent("something else"))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	m, err := NewManager(key)
	require.NoError(t, err)

	plaintext := "sensitive memory content"
	ciphertext, err := m.Encrypt([]byte(plaintext), nil)
	require.NoError(t, err)

	decrypted, err := m.Decrypt(ciphertext, nil)
	require.NoError(t, err)
	require.Equal(t, plaintext, string(decrypted))
}

func TestEncryptUsesUniqueNonces(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	m, err := NewManager(key)
	require.NoError(t, err)

	a, err := m.Encrypt([]byte("same plaintext"), nil)
	require.NoError(t, err)
	b, err := m.Encrypt([]byte("same plaintext"), nil)
	require.NoError(t, err)

	require.NotEqual(t, a, b)
	require.NotEqual(t, a[:12], b[:12], "nonces must differ across encryptions")
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	m, err := NewManager(key)
	require.NoError(t, err)

	ciphertext, err := m.Encrypt([]byte("hello"), nil)
	require.NoError(t, err)
	ciphertext[len(ciphertext)-1] ^= 0xFF

	_, err = m.Decrypt(ciphertext, nil)
	require.Error(t, err)
}

func TestDecryptWrongKeyFails(t *testing.T) {
	key1, _ := GenerateKey()
	key2, _ := GenerateKey()
	m1, _ := NewManager(key1)
	m2, _ := NewManager(key2)

	ciphertext, err := m1.Encrypt([]byte("hello"), nil)
	require.NoError(t, err)

	_, err = m2.Decrypt(ciphertext, nil)
	require.Error(t, err)
}

func TestBase64RoundTrip(t *testing.T) {
	key, _ := GenerateKey()
	m, _ := NewManager(key)

	enc, err := m.EncryptToBase64("plaintext value", nil)
	require.NoError(t, err)

	dec, err := m.DecryptFromBase64(enc, nil)
	require.NoError(t, err)
	require.Equal(t, "plaintext value", dec)
}

func TestKeyManagerWrapsUserKey(t *testing.T) {
	masterKey, _ := GenerateKey()
	km, err := NewKeyManager(masterKey)
	require.NoError(t, err)

	userKey, _ := GenerateKey()
	wrapped, err := km.EncryptKey(userKey)
	require.NoError(t, err)

	unwrapped, err := km.DecryptKey(wrapped)
	require.NoError(t, err)
	require.Equal(t, userKey, unwrapped)
}
