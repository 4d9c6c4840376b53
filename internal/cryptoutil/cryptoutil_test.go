package cryptoutil_test

import (
	"encoding/hex"
	"testing"

	"github.com/mcpbox/control-plane/internal/cryptoutil"
	"github.com/stretchr/testify/require"
)

func testKey() string {
	return hex.EncodeToString(make([]byte, 32))
}

func TestBoxEncryptDecryptRoundtrip(t *testing.T) {
	box, err := cryptoutil.NewBox(testKey())
	require.NoError(t, err)

	ciphertext, err := box.Encrypt([]byte("super-secret-token"), "credential:abc:value")
	require.NoError(t, err)

	plaintext, err := box.Decrypt(ciphertext, "credential:abc:value")
	require.NoError(t, err)
	require.Equal(t, "super-secret-token", string(plaintext))
}

func TestBoxDecryptFailsOnAADMismatch(t *testing.T) {
	box, err := cryptoutil.NewBox(testKey())
	require.NoError(t, err)

	ciphertext, err := box.Encrypt([]byte("super-secret-token"), "credential:abc:value")
	require.NoError(t, err)

	// Simulate a ciphertext-swap attack: same blob, different field/row AAD.
	_, err = box.Decrypt(ciphertext, "credential:xyz:value")
	require.Error(t, err)
}

func TestNewBoxRejectsWrongKeyLength(t *testing.T) {
	_, err := cryptoutil.NewBox(hex.EncodeToString(make([]byte, 16)))
	require.ErrorIs(t, err, cryptoutil.ErrInvalidKey)
}

func TestPasswordHashVerify(t *testing.T) {
	hash, err := cryptoutil.HashPassword("correct horse battery staple")
	require.NoError(t, err)

	ok, err := cryptoutil.VerifyPassword("correct horse battery staple", hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = cryptoutil.VerifyPassword("wrong password", hash)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSignVerifySignature(t *testing.T) {
	key := testKey()
	payload := []byte(`{"servers":[]}`)

	sig, err := cryptoutil.Sign(key, payload)
	require.NoError(t, err)

	ok, err := cryptoutil.VerifySignature(key, payload, sig)
	require.NoError(t, err)
	require.True(t, ok)

	ok, _ = cryptoutil.VerifySignature(key, []byte(`{"servers":[{}]}`), sig)
	require.False(t, ok)
}
