package keyrotation_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"testing"

	"github.com/mcpbox/control-plane/internal/cryptoutil"
	"github.com/mcpbox/control-plane/internal/keyrotation"
	"github.com/mcpbox/control-plane/internal/store"
	"github.com/mcpbox/control-plane/pkg/models"
	"github.com/stretchr/testify/require"
)

func keyHex(b byte) string {
	k := make([]byte, 32)
	for i := range k {
		k[i] = b
	}
	return hex.EncodeToString(k)
}

func seedCredential(t *testing.T, s store.Store, box *cryptoutil.Box, id, plaintext string) {
	t.Helper()
	ciphertext, err := box.Encrypt([]byte(plaintext), "credential:"+id+":secret")
	require.NoError(t, err)
	require.NoError(t, s.CreateCredential(context.Background(), &models.Credential{
		ID:         id,
		Name:       id,
		Kind:       models.CredentialKindAPIKey,
		Ciphertext: ciphertext,
	}))
}

func TestRotateReencryptsUnderNewKey(t *testing.T) {
	oldBox, err := cryptoutil.NewBox(keyHex(0x01))
	require.NoError(t, err)
	newBox, err := cryptoutil.NewBox(keyHex(0x02))
	require.NoError(t, err)

	s := store.NewMemoryStore()
	seedCredential(t, s, oldBox, "c1", `{"api_key":"shh"}`)
	seedCredential(t, s, oldBox, "c2", `{"api_key":"also-shh"}`)

	result, err := keyrotation.Rotate(context.Background(), s, oldBox, newBox, false)
	require.NoError(t, err)
	require.Equal(t, 2, result.Rotated)
	require.Empty(t, result.Failed)

	rotated, err := s.GetCredential(context.Background(), "c1")
	require.NoError(t, err)

	_, err = oldBox.Decrypt(rotated.Ciphertext, "credential:c1:secret")
	require.Error(t, err, "ciphertext should no longer open under the old key")

	plaintext, err := newBox.Decrypt(rotated.Ciphertext, "credential:c1:secret")
	require.NoError(t, err)
	require.Equal(t, `{"api_key":"shh"}`, string(plaintext))
}

func TestRotateDryRunWritesNothing(t *testing.T) {
	oldBox, err := cryptoutil.NewBox(keyHex(0x01))
	require.NoError(t, err)
	newBox, err := cryptoutil.NewBox(keyHex(0x02))
	require.NoError(t, err)

	s := store.NewMemoryStore()
	seedCredential(t, s, oldBox, "c1", `{"api_key":"shh"}`)

	result, err := keyrotation.Rotate(context.Background(), s, oldBox, newBox, true)
	require.NoError(t, err)
	require.Equal(t, 1, result.Rotated)
	require.True(t, result.DryRun)

	unchanged, err := s.GetCredential(context.Background(), "c1")
	require.NoError(t, err)
	_, err = oldBox.Decrypt(unchanged.Ciphertext, "credential:c1:secret")
	require.NoError(t, err, "dry run must not rewrite ciphertext")
}

func TestRotateRefusesOnAnyDecryptFailure(t *testing.T) {
	oldBox, err := cryptoutil.NewBox(keyHex(0x01))
	require.NoError(t, err)
	wrongBox, err := cryptoutil.NewBox(keyHex(0x99))
	require.NoError(t, err)
	newBox, err := cryptoutil.NewBox(keyHex(0x02))
	require.NoError(t, err)

	s := store.NewMemoryStore()
	seedCredential(t, s, oldBox, "good", `{"api_key":"shh"}`)
	seedCredential(t, s, wrongBox, "bad", `{"api_key":"oops"}`) // encrypted under a different key

	result, err := keyrotation.Rotate(context.Background(), s, oldBox, newBox, false)
	require.ErrorIs(t, err, keyrotation.ErrDecryptFailures)
	require.Len(t, result.Failed, 1)
	require.Equal(t, "bad", result.Failed[0].CredentialID)

	untouched, err := s.GetCredential(context.Background(), "good")
	require.NoError(t, err)
	_, err = oldBox.Decrypt(untouched.Ciphertext, "credential:good:secret")
	require.NoError(t, err, "a single failing row must block writes to every row, including the good ones")
}

func TestRunCLIRequiresBothKeys(t *testing.T) {
	s := store.NewMemoryStore()
	var buf bytes.Buffer
	err := keyrotation.RunCLI(context.Background(), s, []string{"--old-key=" + keyHex(0x01)}, &buf)
	require.Error(t, err)
}

func TestRunCLIRotatesAndReportsCount(t *testing.T) {
	oldBox, err := cryptoutil.NewBox(keyHex(0x01))
	require.NoError(t, err)
	s := store.NewMemoryStore()
	seedCredential(t, s, oldBox, "c1", `{"api_key":"shh"}`)

	var buf bytes.Buffer
	err = keyrotation.RunCLI(context.Background(), s, []string{
		"--old-key=" + keyHex(0x01),
		"--new-key=" + keyHex(0x02),
	}, &buf)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "rotation complete: 1 credential(s) rotated")
}
