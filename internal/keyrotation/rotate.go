// Package keyrotation implements C14: an offline job that re-encrypts every
// credential's ciphertext under a new encryption key, grounded on
// scripts/rotate_encryption_key.py in the original implementation. MCPbox
// collapses that script's four tables (credentials' six BYTEA columns,
// cloudflare_configs, tunnel_configurations, settings) down to one —
// Credential.Ciphertext is the only encrypted column internal/cryptoutil
// touches — so the walk is a single ListCredentials pass rather than a
// hand-rolled query per table.
package keyrotation

import (
	"context"
	"fmt"

	"github.com/mcpbox/control-plane/internal/cryptoutil"
	"github.com/mcpbox/control-plane/internal/store"
	"github.com/mcpbox/control-plane/pkg/models"
	"github.com/rs/zerolog/log"
)

func aad(credentialID string) string {
	return fmt.Sprintf("credential:%s:secret", credentialID)
}

// FailedRow names one credential whose ciphertext would not decrypt under
// the old key.
type FailedRow struct {
	CredentialID string
	Err          error
}

// Result reports what a Rotate call did (or, for a dry run, would do).
type Result struct {
	Rotated int
	Failed  []FailedRow
	DryRun  bool
}

// ErrDecryptFailures is returned when one or more rows fail to decrypt
// under the old key; Rotate writes nothing in that case, matching the
// original script's refusal to let the operator discard the old key with
// ciphertext still stuck behind it.
var ErrDecryptFailures = fmt.Errorf("keyrotation: one or more rows failed to decrypt under the old key")

// Rotate re-encrypts every credential's ciphertext from oldBox's key to
// newBox's key. The AAD (bound to the credential ID, not the key) is
// unchanged by rotation, so decrypting under oldBox and re-encrypting under
// newBox with the same AAD is sufficient — no row ever migrates between
// AAD scopes.
//
// Rotation is two-phase: every row is decrypted under the old key first,
// in memory, before anything is written. If any row fails, Rotate returns
// ErrDecryptFailures and writes nothing at all. Only once every row has
// proven decryptable does the second phase write each row back — one
// UpdateCredential call (one transaction, on a real SQL store) per row,
// so an interruption mid-write leaves already-written rows correctly on
// the new key rather than rolling back a single giant transaction.
func Rotate(ctx context.Context, s store.Store, oldBox, newBox *cryptoutil.Box, dryRun bool) (Result, error) {
	creds, err := s.ListCredentials(ctx, "")
	if err != nil {
		return Result{}, fmt.Errorf("keyrotation: list credentials: %w", err)
	}

	type planned struct {
		cred       models.Credential
		ciphertext []byte
	}
	plan := make([]planned, 0, len(creds))
	var failed []FailedRow

	for _, cred := range creds {
		if cred.Ciphertext == nil {
			continue
		}
		plaintext, err := oldBox.Decrypt(cred.Ciphertext, aad(cred.ID))
		if err != nil {
			failed = append(failed, FailedRow{CredentialID: cred.ID, Err: err})
			log.Warn().Str("credential_id", cred.ID).Err(err).Msg("keyrotation: decrypt failed under old key")
			continue
		}
		ciphertext, err := newBox.Encrypt(plaintext, aad(cred.ID))
		if err != nil {
			return Result{}, fmt.Errorf("keyrotation: re-encrypt credential %s: %w", cred.ID, err)
		}
		plan = append(plan, planned{cred: cred, ciphertext: ciphertext})
	}

	if len(failed) > 0 {
		return Result{Failed: failed, DryRun: dryRun}, ErrDecryptFailures
	}

	if dryRun {
		log.Info().Int("would_rotate", len(plan)).Msg("keyrotation: dry run complete")
		return Result{Rotated: len(plan), DryRun: true}, nil
	}

	result := Result{}
	for _, p := range plan {
		p.cred.Ciphertext = p.ciphertext
		if err := s.UpdateCredential(ctx, &p.cred); err != nil {
			return result, fmt.Errorf("keyrotation: write back credential %s: %w", p.cred.ID, err)
		}
		result.Rotated++
	}

	log.Info().Int("rotated", result.Rotated).Msg("keyrotation: rotation complete")
	return result, nil
}
