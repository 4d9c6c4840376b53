// Package credential implements C8: credential storage encrypted at rest
// via internal/cryptoutil, with a redacted read path (list/get never
// return plaintext) and a single Resolve path used by the gateway to
// build a server's secret map before dispatching into the sandbox.
package credential

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcpbox/control-plane/internal/cryptoutil"
	"github.com/mcpbox/control-plane/internal/store"
	"github.com/mcpbox/control-plane/pkg/contracts"
	"github.com/mcpbox/control-plane/pkg/models"
	"github.com/rs/zerolog/log"
)

var _ contracts.CredentialService = (*Service)(nil)

// Service owns credential encryption/decryption. One instance per
// process, built with the process's cryptoutil.Box.
type Service struct {
	store store.Store
	box   *cryptoutil.Box
}

func NewService(s store.Store, box *cryptoutil.Box) *Service {
	return &Service{store: s, box: box}
}

func aad(id string) string {
	return fmt.Sprintf("credential:%s:secret", id)
}

// Create encrypts secret (a flat key-value map, e.g. {"api_key": "..."})
// and stores the credential. ID is assigned here so the AAD can bind to
// it before the first encrypt.
func (s *Service) Create(ctx context.Context, c *models.Credential, secret map[string]string) error {
	c.ID = uuid.New().String()

	plaintext, err := json.Marshal(secret)
	if err != nil {
		return fmt.Errorf("marshal credential secret: %w", err)
	}

	ciphertext, err := s.box.Encrypt(plaintext, aad(c.ID))
	if err != nil {
		return fmt.Errorf("encrypt credential: %w", err)
	}
	c.Ciphertext = ciphertext

	return s.store.CreateCredential(ctx, c)
}

// Update re-encrypts secret under the same credential ID (AAD unchanged).
func (s *Service) Update(ctx context.Context, c *models.Credential, secret map[string]string) error {
	plaintext, err := json.Marshal(secret)
	if err != nil {
		return fmt.Errorf("marshal credential secret: %w", err)
	}

	ciphertext, err := s.box.Encrypt(plaintext, aad(c.ID))
	if err != nil {
		return fmt.Errorf("encrypt credential: %w", err)
	}
	c.Ciphertext = ciphertext

	return s.store.UpdateCredential(ctx, c)
}

// Decrypt returns the plaintext secret map for one credential. Its callers
// are the sandbox-secret-injection path (ResolveServerSecrets), the OAuth
// flows in internal/oauth, and external-source tool discovery.
func (s *Service) Decrypt(ctx context.Context, credentialID string) (map[string]string, error) {
	cred, err := s.store.GetCredential(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	plaintext, err := s.box.Decrypt(cred.Ciphertext, aad(cred.ID))
	if err != nil {
		return nil, fmt.Errorf("decrypt credential %s: %w", credentialID, err)
	}

	var secret map[string]string
	if err := json.Unmarshal(plaintext, &secret); err != nil {
		return nil, fmt.Errorf("unmarshal credential %s: %w", credentialID, err)
	}
	return secret, nil
}

// ResolveServerSecrets builds the flat os.getenv-style secret map a
// server's sandboxed tools see, by decrypting every ServerSecret bound to
// serverID. A decrypt failure for one secret does not abort the others —
// it is logged as a warning and that binding's key is left out of the map,
// so the tool sees it as unset.
func (s *Service) ResolveServerSecrets(ctx context.Context, serverID string) (map[string]string, error) {
	bindings, err := s.store.ListServerSecrets(ctx, serverID)
	if err != nil {
		return nil, err
	}

	resolved := make(map[string]string, len(bindings))
	for _, binding := range bindings {
		secret, err := s.Decrypt(ctx, binding.CredentialID)
		if err != nil {
			log.Warn().Err(err).Str("server_id", serverID).Str("secret_key", binding.Key).Msg("failed to decrypt server secret, leaving it unset")
			continue
		}
		// A credential may itself carry several fields (e.g. oauth tokens);
		// for a plain api_key/basic credential the convention is a single
		// "value" field keyed to the binding's Key.
		if v, ok := secret["value"]; ok {
			resolved[binding.Key] = v
			continue
		}
		for k, v := range secret {
			resolved[fmt.Sprintf("%s_%s", binding.Key, k)] = v
		}
	}
	return resolved, nil
}
