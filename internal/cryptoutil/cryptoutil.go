// Package cryptoutil implements MCPbox's encryption-at-rest and signing
// primitives: AES-256-GCM with per-field associated data, Argon2id
// password hashing, and HMAC-SHA256 signatures for export/import bundles.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	keySize   = 32 // AES-256
	nonceSize = 12 // GCM standard nonce size
	tagSize   = 16

	argon2Time    = 3
	argon2Memory  = 64 * 1024 // KiB, 64 MiB
	argon2Threads = 4
	argon2KeyLen  = 32
	saltSize      = 16
)

var (
	// ErrCiphertextTooShort is returned when a ciphertext is shorter than
	// nonce+tag and cannot possibly be valid.
	ErrCiphertextTooShort = errors.New("cryptoutil: ciphertext too short")
	// ErrInvalidKey is returned when a hex-encoded key does not decode to
	// exactly 32 bytes.
	ErrInvalidKey = errors.New("cryptoutil: key must be 32 bytes (64 hex chars)")
)

// Box wraps a 256-bit key and encrypts/decrypts fields with AES-256-GCM,
// binding each ciphertext to an "associated data" string (AAD) — typically
// "<entity>:<id>:<field>" — so that swapping ciphertext between rows or
// fields fails to decrypt instead of silently succeeding.
type Box struct {
	key []byte
}

// NewBox builds a Box from a hex-encoded 32-byte key.
func NewBox(hexKey string) (*Box, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: decode key: %w", err)
	}
	if len(key) != keySize {
		return nil, ErrInvalidKey
	}
	return &Box{key: key}, nil
}

// Encrypt returns IV(12B) || ciphertext || tag(16B).
func (b *Box) Encrypt(plaintext []byte, aad string) ([]byte, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	sealed := gcm.Seal(nil, nonce, plaintext, []byte(aad))
	return append(nonce, sealed...), nil
}

// Decrypt reverses Encrypt, verifying the ciphertext was sealed with the
// same AAD string. A mismatched AAD (e.g. ciphertext moved to a different
// row or field) fails closed with an authentication error.
func (b *Box) Decrypt(blob []byte, aad string) ([]byte, error) {
	if len(blob) < nonceSize+tagSize {
		return nil, ErrCiphertextTooShort
	}
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce, sealed := blob[:nonceSize], blob[nonceSize:]
	return gcm.Open(nil, nonce, sealed, []byte(aad))
}

// HashPassword derives an Argon2id hash using spec-mandated parameters
// (3 passes, 64 MiB, parallelism 4) and returns it encoded as
// "argon2id$<hex-salt>$<hex-hash>" so the parameters never drift silently
// between hash and verify.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return fmt.Sprintf("argon2id$%s$%s", hex.EncodeToString(salt), hex.EncodeToString(hash)), nil
}

// VerifyPassword checks a password against an encoded hash produced by
// HashPassword, in constant time.
func VerifyPassword(password, encoded string) (bool, error) {
	parts := splitHash(encoded)
	if len(parts) != 3 || parts[0] != "argon2id" {
		return false, fmt.Errorf("cryptoutil: malformed hash")
	}
	saltHex, hashHex := parts[1], parts[2]

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false, err
	}
	want, err := hex.DecodeString(hashHex)
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func splitHash(encoded string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(encoded); i++ {
		if encoded[i] == '$' {
			parts = append(parts, encoded[start:i])
			start = i + 1
		}
	}
	parts = append(parts, encoded[start:])
	return parts
}

// Sign produces an HMAC-SHA256 signature over canonical JSON, used to
// authenticate export/import bundles.
func Sign(hmacKeyHex string, payload []byte) (string, error) {
	key, err := hex.DecodeString(hmacKeyHex)
	if err != nil {
		return "", fmt.Errorf("cryptoutil: decode hmac key: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifySignature checks an export/import bundle's signature in constant time.
func VerifySignature(hmacKeyHex string, payload []byte, signatureHex string) (bool, error) {
	expected, err := Sign(hmacKeyHex, payload)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(expected), []byte(signatureHex)), nil
}
