package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/pbkdf2"

	"mpesa-payment-core/internal/domain"
)

const (
	// Application-wide KDF parameters. The salt is fixed on purpose: the
	// derived key must be stable across processes for the same secret.
	keySalt       = "mpesa_encryption_salt_2024"
	keyIterations = 100_000
	keyLength     = 32
)

// EncryptionService protects sensitive strings (phone numbers, reference
// codes) at rest. Key derivation is PBKDF2-HMAC-SHA256 over the configured
// secret; messages are sealed with AES-256-GCM, format base64url(nonce||ct).
// Stateless after construction: safe for concurrent use.
type EncryptionService struct {
	gcm        cipher.AEAD
	derivedKey string // base64url form of the derived key
	ephemeral  bool
}

// NewEncryptionService derives the key from secret. An empty secret yields a
// random per-process key: data encrypted with it is only recoverable within
// this process lifetime, which suits the ephemeral in-flight use case.
func NewEncryptionService(secret string, logger *zerolog.Logger) (*EncryptionService, error) {
	ephemeral := false
	if secret == "" {
		raw := make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, raw); err != nil {
			return nil, fmt.Errorf("generate fallback secret: %w", err)
		}
		secret = base64.URLEncoding.EncodeToString(raw)
		ephemeral = true
		logger.Warn().Msg("no encryption secret configured; generated an ephemeral key")
	}

	key := DeriveKeyBytes(secret)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &EncryptionService{
		gcm:        gcm,
		derivedKey: base64.URLEncoding.EncodeToString(key),
		ephemeral:  ephemeral,
	}, nil
}

// DeriveKeyBytes runs the application KDF over a secret.
func DeriveKeyBytes(secret string) []byte {
	return pbkdf2.Key([]byte(secret), []byte(keySalt), keyIterations, keyLength, sha256.New)
}

// DerivedKey exposes the base64-url-encoded derived key.
func (e *EncryptionService) DerivedKey() string { return e.derivedKey }

// Ephemeral reports whether the key was randomly generated at startup.
func (e *EncryptionService) Ephemeral() bool { return e.ephemeral }

// Encrypt seals plaintext with a fresh nonce. Empty input passes through.
func (e *EncryptionService) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}
	ct := e.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(ct), nil
}

// Decrypt accepts the output of Encrypt. Tampered or mis-keyed input fails
// with domain.ErrDecryption. Empty input passes through.
func (e *EncryptionService) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	data, err := base64.URLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: base64 decode: %v", domain.ErrDecryption, err)
	}
	ns := e.gcm.NonceSize()
	if len(data) < ns {
		return "", fmt.Errorf("%w: ciphertext too short", domain.ErrDecryption)
	}
	nonce, ct := data[:ns], data[ns:]
	pt, err := e.gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("%w: gcm open: %v", domain.ErrDecryption, err)
	}
	return string(pt), nil
}

// Hash returns the first 8 hex chars of SHA-256(data), for log correlation
// only. Not suitable for security-sensitive comparison.
func (e *EncryptionService) Hash(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])[:8]
}
