package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/meftunca/courier/pkg/types"
)

// PBKDF2Iterations is the fixed iteration count for key derivation.
const PBKDF2Iterations = 100_000

// keySalt is a fixed application salt. Both peers derive the same key from
// the shared secret, so the salt is a constant, not per-message.
var keySalt = []byte("courier-envelope-key-v1")

// Guard signs, verifies, and optionally encrypts envelopes.
type Guard struct {
	signingKey      []byte
	gcm             cipher.AEAD
	maxPayloadBytes int
}

// Config holds guard construction parameters.
type Config struct {
	HMACSecret       string
	EncryptionSecret string
	MaxPayloadBytes  int
}

// NewGuard creates a guard. The HMAC secret is required; the encryption
// secret is optional and only needed when Encrypt/Decrypt are used.
func NewGuard(cfg Config) (*Guard, error) {
	if cfg.HMACSecret == "" {
		return nil, fmt.Errorf("hmac secret is required")
	}

	g := &Guard{
		signingKey:      pbkdf2.Key([]byte(cfg.HMACSecret), keySalt, PBKDF2Iterations, 32, sha256.New),
		maxPayloadBytes: cfg.MaxPayloadBytes,
	}

	if cfg.EncryptionSecret != "" {
		key := pbkdf2.Key([]byte(cfg.EncryptionSecret), keySalt, PBKDF2Iterations, 32, sha256.New)
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create AES cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCM: %w", err)
		}
		g.gcm = gcm
	}

	return g, nil
}

// Sign computes an HMAC-SHA256 signature over the canonical form and
// attaches it together with a fresh created_at stamp.
func (g *Guard) Sign(env *types.Envelope) *types.Envelope {
	env.CreatedAt = time.Now().Unix()
	env.Signature = ""
	env.Signature = g.computeSignature(env)
	return env
}

// Verify recomputes the HMAC and compares in constant time. Envelopes
// without a signature fail closed.
func (g *Guard) Verify(env *types.Envelope) (bool, error) {
	if env.Signature == "" {
		return false, types.ErrAuthentication("envelope is not signed")
	}

	provided := env.Signature
	env.Signature = ""
	expected := g.computeSignature(env)
	env.Signature = provided

	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return false, types.ErrAuthentication("envelope signature mismatch").
			WithDetail("envelope_id", string(env.ID))
	}
	return true, nil
}

// IsFresh reports whether created_at falls inside [now-maxAge, now].
// Stamps in the future are rejected as clock skew.
func (g *Guard) IsFresh(env *types.Envelope, maxAge time.Duration) bool {
	now := time.Now().Unix()
	created := env.CreatedAt
	if created > now {
		return false
	}
	return now-created <= int64(maxAge.Seconds())
}

func (g *Guard) computeSignature(env *types.Envelope) string {
	h := hmac.New(sha256.New, g.signingKey)
	h.Write(env.Canonical())
	return hex.EncodeToString(h.Sum(nil))
}

// encryptedPayload is the payload shape carried by encrypted envelopes.
type encryptedPayload struct {
	Ciphertext string `json:"ciphertext"`
	Nonce      string `json:"nonce"`
	Algorithm  string `json:"algorithm"`
}

const algorithmAESGCM = "aes-256-gcm"

// Encrypt seals the payload with AES-256-GCM and marks the envelope
// encrypted. Encrypting an already-encrypted envelope is a no-op.
func (g *Guard) Encrypt(env *types.Envelope) (*types.Envelope, error) {
	if env.Encrypted {
		return env, nil
	}
	if g.gcm == nil {
		return nil, fmt.Errorf("encryption secret not configured")
	}

	nonce := make([]byte, g.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := g.gcm.Seal(nil, nonce, env.Payload, nil)

	sealed, err := json.Marshal(encryptedPayload{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Algorithm:  algorithmAESGCM,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal encrypted payload: %w", err)
	}

	env.Payload = sealed
	env.Encrypted = true
	return env, nil
}

// Decrypt opens the payload of an encrypted envelope. Decrypting a
// non-encrypted envelope is a no-op.
func (g *Guard) Decrypt(env *types.Envelope) (*types.Envelope, error) {
	if !env.Encrypted {
		return env, nil
	}
	if g.gcm == nil {
		return nil, fmt.Errorf("encryption secret not configured")
	}

	var sealed encryptedPayload
	if err := json.Unmarshal(env.Payload, &sealed); err != nil {
		return nil, types.ErrAuthentication("malformed encrypted payload").WithCause(err)
	}
	if sealed.Algorithm != algorithmAESGCM {
		return nil, types.ErrAuthentication("unsupported encryption algorithm").
			WithDetail("algorithm", sealed.Algorithm)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(sealed.Ciphertext)
	if err != nil {
		return nil, types.ErrAuthentication("malformed ciphertext").WithCause(err)
	}
	nonce, err := base64.StdEncoding.DecodeString(sealed.Nonce)
	if err != nil {
		return nil, types.ErrAuthentication("malformed nonce").WithCause(err)
	}

	plaintext, err := g.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, types.ErrAuthentication("payload decryption failed").WithCause(err)
	}

	env.Payload = plaintext
	env.Encrypted = false
	return env, nil
}

// denyPatterns are payload substrings that produce warnings on structure
// validation. Matches are advisory; consumers decide how to treat them.
var denyPatterns = []string{
	"<script",
	"javascript:",
	"onerror=",
	"'; drop table",
	" union select ",
	"$(",
	"`rm -rf",
	"&& rm ",
	"; rm -rf",
}

// ValidateStructure performs the required-field and size checks (hard
// failures) plus a deny-list pattern scan over the payload (warnings only).
func (g *Guard) ValidateStructure(env *types.Envelope) (bool, []string, error) {
	if err := env.Validate(g.maxPayloadBytes); err != nil {
		return false, nil, err
	}

	var warnings []string
	lower := strings.ToLower(string(env.Payload))
	for _, pattern := range denyPatterns {
		if strings.Contains(lower, pattern) {
			warnings = append(warnings, fmt.Sprintf("payload contains suspicious pattern %q", pattern))
		}
	}
	return true, warnings, nil
}
