package security

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
)

var ErrNoIdentity = errors.New("credential identity is not configured")

// CredentialDecryptor turns a stored credential back into the bot token.
type CredentialDecryptor interface {
	DecryptCredential(stored string) (string, error)
}

// AgeSealer encrypts bot tokens to an age X25519 recipient and decrypts them
// with the matching identity. Ciphertext is stored base64 encoded.
type AgeSealer struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// NewAgeSealer parses an AGE-SECRET-KEY-1... identity.
func NewAgeSealer(identity string) (*AgeSealer, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, ErrNoIdentity
	}
	id, err := age.ParseX25519Identity(identity)
	if err != nil {
		return nil, fmt.Errorf("parsing credential identity: %w", err)
	}
	return &AgeSealer{identity: id, recipient: id.Recipient()}, nil
}

// GenerateAgeSealer creates a sealer with a fresh identity and returns the
// identity string so it can be stored in the environment.
func GenerateAgeSealer() (*AgeSealer, string, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, "", fmt.Errorf("generating credential identity: %w", err)
	}
	return &AgeSealer{identity: id, recipient: id.Recipient()}, id.String(), nil
}

// Recipient returns the public age1... key.
func (s *AgeSealer) Recipient() string {
	return s.recipient.String()
}

// SealCredential encrypts a bot token for storage.
func (s *AgeSealer) SealCredential(token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", errors.New("empty credential")
	}
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.recipient)
	if err != nil {
		return "", fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := io.WriteString(w, token); err != nil {
		return "", fmt.Errorf("writing credential: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalizing age encryption: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecryptCredential reverses SealCredential. Errors never contain the plaintext.
func (s *AgeSealer) DecryptCredential(stored string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(stored))
	if err != nil {
		return "", fmt.Errorf("decoding stored credential: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), s.identity)
	if err != nil {
		return "", fmt.Errorf("decrypting stored credential: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading decrypted credential: %w", err)
	}
	return string(plain), nil
}

// CredentialFingerprint is the hex HMAC-SHA256 of a token. It backs the
// one-bot-per-credential unique index without storing the token itself.
func CredentialFingerprint(token, pepper string) string {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(mac.Sum(nil))
}

// MaskCredential keeps the bot id part of a token for log lines.
func MaskCredential(token string) string {
	id, _, found := strings.Cut(token, ":")
	if !found || id == "" {
		return "***"
	}
	return id + ":***"
}
