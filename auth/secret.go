package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"

	"github.com/awnumar/memguard"
)

// Secret holds the OAuth client secret in an encrypted memguard enclave and
// only exposes it for the duration of a callback.
type Secret struct {
	enclave *memguard.Enclave
}

// NewSecret seals value. It returns nil for an empty value so callers can
// treat "no secret configured" as a nil *Secret.
func NewSecret(value string) *Secret {
	if value == "" {
		return nil
	}
	return &Secret{enclave: memguard.NewEnclave([]byte(value))}
}

// IsSet reports whether a secret is configured.
func (s *Secret) IsSet() bool {
	return s != nil && s.enclave != nil
}

// Use opens the enclave and passes the plaintext to fn. The buffer is
// destroyed when fn returns and must not be retained.
func (s *Secret) Use(fn func(secret []byte) error) error {
	if !s.IsSet() {
		return errors.New("client secret not configured")
	}
	buf, err := s.enclave.Open()
	if err != nil {
		return err
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

// SecretHash computes base64(HMAC-SHA256(secret, username+clientID)), the
// per-request signature required by user pool clients that have a secret.
func SecretHash(secret []byte, username, clientID string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(username + clientID))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// secretHashFor computes the hash with the sealed secret.
func (s *Secret) secretHashFor(username, clientID string) (string, error) {
	var hash string
	err := s.Use(func(secret []byte) error {
		hash = SecretHash(secret, username, clientID)
		return nil
	})
	return hash, err
}
