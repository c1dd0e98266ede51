package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/teranos/netpulse/errors"
)

const (
	sealPrefix = "v1:"

	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
	keyLen       = 32
)

// ErrSealedSecret is returned when a sealed secret is read without a Sealer
// or with the wrong passphrase.
var ErrSealedSecret = errors.New("sealed secret cannot be opened")

// Sealer encrypts secrets at rest with AES-256-GCM under an argon2id key.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the sealing key from passphrase and salt.
func NewSealer(passphrase, salt string) (*Sealer, error) {
	if passphrase == "" {
		return nil, errors.NewConfigurationError("secrets passphrase is empty")
	}
	if salt == "" {
		return nil, errors.NewConfigurationError("secrets salt is empty")
	}
	key := argon2.IDKey([]byte(passphrase), []byte(salt), argonTime, argonMemory, argonThreads, keyLen)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create GCM")
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext into a printable envelope
func (s *Sealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Wrap(err, "failed to generate nonce")
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts an envelope produced by Seal
func (s *Sealer) Open(envelope string) (string, error) {
	if !strings.HasPrefix(envelope, sealPrefix) {
		return "", errors.Wrap(ErrSealedSecret, "unknown envelope version")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(envelope, sealPrefix))
	if err != nil {
		return "", errors.Wrap(ErrSealedSecret, "malformed envelope")
	}
	n := s.aead.NonceSize()
	if len(raw) < n {
		return "", errors.Wrap(ErrSealedSecret, "envelope too short")
	}
	plain, err := s.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", errors.Wrap(ErrSealedSecret, "authentication failed")
	}
	return string(plain), nil
}
