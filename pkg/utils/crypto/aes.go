// Package crypto seals server private keys at rest with AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"
)

var (
	ErrInvalidKey        = errors.New("crypto: invalid encryption key")
	ErrEncryptionFailed  = errors.New("crypto: encryption failed")
	ErrDecryptionFailed  = errors.New("crypto: decryption failed")
	ErrInvalidCipherText = errors.New("crypto: invalid cipher text")
)

// sealedPrefix marks values written by Seal. Values without it are the
// legacy bare base64 format and are still accepted by Open.
const sealedPrefix = "v1:"

// Sealer encrypts short secrets with a key derived from a passphrase.
type Sealer struct {
	aead cipher.AEAD
}

func NewSealer(passphrase string) (*Sealer, error) {
	if passphrase == "" {
		return nil, ErrInvalidKey
	}
	sum := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, ErrInvalidKey
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrInvalidKey
	}
	return &Sealer{aead: aead}, nil
}

// Seal returns "v1:" followed by base64(nonce || ciphertext).
func (s *Sealer) Seal(plainText string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", ErrEncryptionFailed
	}
	out := s.aead.Seal(nonce, nonce, []byte(plainText), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(out), nil
}

func (s *Sealer) Open(sealed string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil {
		return "", ErrInvalidCipherText
	}
	n := s.aead.NonceSize()
	if len(data) < n {
		return "", ErrInvalidCipherText
	}
	plain, err := s.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

// IsSealed reports whether v carries the current format marker.
func IsSealed(v string) bool {
	return strings.HasPrefix(v, sealedPrefix)
}

// Encrypt seals plainText with key.
func Encrypt(plainText string, key string) (string, error) {
	s, err := NewSealer(key)
	if err != nil {
		return "", err
	}
	return s.Seal(plainText)
}

// Decrypt opens a value produced by Encrypt with the same key.
func Decrypt(cipherText string, key string) (string, error) {
	s, err := NewSealer(key)
	if err != nil {
		return "", err
	}
	return s.Open(cipherText)
}
