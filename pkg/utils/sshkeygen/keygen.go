// Package sshkeygen creates ed25519 deploy keys in OpenSSH formats.
package sshkeygen

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

var ErrKeyExists = errors.New("sshkeygen: key file already exists")

// KeyPair is a PEM encoded private key and its authorized_keys line.
type KeyPair struct {
	PrivateKey string
	PublicKey  string
}

// Fingerprint returns the SHA256 fingerprint of the public key.
func (k KeyPair) Fingerprint() (string, error) {
	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(k.PublicKey))
	if err != nil {
		return "", fmt.Errorf("parse public key: %w", err)
	}
	return ssh.FingerprintSHA256(pub), nil
}

// Generate creates a key pair. comment is appended to the public key line
// when set.
func Generate(comment string) (KeyPair, error) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to generate key pair: %w", err)
	}

	privKeyPEM, err := ssh.MarshalPrivateKey(privKey, comment)
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to marshal private key: %w", err)
	}

	sshPubKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to create public key: %w", err)
	}
	pub := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPubKey)))
	if comment != "" {
		pub += " " + comment
	}

	return KeyPair{
		PrivateKey: string(pem.EncodeToMemory(privKeyPEM)),
		PublicKey:  pub + "\n",
	}, nil
}

// WriteFiles stores the pair at privateKeyPath and privateKeyPath+".pub".
// Existing files are kept unless overwrite is set.
func (k KeyPair) WriteFiles(privateKeyPath string, overwrite bool) error {
	publicKeyPath := privateKeyPath + ".pub"
	if !overwrite {
		if _, err := os.Stat(privateKeyPath); err == nil {
			return fmt.Errorf("%w: %s", ErrKeyExists, privateKeyPath)
		}
	}

	if err := os.MkdirAll(filepath.Dir(privateKeyPath), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(privateKeyPath, []byte(k.PrivateKey), 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(publicKeyPath, []byte(k.PublicKey), 0644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}
	return nil
}
