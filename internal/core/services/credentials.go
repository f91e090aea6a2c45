package services

import (
	"fmt"

	"github.com/dflow-sh/dflow-sub003/internal/domain"
	"github.com/dflow-sh/dflow-sub003/pkg/utils/crypto"
)

// CredentialResolver turns a stored server into a dialable endpoint by
// decrypting its private key.
type CredentialResolver struct {
	encryptionKey string
	keys          *KeyManager
}

func NewCredentialResolver(encryptionKey string, keys *KeyManager) *CredentialResolver {
	return &CredentialResolver{encryptionKey: encryptionKey, keys: keys}
}

func (r *CredentialResolver) Endpoint(server *domain.Server) (domain.Endpoint, error) {
	ep := domain.Endpoint{
		Key:     domain.ServerKey(server.ID),
		Address: server.Address(),
		User:    server.Username,
	}
	if ep.User == "" {
		ep.User = "root"
	}

	switch {
	case server.PrivateKey != "":
		key, err := crypto.Decrypt(server.PrivateKey, r.encryptionKey)
		if err != nil {
			return domain.Endpoint{}, fmt.Errorf("%w: server %s: %v", ErrDecryptionFailed, server.ID, err)
		}
		ep.PrivateKey = []byte(key)
	case r.keys != nil && r.keys.GetPrivateKey() != "":
		ep.PrivateKey = []byte(r.keys.GetPrivateKey())
	default:
		return domain.Endpoint{}, fmt.Errorf("%w: server %s", ErrServerNoKey, server.ID)
	}
	return ep, nil
}

func (r *CredentialResolver) Encrypt(privateKey string) (string, error) {
	if privateKey == "" {
		return "", nil
	}
	out, err := crypto.Encrypt(privateKey, r.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return out, nil
}
