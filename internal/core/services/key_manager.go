package services

import (
	"context"
	"fmt"

	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/logger"
	"github.com/dflow-sh/dflow-sub003/pkg/utils/sshkeygen"
)

// KeyManager owns the platform deploy key. Servers onboarded without a key
// of their own are reached with it.
type KeyManager struct {
	settingService *SystemSettingService
	logger         *logger.Logger
	privateKey     string
	publicKey      string
}

func NewKeyManager(settingService *SystemSettingService, logger *logger.Logger) *KeyManager {
	return &KeyManager{
		settingService: settingService,
		logger:         logger,
	}
}

func (km *KeyManager) Initialize(ctx context.Context) error {
	settings, err := km.settingService.GetSettingsStruct(ctx)
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	if settings.SSHPrivateKey != "" && settings.SSHPublicKey != "" {
		km.privateKey = settings.SSHPrivateKey
		km.publicKey = settings.SSHPublicKey
		km.logger.Info("SSH keys loaded from database")
		return nil
	}

	km.logger.Info("Generating new SSH key pair...")
	priv, pub, err := GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("failed to generate keys: %w", err)
	}
	if err := km.settingService.UpdateSSHKeys(ctx, priv, pub); err != nil {
		return fmt.Errorf("failed to save keys: %w", err)
	}
	km.privateKey, km.publicKey = priv, pub

	km.logger.Info("SSH keys generated and saved to database")
	return nil
}

func (km *KeyManager) GetPublicKey() string {
	return km.publicKey
}

func (km *KeyManager) GetPrivateKey() string {
	return km.privateKey
}

// GenerateKeyPair returns a PEM encoded ed25519 private key and its
// authorized_keys line.
func GenerateKeyPair() (privateKey, publicKey string, err error) {
	pair, err := sshkeygen.Generate("dflow")
	if err != nil {
		return "", "", err
	}
	return pair.PrivateKey, pair.PublicKey, nil
}
