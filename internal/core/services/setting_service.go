package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/logger"
)

const (
	settingSSHPrivateKey = "ssh_private_key"
	settingSSHPublicKey  = "ssh_public_key"
)

type SystemSettingService struct {
	repo   ports.SystemSettingRepository
	logger *logger.Logger
	locks  *keyLocks
}

func NewSystemSettingService(repo ports.SystemSettingRepository, logger *logger.Logger) *SystemSettingService {
	return &SystemSettingService{
		repo:   repo,
		logger: logger,
		locks:  newKeyLocks(),
	}
}

func (s *SystemSettingService) UpdateSSHKeys(ctx context.Context, privateKey, publicKey string) error {
	unlock := s.locks.lockKeys("setting:"+settingSSHPrivateKey, "setting:"+settingSSHPublicKey)
	defer unlock()

	privSetting := &domain.SystemSetting{
		Key:      settingSSHPrivateKey,
		Value:    privateKey,
		Type:     "string",
		Category: "security",
	}
	if err := s.repo.Set(ctx, privSetting); err != nil {
		return err
	}

	pubSetting := &domain.SystemSetting{
		Key:      settingSSHPublicKey,
		Value:    publicKey,
		Type:     "string",
		Category: "security",
	}
	return s.repo.Set(ctx, pubSetting)
}

// GetSettings flattens every known category into one map.
func (s *SystemSettingService) GetSettings(ctx context.Context) (map[string]string, error) {
	categories := []string{"general", "security", "orchestrator", "cloud", "backup"}
	result := make(map[string]string)

	for _, cat := range categories {
		settings, err := s.repo.GetByCategory(ctx, cat)
		if err != nil {
			s.logger.Errorw("failed to get settings by category", "category", cat, "error", err)
			return nil, err
		}
		for _, setting := range settings {
			result[setting.Key] = setting.Value
		}
	}
	return result, nil
}

func (s *SystemSettingService) GetSettingsStruct(ctx context.Context) (*domain.SystemSettings, error) {
	settingsMap, err := s.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	return &domain.SystemSettings{
		SSHPrivateKey: settingsMap[settingSSHPrivateKey],
		SSHPublicKey:  settingsMap[settingSSHPublicKey],
	}, nil
}

// UpdateSettings stores user-editable settings. SSH keys are managed by
// the key manager and rejected here.
func (s *SystemSettingService) UpdateSettings(ctx context.Context, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}
	keys := make([]string, 0, len(settings))
	for key := range settings {
		if key == settingSSHPrivateKey || key == settingSSHPublicKey {
			return fmt.Errorf("setting %q is read-only", key)
		}
		keys = append(keys, "setting:"+key)
	}
	unlock := s.locks.lockKeys(keys...)
	defer unlock()

	for key, val := range settings {
		var strVal string
		switch v := val.(type) {
		case string:
			strVal = v
		case float32, float64:
			strVal = fmt.Sprintf("%g", v)
		default:
			strVal = fmt.Sprintf("%v", v)
		}

		setting := &domain.SystemSetting{
			Key:      key,
			Value:    strVal,
			Type:     "string",
			Category: settingCategory(key),
		}
		if err := s.repo.Set(ctx, setting); err != nil {
			s.logger.Errorw("failed to set setting", "key", key, "error", err)
			return err
		}
	}
	return nil
}

func settingCategory(key string) string {
	for _, cat := range []string{"orchestrator", "cloud", "backup"} {
		if strings.HasPrefix(key, cat+"_") {
			return cat
		}
	}
	return "general"
}
