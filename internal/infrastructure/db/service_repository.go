package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/logger"
	"gorm.io/gorm"
)

type serviceRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewServiceRepository(db *gorm.DB, log *logger.Logger) ports.ServiceRepository {
	return &serviceRepository{db: db, log: log}
}

func (r *serviceRepository) Create(ctx context.Context, service *domain.Service) error {
	if err := r.db.WithContext(ctx).Create(service).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("service %s: %w", service.Name, domain.ErrAlreadyExists)
		}
		r.log.Errorw("service_repo_create_failed", "name", service.Name, "server_id", service.ServerID, "error", err)
		return err
	}
	r.log.Infow("service_repo_create_ok", "id", service.ID, "name", service.Name)
	return nil
}

func (r *serviceRepository) GetByID(ctx context.Context, id string) (*domain.Service, error) {
	var service domain.Service
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&service).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("service %s: %w", id, domain.ErrNotFound)
		}
		r.log.Errorw("service_repo_get_failed", "id", id, "error", err)
		return nil, err
	}
	return &service, nil
}

func (r *serviceRepository) GetByName(ctx context.Context, serverID, name string) (*domain.Service, error) {
	var service domain.Service
	err := r.db.WithContext(ctx).Where("server_id = ? AND name = ?", serverID, name).First(&service).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("service %s on %s: %w", name, serverID, domain.ErrNotFound)
		}
		r.log.Errorw("service_repo_get_by_name_failed", "server_id", serverID, "name", name, "error", err)
		return nil, err
	}
	return &service, nil
}

func (r *serviceRepository) ListByServer(ctx context.Context, serverID string) ([]domain.Service, error) {
	var services []domain.Service
	if err := r.db.WithContext(ctx).Where("server_id = ?", serverID).Order("name").Find(&services).Error; err != nil {
		r.log.Errorw("service_repo_list_failed", "server_id", serverID, "error", err)
		return nil, err
	}
	return services, nil
}

func (r *serviceRepository) Update(ctx context.Context, id string, patch domain.ServicePatch) error {
	cols := patch.Columns()
	if len(cols) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).Model(&domain.Service{}).Where("id = ?", id).Updates(cols)
	if res.Error != nil {
		r.log.Errorw("service_repo_update_failed", "id", id, "error", res.Error)
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("service %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *serviceRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Service{}).Error; err != nil {
		r.log.Errorw("service_repo_delete_failed", "id", id, "error", err)
		return err
	}
	r.log.Infow("service_repo_delete_ok", "id", id)
	return nil
}
