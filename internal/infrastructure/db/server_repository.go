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

type serverRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewServerRepository(db *gorm.DB, log *logger.Logger) ports.ServerRepository {
	return &serverRepository{db: db, log: log}
}

func (r *serverRepository) Create(ctx context.Context, server *domain.Server) error {
	if err := r.db.WithContext(ctx).Create(server).Error; err != nil {
		r.log.Errorw("server_repo_create_failed", "ip", server.IP, "error", err)
		return err
	}
	r.log.Infow("server_repo_create_ok", "id", server.ID, "ip", server.IP)
	return nil
}

func (r *serverRepository) GetByID(ctx context.Context, id string) (*domain.Server, error) {
	var server domain.Server
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&server).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("server %s: %w", id, domain.ErrNotFound)
		}
		r.log.Errorw("server_repo_get_failed", "id", id, "error", err)
		return nil, err
	}
	return &server, nil
}

func (r *serverRepository) ListByTenant(ctx context.Context, tenantID string) ([]domain.Server, error) {
	var servers []domain.Server
	if err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at").Find(&servers).Error; err != nil {
		r.log.Errorw("server_repo_list_failed", "tenant_id", tenantID, "error", err)
		return nil, err
	}
	return servers, nil
}

func (r *serverRepository) ListTenants(ctx context.Context) ([]string, error) {
	var tenants []string
	if err := r.db.WithContext(ctx).Model(&domain.Server{}).Distinct().Order("tenant_id").Pluck("tenant_id", &tenants).Error; err != nil {
		r.log.Errorw("server_repo_list_tenants_failed", "error", err)
		return nil, err
	}
	return tenants, nil
}

// Update writes only the columns present in the patch, so concurrent
// writers touching different columns never lose each other's work.
func (r *serverRepository) Update(ctx context.Context, id string, patch domain.ServerPatch) error {
	cols := patch.Columns()
	if len(cols) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).Model(&domain.Server{}).Where("id = ?", id).Updates(cols)
	if res.Error != nil {
		r.log.Errorw("server_repo_update_failed", "id", id, "error", res.Error)
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("server %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *serverRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Server{}).Error; err != nil {
		r.log.Errorw("server_repo_delete_failed", "id", id, "error", err)
		return err
	}
	r.log.Infow("server_repo_delete_ok", "id", id)
	return nil
}
