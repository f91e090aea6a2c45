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

type orderRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewOrderRepository(db *gorm.DB, log *logger.Logger) ports.OrderRepository {
	return &orderRepository{db: db, log: log}
}

func (r *orderRepository) Create(ctx context.Context, order *domain.ProvisioningOrder) error {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		r.log.Errorw("order_repo_create_failed", "order_id", order.OrderID, "error", err)
		return err
	}
	r.log.Infow("order_repo_create_ok", "id", order.ID, "order_id", order.OrderID)
	return nil
}

func (r *orderRepository) GetByID(ctx context.Context, id string) (*domain.ProvisioningOrder, error) {
	var order domain.ProvisioningOrder
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
		}
		r.log.Errorw("order_repo_get_failed", "id", id, "error", err)
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) ListByTenant(ctx context.Context, tenantID string) ([]domain.ProvisioningOrder, error) {
	var orders []domain.ProvisioningOrder
	if err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at DESC").Find(&orders).Error; err != nil {
		r.log.Errorw("order_repo_list_failed", "tenant_id", tenantID, "error", err)
		return nil, err
	}
	return orders, nil
}

func (r *orderRepository) Update(ctx context.Context, id string, patch domain.OrderPatch) error {
	cols := patch.Columns()
	if len(cols) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).Model(&domain.ProvisioningOrder{}).Where("id = ?", id).Updates(cols)
	if res.Error != nil {
		r.log.Errorw("order_repo_update_failed", "id", id, "error", res.Error)
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
