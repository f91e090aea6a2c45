package ports

import (
	"context"

	"github.com/dflow-sh/dflow-sub003/internal/domain"
)

// ServerRepository is the resource store for servers. Update applies a
// partial patch; only the columns set in the patch are written.
type ServerRepository interface {
	Create(ctx context.Context, server *domain.Server) error
	GetByID(ctx context.Context, id string) (*domain.Server, error)
	ListByTenant(ctx context.Context, tenantID string) ([]domain.Server, error)
	ListTenants(ctx context.Context) ([]string, error)
	Update(ctx context.Context, id string, patch domain.ServerPatch) error
	Delete(ctx context.Context, id string) error
}

type ServiceRepository interface {
	Create(ctx context.Context, service *domain.Service) error
	GetByID(ctx context.Context, id string) (*domain.Service, error)
	GetByName(ctx context.Context, serverID, name string) (*domain.Service, error)
	ListByServer(ctx context.Context, serverID string) ([]domain.Service, error)
	Update(ctx context.Context, id string, patch domain.ServicePatch) error
	Delete(ctx context.Context, id string) error
}

type OrderRepository interface {
	Create(ctx context.Context, order *domain.ProvisioningOrder) error
	GetByID(ctx context.Context, id string) (*domain.ProvisioningOrder, error)
	ListByTenant(ctx context.Context, tenantID string) ([]domain.ProvisioningOrder, error)
	Update(ctx context.Context, id string, patch domain.OrderPatch) error
}

type SystemSettingRepository interface {
	Get(ctx context.Context, key string) (*domain.SystemSetting, error)
	Set(ctx context.Context, setting *domain.SystemSetting) error
	GetByCategory(ctx context.Context, category string) ([]domain.SystemSetting, error)
	Delete(ctx context.Context, key string) error
}
