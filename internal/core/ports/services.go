package ports

import (
	"context"

	"github.com/dflow-sh/dflow-sub003/internal/domain"
)

type ServerService interface {
	CreateServer(ctx context.Context, actor domain.Actor, input CreateServerInput) (*domain.Server, *domain.Job, error)
	GetServer(ctx context.Context, actor domain.Actor, id string) (*domain.Server, error)
	ListServers(ctx context.Context, actor domain.Actor) ([]domain.Server, error)
}

type CreateServerInput struct {
	Name       string
	IP         string
	Port       int
	Username   string
	PrivateKey string
	Transport  domain.Transport
	Hostname   string
}

type ReconcileService interface {
	Trigger(ctx context.Context, actor domain.Actor, tenantID string) (*domain.Job, error)
}

type PluginService interface {
	InstallPlugin(ctx context.Context, actor domain.Actor, serverID string, plugin domain.PluginSpec) (*domain.Job, error)
	SetPluginEnabled(ctx context.Context, actor domain.Actor, serverID, name string, enabled bool) (*domain.Job, error)
	UninstallPlugin(ctx context.Context, actor domain.Actor, serverID, name string) (*domain.Job, error)
	SyncPlugins(ctx context.Context, actor domain.Actor, serverID string) (*domain.Job, error)
}

type AppService interface {
	CreateService(ctx context.Context, actor domain.Actor, input CreateServiceInput) (*domain.Service, *domain.Job, error)
	GetService(ctx context.Context, actor domain.Actor, id string) (*domain.Service, error)
	ListServices(ctx context.Context, actor domain.Actor, serverID string) ([]domain.Service, error)
	DestroyService(ctx context.Context, actor domain.Actor, id string) (*domain.Job, error)

	SetDomains(ctx context.Context, actor domain.Actor, id string, domains []domain.Domain) (*domain.Job, error)
	AddDomain(ctx context.Context, actor domain.Actor, id, hostname string) (*domain.Job, error)
	RemoveDomain(ctx context.Context, actor domain.Actor, id, hostname string) (*domain.Job, error)
	EnableCertificate(ctx context.Context, actor domain.Actor, id, email string) (*domain.Job, error)

	SetVolumes(ctx context.Context, actor domain.Actor, id string, volumes []domain.Volume) (*domain.Job, error)
	AddVolume(ctx context.Context, actor domain.Actor, id string, volume domain.Volume) (*domain.Job, error)
	RemoveVolume(ctx context.Context, actor domain.Actor, id string, volume domain.Volume) (*domain.Job, error)

	SetPorts(ctx context.Context, actor domain.Actor, id string, ports []domain.PortMapping) (*domain.Job, error)
	SetEnv(ctx context.Context, actor domain.Actor, id string, vars []domain.EnvVar) (*domain.Job, error)
	UnsetEnv(ctx context.Context, actor domain.Actor, id string, keys []string) (*domain.Job, error)
	SetScale(ctx context.Context, actor domain.Actor, id string, scale []domain.ProcessScale) (*domain.Job, error)

	LinkDatabase(ctx context.Context, actor domain.Actor, id, app string) (*domain.Job, error)
	UnlinkDatabase(ctx context.Context, actor domain.Actor, id, app string) (*domain.Job, error)

	Restart(ctx context.Context, actor domain.Actor, id string) (*domain.Job, error)
}

type CreateServiceInput struct {
	ServerID     string
	Name         string
	Type         domain.ServiceType
	DatabaseType domain.DatabaseType
}

type BackupMode string

const (
	BackupNative BackupMode = "native"
	BackupExport BackupMode = "export"
)

type BackupService interface {
	BackupDatabase(ctx context.Context, actor domain.Actor, serviceID string, mode BackupMode) (*domain.Job, error)
}

type ProvisioningService interface {
	CreateOrder(ctx context.Context, actor domain.Actor, input CreateOrderInput) (*domain.ProvisioningOrder, *domain.Job, error)
	GetOrder(ctx context.Context, actor domain.Actor, id string) (*domain.ProvisioningOrder, error)
	ListOrders(ctx context.Context, actor domain.Actor) ([]domain.ProvisioningOrder, error)
}

type CreateOrderInput struct {
	Name       string
	ServerType string
	Image      string
	Location   string
}
