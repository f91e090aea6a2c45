package db

import (
	"context"
	"os"
	"testing"

	"github.com/dflow-sh/dflow-sub003/internal/domain"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// openTestDB connects to the database named by DFLOW_TEST_DATABASE_DSN.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("DFLOW_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("DFLOW_TEST_DATABASE_DSN not set")
	}
	database, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, RunMigrations(database))
	t.Cleanup(func() { _ = Close(database) })
	return database
}

func TestServerRepository_PartialUpdate(t *testing.T) {
	database := openTestDB(t)
	repo := NewServerRepository(database, logger.NewNop())
	ctx := context.Background()

	server := &domain.Server{
		ID:               uuid.NewString(),
		TenantID:         "tenant-" + uuid.NewString(),
		Name:             "edge-1",
		IP:               "10.0.0.5",
		ConnectionStatus: domain.ConnectionNotCheckedYet,
		PluginsDesired:   domain.List[domain.PluginSpec]{{Name: "postgres", Enabled: true}},
	}
	require.NoError(t, repo.Create(ctx, server))
	t.Cleanup(func() { _ = repo.Delete(ctx, server.ID) })

	observed := domain.List[domain.PluginSpec]{{Name: "postgres", Enabled: true}}
	require.NoError(t, repo.Update(ctx, server.ID, domain.ServerPatch{PluginsObserved: &observed}))
	require.NoError(t, repo.Update(ctx, server.ID, domain.ServerPatch{
		ConnectionStatus: domain.Ptr(domain.ConnectionSuccess),
	}))

	got, err := repo.GetByID(ctx, server.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionSuccess, got.ConnectionStatus)
	assert.Equal(t, observed, got.PluginsObserved)
	assert.Equal(t, server.PluginsDesired, got.PluginsDesired)

	tenants, err := repo.ListTenants(ctx)
	require.NoError(t, err)
	assert.Contains(t, tenants, server.TenantID)
}

func TestServerRepository_NotFound(t *testing.T) {
	database := openTestDB(t)
	repo := NewServerRepository(database, logger.NewNop())

	_, err := repo.GetByID(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = repo.Update(context.Background(), uuid.NewString(), domain.ServerPatch{IP: domain.Ptr("10.0.0.1")})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestServiceRepository_GetByName(t *testing.T) {
	database := openTestDB(t)
	repo := NewServiceRepository(database, logger.NewNop())
	ctx := context.Background()

	svc := &domain.Service{
		ID:        uuid.NewString(),
		ServerID:  uuid.NewString(),
		TenantID:  "t1",
		Name:      "web",
		Type:      domain.ServiceTypeApp,
		Lifecycle: domain.LifecyclePresent,
	}
	require.NoError(t, repo.Create(ctx, svc))
	t.Cleanup(func() { _ = repo.Delete(ctx, svc.ID) })

	got, err := repo.GetByName(ctx, svc.ServerID, "web")
	require.NoError(t, err)
	assert.Equal(t, svc.ID, got.ID)
}
