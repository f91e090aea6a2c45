package db

import (
	"github.com/dflow-sh/dflow-sub003/internal/domain"
	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB) error {
	err := db.AutoMigrate(
		&domain.Server{},
		&domain.Service{},
		&domain.ProvisioningOrder{},
		&domain.SystemSetting{},
	)
	if err != nil {
		return err
	}

	if err := createCustomIndexes(db); err != nil {
		return err
	}

	return nil
}

func createCustomIndexes(db *gorm.DB) error {
	// Service names are unique per server (dokku app namespace)
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_services_server_name
		ON services (server_id, name)
	`).Error; err != nil {
		return err
	}

	// Reconciler scans servers tenant by tenant
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_servers_tenant_status
		ON servers (tenant_id, connection_status)
	`).Error; err != nil {
		return err
	}

	return nil
}
