package domain

import "time"

type OrderStatus string

const (
	OrderPending      OrderStatus = "pending"
	OrderProvisioning OrderStatus = "provisioning"
	OrderRunning      OrderStatus = "running"
	OrderReady        OrderStatus = "ready"
	OrderFailed       OrderStatus = "failed"
)

func (s OrderStatus) Terminal() bool {
	return s == OrderReady || s == OrderFailed
}

// ProvisioningOrder tracks a machine being created at a cloud provider
// until it is handed over as a Server.
type ProvisioningOrder struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OrderID  string `gorm:"size:128;index" json:"order_id"`
	TenantID string `gorm:"size:64;index;not null" json:"tenant_id"`
	ServerID string `gorm:"size:36;index" json:"server_id"`
	Name     string `gorm:"size:255" json:"name"`

	Status        OrderStatus `gorm:"size:20;not null;default:'pending'" json:"status"`
	Attempts      int         `gorm:"default:0" json:"attempts"`
	MaxAttempts   int         `gorm:"default:40" json:"max_attempts"`
	PublicIP      string      `gorm:"size:45" json:"public_ip"`
	Hostname      string      `gorm:"size:255" json:"hostname"`
	FailureReason string      `gorm:"type:text" json:"failure_reason,omitempty"`
}

// OrderRequest is what a provider needs to create a machine.
type OrderRequest struct {
	Name       string
	ServerType string
	Image      string
	Location   string
	PublicKey  string
}

// Upstream statuses understood by the poller. Providers normalize into these.
const (
	UpstreamPending      = "pending"
	UpstreamProvisioning = "provisioning"
	UpstreamStarting     = "starting"
	UpstreamInitializing = "initializing"
	UpstreamRunning      = "running"
	UpstreamFailed       = "failed"
	UpstreamError        = "error"
)

// OrderStatusReport is one answer from the provider's order-status API.
type OrderStatusReport struct {
	Status           string `json:"status"`
	InstanceIP       string `json:"instanceIp"`
	InstanceHostname string `json:"instanceHostname"`
}
