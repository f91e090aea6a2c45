package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// ==================== ENUMS ====================

type ConnectionStatus string

const (
	ConnectionNotCheckedYet ConnectionStatus = "not-checked-yet"
	ConnectionSuccess       ConnectionStatus = "success"
	ConnectionFailed        ConnectionStatus = "failed"
)

// NextConnectionStatus applies the probe hysteresis: a server that has never
// been confirmed only leaves not-checked-yet on a good probe, while a
// confirmed server always takes the fresh result.
func NextConnectionStatus(current ConnectionStatus, probeOK bool) ConnectionStatus {
	if probeOK {
		return ConnectionSuccess
	}
	if current == ConnectionNotCheckedYet || current == "" {
		return ConnectionNotCheckedYet
	}
	return ConnectionFailed
}

type Transport string

const (
	TransportSSH       Transport = "ssh"
	TransportTailscale Transport = "tailscale"
)

type ServiceType string

const (
	ServiceTypeApp      ServiceType = "app"
	ServiceTypeDatabase ServiceType = "database"
)

type DatabaseType string

const (
	DatabasePostgres DatabaseType = "postgres"
	DatabaseMySQL    DatabaseType = "mysql"
	DatabaseMariaDB  DatabaseType = "mariadb"
	DatabaseMongo    DatabaseType = "mongo"
	DatabaseRedis    DatabaseType = "redis"
)

func (d DatabaseType) Valid() bool {
	switch d {
	case DatabasePostgres, DatabaseMySQL, DatabaseMariaDB, DatabaseMongo, DatabaseRedis:
		return true
	}
	return false
}

type Lifecycle string

const (
	LifecyclePresent Lifecycle = "present"
	LifecycleAbsent  Lifecycle = "absent"
)

// ==================== JSONB TYPES ====================

// List is a JSON-encoded column holding a feature list.
type List[T any] []T

func (l List[T]) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *List[T]) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("failed to scan JSONB list: invalid type")
	}
	return json.Unmarshal(raw, l)
}

// ==================== ENTITIES ====================

// Server is a Dokku host together with the credentials used to reach it.
type Server struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	TenantID   string    `gorm:"size:64;index;not null" json:"tenant_id"`
	Name       string    `gorm:"size:255;not null" json:"name"`
	IP         string    `gorm:"size:45" json:"ip"`
	Port       int       `gorm:"default:22" json:"port"`
	Username   string    `gorm:"size:64;default:'root'" json:"username"`
	PrivateKey string    `gorm:"type:text" json:"-"`
	Transport  Transport `gorm:"size:20;default:'ssh'" json:"transport"`
	Hostname   string    `gorm:"size:255" json:"hostname"`

	ConnectionStatus    ConnectionStatus `gorm:"size:20;not null;default:'not-checked-yet'" json:"connection_status"`
	ConnectionCheckedAt *time.Time       `json:"connection_checked_at,omitempty"`

	PublicIP        string `gorm:"size:45" json:"public_ip"`
	PrivateIP       string `gorm:"size:45" json:"private_ip"`
	OS              string `gorm:"size:64" json:"os"`
	OSVersion       string `gorm:"size:64" json:"os_version"`
	DokkuVersion    string `gorm:"size:64" json:"dokku_version"`
	CloudInitStatus string `gorm:"size:64" json:"cloud_init_status"`

	ProvisioningOrderID string `gorm:"size:36;index" json:"provisioning_order_id,omitempty"`

	PluginsDesired  List[PluginSpec] `gorm:"type:jsonb" json:"plugins_desired"`
	PluginsObserved List[PluginSpec] `gorm:"type:jsonb" json:"plugins_observed"`
}

// Address returns host:port used to dial the server. Tailscale servers are
// dialed by their tailnet hostname.
func (s *Server) Address() string {
	host := s.IP
	if s.Transport == TransportTailscale && s.Hostname != "" {
		host = s.Hostname
	}
	port := s.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (s *Server) Plugins() FeatureRecord[PluginSpec] {
	return FeatureRecord[PluginSpec]{Desired: s.PluginsDesired, Observed: s.PluginsObserved}
}

// Service is a Dokku app or database service living on a server.
type Service struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ServerID     string       `gorm:"size:36;index;not null" json:"server_id"`
	TenantID     string       `gorm:"size:64;index;not null" json:"tenant_id"`
	Name         string       `gorm:"size:64;not null" json:"name"`
	Type         ServiceType  `gorm:"size:20;not null" json:"type"`
	DatabaseType DatabaseType `gorm:"size:20" json:"database_type,omitempty"`

	Lifecycle Lifecycle `gorm:"size:20;not null;default:'present'" json:"lifecycle"`
	Created   bool      `gorm:"default:false" json:"created"`

	DomainsDesired  List[Domain]       `gorm:"type:jsonb" json:"domains_desired"`
	DomainsObserved List[Domain]       `gorm:"type:jsonb" json:"domains_observed"`
	VolumesDesired  List[Volume]       `gorm:"type:jsonb" json:"volumes_desired"`
	VolumesObserved List[Volume]       `gorm:"type:jsonb" json:"volumes_observed"`
	PortsDesired    List[PortMapping]  `gorm:"type:jsonb" json:"ports_desired"`
	PortsObserved   List[PortMapping]  `gorm:"type:jsonb" json:"ports_observed"`
	EnvDesired      List[EnvVar]       `gorm:"type:jsonb" json:"env_desired"`
	EnvObserved     List[EnvVar]       `gorm:"type:jsonb" json:"env_observed"`
	ScaleDesired    List[ProcessScale] `gorm:"type:jsonb" json:"scale_desired"`
	ScaleObserved   List[ProcessScale] `gorm:"type:jsonb" json:"scale_observed"`
	LinksDesired    List[Link]         `gorm:"type:jsonb" json:"links_desired"`
	LinksObserved   List[Link]         `gorm:"type:jsonb" json:"links_observed"`

	CertificateEmail    string `gorm:"size:255" json:"certificate_email,omitempty"`
	CertificateDesired  bool   `gorm:"default:false" json:"certificate_desired"`
	CertificateObserved bool   `gorm:"default:false" json:"certificate_observed"`
}

func (s *Service) Domains() FeatureRecord[Domain] {
	return FeatureRecord[Domain]{Desired: s.DomainsDesired, Observed: s.DomainsObserved}
}

func (s *Service) Volumes() FeatureRecord[Volume] {
	return FeatureRecord[Volume]{Desired: s.VolumesDesired, Observed: s.VolumesObserved}
}

func (s *Service) Ports() FeatureRecord[PortMapping] {
	return FeatureRecord[PortMapping]{Desired: s.PortsDesired, Observed: s.PortsObserved}
}

func (s *Service) Env() FeatureRecord[EnvVar] {
	return FeatureRecord[EnvVar]{Desired: s.EnvDesired, Observed: s.EnvObserved}
}

func (s *Service) Scale() FeatureRecord[ProcessScale] {
	return FeatureRecord[ProcessScale]{Desired: s.ScaleDesired, Observed: s.ScaleObserved}
}

func (s *Service) Links() FeatureRecord[Link] {
	return FeatureRecord[Link]{Desired: s.LinksDesired, Observed: s.LinksObserved}
}

type SystemSettings struct {
	SSHPrivateKey string
	SSHPublicKey  string
}

type SystemSetting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Key      string `gorm:"size:255;uniqueIndex;not null" json:"key"`
	Value    string `gorm:"type:text" json:"value"`
	Type     string `gorm:"size:50;default:'string'" json:"type"`
	Category string `gorm:"size:100;index" json:"category"`
}

// ==================== KEYS ====================

func ServerKey(serverID string) string    { return "server:" + serverID }
func TenantKey(tenantID string) string    { return "tenant:" + tenantID }
func ReconcileKey(tenantID string) string { return "reconcile:" + tenantID }
func ProvisionKey(orderID string) string  { return "provision:" + orderID }

// KeyKind returns the prefix of a queue or event key, e.g. "server".
func KeyKind(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i]
		}
	}
	return key
}

// Endpoint is everything the gateway needs to reach a host.
type Endpoint struct {
	Key        string
	Address    string
	User       string
	PrivateKey []byte
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s@%s", e.User, e.Address)
}

// ExecResult is the outcome of one remote command. A nonzero ExitCode is
// not a transport failure.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}
