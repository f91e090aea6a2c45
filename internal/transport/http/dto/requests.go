package dto

import (
	"net"
	"sort"
	"strings"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
)

type CreateServerRequest struct {
	Name       string `json:"name"`
	IP         string `json:"ip"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	PrivateKey string `json:"private_key,omitempty"`
	Transport  string `json:"transport,omitempty"`
	Hostname   string `json:"hostname,omitempty"`
}

func (r *CreateServerRequest) Validate() []string {
	var errors []string

	if strings.TrimSpace(r.Name) == "" {
		errors = append(errors, "name is required")
	}

	switch domain.Transport(r.Transport) {
	case "", domain.TransportSSH:
		if r.IP == "" {
			errors = append(errors, "ip is required")
		} else if net.ParseIP(r.IP) == nil {
			errors = append(errors, "ip is not a valid IP address")
		}
	case domain.TransportTailscale:
		if r.Hostname == "" {
			errors = append(errors, "hostname is required for tailscale servers")
		}
	default:
		errors = append(errors, "transport must be one of: ssh, tailscale")
	}

	if r.Port < 0 || r.Port > 65535 {
		errors = append(errors, "port must be between 1 and 65535")
	}
	return errors
}

func (r *CreateServerRequest) Input() ports.CreateServerInput {
	return ports.CreateServerInput{
		Name:       strings.TrimSpace(r.Name),
		IP:         r.IP,
		Port:       r.Port,
		Username:   r.Username,
		PrivateKey: r.PrivateKey,
		Transport:  domain.Transport(r.Transport),
		Hostname:   r.Hostname,
	}
}

type InstallPluginRequest struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Version string `json:"version,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
}

func (r *InstallPluginRequest) Validate() []string {
	var errors []string
	if r.Name == "" {
		errors = append(errors, "name is required")
	}
	if r.URL == "" {
		errors = append(errors, "url is required")
	}
	return errors
}

// Spec defaults Enabled to true; an installed plugin is normally wanted on.
func (r *InstallPluginRequest) Spec() domain.PluginSpec {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return domain.PluginSpec{Name: r.Name, URL: r.URL, Version: r.Version, Enabled: enabled}
}

type CreateServiceRequest struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	DatabaseType string `json:"database_type,omitempty"`
}

func (r *CreateServiceRequest) Validate() []string {
	var errors []string
	if r.Name == "" {
		errors = append(errors, "name is required")
	}
	switch domain.ServiceType(r.Type) {
	case domain.ServiceTypeApp:
	case domain.ServiceTypeDatabase:
		if !domain.DatabaseType(r.DatabaseType).Valid() {
			errors = append(errors, "database_type must be one of: postgres, mysql, mariadb, mongo, redis")
		}
	default:
		errors = append(errors, "type must be one of: app, database")
	}
	return errors
}

func (r *CreateServiceRequest) Input(serverID string) ports.CreateServiceInput {
	return ports.CreateServiceInput{
		ServerID:     serverID,
		Name:         r.Name,
		Type:         domain.ServiceType(r.Type),
		DatabaseType: domain.DatabaseType(r.DatabaseType),
	}
}

type DomainsRequest struct {
	Domains []string `json:"domains"`
}

func (r *DomainsRequest) Items() []domain.Domain {
	out := make([]domain.Domain, 0, len(r.Domains))
	for _, h := range r.Domains {
		out = append(out, domain.Domain{Hostname: strings.ToLower(strings.TrimSpace(h))})
	}
	return out
}

type DomainRequest struct {
	Hostname string `json:"hostname"`
}

type CertificateRequest struct {
	Email string `json:"email"`
}

type VolumeRequest struct {
	HostPath      string `json:"host_path"`
	ContainerPath string `json:"container_path"`
}

func (r VolumeRequest) Item() domain.Volume {
	return domain.Volume{HostPath: r.HostPath, ContainerPath: r.ContainerPath}
}

type VolumesRequest struct {
	Volumes []VolumeRequest `json:"volumes"`
}

func (r *VolumesRequest) Items() []domain.Volume {
	out := make([]domain.Volume, 0, len(r.Volumes))
	for _, v := range r.Volumes {
		out = append(out, v.Item())
	}
	return out
}

type PortsRequest struct {
	Ports []domain.PortMapping `json:"ports"`
}

// EnvRequest carries variables as a map; they are applied in key order.
type EnvRequest struct {
	Env map[string]string `json:"env"`
}

func (r *EnvRequest) Items() []domain.EnvVar {
	keys := make([]string, 0, len(r.Env))
	for k := range r.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]domain.EnvVar, 0, len(keys))
	for _, k := range keys {
		out = append(out, domain.EnvVar{Key: k, Value: r.Env[k]})
	}
	return out
}

type UnsetEnvRequest struct {
	Keys []string `json:"keys"`
}

type ScaleRequest struct {
	Processes map[string]int `json:"processes"`
}

func (r *ScaleRequest) Items() []domain.ProcessScale {
	types := make([]string, 0, len(r.Processes))
	for t := range r.Processes {
		types = append(types, t)
	}
	sort.Strings(types)
	out := make([]domain.ProcessScale, 0, len(types))
	for _, t := range types {
		out = append(out, domain.ProcessScale{Type: t, Quantity: r.Processes[t]})
	}
	return out
}

type LinkRequest struct {
	App string `json:"app"`
}

type BackupRequest struct {
	Mode string `json:"mode,omitempty"`
}

type CreateOrderRequest struct {
	Name       string `json:"name"`
	ServerType string `json:"server_type,omitempty"`
	Image      string `json:"image,omitempty"`
	Location   string `json:"location,omitempty"`
}

func (r *CreateOrderRequest) Validate() []string {
	if strings.TrimSpace(r.Name) == "" {
		return []string{"name is required"}
	}
	return nil
}

func (r *CreateOrderRequest) Input() ports.CreateOrderInput {
	return ports.CreateOrderInput{
		Name:       strings.TrimSpace(r.Name),
		ServerType: r.ServerType,
		Image:      r.Image,
		Location:   r.Location,
	}
}
