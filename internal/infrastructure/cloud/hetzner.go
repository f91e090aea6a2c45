// Package cloud implements the order API the provisioning poller talks to.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
	"github.com/google/uuid"
	"github.com/hetznercloud/hcloud-go/v2/hcloud"
)

// HetznerProvider treats a Hetzner Cloud server as an order: the order id is
// the server id and the order status follows the server status.
type HetznerProvider struct {
	client   *hcloud.Client
	defaults domain.OrderRequest
}

var _ ports.CloudProvider = (*HetznerProvider)(nil)

type HetznerOption func(*HetznerProvider)

// WithHCloudClient replaces the API client. Tests point it at httptest.
func WithHCloudClient(c *hcloud.Client) HetznerOption {
	return func(p *HetznerProvider) { p.client = c }
}

// WithDefaults fills request fields the caller left empty.
func WithDefaults(req domain.OrderRequest) HetznerOption {
	return func(p *HetznerProvider) { p.defaults = req }
}

func NewHetznerProvider(token string, opts ...HetznerOption) *HetznerProvider {
	p := &HetznerProvider{
		client: hcloud.NewClient(hcloud.WithToken(token), hcloud.WithApplication("dflow", "1")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *HetznerProvider) CreateOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	req = p.withDefaults(req)
	if req.Name == "" {
		return "", errors.New("order name is required")
	}

	opts := hcloud.ServerCreateOpts{
		Name:       req.Name,
		ServerType: &hcloud.ServerType{Name: req.ServerType},
		Image:      &hcloud.Image{Name: req.Image},
		Labels:     map[string]string{"managed-by": "dflow"},
	}
	if req.Location != "" {
		opts.Location = &hcloud.Location{Name: req.Location}
	}

	if req.PublicKey != "" {
		key, _, err := p.client.SSHKey.Create(ctx, hcloud.SSHKeyCreateOpts{
			Name:      req.Name + "-" + uuid.NewString()[:8],
			PublicKey: req.PublicKey,
			Labels:    map[string]string{"managed-by": "dflow"},
		})
		if err != nil {
			return "", fmt.Errorf("%w: create ssh key: %v", domain.ErrUpstreamProvider, err)
		}
		opts.SSHKeys = []*hcloud.SSHKey{key}
	}

	result, _, err := p.client.Server.Create(ctx, opts)
	if err != nil {
		return "", fmt.Errorf("%w: create server: %v", domain.ErrUpstreamProvider, err)
	}
	if result.Server == nil {
		return "", fmt.Errorf("%w: create server returned no server", domain.ErrUpstreamProvider)
	}
	return strconv.FormatInt(result.Server.ID, 10), nil
}

func (p *HetznerProvider) GetOrder(ctx context.Context, orderID string) (domain.OrderStatusReport, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return domain.OrderStatusReport{}, fmt.Errorf("invalid hetzner order id %q", orderID)
	}
	server, _, err := p.client.Server.GetByID(ctx, id)
	if err != nil {
		return domain.OrderStatusReport{}, fmt.Errorf("%w: get server %d: %v", domain.ErrUpstreamProvider, id, err)
	}
	if server == nil {
		return domain.OrderStatusReport{Status: domain.UpstreamError}, nil
	}

	report := domain.OrderStatusReport{Status: hetznerStatus(server.Status)}
	if ip := server.PublicNet.IPv4.IP; ip != nil && !ip.IsUnspecified() {
		report.InstanceIP = ip.String()
	}
	report.InstanceHostname = strings.TrimSuffix(server.PublicNet.IPv4.DNSPtr, ".")
	return report, nil
}

func hetznerStatus(s hcloud.ServerStatus) string {
	switch s {
	case hcloud.ServerStatusInitializing:
		return domain.UpstreamInitializing
	case hcloud.ServerStatusStarting:
		return domain.UpstreamStarting
	case hcloud.ServerStatusRunning:
		return domain.UpstreamRunning
	case hcloud.ServerStatusOff, hcloud.ServerStatusRebuilding, hcloud.ServerStatusMigrating:
		return domain.UpstreamProvisioning
	case hcloud.ServerStatusDeleting, hcloud.ServerStatusStopping:
		return domain.UpstreamError
	}
	return domain.UpstreamPending
}

func (p *HetznerProvider) withDefaults(req domain.OrderRequest) domain.OrderRequest {
	if req.ServerType == "" {
		req.ServerType = p.defaults.ServerType
	}
	if req.Image == "" {
		req.Image = p.defaults.Image
	}
	if req.Location == "" {
		req.Location = p.defaults.Location
	}
	return req
}
