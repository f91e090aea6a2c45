// Package memstore implements the repositories in memory. It backs the
// tests and the database.driver=memory mode.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
)

func cloneList[T any](l domain.List[T]) domain.List[T] {
	if l == nil {
		return nil
	}
	return append(domain.List[T](nil), l...)
}

type ServerStore struct {
	mu      sync.RWMutex
	servers map[string]domain.Server
}

var _ ports.ServerRepository = (*ServerStore)(nil)

func NewServerStore() *ServerStore {
	return &ServerStore{servers: make(map[string]domain.Server)}
}

func cloneServer(s domain.Server) domain.Server {
	s.PluginsDesired = cloneList(s.PluginsDesired)
	s.PluginsObserved = cloneList(s.PluginsObserved)
	if s.ConnectionCheckedAt != nil {
		t := *s.ConnectionCheckedAt
		s.ConnectionCheckedAt = &t
	}
	return s
}

func (s *ServerStore) Create(_ context.Context, server *domain.Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.servers[server.ID]; ok {
		return fmt.Errorf("server %s: %w", server.ID, domain.ErrAlreadyExists)
	}
	now := time.Now().UTC()
	server.CreatedAt, server.UpdatedAt = now, now
	s.servers[server.ID] = cloneServer(*server)
	return nil
}

func (s *ServerStore) GetByID(_ context.Context, id string) (*domain.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	server, ok := s.servers[id]
	if !ok {
		return nil, fmt.Errorf("server %s: %w", id, domain.ErrNotFound)
	}
	out := cloneServer(server)
	return &out, nil
}

func (s *ServerStore) ListByTenant(_ context.Context, tenantID string) ([]domain.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Server
	for _, server := range s.servers {
		if server.TenantID == tenantID {
			out = append(out, cloneServer(server))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *ServerStore) ListTenants(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]struct{}{}
	var out []string
	for _, server := range s.servers {
		if _, ok := seen[server.TenantID]; ok {
			continue
		}
		seen[server.TenantID] = struct{}{}
		out = append(out, server.TenantID)
	}
	sort.Strings(out)
	return out, nil
}

func (s *ServerStore) Update(_ context.Context, id string, patch domain.ServerPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	server, ok := s.servers[id]
	if !ok {
		return fmt.Errorf("server %s: %w", id, domain.ErrNotFound)
	}
	patch.Apply(&server)
	server.UpdatedAt = time.Now().UTC()
	s.servers[id] = server
	return nil
}

func (s *ServerStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.servers, id)
	return nil
}

type ServiceStore struct {
	mu       sync.RWMutex
	services map[string]domain.Service
}

var _ ports.ServiceRepository = (*ServiceStore)(nil)

func NewServiceStore() *ServiceStore {
	return &ServiceStore{services: make(map[string]domain.Service)}
}

func cloneService(s domain.Service) domain.Service {
	s.DomainsDesired = cloneList(s.DomainsDesired)
	s.DomainsObserved = cloneList(s.DomainsObserved)
	s.VolumesDesired = cloneList(s.VolumesDesired)
	s.VolumesObserved = cloneList(s.VolumesObserved)
	s.PortsDesired = cloneList(s.PortsDesired)
	s.PortsObserved = cloneList(s.PortsObserved)
	s.EnvDesired = cloneList(s.EnvDesired)
	s.EnvObserved = cloneList(s.EnvObserved)
	s.ScaleDesired = cloneList(s.ScaleDesired)
	s.ScaleObserved = cloneList(s.ScaleObserved)
	s.LinksDesired = cloneList(s.LinksDesired)
	s.LinksObserved = cloneList(s.LinksObserved)
	return s
}

func (s *ServiceStore) Create(_ context.Context, service *domain.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.services {
		if existing.ServerID == service.ServerID && existing.Name == service.Name {
			return fmt.Errorf("service %s: %w", service.Name, domain.ErrAlreadyExists)
		}
	}
	now := time.Now().UTC()
	service.CreatedAt, service.UpdatedAt = now, now
	s.services[service.ID] = cloneService(*service)
	return nil
}

func (s *ServiceStore) GetByID(_ context.Context, id string) (*domain.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	service, ok := s.services[id]
	if !ok {
		return nil, fmt.Errorf("service %s: %w", id, domain.ErrNotFound)
	}
	out := cloneService(service)
	return &out, nil
}

func (s *ServiceStore) GetByName(_ context.Context, serverID, name string) (*domain.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, service := range s.services {
		if service.ServerID == serverID && service.Name == name {
			out := cloneService(service)
			return &out, nil
		}
	}
	return nil, fmt.Errorf("service %s on %s: %w", name, serverID, domain.ErrNotFound)
}

func (s *ServiceStore) ListByServer(_ context.Context, serverID string) ([]domain.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Service
	for _, service := range s.services {
		if service.ServerID == serverID {
			out = append(out, cloneService(service))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *ServiceStore) Update(_ context.Context, id string, patch domain.ServicePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	service, ok := s.services[id]
	if !ok {
		return fmt.Errorf("service %s: %w", id, domain.ErrNotFound)
	}
	patch.Apply(&service)
	service.UpdatedAt = time.Now().UTC()
	s.services[id] = service
	return nil
}

func (s *ServiceStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.services, id)
	return nil
}

type OrderStore struct {
	mu     sync.RWMutex
	orders map[string]domain.ProvisioningOrder
}

var _ ports.OrderRepository = (*OrderStore)(nil)

func NewOrderStore() *OrderStore {
	return &OrderStore{orders: make(map[string]domain.ProvisioningOrder)}
}

func (s *OrderStore) Create(_ context.Context, order *domain.ProvisioningOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.ID]; ok {
		return fmt.Errorf("order %s: %w", order.ID, domain.ErrAlreadyExists)
	}
	now := time.Now().UTC()
	order.CreatedAt, order.UpdatedAt = now, now
	s.orders[order.ID] = *order
	return nil
}

func (s *OrderStore) GetByID(_ context.Context, id string) (*domain.ProvisioningOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	return &order, nil
}

func (s *OrderStore) ListByTenant(_ context.Context, tenantID string) ([]domain.ProvisioningOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ProvisioningOrder
	for _, order := range s.orders {
		if order.TenantID == tenantID {
			out = append(out, order)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *OrderStore) Update(_ context.Context, id string, patch domain.OrderPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	patch.Apply(&order)
	order.UpdatedAt = time.Now().UTC()
	s.orders[id] = order
	return nil
}

// SettingStore mirrors the database settings repository: Get returns nil,
// nil for a missing key.
type SettingStore struct {
	mu       sync.RWMutex
	settings map[string]domain.SystemSetting
}

var _ ports.SystemSettingRepository = (*SettingStore)(nil)

func NewSettingStore() *SettingStore {
	return &SettingStore{settings: make(map[string]domain.SystemSetting)}
}

func (s *SettingStore) Get(_ context.Context, key string) (*domain.SystemSetting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	setting, ok := s.settings[key]
	if !ok {
		return nil, nil
	}
	return &setting, nil
}

func (s *SettingStore) Set(_ context.Context, setting *domain.SystemSetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := s.settings[setting.Key]; ok {
		setting.ID = existing.ID
		setting.CreatedAt = existing.CreatedAt
	} else {
		setting.ID = uint(len(s.settings) + 1)
		setting.CreatedAt = now
	}
	setting.UpdatedAt = now
	s.settings[setting.Key] = *setting
	return nil
}

func (s *SettingStore) GetByCategory(_ context.Context, category string) ([]domain.SystemSetting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.SystemSetting
	for _, setting := range s.settings {
		if setting.Category == category {
			out = append(out, setting)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *SettingStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.settings, key)
	return nil
}
