package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/dokku"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/logger"
)

type pluginService struct {
	servers ports.ServerRepository
	jobs    ports.JobScheduler
	locks   *keyLocks
	logger  *logger.Logger
}

func NewPluginService(servers ports.ServerRepository, jobs ports.JobScheduler, log *logger.Logger) ports.PluginService {
	if log == nil {
		log = logger.NewNop()
	}
	return &pluginService{servers: servers, jobs: jobs, locks: newKeyLocks(), logger: log.Named("plugins")}
}

func (s *pluginService) InstallPlugin(ctx context.Context, actor domain.Actor, serverID string, plugin domain.PluginSpec) (*domain.Job, error) {
	if !dokku.ValidName(plugin.Name) {
		return nil, fmt.Errorf("%w: name %q", ErrPluginInvalidInput, plugin.Name)
	}
	if !strings.HasPrefix(plugin.URL, "https://") && !strings.HasPrefix(plugin.URL, "http://") {
		return nil, fmt.Errorf("%w: url %q", ErrPluginInvalidInput, plugin.URL)
	}
	return s.mutate(ctx, actor, serverID, func(desired domain.List[domain.PluginSpec]) (domain.List[domain.PluginSpec], error) {
		return domain.Upsert(desired, plugin), nil
	})
}

func (s *pluginService) SetPluginEnabled(ctx context.Context, actor domain.Actor, serverID, name string, enabled bool) (*domain.Job, error) {
	return s.mutate(ctx, actor, serverID, func(desired domain.List[domain.PluginSpec]) (domain.List[domain.PluginSpec], error) {
		p, ok := domain.Find(desired, name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrPluginNotManaged, name)
		}
		p.Enabled = enabled
		return domain.Upsert(desired, p), nil
	})
}

func (s *pluginService) UninstallPlugin(ctx context.Context, actor domain.Actor, serverID, name string) (*domain.Job, error) {
	return s.mutate(ctx, actor, serverID, func(desired domain.List[domain.PluginSpec]) (domain.List[domain.PluginSpec], error) {
		if _, ok := domain.Find(desired, name); !ok {
			return nil, fmt.Errorf("%w: %s", ErrPluginNotManaged, name)
		}
		return domain.Without(desired, name), nil
	})
}

// SyncPlugins queues a refresh of the observed plugin list from the host.
func (s *pluginService) SyncPlugins(ctx context.Context, actor domain.Actor, serverID string) (*domain.Job, error) {
	server, err := s.server(ctx, actor, serverID)
	if err != nil {
		return nil, err
	}
	return enqueue(ctx, s.jobs, domain.ServerKey(server.ID), JobPluginsSync, actor, serverPayload{ServerID: server.ID})
}

func (s *pluginService) server(ctx context.Context, actor domain.Actor, id string) (*domain.Server, error) {
	server, err := s.servers.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := sameTenant(actor, server.TenantID, "server", id); err != nil {
		return nil, err
	}
	return server, nil
}

func (s *pluginService) mutate(ctx context.Context, actor domain.Actor, serverID string,
	edit func(domain.List[domain.PluginSpec]) (domain.List[domain.PluginSpec], error)) (*domain.Job, error) {
	unlock := s.locks.lockKeys(domain.ServerKey(serverID))
	defer unlock()

	server, err := s.server(ctx, actor, serverID)
	if err != nil {
		return nil, err
	}
	desired, err := edit(server.PluginsDesired)
	if err != nil {
		return nil, err
	}
	if err := s.servers.Update(ctx, server.ID, domain.ServerPatch{PluginsDesired: &desired}); err != nil {
		return nil, err
	}
	s.logger.Infow("plugins desired updated", "server_id", server.ID, "count", len(desired), "request_id", actor.RequestID)
	return enqueue(ctx, s.jobs, domain.ServerKey(server.ID), JobPluginsApply, actor, serverPayload{ServerID: server.ID})
}

func (w *Workflows) loadServer(ctx context.Context, job *domain.Job) (*domain.Server, error) {
	var p serverPayload
	if err := job.Decode(&p); err != nil {
		return nil, err
	}
	return w.cfg.Servers.GetByID(ctx, p.ServerID)
}

func (w *Workflows) processPlugins(ctx context.Context, job *domain.Job) error {
	server, err := w.loadServer(ctx, job)
	if err != nil {
		return err
	}
	ctx = w.longCommands(ctx)

	managedURL := make(map[string]string)
	for _, p := range server.PluginsObserved {
		managedURL[p.Name] = p.URL
	}
	for _, p := range server.PluginsDesired {
		managedURL[p.Name] = p.URL
	}

	ops := featureOps[domain.PluginSpec]{
		each: true,
		list: func(ctx context.Context, s ports.Session) ([]domain.PluginSpec, error) {
			installed, err := dokku.ListPlugins(ctx, s)
			if err != nil {
				return nil, err
			}
			live := make([]domain.PluginSpec, len(installed))
			for i, p := range installed {
				live[i] = p.Spec()
				live[i].URL = managedURL[p.Name]
			}
			return live, nil
		},
		add: func(ctx context.Context, s ports.Session, items []domain.PluginSpec) error {
			p := items[0]
			if err := dokku.InstallPlugin(ctx, s, p.URL, p.Name); err != nil {
				return err
			}
			if p.Enabled {
				return nil
			}
			// plugin:install leaves the plugin enabled
			if err := dokku.DisablePlugin(ctx, s, p.Name); err != nil {
				installed := p
				installed.Enabled = true
				return &partialApply[domain.PluginSpec]{applied: installed, err: err}
			}
			return nil
		},
		change: func(ctx context.Context, s ports.Session, changes []domain.Change[domain.PluginSpec]) error {
			for _, c := range changes {
				var err error
				if c.To.Enabled {
					err = dokku.EnablePlugin(ctx, s, c.To.Name)
				} else {
					err = dokku.DisablePlugin(ctx, s, c.To.Name)
				}
				if err != nil {
					return err
				}
			}
			return nil
		},
		remove: func(ctx context.Context, s ports.Session, items []domain.PluginSpec) error {
			return dokku.UninstallPlugin(ctx, s, items[0].Name)
		},
	}
	return runFeature(ctx, w, job, server, "plugins", server.Plugins(), ops, func(observed domain.List[domain.PluginSpec]) error {
		return w.cfg.Servers.Update(ctx, server.ID, domain.ServerPatch{PluginsObserved: &observed})
	})
}

// processPluginSync rebuilds the observed list from `plugin:list`, keeping
// only plugins this server manages.
func (w *Workflows) processPluginSync(ctx context.Context, job *domain.Job) error {
	server, err := w.loadServer(ctx, job)
	if err != nil {
		return err
	}

	var installed []dokku.Plugin
	err = w.withServer(ctx, server, func(s ports.Session) error {
		var listErr error
		installed, listErr = dokku.ListPlugins(ctx, s)
		return listErr
	})
	if err != nil {
		return w.fail(ctx, job, "plugin sync", err)
	}

	managed := make(map[string]domain.PluginSpec)
	for _, p := range server.PluginsObserved {
		managed[p.Name] = p
	}
	for _, p := range server.PluginsDesired {
		managed[p.Name] = p
	}
	observed := domain.List[domain.PluginSpec]{}
	for _, p := range installed {
		known, ok := managed[p.Name]
		if !ok {
			continue
		}
		spec := p.Spec()
		spec.URL = known.URL
		observed = append(observed, spec)
	}
	if err := w.cfg.Servers.Update(ctx, server.ID, domain.ServerPatch{PluginsObserved: &observed}); err != nil {
		return err
	}
	publish(ctx, w.cfg.Events, job, domain.EventProgress, "plugin sync found %d managed plugins", len(observed))
	return nil
}
