package services

import (
	"context"
	"errors"
	"slices"
	"sort"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/dokku"
)

// processLifecycle creates or destroys the dokku app or database service.
// A service that was never created is simply forgotten.
func (w *Workflows) processLifecycle(ctx context.Context, job *domain.Job) error {
	svc, server, err := w.loadService(ctx, job)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	label := "service " + svc.Name

	switch {
	case svc.Lifecycle == domain.LifecyclePresent && svc.Created:
		publish(ctx, w.cfg.Events, job, domain.EventLog, "%s already exists", label)
		return nil

	case svc.Lifecycle == domain.LifecyclePresent:
		lctx := w.longCommands(ctx)
		err := w.withServer(lctx, server, func(s ports.Session) error {
			if svc.Type == domain.ServiceTypeDatabase {
				return dokku.CreateDatabase(lctx, s, svc.DatabaseType, svc.Name)
			}
			exists, err := dokku.AppExists(lctx, s, svc.Name)
			if err != nil || exists {
				return err
			}
			return dokku.CreateApp(lctx, s, svc.Name)
		})
		if err != nil {
			return w.fail(ctx, job, label, err)
		}
		if err := w.saveService(ctx, svc.ID, domain.ServicePatch{Created: domain.Ptr(true)}); err != nil {
			return err
		}
		publish(ctx, w.cfg.Events, job, domain.EventProgress, "%s created", label)
		return nil

	case svc.Created:
		err := w.withServer(ctx, server, func(s ports.Session) error {
			if svc.Type == domain.ServiceTypeDatabase {
				exists, err := dokku.DatabaseExists(ctx, s, svc.DatabaseType, svc.Name)
				if err != nil || !exists {
					return err
				}
				return dokku.DestroyDatabase(ctx, s, svc.DatabaseType, svc.Name)
			}
			apps, err := dokku.ListApps(ctx, s)
			if err != nil {
				return err
			}
			if !slices.Contains(apps, svc.Name) {
				return nil
			}
			return dokku.DestroyApp(ctx, s, svc.Name)
		})
		if err != nil {
			return w.fail(ctx, job, label, err)
		}
		publish(ctx, w.cfg.Events, job, domain.EventProgress, "%s destroyed", label)
	}

	if err := w.cfg.Services.Delete(ctx, svc.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return nil
}

func (w *Workflows) processDomains(ctx context.Context, job *domain.Job) error {
	svc, server, err := w.loadLiveService(ctx, job)
	if err != nil {
		return err
	}
	ops := featureOps[domain.Domain]{
		add: func(ctx context.Context, s ports.Session, items []domain.Domain) error {
			_, err := dokku.AddDomains(ctx, s, svc.Name, hostnames(items)...)
			return err
		},
		remove: func(ctx context.Context, s ports.Session, items []domain.Domain) error {
			return dokku.RemoveDomains(ctx, s, svc.Name, hostnames(items)...)
		},
	}
	return runFeature(ctx, w, job, server, "domains of "+svc.Name, svc.Domains(), ops, func(observed domain.List[domain.Domain]) error {
		return w.saveService(ctx, svc.ID, domain.ServicePatch{DomainsObserved: &observed})
	})
}

func hostnames(items []domain.Domain) []string {
	out := make([]string, len(items))
	for i, d := range items {
		out[i] = d.Hostname
	}
	return out
}

// processCertificate issues a Let's Encrypt certificate and installs the
// renewal cron.
func (w *Workflows) processCertificate(ctx context.Context, job *domain.Job) error {
	svc, server, err := w.loadLiveService(ctx, job)
	if err != nil {
		return err
	}
	label := "certificate of " + svc.Name
	if svc.CertificateDesired == svc.CertificateObserved {
		publish(ctx, w.cfg.Events, job, domain.EventLog, "%s already in sync", label)
		return nil
	}
	if !svc.CertificateDesired {
		return w.saveService(ctx, svc.ID, domain.ServicePatch{CertificateObserved: domain.Ptr(false)})
	}

	ctx = w.longCommands(ctx)
	err = w.withServer(ctx, server, func(s ports.Session) error {
		active, err := dokku.LetsencryptActive(ctx, s, svc.Name)
		if err != nil {
			return err
		}
		if active {
			publish(ctx, w.cfg.Events, job, domain.EventLog, "%s already active on host", label)
			return nil
		}
		if err := dokku.SetLetsencryptEmail(ctx, s, svc.Name, svc.CertificateEmail); err != nil {
			return err
		}
		if err := dokku.EnableLetsencrypt(ctx, s, svc.Name); err != nil {
			return err
		}
		return dokku.AddLetsencryptCron(ctx, s)
	})
	if err != nil {
		return w.fail(ctx, job, label, err)
	}
	if err := w.saveService(ctx, svc.ID, domain.ServicePatch{CertificateObserved: domain.Ptr(true)}); err != nil {
		return err
	}
	publish(ctx, w.cfg.Events, job, domain.EventProgress, "%s issued", label)
	return nil
}

func (w *Workflows) processVolumes(ctx context.Context, job *domain.Job) error {
	svc, server, err := w.loadLiveService(ctx, job)
	if err != nil {
		return err
	}
	ops := featureOps[domain.Volume]{
		each: true,
		list: func(ctx context.Context, s ports.Session) ([]domain.Volume, error) {
			return dokku.ListVolumes(ctx, s, svc.Name)
		},
		add: func(ctx context.Context, s ports.Session, items []domain.Volume) error {
			return dokku.MountVolume(ctx, s, svc.Name, items[0])
		},
		remove: func(ctx context.Context, s ports.Session, items []domain.Volume) error {
			return dokku.UnmountVolume(ctx, s, svc.Name, items[0])
		},
		mark: func(v domain.Volume) domain.Volume {
			v.Created = true
			return v
		},
	}
	return runFeature(ctx, w, job, server, "volumes of "+svc.Name, svc.Volumes(), ops, func(observed domain.List[domain.Volume]) error {
		return w.saveService(ctx, svc.ID, domain.ServicePatch{VolumesObserved: &observed})
	})
}

func (w *Workflows) processPorts(ctx context.Context, job *domain.Job) error {
	svc, server, err := w.loadLiveService(ctx, job)
	if err != nil {
		return err
	}
	ops := featureOps[domain.PortMapping]{
		list: func(ctx context.Context, s ports.Session) ([]domain.PortMapping, error) {
			return dokku.ListPorts(ctx, s, svc.Name)
		},
		add: func(ctx context.Context, s ports.Session, items []domain.PortMapping) error {
			return dokku.AddPorts(ctx, s, svc.Name, items...)
		},
		remove: func(ctx context.Context, s ports.Session, items []domain.PortMapping) error {
			return dokku.RemovePorts(ctx, s, svc.Name, items...)
		},
	}
	return runFeature(ctx, w, job, server, "ports of "+svc.Name, svc.Ports(), ops, func(observed domain.List[domain.PortMapping]) error {
		return w.saveService(ctx, svc.ID, domain.ServicePatch{PortsObserved: &observed})
	})
}

// processEnv batches every set and every unset into one command each.
func (w *Workflows) processEnv(ctx context.Context, job *domain.Job) error {
	svc, server, err := w.loadLiveService(ctx, job)
	if err != nil {
		return err
	}
	ops := featureOps[domain.EnvVar]{
		list: func(ctx context.Context, s ports.Session) ([]domain.EnvVar, error) {
			vars, err := dokku.ShowConfig(ctx, s, svc.Name)
			if err != nil {
				return nil, err
			}
			live := make([]domain.EnvVar, 0, len(vars))
			for k, v := range vars {
				live = append(live, domain.EnvVar{Key: k, Value: v})
			}
			sort.Slice(live, func(i, j int) bool { return live[i].Key < live[j].Key })
			return live, nil
		},
		add: func(ctx context.Context, s ports.Session, items []domain.EnvVar) error {
			vars := make(map[string]string, len(items))
			for _, v := range items {
				vars[v.Key] = v.Value
			}
			return dokku.SetConfig(ctx, s, svc.Name, vars)
		},
		remove: func(ctx context.Context, s ports.Session, items []domain.EnvVar) error {
			keys := make([]string, len(items))
			for i, v := range items {
				keys[i] = v.Key
			}
			return dokku.UnsetConfig(ctx, s, svc.Name, keys...)
		},
	}
	return runFeature(ctx, w, job, server, "env of "+svc.Name, svc.Env(), ops, func(observed domain.List[domain.EnvVar]) error {
		return w.saveService(ctx, svc.ID, domain.ServicePatch{EnvObserved: &observed})
	})
}

// processScale sends new and changed counts in one ps:scale. A process type
// dropped from the desired list is scaled to zero.
func (w *Workflows) processScale(ctx context.Context, job *domain.Job) error {
	svc, server, err := w.loadLiveService(ctx, job)
	if err != nil {
		return err
	}
	ops := featureOps[domain.ProcessScale]{
		list: func(ctx context.Context, s ports.Session) ([]domain.ProcessScale, error) {
			return dokku.ScaleReport(ctx, s, svc.Name)
		},
		add: func(ctx context.Context, s ports.Session, items []domain.ProcessScale) error {
			return dokku.Scale(ctx, s, svc.Name, items...)
		},
		remove: func(ctx context.Context, s ports.Session, items []domain.ProcessScale) error {
			zero := make([]domain.ProcessScale, len(items))
			for i, p := range items {
				zero[i] = domain.ProcessScale{Type: p.Type}
			}
			return dokku.Scale(ctx, s, svc.Name, zero...)
		},
	}
	return runFeature(ctx, w, job, server, "scale of "+svc.Name, svc.Scale(), ops, func(observed domain.List[domain.ProcessScale]) error {
		return w.saveService(ctx, svc.ID, domain.ServicePatch{ScaleObserved: &observed})
	})
}

func (w *Workflows) processLinks(ctx context.Context, job *domain.Job) error {
	svc, server, err := w.loadLiveService(ctx, job)
	if err != nil {
		return err
	}
	ops := featureOps[domain.Link]{
		each: true,
		add: func(ctx context.Context, s ports.Session, items []domain.Link) error {
			return dokku.LinkDatabase(ctx, s, svc.DatabaseType, svc.Name, items[0].App)
		},
		remove: func(ctx context.Context, s ports.Session, items []domain.Link) error {
			return dokku.UnlinkDatabase(ctx, s, svc.DatabaseType, svc.Name, items[0].App)
		},
	}
	return runFeature(ctx, w, job, server, "links of "+svc.Name, svc.Links(), ops, func(observed domain.List[domain.Link]) error {
		return w.saveService(ctx, svc.ID, domain.ServicePatch{LinksObserved: &observed})
	})
}

func (w *Workflows) processRestart(ctx context.Context, job *domain.Job) error {
	svc, server, err := w.loadLiveService(ctx, job)
	if err != nil {
		return err
	}
	ctx = w.longCommands(ctx)
	if err := w.withServer(ctx, server, func(s ports.Session) error {
		return dokku.Restart(ctx, s, svc.Name)
	}); err != nil {
		return w.fail(ctx, job, "restart of "+svc.Name, err)
	}
	publish(ctx, w.cfg.Events, job, domain.EventProgress, "%s restarted", svc.Name)
	return nil
}
