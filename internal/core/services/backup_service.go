package services

import (
	"context"
	"fmt"
	"path"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/dokku"
)

type backupService struct {
	services  ports.ServiceRepository
	jobs      ports.JobScheduler
	native    bool
	exporting bool
}

// NewBackupService accepts native backups when a bucket is configured and
// export backups when an uploader is available.
func NewBackupService(services ports.ServiceRepository, jobs ports.JobScheduler, settings BackupSettings, uploader ports.BackupUploader) ports.BackupService {
	return &backupService{
		services:  services,
		jobs:      jobs,
		native:    settings.Bucket != "",
		exporting: uploader != nil,
	}
}

func (s *backupService) BackupDatabase(ctx context.Context, actor domain.Actor, serviceID string, mode ports.BackupMode) (*domain.Job, error) {
	if mode == "" {
		mode = ports.BackupNative
	}
	switch mode {
	case ports.BackupNative:
		if !s.native {
			return nil, ErrBackupNotConfigured
		}
	case ports.BackupExport:
		if !s.exporting {
			return nil, ErrBackupNotConfigured
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrBackupInvalidMode, mode)
	}

	svc, err := s.services.GetByID(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if err := sameTenant(actor, svc.TenantID, "service", serviceID); err != nil {
		return nil, err
	}
	if err := databaseOnly(svc); err != nil {
		return nil, err
	}
	return enqueue(ctx, s.jobs, domain.ServerKey(svc.ServerID), JobServiceBackup, actor, backupPayload{ServiceID: svc.ID, Mode: mode})
}

func (w *Workflows) processBackup(ctx context.Context, job *domain.Job) error {
	var p backupPayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	svc, server, err := w.loadLiveService(ctx, job)
	if err != nil {
		return err
	}
	label := "backup of " + svc.Name
	ctx = w.longCommands(ctx)

	var location string
	err = w.withServer(ctx, server, func(s ports.Session) error {
		if p.Mode == ports.BackupExport {
			var exportErr error
			location, exportErr = w.exportBackup(ctx, s, svc)
			return exportErr
		}
		b := w.cfg.Backup
		location = "s3://" + b.Bucket
		return dokku.BackupDatabase(ctx, s, svc.DatabaseType, svc.Name, b.Bucket, dokku.BackupCredentials{
			AccessKey: b.AccessKey,
			SecretKey: b.SecretKey,
			Region:    b.Region,
			Endpoint:  b.Endpoint,
		})
	})
	if err != nil {
		return w.fail(ctx, job, label, err)
	}
	publish(ctx, w.cfg.Events, job, domain.EventProgress, "%s stored at %s", label, location)
	return nil
}

// exportBackup dumps the database to the staging dir, pulls the file over
// sftp and uploads it. The staging file is removed on every path.
func (w *Workflows) exportBackup(ctx context.Context, s ports.Session, svc *domain.Service) (string, error) {
	if w.cfg.Uploader == nil {
		return "", ErrBackupNotConfigured
	}
	ts := w.cfg.Now().UTC().Format("20060102T150405Z")
	remotePath := path.Join(w.cfg.Backup.StagingDir, fmt.Sprintf("%s-%s.dump", svc.Name, ts))

	if err := dokku.ExportDatabase(ctx, s, svc.DatabaseType, svc.Name, remotePath); err != nil {
		return "", err
	}
	defer func() {
		if err := dokku.RemoveFile(ctx, s, remotePath); err != nil {
			w.log.Warnw("backup_cleanup_failed", "path", remotePath, "error", err)
		}
	}()

	f, err := s.Download(ctx, remotePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	key := path.Join(svc.TenantID, svc.Name, ts+".dump")
	return w.cfg.Uploader.Upload(ctx, key, f, f.Size())
}
