package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const addr = "10.0.0.1:22"

func TestVolumeMountRecordsCreated(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	server := e.addServer(t, "s1", "10.0.0.1", domain.ConnectionSuccess)
	svc := e.addService(t, server, "web", domain.ServiceTypeApp, true)
	apps, w := e.appService(), e.workflows()
	vol := domain.Volume{HostPath: "/var/lib/dokku/data/storage/web", ContainerPath: "/data"}

	job, err := apps.AddVolume(context.Background(), testActor, svc.ID, vol)
	require.NoError(t, err)
	assert.Equal(t, domain.ServerKey("s1"), job.Queue)
	require.NoError(t, runJob(t, w, job))

	assert.Equal(t, []string{
		"dokku storage:list web",
		"dokku storage:mount web /var/lib/dokku/data/storage/web:/data",
	}, e.gw.Commands(addr))
	got := e.service(t, svc.ID)
	require.Len(t, got.VolumesObserved, 1)
	assert.True(t, got.VolumesObserved[0].Created)
	assert.False(t, got.VolumesDesired[0].Created)

	// settled: no session at all
	job, err = apps.AddVolume(context.Background(), testActor, svc.ID, vol)
	require.NoError(t, err)
	require.NoError(t, runJob(t, w, job))
	assert.Equal(t, 1, e.gw.Opened(addr))

	e.gw.Host(addr).On("dokku storage:list web", "/var/lib/dokku/data/storage/web:/data\n")
	job, err = apps.RemoveVolume(context.Background(), testActor, svc.ID, vol)
	require.NoError(t, err)
	require.NoError(t, runJob(t, w, job))
	assert.Equal(t, "dokku storage:unmount web /var/lib/dokku/data/storage/web:/data", e.gw.Commands(addr)[3])
	assert.Empty(t, e.service(t, svc.ID).VolumesObserved)
	assert.Equal(t, e.gw.Opened(addr), e.gw.Closed(addr))
}

func TestFailedCommandKeepsConfirmedProgress(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	server := e.addServer(t, "s1", "10.0.0.1", domain.ConnectionSuccess)
	svc := e.addService(t, server, "web", domain.ServiceTypeApp, true)
	e.gw.Host(addr).Fail("dokku storage:mount web /b:", 1, "mount failed")

	job, err := e.appService().SetVolumes(context.Background(), testActor, svc.ID, []domain.Volume{
		{HostPath: "/a", ContainerPath: "/a"},
		{HostPath: "/b", ContainerPath: "/b"},
		{HostPath: "/c", ContainerPath: "/c"},
	})
	require.NoError(t, err)

	err = runJob(t, e.workflows(), job)
	require.Error(t, err)
	var cmdErr *domain.RemoteCommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 1, cmdErr.ExitCode)

	observed := e.service(t, svc.ID).VolumesObserved
	require.Len(t, observed, 1)
	assert.Equal(t, "/a:/a", observed[0].Identity())
	assert.Len(t, e.gw.Commands(addr), 3, "no command runs after the failure")
	assert.Contains(t, e.events.kinds(domain.ServerKey("s1")), domain.EventError)
	assert.Contains(t, e.events.kinds(domain.TenantKey("t1")), domain.EventError)
}

func TestVolumeAlreadyMountedOnHostConverges(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	server := e.addServer(t, "s1", "10.0.0.1", domain.ConnectionSuccess)
	svc := e.addService(t, server, "web", domain.ServiceTypeApp, true)
	// a previous mount succeeded but its observed state was never saved
	e.gw.Host(addr).
		On("dokku storage:list web", "/a:/data\n/var/lib/other:/other\n").
		Fail("dokku storage:mount", 1, "mount point already exists")
	apps, w := e.appService(), e.workflows()

	job, err := apps.AddVolume(context.Background(), testActor, svc.ID, domain.Volume{HostPath: "/a", ContainerPath: "/data"})
	require.NoError(t, err)
	require.NoError(t, runJob(t, w, job))

	assert.Equal(t, []string{"dokku storage:list web"}, e.gw.Commands(addr))
	observed := e.service(t, svc.ID).VolumesObserved
	require.Len(t, observed, 1, "mounts the record does not manage are left out")
	assert.Equal(t, "/a:/data", observed[0].Identity())
	assert.True(t, observed[0].Created)

	job, err = apps.AddVolume(context.Background(), testActor, svc.ID, domain.Volume{HostPath: "/a", ContainerPath: "/data"})
	require.NoError(t, err)
	require.NoError(t, runJob(t, w, job))
	assert.Len(t, e.gw.Commands(addr), 1, "a settled record issues no commands")
}

func TestVolumeRemovedOnHostIsMountedAgain(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	server := e.addServer(t, "s1", "10.0.0.1", domain.ConnectionSuccess)
	svc := e.addService(t, server, "web", domain.ServiceTypeApp, true)
	vols := domain.List[domain.Volume]{{HostPath: "/a", ContainerPath: "/data"}, {HostPath: "/b", ContainerPath: "/b"}}
	observed := domain.List[domain.Volume]{{HostPath: "/a", ContainerPath: "/data", Created: true}}
	require.NoError(t, e.services.Update(context.Background(), svc.ID, domain.ServicePatch{VolumesDesired: &vols, VolumesObserved: &observed}))

	job, err := e.appService().SetVolumes(context.Background(), testActor, svc.ID, vols)
	require.NoError(t, err)
	require.NoError(t, runJob(t, e.workflows(), job))

	assert.Equal(t, []string{
		"dokku storage:list web",
		"dokku storage:mount web /a:/data",
		"dokku storage:mount web /b:/b",
	}, e.gw.Commands(addr))
	assert.Len(t, e.service(t, svc.ID).VolumesObserved, 2)
}

func TestRefreshObservedKeepsManagedEntries(t *testing.T) {
	t.Parallel()
	rec := domain.FeatureRecord[domain.PortMapping]{
		Desired:  domain.List[domain.PortMapping]{{Scheme: "http", HostPort: 80, ContainerPort: 5000}},
		Observed: domain.List[domain.PortMapping]{{Scheme: "https", HostPort: 443, ContainerPort: 5000}},
	}
	live := []domain.PortMapping{
		{Scheme: "http", HostPort: 80, ContainerPort: 5000},
		{Scheme: "tcp", HostPort: 2222, ContainerPort: 22},
	}

	got := refreshObserved(rec, live, nil)
	assert.Equal(t, domain.List[domain.PortMapping]{{Scheme: "http", HostPort: 80, ContainerPort: 5000}}, got.Observed)
	assert.True(t, got.Settled())
	assert.Equal(t, rec.Desired, got.Desired)
}

func TestEnvIsBatched(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	server := e.addServer(t, "s1", "10.0.0.1", domain.ConnectionSuccess)
	svc := e.addService(t, server, "web", domain.ServiceTypeApp, true)
	observed := domain.List[domain.EnvVar]{{Key: "B", Value: "old"}, {Key: "C", Value: "x"}}
	desired := domain.List[domain.EnvVar]{{Key: "B", Value: "old"}, {Key: "C", Value: "x"}}
	require.NoError(t, e.services.Update(context.Background(), svc.ID, domain.ServicePatch{EnvObserved: &observed, EnvDesired: &desired}))
	e.gw.Host(addr).On("dokku config:export", `{"B":"old","C":"x","DOKKU_APP_TYPE":"herokuish"}`)

	apps := e.appService()
	_, err := apps.UnsetEnv(context.Background(), testActor, svc.ID, []string{"C"})
	require.NoError(t, err)
	job, err := apps.SetEnv(context.Background(), testActor, svc.ID, []domain.EnvVar{{Key: "A", Value: "1"}, {Key: "B", Value: "2"}})
	require.NoError(t, err)
	require.NoError(t, runJob(t, e.workflows(), job))

	assert.Equal(t, []string{
		"dokku config:export --format json web",
		"dokku config:unset --no-restart web C",
		"dokku config:set --encoded --no-restart web A=MQ== B=Mg==",
	}, e.gw.Commands(addr))
	assert.ElementsMatch(t,
		[]domain.EnvVar{{Key: "A", Value: "1"}, {Key: "B", Value: "2"}},
		[]domain.EnvVar(e.service(t, svc.ID).EnvObserved))
}

func TestScaleSendsOneCommand(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	server := e.addServer(t, "s1", "10.0.0.1", domain.ConnectionSuccess)
	svc := e.addService(t, server, "web", domain.ServiceTypeApp, true)
	observed := domain.List[domain.ProcessScale]{{Type: "web", Quantity: 1}}
	require.NoError(t, e.services.Update(context.Background(), svc.ID, domain.ServicePatch{ScaleObserved: &observed, ScaleDesired: &observed}))
	e.gw.Host(addr).On("dokku ps:scale web", "proc type   qty\nweb:        1\n")

	job, err := e.appService().SetScale(context.Background(), testActor, svc.ID, []domain.ProcessScale{{Type: "web", Quantity: 3}, {Type: "worker", Quantity: 1}})
	require.NoError(t, err)
	require.NoError(t, runJob(t, e.workflows(), job))
	assert.Equal(t, []string{"dokku ps:scale web", "dokku ps:scale web web=3 worker=1"}, e.gw.Commands(addr))
}

func TestPluginInstallHonorsEnabled(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.addServer(t, "s1", "10.0.0.1", domain.ConnectionSuccess)
	plugins := NewPluginService(e.servers, e.jobs, nil)
	w := e.workflows()

	job, err := plugins.InstallPlugin(context.Background(), testActor, "s1", domain.PluginSpec{
		Name: "postgres", URL: "https://github.com/dokku/dokku-postgres.git", Enabled: false,
	})
	require.NoError(t, err)
	require.NoError(t, runJob(t, w, job))
	assert.Equal(t, []string{
		"dokku plugin:list",
		"sudo dokku plugin:install 'https://github.com/dokku/dokku-postgres.git' --name postgres",
		"sudo dokku plugin:disable postgres",
	}, e.gw.Commands(addr))

	e.gw.Host(addr).On("dokku plugin:list", "  postgres             1.39.2 disabled   dokku postgres service plugin\n")
	job, err = plugins.SetPluginEnabled(context.Background(), testActor, "s1", "postgres", true)
	require.NoError(t, err)
	require.NoError(t, runJob(t, w, job))
	assert.Equal(t, []string{"dokku plugin:list", "sudo dokku plugin:enable postgres"}, e.gw.Commands(addr)[3:])
	assert.True(t, e.server(t, "s1").PluginsObserved[0].Enabled)

	_, err = plugins.UninstallPlugin(context.Background(), testActor, "s1", "redis")
	assert.ErrorIs(t, err, ErrPluginNotManaged)
}

func TestPluginDisableFailureRecordsInstall(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.addServer(t, "s1", "10.0.0.1", domain.ConnectionSuccess)
	e.gw.Host(addr).Fail("sudo dokku plugin:disable", 1, "plugin busy")
	plugins := NewPluginService(e.servers, e.jobs, nil)
	w := e.workflows()

	job, err := plugins.InstallPlugin(context.Background(), testActor, "s1", domain.PluginSpec{
		Name: "redis", URL: "https://github.com/dokku/dokku-redis.git", Enabled: false,
	})
	require.NoError(t, err)
	require.Error(t, runJob(t, w, job))

	observed := e.server(t, "s1").PluginsObserved
	require.Len(t, observed, 1)
	assert.Equal(t, "redis", observed[0].Name)
	assert.True(t, observed[0].Enabled)

	e.gw.Host(addr).
		On("sudo dokku plugin:disable", "").
		On("dokku plugin:list", "  redis                1.40.0 enabled    dokku redis service plugin\n")
	require.NoError(t, runJob(t, w, job))

	assert.Len(t, e.gw.CommandsMatching(addr, "plugin:install"), 1, "the plugin is not installed twice")
	assert.Equal(t, []string{"dokku plugin:list", "sudo dokku plugin:disable redis"}, e.gw.Commands(addr)[3:])
	assert.False(t, e.server(t, "s1").PluginsObserved[0].Enabled)
}

func TestPluginSyncKeepsManagedOnly(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.addServer(t, "s1", "10.0.0.1", domain.ConnectionSuccess)
	desired := domain.List[domain.PluginSpec]{{Name: "postgres", URL: "https://example.com/pg.git", Enabled: true}}
	require.NoError(t, e.servers.Update(context.Background(), "s1", domain.ServerPatch{PluginsDesired: &desired}))
	e.gw.Host(addr).On("dokku plugin:list",
		"  00_dokku-standard    0.34.4 enabled    dokku core standard plugin\n"+
			"  postgres             1.39.2 disabled   dokku postgres service plugin\n")

	job, err := NewPluginService(e.servers, e.jobs, nil).SyncPlugins(context.Background(), testActor, "s1")
	require.NoError(t, err)
	require.NoError(t, runJob(t, e.workflows(), job))

	observed := e.server(t, "s1").PluginsObserved
	require.Len(t, observed, 1)
	assert.Equal(t, domain.PluginSpec{Name: "postgres", URL: "https://example.com/pg.git", Version: "1.39.2", Enabled: false}, observed[0])
}

func TestServiceLifecycle(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.addServer(t, "s1", "10.0.0.1", domain.ConnectionSuccess)
	e.gw.Host(addr).Fail("dokku apps:exists", 1, "App web does not exist")
	apps, w := e.appService(), e.workflows()

	svc, job, err := apps.CreateService(context.Background(), testActor, ports.CreateServiceInput{ServerID: "s1", Name: "web", Type: domain.ServiceTypeApp})
	require.NoError(t, err)
	require.NoError(t, runJob(t, w, job))
	assert.Equal(t, []string{"dokku apps:exists web", "dokku apps:create web"}, e.gw.Commands(addr))
	assert.True(t, e.service(t, svc.ID).Created)

	e.gw.Host(addr).On("dokku apps:list", "=====> My Apps\nweb\n")
	job, err = apps.DestroyService(context.Background(), testActor, svc.ID)
	require.NoError(t, err)
	require.NoError(t, runJob(t, w, job))
	assert.Equal(t, []string{"dokku apps:list", "dokku --force apps:destroy web"}, e.gw.Commands(addr)[2:])
	_, err = e.services.GetByID(context.Background(), svc.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDestroyAppGoneFromHostIsForgotten(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	server := e.addServer(t, "s1", "10.0.0.1", domain.ConnectionSuccess)
	svc := e.addService(t, server, "web", domain.ServiceTypeApp, true)
	e.gw.Host(addr).On("dokku apps:list", "=====> My Apps\nother\n")

	job, err := e.appService().DestroyService(context.Background(), testActor, svc.ID)
	require.NoError(t, err)
	require.NoError(t, runJob(t, e.workflows(), job))

	assert.Equal(t, []string{"dokku apps:list"}, e.gw.Commands(addr))
	_, err = e.services.GetByID(context.Background(), svc.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCertificateIssuedOnlyWhenInactive(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	server := e.addServer(t, "s1", "10.0.0.1", domain.ConnectionSuccess)
	web := e.addService(t, server, "web", domain.ServiceTypeApp, true)
	api := e.addService(t, server, "api", domain.ServiceTypeApp, true)
	e.gw.Host(addr).On("dokku letsencrypt:active api", "true\n")
	apps, w := e.appService(), e.workflows()

	job, err := apps.EnableCertificate(context.Background(), testActor, web.ID, "ops@example.com")
	require.NoError(t, err)
	require.NoError(t, runJob(t, w, job))
	assert.Equal(t, []string{
		"dokku letsencrypt:active web",
		"dokku letsencrypt:set web email 'ops@example.com'",
		"dokku letsencrypt:enable web",
		"dokku letsencrypt:cron-job --add",
	}, e.gw.Commands(addr))
	assert.True(t, e.service(t, web.ID).CertificateObserved)

	job, err = apps.EnableCertificate(context.Background(), testActor, api.ID, "ops@example.com")
	require.NoError(t, err)
	require.NoError(t, runJob(t, w, job))
	assert.Equal(t, []string{"dokku letsencrypt:active api"}, e.gw.Commands(addr)[4:])
	assert.True(t, e.service(t, api.ID).CertificateObserved)
}

func TestDestroyNeverCreatedServiceOpensNoSession(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	server := e.addServer(t, "s1", "10.0.0.1", domain.ConnectionSuccess)
	svc := e.addService(t, server, "web", domain.ServiceTypeApp, false)

	job, err := e.appService().DestroyService(context.Background(), testActor, svc.ID)
	require.NoError(t, err)
	require.NoError(t, runJob(t, e.workflows(), job))
	assert.Zero(t, e.gw.Opened(addr))
	_, err = e.services.GetByID(context.Background(), svc.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRequestValidation(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	server := e.addServer(t, "s1", "10.0.0.1", domain.ConnectionSuccess)
	app := e.addService(t, server, "web", domain.ServiceTypeApp, true)
	db := e.addService(t, server, "db", domain.ServiceTypeDatabase, true)
	apps := e.appService()
	ctx := context.Background()

	_, err := apps.LinkDatabase(ctx, testActor, app.ID, "other")
	assert.ErrorIs(t, err, ErrServiceWrongType)
	_, err = apps.AddDomain(ctx, testActor, db.ID, "db.example.com")
	assert.ErrorIs(t, err, ErrServiceWrongType)
	_, err = apps.AddDomain(ctx, testActor, app.ID, "bad host")
	assert.ErrorIs(t, err, ErrServiceInvalidInput)
	_, err = apps.SetEnv(ctx, testActor, app.ID, []domain.EnvVar{{Key: "1BAD"}})
	assert.ErrorIs(t, err, ErrServiceInvalidInput)
	_, err = apps.Restart(ctx, domain.Actor{TenantID: "t2"}, app.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, _, err = apps.CreateService(ctx, testActor, ports.CreateServiceInput{ServerID: "s1", Name: "Web_1", Type: domain.ServiceTypeApp})
	assert.ErrorIs(t, err, ErrServiceInvalidInput)
	_, _, err = apps.CreateService(ctx, testActor, ports.CreateServiceInput{ServerID: "s1", Name: "web", Type: domain.ServiceTypeApp})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	assert.Empty(t, e.jobs.ofType(JobServiceDomains))
}

func TestLinkDatabase(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	server := e.addServer(t, "s1", "10.0.0.1", domain.ConnectionSuccess)
	db := e.addService(t, server, "db", domain.ServiceTypeDatabase, true)

	job, err := e.appService().LinkDatabase(context.Background(), testActor, db.ID, "web")
	require.NoError(t, err)
	require.NoError(t, runJob(t, e.workflows(), job))
	assert.Equal(t, []string{"dokku postgres:link db web"}, e.gw.CommandsMatching(addr, ":link"))
	assert.Equal(t, domain.List[domain.Link]{{App: "web"}}, e.service(t, db.ID).LinksObserved)
}

type recordingUploader struct {
	mu   sync.Mutex
	key  string
	body []byte
}

func (u *recordingUploader) Upload(_ context.Context, key string, body io.ReadSeeker, size int64) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	if int64(len(b)) != size {
		return "", errors.New("size mismatch")
	}
	u.key, u.body = key, b
	return "s3://backups/" + key, nil
}

func TestExportBackupUploadsDump(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	server := e.addServer(t, "s1", "10.0.0.1", domain.ConnectionSuccess)
	db := e.addService(t, server, "db", domain.ServiceTypeDatabase, true)
	dump := []byte("PGDMP fake dump")
	e.gw.Host(addr).File("/tmp/db-20260101T120000Z.dump", dump)

	uploader := &recordingUploader{}
	settings := BackupSettings{StagingDir: "/tmp"}
	w := e.workflows(func(c *WorkflowConfig) {
		c.Uploader = uploader
		c.Backup = settings
		c.Now = func() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) }
	})

	job, err := NewBackupService(e.services, e.jobs, settings, uploader).BackupDatabase(context.Background(), testActor, db.ID, ports.BackupExport)
	require.NoError(t, err)
	require.NoError(t, runJob(t, w, job))

	assert.Equal(t, "t1/db/20260101T120000Z.dump", uploader.key)
	assert.True(t, bytes.Equal(dump, uploader.body))
	assert.Equal(t, []string{
		"dokku postgres:export db > /tmp/db-20260101T120000Z.dump",
		"rm -f /tmp/db-20260101T120000Z.dump",
	}, e.gw.Commands(addr))
}

func TestBackupModesNeedConfiguration(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	server := e.addServer(t, "s1", "10.0.0.1", domain.ConnectionSuccess)
	db := e.addService(t, server, "db", domain.ServiceTypeDatabase, true)
	app := e.addService(t, server, "web", domain.ServiceTypeApp, true)

	svc := NewBackupService(e.services, e.jobs, BackupSettings{}, nil)
	_, err := svc.BackupDatabase(context.Background(), testActor, db.ID, ports.BackupNative)
	assert.ErrorIs(t, err, ErrBackupNotConfigured)
	_, err = svc.BackupDatabase(context.Background(), testActor, db.ID, "weekly")
	assert.ErrorIs(t, err, ErrBackupInvalidMode)

	svc = NewBackupService(e.services, e.jobs, BackupSettings{Bucket: "backups"}, nil)
	_, err = svc.BackupDatabase(context.Background(), testActor, app.ID, ports.BackupNative)
	assert.ErrorIs(t, err, ErrServiceWrongType)

	job, err := svc.BackupDatabase(context.Background(), testActor, db.ID, "")
	require.NoError(t, err)
	w := e.workflows(func(c *WorkflowConfig) {
		c.Backup = BackupSettings{Bucket: "backups", AccessKey: "AK", SecretKey: "SK"}
	})
	require.NoError(t, runJob(t, w, job))
	assert.Equal(t, []string{
		"dokku postgres:backup-auth db 'AK' 'SK'",
		"dokku postgres:backup db backups",
	}, e.gw.Commands(addr))
}

func TestJobsOnOneServerRunInOrder(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.addServer(t, "s1", "10.0.0.1", domain.ConnectionSuccess)
	e.gw.Host(addr).Fail("dokku apps:exists", 1, "")
	e.gw.Host(addr).Delay = 5 * time.Millisecond

	mux := queue.NewMux()
	e.workflows().Register(mux)
	registry := queue.NewRegistry(queue.RegistryConfig{Processor: mux.Process})
	apps := NewAppService(AppServiceConfig{Servers: e.servers, Services: e.services, Jobs: registry})

	svc, _, err := apps.CreateService(context.Background(), testActor, ports.CreateServiceInput{ServerID: "s1", Name: "web", Type: domain.ServiceTypeApp})
	require.NoError(t, err)
	last, err := apps.AddDomain(context.Background(), testActor, svc.ID, "web.example.com")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, ok := registry.Job(last.ID)
		return ok && j.State.Finished()
	}, 5*time.Second, 5*time.Millisecond)
	j, _ := registry.Job(last.ID)
	require.Equal(t, domain.JobStateCompleted, j.State, j.Error)

	assert.Equal(t, []string{
		"dokku apps:exists web",
		"dokku apps:create web",
		"dokku domains:report web --domains-app-vhosts",
		"dokku domains:add web web.example.com",
	}, e.gw.Commands(addr))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, registry.Shutdown(ctx))
}
