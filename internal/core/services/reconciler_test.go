package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dflow-sh/dflow-sub003/internal/domain"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/skipflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openFlags never skips, for tests that run a tenant repeatedly.
type openFlags struct{}

func (openFlags) SetIfAbsent(context.Context, string, time.Duration) (bool, error) { return true, nil }

func newTestReconciler(e *testEnv, mut ...func(*ReconcilerConfig)) *Reconciler {
	cfg := ReconcilerConfig{
		Servers:      e.servers,
		Gateway:      e.gw,
		Credentials:  e.creds,
		Flags:        skipflag.NewMemoryStore(),
		Events:       e.events,
		SkipFlagTTL:  time.Minute,
		ConfirmDelay: time.Millisecond,
	}
	for _, m := range mut {
		m(&cfg)
	}
	return NewReconciler(cfg)
}

func targetFor(t *testing.T, res ScanResult, serverID string) TargetResult {
	t.Helper()
	for _, tr := range res.Targets {
		if tr.ServerID == serverID {
			return tr
		}
	}
	t.Fatalf("no target result for %s", serverID)
	return TargetResult{}
}

func TestRunAppliesHysteresis(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.addServer(t, "new-ok", "10.0.0.1", domain.ConnectionNotCheckedYet)
	e.addServer(t, "new-down", "10.0.0.2", domain.ConnectionNotCheckedYet)
	e.addServer(t, "good-down", "10.0.0.3", domain.ConnectionSuccess)
	e.addServer(t, "bad-ok", "10.0.0.4", domain.ConnectionFailed)
	e.reachable("10.0.0.1:22")
	e.gw.Host("10.0.0.2:22").Unreachable = true
	e.gw.Host("10.0.0.3:22").Unreachable = true
	e.reachable("10.0.0.4:22")

	res, err := newTestReconciler(e).Run(context.Background(), testActor, "t1")
	require.NoError(t, err)
	require.False(t, res.Skipped)
	require.Len(t, res.Targets, 4)

	assert.Equal(t, domain.ConnectionSuccess, e.server(t, "new-ok").ConnectionStatus)
	assert.Equal(t, domain.ConnectionNotCheckedYet, e.server(t, "new-down").ConnectionStatus)
	assert.Equal(t, domain.ConnectionFailed, e.server(t, "good-down").ConnectionStatus)
	assert.Equal(t, domain.ConnectionSuccess, e.server(t, "bad-ok").ConnectionStatus)

	down := targetFor(t, res, "new-down")
	assert.Empty(t, down.Changed)
	assert.Equal(t, domain.KindUnreachable, domain.KindOf(down.Err))
	assert.Zero(t, e.servers.updatesOf("new-down"), "an unchanged server is not written")
	assert.Nil(t, e.server(t, "new-down").ConnectionCheckedAt)
	assert.Zero(t, e.gw.Opened("10.0.0.2:22"), "unreachable hosts are never authenticated")

	assert.Equal(t, []string{"connection_status"}, targetFor(t, res, "new-ok").Changed)
}

func TestRunTwiceInWindowIsSkipped(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.addServer(t, "s1", "10.0.0.1", domain.ConnectionNotCheckedYet)
	e.reachable("10.0.0.1:22")
	r := newTestReconciler(e)

	first, err := r.Run(context.Background(), testActor, "t1")
	require.NoError(t, err)
	require.False(t, first.Skipped)

	second, err := r.Run(context.Background(), testActor, "t1")
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Empty(t, second.Targets)
	assert.Equal(t, 1, e.gw.Probes("10.0.0.1:22"))
}

func TestRunChecksReachabilityOncePerTarget(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.addServer(t, "s1", "10.0.0.1", domain.ConnectionSuccess)
	e.addServer(t, "s2", "10.0.0.2", domain.ConnectionSuccess)
	e.reachable("10.0.0.1:22")
	e.gw.Host("10.0.0.2:22").Unreachable = true

	_, err := newTestReconciler(e).Run(context.Background(), testActor, "t1")
	require.NoError(t, err)

	assert.Equal(t, 1, e.gw.Probes("10.0.0.1:22"))
	assert.Equal(t, 1, e.gw.Opened("10.0.0.1:22"))
	assert.Equal(t, 1, e.gw.Probes("10.0.0.2:22"))
	assert.Zero(t, e.gw.Opened("10.0.0.2:22"))
}

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.addServer(t, "s1", "10.0.0.1", domain.ConnectionNotCheckedYet)
	e.reachable("10.0.0.1:22")

	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := newTestReconciler(e, func(c *ReconcilerConfig) {
		c.Flags = openFlags{}
		c.Now = func() time.Time { return clock }
	})

	_, err := r.Run(context.Background(), testActor, "t1")
	require.NoError(t, err)
	checked := e.server(t, "s1").ConnectionCheckedAt
	require.NotNil(t, checked)

	clock = clock.Add(time.Hour)
	res, err := r.Run(context.Background(), testActor, "t1")
	require.NoError(t, err)

	assert.Empty(t, targetFor(t, res, "s1").Changed)
	assert.Equal(t, 1, e.servers.updatesOf("s1"))
	assert.Equal(t, *checked, *e.server(t, "s1").ConnectionCheckedAt)
}

func TestRunIsolatesPanickingTarget(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.addServer(t, "s1", "10.0.0.1", domain.ConnectionNotCheckedYet)
	e.addServer(t, "s2", "10.0.0.2", domain.ConnectionSuccess)
	e.addServer(t, "s3", "10.0.0.3", domain.ConnectionNotCheckedYet)
	e.reachable("10.0.0.1:22")
	e.reachable("10.0.0.2:22").OnProbe = func() error { panic("probe exploded") }
	e.reachable("10.0.0.3:22")

	res, err := newTestReconciler(e).Run(context.Background(), testActor, "t1")
	require.NoError(t, err)

	assert.Equal(t, domain.ConnectionSuccess, e.server(t, "s1").ConnectionStatus)
	assert.Equal(t, domain.ConnectionSuccess, e.server(t, "s3").ConnectionStatus)
	assert.Equal(t, domain.ConnectionFailed, e.server(t, "s2").ConnectionStatus)

	s2 := targetFor(t, res, "s2")
	require.Error(t, s2.Err)
	assert.Contains(t, s2.Error, "probe exploded")
}

func TestRunCollectsOnlyChangedFacts(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.addServer(t, "s1", "10.0.0.1", domain.ConnectionSuccess)
	e.reachable("10.0.0.1:22").
		On("dokku version", "dokku version 0.34.4\n").
		On("cloud-init status", "status: done\n").
		On("cat /etc/os-release", "ID=ubuntu\nVERSION_ID=\"24.04\"\n").
		On("hostname -I", "10.0.0.1 192.168.1.5 fd00::1\n").
		Fail("curl", 6, "could not resolve host")

	r := newTestReconciler(e, func(c *ReconcilerConfig) {
		c.CollectFacts = true
		c.Flags = openFlags{}
	})
	res, err := r.Run(context.Background(), testActor, "t1")
	require.NoError(t, err)

	server := e.server(t, "s1")
	assert.Equal(t, "0.34.4", server.DokkuVersion)
	assert.Equal(t, "done", server.CloudInitStatus)
	assert.Equal(t, "ubuntu", server.OS)
	assert.Equal(t, "24.04", server.OSVersion)
	assert.Equal(t, "10.0.0.1", server.PrivateIP)
	assert.Empty(t, server.PublicIP)
	assert.ElementsMatch(t,
		[]string{"dokku_version", "cloud_init_status", "os", "os_version", "private_ip"},
		targetFor(t, res, "s1").Changed)

	res, err = r.Run(context.Background(), testActor, "t1")
	require.NoError(t, err)
	assert.Empty(t, targetFor(t, res, "s1").Changed)
}

func TestConfirmConnectionRetriesUntilReachable(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.addServer(t, "s1", "10.0.0.1", domain.ConnectionNotCheckedYet)
	var probes int32
	e.reachable("10.0.0.1:22").OnProbe = func() error {
		if atomic.AddInt32(&probes, 1) <= 2 {
			return domain.ErrUnreachable
		}
		return nil
	}

	r := newTestReconciler(e, func(c *ReconcilerConfig) { c.ConfirmAttempts = 5 })
	res, err := r.ConfirmConnection(context.Background(), testActor, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionSuccess, res.Status)
	assert.Equal(t, domain.ConnectionSuccess, e.server(t, "s1").ConnectionStatus)
}

func TestConfirmConnectionGivesUp(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.addServer(t, "s1", "10.0.0.1", domain.ConnectionNotCheckedYet)
	e.gw.Host("10.0.0.1:22").Unreachable = true

	r := newTestReconciler(e, func(c *ReconcilerConfig) { c.ConfirmAttempts = 3 })
	_, err := r.ConfirmConnection(context.Background(), testActor, "s1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnreachable))
	assert.Equal(t, 3, e.gw.Probes("10.0.0.1:22"))
	assert.Equal(t, domain.ConnectionNotCheckedYet, e.server(t, "s1").ConnectionStatus)
}

func TestSchedulerTickEnqueuesPerTenant(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.addServer(t, "s1", "10.0.0.1", domain.ConnectionNotCheckedYet)
	other := &domain.Server{ID: "s2", TenantID: "t2", Name: "s2", IP: "10.0.0.2"}
	require.NoError(t, e.servers.ServerStore.Create(context.Background(), other))

	jobs, err := NewScheduler(e.servers, e.jobs, time.Minute, nil).Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, domain.ReconcileKey("t1"), jobs[0].Queue)
	assert.Equal(t, domain.ReconcileKey("t2"), jobs[1].Queue)
	assert.Equal(t, "system", jobs[1].Actor.UserID)
	assert.Equal(t, JobReconcileScan, jobs[0].Type)
}

func TestTriggerRejectsOtherTenant(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	svc := NewReconcileService(e.jobs)

	_, err := svc.Trigger(context.Background(), testActor, "t2")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	job, err := svc.Trigger(context.Background(), testActor, "")
	require.NoError(t, err)
	assert.Equal(t, domain.ReconcileKey("t1"), job.Queue)
}
