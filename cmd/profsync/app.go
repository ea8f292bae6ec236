package main

import (
	"context"
	"time"

	"github.com/MrBigodon205/app-de-professor-sub003/internal/api"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/backup"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/config"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/connectivity"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/db"
	apperrors "github.com/MrBigodon205/app-de-professor-sub003/internal/errors"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/logging"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/remote"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/remote/memory"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/remote/postgres"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/remote/rest"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/services"
	syncpkg "github.com/MrBigodon205/app-de-professor-sub003/internal/sync"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/sync/queue"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/sync/reconcile"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/sync/scheduler"
)

// app holds every component built from one configuration.
type app struct {
	cfg *config.Config

	conn      *db.DB
	store     *db.Store
	remote    remote.Client
	monitor   *connectivity.Monitor
	probe     connectivity.Probe
	queue     *queue.SyncQueue
	engine    *syncpkg.SyncEngine
	puller    *reconcile.Puller
	scheduler *scheduler.Scheduler
	entities  *services.EntityService
	backups   *backup.Service
	sink      *backup.FileSink
	hub       *api.Hub

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	conn, err := db.Open(ctx, cfg.DataDir)
	if err != nil {
		return nil, err
	}
	a.conn = conn
	a.closers = append(a.closers, conn.Close)
	a.store = db.NewStore(conn)

	client, closeRemote, err := buildRemote(cfg.Remote)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.remote = client
	if closeRemote != nil {
		a.closers = append(a.closers, closeRemote)
	}

	a.monitor = connectivity.NewMonitor(cfg.Connectivity.Initial)
	a.probe = buildProbe(cfg)
	a.queue = queue.NewSyncQueue(a.store, cfg.Sync.MaxRetries)
	a.engine = syncpkg.NewSyncEngine(a.queue, a.remote, a.monitor, cfg.Sync.BatchSize)
	a.puller = reconcile.NewPuller(a.store, a.remote)
	a.puller.SetPageSize(cfg.Sync.PageSize)
	a.scheduler = scheduler.NewScheduler(a.engine, a.queue, a.puller, a.monitor, &scheduler.SchedulerConfig{
		UserID:          cfg.UserID,
		SyncInterval:    cfg.Sync.Interval,
		PassTimeout:     cfg.Sync.PassTimeout,
		PullOnStart:     cfg.Sync.PullOnStart,
		PullOnReconnect: cfg.Sync.PullOnReconnect,
	})
	a.entities = services.NewEntityService(a.store, a.queue, a.remote, a.monitor)
	a.entities.SetNotifier(a.scheduler)
	a.backups = backup.NewService(a.store)
	a.sink = backup.NewFileSink(cfg.Backup.Dir, cfg.Backup.Retention)

	a.hub = api.NewHub()
	a.engine.SetEventHandler(a.hub)
	a.puller.SetEventHandler(a.hub)
	return a, nil
}

// Close releases the local store and the remote connection.
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// checkConnectivity probes once so that one-shot commands act on the
// current state rather than the configured initial one.
func (a *app) checkConnectivity(ctx context.Context) bool {
	if a.cfg.Connectivity.SignalFile != "" {
		connectivity.NewSignalFile(a.monitor, a.cfg.Connectivity.SignalFile).Refresh()
		return a.monitor.Online()
	}
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	a.monitor.Set(a.probe(probeCtx), "probe")
	return a.monitor.Online()
}

func (a *app) server() *api.Server {
	return api.NewServer(a.cfg.API.Addr, a.cfg.API.Debug, api.Deps{
		Scheduler: a.scheduler,
		Queue:     a.queue,
		Monitor:   a.monitor,
		Entities:  a.entities,
		Backup:    a.backups,
		Sink:      a.sink,
		Hub:       a.hub,
	})
}

// buildRemote creates the configured remote client and, where it holds a
// connection, its closer.
func buildRemote(rc config.RemoteConfig) (remote.Client, func() error, error) {
	switch rc.Driver {
	case config.DriverREST:
		restCfg := rest.Config{BaseURL: rc.URL, APIKey: rc.APIKey, Timeout: rc.Timeout}
		if rc.AccessToken != "" {
			token := rc.AccessToken
			restCfg.Token = func(context.Context) (string, error) { return token, nil }
		}
		return rest.New(restCfg), nil, nil
	case config.DriverPostgres:
		client, err := postgres.Open(postgres.Config{DSN: rc.DSN, SlowThreshold: 500 * time.Millisecond})
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	case config.DriverMemory:
		logging.Warn("using the in-memory remote store, nothing leaves this process", nil)
		return memory.New(), nil, nil
	}
	return nil, nil, apperrors.Newf(apperrors.ErrConfig, "unknown remote driver %q", rc.Driver)
}

// buildProbe picks how reachability is checked: the network interfaces,
// or a dial to connectivity.probe_addr when the operator names one. The
// remote store itself is never probed.
func buildProbe(cfg *config.Config) connectivity.Probe {
	if addr := cfg.Connectivity.ProbeAddr; addr != "" {
		return connectivity.DialProbe(addr, 3*time.Second)
	}
	return connectivity.InterfaceProbe
}
