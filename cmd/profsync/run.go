package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrBigodon205/app-de-professor-sub003/internal/backup"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/connectivity"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/logging"
)

var noAPI bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync scheduler, connectivity watcher and control API",
	Long: `Run keeps the local store and the remote store converging until it is
interrupted. Queued writes are replayed whenever the remote store is
reachable, remote state is pulled after every reconnect, and the control API
serves status, manual triggers and backups on api.addr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.run(ctx, !noAPI)
	},
}

func init() {
	runCmd.Flags().BoolVar(&noAPI, "no-api", false, "do not start the control API")
	rootCmd.AddCommand(runCmd)
}

// run supervises every long-running component; the first to fail stops
// the rest.
func (a *app) run(ctx context.Context, serveAPI bool) error {
	if a.cfg.Backup.RestoreIfEmpty {
		if _, err := a.backups.RestoreIfEmpty(ctx, a.sink); err != nil {
			logging.Error("restore from backup failed", err, map[string]interface{}{"dir": a.sink.Dir()})
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.hub.Run(gctx) })
	g.Go(func() error { return a.hub.WatchConnectivity(gctx, a.monitor) })

	if path := a.cfg.Connectivity.SignalFile; path != "" {
		sf := connectivity.NewSignalFile(a.monitor, path)
		g.Go(func() error { return sf.Run(gctx) })
	} else {
		poller := connectivity.NewPoller(a.monitor, "probe", a.probe, a.cfg.Connectivity.PollInterval)
		g.Go(func() error { return poller.Run(gctx) })
	}

	g.Go(func() error {
		if err := a.scheduler.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		a.scheduler.Stop()
		return nil
	})

	backupScheduler := backup.NewScheduler(a.backups, a.sink, a.cfg.Backup.Interval)
	g.Go(func() error {
		backupScheduler.Start(gctx)
		<-gctx.Done()
		backupScheduler.Stop()
		return nil
	})

	if serveAPI {
		srv := a.server()
		g.Go(func() error { return srv.Run(gctx) })
	}

	logging.Info("profsync running", map[string]interface{}{
		"version":  Version,
		"data_dir": a.cfg.DataDir,
		"driver":   a.cfg.Remote.Driver,
		"user_id":  a.cfg.UserID,
		"api":      serveAPI,
	})
	err := g.Wait()
	logging.Info("profsync stopped", nil)
	return err
}
