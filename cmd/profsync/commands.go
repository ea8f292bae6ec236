package main

import (
	"context"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrBigodon205/app-de-professor-sub003/internal/backup"
	apperrors "github.com/MrBigodon205/app-de-professor-sub003/internal/errors"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/models"
)

// withApp builds the app for a one-shot command and closes it afterwards.
func withApp(fn func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, cmd, a, args)
	}
}

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Replay queued writes once",
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		a.checkConnectivity(ctx)
		if _, err := a.queue.Recover(ctx); err != nil {
			return err
		}
		result, err := a.scheduler.SyncNow(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	}),
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Replay queued writes, then overwrite local state with the remote store",
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		a.checkConnectivity(ctx)
		if _, err := a.queue.Recover(ctx); err != nil {
			return err
		}
		result, err := a.scheduler.PullNow(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	}),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity and queue state",
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		a.checkConnectivity(ctx)
		if _, err := a.engine.RefreshPending(ctx); err != nil {
			return err
		}
		return printJSON(cmd, a.scheduler.GetStatus(ctx))
	}),
}

// Queue

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage queued writes",
}

var queueStatus string

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued writes",
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		var statuses []models.QueueStatus
		for _, part := range strings.Split(queueStatus, ",") {
			if part = strings.TrimSpace(part); part != "" {
				statuses = append(statuses, models.QueueStatus(part))
			}
		}
		items, err := a.queue.List(ctx, statuses...)
		if err != nil {
			return err
		}
		if items == nil {
			items = []*models.QueuedMutation{}
		}
		return printJSON(cmd, items)
	}),
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Reset failed writes so the next pass replays them",
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		n, err := a.queue.RetryAll(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]int{"requeued": n})
	}),
}

var queueRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Discard one queued write without replaying it",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return apperrors.Newf(apperrors.ErrInvalid, "invalid mutation id %q", args[0])
		}
		if err := a.queue.Remove(ctx, id); err != nil {
			return err
		}
		return printJSON(cmd, map[string]int64{"removed": id})
	}),
}

// Backup

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Export, import and restore the local store",
}

var backupExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write a backup document to file, or stdout when omitted or -",
	Args:  cobra.MaximumNArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		doc, err := a.backups.Export(ctx)
		if err != nil {
			return err
		}
		if len(args) == 0 || args[0] == "-" {
			return backup.Encode(cmd.OutOrStdout(), doc)
		}
		f, err := os.Create(args[0])
		if err != nil {
			return apperrors.Wrap(apperrors.ErrExportFailed, "create "+args[0], err)
		}
		if err := backup.Encode(f, doc); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}),
}

var restoreQueue bool

var backupImportCmd = &cobra.Command{
	Use:   "import <file|->",
	Short: "Merge a backup document into the local store",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		var r io.Reader = cmd.InOrStdin()
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return apperrors.Wrap(apperrors.ErrImportFailed, "open "+args[0], err)
			}
			defer f.Close()
			r = f
		}
		doc, err := backup.Decode(r)
		if err != nil {
			return err
		}
		result, err := a.backups.Import(ctx, doc, backup.ImportOptions{RestoreQueue: restoreQueue})
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	}),
}

var backupSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Write a backup file into backup.dir",
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		info, err := a.backups.Backup(ctx, a.sink)
		if err != nil {
			return err
		}
		return printJSON(cmd, info)
	}),
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backup files in backup.dir",
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		files, err := a.sink.List()
		if err != nil {
			return err
		}
		if files == nil {
			files = []*backup.FileInfo{}
		}
		return printJSON(cmd, files)
	}),
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Import the newest backup file if the local store is empty",
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		restored, err := a.backups.RestoreIfEmpty(ctx, a.sink)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]bool{"restored": restored})
	}),
}

func init() {
	queueListCmd.Flags().StringVar(&queueStatus, "status", "", "comma-separated statuses to list (pending, processing, failed)")
	queueCmd.AddCommand(queueListCmd, queueRetryCmd, queueRemoveCmd)

	backupImportCmd.Flags().BoolVar(&restoreQueue, "restore-queue", false, "also re-enqueue the document's queued writes")
	backupCmd.AddCommand(backupExportCmd, backupImportCmd, backupSaveCmd, backupListCmd, backupRestoreCmd)

	rootCmd.AddCommand(drainCmd, pullCmd, statusCmd, queueCmd, backupCmd)
}
