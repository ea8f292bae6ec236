// Command profsync runs the offline-first sync layer: a background process
// that replays queued writes, pulls remote state and serves a local control
// API, plus one-shot commands for the same operations.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrBigodon205/app-de-professor-sub003/internal/config"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/logging"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/telemetry"
)

// Version is set at build time.
var Version = "0.1.0"

var (
	configPath string
	cfg        *config.Config
	logCloser  io.Closer
)

var rootCmd = &cobra.Command{
	Use:           "profsync",
	Short:         "Offline-first sync for the school records store",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		logCloser = logging.Configure(logging.Options{
			Level:      logging.ParseLevel(cfg.Log.Level),
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		})
		telemetry.Enable(telemetry.Options{
			Token:       cfg.Telemetry.RollbarToken,
			Environment: cfg.Telemetry.Environment,
			CodeVersion: Version,
		})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: profsync.yaml in $HOME/.profsync or .)")
}

// printJSON writes v to stdout, indented.
func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		telemetry.TrackError(err, map[string]interface{}{"command": os.Args[1:]})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	telemetry.Shutdown(ctx)
	cancel()
	if logCloser != nil {
		logCloser.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}
