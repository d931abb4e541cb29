package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yairfalse/tally/internal/config"
	"github.com/yairfalse/tally/internal/daemon"
	"github.com/yairfalse/tally/internal/journal"
)

var daemonAddr string

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run scheduled reconciliation and the HTTP API",
	Long: `Run tally as a long-lived process.

Every configured context is reconciled on its cron schedule (or the daemon
default). The HTTP API triggers passes and bulk actions on demand and
exposes health, readiness and Prometheus metrics.`,
	Example: `  tally daemon --config tally.yaml
  tally daemon --config tally.yaml --addr :8080`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().StringVar(&daemonAddr, "addr", "", "HTTP listen address (overrides config)")
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, configPath, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	cfg := daemonConfig(a.cfg)
	if daemonAddr != "" {
		cfg.Addr = daemonAddr
	}

	d, err := daemon.NewDaemon(a.service, cfg)
	if err != nil {
		return err
	}
	return d.Run(ctx)
}

// daemonConfig derives the daemon settings from the file configuration.
func daemonConfig(cfg *config.Config) daemon.Config {
	schedules := make(map[string]string, len(cfg.Contexts))
	for _, cc := range cfg.Contexts {
		spec := cc.Schedule
		if spec == "" {
			spec = cfg.Daemon.DefaultSchedule
		}
		schedules[cc.Name] = spec
	}

	out := daemon.Config{
		Addr:      cfg.Daemon.Addr,
		Schedules: schedules,
		Journal:   journal.Config{RetentionDays: cfg.Journal.RetentionDays},
	}
	if cfg.Journal.Enabled {
		out.CleanupSchedule = cfg.Daemon.CleanupSchedule
		out.JournalDir = cfg.Journal.Dir
	}
	return out
}
