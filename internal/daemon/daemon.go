// Package daemon runs scheduled reconciliation and serves the HTTP API.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/robfig/cron/v3"

	"github.com/yairfalse/tally/internal/bulk"
	"github.com/yairfalse/tally/internal/journal"
	"github.com/yairfalse/tally/internal/reconciler"
	"github.com/yairfalse/tally/internal/telemetry"
	"github.com/yairfalse/tally/internal/trigger"
	"github.com/yairfalse/tally/pkg/resource"
)

// Service is what the daemon schedules and exposes.
type Service interface {
	Contexts() []string
	Types(cloudContext string) ([]resource.Type, error)
	TriggerReconcile(ctx context.Context, cloudContext string, t resource.Type) (reconciler.Result, error)
	TriggerReconcileAll(ctx context.Context, cloudContext string) (map[resource.Type]reconciler.Result, error)
	TriggerBulkAction(ctx context.Context, req bulk.Request, commit bool) (trigger.BulkOutcome, error)
	List(ctx context.Context, cloudContext string, t resource.Type) ([]resource.LocalRecord, error)
}

// Config holds daemon settings.
type Config struct {
	Addr string
	// Schedules maps a cloud context to its cron spec.
	Schedules map[string]string
	// CleanupSchedule runs journal retention. Empty disables it.
	CleanupSchedule string
	JournalDir      string
	Journal         journal.Config
}

// Daemon manages scheduled reconciliation and the HTTP server.
type Daemon struct {
	svc       Service
	cfg       Config
	cron      *cron.Cron
	server    *http.Server
	metrics   *DaemonMetrics
	logger    *telemetry.Logger
	startTime time.Time
	passes    atomic.Int64
	ready     atomic.Bool
	listener  net.Listener
}

// NewDaemon creates a daemon and registers its schedules.
func NewDaemon(svc Service, cfg Config) (*Daemon, error) {
	metrics, err := NewDaemonMetrics()
	if err != nil {
		return nil, fmt.Errorf("create daemon metrics: %w", err)
	}

	logger := telemetry.NewLogger("daemon")
	d := &Daemon{
		svc:       svc,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
		startTime: time.Now(),
	}

	cronLog := cronLogger{logger: logger}
	d.cron = cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)

	for _, name := range svc.Contexts() {
		spec, ok := cfg.Schedules[name]
		if !ok || spec == "" {
			continue
		}
		if _, err := d.cron.AddFunc(spec, func() { d.reconcileContext(context.Background(), name) }); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", name, err)
		}
	}
	if cfg.CleanupSchedule != "" && cfg.JournalDir != "" {
		if _, err := d.cron.AddFunc(cfg.CleanupSchedule, func() { d.cleanupJournal(context.Background()) }); err != nil {
			return nil, fmt.Errorf("schedule journal cleanup: %w", err)
		}
	}

	d.server = &http.Server{
		Handler:           d.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return d, nil
}

// Listen binds the HTTP address. Run calls it when it has not been called.
func (d *Daemon) Listen() error {
	if d.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", d.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.cfg.Addr, err)
	}
	d.listener = ln
	return nil
}

// Run serves until ctx ends, a signal arrives or an actor fails.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Listen(); err != nil {
		return err
	}
	ln := d.listener

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	{
		g.Add(func() error {
			d.logger.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
			if err := d.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = d.server.Shutdown(shutdownCtx)
		})
	}
	{
		stop := make(chan struct{})
		g.Add(func() error {
			d.cron.Start()
			d.ready.Store(true)
			d.logger.Info().Int("jobs", len(d.cron.Entries())).Msg("scheduler started")
			<-stop
			return nil
		}, func(error) {
			d.ready.Store(false)
			<-d.cron.Stop().Done()
			close(stop)
		})
	}

	err := g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		d.logger.Info().Str("signal", sig.Signal.String()).Msg("shutting down")
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Addr returns the bound address once Listen has run.
func (d *Daemon) Addr() string {
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

func (d *Daemon) reconcileContext(ctx context.Context, name string) {
	start := time.Now()
	results, err := d.svc.TriggerReconcileAll(ctx, name)
	d.passes.Add(int64(len(results)))

	status := "ok"
	switch {
	case err != nil:
		status = "failed"
	default:
		for _, res := range results {
			if res.Failed() > 0 {
				status = "partial"
			}
		}
	}
	d.metrics.RecordScheduledRun(ctx, name, status, time.Since(start))

	event := d.logger.Info()
	if err != nil {
		event = d.logger.Warn().Err(err)
	}
	event.Str("cloud_context", name).
		Str("status", status).
		Int("types", len(results)).
		Dur("duration", time.Since(start)).
		Msg("scheduled reconcile finished")
}

func (d *Daemon) cleanupJournal(ctx context.Context) {
	stats, err := journal.Cleanup(d.cfg.JournalDir, d.cfg.Journal, time.Now())
	if err != nil {
		d.logger.Error().Err(err).Msg("journal cleanup failed")
		return
	}
	d.metrics.RecordJournalCleanup(ctx, stats.FilesRemoved, stats.BytesFreed)
	d.logger.Info().
		Int("files_removed", stats.FilesRemoved).
		Int64("bytes_freed", stats.BytesFreed).
		Msg("journal cleanup finished")
}

// Health returns daemon health status
func (d *Daemon) Health() HealthStatus {
	return HealthStatus{
		Status: "healthy",
		Uptime: int64(time.Since(d.startTime).Seconds()),
		Passes: d.passes.Load(),
		Jobs:   len(d.cron.Entries()),
	}
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status string `json:"status"`
	Uptime int64  `json:"uptime_seconds"`
	Passes int64  `json:"passes"`
	Jobs   int    `json:"jobs"`
}

// cronLogger routes cron's logging through zerolog.
type cronLogger struct {
	logger *telemetry.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
