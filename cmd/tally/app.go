package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/yairfalse/tally/internal/bulk"
	"github.com/yairfalse/tally/internal/config"
	"github.com/yairfalse/tally/internal/emitter"
	"github.com/yairfalse/tally/internal/guard"
	"github.com/yairfalse/tally/internal/journal"
	"github.com/yairfalse/tally/internal/lock"
	"github.com/yairfalse/tally/internal/provider"
	"github.com/yairfalse/tally/internal/provider/aws"
	"github.com/yairfalse/tally/internal/provider/k8s"
	"github.com/yairfalse/tally/internal/reconciler"
	"github.com/yairfalse/tally/internal/store"
	"github.com/yairfalse/tally/internal/telemetry"
	"github.com/yairfalse/tally/internal/trigger"
	"github.com/yairfalse/tally/pkg/resource"
)

// app holds the wired components of one tally process.
type app struct {
	cfg       *config.Config
	store     store.Gateway
	providers *provider.Registry
	journal   *journal.Journal
	telemetry *telemetry.Provider
	service   *trigger.Service
	closers   []func() error
}

// newApp loads the configuration and wires every component. The returned
// app must be closed.
func newApp(ctx context.Context, cfgPath string, logOut io.Writer) (*app, error) {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := telemetry.SetupLogging(cfg.Log, logOut); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	if err := a.wire(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func (a *app) wire(ctx context.Context) error {
	tp, err := telemetry.NewProvider(ctx, a.cfg.OTEL)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	a.telemetry = tp

	metrics, err := telemetry.NewReconcileMetrics()
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	a.store, err = store.Open(ctx, a.cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	locker, err := buildLocker(ctx, a.cfg.Lock)
	if err != nil {
		return err
	}
	if c, ok := locker.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	a.providers, err = buildProviders(ctx, a.cfg.Contexts)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, a.providers.Close)

	var jrnl reconciler.Journal
	var bulkJournal bulk.Journal
	if a.cfg.Journal.Enabled {
		a.journal, err = journal.Open(a.cfg.Journal.Dir, journal.DefaultPrefix)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		a.closers = append(a.closers, a.journal.Close)
		jrnl, bulkJournal = a.journal, a.journal
	}

	g, err := guard.Load(ctx, a.cfg.Bulk.PolicyFile)
	if err != nil {
		return err
	}

	owners := make(map[string]string, len(a.cfg.Contexts))
	contexts := make(map[string][]resource.Type, len(a.cfg.Contexts))
	for _, cc := range a.cfg.Contexts {
		owners[cc.Name] = cc.Owner
		types, err := cc.ResourceTypes()
		if err != nil {
			return fmt.Errorf("context %s: %w", cc.Name, err)
		}
		contexts[cc.Name] = types
	}

	engine := reconciler.NewEngine(reconciler.Deps{
		Lister:  a.providers,
		Store:   a.store,
		Locker:  locker,
		Journal: jrnl,
		Metrics: metrics,
	}, reconciler.Options{
		MaxConcurrency:  a.cfg.Reconcile.MaxConcurrency,
		ProviderTimeout: a.cfg.Reconcile.ProviderTimeout,
		PendingGrace:    a.cfg.Reconcile.PendingGrace,
		WaitForLock:     a.cfg.Reconcile.WaitForLock,
		LockRetry:       a.cfg.Reconcile.LockRetry,
		Owners:          owners,
	})

	dispatcher := bulk.New(bulk.Deps{
		Actor:   a.providers,
		Store:   a.store,
		Guard:   g,
		Journal: bulkJournal,
		Metrics: metrics,
	}, bulk.Options{
		RatePerSecond:  a.cfg.Bulk.RatePerSecond,
		Burst:          a.cfg.Bulk.Burst,
		MaxConcurrency: a.cfg.Bulk.MaxConcurrency,
	})

	inventory, err := emitter.NewInventoryEmitter(a.cfg.OTEL.Metrics.RecordInfo)
	if err != nil {
		return fmt.Errorf("create inventory emitter: %w", err)
	}
	a.closers = append(a.closers, inventory.Close)

	a.service = trigger.NewService(engine, dispatcher, a.store, contexts).WithEmitter(inventory)
	return nil
}

func buildLocker(ctx context.Context, cfg config.LockConfig) (lock.Locker, error) {
	switch cfg.Driver {
	case "", "local":
		return lock.NewLocal(), nil
	case "redis":
		l, err := lock.NewRedis(ctx, lock.RedisConfig{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
			Prefix:   cfg.Prefix,
			TTL:      cfg.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("connect lock backend: %w", err)
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unknown lock driver %q", cfg.Driver)
	}
}

// buildProviders creates one backend per configured cloud context.
func buildProviders(ctx context.Context, contexts []config.ContextConfig) (*provider.Registry, error) {
	reg := provider.NewRegistry()
	for _, cc := range contexts {
		var (
			b   provider.Backend
			err error
		)
		switch cc.Provider {
		case resource.ProviderAWS:
			b, err = aws.New(ctx, aws.Config{Region: cc.Region, Profile: cc.Profile})
		case resource.ProviderK8s:
			b, err = k8s.New(k8s.Config{Kubeconfig: cc.Kubeconfig, Context: cc.KubeContext, Namespace: cc.Namespace})
		default:
			err = fmt.Errorf("unknown provider %q", cc.Provider)
		}
		if err != nil {
			_ = reg.Close()
			return nil, fmt.Errorf("context %s: %w", cc.Name, err)
		}
		reg.Register(cc.Name, b)
	}
	return reg, nil
}

// Close releases every component in reverse order of creation.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
