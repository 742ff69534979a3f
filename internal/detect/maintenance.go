package detect

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/netsentry/threatdetect/internal/kvstore"
)

// ProfileIdleTimeout is how long an identity may stay quiet before its
// profile is evicted.
const ProfileIdleTimeout = 24 * time.Hour

// IntelFetcher supplies refreshed intelligence snapshots. Implementations
// may do network I/O; they only ever run from the maintenance scheduler.
type IntelFetcher interface {
	Fetch(ctx context.Context) (*IntelSnapshot, error)
}

// MaintenanceOptions tunes the background task cadences. Expressions use
// cron syntax with a seconds field.
type MaintenanceOptions struct {
	EvictionSchedule string // default hourly
	RefreshSchedule  string // default hourly
	PersistSchedule  string // default daily
	ProfileIdle      time.Duration
}

// Maintenance runs the periodic background tasks: profile eviction, intel
// refresh and catalog persistence. Tasks are independent; one failing run
// never stops the others.
type Maintenance struct {
	cron    *cron.Cron
	engine  *Engine
	kv      kvstore.KV
	fetcher IntelFetcher
	idle    time.Duration

	runs  metric.Int64Counter
	fails metric.Int64Counter
}

// NewMaintenance builds the scheduler. kv and fetcher may be nil, in which
// case the corresponding task is skipped.
func NewMaintenance(engine *Engine, kv kvstore.KV, fetcher IntelFetcher, opts MaintenanceOptions) (*Maintenance, error) {
	if opts.EvictionSchedule == "" {
		opts.EvictionSchedule = "0 0 * * * *" // hourly
	}
	if opts.RefreshSchedule == "" {
		opts.RefreshSchedule = "0 30 * * * *" // hourly, offset from eviction
	}
	if opts.PersistSchedule == "" {
		opts.PersistSchedule = "0 15 3 * * *" // daily
	}
	if opts.ProfileIdle <= 0 {
		opts.ProfileIdle = ProfileIdleTimeout
	}

	meter := otel.Meter("threatdetect-maintenance")
	runs, _ := meter.Int64Counter("sentry_maintenance_runs_total")
	fails, _ := meter.Int64Counter("sentry_maintenance_failures_total")

	m := &Maintenance{
		cron:    cron.New(cron.WithSeconds()),
		engine:  engine,
		kv:      kv,
		fetcher: fetcher,
		idle:    opts.ProfileIdle,
		runs:    runs,
		fails:   fails,
	}

	if _, err := m.cron.AddFunc(opts.EvictionSchedule, m.task("profile_eviction", m.evictProfiles)); err != nil {
		return nil, fmt.Errorf("add eviction schedule: %w", err)
	}
	if fetcher != nil {
		if _, err := m.cron.AddFunc(opts.RefreshSchedule, m.task("intel_refresh", m.refreshIntel)); err != nil {
			return nil, fmt.Errorf("add refresh schedule: %w", err)
		}
	}
	if kv != nil {
		if _, err := m.cron.AddFunc(opts.PersistSchedule, m.task("catalog_persist", m.persistCatalog)); err != nil {
			return nil, fmt.Errorf("add persist schedule: %w", err)
		}
	}
	return m, nil
}

// Start begins the schedule loop.
func (m *Maintenance) Start() {
	m.cron.Start()
	slog.Info("maintenance scheduler started")
}

// Stop halts new ticks and waits for in-flight tasks, bounded by ctx.
func (m *Maintenance) Stop(ctx context.Context) error {
	stopCtx := m.cron.Stop()
	select {
	case <-stopCtx.Done():
		slog.Info("maintenance scheduler stopped")
		return nil
	case <-ctx.Done():
		slog.Warn("maintenance scheduler stop timeout")
		return ctx.Err()
	}
}

// task wraps a maintenance function with panic isolation, logging and
// metrics so one task's failure cannot take down its siblings.
func (m *Maintenance) task(name string, fn func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("maintenance task panicked", "task", name, "panic", r)
				m.fails.Add(ctx, 1, metric.WithAttributes(attribute.String("task", name)))
			}
		}()
		m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("task", name)))
		if err := fn(ctx); err != nil {
			slog.Error("maintenance task failed", "task", name, "error", err)
			m.fails.Add(ctx, 1, metric.WithAttributes(attribute.String("task", name)))
		}
	}
}

func (m *Maintenance) evictProfiles(context.Context) error {
	n := m.engine.Profiles().EvictIdle(m.idle)
	if n > 0 {
		slog.Info("evicted idle behavioral profiles", "count", n)
	}
	return nil
}

func (m *Maintenance) refreshIntel(ctx context.Context) error {
	snap, err := m.fetcher.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("refresh intel: %w", err)
	}
	m.engine.Intel().Swap(snap)
	slog.Info("threat intelligence refreshed",
		"ips", len(snap.IPReputation),
		"domains", len(snap.MaliciousDomains),
		"bot_uas", len(snap.BotUserAgents),
	)
	return nil
}

// persistCatalog writes the catalog snapshot to the KV store. The in-memory
// catalog is authoritative; a persistence error is logged by the caller and
// never rolls back in-memory state.
func (m *Maintenance) persistCatalog(context.Context) error {
	data, err := m.engine.Catalog().Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot catalog: %w", err)
	}
	if err := m.kv.Put(CatalogKey, data, CatalogTTL); err != nil {
		return fmt.Errorf("persist catalog: %w", err)
	}
	slog.Info("signature catalog persisted", "bytes", len(data))
	return nil
}

// RestoreCatalog loads a previously persisted snapshot at startup. A
// missing or expired snapshot leaves the built-in catalog in place.
func RestoreCatalog(engine *Engine, kv kvstore.KV) error {
	data, ok, err := kv.Get(CatalogKey)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	if !ok {
		return nil
	}
	n, err := engine.Catalog().Restore(data)
	if err != nil {
		slog.Warn("some persisted signatures were invalid", "loaded", n, "error", err)
	} else {
		slog.Info("signature catalog restored", "signatures", n)
	}
	return nil
}
