package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/plexsphere/appguard/internal/decision"
	"github.com/plexsphere/appguard/internal/events"
	"github.com/plexsphere/appguard/internal/metrics"
	"github.com/plexsphere/appguard/internal/rules"
	"github.com/plexsphere/appguard/internal/whitelist"
)

// Enforcer programs a whitelist into the packet filter. It is satisfied by
// *policy.Enforcer.
type Enforcer interface {
	Apply(entries []whitelist.Entry, filtering bool) error
}

// FilteringSource reports whether filtering is currently in effect. It is
// satisfied by *decision.Preferences.
type FilteringSource interface {
	Filtering() bool
}

// Manager reloads rules and publishes each result as a new generation.
// Queries read the current generation through an atomic pointer and never
// block on a reload.
type Manager struct {
	cfg       Config
	loader    *rules.Loader
	table     *decision.Table
	hub       *events.Hub
	logger    *slog.Logger
	wlLogger  *slog.Logger
	enforcer  Enforcer
	filtering FilteringSource
	metrics   *metrics.Registry
	newID     func() string

	current   atomic.Pointer[Generation]
	triggerCh chan struct{}
}

// NewManager creates a Manager with an empty generation. Config defaults
// are applied automatically.
func NewManager(cfg Config, loader *rules.Loader, table *decision.Table, hub *events.Hub, logger *slog.Logger) *Manager {
	cfg.ApplyDefaults()
	m := &Manager{
		cfg:       cfg,
		loader:    loader,
		table:     table,
		hub:       hub,
		logger:    logger.With("component", "manager"),
		wlLogger:  logger,
		newID:     uuid.NewString,
		triggerCh: make(chan struct{}, 1),
	}
	m.current.Store(&Generation{Whitelist: whitelist.New(logger), Apps: map[string]bool{}})
	return m
}

// SetEnforcer sets the packet-filter backend. Must be called before Run.
func (m *Manager) SetEnforcer(e Enforcer) { m.enforcer = e }

// SetFiltering sets the source of the filtering state. Without one,
// filtering is always on. Must be called before Run.
func (m *Manager) SetFiltering(f FilteringSource) { m.filtering = f }

// SetMetrics sets the metrics registry. Must be called before Run.
func (m *Manager) SetMetrics(r *metrics.Registry) { m.metrics = r }

// Current returns the active generation.
func (m *Manager) Current() *Generation {
	return m.current.Load()
}

// Table returns the decision table.
func (m *Manager) Table() *decision.Table {
	return m.table
}

// AllowsHost reports whether the active whitelist allows uid to reach host.
func (m *Manager) AllowsHost(uid rules.UID, host string) bool {
	return m.current.Load().Whitelist.AllowsHost(uid, host)
}

// AllowsIP reports whether the active whitelist allows uid to reach ip.
func (m *Manager) AllowsIP(uid rules.UID, ip netip.Addr) bool {
	return m.current.Load().Whitelist.AllowsIP(uid, ip)
}

// Filtering reports whether filtering is in effect.
func (m *Manager) Filtering() bool {
	if m.filtering == nil {
		return true
	}
	return m.filtering.Filtering()
}

// TriggerReload requests an immediate reload. Multiple rapid calls are
// coalesced; only one extra reload runs.
func (m *Manager) TriggerReload() {
	select {
	case m.triggerCh <- struct{}{}:
	default:
	}
}

// Mutate runs fn under the loader's exclusive permit and then triggers a
// reload. It is used for writes to the rule store.
func (m *Manager) Mutate(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := m.loader.Exclusive(func() error { return fn(ctx) }); err != nil {
		return fmt.Errorf("manager: mutate: %w", err)
	}
	m.TriggerReload()
	return nil
}

// Reload loads all enacted rules and publishes them as a new generation.
//
// Invariant violations abort only their own lines: the generation is still
// published and the joined violations are returned. Any other load failure
// keeps the previous generation in place.
func (m *Manager) Reload(ctx context.Context) (*Generation, error) {
	start := time.Now()

	sink := &reloadSink{
		wl:   whitelist.New(m.wlLogger),
		apps: decision.NewBuilder(),
	}
	stats, err := m.loader.Load(ctx, sink)
	if err != nil && !errors.Is(err, rules.ErrDuplicateField) {
		m.observeReload("error", stats, start)
		return nil, fmt.Errorf("manager: reload: %w", err)
	}
	violations := err

	// The table is published first. A reader that pairs Current with the
	// table may briefly see new overrides with the previous whitelist, so
	// consistent views read gen.Apps instead.
	sink.apps.Publish(m.table)
	gen := &Generation{
		ID:        m.newID(),
		LoadedAt:  time.Now(),
		Stats:     stats,
		Whitelist: sink.wl,
		Apps:      m.table.Snapshot(),
	}
	m.current.Store(gen)

	if violations != nil {
		m.logger.Error("rules loaded with invariant violations",
			"generation", gen.ID,
			"violations", stats.Violations,
			"error", violations,
		)
		m.observeReload("partial", stats, start)
	} else {
		m.observeReload("success", stats, start)
	}

	m.enforce(gen)

	global, app, _ := gen.Whitelist.Counts()
	m.hub.Publish(events.Event{
		Type:   events.RulesChanged,
		Source: "manager",
		Data: events.ReloadData{
			Generation: gen.ID,
			Global:     global,
			App:        app,
			Apps:       len(gen.Apps),
		},
	})

	m.logger.Info("rules reloaded",
		"generation", gen.ID,
		"rows", stats.Rows,
		"global", stats.Global,
		"app", stats.App,
		"apps_only", stats.AppsOnly,
		"rejected", stats.Rejected,
		"duration", time.Since(start),
	)

	if violations != nil {
		return gen, fmt.Errorf("manager: reload: %w", violations)
	}
	return gen, nil
}

// enforce pushes gen into the packet filter with the current filtering state.
func (m *Manager) enforce(gen *Generation) {
	if m.enforcer == nil {
		return
	}
	if err := m.safeApply(gen); err != nil {
		m.logger.Error("firewall update failed", "generation", gen.ID, "error", err)
	}
}

// safeApply calls the enforcer with panic recovery.
func (m *Manager) safeApply(gen *Generation) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("enforcer panicked: %v\n%s", v, debug.Stack())
		}
	}()
	return m.enforcer.Apply(gen.Whitelist.Entries(), m.Filtering())
}

func (m *Manager) observeReload(result string, stats rules.LoadStats, start time.Time) {
	if m.metrics == nil {
		return
	}
	m.metrics.Reloads.WithLabelValues(result).Inc()
	if result == "error" {
		return
	}
	m.metrics.ReloadDuration.Observe(time.Since(start).Seconds())
	m.metrics.LastReload.SetToCurrentTime()
	m.metrics.RulesLoaded.WithLabelValues("global").Add(float64(stats.Global))
	m.metrics.RulesLoaded.WithLabelValues("app").Add(float64(stats.App))
	m.metrics.RulesLoaded.WithLabelValues("apps_only").Add(float64(stats.AppsOnly))
	m.metrics.RulesSkipped.WithLabelValues("not_rule").Add(float64(stats.NotRules))
	m.metrics.RulesSkipped.WithLabelValues("rejected").Add(float64(stats.Rejected))
	m.metrics.InvariantViolations.Add(float64(stats.Violations))
}

// Run starts the reload loop. It blocks until ctx is cancelled.
//
// The first reload runs immediately; later reloads run at the configured
// interval, on TriggerReload, or on a RulesUpdate event. A RulesChanged
// event from the toggle scheduler re-applies the active generation with
// the new filtering state.
func (m *Manager) Run(ctx context.Context) error {
	sub := m.hub.Subscribe(16, events.RulesUpdate, events.RulesChanged)
	defer m.hub.Unsubscribe(sub)

	m.logger.Info("manager started", "reload_interval", m.cfg.ReloadInterval)

	m.runReload(ctx)

	ticker := time.NewTicker(m.cfg.ReloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("manager stopped")
			return ctx.Err()

		case <-ticker.C:
			m.runReload(ctx)

		case <-m.triggerCh:
			m.runReload(ctx)
			ticker.Reset(m.cfg.ReloadInterval)

		case ev := <-sub:
			m.handleEvent(ctx, ev, ticker)
		}
	}
}

func (m *Manager) handleEvent(ctx context.Context, ev events.Event, ticker *time.Ticker) {
	switch ev.Type {
	case events.RulesUpdate:
		m.logger.Debug("reload requested", "source", ev.Source)
		m.runReload(ctx)
		ticker.Reset(m.cfg.ReloadInterval)

	case events.RulesChanged:
		data, ok := ev.Data.(events.ToggleData)
		if !ok {
			return
		}
		if m.metrics != nil {
			m.metrics.Toggles.Inc()
		}
		m.logger.Debug("filtering state changed", "enabled", data.Enabled)
		m.enforce(m.current.Load())
	}
}

// runReload reloads and logs failures. Violations were already logged.
func (m *Manager) runReload(ctx context.Context) {
	if _, err := m.Reload(ctx); err != nil {
		if ctx.Err() != nil || errors.Is(err, rules.ErrDuplicateField) {
			return
		}
		m.logger.Warn("reload failed", "error", err)
	}
}

// Collector returns a metrics collector sampling the active state.
func (m *Manager) Collector() metrics.Collector {
	return metrics.CollectorFunc(func(_ context.Context, r *metrics.Registry) error {
		gen := m.current.Load()
		global, app, invalid := gen.Whitelist.Counts()
		r.WhitelistEntries.WithLabelValues("global").Set(float64(global))
		r.WhitelistEntries.WithLabelValues("app").Set(float64(app))
		r.WhitelistEntries.WithLabelValues("invalid").Set(float64(invalid))
		r.AppOverrides.Set(float64(len(gen.Apps)))
		if m.Filtering() {
			r.FilteringEnabled.Set(1)
		} else {
			r.FilteringEnabled.Set(0)
		}
		published, dropped := m.hub.Stats()
		r.EventsPublished.Set(float64(published))
		r.EventsDropped.Set(float64(dropped))
		return nil
	})
}
