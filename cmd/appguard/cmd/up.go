package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/plexsphere/appguard/internal/decision"
	"github.com/plexsphere/appguard/internal/events"
	"github.com/plexsphere/appguard/internal/identity"
	"github.com/plexsphere/appguard/internal/manager"
	"github.com/plexsphere/appguard/internal/metrics"
	"github.com/plexsphere/appguard/internal/nodeapi"
	"github.com/plexsphere/appguard/internal/policy"
	"github.com/plexsphere/appguard/internal/rules"
	"github.com/plexsphere/appguard/internal/store"
	"github.com/plexsphere/appguard/internal/toggle"
)

// drainTimeout is the maximum time for graceful shutdown.
const drainTimeout = 30 * time.Second

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start the appguard daemon",
	Long: "Start the appguard daemon. Loads the rule store, serves the local API\n" +
		"and keeps the whitelist in step with rule changes. SIGHUP forces a reload.",
	RunE: runUp,
}

func init() {
	rootCmd.AddCommand(upCmd)
}

func runUp(cmd *cobra.Command, _ []string) error {
	// 1. Parse config.
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("appguard up: %w", err)
	}

	// 2. Set up structured logger.
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting appguard", "version", buildVersion)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// 3. Open the rule store.
	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
		return fmt.Errorf("appguard up: create store dir: %w", err)
	}
	st, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		return fmt.Errorf("appguard up: %w", err)
	}
	defer st.Close()

	// 4. Load the package registry. A missing registry leaves only global
	// rules usable.
	registry := identity.NewRegistry(cfg.Identity.RegistryFile, logger)
	if err := registry.Load(); err != nil {
		logger.Warn("package registry not loaded, app rules will be rejected", "error", err)
	}

	// 5. Event hub, toggle scheduler and preferences.
	hub := events.NewHub()
	timer := toggle.NewAfterFuncTimer()
	defer timer.Stop()
	scheduler := toggle.NewScheduler(cfg.Toggle, timer, hub, logger)
	prefs := decision.NewPreferences(cfg.Decision, scheduler)

	// 6. Rule manager.
	loader := rules.NewLoader(st, registry, logger)
	table := decision.NewTable()
	mgr := manager.NewManager(cfg.Manager, loader, table, hub, logger)
	mgr.SetFiltering(prefs)

	// 7. Packet filter enforcement.
	var enforcer *policy.Enforcer
	if cfg.Policy.Enabled {
		enforcer = policy.NewEnforcer(policy.NewPolicyEngine(logger), policy.NewFirewallController(logger), cfg.Policy, logger)
		mgr.SetEnforcer(enforcer)
	}

	// 8. Metrics.
	var reg *metrics.Registry
	var metricsMgr *metrics.Manager
	if cfg.Metrics.Enabled {
		reg = metrics.NewRegistry()
		mgr.SetMetrics(reg)
		metricsMgr = metrics.NewManager(cfg.Metrics, reg, logger)
		metricsMgr.RegisterCollector(mgr.Collector())
		metricsMgr.RegisterCollector(metrics.CollectorFunc(func(_ context.Context, r *metrics.Registry) error {
			r.Packages.Set(float64(registry.Len()))
			return nil
		}))
	}

	// 9. Local API server.
	handler := nodeapi.NewHandler(nodeapi.Deps{
		Engine:      mgr,
		Store:       st,
		Reloader:    hub,
		Resolver:    registry,
		Toggle:      scheduler,
		Preferences: prefs,
		Metrics:     reg,
	}, logger)
	apiSrv := nodeapi.NewServer(cfg.NodeAPI, handler, logger)

	// Wait group for all goroutines.
	var wg sync.WaitGroup

	// 10. Start the manager. It performs the initial load before serving
	// events.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mgr.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("rule manager stopped", "error", err)
		}
	}()

	// 11. Watch the package registry.
	if cfg.Identity.Watch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := registry.Watch(ctx, mgr.TriggerReload); err != nil && ctx.Err() == nil {
				logger.Error("registry watch stopped", "error", err)
			}
		}()
	}

	// 12. Start metrics collection.
	if metricsMgr != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metricsMgr.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("metrics manager stopped", "error", err)
			}
		}()
	}

	// 13. Start the local API server.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiSrv.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("local API server stopped", "error", err)
			stop()
		}
	}()

	// 14. Start the toggle scheduler.
	if cfg.Toggle.Enabled {
		scheduler.Start()
	}

	// SIGHUP requests a reload.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for done := false; !done; {
		select {
		case <-hup:
			logger.Info("SIGHUP received, reloading rules")
			hub.RequestReload("signal")
		case <-ctx.Done():
			done = true
		}
	}
	logger.Info("shutting down", "reason", ctx.Err())

	timer.Stop()

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(drainTimeout):
		logger.Warn("drain timeout exceeded, forcing exit")
	}

	if enforcer != nil {
		if err := enforcer.Teardown(); err != nil {
			logger.Warn("firewall teardown failed", "error", err)
		}
	}

	logger.Info("appguard stopped")
	return nil
}
