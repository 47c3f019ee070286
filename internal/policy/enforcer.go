package policy

import (
	"fmt"
	"log/slog"

	"github.com/plexsphere/appguard/internal/whitelist"
)

// Enforcer combines a PolicyEngine with a FirewallController to program
// the active whitelist into the packet filter.
type Enforcer struct {
	engine   *PolicyEngine
	firewall FirewallController
	cfg      Config
	logger   *slog.Logger
}

// NewEnforcer creates an Enforcer. The firewall parameter may be nil if no
// firewall backend is available; in that case Apply only logs.
func NewEnforcer(engine *PolicyEngine, firewall FirewallController, cfg Config, logger *slog.Logger) *Enforcer {
	cfg.ApplyDefaults()
	return &Enforcer{
		engine:   engine,
		firewall: firewall,
		cfg:      cfg,
		logger:   logger.With("component", "policy"),
	}
}

// Apply programs entries into the chain. When filtering is false the chain
// is flushed instead, which lets all traffic through. It is a no-op when
// enforcement is disabled or no firewall backend is available.
func (e *Enforcer) Apply(entries []whitelist.Entry, filtering bool) error {
	if !e.cfg.Enabled {
		return nil
	}
	if e.firewall == nil {
		e.logger.Warn("no firewall backend available, skipping rule enforcement")
		return nil
	}

	if err := e.firewall.EnsureChain(e.cfg.ChainName); err != nil {
		return fmt.Errorf("policy: enforce: %w", err)
	}

	if !filtering {
		if err := e.firewall.FlushChain(e.cfg.ChainName); err != nil {
			return fmt.Errorf("policy: enforce: %w", err)
		}
		e.logger.Info("filtering disabled, chain flushed", "chain", e.cfg.ChainName)
		return nil
	}

	rules := e.engine.BuildFirewallRules(entries)
	for i := range rules {
		if err := rules[i].Validate(); err != nil {
			return fmt.Errorf("policy: enforce: %w", err)
		}
	}
	if err := e.firewall.ApplyRules(e.cfg.ChainName, rules); err != nil {
		return fmt.Errorf("policy: enforce: %w", err)
	}

	e.logger.Info("applied firewall rules", "count", len(rules), "chain", e.cfg.ChainName)
	return nil
}

// Teardown removes the firewall chain and its rules. It is safe to call when
// the firewall backend is nil.
func (e *Enforcer) Teardown() error {
	if !e.cfg.Enabled || e.firewall == nil {
		return nil
	}
	if err := e.firewall.FlushChain(e.cfg.ChainName); err != nil {
		return fmt.Errorf("policy: teardown: %w", err)
	}
	if err := e.firewall.DeleteChain(e.cfg.ChainName); err != nil {
		return fmt.Errorf("policy: teardown: %w", err)
	}
	return nil
}
