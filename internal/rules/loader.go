package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Rows iterates rule rows. It follows the database/sql cursor shape.
type Rows interface {
	Next() bool
	// RuleText returns the ruletext column of the current row.
	RuleText() (string, error)
	Err() error
	Close() error
}

// Source yields the enacted rule rows.
type Source interface {
	EnactedRules(ctx context.Context) (Rows, error)
}

// Sink accumulates translated rules.
type Sink interface {
	AddGlobalRule(r Rule)
	AddAppRule(uid UID, r Rule)
}

// AppSink is implemented by sinks that also collect packages enabled
// without a host or ipv4 target ("allow packagename:NAME").
type AppSink interface {
	AllowApp(packageName string)
}

// LoadStats counts what a Load did with each row.
type LoadStats struct {
	Rows       int `json:"rows"`
	Global     int `json:"global"`
	App        int `json:"app"`
	AppsOnly   int `json:"apps_only"`
	NotRules   int `json:"not_rules"`
	Rejected   int `json:"rejected"`
	Violations int `json:"violations"`
}

// Loader reads every enacted rule from a Source and routes the translated
// rules to a Sink.
//
// Load holds the shared permit for the whole scan. Mutations of the
// underlying rule set go through Exclusive, so a Load observes either the
// full old or the full new rule set.
type Loader struct {
	mu       sync.RWMutex
	source   Source
	resolver Resolver
	logger   *slog.Logger
}

// NewLoader creates a Loader.
func NewLoader(source Source, resolver Resolver, logger *slog.Logger) *Loader {
	return &Loader{
		source:   source,
		resolver: resolver,
		logger:   logger.With("component", "rules"),
	}
}

// Exclusive runs fn while holding the exclusive permit. fn must not call
// Load or Exclusive.
func (l *Loader) Exclusive(fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn()
}

// Load scans all enacted rules into sink.
//
// Rows that are not rules or are rejected are logged and skipped. A
// duplicate field aborts only its own line; every such violation is logged
// at error level and returned joined, after the scan has finished. A
// failure of the source itself is returned wrapped.
func (l *Loader) Load(ctx context.Context, sink Sink) (LoadStats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var stats LoadStats

	rows, err := l.source.EnactedRules(ctx)
	if err != nil {
		return stats, fmt.Errorf("rules: load: %w", err)
	}
	defer rows.Close()

	appSink, _ := sink.(AppSink)

	var violations []error
	for rows.Next() {
		stats.Rows++
		text, err := rows.RuleText()
		if err != nil {
			l.logger.Warn("skipping unreadable rule row", "row", stats.Rows, "error", err)
			stats.Rejected++
			continue
		}
		if err := l.loadLine(text, stats.Rows, sink, appSink, &stats); err != nil {
			violations = append(violations, err)
		}
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("rules: load: iterate: %w", err)
	}

	l.logger.Debug("rules loaded",
		"rows", stats.Rows,
		"global", stats.Global,
		"app", stats.App,
		"apps_only", stats.AppsOnly,
		"rejected", stats.Rejected,
		"violations", stats.Violations,
	)
	return stats, errors.Join(violations...)
}

// loadLine handles one row. It returns an error only for invariant violations.
func (l *Loader) loadLine(text string, row int, sink Sink, appSink AppSink, stats *LoadStats) error {
	cs, err := ParseLine(text, l.resolver)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotRule):
		l.logger.Debug("skipping non-rule row", "row", row)
		stats.NotRules++
		return nil
	case errors.Is(err, ErrDuplicateField):
		l.logger.Error("rule violates constraint invariant", "row", row, "rule", text, "error", err)
		stats.Violations++
		return fmt.Errorf("rules: row %d %q: %w", row, text, err)
	default:
		l.logger.Warn("rule rejected", "row", row, "rule", text, "error", err)
		stats.Rejected++
		return nil
	}

	if ignored := cs.Ignored(); len(ignored) > 0 {
		l.logger.Debug("ignoring unknown phrases", "row", row, "phrases", ignored)
	}

	sr, err := Translate(cs)
	if err != nil {
		if name, ok := cs.String(FieldPackageName); ok && errors.Is(err, ErrNoTarget) && appSink != nil {
			appSink.AllowApp(name)
			stats.AppsOnly++
			return nil
		}
		l.logger.Warn("rule rejected", "row", row, "rule", text, "error", err)
		stats.Rejected++
		return nil
	}

	if sr.IsGlobal() {
		sink.AddGlobalRule(sr.Rule)
		stats.Global++
	} else {
		sink.AddAppRule(sr.Scope, sr.Rule)
		stats.App++
	}
	return nil
}
