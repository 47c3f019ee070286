// Package decision answers per-application network policy queries.
package decision

import (
	"maps"
	"sync"
	"sync/atomic"
)

// Table maps application package names to a boolean override. A package
// without an override gets the caller-supplied default.
//
// Readers load an immutable map through an atomic pointer and never block.
// Writers copy the current map, modify the copy and publish it, so a reader
// sees either the previous or the next table, never a partial one.
type Table struct {
	mu      sync.Mutex // serializes writers
	entries atomic.Pointer[map[string]bool]
}

// NewTable returns an empty Table.
func NewTable() *Table {
	t := &Table{}
	empty := map[string]bool{}
	t.entries.Store(&empty)
	return t
}

func (t *Table) lookup(pkg string, def bool) bool {
	if v, ok := (*t.entries.Load())[pkg]; ok {
		return v
	}
	return def
}

// The four queries below share one table today. They are kept apart because
// callers ask about different connectivity contexts, which may diverge.

// WifiEnabledForApp reports whether pkg may use the network on wifi.
func (t *Table) WifiEnabledForApp(pkg string, def bool) bool {
	return t.lookup(pkg, def)
}

// OtherEnabledForApp reports whether pkg may use the network on other
// (metered or mobile) connections.
func (t *Table) OtherEnabledForApp(pkg string, def bool) bool {
	return t.lookup(pkg, def)
}

// ScreenWifiEnabledForApp reports whether pkg may use wifi while the screen is on.
func (t *Table) ScreenWifiEnabledForApp(pkg string, def bool) bool {
	return t.lookup(pkg, def)
}

// ScreenOtherEnabledForApp reports whether pkg may use other connections
// while the screen is on.
func (t *Table) ScreenOtherEnabledForApp(pkg string, def bool) bool {
	return t.lookup(pkg, def)
}

// Set stores an override for pkg.
func (t *Table) Set(pkg string, enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := maps.Clone(*t.entries.Load())
	next[pkg] = enabled
	t.entries.Store(&next)
}

// Remove deletes the override for pkg.
func (t *Table) Remove(pkg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := *t.entries.Load()
	if _, ok := cur[pkg]; !ok {
		return
	}
	next := maps.Clone(cur)
	delete(next, pkg)
	t.entries.Store(&next)
}

// Replace publishes a whole new generation of overrides. The map is copied.
func (t *Table) Replace(entries map[string]bool) {
	next := make(map[string]bool, len(entries))
	maps.Copy(next, entries)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries.Store(&next)
}

// Len returns the number of overrides.
func (t *Table) Len() int {
	return len(*t.entries.Load())
}

// Snapshot returns a copy of the current overrides.
func (t *Table) Snapshot() map[string]bool {
	return maps.Clone(*t.entries.Load())
}

// Builder collects the overrides of the next generation. It implements the
// rules.AppSink interface so a rule load can fill it.
type Builder struct {
	entries map[string]bool
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{entries: make(map[string]bool)}
}

// AllowApp marks pkg as enabled.
func (b *Builder) AllowApp(pkg string) {
	b.entries[pkg] = true
}

// Publish replaces the contents of t with the collected overrides.
func (b *Builder) Publish(t *Table) {
	t.Replace(b.entries)
}
