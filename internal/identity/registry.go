package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/plexsphere/appguard/internal/rules"
)

// ErrNotFound is returned for package names the resolver does not know.
var ErrNotFound = errors.New("identity: package not found")

// Static is a fixed name to UID mapping.
type Static map[string]rules.UID

// Resolve returns the UID for name.
func (s Static) Resolve(name string) (rules.UID, error) {
	uid, ok := s[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return uid, nil
}

// registryFile is the on-disk format of the package registry.
type registryFile struct {
	Packages map[string]int `yaml:"packages"`
}

// Registry resolves names from a YAML registry file and can reload it.
type Registry struct {
	path   string
	logger *slog.Logger

	mu       sync.RWMutex
	packages map[string]rules.UID
}

// NewRegistry creates a Registry for the file at path. Call Load before use.
func NewRegistry(path string, logger *slog.Logger) *Registry {
	return &Registry{
		path:     path,
		logger:   logger.With("component", "identity"),
		packages: map[string]rules.UID{},
	}
}

// Load reads the registry file and replaces the current mapping. On error
// the previous mapping is kept.
func (r *Registry) Load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("identity: read %s: %w", r.path, err)
	}
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("identity: parse %s: %w", r.path, err)
	}

	packages := make(map[string]rules.UID, len(f.Packages))
	for name, uid := range f.Packages {
		if uid <= 0 {
			return fmt.Errorf("identity: parse %s: package %q has invalid uid %d", r.path, name, uid)
		}
		packages[name] = rules.UID(uid)
	}

	r.mu.Lock()
	r.packages = packages
	r.mu.Unlock()

	r.logger.Debug("package registry loaded", "path", r.path, "packages", len(packages))
	return nil
}

// Resolve returns the UID for name.
func (r *Registry) Resolve(name string) (rules.UID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	uid, ok := r.packages[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return uid, nil
}

// Len returns the number of known packages.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.packages)
}

// Watch reloads the registry whenever its file is written, created or
// renamed into place, and calls onChange after each successful reload. It
// blocks until ctx is cancelled.
func (r *Registry) Watch(ctx context.Context, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("identity: watch: %w", err)
	}
	defer w.Close()

	// Watch the directory so atomic rename-into-place is seen.
	dir := filepath.Dir(r.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("identity: watch %s: %w", dir, err)
	}

	name := filepath.Clean(r.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := r.Load(); err != nil {
				r.logger.Warn("package registry reload failed", "error", err)
				continue
			}
			r.logger.Info("package registry reloaded", "packages", r.Len())
			if onChange != nil {
				onChange()
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("package registry watch error", "error", err)
		}
	}
}
