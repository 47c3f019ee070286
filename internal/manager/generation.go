package manager

import (
	"time"

	"github.com/plexsphere/appguard/internal/decision"
	"github.com/plexsphere/appguard/internal/rules"
	"github.com/plexsphere/appguard/internal/whitelist"
)

// Generation is one published result of a reload. It is immutable once
// published.
type Generation struct {
	ID        string
	LoadedAt  time.Time
	Stats     rules.LoadStats
	Whitelist *whitelist.Whitelist
	// Apps holds the app overrides published together with Whitelist.
	Apps      map[string]bool
}

// reloadSink fills the next whitelist and decision table generation.
type reloadSink struct {
	wl   *whitelist.Whitelist
	apps *decision.Builder
}

func (s *reloadSink) AddGlobalRule(r rules.Rule)             { s.wl.AddGlobalRule(r) }
func (s *reloadSink) AddAppRule(uid rules.UID, r rules.Rule) { s.wl.AddAppRule(uid, r) }
func (s *reloadSink) AllowApp(pkg string)                    { s.apps.AllowApp(pkg) }
