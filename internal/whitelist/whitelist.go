// Package whitelist accumulates translated allow rules and answers whether
// a destination is allowed for an application.
package whitelist

import (
	"fmt"
	"log/slog"
	"net/netip"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"github.com/plexsphere/appguard/internal/rules"
)

// Entry is one accepted rule and its scope.
type Entry struct {
	Scope    rules.UID `json:"uid"`
	Kind     string    `json:"kind"` // "host" or "ipv4"
	Pattern  string    `json:"pattern"`
	Priority int       `json:"priority"`
}

type compiled struct {
	entry  Entry
	host   glob.Glob
	prefix netip.Prefix
	ipGlob glob.Glob
}

// Whitelist collects rules during a load and matches destinations
// afterwards. A Whitelist is filled by a single loader and then published;
// it must not be modified while it is being queried.
type Whitelist struct {
	global  []compiled
	apps    map[rules.UID][]compiled
	invalid int
	logger  *slog.Logger
}

// New returns an empty Whitelist.
func New(logger *slog.Logger) *Whitelist {
	return &Whitelist{
		apps:   make(map[rules.UID][]compiled),
		logger: logger.With("component", "whitelist"),
	}
}

// AddGlobalRule adds a rule that applies to every application.
func (w *Whitelist) AddGlobalRule(r rules.Rule) {
	c, err := compile(rules.GlobalScope, r)
	if err != nil {
		w.reject(rules.GlobalScope, r, err)
		return
	}
	w.global = append(w.global, c)
}

// AddAppRule adds a rule for one application.
func (w *Whitelist) AddAppRule(uid rules.UID, r rules.Rule) {
	c, err := compile(uid, r)
	if err != nil {
		w.reject(uid, r, err)
		return
	}
	w.apps[uid] = append(w.apps[uid], c)
}

func (w *Whitelist) reject(uid rules.UID, r rules.Rule, err error) {
	w.invalid++
	w.logger.Warn("ignoring rule with invalid pattern", "uid", int(uid), "rule", r.String(), "error", err)
}

func compile(uid rules.UID, r rules.Rule) (compiled, error) {
	switch r := r.(type) {
	case rules.DomainRule:
		g, err := glob.Compile(strings.ToLower(r.Pattern), '.')
		if err != nil {
			return compiled{}, fmt.Errorf("whitelist: host pattern %q: %w", r.Pattern, err)
		}
		return compiled{
			entry: Entry{Scope: uid, Kind: "host", Pattern: r.Pattern, Priority: r.Priority},
			host:  g,
		}, nil

	case rules.IPRule:
		c := compiled{entry: Entry{Scope: uid, Kind: "ipv4", Pattern: r.Pattern, Priority: r.Priority}}
		if p, err := parseIPv4Prefix(r.Pattern); err == nil {
			c.prefix = p
			return c, nil
		}
		if !strings.ContainsAny(r.Pattern, "*?[{") {
			return compiled{}, fmt.Errorf("whitelist: invalid ipv4 pattern %q", r.Pattern)
		}
		g, err := glob.Compile(r.Pattern, '.')
		if err != nil {
			return compiled{}, fmt.Errorf("whitelist: ipv4 pattern %q: %w", r.Pattern, err)
		}
		c.ipGlob = g
		return c, nil

	default:
		return compiled{}, fmt.Errorf("whitelist: unsupported rule type %T", r)
	}
}

// parseIPv4Prefix accepts "a.b.c.d" or "a.b.c.d/n".
func parseIPv4Prefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		if !p.Addr().Is4() {
			return netip.Prefix{}, fmt.Errorf("not an IPv4 prefix: %s", s)
		}
		return p.Masked(), nil
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	if !a.Is4() {
		return netip.Prefix{}, fmt.Errorf("not an IPv4 address: %s", s)
	}
	return netip.PrefixFrom(a, 32), nil
}

func (c compiled) matchHost(host string) bool {
	return c.host != nil && c.host.Match(host)
}

func (c compiled) matchIP(ip netip.Addr) bool {
	switch {
	case c.prefix.IsValid():
		return c.prefix.Contains(ip)
	case c.ipGlob != nil:
		return c.ipGlob.Match(ip.String())
	}
	return false
}

// AllowsHost reports whether uid may reach host through a global or an
// app-scoped domain rule.
func (w *Whitelist) AllowsHost(uid rules.UID, host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" {
		return false
	}
	for _, c := range w.candidates(uid) {
		if c.matchHost(host) {
			return true
		}
	}
	return false
}

// AllowsIP reports whether uid may reach ip through a global or an
// app-scoped ipv4 rule.
func (w *Whitelist) AllowsIP(uid rules.UID, ip netip.Addr) bool {
	ip = ip.Unmap()
	if !ip.Is4() {
		return false
	}
	for _, c := range w.candidates(uid) {
		if c.matchIP(ip) {
			return true
		}
	}
	return false
}

func (w *Whitelist) candidates(uid rules.UID) []compiled {
	if uid == rules.GlobalScope {
		return w.global
	}
	app := w.apps[uid]
	out := make([]compiled, 0, len(w.global)+len(app))
	out = append(out, w.global...)
	return append(out, app...)
}

// Entries returns all accepted rules, global rules first, then apps by UID.
func (w *Whitelist) Entries() []Entry {
	out := make([]Entry, 0, w.Len())
	for _, c := range w.global {
		out = append(out, c.entry)
	}
	uids := make([]rules.UID, 0, len(w.apps))
	for uid := range w.apps {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	for _, uid := range uids {
		for _, c := range w.apps[uid] {
			out = append(out, c.entry)
		}
	}
	return out
}

// Len returns the number of accepted rules.
func (w *Whitelist) Len() int {
	n := len(w.global)
	for _, app := range w.apps {
		n += len(app)
	}
	return n
}

// Counts returns the number of global rules, app rules and rejected
// patterns.
func (w *Whitelist) Counts() (global, app, invalid int) {
	return len(w.global), w.Len() - len(w.global), w.invalid
}
