package policy

import (
	"log/slog"
	"net/netip"
	"sort"
	"strings"

	"github.com/plexsphere/appguard/internal/whitelist"
)

// PolicyEngine turns whitelist entries into firewall rules.
type PolicyEngine struct {
	logger *slog.Logger
}

// NewPolicyEngine creates a PolicyEngine with the given logger.
func NewPolicyEngine(logger *slog.Logger) *PolicyEngine {
	return &PolicyEngine{
		logger: logger.With("component", "policy"),
	}
}

// BuildFirewallRules converts whitelist entries into output filter rules.
//
// Every ipv4 entry with an address, a CIDR or whole-octet wildcards
// ("10.1.*.*") becomes an allow rule, limited to its uid unless it is
// global. After all allow rules, a uid gets a deny rule only when every
// entry that applies to it could be programmed: host entries and other
// ipv4 patterns have no address form, and dropping the rest of that uid's
// traffic would block destinations its rules allow. A global entry without
// an address form therefore withholds every deny. Traffic of unmanaged
// applications is left alone.
func (e *PolicyEngine) BuildFirewallRules(entries []whitelist.Entry) []FirewallRule {
	var rules []FirewallRule
	managed := make(map[int]struct{})
	inexact := make(map[int]struct{})
	globalInexact := false

	for _, ent := range entries {
		uid := int(ent.Scope)
		if uid != 0 {
			managed[uid] = struct{}{}
		}
		dst, ok := firewallDst(ent)
		if !ok {
			if uid == 0 {
				globalInexact = true
			} else {
				inexact[uid] = struct{}{}
			}
			e.logger.Debug("entry has no address form",
				"uid", uid,
				"kind", ent.Kind,
				"pattern", ent.Pattern,
			)
			continue
		}
		rules = append(rules, FirewallRule{
			UID:    uid,
			DstIP:  dst,
			Action: "allow",
		})
	}

	uids := make([]int, 0, len(managed))
	for uid := range managed {
		if _, ok := inexact[uid]; ok {
			continue
		}
		uids = append(uids, uid)
	}
	sort.Ints(uids)

	unenforced := len(inexact)
	if globalInexact {
		unenforced = len(managed)
		uids = nil
	}
	if unenforced > 0 {
		e.logger.Warn("some applications are not restricted by the packet filter",
			"uids", unenforced,
			"global_inexact", globalInexact,
		)
	}
	for _, uid := range uids {
		rules = append(rules, FirewallRule{UID: uid, Action: "deny"})
	}

	e.logger.Debug("built firewall rules",
		"count", len(rules),
		"denied_uids", len(uids),
		"unenforced_uids", unenforced,
	)
	return rules
}

// firewallDst returns the destination an entry can be programmed as.
func firewallDst(ent whitelist.Entry) (string, bool) {
	if ent.Kind != "ipv4" {
		return "", false
	}
	if _, err := parseDst(ent.Pattern); err == nil {
		return ent.Pattern, true
	}
	if p, ok := wildcardPrefix(ent.Pattern); ok {
		return p.String(), true
	}
	return "", false
}

// wildcardPrefix turns "a.b.*.*" into "a.b.0.0/16". Only trailing octets
// may be "*" and all four octets must be present.
func wildcardPrefix(pattern string) (netip.Prefix, bool) {
	octets := strings.Split(pattern, ".")
	if len(octets) != 4 {
		return netip.Prefix{}, false
	}
	bits := 0
	wild := false
	for i, o := range octets {
		switch {
		case o == "*":
			wild = true
			octets[i] = "0"
		case wild:
			return netip.Prefix{}, false
		default:
			bits += 8
		}
	}
	if !wild {
		return netip.Prefix{}, false
	}
	a, err := netip.ParseAddr(strings.Join(octets, "."))
	if err != nil || !a.Is4() {
		return netip.Prefix{}, false
	}
	return netip.PrefixFrom(a, bits), true
}
