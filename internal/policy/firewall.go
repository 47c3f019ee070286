package policy

import (
	"fmt"
	"net/netip"
)

// FirewallRule describes a single output filter rule.
type FirewallRule struct {
	UID    int    // socket owner uid (0 = any)
	DstIP  string // destination IPv4 address or CIDR ("" = any)
	Action string // "allow" or "deny"
}

// Validate checks the rule for semantic correctness and returns an error
// if any field contains an invalid value.
func (r *FirewallRule) Validate() error {
	if r.Action != "allow" && r.Action != "deny" {
		return fmt.Errorf("policy: firewall rule: invalid action %q", r.Action)
	}
	if r.UID < 0 {
		return fmt.Errorf("policy: firewall rule: invalid uid %d", r.UID)
	}
	if r.DstIP != "" {
		if _, err := parseDst(r.DstIP); err != nil {
			return fmt.Errorf("policy: firewall rule: %w", err)
		}
	}
	if r.UID == 0 && r.DstIP == "" && r.Action == "deny" {
		return fmt.Errorf("policy: firewall rule: refusing unconditional deny")
	}
	return nil
}

// parseDst parses an IPv4 address or CIDR into a masked prefix.
func parseDst(s string) (netip.Prefix, error) {
	if p, err := netip.ParsePrefix(s); err == nil {
		if !p.Addr().Is4() {
			return netip.Prefix{}, fmt.Errorf("non-IPv4 destination %q", s)
		}
		return p.Masked(), nil
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid destination %q", s)
	}
	if !a.Is4() {
		return netip.Prefix{}, fmt.Errorf("non-IPv4 destination %q", s)
	}
	return netip.PrefixFrom(a, 32), nil
}

// FirewallController abstracts packet-filter operations for testability.
type FirewallController interface {
	// EnsureChain creates the named chain if it does not already exist.
	EnsureChain(chain string) error
	// ApplyRules replaces all rules in the named chain atomically.
	ApplyRules(chain string, rules []FirewallRule) error
	// FlushChain removes all rules from the named chain.
	FlushChain(chain string) error
	// DeleteChain deletes the named chain.
	// Implementations must be idempotent: deleting a non-existent chain must return nil.
	DeleteChain(chain string) error
}
