//go:build !linux

package policy

import "log/slog"

// NewFirewallController returns nil on platforms without nftables. The
// Enforcer then logs instead of programming rules.
func NewFirewallController(logger *slog.Logger) FirewallController {
	return nil
}
