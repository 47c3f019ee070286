//go:build linux

package policy

import (
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/google/nftables"
	"github.com/google/nftables/binaryutil"
	"github.com/google/nftables/expr"
)

// tableName is the nftables table that holds the whitelist chain.
const tableName = "appguard"

// NftablesController implements FirewallController using the Linux nftables
// subsystem. It manages a single IPv4 filter table ("appguard") whose chains
// hook locally generated output traffic.
type NftablesController struct {
	logger *slog.Logger
}

// NewNftablesController returns a new NftablesController.
func NewNftablesController(logger *slog.Logger) *NftablesController {
	return &NftablesController{logger: logger.With("component", "policy")}
}

// NewFirewallController returns the packet-filter backend for this platform.
func NewFirewallController(logger *slog.Logger) FirewallController {
	return NewNftablesController(logger)
}

func outputChain(table *nftables.Table, name string) *nftables.Chain {
	return &nftables.Chain{
		Name:     name,
		Table:    table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookOutput,
		Priority: nftables.ChainPriorityFilter,
	}
}

// EnsureChain creates the named output base chain if it does not already exist.
func (c *NftablesController) EnsureChain(chain string) error {
	conn, err := nftables.New()
	if err != nil {
		return fmt.Errorf("policy: nftables: ensure chain: %w", err)
	}

	table := c.ensureTable(conn)
	conn.AddChain(outputChain(table, chain))

	if err := conn.Flush(); err != nil {
		return fmt.Errorf("policy: nftables: ensure chain %q: %w", chain, err)
	}

	c.logger.Debug("nftables chain ensured", "chain", chain)
	return nil
}

// ApplyRules flushes the chain and adds every rule in one batch, so the
// kernel switches from the previous rule set to the new one atomically.
func (c *NftablesController) ApplyRules(chain string, rules []FirewallRule) error {
	conn, err := nftables.New()
	if err != nil {
		return fmt.Errorf("policy: nftables: apply rules: %w", err)
	}

	table := c.ensureTable(conn)
	nftChain := conn.AddChain(outputChain(table, chain))
	conn.FlushChain(nftChain)

	for _, rule := range rules {
		exprs, err := buildRuleExprs(rule)
		if err != nil {
			return fmt.Errorf("policy: nftables: apply rules: build expressions: %w", err)
		}
		conn.AddRule(&nftables.Rule{
			Table: table,
			Chain: nftChain,
			Exprs: exprs,
		})
	}

	if err := conn.Flush(); err != nil {
		return fmt.Errorf("policy: nftables: apply rules to chain %q: %w", chain, err)
	}

	c.logger.Debug("nftables rules applied", "chain", chain, "count", len(rules))
	return nil
}

// FlushChain removes all rules from the named chain.
func (c *NftablesController) FlushChain(chain string) error {
	conn, err := nftables.New()
	if err != nil {
		return fmt.Errorf("policy: nftables: flush chain: %w", err)
	}

	table := c.ensureTable(conn)
	conn.FlushChain(&nftables.Chain{Name: chain, Table: table})

	if err := conn.Flush(); err != nil {
		return fmt.Errorf("policy: nftables: flush chain %q: %w", chain, err)
	}

	c.logger.Debug("nftables chain flushed", "chain", chain)
	return nil
}

// DeleteChain deletes the named chain. Deleting a missing chain returns nil.
func (c *NftablesController) DeleteChain(chain string) error {
	conn, err := nftables.New()
	if err != nil {
		return fmt.Errorf("policy: nftables: delete chain: %w", err)
	}

	chains, err := conn.ListChainsOfTableFamily(nftables.TableFamilyIPv4)
	if err != nil {
		return fmt.Errorf("policy: nftables: delete chain: list chains: %w", err)
	}

	for _, ch := range chains {
		if ch.Table.Name != tableName || ch.Name != chain {
			continue
		}
		conn.DelChain(ch)
		if err := conn.Flush(); err != nil {
			return fmt.Errorf("policy: nftables: delete chain %q: %w", chain, err)
		}
		c.logger.Debug("nftables chain deleted", "chain", chain)
		return nil
	}

	c.logger.Debug("nftables chain not found, nothing to delete", "chain", chain, "table", tableName)
	return nil
}

// ensureTable adds the appguard IPv4 filter table to the connection batch.
func (c *NftablesController) ensureTable(conn *nftables.Conn) *nftables.Table {
	return conn.AddTable(&nftables.Table{
		Family: nftables.TableFamilyIPv4,
		Name:   tableName,
	})
}

// buildRuleExprs converts a FirewallRule into nftables match expressions and a verdict.
func buildRuleExprs(rule FirewallRule) ([]expr.Any, error) {
	var exprs []expr.Any

	if rule.UID > 0 {
		exprs = append(exprs,
			&expr.Meta{Key: expr.MetaKeySKUID, Register: 1},
			&expr.Cmp{
				Op:       expr.CmpOpEq,
				Register: 1,
				Data:     binaryutil.NativeEndian.PutUint32(uint32(rule.UID)),
			},
		)
	}

	if rule.DstIP != "" && rule.DstIP != "0.0.0.0/0" {
		dstExprs, err := buildIPMatchExprs(rule.DstIP, 16) // IPv4 dst offset
		if err != nil {
			return nil, fmt.Errorf("destination IP %q: %w", rule.DstIP, err)
		}
		exprs = append(exprs, dstExprs...)
	}

	exprs = append(exprs, &expr.Counter{})

	switch rule.Action {
	case "allow":
		exprs = append(exprs, &expr.Verdict{Kind: expr.VerdictAccept})
	case "deny":
		exprs = append(exprs, &expr.Verdict{Kind: expr.VerdictDrop})
	default:
		return nil, fmt.Errorf("unsupported action %q", rule.Action)
	}

	return exprs, nil
}

// buildIPMatchExprs creates payload + cmp expressions that match an IPv4
// address or CIDR at offset in the network header. A /32 uses an exact
// compare, any other prefix a mask followed by a compare.
func buildIPMatchExprs(addr string, offset uint32) ([]expr.Any, error) {
	prefix, err := parseDst(addr)
	if err != nil {
		return nil, err
	}
	network := prefix.Addr().As4()

	payload := &expr.Payload{
		DestRegister: 1,
		Base:         expr.PayloadBaseNetworkHeader,
		Offset:       offset,
		Len:          4,
	}

	if prefix.Bits() == 32 {
		return []expr.Any{
			payload,
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: network[:]},
		}, nil
	}

	return []expr.Any{
		payload,
		&expr.Bitwise{
			SourceRegister: 1,
			DestRegister:   1,
			Len:            4,
			Mask:           prefixMask(prefix),
			Xor:            []byte{0x00, 0x00, 0x00, 0x00},
		},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: network[:]},
	}, nil
}

// prefixMask returns the 4-byte network mask of an IPv4 prefix.
func prefixMask(p netip.Prefix) []byte {
	bits := p.Bits()
	mask := make([]byte, 4)
	for i := range mask {
		switch {
		case bits >= 8:
			mask[i] = 0xff
			bits -= 8
		case bits > 0:
			mask[i] = ^byte(0xff >> bits)
			bits = 0
		}
	}
	return mask
}
