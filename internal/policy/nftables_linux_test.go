//go:build linux

package policy

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/nftables/binaryutil"
	"github.com/google/nftables/expr"
)

// Compile-time check that NftablesController implements FirewallController.
var _ FirewallController = (*NftablesController)(nil)

func TestNewFirewallController(t *testing.T) {
	if NewFirewallController(testLogger()) == nil {
		t.Fatal("NewFirewallController returned nil on linux")
	}
}

func TestDeleteChainNonExistent(t *testing.T) {
	ctrl := NewNftablesController(testLogger())

	// Requires CAP_NET_ADMIN.
	if err := ctrl.DeleteChain("appguard-test-nonexistent"); err != nil {
		t.Skipf("skipping: requires elevated privileges: %v", err)
	}
}

func TestEnsureChainRequiresPrivileges(t *testing.T) {
	ctrl := NewNftablesController(testLogger())

	err := ctrl.EnsureChain("appguard-test-ensure")
	if err == nil {
		_ = ctrl.FlushChain("appguard-test-ensure")
		_ = ctrl.DeleteChain("appguard-test-ensure")
		return
	}

	expected := "policy: nftables: ensure chain"
	if !strings.HasPrefix(err.Error(), expected) {
		t.Errorf("expected error prefix %q, got %q", expected, err.Error())
	}
}

func TestApplyRulesRoundTrip(t *testing.T) {
	ctrl := NewNftablesController(testLogger())

	chain := "appguard-test-apply"
	if err := ctrl.EnsureChain(chain); err != nil {
		t.Skipf("skipping: requires elevated privileges: %v", err)
	}
	defer func() {
		_ = ctrl.FlushChain(chain)
		_ = ctrl.DeleteChain(chain)
	}()

	rules := []FirewallRule{
		{UID: 65533, DstIP: "192.0.2.0/24", Action: "allow"},
		{UID: 65533, Action: "deny"},
	}
	if err := ctrl.ApplyRules(chain, rules); err != nil {
		t.Fatalf("ApplyRules failed: %v", err)
	}
	if err := ctrl.DeleteChain(chain); err != nil {
		t.Fatalf("DeleteChain failed: %v", err)
	}
	if err := ctrl.DeleteChain(chain); err != nil {
		t.Fatalf("second DeleteChain failed: %v", err)
	}
}

func TestBuildRuleExprs_UIDMatch(t *testing.T) {
	exprs, err := buildRuleExprs(FirewallRule{UID: 10042, DstIP: "10.0.0.1", Action: "allow"})
	if err != nil {
		t.Fatalf("buildRuleExprs returned error: %v", err)
	}
	// meta + cmp (uid), payload + cmp (daddr), counter, verdict
	if len(exprs) != 6 {
		t.Fatalf("expected 6 expressions, got %d", len(exprs))
	}

	meta, ok := exprs[0].(*expr.Meta)
	if !ok || meta.Key != expr.MetaKeySKUID {
		t.Fatalf("exprs[0] = %#v, want Meta(SKUID)", exprs[0])
	}
	cmp, ok := exprs[1].(*expr.Cmp)
	if !ok {
		t.Fatalf("exprs[1] is %T, want *expr.Cmp", exprs[1])
	}
	if want := binaryutil.NativeEndian.PutUint32(10042); !bytes.Equal(cmp.Data, want) {
		t.Errorf("uid data = %v, want %v", cmp.Data, want)
	}

	v, ok := exprs[5].(*expr.Verdict)
	if !ok || v.Kind != expr.VerdictAccept {
		t.Errorf("last expression = %#v, want accept verdict", exprs[5])
	}
}

func TestBuildRuleExprs_GlobalAllowHasNoUIDMatch(t *testing.T) {
	exprs, err := buildRuleExprs(FirewallRule{DstIP: "9.9.9.9", Action: "allow"})
	if err != nil {
		t.Fatalf("buildRuleExprs returned error: %v", err)
	}
	for _, e := range exprs {
		if m, ok := e.(*expr.Meta); ok && m.Key == expr.MetaKeySKUID {
			t.Fatal("global rule matched on socket uid")
		}
	}
}

func TestBuildRuleExprs_Deny(t *testing.T) {
	exprs, err := buildRuleExprs(FirewallRule{UID: 7, Action: "deny"})
	if err != nil {
		t.Fatalf("buildRuleExprs returned error: %v", err)
	}
	// meta + cmp, counter, verdict
	if len(exprs) != 4 {
		t.Fatalf("expected 4 expressions, got %d", len(exprs))
	}
	v, ok := exprs[3].(*expr.Verdict)
	if !ok || v.Kind != expr.VerdictDrop {
		t.Errorf("last expression = %#v, want drop verdict", exprs[3])
	}
}

func TestBuildRuleExprs_Invalid(t *testing.T) {
	if _, err := buildRuleExprs(FirewallRule{Action: "reject"}); err == nil {
		t.Error("expected error for invalid action")
	}
	if _, err := buildRuleExprs(FirewallRule{DstIP: "not-an-ip", Action: "allow"}); err == nil {
		t.Error("expected error for invalid address")
	}
}

func TestBuildIPMatchExprs(t *testing.T) {
	tests := []struct {
		addr string
		want int
	}{
		{"10.0.0.1", 2},
		{"10.0.0.1/32", 2},
		{"192.168.0.0/16", 3},
	}
	for _, tt := range tests {
		exprs, err := buildIPMatchExprs(tt.addr, 16)
		if err != nil {
			t.Fatalf("buildIPMatchExprs(%q) error: %v", tt.addr, err)
		}
		if len(exprs) != tt.want {
			t.Errorf("buildIPMatchExprs(%q) = %d expressions, want %d", tt.addr, len(exprs), tt.want)
		}
	}
}

func TestPrefixMask(t *testing.T) {
	tests := []struct {
		cidr string
		want []byte
	}{
		{"10.0.0.0/8", []byte{0xff, 0, 0, 0}},
		{"172.16.0.0/12", []byte{0xff, 0xf0, 0, 0}},
		{"192.168.1.0/24", []byte{0xff, 0xff, 0xff, 0}},
		{"0.0.0.0/0", []byte{0, 0, 0, 0}},
	}
	for _, tt := range tests {
		p, err := parseDst(tt.cidr)
		if err != nil {
			t.Fatalf("parseDst(%q): %v", tt.cidr, err)
		}
		if got := prefixMask(p); !bytes.Equal(got, tt.want) {
			t.Errorf("prefixMask(%s) = %v, want %v", tt.cidr, got, tt.want)
		}
	}
}
