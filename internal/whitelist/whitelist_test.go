package whitelist

import (
	"io"
	"log/slog"
	"net/netip"
	"testing"

	"github.com/plexsphere/appguard/internal/rules"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func host(p string) rules.Rule { return rules.DomainRule{Pattern: p, Priority: rules.DefaultPriority} }
func ipv4(p string) rules.Rule { return rules.IPRule{Pattern: p, Priority: rules.DefaultPriority} }

func TestWhitelist_AllowsHost(t *testing.T) {
	w := New(testLogger())
	w.AddGlobalRule(host("example.com"))
	w.AddGlobalRule(host("*.cdn.net"))
	w.AddAppRule(42, host("api.app.io"))
	w.AddAppRule(42, host("**.tracker.org"))

	tests := []struct {
		uid  rules.UID
		host string
		want bool
	}{
		{0, "example.com", true},
		{0, "EXAMPLE.com.", true},
		{0, "www.example.com", false},
		{0, "img.cdn.net", true},
		{0, "a.b.cdn.net", false},
		{7, "example.com", true},
		{7, "api.app.io", false},
		{42, "api.app.io", true},
		{42, "x.y.tracker.org", true},
		{42, "example.com", true},
		{0, "api.app.io", false},
		{42, "", false},
	}
	for _, tt := range tests {
		if got := w.AllowsHost(tt.uid, tt.host); got != tt.want {
			t.Errorf("AllowsHost(%d, %q) = %v, want %v", tt.uid, tt.host, got, tt.want)
		}
	}
}

func TestWhitelist_AllowsIP(t *testing.T) {
	w := New(testLogger())
	w.AddGlobalRule(ipv4("1.2.3.4"))
	w.AddAppRule(42, ipv4("10.0.0.0/8"))
	w.AddAppRule(43, ipv4("192.168.1.*"))

	tests := []struct {
		uid  rules.UID
		ip   string
		want bool
	}{
		{0, "1.2.3.4", true},
		{0, "1.2.3.5", false},
		{42, "10.200.3.4", true},
		{42, "1.2.3.4", true},
		{7, "10.200.3.4", false},
		{43, "192.168.1.77", true},
		{43, "192.168.2.77", false},
		{0, "::ffff:1.2.3.4", true},
		{0, "2001:db8::1", false},
	}
	for _, tt := range tests {
		if got := w.AllowsIP(tt.uid, netip.MustParseAddr(tt.ip)); got != tt.want {
			t.Errorf("AllowsIP(%d, %s) = %v, want %v", tt.uid, tt.ip, got, tt.want)
		}
	}
}

func TestWhitelist_InvalidPatternsAreCounted(t *testing.T) {
	w := New(testLogger())
	w.AddGlobalRule(ipv4("not-an-ip"))
	w.AddGlobalRule(ipv4("2001:db8::/32"))
	w.AddAppRule(42, ipv4("1.2.3.999"))
	w.AddGlobalRule(host("ok.com"))

	global, app, invalid := w.Counts()
	if global != 1 || app != 0 || invalid != 3 {
		t.Errorf("Counts() = %d, %d, %d; want 1, 0, 3", global, app, invalid)
	}
}

func TestWhitelist_Entries(t *testing.T) {
	w := New(testLogger())
	w.AddAppRule(50, host("b.com"))
	w.AddAppRule(42, ipv4("10.0.0.0/8"))
	w.AddGlobalRule(host("a.com"))

	got := w.Entries()
	want := []Entry{
		{Scope: 0, Kind: "host", Pattern: "a.com", Priority: 1},
		{Scope: 42, Kind: "ipv4", Pattern: "10.0.0.0/8", Priority: 1},
		{Scope: 50, Kind: "host", Pattern: "b.com", Priority: 1},
	}
	if len(got) != len(want) {
		t.Fatalf("Entries() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Entries()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
	if w.Len() != 3 {
		t.Errorf("Len() = %d, want 3", w.Len())
	}
}

func TestWhitelist_IsRuleSink(t *testing.T) {
	var _ rules.Sink = (*Whitelist)(nil)
}
