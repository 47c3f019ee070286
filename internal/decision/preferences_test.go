package decision

import "testing"

type fixedEnabled bool

func (f fixedEnabled) Enabled() bool { return bool(f) }

func TestPreferences_Defaults(t *testing.T) {
	p := NewPreferences(Config{}, nil)
	want := Summary{
		Filter:         true,
		Enabled:        true,
		LogApp:         true,
		WhitelistWifi:  true,
		WhitelistOther: true,
	}
	if got := p.Summary(); got != want {
		t.Errorf("Summary() = %+v, want %+v", got, want)
	}
}

func TestPreferences_ExplicitFalseSurvivesDefaults(t *testing.T) {
	off := false
	p := NewPreferences(Config{Filter: &off, WhitelistWifi: &off, Lockdown: true}, nil)
	if p.Filter() {
		t.Error("Filter() = true, want false")
	}
	if p.WhitelistWifi() {
		t.Error("WhitelistWifi() = true, want false")
	}
	if !p.WhitelistOther() {
		t.Error("WhitelistOther() = false, want default true")
	}
	if !p.Lockdown() {
		t.Error("Lockdown() = false, want true")
	}
}

func TestPreferences_EnabledFollowsSource(t *testing.T) {
	p := NewPreferences(Config{}, fixedEnabled(false))
	if p.Enabled() {
		t.Error("Enabled() = true, want false from source")
	}
}

func TestPreferences_Filtering(t *testing.T) {
	off := false
	tests := []struct {
		name    string
		cfg     Config
		enabled fixedEnabled
		want    bool
	}{
		{"on", Config{}, true, true},
		{"toggled off", Config{}, false, false},
		{"configured off", Config{Filter: &off}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewPreferences(tt.cfg, tt.enabled).Filtering(); got != tt.want {
				t.Errorf("Filtering() = %v, want %v", got, tt.want)
			}
		})
	}
}
