package decision

// Config holds the global filtering preferences. Defaults match a
// whitelisting filter that blocks unknown apps on every network and
// ignores screen state.
type Config struct {
	// Filter enables filtering at all. Default: true.
	Filter *bool `yaml:"filter"`

	// LogApp enables per-app access logging. Default: true.
	LogApp *bool `yaml:"log_app"`

	ScreenOn      bool `yaml:"screen_on"`
	ScreenOnWifi  bool `yaml:"screen_on_wifi"`
	ScreenOnOther bool `yaml:"screen_on_other"`

	// WhitelistWifi blocks apps on wifi unless allowed. Default: true.
	WhitelistWifi *bool `yaml:"whitelist_wifi"`

	// WhitelistOther blocks apps on other networks unless allowed. Default: true.
	WhitelistOther *bool `yaml:"whitelist_other"`

	WhitelistRoaming bool `yaml:"whitelist_roaming"`

	Lockdown      bool `yaml:"lockdown"`
	LockdownWifi  bool `yaml:"lockdown_wifi"`
	LockdownOther bool `yaml:"lockdown_other"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Filter == nil {
		c.Filter = boolPtr(true)
	}
	if c.LogApp == nil {
		c.LogApp = boolPtr(true)
	}
	if c.WhitelistWifi == nil {
		c.WhitelistWifi = boolPtr(true)
	}
	if c.WhitelistOther == nil {
		c.WhitelistOther = boolPtr(true)
	}
}

// Validate checks the configuration. Every combination is currently valid.
func (c *Config) Validate() error {
	return nil
}

func boolPtr(b bool) *bool { return &b }

// EnabledSource reports whether filtering is currently switched on.
// It is satisfied by *toggle.Scheduler.
type EnabledSource interface {
	Enabled() bool
}

// Preferences answers the global (not per-app) preference queries.
type Preferences struct {
	cfg     Config
	enabled EnabledSource
}

// NewPreferences creates Preferences. enabled may be nil, in which case
// Enabled always reports true.
func NewPreferences(cfg Config, enabled EnabledSource) *Preferences {
	cfg.ApplyDefaults()
	return &Preferences{cfg: cfg, enabled: enabled}
}

func (p *Preferences) Filter() bool { return *p.cfg.Filter }

func (p *Preferences) Enabled() bool {
	if p.enabled == nil {
		return true
	}
	return p.enabled.Enabled()
}

// Filtering reports whether filtering is in effect: configured on and not
// currently toggled off.
func (p *Preferences) Filtering() bool {
	return p.Filter() && p.Enabled()
}

func (p *Preferences) LogApp() bool           { return *p.cfg.LogApp }
func (p *Preferences) ScreenOn() bool         { return p.cfg.ScreenOn }
func (p *Preferences) ScreenOnWifi() bool     { return p.cfg.ScreenOnWifi }
func (p *Preferences) ScreenOnOther() bool    { return p.cfg.ScreenOnOther }
func (p *Preferences) WhitelistWifi() bool    { return *p.cfg.WhitelistWifi }
func (p *Preferences) WhitelistOther() bool   { return *p.cfg.WhitelistOther }
func (p *Preferences) WhitelistRoaming() bool { return p.cfg.WhitelistRoaming }
func (p *Preferences) Lockdown() bool         { return p.cfg.Lockdown }
func (p *Preferences) LockdownWifi() bool     { return p.cfg.LockdownWifi }
func (p *Preferences) LockdownOther() bool    { return p.cfg.LockdownOther }

// Summary is a serializable view of all preferences.
type Summary struct {
	Filter           bool `json:"filter"`
	Enabled          bool `json:"enabled"`
	LogApp           bool `json:"log_app"`
	ScreenOn         bool `json:"screen_on"`
	ScreenOnWifi     bool `json:"screen_on_wifi"`
	ScreenOnOther    bool `json:"screen_on_other"`
	WhitelistWifi    bool `json:"whitelist_wifi"`
	WhitelistOther   bool `json:"whitelist_other"`
	WhitelistRoaming bool `json:"whitelist_roaming"`
	Lockdown         bool `json:"lockdown"`
	LockdownWifi     bool `json:"lockdown_wifi"`
	LockdownOther    bool `json:"lockdown_other"`
}

// Summary returns the current preferences.
func (p *Preferences) Summary() Summary {
	return Summary{
		Filter:           p.Filter(),
		Enabled:          p.Enabled(),
		LogApp:           p.LogApp(),
		ScreenOn:         p.ScreenOn(),
		ScreenOnWifi:     p.ScreenOnWifi(),
		ScreenOnOther:    p.ScreenOnOther(),
		WhitelistWifi:    p.WhitelistWifi(),
		WhitelistOther:   p.WhitelistOther(),
		WhitelistRoaming: p.WhitelistRoaming(),
		Lockdown:         p.Lockdown(),
		LockdownWifi:     p.LockdownWifi(),
		LockdownOther:    p.LockdownOther(),
	}
}
