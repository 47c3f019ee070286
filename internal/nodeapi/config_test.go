package nodeapi

import (
	"testing"
	"time"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.SocketPath != DefaultSocketPath {
		t.Errorf("SocketPath = %q, want %q", cfg.SocketPath, DefaultSocketPath)
	}
	if cfg.HTTPEnabled {
		t.Error("HTTPEnabled = true, want false")
	}
	if cfg.HTTPListen != DefaultHTTPListen {
		t.Errorf("HTTPListen = %q, want %q", cfg.HTTPListen, DefaultHTTPListen)
	}
	if cfg.AdminGroup != DefaultAdminGroup {
		t.Errorf("AdminGroup = %q, want %q", cfg.AdminGroup, DefaultAdminGroup)
	}
	if cfg.ShutdownTimeout != DefaultShutdownTimeout {
		t.Errorf("ShutdownTimeout = %v, want %v", cfg.ShutdownTimeout, DefaultShutdownTimeout)
	}
}

func TestConfig_DefaultsPreserveExisting(t *testing.T) {
	cfg := Config{
		SocketPath:      "/tmp/custom.sock",
		HTTPListen:      "0.0.0.0:8080",
		AdminGroup:      "wheel",
		ShutdownTimeout: 30 * time.Second,
	}
	cfg.ApplyDefaults()

	if cfg.SocketPath != "/tmp/custom.sock" {
		t.Errorf("SocketPath = %q, want %q", cfg.SocketPath, "/tmp/custom.sock")
	}
	if cfg.HTTPListen != "0.0.0.0:8080" {
		t.Errorf("HTTPListen = %q, want %q", cfg.HTTPListen, "0.0.0.0:8080")
	}
	if cfg.AdminGroup != "wheel" {
		t.Errorf("AdminGroup = %q, want %q", cfg.AdminGroup, "wheel")
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v, want %v", cfg.ShutdownTimeout, 30*time.Second)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{SocketPath: "/tmp/a.sock", ShutdownTimeout: time.Second}, false},
		{"missing socket", Config{ShutdownTimeout: time.Second}, true},
		{"http without token", Config{SocketPath: "/tmp/a.sock", HTTPEnabled: true, ShutdownTimeout: time.Second}, true},
		{"http with token", Config{SocketPath: "/tmp/a.sock", HTTPEnabled: true, HTTPTokenFile: "/etc/appguard/token", ShutdownTimeout: time.Second}, false},
		{"zero timeout", Config{SocketPath: "/tmp/a.sock"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
