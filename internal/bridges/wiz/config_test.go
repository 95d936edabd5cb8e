package wiz

import (
	"strings"
	"testing"
	"time"
)

func TestConfigApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()

	if cfg.BridgeID != defaultBridgeID {
		t.Errorf("BridgeID = %q", cfg.BridgeID)
	}
	if cfg.CommandPort != DefaultCommandPort {
		t.Errorf("CommandPort = %d", cfg.CommandPort)
	}
	if cfg.ResponseTimeout != DefaultResponseTimeout {
		t.Errorf("ResponseTimeout = %v", cfg.ResponseTimeout)
	}
	if cfg.CommandTimeout != defaultCommandTimeout {
		t.Errorf("CommandTimeout = %v", cfg.CommandTimeout)
	}
	if cfg.Discovery.Window != DefaultDiscoveryWindow || cfg.Discovery.Interval != defaultDiscoveryInterval {
		t.Errorf("Discovery = %+v", cfg.Discovery)
	}

	custom := Config{HealthInterval: time.Minute, CommandPort: 40000}
	custom.applyDefaults()
	if custom.HealthInterval != time.Minute || custom.CommandPort != 40000 {
		t.Errorf("applyDefaults overwrote set values: %+v", custom)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "valid",
			cfg: Config{
				Identifier: "02AABBCCDDEE",
				Discovery:  DiscoveryConfig{Address: "192.168.1.255"},
				Fixtures:   []FixtureConfig{{Address: "192.168.1.10"}, {Address: "192.168.1.11"}},
			},
		},
		{"port too high", Config{CommandPort: 70000}, "command_port"},
		{"ipv6 discovery", Config{Discovery: DiscoveryConfig{Address: "::1"}}, "discovery.address"},
		{"short identifier", Config{Identifier: "02aabb"}, "identifier"},
		{"non-hex identifier", Config{Identifier: "02aabbccddzz"}, "identifier"},
		{"bad fixture", Config{Fixtures: []FixtureConfig{{Address: "lamp.local"}}}, "fixtures[0].address"},
		{"duplicate fixture", Config{Fixtures: []FixtureConfig{{Address: "10.0.0.5"}, {Address: "10.0.0.5"}}}, "duplicate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
