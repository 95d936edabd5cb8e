package wiz

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Bridge defaults.
const (
	defaultBridgeID          = "wiz-bridge-01"
	defaultHealthInterval    = 30 * time.Second
	defaultCommandTimeout    = 5 * time.Second
	defaultDiscoveryInterval = 5 * time.Minute
)

// Config is the runtime configuration for the WiZ bridge.
// It is built by the caller from the process configuration.
type Config struct {
	// BridgeID identifies this bridge in health and discovery messages.
	BridgeID string

	// Version is the bridge software version reported in health messages.
	Version string

	// HealthInterval is how often health is published. Default: 30s.
	HealthInterval time.Duration

	// CommandPort is the fixture command port. Default: 38899.
	CommandPort int

	// ResponseTimeout bounds each correlated request. Default: 2s.
	ResponseTimeout time.Duration

	// CommandTimeout bounds a whole MQTT command, including the wait for
	// the bridge's command lock. Default: 5s.
	CommandTimeout time.Duration

	// Identifier is the local MAC-like identifier sent in registrations
	// and notification acks. Empty means one is generated at startup.
	Identifier string

	Discovery DiscoveryConfig

	// Fixtures are statically configured fixtures, registered at Start.
	Fixtures []FixtureConfig
}

// DiscoveryConfig controls periodic discovery.
type DiscoveryConfig struct {
	Enabled bool

	// Address is the broadcast or unicast target. Empty means the local
	// subnet broadcast address.
	Address string

	// Window is how long each scan collects replies. Default: 1s.
	Window time.Duration

	// Interval is the time between scans. Default: 5m.
	Interval time.Duration

	// AutoSubscribe registers for push notifications from every
	// discovered fixture.
	AutoSubscribe bool
}

// FixtureConfig is one statically configured fixture.
type FixtureConfig struct {
	// Address is the fixture IPv4 address.
	Address string

	// DeviceID is the Gray Logic device identifier echoed in state and acks.
	DeviceID string

	Name string

	// Subscribe registers for push notifications at startup.
	Subscribe bool
}

// applyDefaults fills in zero values.
func (c *Config) applyDefaults() {
	if c.BridgeID == "" {
		c.BridgeID = defaultBridgeID
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = defaultHealthInterval
	}
	if c.CommandPort == 0 {
		c.CommandPort = DefaultCommandPort
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = DefaultResponseTimeout
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = defaultCommandTimeout
	}
	if c.Discovery.Window <= 0 {
		c.Discovery.Window = DefaultDiscoveryWindow
	}
	if c.Discovery.Interval <= 0 {
		c.Discovery.Interval = defaultDiscoveryInterval
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: All problems joined, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.CommandPort < 0 || c.CommandPort > 65535 {
		errs = append(errs, "command_port must be between 1 and 65535")
	}
	if c.Discovery.Address != "" && net.ParseIP(c.Discovery.Address).To4() == nil {
		errs = append(errs, fmt.Sprintf("discovery.address %q is not an IPv4 address", c.Discovery.Address))
	}
	if c.Identifier != "" && !isIdentifier(c.Identifier) {
		errs = append(errs, fmt.Sprintf("identifier %q must be 12 hex digits", c.Identifier))
	}

	seen := make(map[string]bool)
	for i, f := range c.Fixtures {
		ip := net.ParseIP(f.Address).To4()
		if ip == nil {
			errs = append(errs, fmt.Sprintf("fixtures[%d].address %q is not an IPv4 address", i, f.Address))
			continue
		}
		if seen[ip.String()] {
			errs = append(errs, fmt.Sprintf("fixtures[%d].address %q is duplicate", i, f.Address))
		}
		seen[ip.String()] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func isIdentifier(s string) bool {
	if len(s) != 12 {
		return false
	}
	for _, r := range strings.ToLower(s) {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
