package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that overrides the config path.
const EnvConfigPath = "WIZBRIDGE_CONFIG"

// Config is the bridge's process configuration, read from YAML with a
// handful of WIZBRIDGE_* environment overrides.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	WiZ       WiZConfig       `yaml:"wiz"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings, in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// The timeout accessors convert the configured seconds.
func (t APITimeoutConfig) ReadTimeout() time.Duration  { return seconds(t.Read) }
func (t APITimeoutConfig) WriteTimeout() time.Duration { return seconds(t.Write) }
func (t APITimeoutConfig) IdleTimeout() time.Duration  { return seconds(t.Idle) }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains settings for the live state stream.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// WiZConfig contains the fixture bridge settings.
type WiZConfig struct {
	BridgeID string `yaml:"bridge_id"`

	// ListenPort is the shared local UDP port. Default: 38900
	ListenPort int `yaml:"listen_port"`

	// CommandPort is the fixture command port. Default: 38899
	CommandPort int `yaml:"command_port"`

	// ResponseTimeout bounds each fixture request. Default: 2s
	ResponseTimeout time.Duration `yaml:"response_timeout"`

	// CommandTimeout bounds an MQTT command including queueing. Default: 5s
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// HealthInterval is how often bridge health is published. Default: 30s
	HealthInterval time.Duration `yaml:"health_interval"`

	// Identifier is the 12 hex digit MAC-like client identifier sent in
	// registrations. Empty generates one at startup.
	Identifier string `yaml:"identifier,omitempty"`

	Discovery WiZDiscoveryConfig `yaml:"discovery"`

	Fixtures []WiZFixtureConfig `yaml:"fixtures"`
}

// WiZDiscoveryConfig controls periodic fixture discovery.
type WiZDiscoveryConfig struct {
	Enabled bool `yaml:"enabled"`

	// BroadcastAddress is the scan target. Empty uses the local /24 broadcast.
	BroadcastAddress string `yaml:"broadcast_address,omitempty"`

	// Window is how long each scan collects replies. Default: 1s
	Window time.Duration `yaml:"window"`

	// Interval is the time between scans. Default: 5m
	Interval time.Duration `yaml:"interval"`

	AutoSubscribe bool `yaml:"auto_subscribe"`
}

// WiZFixtureConfig is one statically configured fixture.
type WiZFixtureConfig struct {
	Address   string `yaml:"address"`
	DeviceID  string `yaml:"device_id,omitempty"`
	Name      string `yaml:"name,omitempty"`
	Subscribe bool   `yaml:"subscribe"`
}

// Load builds a Config from defaults, then the YAML file at path, then the
// environment, and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{ID: "site-001", Name: "Gray Logic"},
		Database: DatabaseConfig{
			Path:        "./data/wizbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker:    MQTTBrokerConfig{Host: "localhost", Port: 1883, ClientID: "graylogic-wiz"},
			QoS:       1,
			Reconnect: MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 60},
		},
		API: APIConfig{
			Enabled:  true,
			Host:     "0.0.0.0",
			Port:     8090,
			Timeouts: APITimeoutConfig{Read: 30, Write: 30, Idle: 60},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{BatchSize: 100, FlushInterval: 10},
		Logging:  LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		WiZ: WiZConfig{
			BridgeID:        "wiz-bridge-01",
			ListenPort:      38900,
			CommandPort:     38899,
			ResponseTimeout: 2 * time.Second,
			CommandTimeout:  5 * time.Second,
			HealthInterval:  30 * time.Second,
			Discovery: WiZDiscoveryConfig{
				Window:   time.Second,
				Interval: 5 * time.Minute,
			},
		},
	}
}

// envOverride maps one environment variable onto a config field.
type envOverride struct {
	name  string
	apply func(cfg *Config, v string)
}

func portOverride(field func(*Config) *int) func(*Config, string) {
	return func(cfg *Config, v string) {
		if port, err := strconv.Atoi(v); err == nil {
			*field(cfg) = port
		}
	}
}

// Secrets and per-host values. Unparseable numbers are ignored.
var envOverrides = []envOverride{
	{"WIZBRIDGE_DATABASE_PATH", func(c *Config, v string) { c.Database.Path = v }},
	{"WIZBRIDGE_MQTT_HOST", func(c *Config, v string) { c.MQTT.Broker.Host = v }},
	{"WIZBRIDGE_MQTT_PORT", portOverride(func(c *Config) *int { return &c.MQTT.Broker.Port })},
	{"WIZBRIDGE_MQTT_USERNAME", func(c *Config, v string) { c.MQTT.Auth.Username = v }},
	{"WIZBRIDGE_MQTT_PASSWORD", func(c *Config, v string) { c.MQTT.Auth.Password = v }},
	{"WIZBRIDGE_API_HOST", func(c *Config, v string) { c.API.Host = v }},
	{"WIZBRIDGE_API_PORT", portOverride(func(c *Config) *int { return &c.API.Port })},
	{"WIZBRIDGE_INFLUXDB_URL", func(c *Config, v string) { c.InfluxDB.URL = v }},
	{"WIZBRIDGE_INFLUXDB_TOKEN", func(c *Config, v string) { c.InfluxDB.Token = v }},
	{"WIZBRIDGE_LOG_LEVEL", func(c *Config, v string) { c.Logging.Level = v }},
	{"WIZBRIDGE_LOG_FORMAT", func(c *Config, v string) { c.Logging.Format = v }},
	{"WIZBRIDGE_WIZ_BRIDGE_ID", func(c *Config, v string) { c.WiZ.BridgeID = v }},
	{"WIZBRIDGE_WIZ_BROADCAST_ADDRESS", func(c *Config, v string) { c.WiZ.Discovery.BroadcastAddress = v }},
	{"WIZBRIDGE_WIZ_IDENTIFIER", func(c *Config, v string) { c.WiZ.Identifier = v }},
}

func applyEnvOverrides(cfg *Config) {
	for _, o := range envOverrides {
		if v := os.Getenv(o.name); v != "" {
			o.apply(cfg, v)
		}
	}
}

// Validate reports every problem at once, joined with "; ".
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}

	errs = append(errs, c.WiZ.validate()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// validate leaves zero ports and durations alone; the bridge fills them in.
func (w *WiZConfig) validate() []string {
	var errs []string

	if w.BridgeID == "" {
		errs = append(errs, "wiz.bridge_id is required")
	}
	if w.ListenPort < 0 || w.ListenPort > 65535 {
		errs = append(errs, "wiz.listen_port must be between 0 and 65535")
	}
	if w.CommandPort < 0 || w.CommandPort > 65535 {
		errs = append(errs, "wiz.command_port must be between 0 and 65535")
	}
	if w.ResponseTimeout < 0 || w.CommandTimeout < 0 {
		errs = append(errs, "wiz timeouts must not be negative")
	}
	if addr := w.Discovery.BroadcastAddress; addr != "" && net.ParseIP(addr).To4() == nil {
		errs = append(errs, fmt.Sprintf("wiz.discovery.broadcast_address %q is not an IPv4 address", addr))
	}

	seen := make(map[string]bool, len(w.Fixtures))
	for i, f := range w.Fixtures {
		if net.ParseIP(f.Address).To4() == nil {
			errs = append(errs, fmt.Sprintf("wiz.fixtures[%d].address %q is not an IPv4 address", i, f.Address))
			continue
		}
		if seen[f.Address] {
			errs = append(errs, fmt.Sprintf("wiz.fixtures[%d].address %s is listed twice", i, f.Address))
		}
		seen[f.Address] = true
	}

	return errs
}
