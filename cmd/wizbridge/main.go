// WiZ bridge for Gray Logic.
//
// wizbridge drives WiZ-style light fixtures over their UDP JSON protocol
// and exposes them to Gray Logic Core over MQTT, with an optional HTTP API
// and websocket stream for local tooling.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	_ "github.com/nerrad567/gray-logic-wiz/migrations"

	"github.com/nerrad567/gray-logic-wiz/internal/api"
	"github.com/nerrad567/gray-logic-wiz/internal/bridges/wiz"
	"github.com/nerrad567/gray-logic-wiz/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-wiz/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-wiz/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-wiz/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-wiz/internal/infrastructure/mqtt"
)

// Set at build time via -ldflags "-X main.version=1.0.0 -X main.commit=abc123".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the bridge together and blocks until ctx is cancelled.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting WiZ bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "site", cfg.Site.ID)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", db.Path())

	recorder := wiz.NewFixtureRecorder(db.DB)
	recorder.SetLogger(log.Component("recorder"))
	if err := recorder.Start(); err != nil {
		return fmt.Errorf("starting fixture recorder: %w", err)
	}
	defer recorder.Stop()

	var telemetry wiz.TelemetryWriter
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer influxClient.Close() //nolint:errcheck // always nil
		influxClient.SetOnError(func(err error) {
			log.Warn("InfluxDB write error", "error", err, "failures", influxClient.Failures())
		})
		telemetry = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	will, err := healthWill(cfg.WiZ.BridgeID, cfg.MQTT.QoS)
	if err != nil {
		return err
	}
	mqttClient, err := mqtt.Connect(cfg.MQTT, mqtt.WithWill(will))
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected", "reconnects", mqttClient.Reconnects())
	})
	mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	wizLog := log.Component("wiz")
	sock := wiz.NewSocket(wiz.SocketConfig{
		ListenPort: cfg.WiZ.ListenPort,
		Metrics:    wiz.NewMetrics(prometheus.DefaultRegisterer),
	})
	sock.SetLogger(wizLog)
	defer sock.Close() //nolint:errcheck // shutdown

	bridge, err := wiz.NewBridge(wiz.BridgeOptions{
		Config:     bridgeConfig(cfg.WiZ, version),
		MQTTClient: &mqttBridgeAdapter{client: mqttClient},
		Socket:     sock,
		Recorder:   recorder,
		Telemetry:  telemetry,
		Logger:     wizLog,
	})
	if err != nil {
		return fmt.Errorf("creating WiZ bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting WiZ bridge: %w", err)
	}
	defer bridge.Stop()
	log.Info("WiZ bridge started",
		"bridge_id", cfg.WiZ.BridgeID,
		"fixtures", len(bridge.Fixtures()),
		"topics", mqttClient.Topics(),
	)

	checks := map[string]api.HealthCheck{
		"database": db.HealthCheck,
		"mqtt":     mqttClient.HealthCheck,
	}
	if influxClient != nil {
		checks["influxdb"] = influxClient.HealthCheck
	}

	if cfg.API.Enabled {
		server, err := api.New(api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log.Component("api"),
			Bridge:  bridge,
			Version: version,
			Checks:  checks,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

func getConfigPath() string {
	if path := os.Getenv(config.EnvConfigPath); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck runs every check once at startup.
func healthCheck(ctx context.Context, checks map[string]api.HealthCheck) error {
	for name, check := range checks {
		if err := check(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// healthWill is the retained offline health message the broker publishes
// if the bridge drops without a clean disconnect.
func healthWill(bridgeID string, qos int) (mqtt.Will, error) {
	payload, err := json.Marshal(wiz.NewLWTMessage(bridgeID))
	if err != nil {
		return mqtt.Will{}, fmt.Errorf("encoding health will: %w", err)
	}
	return mqtt.Will{
		Topic:    wiz.HealthTopic(),
		Payload:  payload,
		QoS:      byte(qos), //nolint:gosec // validated to 0..2 by config
		Retained: true,
	}, nil
}

// bridgeConfig maps the wiz section of the process config onto the
// bridge's runtime config.
func bridgeConfig(c config.WiZConfig, version string) wiz.Config {
	fixtures := make([]wiz.FixtureConfig, 0, len(c.Fixtures))
	for _, f := range c.Fixtures {
		fixtures = append(fixtures, wiz.FixtureConfig{
			Address:   f.Address,
			DeviceID:  f.DeviceID,
			Name:      f.Name,
			Subscribe: f.Subscribe,
		})
	}

	return wiz.Config{
		BridgeID:        c.BridgeID,
		Version:         version,
		HealthInterval:  c.HealthInterval,
		CommandPort:     c.CommandPort,
		ResponseTimeout: c.ResponseTimeout,
		CommandTimeout:  c.CommandTimeout,
		Identifier:      c.Identifier,
		Discovery: wiz.DiscoveryConfig{
			Enabled:       c.Discovery.Enabled,
			Address:       c.Discovery.BroadcastAddress,
			Window:        c.Discovery.Window,
			Interval:      c.Discovery.Interval,
			AutoSubscribe: c.Discovery.AutoSubscribe,
		},
		Fixtures: fixtures,
	}
}

// mqttBridgeAdapter adapts *mqtt.Client to wiz.MQTTClient.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
