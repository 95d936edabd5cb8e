package wiz

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// HealthPublisher is the part of the MQTT client the reporter needs.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// SocketStatus is satisfied by *Socket.
type SocketStatus interface {
	State() ConnectionState
	LocalAddr() net.Addr
}

var _ SocketStatus = (*Socket)(nil)

// HealthReporterConfig configures a HealthReporter.
type HealthReporterConfig struct {
	BridgeID string
	Version  string

	// Interval between retained publishes. Default: 30s.
	Interval time.Duration

	Publisher HealthPublisher
	Socket    SocketStatus

	// Stats, when set, fills the statistics block of every message.
	Stats func() BridgeStatistics
}

// HealthReporter keeps the retained health topic current. The broker's
// will replaces it with "offline" if the bridge dies.
type HealthReporter struct {
	cfg     HealthReporterConfig
	started time.Time
	devices atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu     sync.RWMutex
	logger Logger
}

// NewHealthReporter creates a reporter. Interval defaults to 30 seconds
// when unset.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	return &HealthReporter{cfg: cfg, started: time.Now(), stop: make(chan struct{})}
}

// Start publishes on every interval tick until ctx ends or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		tick := time.NewTicker(h.cfg.Interval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stop:
				return
			case <-tick.C:
				if err := h.PublishNow(); err != nil {
					h.log().Error("health publish failed", "error", err)
				}
			}
		}
	}()
}

// Stop halts the ticker and publishes a final "stopping". Idempotent.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
		h.wg.Wait()
		if err := h.publish(HealthStopping, ""); err != nil {
			h.log().Warn("final health publish failed", "error", err)
		}
	})
}

// SetDeviceCount sets the managed fixture count reported in health messages.
func (h *HealthReporter) SetDeviceCount(n int) { h.devices.Store(int64(n)) }

// SetLogger sets the logger for publish failures.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.mu.Lock()
	h.logger = logger
	h.mu.Unlock()
}

func (h *HealthReporter) log() Logger {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.logger == nil {
		return nopLogger{}
	}
	return h.logger
}

// PublishStarting publishes a retained "starting" status before the
// socket is bound.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "bridge starting")
}

// PublishNow publishes the current status.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.evaluate()
	return h.publish(status, reason)
}

// Snapshot returns the message PublishNow would send.
func (h *HealthReporter) Snapshot() HealthMessage {
	status, reason := h.evaluate()
	return h.message(status, reason)
}

// evaluate checks the broker link before the shared socket.
func (h *HealthReporter) evaluate() (HealthStatus, string) {
	if h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.cfg.Socket == nil {
		return HealthDegraded, "no socket"
	}
	switch h.cfg.Socket.State() {
	case StateReady, StateAwaitingResponse:
		return HealthHealthy, ""
	case StateClosed:
		return HealthDegraded, "socket closed"
	default:
		return HealthDegraded, "socket not bound"
	}
}

func (h *HealthReporter) message(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Bridge:         h.cfg.BridgeID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        h.cfg.Version,
		UptimeSeconds:  int64(time.Since(h.started).Seconds()),
		DevicesManaged: int(h.devices.Load()),
		Reason:         reason,
	}
	if sock := h.cfg.Socket; sock != nil {
		msg.Connection = &ConnectionStatus{Status: sock.State().String()}
		if addr := sock.LocalAddr(); addr != nil {
			msg.Connection.Address = addr.String()
		}
	}
	if h.cfg.Stats != nil {
		stats := h.cfg.Stats()
		msg.Statistics = &stats
	}
	return msg
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	if h.cfg.Publisher == nil {
		return nil
	}
	payload, err := json.Marshal(h.message(status, reason))
	if err != nil {
		return fmt.Errorf("encoding health: %w", err)
	}
	return h.cfg.Publisher.Publish(HealthTopic(), payload, 1, true)
}
