package wiz

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"
)

type stubSocketStatus struct {
	state ConnectionState
}

func (s stubSocketStatus) State() ConnectionState { return s.state }

func (s stubSocketStatus) LocalAddr() net.Addr {
	if s.state == StateIdle {
		return nil
	}
	return &net.UDPAddr{IP: net.IPv4zero, Port: DefaultListenPort}
}

func TestHealthReporter_Status(t *testing.T) {
	tests := []struct {
		name       string
		connected  bool
		socket     SocketStatus
		wantStatus HealthStatus
		wantReason string
	}{
		{"ready", true, stubSocketStatus{StateReady}, HealthHealthy, ""},
		{"awaiting response", true, stubSocketStatus{StateAwaitingResponse}, HealthHealthy, ""},
		{"mqtt down", false, stubSocketStatus{StateReady}, HealthDegraded, "MQTT disconnected"},
		{"no socket", true, nil, HealthDegraded, "no socket"},
		{"closed", true, stubSocketStatus{StateClosed}, HealthDegraded, "socket closed"},
		{"idle", true, stubSocketStatus{StateIdle}, HealthDegraded, "socket not bound"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mq := newMockMQTT()
			mq.connected = tt.connected
			h := NewHealthReporter(HealthReporterConfig{BridgeID: "test", Publisher: mq, Socket: tt.socket})

			msg := h.Snapshot()
			if msg.Status != tt.wantStatus || msg.Reason != tt.wantReason {
				t.Errorf("Snapshot() = %s, %q; want %s, %q", msg.Status, msg.Reason, tt.wantStatus, tt.wantReason)
			}
		})
	}
}

func TestHealthReporter_Message(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "wiz-test",
		Version:   "1.2.3",
		Publisher: newMockMQTT(),
		Socket:    stubSocketStatus{StateReady},
		Stats: func() BridgeStatistics {
			return BridgeStatistics{DatagramsSent: 4, Commands: 2}
		},
	})
	h.SetDeviceCount(3)

	msg := h.Snapshot()

	if msg.Status != HealthHealthy || msg.Bridge != "wiz-test" || msg.Version != "1.2.3" {
		t.Errorf("identity = %s %s", msg.Bridge, msg.Version)
	}
	if msg.DevicesManaged != 3 {
		t.Errorf("DevicesManaged = %d, want 3", msg.DevicesManaged)
	}
	if msg.Connection == nil || msg.Connection.Status != StateReady.String() || msg.Connection.Address == "" {
		t.Errorf("Connection = %+v", msg.Connection)
	}
	if msg.Statistics == nil || msg.Statistics.DatagramsSent != 4 || msg.Statistics.Commands != 2 {
		t.Errorf("Statistics = %+v", msg.Statistics)
	}
}

func TestHealthReporter_PublishRetained(t *testing.T) {
	mq := newMockMQTT()
	h := NewHealthReporter(HealthReporterConfig{BridgeID: "wiz-test", Publisher: mq, Socket: stubSocketStatus{StateReady}})

	if err := h.PublishStarting(); err != nil {
		t.Fatalf("PublishStarting() error = %v", err)
	}
	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}
	h.Stop()
	h.Stop()

	msgs := mq.messages(HealthTopic())
	if len(msgs) != 3 {
		t.Fatalf("health messages = %d, want 3", len(msgs))
	}
	want := []HealthStatus{HealthStarting, HealthHealthy, HealthStopping}
	for i, m := range msgs {
		if !m.retained || m.qos != 1 {
			t.Errorf("message %d retained=%v qos=%d", i, m.retained, m.qos)
		}
		var hm HealthMessage
		if err := json.Unmarshal(m.payload, &hm); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if hm.Status != want[i] {
			t.Errorf("message %d status = %s, want %s", i, hm.Status, want[i])
		}
	}
}

func TestHealthReporter_PeriodicPublish(t *testing.T) {
	mq := newMockMQTT()
	h := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "wiz-test",
		Interval:  10 * time.Millisecond,
		Publisher: mq,
		Socket:    stubSocketStatus{StateReady},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx)
	defer h.Stop()

	waitFor(t, "periodic health", func() bool {
		return len(mq.messages(HealthTopic())) >= 2
	})
}

func TestHealthReporter_NoPublisher(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{BridgeID: "wiz-test"})

	if err := h.PublishNow(); err != nil {
		t.Errorf("PublishNow() without publisher error = %v", err)
	}
	h.Stop()

	if msg := h.Snapshot(); msg.Status != HealthDegraded || msg.Connection != nil {
		t.Errorf("Snapshot() = %+v", msg)
	}
}
