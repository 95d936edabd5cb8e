package wiz

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

// discoveryConn returns a listen func handing out conn and recording the
// broadcast flag.
func discoveryConn(conn *fakePacketConn, broadcast *bool) DiscoveryListenFunc {
	return func(_ context.Context, b bool) (net.PacketConn, error) {
		*broadcast = b
		return conn, nil
	}
}

func stateReportFrom(mac string) string {
	return `{"method":"getPilot","env":"pro","result":{"mac":"` + mac + `","rssi":-60,"state":true,"sceneId":0}}`
}

func TestDiscoverDistinctDevices(t *testing.T) {
	sock, _, _ := testSocket(t)
	conn := newFakePacketConn(0)
	conn.setOnWrite(func(packet) {
		conn.inject("192.168.1.10", DefaultCommandPort, stateReportFrom("a1"))
		conn.inject("192.168.1.11", DefaultCommandPort, stateReportFrom("a2"))
		conn.inject("192.168.1.10", DefaultCommandPort, stateReportFrom("a1"))
		conn.inject("192.168.1.13", DefaultCommandPort, `{"method":"getPilot","result":{"state":true}}`)
		conn.inject("192.168.1.14", DefaultCommandPort, `not json`)
		conn.inject("192.168.1.12", DefaultCommandPort, stateReportFrom("a3"))
	})

	var broadcast bool
	start := time.Now()
	devices, err := Discover(context.Background(), sock, DiscoveryOptions{
		Address: "192.168.1.255",
		Window:  1000 * time.Millisecond,
		Listen:  discoveryConn(conn, &broadcast),
	})
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 1000*time.Millisecond {
		t.Errorf("Discover() returned after %s, want full window", elapsed)
	}

	want := []string{"192.168.1.10", "192.168.1.11", "192.168.1.12"}
	if len(devices) != len(want) {
		t.Fatalf("devices = %d, want %d", len(devices), len(want))
	}
	for i, d := range devices {
		if d.IP() != want[i] {
			t.Errorf("devices[%d] = %s, want %s", i, d.IP(), want[i])
		}
		if d.Socket() != sock {
			t.Errorf("devices[%d] not bound to shared socket", i)
		}
	}

	if !broadcast {
		t.Error("broadcast flag not set for .255 address")
	}
	writes := conn.written()
	if len(writes) != 1 || string(writes[0].data) != `{"method":"getPilot","params":{}}` {
		t.Errorf("probe writes = %v", writes)
	}
	if addr := writes[0].addr.String(); addr != "192.168.1.255:38899" {
		t.Errorf("probe sent to %s, want 192.168.1.255:38899", addr)
	}
	select {
	case <-conn.closed:
	default:
		t.Error("discovery socket not closed")
	}
	if got := sock.State(); got != StateIdle {
		t.Errorf("shared socket State() = %s, want idle", got)
	}
}

func TestDiscoverUnicast(t *testing.T) {
	sock, _, _ := testSocket(t)
	conn := newFakePacketConn(0)
	conn.setOnWrite(func(packet) {
		conn.inject("192.168.1.20", DefaultCommandPort, stateReportFrom("b1"))
	})

	broadcast := true
	devices, err := Discover(context.Background(), sock, DiscoveryOptions{
		Address: "192.168.1.20",
		Port:    40000,
		Window:  50 * time.Millisecond,
		Listen:  discoveryConn(conn, &broadcast),
	})
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if broadcast {
		t.Error("broadcast flag set for unicast address")
	}
	if len(devices) != 1 {
		t.Fatalf("devices = %d, want 1", len(devices))
	}
	if addr := conn.written()[0].addr.String(); addr != "192.168.1.20:40000" {
		t.Errorf("probe sent to %s", addr)
	}
}

func TestDiscoverNoReplies(t *testing.T) {
	sock, _, _ := testSocket(t)
	conn := newFakePacketConn(0)
	var broadcast bool

	devices, err := Discover(context.Background(), sock, DiscoveryOptions{
		Address: "10.0.0.255",
		Window:  30 * time.Millisecond,
		Listen:  discoveryConn(conn, &broadcast),
	})
	if err != nil || len(devices) != 0 {
		t.Errorf("Discover() = %d devices, %v; want none", len(devices), err)
	}
}

func TestDiscoverCancelled(t *testing.T) {
	sock, _, _ := testSocket(t)
	conn := newFakePacketConn(0)
	conn.setOnWrite(func(packet) {
		conn.inject("10.0.0.9", DefaultCommandPort, stateReportFrom("c1"))
	})
	var broadcast bool

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	devices, err := Discover(ctx, sock, DiscoveryOptions{
		Address: "10.0.0.255",
		Window:  5 * time.Second,
		Listen:  discoveryConn(conn, &broadcast),
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Discover() error = %v, want context.DeadlineExceeded", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Discover() ignored cancellation")
	}
	if len(devices) != 1 {
		t.Errorf("devices = %d, want the 1 found before cancellation", len(devices))
	}
}

func TestDiscoverErrors(t *testing.T) {
	sock, _, _ := testSocket(t)

	if _, err := Discover(context.Background(), sock, DiscoveryOptions{Address: "not-an-ip"}); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("bad address error = %v, want ErrInvalidAddress", err)
	}

	_, err := Discover(context.Background(), sock, DiscoveryOptions{
		Address: "10.0.0.255",
		Listen: func(context.Context, bool) (net.PacketConn, error) {
			return nil, errors.New("permission denied")
		},
	})
	if !errors.Is(err, ErrSocketBindFailed) {
		t.Errorf("listen failure error = %v, want ErrSocketBindFailed", err)
	}

	conn := newFakePacketConn(0)
	conn.setWriteErr(errWriteFailed)
	var broadcast bool
	_, err = Discover(context.Background(), sock, DiscoveryOptions{
		Address: "10.0.0.255",
		Listen:  discoveryConn(conn, &broadcast),
	})
	if !errors.Is(err, ErrRequestSendError) {
		t.Errorf("probe failure error = %v, want ErrRequestSendError", err)
	}
	select {
	case <-conn.closed:
	default:
		t.Error("discovery socket not closed after probe failure")
	}
}
