package wiz

import (
	"context"
	"errors"
	"testing"
	"time"
)

const setAck = `{"method":"setPilot","env":"pro","result":{"success":true}}`

// fixtureResponder answers getPilot with state and setPilot with ack.
func fixtureResponder(conn *fakePacketConn, state string) func(packet) {
	get := replyFrom(conn, MethodGetPilot, state)
	set := replyFrom(conn, MethodSetPilot, setAck)
	return func(p packet) {
		get(p)
		set(p)
	}
}

func TestNewDeviceValidation(t *testing.T) {
	sock, _, _ := testSocket(t)

	tests := []struct {
		ip      string
		wantErr bool
	}{
		{"192.168.1.40", false},
		{"10.0.0.1", false},
		{"", true},
		{"fixture.local", true},
		{"fe80::1", true},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			_, err := NewDevice(sock, tt.ip)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewDevice(%q) error = %v, wantErr %v", tt.ip, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidAddress) {
				t.Errorf("error = %v, want ErrInvalidAddress", err)
			}
		})
	}
}

func TestDeviceOptions(t *testing.T) {
	sock, _, _ := testSocket(t)
	dev, err := NewDevice(sock, "10.0.0.5",
		WithCommandPort(40000),
		WithTimeout(250*time.Millisecond),
		WithIdentity(Identity{IP: "10.0.0.2", MAC: "02aabbccddee"}),
	)
	if err != nil {
		t.Fatalf("NewDevice() error = %v", err)
	}

	if dev.Addr().Port != 40000 {
		t.Errorf("Addr().Port = %d, want 40000", dev.Addr().Port)
	}
	if dev.timeout != 250*time.Millisecond || dev.corr.timeout != 250*time.Millisecond {
		t.Errorf("timeout = %s, want 250ms", dev.timeout)
	}
	if dev.Identifier() != "02aabbccddee" {
		t.Errorf("Identifier() = %q", dev.Identifier())
	}

	def, err := NewDevice(sock, "10.0.0.6")
	if err != nil {
		t.Fatalf("NewDevice() error = %v", err)
	}
	if def.Addr().Port != DefaultCommandPort || def.timeout != DefaultResponseTimeout {
		t.Errorf("defaults = port %d timeout %s", def.Addr().Port, def.timeout)
	}
	if !identifierPattern.MatchString(def.Identifier()) {
		t.Errorf("generated Identifier() = %q", def.Identifier())
	}
}

func TestDeviceGetState(t *testing.T) {
	sock, conn, _ := testSocket(t)
	conn.setOnWrite(fixtureResponder(conn, pilotReply))
	dev, _ := NewDevice(sock, "10.0.0.5")

	st, err := dev.GetState(context.Background())
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if !st.State || st.Dimming != 40 || st.Temp != 2700 || st.RSSI != -62 || st.MAC != "a8bb50aabbcc" {
		t.Errorf("GetState() = %+v", st)
	}
	if got := sock.State(); got != StateReady {
		t.Errorf("State() = %s, want ready (bound on first use)", got)
	}
}

func TestDeviceGetStateInvalidShape(t *testing.T) {
	sock, conn, _ := testSocket(t)
	conn.setOnWrite(replyFrom(conn, MethodGetPilot, `{"method":"getPilot","result":{"rssi":-60}}`))
	dev, _ := NewDevice(sock, "10.0.0.5")

	_, err := dev.GetState(context.Background())
	if !errors.Is(err, ErrResponseValidationFailed) {
		t.Fatalf("GetState() error = %v, want ErrResponseValidationFailed", err)
	}
	var reqErr *RequestError
	if !errors.As(err, &reqErr) || reqErr.Payload == nil {
		t.Errorf("RequestError missing payload: %+v", reqErr)
	}
}

func TestDeviceSetters(t *testing.T) {
	tests := []struct {
		name string
		call func(context.Context, *Device) error
		want string
	}{
		{"on", func(ctx context.Context, d *Device) error { return d.TurnOn(ctx) }, `{"state":true}`},
		{"off", func(ctx context.Context, d *Device) error { return d.TurnOff(ctx) }, `{"state":false}`},
		{"brightness", func(ctx context.Context, d *Device) error { return d.SetBrightness(ctx, 40) }, `{"dimming":40}`},
		{"rgb", func(ctx context.Context, d *Device) error { return d.SetRGB(ctx, 10, 20, 30) }, `{"r":10,"g":20,"b":30}`},
		{"color", func(ctx context.Context, d *Device) error { return d.SetColor(ctx, "#0000ff") }, `{"r":0,"g":0,"b":255}`},
		{"scene", func(ctx context.Context, d *Device) error { return d.SetScene(ctx, 4) }, `{"sceneId":4}`},
		{"speed", func(ctx context.Context, d *Device) error { return d.SetSceneSpeed(ctx, 60) }, `{"speed":60}`},
		{"temperature", func(ctx context.Context, d *Device) error { return d.SetTemperature(ctx, 4000) }, `{"temp":4000}`},
		{"cold white", func(ctx context.Context, d *Device) error { return d.SetColdWhite(ctx, 128) }, `{"c":128}`},
		{"warm white", func(ctx context.Context, d *Device) error { return d.SetWarmWhite(ctx, 64) }, `{"w":64}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sock, conn, _ := testSocket(t)
			conn.setOnWrite(fixtureResponder(conn, pilotReply))
			dev, _ := NewDevice(sock, "10.0.0.5")

			if err := tt.call(context.Background(), dev); err != nil {
				t.Fatalf("call error = %v", err)
			}
			writes := conn.written()
			want := `{"method":"setPilot","params":` + tt.want + `}`
			if len(writes) != 1 || string(writes[0].data) != want {
				t.Errorf("writes = %v, want %s", writes, want)
			}
		})
	}
}

func TestDeviceSetStateUnsuccessful(t *testing.T) {
	sock, conn, _ := testSocket(t)
	conn.setOnWrite(replyFrom(conn, MethodSetPilot, `{"method":"setPilot","env":"pro","result":{"success":false}}`))
	dev, _ := NewDevice(sock, "10.0.0.5")

	if err := dev.TurnOn(context.Background()); !errors.Is(err, ErrBulbReturnedFailure) {
		t.Errorf("TurnOn() error = %v, want ErrBulbReturnedFailure", err)
	}
}

func TestDeviceToggle(t *testing.T) {
	sock, conn, _ := testSocket(t)
	conn.setOnWrite(fixtureResponder(conn, pilotReply))
	dev, _ := NewDevice(sock, "10.0.0.5")

	on, err := dev.Toggle(context.Background())
	if err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if on {
		t.Error("Toggle() of an on fixture returned on = true")
	}
	writes := conn.written()
	if len(writes) != 2 || string(writes[1].data) != `{"method":"setPilot","params":{"state":false}}` {
		t.Errorf("writes = %v", writes)
	}
}

func TestDeviceSetStateNoWait(t *testing.T) {
	sock, conn, _ := testSocket(t)
	dev, _ := NewDevice(sock, "10.0.0.5")
	other, _ := NewDevice(sock, "10.0.0.6", WithTimeout(5*time.Second))

	// Occupy the correlator with a request that never gets a reply.
	done := make(chan error, 1)
	go func() {
		_, err := other.GetState(context.Background())
		done <- err
	}()
	waitFor(t, "pending request", func() bool { return sock.State() == StateAwaitingResponse })

	if err := dev.SetStateNoWait(context.Background(), SetState{Dimming: Int(10)}); err != nil {
		t.Fatalf("SetStateNoWait() error = %v", err)
	}
	if err := dev.TurnOn(context.Background()); !errors.Is(err, ErrInvalidBulbState) {
		t.Errorf("TurnOn() during pending request error = %v, want ErrInvalidBulbState", err)
	}

	sock.Close()
	if err := <-done; !errors.Is(err, ErrSocketClosed) {
		t.Errorf("pending GetState() error = %v, want ErrSocketClosed", err)
	}
	if n := len(conn.written()); n != 2 {
		t.Errorf("writes = %d, want 2 (probe and fire-and-forget)", n)
	}
}

func TestDeviceCloseAffectsAllDevices(t *testing.T) {
	sock, conn, _ := testSocket(t)
	conn.setOnWrite(fixtureResponder(conn, pilotReply))
	first, _ := NewDevice(sock, "10.0.0.5")
	second, _ := NewDevice(sock, "10.0.0.6")

	if _, err := second.GetState(context.Background()); err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := second.GetState(context.Background()); !errors.Is(err, ErrSocketClosed) {
		t.Errorf("GetState() on sibling after Close error = %v, want ErrSocketClosed", err)
	}
	if err := second.SetStateNoWait(context.Background(), TurnOnCommand()); !errors.Is(err, ErrSocketClosed) {
		t.Errorf("SetStateNoWait() after Close error = %v, want ErrSocketClosed", err)
	}
	if got := sock.State(); got != StateClosed {
		t.Errorf("State() = %s, want closed", got)
	}
}

func TestDeviceStateHandlers(t *testing.T) {
	dev, conn := subscribedDevice(t, "10.0.0.5")

	calls := make(chan string, 4)
	removeA := dev.OnStateChange(func(Notification) { calls <- "a" })
	dev.OnStateChange(func(Notification) { calls <- "b" })

	conn.inject("10.0.0.5", DefaultCommandPort, `{"method":"syncPilot","id":1,"params":{"mac":"x","state":true}}`)
	if got := <-calls + <-calls; got != "ab" {
		t.Errorf("handler order = %q, want ab", got)
	}

	removeA()
	conn.inject("10.0.0.5", DefaultCommandPort, `{"method":"syncPilot","id":2,"params":{"mac":"x","state":true}}`)
	if got := <-calls; got != "b" {
		t.Errorf("handler after removal = %q, want b", got)
	}
}
