package wiz

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"
)

// packet is one datagram seen by fakePacketConn.
type packet struct {
	data []byte
	addr net.Addr
}

func (p packet) String() string {
	return fmt.Sprintf("%s -> %v", p.data, p.addr)
}

// timeoutError satisfies net.Error with Timeout() == true.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// fakePacketConn is an in-memory net.PacketConn.
type fakePacketConn struct {
	local   net.Addr
	inbound chan packet

	mu           sync.Mutex
	writes       []packet
	writeErr     error
	onWrite      func(packet)
	readDeadline time.Time
	deadlineWake chan struct{}

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakePacketConn(port int) *fakePacketConn {
	return &fakePacketConn{
		local:        &net.UDPAddr{IP: net.IPv4zero, Port: port},
		inbound:      make(chan packet, 64),
		deadlineWake: make(chan struct{}),
		closed:       make(chan struct{}),
	}
}

func (c *fakePacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	for {
		c.mu.Lock()
		deadline := c.readDeadline
		wake := c.deadlineWake
		c.mu.Unlock()

		var timeout <-chan time.Time
		var timer *time.Timer
		if !deadline.IsZero() {
			d := time.Until(deadline)
			if d <= 0 {
				return 0, nil, timeoutError{}
			}
			timer = time.NewTimer(d)
			timeout = timer.C
		}

		select {
		case p := <-c.inbound:
			if timer != nil {
				timer.Stop()
			}
			return copy(b, p.data), p.addr, nil
		case <-timeout:
			return 0, nil, timeoutError{}
		case <-wake:
			if timer != nil {
				timer.Stop()
			}
		case <-c.closed:
			if timer != nil {
				timer.Stop()
			}
			return 0, nil, net.ErrClosed
		}
	}
}

func (c *fakePacketConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}

	p := packet{data: append([]byte(nil), b...), addr: addr}

	c.mu.Lock()
	if c.writeErr != nil {
		err := c.writeErr
		c.mu.Unlock()
		return 0, err
	}
	c.writes = append(c.writes, p)
	hook := c.onWrite
	c.mu.Unlock()

	if hook != nil {
		hook(p)
	}
	return len(b), nil
}

func (c *fakePacketConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakePacketConn) LocalAddr() net.Addr { return c.local }

func (c *fakePacketConn) SetDeadline(t time.Time) error {
	return c.SetReadDeadline(t)
}

func (c *fakePacketConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.readDeadline = t
	close(c.deadlineWake)
	c.deadlineWake = make(chan struct{})
	c.mu.Unlock()
	return nil
}

func (c *fakePacketConn) SetWriteDeadline(time.Time) error { return nil }

// inject delivers a datagram as if sent from ip:port.
func (c *fakePacketConn) inject(ip string, port int, payload string) {
	c.inbound <- packet{data: []byte(payload), addr: &net.UDPAddr{IP: net.ParseIP(ip), Port: port}}
}

func (c *fakePacketConn) setOnWrite(fn func(packet)) {
	c.mu.Lock()
	c.onWrite = fn
	c.mu.Unlock()
}

func (c *fakePacketConn) setWriteErr(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

func (c *fakePacketConn) written() []packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]packet(nil), c.writes...)
}

// testSocket returns a Socket whose Listen hands out conn and counts calls.
func testSocket(t *testing.T) (*Socket, *fakePacketConn, *int) {
	t.Helper()

	conn := newFakePacketConn(DefaultListenPort)
	var mu sync.Mutex
	listens := 0
	sock := NewSocket(SocketConfig{
		Listen: func(_ context.Context, _, _ string) (net.PacketConn, error) {
			mu.Lock()
			listens++
			mu.Unlock()
			return conn, nil
		},
	})
	t.Cleanup(func() { sock.Close() })
	return sock, conn, &listens
}

// boundSocket returns a bound test socket.
func boundSocket(t *testing.T) (*Socket, *fakePacketConn) {
	t.Helper()
	sock, conn, _ := testSocket(t)
	if err := sock.Bind(context.Background()); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	return sock, conn
}

// replyFrom answers every write whose method matches with reply, sent from
// the destination address of the write.
func replyFrom(conn *fakePacketConn, method, reply string) func(packet) {
	return func(p packet) {
		payload, err := Decode(p.data)
		if err != nil || methodOf(payload) != method {
			return
		}
		udp, ok := p.addr.(*net.UDPAddr)
		if !ok {
			return
		}
		conn.inject(udp.IP.String(), udp.Port, reply)
	}
}

// waitFor polls cond until it is true or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func udpAddr(ip string) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(ip).To4(), Port: DefaultCommandPort}
}

var errWriteFailed = errors.New("sendto: network is unreachable")
