package wiz

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// DefaultDiscoveryWindow is how long Discover collects replies.
const DefaultDiscoveryWindow = 1000 * time.Millisecond

// DiscoveryListenFunc opens the throwaway discovery socket. broadcast is
// true when the target address ends in .255.
type DiscoveryListenFunc func(ctx context.Context, broadcast bool) (net.PacketConn, error)

// DiscoveryOptions configures a discovery scan.
type DiscoveryOptions struct {
	// Address is the broadcast or unicast target. Default: the local
	// subnet broadcast address (x.y.z.255), or 255.255.255.255 when no
	// local IPv4 address is found.
	Address string

	// Port is the fixture command port. Default: 38899.
	Port int

	// Window is how long replies are collected. Default: 1s.
	Window time.Duration

	// Listen opens the discovery socket. Default: an ephemeral UDP socket
	// with SO_BROADCAST set when broadcasting.
	Listen DiscoveryListenFunc

	// Validator checks replies against StateReportShape.
	Validator Validator

	// DeviceOptions are applied to every Device found.
	DeviceOptions []DeviceOption

	// OnReport, when set, receives the first state report from each
	// responding address.
	OnReport func(ip string, state PilotState)

	Logger Logger
}

func (o *DiscoveryOptions) applyDefaults() {
	if o.Address == "" {
		o.Address = "255.255.255.255"
		if ip, err := LocalIPv4(); err == nil {
			if bcast, err := BroadcastAddress(ip); err == nil {
				o.Address = bcast
			}
		}
	}
	if o.Port == 0 {
		o.Port = DefaultCommandPort
	}
	if o.Window <= 0 {
		o.Window = DefaultDiscoveryWindow
	}
	if o.Listen == nil {
		o.Listen = listenDiscovery
	}
	if o.Validator == nil {
		o.Validator = defaultValidator
	}
}

// listenDiscovery opens an ephemeral IPv4 UDP socket.
func listenDiscovery(ctx context.Context, broadcast bool) (net.PacketConn, error) {
	lc := net.ListenConfig{}
	if broadcast {
		lc.Control = enableBroadcast
	}
	return lc.ListenPacket(ctx, "udp4", ":0")
}

// Discover broadcasts one getPilot probe and returns a Device for every
// distinct address that answers with a valid state report within the
// window. Devices are bound to sock, not to the throwaway discovery socket,
// which is always closed before Discover returns.
//
// Discovery is best-effort: UDP broadcast is lossy and fixtures that miss
// the probe are simply absent from the result.
//
// Parameters:
//   - ctx: Cancelling ends the window early
//   - sock: Shared socket the returned devices use
//   - opts: Scan options
//
// Returns:
//   - []*Device: One per responding address, in order of first reply
//   - error: ErrSocketBindFailed, ErrRequestSendError, or ctx.Err() with
//     the devices found so far
func Discover(ctx context.Context, sock *Socket, opts DiscoveryOptions) ([]*Device, error) {
	opts.applyDefaults()

	ip := net.ParseIP(opts.Address).To4()
	if ip == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, opts.Address)
	}
	broadcast := isBroadcast(ip)

	conn, err := opts.Listen(ctx, broadcast)
	if err != nil {
		return nil, fmt.Errorf("%w: discovery socket: %w", ErrSocketBindFailed, err)
	}
	defer conn.Close()

	probe, err := GetState{}.Encode()
	if err != nil {
		return nil, fmt.Errorf("%w: encode probe: %w", ErrRequestSendError, err)
	}
	target := &net.UDPAddr{IP: ip, Port: opts.Port}
	if _, err := conn.WriteTo(probe, target); err != nil {
		return nil, fmt.Errorf("%w: probe %s: %w", ErrRequestSendError, target, err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(opts.Window)); err != nil {
		return nil, fmt.Errorf("wiz: set discovery deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if opts.Logger != nil {
		opts.Logger.Debug("discovery probe sent", "target", target.String(), "broadcast", broadcast, "window", opts.Window.String())
	}

	var devices []*Device
	seen := make(map[string]bool)
	buf := make([]byte, defaultReadBufferSize)

	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			return devices, fmt.Errorf("wiz: discovery read: %w", err)
		}

		payload, err := Decode(buf[:n])
		if err != nil || !opts.Validator.Validate(StateReportShape, payload) {
			continue
		}

		fromIP := addrIP(from)
		if fromIP == nil {
			continue
		}
		key := fromIP.String()
		if seen[key] {
			continue
		}
		seen[key] = true

		dev, err := NewDevice(sock, key, opts.DeviceOptions...)
		if err != nil {
			continue
		}
		devices = append(devices, dev)

		if opts.OnReport != nil {
			if report, err := ParseStateReport(buf[:n]); err == nil {
				opts.OnReport(key, report.Result)
			}
		}

		if opts.Logger != nil {
			opts.Logger.Info("fixture discovered", "address", key)
		}
	}

	sock.cfg.Metrics.discovered(len(devices))

	if err := ctx.Err(); err != nil {
		return devices, err
	}
	return devices, nil
}
