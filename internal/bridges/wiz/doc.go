// Package wiz implements the WiZ fixture bridge for Gray Logic.
//
// WiZ fixtures speak plaintext JSON over UDP. Every fixture listens for
// commands on port 38899 and sends replies and unsolicited notifications
// back to a fixed client port (38900), so a client process owns exactly
// one listen socket and every fixture handle shares it.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐
//	│   Gray Logic    │   MQTT   │   WiZ Bridge    │   UDP/JSON
//	│      Core       │◄────────►│   (this pkg)    │◄────────► Fixtures
//	└─────────────────┘          └─────────────────┘
//
// Inside the package the layers are, leaves first:
//
//   - Codec: Command values to JSON bytes, datagrams to untyped maps
//   - Shapes: declarative response shapes checked by a Validator
//   - Socket: the shared listen socket and its connection state machine
//   - Correlator: awaitable request/reply exchanges with timeouts
//   - Subscription: registration handshake and notification acks
//   - Discovery: broadcast probe on a throwaway socket
//   - Device: the per-fixture facade applications use
//
// # Connection State
//
// The shared socket moves through Idle, Binding, Ready and
// AwaitingResponse, and ends in Closed. Only one correlated request may be
// outstanding across all devices at once; a second one fails with
// ErrInvalidBulbState. Fire-and-forget sends and notification acks are not
// gated.
//
// Example:
//
//	sock := wiz.NewSocket(wiz.SocketConfig{})
//	defer sock.Close()
//
//	dev, err := wiz.NewDevice(sock, "192.168.1.40")
//	if err != nil {
//	    return err
//	}
//	if err := dev.SetBrightness(ctx, 40); err != nil {
//	    return err
//	}
//
// # Shared Socket Hazard
//
// Device.Close closes the shared socket. Every other Device built on the
// same Socket stops working at that point.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
// Correlated requests are still serialised by the connection state, so
// concurrent callers must expect ErrInvalidBulbState.
package wiz
