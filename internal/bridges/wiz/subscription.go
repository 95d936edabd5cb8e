package wiz

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Identity is what the client registers with: the local IP fixtures should
// push to and a MAC-like identifier echoed in every notification ack.
type Identity struct {
	IP  string
	MAC string
}

// Subscription performs the registration handshake with one fixture and
// acknowledges every notification it pushes afterwards.
//
// The notification observer is long-lived: timeouts never remove it. It is
// removed by Stop or when the shared socket closes.
type Subscription struct {
	corr      *Correlator
	sock      *Socket
	addr      *net.UDPAddr
	validator Validator
	identity  func() (Identity, error)
	onNotify  func(Notification)
	logger    Logger

	startMu sync.Mutex
	mu      sync.Mutex
	remove  func()
	mac     string

	notifications atomic.Uint64
	acks          atomic.Uint64
	ackErrors     atomic.Uint64
}

// SubscriptionStats holds notification statistics.
type SubscriptionStats struct {
	Active        bool
	Notifications uint64
	Acks          uint64
	AckErrors     uint64
}

func newSubscription(corr *Correlator, addr *net.UDPAddr, validator Validator, identity func() (Identity, error), onNotify func(Notification), logger Logger) *Subscription {
	return &Subscription{
		corr:      corr,
		sock:      corr.sock,
		addr:      addr,
		validator: validator,
		identity:  identity,
		onNotify:  onNotify,
		logger:    logger,
	}
}

// Start registers with the fixture and installs the notification observer.
// It is a no-op when already active.
//
// The registration is a correlated request and occupies AwaitingResponse
// like any other.
func (s *Subscription) Start(ctx context.Context, timeout time.Duration) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if s.Active() {
		return nil
	}

	id, err := s.identity()
	if err != nil {
		return err
	}

	cmd := Register{Register: true, PhoneIP: id.IP, PhoneMAC: id.MAC}
	if _, err := s.corr.Exchange(ctx, s.addr, cmd, AckShape, timeout); err != nil {
		return err
	}

	remove := s.sock.OnDatagram(s.handleDatagram)

	s.mu.Lock()
	s.remove = remove
	s.mac = id.MAC
	s.mu.Unlock()

	s.sock.cfg.Metrics.subscriptions(1)
	if s.logger != nil {
		s.logger.Info("subscribed to notifications", "device", s.addr.IP.String())
	}
	return nil
}

// Stop removes the notification observer. The shared socket and other
// devices' subscriptions are unaffected. The fixture stops pushing once
// its acks go missing.
func (s *Subscription) Stop() {
	s.mu.Lock()
	remove := s.remove
	s.remove = nil
	s.mu.Unlock()

	if remove == nil {
		return
	}
	remove()

	s.sock.cfg.Metrics.subscriptions(-1)
	if s.logger != nil {
		s.logger.Info("unsubscribed from notifications", "device", s.addr.IP.String())
	}
}

// Active reports whether the notification observer is installed on an
// open socket.
func (s *Subscription) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove != nil && !s.sock.isClosed()
}

// handleDatagram acks and forwards notifications from the subscribed fixture.
func (s *Subscription) handleDatagram(dg Datagram) {
	if dg.DecodeErr != nil || !dg.IP().Equal(s.addr.IP) {
		return
	}
	if !s.validator.Validate(NotificationShape, dg.Payload) {
		return
	}

	n, err := ParseNotification(dg.Raw)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("notification parse failed", "device", s.addr.IP.String(), "error", err)
		}
		return
	}
	s.notifications.Add(1)
	s.sock.cfg.Metrics.inc(notificationsMetric)

	s.mu.Lock()
	mac := s.mac
	s.mu.Unlock()

	ack, err := NotificationAck{ID: n.ID, MAC: mac}.Encode()
	if err == nil {
		err = s.sock.Send(ack, dg.Addr)
	}
	if err != nil {
		s.ackErrors.Add(1)
		if s.logger != nil {
			s.logger.Error("notification ack failed", "device", s.addr.IP.String(), "error", err)
		}
	} else {
		s.acks.Add(1)
		s.sock.cfg.Metrics.inc(notificationAcksMetric)
	}

	if s.onNotify != nil {
		s.onNotify(n)
	}
}

// Stats returns notification statistics.
func (s *Subscription) Stats() SubscriptionStats {
	return SubscriptionStats{
		Active:        s.Active(),
		Notifications: s.notifications.Load(),
		Acks:          s.acks.Load(),
		AckErrors:     s.ackErrors.Load(),
	}
}
