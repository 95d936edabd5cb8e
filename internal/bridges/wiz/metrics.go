package wiz

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the WiZ engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// Socket metrics
	DatagramsReceived prometheus.Counter
	DatagramsSent     prometheus.Counter
	DecodeErrors      prometheus.Counter
	SendErrors        prometheus.Counter
	StateTransitions  *prometheus.CounterVec

	// Request metrics
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Subscription metrics
	Subscriptions    prometheus.Gauge
	Notifications    prometheus.Counter
	NotificationAcks prometheus.Counter

	// Discovery metrics
	DiscoveryRuns     prometheus.Counter
	DiscoveredDevices prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them on the default handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DatagramsReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: "graylogic",
			Subsystem: "wiz",
			Name:      "datagrams_received_total",
			Help:      "Total datagrams received on the shared socket",
		}),
		DatagramsSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: "graylogic",
			Subsystem: "wiz",
			Name:      "datagrams_sent_total",
			Help:      "Total datagrams sent on the shared socket",
		}),
		DecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "graylogic",
			Subsystem: "wiz",
			Name:      "decode_errors_total",
			Help:      "Total inbound datagrams that were not valid JSON objects",
		}),
		SendErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "graylogic",
			Subsystem: "wiz",
			Name:      "send_errors_total",
			Help:      "Total OS-level send failures",
		}),
		StateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graylogic",
			Subsystem: "wiz",
			Name:      "state_transitions_total",
			Help:      "Connection state transitions",
		}, []string{"from", "to"}),
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graylogic",
			Subsystem: "wiz",
			Name:      "requests_total",
			Help:      "Correlated requests by method and result",
		}, []string{"method", "result"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "graylogic",
			Subsystem: "wiz",
			Name:      "request_duration_seconds",
			Help:      "Correlated request round-trip time",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method"}),
		Subscriptions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "graylogic",
			Subsystem: "wiz",
			Name:      "subscriptions",
			Help:      "Active notification subscriptions",
		}),
		Notifications: f.NewCounter(prometheus.CounterOpts{
			Namespace: "graylogic",
			Subsystem: "wiz",
			Name:      "notifications_total",
			Help:      "Total syncPilot notifications accepted",
		}),
		NotificationAcks: f.NewCounter(prometheus.CounterOpts{
			Namespace: "graylogic",
			Subsystem: "wiz",
			Name:      "notification_acks_total",
			Help:      "Total notification acks sent",
		}),
		DiscoveryRuns: f.NewCounter(prometheus.CounterOpts{
			Namespace: "graylogic",
			Subsystem: "wiz",
			Name:      "discovery_runs_total",
			Help:      "Total discovery scans",
		}),
		DiscoveredDevices: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "graylogic",
			Subsystem: "wiz",
			Name:      "discovered_devices",
			Help:      "Devices found by the most recent discovery scan",
		}),
	}
}

type counterID int

const (
	datagramsReceivedMetric counterID = iota
	datagramsSentMetric
	decodeErrorsMetric
	sendErrorsMetric
	notificationsMetric
	notificationAcksMetric
)

func (m *Metrics) inc(id counterID) {
	if m == nil {
		return
	}
	var c prometheus.Counter
	switch id {
	case datagramsReceivedMetric:
		c = m.DatagramsReceived
	case datagramsSentMetric:
		c = m.DatagramsSent
	case decodeErrorsMetric:
		c = m.DecodeErrors
	case sendErrorsMetric:
		c = m.SendErrors
	case notificationsMetric:
		c = m.Notifications
	case notificationAcksMetric:
		c = m.NotificationAcks
	}
	if c != nil {
		c.Inc()
	}
}

func (m *Metrics) transition(t Transition) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(t.From.String(), t.To.String()).Inc()
}

func (m *Metrics) request(method string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(method, resultLabel(err)).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(time.Since(started).Seconds())
}

func (m *Metrics) subscriptions(delta float64) {
	if m != nil {
		m.Subscriptions.Add(delta)
	}
}

func (m *Metrics) discovered(n int) {
	if m == nil {
		return
	}
	m.DiscoveryRuns.Inc()
	m.DiscoveredDevices.Set(float64(n))
}

// resultLabel maps a request error to a low-cardinality label value.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRequestTimedOut):
		return "timeout"
	case errors.Is(err, ErrResponseParseFailed):
		return "parse_error"
	case errors.Is(err, ErrResponseValidationFailed):
		return "validation_error"
	case errors.Is(err, ErrBulbReturnedFailure):
		return "device_error"
	case errors.Is(err, ErrRequestSendError):
		return "send_error"
	case errors.Is(err, ErrSocketClosed):
		return "closed"
	case errors.Is(err, ErrInvalidBulbState):
		return "state_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
