package mqtt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-wiz/internal/infrastructure/config"
)

// fakeToken completes immediately with err, or never when timeout is set.
type fakeToken struct {
	pahomqtt.Token
	err     error
	timeout bool
}

func (t *fakeToken) WaitTimeout(_ time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                    { return t.err }

type fakeMessage struct {
	pahomqtt.Message
	topic   string
	payload []byte
}

func (m *fakeMessage) Topic() string   { return m.topic }
func (m *fakeMessage) Payload() []byte { return m.payload }

type fakePublish struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakePaho is an in-memory paho client.
type fakePaho struct {
	pahomqtt.Client

	mu           sync.Mutex
	connected    bool
	publishes    []fakePublish
	subscribes   []string
	handlers     map[string]pahomqtt.MessageHandler
	token        *fakeToken
	disconnected bool
}

func newFakePaho() *fakePaho {
	return &fakePaho{connected: true, handlers: make(map[string]pahomqtt.MessageHandler), token: &fakeToken{}}
}

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, _ := payload.([]byte)
	f.publishes = append(f.publishes, fakePublish{topic, qos, retained, b})
	return f.token
}

func (f *fakePaho) Subscribe(topic string, _ byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes = append(f.subscribes, topic)
	f.handlers[topic] = callback
	return f.token
}

func (f *fakePaho) Disconnect(_ uint) {
	f.mu.Lock()
	f.connected = false
	f.disconnected = true
	f.mu.Unlock()
}

func (f *fakePaho) deliver(topic string, payload []byte) {
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	h(f, &fakeMessage{topic: topic, payload: payload})
}

// testClient returns a connected Client backed by a fakePaho.
func testClient() (*Client, *fakePaho) {
	fake := newFakePaho()
	c := newClient(testConfig())
	c.client = fake
	c.connected.Store(true)
	return c, fake
}

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "wizbridge-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth = config.MQTTAuthConfig{Username: "bridge", Password: "secret"}

	o := connectOptions{connectTimeout: defaultConnectTimeout}
	WithWill(Will{Topic: "graylogic/health/wiz", Payload: []byte(`{"status":"offline"}`), QoS: 1, Retained: true})(&o)

	opts := buildClientOptions(cfg, o)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "wizbridge-test" || opts.Username != "bridge" || opts.Password != "secret" {
		t.Errorf("identity = %s %s", opts.ClientID, opts.Username)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Errorf("TLSConfig = %+v", opts.TLSConfig)
	}
	if !opts.WillEnabled || opts.WillTopic != "graylogic/health/wiz" || !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("will = %v %s %v %d", opts.WillEnabled, opts.WillTopic, opts.WillRetained, opts.WillQos)
	}
	if string(opts.WillPayload) != `{"status":"offline"}` {
		t.Errorf("WillPayload = %s", opts.WillPayload)
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Error("expected auto-reconnect and clean session")
	}
}

func TestBuildClientOptions_NoWill(t *testing.T) {
	opts := buildClientOptions(testConfig(), connectOptions{connectTimeout: defaultConnectTimeout})

	if opts.WillEnabled {
		t.Error("WillEnabled = true without WithWill")
	}
	if opts.Servers[0].Scheme != "tcp" {
		t.Errorf("scheme = %s, want tcp", opts.Servers[0].Scheme)
	}
}

func TestPublish(t *testing.T) {
	c, fake := testClient()

	if err := c.Publish("graylogic/state/wiz/10.0.0.5", []byte(`{}`), 1, true); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := c.Publish("graylogic/ack/wiz/10.0.0.5", []byte(`{}`), 0, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if len(fake.publishes) != 2 {
		t.Fatalf("publishes = %d, want 2", len(fake.publishes))
	}
	if p := fake.publishes[0]; !p.retained || p.qos != 1 || string(p.payload) != `{}` {
		t.Errorf("state publish = %+v", p)
	}
	if p := fake.publishes[1]; p.retained || p.qos != 0 {
		t.Errorf("ack publish = %+v", p)
	}
}

func TestPublishErrors(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		qos     byte
		payload []byte
		setup   func(*fakePaho)
		want    error
	}{
		{"empty topic", "", 1, nil, nil, ErrInvalidTopic},
		{"bad qos", "t", 3, nil, nil, ErrInvalidQoS},
		{"too large", "t", 1, make([]byte, maxPayloadSize+1), nil, ErrPublishFailed},
		{"disconnected", "t", 1, nil, func(f *fakePaho) { f.connected = false }, ErrNotConnected},
		{"broker error", "t", 1, nil, func(f *fakePaho) { f.token = &fakeToken{err: errors.New("refused")} }, ErrPublishFailed},
		{"timeout", "t", 1, nil, func(f *fakePaho) { f.token = &fakeToken{timeout: true} }, ErrPublishFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, fake := testClient()
			if tt.setup != nil {
				tt.setup(fake)
			}
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribe(t *testing.T) {
	c, fake := testClient()

	got := make(chan string, 1)
	err := c.Subscribe("graylogic/command/wiz/+", 1, func(topic string, _ []byte) error {
		got <- topic
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if topics := c.Topics(); len(topics) != 1 || topics[0] != "graylogic/command/wiz/+" {
		t.Errorf("Topics() = %v", topics)
	}

	fake.deliver("graylogic/command/wiz/+", []byte(`{}`))
	if topic := <-got; topic != "graylogic/command/wiz/+" {
		t.Errorf("handler topic = %s", topic)
	}

	_ = c.Subscribe("graylogic/command/wiz/+", 0, func(string, []byte) error { return nil })
	if topics := c.Topics(); len(topics) != 1 {
		t.Errorf("resubscribing the same topic tracked %v", topics)
	}
}

func TestSubscribeErrors(t *testing.T) {
	noop := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		setup   func(*fakePaho)
		want    error
	}{
		{"empty topic", "", 1, noop, nil, ErrInvalidTopic},
		{"bad qos", "t", 5, noop, nil, ErrInvalidQoS},
		{"nil handler", "t", 1, nil, nil, ErrSubscribeFailed},
		{"disconnected", "t", 1, noop, func(f *fakePaho) { f.connected = false }, ErrNotConnected},
		{"broker error", "t", 1, noop, func(f *fakePaho) { f.token = &fakeToken{err: errors.New("denied")} }, ErrSubscribeFailed},
		{"timeout", "t", 1, noop, func(f *fakePaho) { f.token = &fakeToken{timeout: true} }, ErrSubscribeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, fake := testClient()
			if tt.setup != nil {
				tt.setup(fake)
			}
			if err := c.Subscribe(tt.topic, tt.qos, tt.handler); !errors.Is(err, tt.want) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.want)
			}
			if len(c.Topics()) != 0 {
				t.Error("failed subscription left tracked")
			}
		})
	}
}

func TestDispatchRecoversHandlers(t *testing.T) {
	c, fake := testClient()
	logger := &recordingLogger{}
	c.SetLogger(logger)

	_ = c.Subscribe("panic", 1, func(string, []byte) error { panic("boom") })
	_ = c.Subscribe("fail", 1, func(string, []byte) error { return errors.New("bad payload") })

	fake.deliver("panic", nil)
	fake.deliver("fail", nil)

	if len(logger.errors) != 1 || !strings.Contains(logger.errors[0], "panic") {
		t.Errorf("errors = %v", logger.errors)
	}
	if len(logger.warns) != 1 {
		t.Errorf("warns = %v", logger.warns)
	}
}

func TestReconnectRestoresSubscriptions(t *testing.T) {
	c, fake := testClient()
	_ = c.Subscribe("graylogic/command/wiz/+", 1, func(string, []byte) error { return nil })
	_ = c.Subscribe("graylogic/request/wiz/+", 1, func(string, []byte) error { return nil })

	var reconnected, lost int
	var lostErr error
	c.SetOnConnect(func() { reconnected++ })
	c.SetOnDisconnect(func(err error) { lost++; lostErr = err })

	c.handleDisconnect(errors.New("EOF"))
	if c.IsConnected() {
		t.Error("IsConnected() = true after connection lost")
	}
	if lost != 1 || lostErr == nil {
		t.Errorf("disconnect callback calls = %d err = %v", lost, lostErr)
	}

	c.handleConnect()
	if !c.IsConnected() {
		t.Error("IsConnected() = false after reconnect")
	}
	if reconnected != 1 {
		t.Errorf("connect callback calls = %d, want 1", reconnected)
	}
	if c.Reconnects() != 0 {
		t.Errorf("Reconnects() = %d after first paho connect", c.Reconnects())
	}

	c.handleDisconnect(errors.New("EOF"))
	c.handleConnect()
	if c.Reconnects() != 1 {
		t.Errorf("Reconnects() = %d, want 1", c.Reconnects())
	}
	if len(fake.subscribes) != 6 {
		t.Errorf("subscribe calls = %d, want 2 initial + 2 per reconnect", len(fake.subscribes))
	}
}

func TestHealthCheck(t *testing.T) {
	c, fake := testClient()

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v", err)
	}

	fake.connected = false
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck(disconnected) error = %v", err)
	}
}

func TestClose(t *testing.T) {
	c, fake := testClient()

	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if !fake.disconnected || c.IsConnected() {
		t.Error("client still connected after Close()")
	}

	empty := &Client{}
	if err := empty.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
	if empty.IsConnected() {
		t.Error("IsConnected() = true with no client")
	}
}
