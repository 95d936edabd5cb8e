package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-wiz/internal/bridges/wiz"
	"github.com/nerrad567/gray-logic-wiz/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-wiz/internal/infrastructure/logging"
)

// Frame types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// ChannelFixtureState streams every fixture's state. Subscribe to
// "fixture.state:<address>" instead to follow one fixture.
const ChannelFixtureState = "fixture.state"

// Frames queued beyond this are dropped for that client.
const wsQueueLen = 256

// WSMessage is one frame on the stream, in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload names the channels of a subscribe or unsubscribe frame.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// inboundFrame defers payload decoding until the type is known.
type inboundFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Hub fans bridge state out to websocket clients.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn  *websocket.Conn
	queue chan []byte

	gone     chan struct{}
	goneOnce sync.Once

	mu       sync.RWMutex
	channels map[string]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are checked by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates a hub for state stream clients. Call Run to tie its
// lifetime to a context.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{cfg: cfg, logger: logger, clients: make(map[*wsClient]struct{})}
}

// Run disconnects every client once ctx is done.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// PublishState delivers msg once to every client following either the
// fixture's own channel or the catch-all channel. The event type names the
// channel that matched, preferring the per-fixture one.
func (h *Hub) PublishState(msg wiz.StateMessage) {
	own := ChannelFixtureState + ":" + msg.Address
	var ownFrame, allFrame []byte

	for _, c := range h.snapshot() {
		var frame []byte
		switch {
		case c.follows(own):
			if ownFrame == nil {
				ownFrame = h.eventFrame(own, msg)
			}
			frame = ownFrame
		case c.follows(ChannelFixtureState):
			if allFrame == nil {
				allFrame = h.eventFrame(ChannelFixtureState, msg)
			}
			frame = allFrame
		default:
			continue
		}
		if frame != nil {
			c.enqueue(frame)
		}
	}
}

func (h *Hub) eventFrame(channel string, payload any) []byte {
	data, err := encodeFrame(WSMessage{Type: WSTypeEvent, EventType: channel, Payload: payload})
	if err != nil {
		h.logger.Error("encoding websocket event", "channel", channel, "error", err)
		return nil
	}
	return data
}

func (h *Hub) snapshot() []*wsClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.close()
	h.logger.Debug("websocket client disconnected", "clients", n)
}

func (h *Hub) closeAll() {
	for _, c := range h.snapshot() {
		h.remove(c)
	}
}

// handleWebSocket upgrades the request. A new client receives nothing
// until it subscribes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		conn:     conn,
		queue:    make(chan []byte, wsQueueLen),
		gone:     make(chan struct{}),
		channels: make(map[string]struct{}),
	}
	s.hub.add(c)

	go c.writeLoop(s.wsCfg)
	go func() {
		c.readLoop(s.wsCfg, s.logger)
		s.hub.remove(c)
	}()
}

func (c *wsClient) close() {
	c.goneOnce.Do(func() {
		close(c.gone)
		c.conn.Close()
	})
}

// enqueue drops the frame if the client is slow or already gone.
func (c *wsClient) enqueue(frame []byte) {
	select {
	case <-c.gone:
	case c.queue <- frame:
	default:
	}
}

func (c *wsClient) follows(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[channel]
	return ok
}

func (c *wsClient) readLoop(cfg config.WebSocketConfig, logger *logging.Logger) {
	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	_ = c.conn.SetReadDeadline(time.Now().Add(idle))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(idle))
		c.handleFrame(data)
	}
}

func (c *wsClient) writeLoop(cfg config.WebSocketConfig) {
	ping := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer ping.Stop()
	wait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		var (
			kind = websocket.TextMessage
			data []byte
		)
		select {
		case <-c.gone:
			return
		case data = <-c.queue:
		case <-ping.C:
			kind = websocket.PingMessage
		}

		_ = c.conn.SetWriteDeadline(time.Now().Add(wait))
		if err := c.conn.WriteMessage(kind, data); err != nil {
			c.close()
			return
		}
	}
}

func (c *wsClient) handleFrame(data []byte) {
	var in inboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		c.reply("", WSTypeError, errorPayload("malformed frame"))
		return
	}

	switch in.Type {
	case WSTypePing:
		c.reply(in.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var p WSSubscribePayload
		if len(in.Payload) == 0 || json.Unmarshal(in.Payload, &p) != nil || len(p.Channels) == 0 {
			c.reply(in.ID, WSTypeError, errorPayload(in.Type+" needs a non-empty channels list"))
			return
		}
		c.setChannels(p.Channels, in.Type == WSTypeSubscribe)
		c.reply(in.ID, WSTypeResponse, map[string]any{in.Type + "d": p.Channels})
	default:
		c.reply(in.ID, WSTypeError, errorPayload("unknown frame type "+strings.TrimSpace(in.Type)))
	}
}

func (c *wsClient) setChannels(channels []string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		if on {
			c.channels[ch] = struct{}{}
		} else {
			delete(c.channels, ch)
		}
	}
}

func (c *wsClient) reply(id, kind string, payload any) {
	if data, err := encodeFrame(WSMessage{Type: kind, ID: id, Payload: payload}); err == nil {
		c.enqueue(data)
	}
}

func encodeFrame(m WSMessage) ([]byte, error) {
	m.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return json.Marshal(m)
}

func errorPayload(message string) map[string]string {
	return map[string]string{"message": message}
}
