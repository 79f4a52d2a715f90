package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/homesync/internal/device"
	"github.com/nerrad567/homesync/internal/infrastructure/config"
	"github.com/nerrad567/homesync/internal/infrastructure/logging"
)

// Frame types exchanged with dashboard clients.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// Event channels a client may subscribe to.
const (
	// ChannelStateChanged carries device.State after every store write.
	ChannelStateChanged = "device.state_changed"
	// ChannelAccessDecided carries device.AccessEvent after every access decision.
	ChannelAccessDecided = "access.decided"
)

var knownChannels = map[string]bool{
	ChannelStateChanged:  true,
	ChannelAccessDecided: true,
}

// wsSendBufferSize is how many frames may queue for one client before it is
// dropped as too slow.
const wsSendBufferSize = 64

// WSMessage is the JSON frame sent to clients. Clients send the same shape;
// subscribe and unsubscribe carry WSSubscribePayload.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload lists channel names.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// wsCommand is an inbound frame. Payload is decoded in one pass.
type wsCommand struct {
	Type    string             `json:"type"`
	ID      string             `json:"id"`
	Payload WSSubscribePayload `json:"payload"`
}

// Hub fans bridge notifications out to connected dashboard clients.
// It implements the bridge's Notifier; StateChanged and AccessDecided never
// block on a client.
type Hub struct {
	timing wsTiming
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// wsTiming holds the keepalive durations derived from config.
type wsTiming struct {
	readLimit int64
	ping      time.Duration
	pongWait  time.Duration
}

func newWSTiming(cfg config.WebSocketConfig) wsTiming {
	t := wsTiming{
		readLimit: int64(cfg.MaxMessageSize),
		ping:      time.Duration(cfg.PingInterval) * time.Second,
		pongWait:  time.Duration(cfg.PongTimeout) * time.Second,
	}
	if t.readLimit <= 0 {
		t.readLimit = 8192
	}
	if t.ping <= 0 {
		t.ping = 30 * time.Second
	}
	if t.pongWait <= 0 {
		t.pongWait = 10 * time.Second
	}
	return t
}

// readDeadline is how long a connection may stay silent, pongs included.
func (t wsTiming) readDeadline() time.Time {
	return time.Now().Add(t.ping + t.pongWait)
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		timing:  newWSTiming(cfg),
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx ends, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.shutdown()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// StateChanged implements bridge.Notifier.
func (h *Hub) StateChanged(st device.State) {
	h.Broadcast(ChannelStateChanged, st)
}

// AccessDecided implements bridge.Notifier.
func (h *Hub) AccessDecided(ev device.AccessEvent) {
	h.Broadcast(ChannelAccessDecided, ev)
}

// Broadcast sends payload to every client subscribed to channel. A client
// whose buffer is full is disconnected.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := encodeFrame(WSMessage{Type: WSTypeEvent, EventType: channel, Payload: payload})
	if err != nil {
		h.logger.Error("encoding websocket event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	var targets, slow []*WSClient
	for c := range h.clients {
		if c.subscribed(channel) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.enqueue(data) {
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		h.logger.Warn("dropping slow websocket client", "subject", c.subject)
		h.remove(c)
	}
}

func (h *Hub) add(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "subject", c.subject, "clients", n)
}

// remove detaches c and closes its send queue. Safe to call more than once.
func (h *Hub) remove(c *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.shutdown()
		h.logger.Debug("websocket client disconnected", "subject", c.subject, "clients", n)
	}
}

// WSClient is one dashboard connection.
type WSClient struct {
	hub     *Hub
	conn    *websocket.Conn
	subject string

	mu       sync.Mutex
	channels map[string]struct{}
	send     chan []byte
	closed   bool
}

func (c *WSClient) subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[channel]
	return ok
}

// enqueue queues a frame without blocking. It reports false only when the
// queue is full; frames for a closed client are discarded.
func (c *WSClient) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// shutdown closes the send queue, which makes writePump send a close frame
// and drop the connection.
func (c *WSClient) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// subscribe adds channels and returns any unknown names, which are skipped.
func (c *WSClient) subscribe(channels []string) (unknown []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		if !knownChannels[ch] {
			unknown = append(unknown, ch)
			continue
		}
		c.channels[ch] = struct{}{}
	}
	return unknown
}

func (c *WSClient) unsubscribe(channels []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		delete(c.channels, ch)
	}
}

// handleWebSocket upgrades an authenticated request. Clients may pass
// ?channels=a,b to subscribe on connect.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// CORS middleware owns origin policy.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	hub := s.Hub()
	c := &WSClient{
		hub:      hub,
		conn:     conn,
		subject:  subject(r),
		channels: make(map[string]struct{}),
		send:     make(chan []byte, wsSendBufferSize),
	}
	if q := r.URL.Query().Get("channels"); q != "" {
		c.subscribe(strings.Split(q, ","))
	}

	hub.add(c)
	go c.writePump()
	go c.readPump()
}

func (c *WSClient) readPump() {
	t := c.hub.timing
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(t.readLimit)
	c.conn.SetReadDeadline(t.readDeadline()) //nolint:errcheck // read error surfaces below
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(t.readDeadline())
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "subject", c.subject, "error", err)
			}
			return
		}
		// Browsers that ignore protocol pings keep the connection alive by talking.
		c.conn.SetReadDeadline(t.readDeadline()) //nolint:errcheck // read error surfaces above
		c.handleCommand(data)
	}
}

func (c *WSClient) writePump() {
	t := c.hub.timing
	ticker := time.NewTicker(t.ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(t.pongWait)) //nolint:errcheck // write error surfaces below
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(t.pongWait)) //nolint:errcheck // write error surfaces below
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleCommand(data []byte) {
	var cmd wsCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		c.reply("", WSTypeError, map[string]string{"message": "invalid JSON message"})
		return
	}

	switch cmd.Type {
	case WSTypeSubscribe:
		if len(cmd.Payload.Channels) == 0 {
			c.reply(cmd.ID, WSTypeError, map[string]string{"message": "no channels given"})
			return
		}
		unknown := c.subscribe(cmd.Payload.Channels)
		if len(unknown) > 0 {
			c.reply(cmd.ID, WSTypeError, map[string]any{"message": "unknown channels", "channels": unknown})
			return
		}
		c.hub.logger.Debug("websocket client subscribed", "subject", c.subject, "channels", cmd.Payload.Channels)
		c.reply(cmd.ID, WSTypeResponse, map[string]any{"subscribed": cmd.Payload.Channels})
	case WSTypeUnsubscribe:
		c.unsubscribe(cmd.Payload.Channels)
		c.reply(cmd.ID, WSTypeResponse, map[string]any{"unsubscribed": cmd.Payload.Channels})
	case WSTypePing:
		c.reply(cmd.ID, WSTypePong, nil)
	default:
		c.reply(cmd.ID, WSTypeError, map[string]string{"message": "unknown message type: " + cmd.Type})
	}
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := encodeFrame(WSMessage{Type: msgType, ID: id, Payload: payload})
	if err != nil {
		return
	}
	if !c.enqueue(data) {
		c.hub.remove(c)
	}
}

// encodeFrame stamps msg with the current UTC time and marshals it.
func encodeFrame(msg WSMessage) ([]byte, error) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	return json.Marshal(msg)
}
