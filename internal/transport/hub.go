package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Connection limits and keepalive timing.
const (
	DefaultMaxClients   = 10
	MaxMessageSize      = 4096
	DefaultPingInterval = 30 * time.Second
	DefaultPongWait     = 5 * time.Second
	writeWait           = 5 * time.Second
	sendBuffer          = 16
)

// Handler receives client lifecycle events and requests that need the core.
//
// HandleRequest runs on the client's read goroutine and may block; further
// frames from that client wait until it returns.
type Handler interface {
	ClientConnected(id, addr string)
	ClientDisconnected(id string)
	HandleRequest(id string, kind RequestKind, payload []byte) Message
}

// ClientInfo describes a connected client.
type ClientInfo struct {
	ID          string    `json:"id"`
	Addr        string    `json:"addr"`
	ConnectedAt time.Time `json:"connected_at"`
}

type client struct {
	info ClientInfo
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// Option configures a Hub.
type Option func(*Hub)

// WithMaxClients sets the connection limit.
func WithMaxClients(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.maxClients = n
		}
	}
}

// WithKeepalive sets the ping interval and how long to wait for the pong.
func WithKeepalive(ping, pong time.Duration) Option {
	return func(h *Hub) {
		if ping > 0 {
			h.pingInterval = ping
		}
		if pong > 0 {
			h.pongWait = pong
		}
	}
}

// Hub accepts WebSocket clients and fans messages out to them.
type Hub struct {
	handler      Handler
	log          zerolog.Logger
	maxClients   int
	pingInterval time.Duration
	pongWait     time.Duration
	upgrader     websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
}

// NewHub creates a Hub. The handler may be set later with SetHandler.
func NewHub(handler Handler, log zerolog.Logger, opts ...Option) *Hub {
	h := &Hub{
		handler:      handler,
		log:          log,
		maxClients:   DefaultMaxClients,
		pingInterval: DefaultPingInterval,
		pongWait:     DefaultPongWait,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  MaxMessageSize,
			WriteBufferSize: MaxMessageSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetHandler replaces the handler. Call before serving.
func (h *Hub) SetHandler(handler Handler) {
	h.mu.Lock()
	h.handler = handler
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ClientCount() >= h.maxClients {
		h.log.Warn().Str("remote_addr", r.RemoteAddr).Int("max", h.maxClients).Msg("rejecting client, limit reached")
		http.Error(w, ErrTooManyClients.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Str("remote_addr", r.RemoteAddr).Msg("failed to upgrade to websocket")
		return
	}

	c := &client{
		info: ClientInfo{
			ID:          uuid.NewString(),
			Addr:        r.RemoteAddr,
			ConnectedAt: time.Now(),
		},
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	handler, err := h.register(c)
	if err != nil {
		h.log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("rejecting client")
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
		return
	}

	h.log.Info().Str("client", c.info.ID).Str("remote_addr", c.info.Addr).Msg("client connected")

	go h.writePump(c)
	if handler != nil {
		handler.ClientConnected(c.info.ID, c.info.Addr)
	}
	h.readPump(c, handler)
}

func (h *Hub) register(c *client) (Handler, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) >= h.maxClients {
		return nil, ErrTooManyClients
	}
	h.clients[c.info.ID] = c
	return h.handler, nil
}

func (h *Hub) unregister(c *client) bool {
	h.mu.Lock()
	_, ok := h.clients[c.info.ID]
	delete(h.clients, c.info.ID)
	h.mu.Unlock()
	if ok {
		close(c.done)
	}
	return ok
}

func (h *Hub) readPump(c *client, handler Handler) {
	defer func() {
		if h.unregister(c) {
			c.conn.Close()
			h.log.Info().Str("client", c.info.ID).Msg("client disconnected")
			if handler != nil {
				handler.ClientDisconnected(c.info.ID)
			}
		}
	}()

	c.conn.SetReadLimit(MaxMessageSize)
	deadline := h.pingInterval + h.pongWait
	_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Str("client", c.info.ID).Msg("read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(deadline))

		kind, reply, needsCore := parseRequest(data)
		if needsCore && handler != nil {
			resp := handler.HandleRequest(c.info.ID, kind, data)
			reply = &resp
		}
		if reply != nil {
			h.enqueue(c, *reply)
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.log.Debug().Err(err).Str("client", c.info.ID).Msg("write failed")
				c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.pongWait)); err != nil {
				h.log.Debug().Err(err).Str("client", c.info.ID).Msg("ping failed")
				c.conn.Close()
				return
			}
		}
	}
}

func (h *Hub) enqueue(c *client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to encode message")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enqueueLocked(c, data)
}

func (h *Hub) enqueueLocked(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.log.Warn().Str("client", c.info.ID).Msg("send buffer full, dropping message")
	}
}

// Send queues msg for one client.
func (h *Hub) Send(id string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClient, id)
	}
	h.enqueueLocked(c, data)
	return nil
}

// Broadcast queues msg for every connected client.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to encode broadcast")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		h.enqueueLocked(c, data)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Clients lists connected clients, oldest first.
func (h *Hub) Clients() []ClientInfo {
	h.mu.Lock()
	infos := make([]ClientInfo, 0, len(h.clients))
	for _, c := range h.clients {
		infos = append(infos, c.info)
	}
	h.mu.Unlock()
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.conn.Close()
	}
}
