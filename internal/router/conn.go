package router

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrBackpressure is returned by a connection whose outbound queue is
// full. The router logs and drops the frame; the slow client will be
// disconnected by the write deadline soon after.
var ErrBackpressure = errors.New("send queue full")

// WSOptions tunes the websocket endpoint. Zero values fall back to
// defaults matching the config package.
type WSOptions struct {
	// WriteTimeout is the per-message write deadline.
	WriteTimeout time.Duration
	// PongWait is how long the peer may stay silent. Pings are sent at
	// 9/10 of this interval.
	PongWait time.Duration
	// ReadLimit is the maximum inbound message size in bytes.
	ReadLimit int64
	// SendBuffer is the outbound queue length per connection.
	SendBuffer int
}

func (o WSOptions) withDefaults() WSOptions {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 65536
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	return o
}

// WSHandler upgrades HTTP requests to websocket connections and runs
// the per-connection read/write loops on behalf of the Router.
type WSHandler struct {
	router   *Router
	opts     WSOptions
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates the websocket endpoint handler.
//
// Precondition: r and logger must be non-nil.
func NewWSHandler(r *Router, opts WSOptions, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		router: r,
		opts:   opts.withDefaults(),
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Rooms are joined by unguessable id, not by origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and services the connection until the
// peer goes away. The router's Detach, and therefore leaveRoom, is
// called exactly once per connection.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	connID := uuid.NewString()
	client := newWSClient(conn, h.opts)
	h.router.Attach(connID, client)

	go client.writePump()

	conn.SetReadLimit(h.opts.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		h.router.HandleMessage(connID, data)
	}

	h.router.Detach(connID)
	client.close()
}

// wsClient is one websocket transport endpoint. Frames are queued on a
// buffered channel and drained by writePump so that broadcasts never
// block on a slow peer.
type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	opts   WSOptions
	mu     sync.Mutex
	closed bool
}

func newWSClient(conn *websocket.Conn, opts WSOptions) *wsClient {
	return &wsClient{
		conn: conn,
		send: make(chan []byte, opts.SendBuffer),
		opts: opts,
	}
}

// Send queues a frame for delivery. It never blocks.
//
// Postcondition: The frame is enqueued, or an error if the connection
// is closed or the queue is full.
func (c *wsClient) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

// close releases the send queue; writePump closes the underlying
// connection when the queue drains. Idempotent.
func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// writePump drains the send queue to the network and keeps the
// connection alive with periodic pings.
func (c *wsClient) writePump() {
	pingPeriod := c.opts.PongWait * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
