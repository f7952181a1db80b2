// Package ws streams rendered notifications and delivery events to
// WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"sflnotify/internal/transport"
	logx "sflnotify/pkg/logx"
)

// Message kinds sent to clients.
const (
	KindNotification = "notification"
	KindEvent        = "event"
)

const (
	defaultBuffer = 32
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
)

var ErrClosed = errors.New("ws hub closed")

// Message is the envelope written to every client.
type Message struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub is a Presenter that fans notifications out to connected clients.
// A client whose buffer is full is disconnected.
type Hub struct {
	log      logx.Logger
	buffer   int
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

func NewHub(buffer int, log logx.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Hub{
		log:    log,
		buffer: buffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Access is gated by the API token middleware instead.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: map[*client]struct{}{},
	}
}

func (h *Hub) Name() string { return "ws" }

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Present broadcasts n. Having no clients is not an error.
func (h *Hub) Present(_ context.Context, n transport.Notification) error {
	return h.Broadcast(KindNotification, n)
}

func (h *Hub) Broadcast(kind string, data any) error {
	b, err := json.Marshal(Message{Kind: kind, Data: data})
	if err != nil {
		return transport.Permanent(err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			h.log.Warn("ws client too slow; disconnecting", logx.String("remote", c.conn.RemoteAddr().String()))
			delete(h.clients, c)
			c.close()
		}
	}
	return nil
}

// Handler upgrades the request and registers the connection.
func (h *Hub) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.log.Debug("ws upgrade failed", logx.Err(err))
			return
		}
		cl := &client{conn: conn, send: make(chan []byte, h.buffer)}

		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
			_ = conn.Close()
			return
		}
		h.clients[cl] = struct{}{}
		h.wg.Add(2)
		h.mu.Unlock()

		h.log.Debug("ws client connected", logx.String("remote", conn.RemoteAddr().String()))
		go h.writePump(cl)
		go h.readPump(cl)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

// readPump discards client input and tracks pongs.
func (h *Hub) readPump(c *client) {
	defer h.wg.Done()
	defer h.remove(c)
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer h.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// Close disconnects every client and waits for their goroutines.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
