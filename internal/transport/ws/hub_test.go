package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"sflnotify/internal/render"
	"sflnotify/internal/transport"
	logx "sflnotify/pkg/logx"
)

func init() { gin.SetMode(gin.TestMode) }

func dial(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	r := gin.New()
	r.GET("/ws", h.Handler())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	deadline := time.Now().Add(5 * time.Second)
	for h.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestHubPresent(t *testing.T) {
	h := NewHub(4, logx.Nop())
	conn := dial(t, h)

	n := transport.Notification{
		DeliveryID: "d1",
		Rendered:   render.Rendered{ID: 3, Title: "Sunflower is ready!", Body: "1 Sunflower"},
	}
	if err := h.Present(context.Background(), n); err != nil {
		t.Fatalf("Present: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg struct {
		Kind string                 `json:"kind"`
		Data transport.Notification `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Kind != KindNotification || msg.Data.DeliveryID != "d1" || msg.Data.Rendered.Title != "Sunflower is ready!" {
		t.Fatalf("message = %+v", msg)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.Broadcast(KindEvent, "late"); err != ErrClosed {
		t.Fatalf("Broadcast after Close = %v, want ErrClosed", err)
	}
}

func TestHubNoClients(t *testing.T) {
	t.Parallel()
	h := NewHub(0, logx.Nop())
	if err := h.Present(context.Background(), transport.Notification{}); err != nil {
		t.Fatalf("Present without clients = %v", err)
	}
	if h.Name() != "ws" {
		t.Fatalf("Name = %q", h.Name())
	}
}
