package handler

import (
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"groupride/internal/stream"
)

const (
	keepAliveInterval = 25 * time.Second
	pongWait          = 60 * time.Second
	writeWait         = 10 * time.Second
)

// EventsHandler streams ride notifications to live clients.
type EventsHandler struct {
	hub      *stream.Hub
	upgrader websocket.Upgrader
}

// NewEventsHandler creates a new EventsHandler. Websocket upgrades are
// accepted from allowedOrigins; "*" accepts any origin.
func NewEventsHandler(hub *stream.Hub, allowedOrigins []string) *EventsHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &EventsHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed["*"] || allowed[origin]
			},
		},
	}
}

// Stream handles GET /v1/rides/:id/events as server-sent events.
func (h *EventsHandler) Stream(c *gin.Context) {
	client, err := h.hub.Register(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	defer h.hub.Unregister(client)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-client.Send:
			if !ok {
				return false
			}
			c.SSEvent("notification", string(msg))
			return true
		case <-keepAlive.C:
			c.SSEvent("ping", "")
			return true
		}
	})
}

// Websocket handles GET /v1/rides/:id/ws.
func (h *EventsHandler) Websocket(c *gin.Context) {
	rideID := c.Param("id")
	client, err := h.hub.Register(rideID)
	if err != nil {
		respondError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[STREAM] ride=%s upgrade failed: %v", rideID, err)
		h.hub.Unregister(client)
		return
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(keepAliveInterval)
	defer func() {
		ping.Stop()
		h.hub.Unregister(client)
		_ = conn.Close()
	}()

	for {
		select {
		case <-closed:
			return
		case msg, ok := <-client.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Printf("[STREAM] ride=%s write failed: %v", rideID, err)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
