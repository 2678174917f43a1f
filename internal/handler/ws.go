package handler

import (
	"context"
	"log"
	"time"

	"github.com/yukihoshiii/zfh-project/internal/model"
	"github.com/yukihoshiii/zfh-project/internal/service"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

type WSHandler struct {
	hub          *service.WSHub
	router       *service.Router
	maxFrameSize int64
}

func NewWSHandler(hub *service.WSHub, router *service.Router, maxFileSize int) *WSHandler {
	// Base64 inflates by 4/3; leave room for the JSON envelope.
	return &WSHandler{hub: hub, router: router, maxFrameSize: int64(maxFileSize)*4/3 + 64*1024}
}

// Upgrade accepts anonymous connections; ?token= signs the connection in
// straight away.
func (h *WSHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("token", c.Query("token"))
		return websocket.New(h.handleConnection)(c)
	}
	return fiber.ErrUpgradeRequired
}

func (h *WSHandler) handleConnection(c *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := service.NewWSClient()
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	// Writer goroutine: exits when the hub closes the queue.
	go func() {
		defer c.Close()
		for msg := range client.Send {
			_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	if token, _ := c.Locals("token").(string); token != "" {
		if err := h.router.Resume(client, token); err != nil {
			_ = h.hub.SendTo(client, model.AuthResult{Type: model.EventAuth, Success: false, Message: err.Error()})
		}
	}

	c.SetReadLimit(h.maxFrameSize)
	_ = c.SetReadDeadline(time.Now().Add(readTimeout))
	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WS] %s read error: %v", client.ID, err)
			}
			break
		}

		_ = c.SetReadDeadline(time.Now().Add(readTimeout))
		h.router.HandleFrame(ctx, client, msg)
	}
}
