package handler

import (
	"strings"

	"github.com/yukihoshiii/zfh-project/internal/model"
	"github.com/yukihoshiii/zfh-project/internal/service"

	"github.com/gofiber/fiber/v2"
)

type AdminHandler struct {
	store  *service.Store
	hub    *service.WSHub
	router *service.Router
	auth   *service.AuthService
}

func NewAdminHandler(store *service.Store, hub *service.WSHub, router *service.Router, auth *service.AuthService) *AdminHandler {
	return &AdminHandler{store: store, hub: hub, router: router, auth: auth}
}

func (h *AdminHandler) Stats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"store":           h.store.Stats(),
		"online":          h.hub.OnlineCount(),
		"joined":          h.hub.ChannelCounts(),
		"active_sessions": h.auth.ActiveSessions(),
	})
}

func (h *AdminHandler) Announce(c *fiber.Ctx) error {
	var req model.WSAnnounce
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	if strings.TrimSpace(req.Message) == "" {
		return c.Status(400).JSON(fiber.Map{"error": "message is required"})
	}

	delivered := h.router.Announce(req.Message)
	return c.JSON(fiber.Map{"ok": true, "delivered": delivered, "online": h.hub.OnlineCount()})
}
