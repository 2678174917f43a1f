package handler

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/yukihoshiii/zfh-project/internal/middleware"
	"github.com/yukihoshiii/zfh-project/internal/model"
	"github.com/yukihoshiii/zfh-project/internal/service"

	"github.com/gofiber/fiber/v2"
)

// ChatHandler is the polling and REST surface over the same router the
// WebSocket transport uses. All routes sit behind middleware.Auth.
type ChatHandler struct {
	router     *service.Router
	channels   *service.ChannelRegistry
	store      *service.Store
	reconciler *service.Reconciler
}

func NewChatHandler(router *service.Router, channels *service.ChannelRegistry, store *service.Store, reconciler *service.Reconciler) *ChatHandler {
	return &ChatHandler{router: router, channels: channels, store: store, reconciler: reconciler}
}

type createChannelRequest struct {
	ChannelName string `json:"channelName"`
}

type privateChatRequest struct {
	TargetUser string `json:"targetUser"`
}

type postMessageRequest struct {
	Message string `json:"message"`
}

type postFileRequest struct {
	Filename string `json:"filename"`
	FileData string `json:"fileData"`
}

// ListChannels returns the channels the caller can see.
// GET /api/v1/channels
func (h *ChatHandler) ListChannels(c *fiber.Ctx) error {
	identity, _ := middleware.IdentityFrom(c)
	channels := h.channels.ListVisible(identity.Username)
	if channels == nil {
		channels = []model.Channel{}
	}
	return c.JSON(fiber.Map{"channels": channels})
}

// CreateChannel adds a public channel. Admins only.
// POST /api/v1/channels
func (h *ChatHandler) CreateChannel(c *fiber.Ctx) error {
	identity, _ := middleware.IdentityFrom(c)

	var req createChannelRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	ch, err := h.router.CreateChannel(c.Context(), identity, req.ChannelName)
	if err != nil {
		return serviceError(c, err)
	}
	return c.Status(201).JSON(fiber.Map{"success": true, "channel": ch})
}

// OpenPrivateChat returns the pairwise channel with targetUser.
// POST /api/v1/private-chat
func (h *ChatHandler) OpenPrivateChat(c *fiber.Ctx) error {
	identity, _ := middleware.IdentityFrom(c)

	var req privateChatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	ch, created, err := h.router.OpenPrivateChat(c.Context(), identity, req.TargetUser)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "chatId": ch.Name, "created": created})
}

// ListMessages returns the full channel history in append order.
// GET /api/v1/channels/:channel/messages
func (h *ChatHandler) ListMessages(c *fiber.Ctx) error {
	identity, _ := middleware.IdentityFrom(c)
	channel, err := channelParam(c)
	if err != nil {
		return serviceError(c, err)
	}

	if err := h.channels.Visible(channel, identity.Username); err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"messages": h.store.ListMessages(channel)})
}

// LastMessages returns the reconcile window.
// GET /api/v1/channels/:channel/messages/last5
func (h *ChatHandler) LastMessages(c *fiber.Ctx) error {
	identity, _ := middleware.IdentityFrom(c)
	channel, err := channelParam(c)
	if err != nil {
		return serviceError(c, err)
	}

	msgs, err := h.reconciler.LastN(identity, channel)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"messages": msgs})
}

// PostMessage sends a text message. Commands are WebSocket only.
// POST /api/v1/channels/:channel/messages
func (h *ChatHandler) PostMessage(c *fiber.Ctx) error {
	identity, _ := middleware.IdentityFrom(c)
	channel, err := channelParam(c)
	if err != nil {
		return serviceError(c, err)
	}

	var req postMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if strings.HasPrefix(strings.TrimSpace(req.Message), "/") {
		return c.Status(400).JSON(fiber.Map{"error": "commands are only available over the websocket"})
	}

	msg, err := h.router.SendMessage(c.Context(), identity, channel, req.Message, 0)
	if err != nil {
		return serviceError(c, err)
	}
	return c.Status(201).JSON(msg)
}

// PostFile uploads a base64 attachment.
// POST /api/v1/channels/:channel/files
func (h *ChatHandler) PostFile(c *fiber.Ctx) error {
	identity, _ := middleware.IdentityFrom(c)
	channel, err := channelParam(c)
	if err != nil {
		return serviceError(c, err)
	}

	var req postFileRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	msg, err := h.router.PostFile(c.Context(), identity, channel, req.Filename, req.FileData)
	if err != nil {
		return serviceError(c, err)
	}
	return c.Status(201).JSON(msg)
}

// DeleteMessage removes a message by id, within the matching tolerance.
// DELETE /api/v1/channels/:channel/messages/:id
func (h *ChatHandler) DeleteMessage(c *fiber.Ctx) error {
	identity, _ := middleware.IdentityFrom(c)
	channel, err := channelParam(c)
	if err != nil {
		return serviceError(c, err)
	}
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "message id must be an integer"})
	}

	msg, err := h.router.DeleteMessage(c.Context(), identity, channel, id)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "messageId": msg.Timestamp})
}

// Reconcile returns what a polling client must add and drop.
// POST /api/v1/channels/:channel/reconcile
func (h *ChatHandler) Reconcile(c *fiber.Ctx) error {
	identity, _ := middleware.IdentityFrom(c)
	channel, err := channelParam(c)
	if err != nil {
		return serviceError(c, err)
	}

	var req model.ReconcileRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	delta, err := h.reconciler.Reconcile(c.Context(), identity, channel, req.Known)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(delta)
}

// DownloadFile streams an attachment. ?name= sets the download name.
// GET /api/v1/files/:fileId
func (h *ChatHandler) DownloadFile(c *fiber.Ctx) error {
	data, err := h.router.OpenFile(c.Context(), c.Params("fileId"))
	if err != nil {
		return serviceError(c, err)
	}

	name := c.Query("name")
	if name == "" {
		name = c.Params("fileId")
	}
	c.Attachment(name)
	return c.Send(data)
}

func channelParam(c *fiber.Ctx) (string, error) {
	channel, err := url.PathUnescape(c.Params("channel"))
	if err != nil || channel == "" {
		return "", service.ErrMalformedInput
	}
	return channel, nil
}
