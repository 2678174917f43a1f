package handler

import (
	"errors"
	"log"

	"github.com/yukihoshiii/zfh-project/internal/middleware"
	"github.com/yukihoshiii/zfh-project/internal/model"
	"github.com/yukihoshiii/zfh-project/internal/service"

	"github.com/gofiber/fiber/v2"
)

type AuthHandler struct {
	authSvc  *service.AuthService
	channels *service.ChannelRegistry
}

func NewAuthHandler(authSvc *service.AuthService, channels *service.ChannelRegistry) *AuthHandler {
	return &AuthHandler{authSvc: authSvc, channels: channels}
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req model.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	if req.Username == "" || req.Password == "" {
		return c.Status(400).JSON(fiber.Map{"error": "username and password are required"})
	}

	identity, err := h.authSvc.Register(c.Context(), &req)
	if err != nil {
		return serviceError(c, err)
	}

	return c.Status(201).JSON(fiber.Map{"success": true, "username": identity.Username, "role": identity.Role})
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req model.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	if req.Username == "" || req.Password == "" {
		return c.Status(400).JSON(fiber.Map{"error": "username and password are required"})
	}

	token, identity, err := h.authSvc.Login(c.Context(), &req)
	if err != nil {
		return serviceError(c, err)
	}

	return c.JSON(model.AuthResponse{
		SessionToken: token,
		Username:     identity.Username,
		Role:         identity.Role,
		Channels:     h.channels.ListVisible(identity.Username),
	})
}

// Logout accepts the token as bearer header or in the body. Always succeeds.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	token, ok := middleware.BearerToken(c)
	if !ok {
		var req model.LogoutRequest
		if err := c.BodyParser(&req); err == nil {
			token = req.SessionToken
		}
	}

	if token != "" {
		_ = h.authSvc.Logout(token)
	}

	return c.JSON(fiber.Map{"success": true})
}

// Session validates a bearer token for collaborators that only need the identity.
func (h *AuthHandler) Session(c *fiber.Ctx) error {
	token, ok := middleware.BearerToken(c)
	if !ok {
		return c.Status(401).JSON(model.SessionResponse{Valid: false})
	}

	identity, err := h.authSvc.ValidateSession(token)
	if err != nil {
		return c.Status(401).JSON(model.SessionResponse{Valid: false})
	}

	return c.JSON(model.SessionResponse{Valid: true, Username: identity.Username, Role: identity.Role})
}

// serviceError maps service failures onto HTTP statuses.
func serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		return c.Status(401).JSON(fiber.Map{"error": "invalid credentials"})
	case errors.Is(err, service.ErrInvalidToken), errors.Is(err, service.ErrUnauthenticated):
		return c.Status(401).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, service.ErrForbidden):
		return c.Status(403).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		return c.Status(404).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, service.ErrUserExists), errors.Is(err, service.ErrConflict):
		return c.Status(409).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, service.ErrPayloadTooLarge):
		return c.Status(413).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, service.ErrMalformedInput),
		errors.Is(err, service.ErrWeakPassword),
		errors.Is(err, service.ErrInvalidUsername):
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	default:
		log.Printf("[HTTP] %s %s: %v", c.Method(), c.Path(), err)
		return c.Status(500).JSON(fiber.Map{"error": "internal server error"})
	}
}
