package middleware

import (
	"strings"

	"github.com/yukihoshiii/zfh-project/internal/model"
	"github.com/yukihoshiii/zfh-project/internal/service"

	"github.com/gofiber/fiber/v2"
)

const identityKey = "identity"

// SessionValidator resolves a bearer session token.
type SessionValidator interface {
	ValidateSession(token string) (model.Identity, error)
}

// Auth requires "Authorization: Bearer <session token>" and stores the
// resolved identity in the request locals.
func Auth(sessions SessionValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := BearerToken(c)
		if !ok {
			return c.Status(401).JSON(fiber.Map{"error": "missing or malformed authorization header"})
		}

		identity, err := sessions.ValidateSession(token)
		if err != nil {
			return c.Status(401).JSON(fiber.Map{"error": service.ErrInvalidToken.Error()})
		}

		c.Locals(identityKey, identity)
		return c.Next()
	}
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(c *fiber.Ctx) (string, bool) {
	header := c.Get(fiber.HeaderAuthorization)
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", false
	}
	return token, true
}

// IdentityFrom returns the identity stored by Auth.
func IdentityFrom(c *fiber.Ctx) (model.Identity, bool) {
	identity, ok := c.Locals(identityKey).(model.Identity)
	return identity, ok
}

func AdminKey(expectedKey string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get("X-Admin-Key")
		if key == "" || key != expectedKey {
			return c.Status(403).JSON(fiber.Map{"error": "invalid admin key"})
		}
		return c.Next()
	}
}
