package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"gamehub/payment-settlement/internal/auth"
	"gamehub/payment-settlement/internal/logger"
)

const (
	LocalUserID = "userId"
	LocalRole   = "role"
)

func RequireAuth(validator *auth.Validator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := validator.FromHeader(c.Get("Authorization"))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}
		setClaims(c, claims)
		return c.Next()
	}
}

// RequireRole must run after RequireAuth.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		got, _ := c.Locals(LocalRole).(string)
		if !strings.EqualFold(got, role) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden"})
		}
		return c.Next()
	}
}

func RequireInternalKey(key string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		got := c.Get("X-Internal-Key")
		if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden"})
		}
		return c.Next()
	}
}

// UpgradeWS authenticates a websocket handshake from the token query
// parameter or the Authorization header.
func UpgradeWS(validator *auth.Validator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		var (
			claims *auth.Claims
			err    error
		)
		if token := strings.TrimSpace(c.Query("token")); token != "" {
			claims, err = validator.Parse(token)
		} else {
			claims, err = validator.FromHeader(c.Get("Authorization"))
		}
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing or invalid token"})
		}
		setClaims(c, claims)
		return c.Next()
	}
}

// RequestID tags the request context with a trace id, reusing X-Request-ID
// when the caller sent one.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := strings.TrimSpace(c.Get(fiber.HeaderXRequestID))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(fiber.HeaderXRequestID, id)
		c.SetUserContext(logger.ContextWithTraceID(c.UserContext(), id))
		return c.Next()
	}
}

func setClaims(c *fiber.Ctx, claims *auth.Claims) {
	c.Locals(LocalUserID, claims.UserID)
	c.Locals(LocalRole, claims.Role)
	c.SetUserContext(logger.ContextWithUserID(c.UserContext(), claims.UserID))
}
