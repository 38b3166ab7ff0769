package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gamehub/payment-settlement/internal/auth"
	"gamehub/payment-settlement/internal/auth/authtest"
	"gamehub/payment-settlement/internal/logger"
)

func newApp(t *testing.T) (*fiber.App, *authtest.Signer) {
	t.Helper()
	signer := authtest.NewSigner(t)
	v := signer.Validator(t)

	app := fiber.New()
	app.Use(RequestID())
	app.Get("/me", RequireAuth(v), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"userId": c.Locals(LocalUserID),
			"trace":  logger.TraceIDFromContext(c.UserContext()),
		})
	})
	app.Get("/admin", RequireAuth(v), RequireRole(auth.RoleAdmin), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	app.Get("/internal", RequireInternalKey("svc-key"), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app, signer
}

func do(t *testing.T, app *fiber.App, req *http.Request) *http.Response {
	t.Helper()
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestRequireAuth(t *testing.T) {
	app, signer := newApp(t)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	assert.Equal(t, fiber.StatusUnauthorized, do(t, app, req).StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+signer.Token(t, "u1", ""))
	req.Header.Set(fiber.HeaderXRequestID, "req-42")
	resp := do(t, app, req)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "req-42", resp.Header.Get(fiber.HeaderXRequestID))
}

func TestRequestIDGenerated(t *testing.T) {
	app, signer := newApp(t)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+signer.Token(t, "u1", ""))
	resp := do(t, app, req)
	assert.Len(t, resp.Header.Get(fiber.HeaderXRequestID), 36)
}

func TestRequireRole(t *testing.T) {
	app, signer := newApp(t)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+signer.Token(t, "u1", "player"))
	assert.Equal(t, fiber.StatusForbidden, do(t, app, req).StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+signer.Token(t, "ops", auth.RoleAdmin))
	assert.Equal(t, fiber.StatusNoContent, do(t, app, req).StatusCode)
}

func TestRequireInternalKey(t *testing.T) {
	app, _ := newApp(t)

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	assert.Equal(t, fiber.StatusForbidden, do(t, app, req).StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/internal", nil)
	req.Header.Set("X-Internal-Key", "svc-key")
	assert.Equal(t, fiber.StatusNoContent, do(t, app, req).StatusCode)
}
