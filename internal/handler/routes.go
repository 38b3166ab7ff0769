package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"gamehub/payment-settlement/internal/auth"
	"gamehub/payment-settlement/internal/middleware"
)

// Routes mounts every endpoint on app. Webhooks carry their own signature
// checks and sit outside JWT auth.
func (h *Handler) Routes(app *fiber.App, validator *auth.Validator, internalKey string) {
	hooks := app.Group("/webhooks/payment")
	for provider := range h.ingress {
		hooks.Post("/"+provider, h.Webhook(provider))
	}

	api := app.Group("/api/v1", middleware.RequireAuth(validator))
	api.Post("/payments/verify", h.VerifyPayment)
	api.Get("/payments/status/:reference", h.GetPaymentStatus)
	api.Post("/payments/deposits", h.InitiateDeposit)
	api.Get("/payments/history", h.GetPaymentHistory)
	api.Get("/wallet/balance", h.GetBalance)

	admin := api.Group("/admin", middleware.RequireRole(auth.RoleAdmin))
	admin.Post("/payments/reconcile", h.ReconcilePayment)

	internal := app.Group("/internal", middleware.RequireInternalKey(internalKey))
	internal.Get("/deposits/:reference", h.GetDeposit)

	if h.events != nil {
		app.Get("/ws/payments", middleware.UpgradeWS(validator), websocket.New(h.PaymentEvents))
	}
}
