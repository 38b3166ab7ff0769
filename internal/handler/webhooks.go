package handler

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"gamehub/payment-settlement/internal/logger"
	"gamehub/payment-settlement/internal/metrics"
	"gamehub/payment-settlement/internal/settlement"
)

// Webhook returns the receiver for one provider's push notifications.
// Once the signature checks out the provider always gets a 200, whatever the
// settlement outcome; a failed settle is left for the poller.
// POST /webhooks/payment/:provider
func (h *Handler) Webhook(provider string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		in, ok := h.ingress[provider]
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown provider"})
		}
		log := logger.FromContext(c.UserContext()).With(zap.String("provider", provider))

		body := c.Body()
		if err := in.Authenticate(c.Get(in.SignatureHeader()), body); err != nil {
			metrics.WebhooksTotal.WithLabelValues(provider, "unauthorized").Inc()
			log.Warn("webhook signature rejected")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid signature"})
		}

		ev, err := in.Parse(body)
		if err != nil {
			metrics.WebhooksTotal.WithLabelValues(provider, "malformed").Inc()
			log.Warn("webhook payload rejected", zap.Error(err))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed payload"})
		}
		if !ev.Settles {
			metrics.WebhooksTotal.WithLabelValues(provider, "ignored").Inc()
			log.Debug("webhook event ignored", zap.String("event", ev.Type), zap.String("reference", ev.Reference))
			return c.JSON(fiber.Map{"status": "ignored"})
		}

		res, err := h.settler.Settle(c.UserContext(), settlement.Request{
			Reference: ev.Reference,
			Source:    settlement.SourceWebhook,
			Trusted:   ev.Result,
			UserID:    ev.Result.UserID,
			Provider:  provider,
		})
		if err != nil {
			metrics.WebhooksTotal.WithLabelValues(provider, "error").Inc()
			log.Error("webhook settlement failed",
				zap.String("event", ev.Type),
				zap.String("reference", ev.Reference),
				zap.Error(err))
			return c.JSON(fiber.Map{"status": "received"})
		}

		metrics.WebhooksTotal.WithLabelValues(provider, string(res.Outcome)).Inc()
		log.Info("webhook settled",
			zap.String("reference", res.Reference),
			zap.String("outcome", string(res.Outcome)))
		return c.JSON(fiber.Map{"status": "received"})
	}
}

