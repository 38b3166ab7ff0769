package handler

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"gamehub/payment-settlement/internal/deposit"
	"gamehub/payment-settlement/internal/gateway"
	"gamehub/payment-settlement/internal/logger"
	"gamehub/payment-settlement/internal/middleware"
	"gamehub/payment-settlement/internal/notify"
	"gamehub/payment-settlement/internal/settlement"
	"gamehub/payment-settlement/internal/wallet"
	"gamehub/payment-settlement/internal/webhook"
)

// Options carries the request-path settings that are not dependencies.
type Options struct {
	DefaultCurrency string
	CallbackURL     string
	StoreTimeout    time.Duration
}

type Handler struct {
	settler  *settlement.Coordinator
	store    deposit.Store
	wallet   wallet.Mutator
	gateways *gateway.Registry
	ingress  map[string]webhook.Ingress
	events   *notify.Redis
	opts     Options
}

// New wires the HTTP layer. events may be nil, in which case the websocket
// route is not mounted.
func New(settler *settlement.Coordinator, store deposit.Store, w wallet.Mutator, gateways *gateway.Registry, events *notify.Redis, opts Options, ingress ...webhook.Ingress) *Handler {
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "GHS"
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	h := &Handler{
		settler:  settler,
		store:    store,
		wallet:   w,
		gateways: gateways,
		ingress:  make(map[string]webhook.Ingress, len(ingress)),
		events:   events,
		opts:     opts,
	}
	for _, in := range ingress {
		h.ingress[in.Provider()] = in
	}
	return h
}

func (h *Handler) storeCtx(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), h.opts.StoreTimeout)
}

func callerID(c *fiber.Ctx) string {
	id, _ := c.Locals(middleware.LocalUserID).(string)
	return id
}

// settleError writes the HTTP answer for an error returned by Settle.
// A gateway that could not be reached leaves the deposit pending, so the
// caller gets 202 and is expected to ask again.
func settleError(c *fiber.Ctx, reference string, err error) error {
	var pe *settlement.PersistenceError
	switch {
	case errors.Is(err, settlement.ErrGatewayTimeout):
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"reference": reference,
			"status":    deposit.StatusPending,
			"message":   "payment still pending, try again later",
		})
	case errors.Is(err, settlement.ErrValidation), errors.Is(err, deposit.ErrInvalidReference):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, settlement.ErrNotFound), errors.Is(err, deposit.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "payment not found"})
	case errors.As(err, &pe):
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "settlement could not be completed"})
	default:
		return httpError(c, err)
	}
}

func httpError(c *fiber.Ctx, err error) error {
	logger.FromContext(c.UserContext()).Error("request failed",
		zap.String("path", c.Path()), zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
}

func parseLimit(raw string, fallback, ceiling int) int {
	if raw == "" {
		return fallback
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return fallback
	}
	if val > ceiling {
		return ceiling
	}
	return val
}
