package handler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"gamehub/payment-settlement/internal/deposit"
	"gamehub/payment-settlement/internal/gateway"
	"gamehub/payment-settlement/internal/logger"
	"gamehub/payment-settlement/internal/settlement"
)

type referenceBody struct {
	Reference string `json:"reference"`
	Provider  string `json:"provider"`
}

// depositView is what a user sees of a deposit row.
type depositView struct {
	Reference string         `json:"reference"`
	Status    deposit.Status `json:"status"`
	Amount    int64          `json:"amount"`
	Display   string         `json:"amountDisplay"`
	Currency  string         `json:"currency"`
	Channel   string         `json:"channel,omitempty"`
	Credited  bool           `json:"credited"`
	SettledAt *time.Time     `json:"settledAt,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

func viewOf(d *deposit.Deposit) depositView {
	return depositView{
		Reference: d.Reference,
		Status:    d.Status,
		Amount:    d.AmountMinor,
		Display:   gateway.FromMinor(d.AmountMinor).StringFixed(2),
		Currency:  d.Currency,
		Channel:   d.Channel,
		Credited:  d.Credited(),
		SettledAt: d.SettledAt,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// VerifyPayment lets the paying user push a settle after the provider
// redirect, without waiting for the webhook.
// POST /api/v1/payments/verify
func (h *Handler) VerifyPayment(c *fiber.Ctx) error {
	userID := callerID(c)

	var body referenceBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	ref, err := deposit.NormalizeReference(body.Reference)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "reference is required"})
	}

	res, err := h.settler.Settle(c.UserContext(), settlement.Request{
		Reference: ref,
		Source:    settlement.SourceVerify,
		UserID:    userID,
		Provider:  body.Provider,
	})
	if err != nil {
		return settleError(c, ref, err)
	}
	return h.settleResponse(c, userID, res)
}

// GetPaymentStatus answers from the ledger and only asks the provider when
// the reference has never been seen.
// GET /api/v1/payments/status/:reference
func (h *Handler) GetPaymentStatus(c *fiber.Ctx) error {
	userID := callerID(c)
	ref, err := deposit.NormalizeReference(strings.Clone(c.Params("reference")))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid reference"})
	}

	ctx, cancel := h.storeCtx(c)
	d, err := h.store.Get(ctx, ref)
	cancel()
	switch {
	case err == nil:
		if d.UserID != userID {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "payment not found"})
		}
		return c.JSON(viewOf(d))
	case !errors.Is(err, deposit.ErrNotFound):
		return httpError(c, err)
	}

	res, err := h.settler.Settle(c.UserContext(), settlement.Request{
		Reference: ref,
		Source:    settlement.SourceStatus,
		UserID:    userID,
		Provider:  strings.Clone(c.Query("provider")),
	})
	if err != nil {
		return settleError(c, ref, err)
	}
	return h.settleResponse(c, userID, res)
}

// ReconcilePayment forces a settle pass for one reference and finishes a
// claimed deposit whose credit never landed.
// POST /api/v1/admin/payments/reconcile
func (h *Handler) ReconcilePayment(c *fiber.Ctx) error {
	var body referenceBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	ref, err := deposit.NormalizeReference(body.Reference)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "reference is required"})
	}
	log := logger.FromContext(c.UserContext()).With(zap.String("reference", ref))

	res, err := h.settler.Settle(c.UserContext(), settlement.Request{
		Reference: ref,
		Source:    settlement.SourceAdmin,
		Provider:  body.Provider,
	})
	if err != nil {
		return settleError(c, ref, err)
	}

	if res.Status == deposit.StatusSuccessful && !res.Credited {
		bal, applied, err := h.settler.ApplyCredit(c.UserContext(), ref, settlement.SourceAdmin)
		if err != nil {
			return settleError(c, ref, err)
		}
		res.Credited = true
		if applied {
			res.Outcome = settlement.OutcomeCredited
		}
		if bal != nil {
			res.Balance = &bal.MainBalance
		}
	}
	log.Info("admin reconcile", zap.String("outcome", string(res.Outcome)), zap.String("admin", callerID(c)))
	return c.JSON(res)
}

// settleResponse hides deposits owned by someone else and maps pending to 202.
func (h *Handler) settleResponse(c *fiber.Ctx, userID string, res *settlement.Result) error {
	if res.UserID != "" && res.UserID != userID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "payment not found"})
	}
	if res.Status == deposit.StatusPending {
		return c.Status(fiber.StatusAccepted).JSON(res)
	}
	return c.JSON(res)
}

// InitiateDeposit records the intent, then asks the provider to charge.
// POST /api/v1/payments/deposits
func (h *Handler) InitiateDeposit(c *fiber.Ctx) error {
	userID := callerID(c)

	var body struct {
		Amount   decimal.Decimal `json:"amount"`
		Currency string          `json:"currency"`
		Phone    string          `json:"phone"`
		Network  string          `json:"network"`
		Provider string          `json:"provider"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	body.Phone = strings.TrimSpace(body.Phone)
	body.Network = strings.ToLower(strings.TrimSpace(body.Network))
	amountMinor := gateway.ToMinor(body.Amount)
	if amountMinor <= 0 || body.Phone == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "phone and a positive amount are required"})
	}
	if body.Currency == "" {
		body.Currency = h.opts.DefaultCurrency
	}

	provider, err := h.gateways.Get(body.Provider)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unsupported provider"})
	}

	ref := fmt.Sprintf("DEP-%s", strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")))
	log := logger.FromContext(c.UserContext()).With(
		zap.String("reference", ref),
		zap.String("provider", provider.Name()))

	ctx, cancel := h.storeCtx(c)
	_, err = h.store.EnsurePending(ctx, deposit.Deposit{
		Reference:   ref,
		UserID:      userID,
		AmountMinor: amountMinor,
		Currency:    strings.ToUpper(body.Currency),
		Channel:     provider.Name(),
		Source:      "initiate",
	})
	cancel()
	if err != nil {
		return httpError(c, fmt.Errorf("record deposit intent: %w", err))
	}
	log.Info("deposit initiated", zap.Int64("amount_minor", amountMinor))

	started, err := provider.Initiate(c.UserContext(), gateway.InitiateRequest{
		Reference:   ref,
		UserID:      userID,
		AmountMinor: amountMinor,
		Currency:    strings.ToUpper(body.Currency),
		Phone:       body.Phone,
		Network:     body.Network,
		CallbackURL: h.opts.CallbackURL,
	})
	if err != nil {
		// The row stays pending; the poller resolves it through verify.
		log.Warn("provider initiation failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"reference": ref,
			"error":     "could not initiate payment with provider",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"reference":   ref,
		"status":      deposit.StatusPending,
		"displayText": started.DisplayText,
		"redirectUrl": started.RedirectURL,
	})
}

// GET /api/v1/payments/history
func (h *Handler) GetPaymentHistory(c *fiber.Ctx) error {
	limit := parseLimit(c.Query("limit"), 20, 100)

	ctx, cancel := h.storeCtx(c)
	defer cancel()
	rows, err := h.store.ListByUser(ctx, callerID(c), limit)
	if err != nil {
		return httpError(c, err)
	}
	items := make([]depositView, 0, len(rows))
	for i := range rows {
		items = append(items, viewOf(&rows[i]))
	}
	return c.JSON(fiber.Map{"items": items})
}

// GET /api/v1/wallet/balance
func (h *Handler) GetBalance(c *fiber.Ctx) error {
	ctx, cancel := h.storeCtx(c)
	defer cancel()
	bal, err := h.wallet.Balance(ctx, callerID(c))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(fiber.Map{
		"userId":        bal.UserID,
		"mainBalance":   bal.MainBalance,
		"display":       gateway.FromMinor(bal.MainBalance).StringFixed(2),
		"totalDeposits": bal.TotalDeposits,
		"currency":      bal.Currency,
	})
}

// GetDeposit is the service-to-service lookup.
// GET /internal/deposits/:reference
func (h *Handler) GetDeposit(c *fiber.Ctx) error {
	ref, err := deposit.NormalizeReference(strings.Clone(c.Params("reference")))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid reference"})
	}
	ctx, cancel := h.storeCtx(c)
	defer cancel()
	d, err := h.store.Get(ctx, ref)
	if errors.Is(err, deposit.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "payment not found"})
	}
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(d)
}
