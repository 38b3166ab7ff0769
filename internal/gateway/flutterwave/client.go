package flutterwave

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"gamehub/payment-settlement/internal/gateway"
	"gamehub/payment-settlement/internal/logger"
)

const (
	Name       = "flutterwave"
	maxRetries = 2
)

// Client wraps the Flutterwave mobile-money charge and verify endpoints.
type Client struct {
	secretKey  string
	baseURL    string
	httpClient *http.Client
	simulate   bool
	backoff    time.Duration
}

func NewClient(secretKey, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "https://api.flutterwave.com"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		secretKey:  secretKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		backoff:    500 * time.Millisecond,
	}
}

func (c *Client) Name() string { return Name }

// Simulate lets a client without a secret key answer locally: every charge
// is accepted and every verify reports success. Never enable it where real
// balances are at stake.
func (c *Client) Simulate() *Client {
	c.simulate = true
	return c
}

func (c *Client) configured(ctx context.Context, reference string) error {
	if c.secretKey != "" || c.simulate {
		return nil
	}
	logger.FromContext(ctx).Error("flutterwave called without a secret key", zap.String("reference", reference))
	return &gateway.RetryableError{Provider: Name, Err: gateway.ErrNotConfigured}
}

// Transaction is Flutterwave's transaction object as returned by
// verify_by_reference and carried in charge.completed webhooks. Amounts are
// in major units.
type Transaction struct {
	ID       int64           `json:"id"`
	TxRef    string          `json:"tx_ref"`
	FlwRef   string          `json:"flw_ref"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Status   string          `json:"status"`
	Customer struct {
		Email string `json:"email"`
	} `json:"customer"`
	Meta map[string]interface{} `json:"meta"`
}

func (t Transaction) ToResult(raw json.RawMessage) *gateway.Result {
	res := &gateway.Result{
		Status:      mapStatus(t.Status),
		AmountMinor: gateway.ToMinor(t.Amount),
		Currency:    strings.ToUpper(t.Currency),
		ExternalID:  t.FlwRef,
		Raw:         raw,
	}
	if res.ExternalID == "" && t.ID != 0 {
		res.ExternalID = fmt.Sprintf("%d", t.ID)
	}
	if uid, ok := t.Meta["userId"].(string); ok {
		res.UserID = uid
	}
	return res
}

func mapStatus(s string) gateway.Status {
	switch strings.ToLower(s) {
	case "successful", "success":
		return gateway.StatusSuccess
	case "failed", "cancelled":
		return gateway.StatusFailed
	default:
		return gateway.StatusPending
	}
}

func (c *Client) Verify(ctx context.Context, reference string) (*gateway.Result, error) {
	if err := c.configured(ctx, reference); err != nil {
		return nil, err
	}
	if c.secretKey == "" {
		logger.FromContext(ctx).Info("flutterwave simulated verify", zap.String("reference", reference))
		return &gateway.Result{
			Status:     gateway.StatusSuccess,
			Currency:   "GHS",
			ExternalID: "SIM-" + reference,
		}, nil
	}
	endpoint := fmt.Sprintf("%s/v3/transactions/verify_by_reference?tx_ref=%s", c.baseURL, url.QueryEscape(reference))
	var envelope apiResponse
	if err := c.doWithRetry(ctx, http.MethodGet, endpoint, nil, &envelope); err != nil {
		return nil, err
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil, fmt.Errorf("%w: flutterwave: no transaction for %s", gateway.ErrRejected, reference)
	}
	var tx Transaction
	if err := json.Unmarshal(envelope.Data, &tx); err != nil {
		return nil, err
	}
	return tx.ToResult(envelope.Data), nil
}

type chargeData struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
	TxRef  string `json:"tx_ref"`
}

type chargeMeta struct {
	Authorization struct {
		Mode     string `json:"mode"`
		Redirect string `json:"redirect"`
	} `json:"authorization"`
}

func (c *Client) Initiate(ctx context.Context, req gateway.InitiateRequest) (*gateway.Initiation, error) {
	amount := gateway.FromMinor(req.AmountMinor)
	if err := c.configured(ctx, req.Reference); err != nil {
		return nil, err
	}
	if c.secretKey == "" {
		logger.FromContext(ctx).Info("flutterwave simulated charge",
			zap.String("reference", req.Reference), zap.String("amount", amount.StringFixed(2)))
		return &gateway.Initiation{
			Reference:   req.Reference,
			Status:      "pending",
			DisplayText: "Simulated Flutterwave charge",
		}, nil
	}

	payload := map[string]interface{}{
		"tx_ref":       req.Reference,
		"amount":       amount.InexactFloat64(),
		"currency":     req.Currency,
		"email":        req.UserID + "@gusers.gamehub",
		"phone_number": req.Phone,
		"network":      strings.ToUpper(req.Network),
		"meta":         map[string]string{"userId": req.UserID},
	}
	if req.CallbackURL != "" {
		payload["redirect_url"] = req.CallbackURL
	}

	var envelope apiResponse
	if err := c.doWithRetry(ctx, http.MethodPost, c.baseURL+"/v3/charges?type=mobile_money_ghana", payload, &envelope); err != nil {
		return nil, err
	}
	out := &gateway.Initiation{Reference: req.Reference, Status: "pending"}
	if len(envelope.Data) > 0 {
		var data chargeData
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			return nil, err
		}
		if data.Status != "" {
			out.Status = data.Status
		}
	}
	if len(envelope.Meta) > 0 {
		var meta chargeMeta
		if err := json.Unmarshal(envelope.Meta, &meta); err == nil {
			out.RedirectURL = meta.Authorization.Redirect
		}
	}
	out.DisplayText = envelope.Message
	return out, nil
}

type apiResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    json.RawMessage `json:"meta"`
}

func (c *Client) doWithRetry(ctx context.Context, method, endpoint string, payload interface{}, envelope *apiResponse) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * c.backoff
			logger.FromContext(ctx).Warn("flutterwave retry",
				zap.Int("attempt", attempt), zap.Duration("backoff", wait), zap.Error(lastErr))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return &gateway.RetryableError{Provider: Name, Err: ctx.Err()}
			}
		}
		lastErr = c.do(ctx, method, endpoint, payload, envelope)
		if lastErr == nil {
			return nil
		}
		var re *gateway.RetryableError
		if errors.As(lastErr, &re) && re.Status >= 500 {
			continue
		}
		return lastErr
	}
	return lastErr
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload interface{}, envelope *apiResponse) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &gateway.RetryableError{Provider: Name, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &gateway.RetryableError{Provider: Name, Err: err}
	}
	logger.FromContext(ctx).Debug("flutterwave response",
		zap.String("method", method), zap.String("endpoint", endpoint), zap.Int("status", resp.StatusCode))

	switch {
	case resp.StatusCode >= 500:
		return &gateway.RetryableError{Provider: Name, Status: resp.StatusCode, Err: errors.New(string(respBody))}
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return &gateway.RetryableError{Provider: Name, Status: resp.StatusCode, Err: errors.New(string(respBody))}
	}
	if err := json.Unmarshal(respBody, envelope); err != nil {
		if resp.StatusCode >= 300 {
			return fmt.Errorf("flutterwave http %s: %s", resp.Status, string(respBody))
		}
		return &gateway.RetryableError{Provider: Name, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode >= 300 || !strings.EqualFold(envelope.Status, "success") {
		return fmt.Errorf("%w: flutterwave: %s", gateway.ErrRejected, envelope.Message)
	}
	return nil
}
