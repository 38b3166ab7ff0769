package paystack

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

	"go.uber.org/zap"

	"gamehub/payment-settlement/internal/gateway"
	"gamehub/payment-settlement/internal/logger"
)

const (
	Name        = "paystack"
	emailDomain = "gusers.gamehub"
)

// Client wraps the Paystack charge and verify endpoints. A client with no
// secret key refuses every call unless Simulate was set.
type Client struct {
	secretKey  string
	baseURL    string
	subaccount string
	httpClient *http.Client
	simulate   bool
}

func NewClient(secretKey, baseURL, subaccount string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "https://api.paystack.co"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		secretKey:  secretKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		subaccount: subaccount,
		httpClient: &http.Client{Timeout: timeout},
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
	logger.FromContext(ctx).Error("paystack called without a secret key", zap.String("reference", reference))
	return &gateway.RetryableError{Provider: Name, Err: gateway.ErrNotConfigured}
}

// CustomerEmail is the synthetic address charges are opened with; Paystack
// requires an email and echoes it back on verify.
func CustomerEmail(userID string) string {
	return userID + "@" + emailDomain
}

// UserFromEmail reverses CustomerEmail.
func UserFromEmail(email string) string {
	local, domain, ok := strings.Cut(strings.TrimSpace(email), "@")
	if !ok || !strings.EqualFold(domain, emailDomain) {
		return ""
	}
	return local
}

type chargeData struct {
	Reference        string `json:"reference"`
	Status           string `json:"status"`
	DisplayText      string `json:"display_text"`
	AuthorizationURL string `json:"authorization_url"`
}

func (c *Client) Initiate(ctx context.Context, req gateway.InitiateRequest) (*gateway.Initiation, error) {
	if err := c.configured(ctx, req.Reference); err != nil {
		return nil, err
	}
	if c.secretKey == "" {
		logger.FromContext(ctx).Info("paystack simulated charge",
			zap.String("reference", req.Reference), zap.Int64("amount_minor", req.AmountMinor))
		return &gateway.Initiation{
			Reference:   req.Reference,
			Status:      "pending",
			DisplayText: "Simulated Paystack charge",
		}, nil
	}

	payload := map[string]interface{}{
		"email":     CustomerEmail(req.UserID),
		"amount":    req.AmountMinor,
		"currency":  req.Currency,
		"reference": req.Reference,
		"metadata":  map[string]string{"userId": req.UserID},
		"mobile_money": map[string]string{
			"phone":    req.Phone,
			"provider": strings.ToLower(req.Network),
		},
	}
	if c.subaccount != "" {
		payload["subaccount"] = c.subaccount
	}

	var data chargeData
	if _, err := c.do(ctx, http.MethodPost, "/charge", payload, &data); err != nil {
		return nil, err
	}
	ref := data.Reference
	if ref == "" {
		ref = req.Reference
	}
	return &gateway.Initiation{
		Reference:   ref,
		Status:      data.Status,
		DisplayText: data.DisplayText,
		RedirectURL: data.AuthorizationURL,
	}, nil
}

// Transaction is the part of Paystack's transaction object the settlement
// path reads. Webhook charge.success events carry the same shape.
type Transaction struct {
	ID        int64  `json:"id"`
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Customer  struct {
		Email string `json:"email"`
	} `json:"customer"`
	Metadata json.RawMessage `json:"metadata"`
}

// ToResult maps a Paystack transaction onto the normalised result.
func (t Transaction) ToResult(raw json.RawMessage) *gateway.Result {
	res := &gateway.Result{
		Status:      mapStatus(t.Status),
		AmountMinor: t.Amount,
		Currency:    strings.ToUpper(t.Currency),
		UserID:      t.userID(),
		Raw:         raw,
	}
	if t.ID != 0 {
		res.ExternalID = fmt.Sprintf("%d", t.ID)
	}
	return res
}

func (t Transaction) userID() string {
	if len(t.Metadata) > 0 {
		var meta struct {
			UserID string `json:"userId"`
		}
		if json.Unmarshal(t.Metadata, &meta) == nil && meta.UserID != "" {
			return meta.UserID
		}
	}
	return UserFromEmail(t.Customer.Email)
}

func mapStatus(s string) gateway.Status {
	switch strings.ToLower(s) {
	case "success":
		return gateway.StatusSuccess
	case "failed", "abandoned", "reversed":
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
		logger.FromContext(ctx).Info("paystack simulated verify", zap.String("reference", reference))
		return &gateway.Result{Status: gateway.StatusSuccess, Currency: "GHS"}, nil
	}
	var tx Transaction
	path := "/transaction/verify/" + url.PathEscape(reference)
	raw, err := c.do(ctx, http.MethodGet, path, nil, &tx)
	if err != nil {
		return nil, err
	}
	return tx.ToResult(raw), nil
}

type apiEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// do returns the raw data member of the envelope alongside decoding it.
func (c *Client) do(ctx context.Context, method, path string, payload interface{}, out interface{}) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &gateway.RetryableError{Provider: Name, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &gateway.RetryableError{Provider: Name, Err: err}
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &gateway.RetryableError{Provider: Name, Status: resp.StatusCode, Err: errors.New(truncate(respBody))}
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("paystack http %s: %s", resp.Status, truncate(respBody))
		}
		return nil, &gateway.RetryableError{Provider: Name, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode >= 300 || !envelope.Status {
		return nil, fmt.Errorf("%w: paystack: %s", gateway.ErrRejected, envelope.Message)
	}
	if out == nil || len(envelope.Data) == 0 {
		return envelope.Data, nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

func truncate(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit])
	}
	return string(b)
}
