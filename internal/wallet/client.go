package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPClient credits balances held by the wallet service. The service's
// /internal/ledger/credit endpoint is idempotent on reference and reports
// whether the call moved the balance.
type HTTPClient struct {
	baseURL     string
	internalKey string
	httpClient  *http.Client
}

func NewHTTPClient(baseURL, internalKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		internalKey: internalKey,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

type creditPayload struct {
	UserID      string `json:"userId"`
	Reference   string `json:"reference"`
	AmountMinor int64  `json:"amountMinor"`
	Currency    string `json:"currency,omitempty"`
	Source      string `json:"source"`
}

type creditResponse struct {
	Applied bool    `json:"applied"`
	Balance Balance `json:"balance"`
}

func (c *HTTPClient) Credit(ctx context.Context, req CreditRequest) (*Balance, bool, error) {
	if err := req.validate(); err != nil {
		return nil, false, err
	}
	var out creditResponse
	err := c.do(ctx, http.MethodPost, "/internal/ledger/credit", creditPayload{
		UserID:      req.UserID,
		Reference:   req.Reference,
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
		Source:      "deposit",
	}, &out)
	if err != nil {
		return nil, false, err
	}
	return &out.Balance, out.Applied, nil
}

func (c *HTTPClient) Balance(ctx context.Context, userID string) (*Balance, error) {
	var bal Balance
	if err := c.do(ctx, http.MethodGet, "/internal/ledger/balance/"+url.PathEscape(userID), nil, &bal); err != nil {
		return nil, err
	}
	if bal.UserID == "" {
		bal.UserID = userID
	}
	return &bal, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.internalKey != "" {
		req.Header.Set("X-Internal-Key", c.internalKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("wallet service %s: %s", resp.Status, string(respBody))
}
