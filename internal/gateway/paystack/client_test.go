package paystack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gamehub/payment-settlement/internal/gateway"
)

func newServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient("sk_test", srv.URL, "", 2*time.Second)
}

func TestVerifySuccess(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/verify/DEP1", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"status":true,"message":"Verification successful","data":{
			"id":4099,"status":"success","reference":"DEP1","amount":5000,"currency":"ghs",
			"customer":{"email":"u1@gusers.gamehub"}}}`))
	})

	res, err := c.Verify(context.Background(), "DEP1")
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusSuccess, res.Status)
	assert.Equal(t, int64(5000), res.AmountMinor)
	assert.Equal(t, "GHS", res.Currency)
	assert.Equal(t, "4099", res.ExternalID)
	assert.Equal(t, "u1", res.UserID)
	assert.True(t, json.Valid(res.Raw))
}

func TestVerifyMetadataUserWins(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":true,"data":{"status":"success","amount":100,
			"customer":{"email":"someone@example.com"},"metadata":{"userId":"u7"}}}`))
	})

	res, err := c.Verify(context.Background(), "DEP7")
	require.NoError(t, err)
	assert.Equal(t, "u7", res.UserID)
}

func TestVerifyStatusMapping(t *testing.T) {
	cases := map[string]gateway.Status{
		"success":   gateway.StatusSuccess,
		"failed":    gateway.StatusFailed,
		"abandoned": gateway.StatusFailed,
		"reversed":  gateway.StatusFailed,
		"ongoing":   gateway.StatusPending,
		"pending":   gateway.StatusPending,
	}
	for provider, want := range cases {
		assert.Equal(t, want, mapStatus(provider), provider)
	}
}

func TestVerifyNotFoundIsRejected(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":false,"message":"Transaction reference not found"}`))
	})

	_, err := c.Verify(context.Background(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrRejected)
	assert.NotErrorIs(t, err, gateway.ErrRetryable)
}

func TestVerifyServerErrorIsRetryable(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Verify(context.Background(), "DEP1")
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrRetryable)

	var re *gateway.RetryableError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusBadGateway, re.Status)
}

func TestVerifyTimeoutIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)
	c := NewClient("sk_test", srv.URL, "", 20*time.Millisecond)

	_, err := c.Verify(context.Background(), "DEP1")
	assert.ErrorIs(t, err, gateway.ErrRetryable)
}

func TestInitiateSendsCharge(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/charge", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "u1@gusers.gamehub", body["email"])
		assert.Equal(t, float64(2500), body["amount"])
		assert.Equal(t, "DEP9", body["reference"])
		_, _ = w.Write([]byte(`{"status":true,"data":{"reference":"DEP9","status":"send_otp","display_text":"Enter OTP"}}`))
	})

	out, err := c.Initiate(context.Background(), gateway.InitiateRequest{
		Reference: "DEP9", UserID: "u1", AmountMinor: 2500, Currency: "GHS", Phone: "0240000000", Network: "MTN",
	})
	require.NoError(t, err)
	assert.Equal(t, "DEP9", out.Reference)
	assert.Equal(t, "send_otp", out.Status)
	assert.Equal(t, "Enter OTP", out.DisplayText)
}

func TestMissingKeyRefusesWithoutSimulation(t *testing.T) {
	c := NewClient("", "", "", 0)

	res, err := c.Verify(context.Background(), "DEP1")
	assert.Nil(t, res)
	assert.ErrorIs(t, err, gateway.ErrRetryable)
	assert.ErrorIs(t, err, gateway.ErrNotConfigured)

	_, err = c.Initiate(context.Background(), gateway.InitiateRequest{Reference: "DEP1", AmountMinor: 100})
	assert.ErrorIs(t, err, gateway.ErrNotConfigured)
}

func TestSimulationMode(t *testing.T) {
	c := NewClient("", "", "", 0).Simulate()

	res, err := c.Verify(context.Background(), "DEP1")
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusSuccess, res.Status)

	out, err := c.Initiate(context.Background(), gateway.InitiateRequest{Reference: "DEP1"})
	require.NoError(t, err)
	assert.Equal(t, "pending", out.Status)
}

func TestUserFromEmail(t *testing.T) {
	assert.Equal(t, "abc", UserFromEmail(CustomerEmail("abc")))
	assert.Empty(t, UserFromEmail("abc@example.com"))
	assert.Empty(t, UserFromEmail("no-at-sign"))
}
