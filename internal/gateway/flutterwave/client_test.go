package flutterwave

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gamehub/payment-settlement/internal/gateway"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient("FLWSECK_TEST", srv.URL, 2*time.Second)
	c.backoff = time.Millisecond
	return c
}

func TestVerifyConvertsMajorUnits(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/transactions/verify_by_reference", r.URL.Path)
		assert.Equal(t, "DEP1", r.URL.Query().Get("tx_ref"))
		_, _ = w.Write([]byte(`{"status":"success","message":"Transaction fetched successfully","data":{
			"id":288192,"tx_ref":"DEP1","flw_ref":"FLW-MOCK-1","amount":50.10,"currency":"GHS",
			"status":"successful","meta":{"userId":"u1"}}}`))
	})

	res, err := c.Verify(context.Background(), "DEP1")
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusSuccess, res.Status)
	assert.Equal(t, int64(5010), res.AmountMinor)
	assert.Equal(t, "FLW-MOCK-1", res.ExternalID)
	assert.Equal(t, "u1", res.UserID)
	assert.True(t, json.Valid(res.Raw))
}

func TestVerifyFailedTransaction(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","data":{"id":1,"tx_ref":"DEP2","amount":10,"status":"failed"}}`))
	})

	res, err := c.Verify(context.Background(), "DEP2")
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusFailed, res.Status)
	assert.Equal(t, "1", res.ExternalID)
}

func TestVerifyNotFoundIsRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":"error","message":"No transaction was found for this id","data":null}`))
	})

	_, err := c.Verify(context.Background(), "nope")
	assert.ErrorIs(t, err, gateway.ErrRejected)
}

func TestVerifyRetriesServerErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"success","data":{"id":3,"amount":1,"status":"successful"}}`))
	})

	res, err := c.Verify(context.Background(), "DEP3")
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusSuccess, res.Status)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestVerifyGivesUpAsRetryable(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.Verify(context.Background(), "DEP4")
	assert.ErrorIs(t, err, gateway.ErrRetryable)
	assert.Equal(t, int32(maxRetries+1), atomic.LoadInt32(&calls))
}

func TestInitiateReadsRedirect(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "mobile_money_ghana", r.URL.Query().Get("type"))
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 25.5, body["amount"])
		assert.Equal(t, "MTN", body["network"])
		_, _ = w.Write([]byte(`{"status":"success","message":"Charge initiated","data":{"status":"pending"},
			"meta":{"authorization":{"mode":"redirect","redirect":"https://pay.example/otp"}}}`))
	})

	out, err := c.Initiate(context.Background(), gateway.InitiateRequest{
		Reference: "DEP5", UserID: "u1", AmountMinor: 2550, Currency: "GHS", Phone: "0240000000", Network: "mtn",
	})
	require.NoError(t, err)
	assert.Equal(t, "pending", out.Status)
	assert.Equal(t, "https://pay.example/otp", out.RedirectURL)
}

func TestMissingKeyRefusesWithoutSimulation(t *testing.T) {
	c := NewClient("", "", 0)

	res, err := c.Verify(context.Background(), "DEP6")
	assert.Nil(t, res)
	assert.ErrorIs(t, err, gateway.ErrRetryable)
	assert.ErrorIs(t, err, gateway.ErrNotConfigured)

	_, err = c.Initiate(context.Background(), gateway.InitiateRequest{Reference: "DEP6", AmountMinor: 100})
	assert.ErrorIs(t, err, gateway.ErrNotConfigured)
}

func TestSimulationVerify(t *testing.T) {
	res, err := NewClient("", "", 0).Simulate().Verify(context.Background(), "DEP6")
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusSuccess, res.Status)
	assert.Equal(t, "SIM-DEP6", res.ExternalID)
}
