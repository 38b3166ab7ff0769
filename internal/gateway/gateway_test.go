package gateway_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gamehub/payment-settlement/internal/gateway"
	"gamehub/payment-settlement/internal/gateway/gatewaytest"
)

func TestRegistryDefault(t *testing.T) {
	ps := gatewaytest.New("paystack")
	fw := gatewaytest.New("flutterwave")
	reg := gateway.NewRegistry("Paystack", ps, fw)

	p, err := reg.Get("")
	require.NoError(t, err)
	assert.Equal(t, "paystack", p.Name())

	p, err = reg.Get(" FLUTTERWAVE ")
	require.NoError(t, err)
	assert.Equal(t, "flutterwave", p.Name())

	_, err = reg.Get("hubtel")
	assert.ErrorIs(t, err, gateway.ErrUnknownProvider)
	assert.ElementsMatch(t, []string{"paystack", "flutterwave"}, reg.Names())
}

func TestRetryableErrorMatching(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("verify DEP1: %w", &gateway.RetryableError{Provider: "paystack", Status: 503, Err: cause})

	assert.ErrorIs(t, err, gateway.ErrRetryable)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, gateway.ErrRejected)
	assert.Contains(t, err.Error(), "paystack http 503")
}

func TestMinorUnitConversion(t *testing.T) {
	assert.Equal(t, int64(5010), gateway.ToMinor(decimal.RequireFromString("50.10")))
	assert.Equal(t, int64(1), gateway.ToMinor(decimal.RequireFromString("0.005")))
	assert.Equal(t, int64(0), gateway.ToMinor(decimal.RequireFromString("-3")))
	assert.Equal(t, "60.00", gateway.FromMinor(6000).StringFixed(2))
}
