// Package webhook authenticates provider push notifications and turns the
// ones that report a finished payment into trusted settlement payloads.
package webhook

import (
	"crypto/hmac"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gamehub/payment-settlement/internal/deposit"
	"gamehub/payment-settlement/internal/gateway"
	"gamehub/payment-settlement/internal/gateway/flutterwave"
	"gamehub/payment-settlement/internal/gateway/paystack"
)

var (
	ErrSignature = errors.New("webhook signature mismatch")
	ErrMalformed = errors.New("malformed webhook payload")
)

// Event is a parsed push. Settles is false for event types that do not
// report a completed payment; those are acknowledged and dropped.
type Event struct {
	Provider  string
	Type      string
	Reference string
	Settles   bool
	Result    *gateway.Result
}

// Ingress authenticates and parses one provider's webhooks.
type Ingress interface {
	Provider() string
	// SignatureHeader names the request header carrying the signature.
	SignatureHeader() string
	Authenticate(signature string, body []byte) error
	Parse(body []byte) (*Event, error)
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func decode(body []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("%w: missing event", ErrMalformed)
	}
	return &env, nil
}

func reference(raw string) (string, error) {
	ref, err := deposit.NormalizeReference(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return ref, nil
}

// Paystack signs the raw body with HMAC-SHA512 keyed by the secret key.
type Paystack struct {
	Secret string
}

func (Paystack) Provider() string        { return paystack.Name }
func (Paystack) SignatureHeader() string { return "X-Paystack-Signature" }

func (p Paystack) Authenticate(signature string, body []byte) error {
	if !verifyHMACSHA512(signature, body, p.Secret) {
		return ErrSignature
	}
	return nil
}

func (p Paystack) Parse(body []byte) (*Event, error) {
	env, err := decode(body)
	if err != nil {
		return nil, err
	}
	ev := &Event{Provider: paystack.Name, Type: env.Event}
	if env.Event != "charge.success" {
		return ev, nil
	}
	var tx paystack.Transaction
	if err := json.Unmarshal(env.Data, &tx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ev.Reference, err = reference(tx.Reference); err != nil {
		return nil, err
	}
	ev.Result = tx.ToResult(env.Data)
	// The event type is the confirmation; data.status echoes it.
	ev.Result.Status = gateway.StatusSuccess
	ev.Settles = true
	return ev, nil
}

// Flutterwave sends the configured secret hash verbatim in verif-hash.
type Flutterwave struct {
	SecretHash string
}

func (Flutterwave) Provider() string        { return flutterwave.Name }
func (Flutterwave) SignatureHeader() string { return "verif-hash" }

func (f Flutterwave) Authenticate(signature string, _ []byte) error {
	if f.SecretHash == "" || signature == "" ||
		subtle.ConstantTimeCompare([]byte(signature), []byte(f.SecretHash)) != 1 {
		return ErrSignature
	}
	return nil
}

func (f Flutterwave) Parse(body []byte) (*Event, error) {
	env, err := decode(body)
	if err != nil {
		return nil, err
	}
	ev := &Event{Provider: flutterwave.Name, Type: env.Event}
	if env.Event != "charge.completed" {
		return ev, nil
	}
	var tx flutterwave.Transaction
	if err := json.Unmarshal(env.Data, &tx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ev.Reference, err = reference(tx.TxRef); err != nil {
		return nil, err
	}
	ev.Result = tx.ToResult(env.Data)
	// A pending charge.completed carries no verdict.
	ev.Settles = ev.Result.Status != gateway.StatusPending
	return ev, nil
}

func verifyHMACSHA512(provided string, payload []byte, secret string) bool {
	if provided == "" || secret == "" {
		return false
	}
	expected := SignPaystack(payload, secret)
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(provided)), []byte(expected)) == 1
}

// SignPaystack produces the signature Paystack would send for body.
func SignPaystack(body []byte, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
