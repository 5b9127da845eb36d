package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/gofrs/uuid"

	"github.com/eytgaming/checkout-service/internal/money"
)

var (
	// ErrSignatureInvalid is the only webhook error that turns into a
	// non-2xx response; everything after verification is ours to handle.
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	ErrGatewayUnknown   = errors.New("unknown payment gateway")
)

// APIError is a non-2xx answer from a gateway REST call.
type APIError struct {
	Gateway    string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api returned status %d: %s", e.Gateway, e.StatusCode, e.Message)
}

type IntentRequest struct {
	OrderID     uuid.UUID
	OrderNumber string
	Amount      money.Amount
	Currency    string
	Email       string
}

// Intent is what the storefront needs to drive the gateway's own
// payment flow.
type Intent struct {
	Ref          string `json:"ref"`
	ClientSecret string `json:"client_secret"`
}

type EventKind string

const (
	EventPaymentSucceeded EventKind = "payment_succeeded"
	EventPaymentFailed    EventKind = "payment_failed"
	// EventIgnored covers gateway notifications this service does not
	// react to. They are still recorded for idempotency.
	EventIgnored EventKind = "ignored"
)

// Event is a gateway notification after signature verification, with
// the gateway-specific envelope normalized away. Type keeps the
// gateway's own event name for the record.
type Event struct {
	ID            string
	Type          string
	Kind          EventKind
	IntentRef     string
	ExternalTxnID string
	Raw           json.RawMessage
}

// Gateway abstracts one payment provider. VerifyWebhook must check the
// signature before reading anything else out of the payload; an
// unverified body is attacker-controlled input.
type Gateway interface {
	Name() string
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	ConfirmStatus(ctx context.Context, intentRef string) (PaymentStatus, error)
	Refund(ctx context.Context, intentRef string, amount money.Amount) (string, error)
	VerifyWebhook(signatureHeader string, payload []byte) (*Event, error)
}

// Registry resolves gateways by name. Which gateways exist is decided
// once at startup from configuration.
type Registry struct {
	gateways map[string]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gateways))}
	for _, gw := range gateways {
		r.gateways[gw.Name()] = gw
	}
	return r
}

func (r *Registry) Get(name string) (Gateway, error) {
	gw, ok := r.gateways[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrGatewayUnknown, name)
	}
	return gw, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
