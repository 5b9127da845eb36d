package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eytgaming/checkout-service/internal/money"
)

const paystackAPIBase = "https://api.paystack.co"

type PaystackGateway struct {
	secretKey     string
	webhookSecret string
	baseURL       string
	client        *http.Client
}

func NewPaystackGateway(secretKey, webhookSecret, baseURL string) *PaystackGateway {
	if baseURL == "" {
		baseURL = paystackAPIBase
	}
	return &PaystackGateway{
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		baseURL:       baseURL,
		client:        &http.Client{Timeout: 10 * time.Second},
	}
}

func (g *PaystackGateway) Name() string {
	return "paystack"
}

// Every paystack response wraps its payload in the same envelope.
type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (g *PaystackGateway) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	if req.Email == "" {
		return nil, fmt.Errorf("payment: paystack requires a customer email")
	}

	body := map[string]any{
		"email":    req.Email,
		"amount":   req.Amount.Cents(),
		"currency": strings.ToUpper(req.Currency),
		"metadata": map[string]string{
			"order_id":     req.OrderID.String(),
			"order_number": req.OrderNumber,
		},
	}

	var resp struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}
	if err := g.post(ctx, "/transaction/initialize", body, &resp); err != nil {
		return nil, err
	}

	return &Intent{Ref: resp.Reference, ClientSecret: resp.AccessCode}, nil
}

func (g *PaystackGateway) ConfirmStatus(ctx context.Context, intentRef string) (PaymentStatus, error) {
	var resp struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}
	if err := g.get(ctx, "/transaction/verify/"+url.PathEscape(intentRef), &resp); err != nil {
		return "", err
	}

	switch resp.Status {
	case "success":
		return StatusSucceeded, nil
	case "failed", "abandoned":
		return StatusFailed, nil
	default:
		return StatusCreated, nil
	}
}

func (g *PaystackGateway) Refund(ctx context.Context, intentRef string, amount money.Amount) (string, error) {
	body := map[string]any{
		"transaction": intentRef,
		"amount":      amount.Cents(),
	}

	var resp struct {
		ID int64 `json:"id"`
	}
	if err := g.post(ctx, "/refund", body, &resp); err != nil {
		return "", err
	}

	return strconv.FormatInt(resp.ID, 10), nil
}

type paystackEvent struct {
	Event string `json:"event"`
	Data  struct {
		ID        int64  `json:"id"`
		Reference string `json:"reference"`
		Status    string `json:"status"`
	} `json:"data"`
}

// VerifyWebhook checks the X-Paystack-Signature header, an HMAC-SHA512
// of the raw body. Paystack events carry no event id of their own, so
// the idempotency key is built from the event name and transaction id.
func (g *PaystackGateway) VerifyWebhook(signatureHeader string, payload []byte) (*Event, error) {
	if signatureHeader == "" {
		return nil, fmt.Errorf("%w: missing signature header", ErrSignatureInvalid)
	}

	sig, err := hex.DecodeString(signatureHeader)
	if err != nil {
		return nil, fmt.Errorf("%w: signature is not hex", ErrSignatureInvalid)
	}

	mac := hmac.New(sha512.New, []byte(g.webhookSecret))
	mac.Write(payload)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrSignatureInvalid)
	}

	var envelope paystackEvent
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("payment: failed to decode paystack event: %w", err)
	}

	return &Event{
		ID:            fmt.Sprintf("%s:%d", envelope.Event, envelope.Data.ID),
		Type:          envelope.Event,
		Kind:          paystackEventKind(envelope.Event),
		IntentRef:     envelope.Data.Reference,
		ExternalTxnID: strconv.FormatInt(envelope.Data.ID, 10),
		Raw:           payload,
	}, nil
}

func paystackEventKind(event string) EventKind {
	switch event {
	case "charge.success":
		return EventPaymentSucceeded
	case "charge.failed":
		return EventPaymentFailed
	default:
		return EventIgnored
	}
}

func (g *PaystackGateway) post(ctx context.Context, path string, body any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("payment: failed to encode paystack request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("payment: failed to build paystack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return g.do(req, out)
}

func (g *PaystackGateway) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("payment: failed to build paystack request: %w", err)
	}
	return g.do(req, out)
}

func (g *PaystackGateway) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+g.secretKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("payment: paystack request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("payment: failed to read paystack response: %w", err)
	}

	var envelope paystackEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &APIError{Gateway: g.Name(), StatusCode: resp.StatusCode, Message: "unexpected response"}
		}
		return fmt.Errorf("payment: failed to decode paystack response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !envelope.Status {
		return &APIError{Gateway: g.Name(), StatusCode: resp.StatusCode, Message: envelope.Message}
	}

	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("payment: failed to decode paystack response: %w", err)
	}

	return nil
}
