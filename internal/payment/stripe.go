package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
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

const (
	stripeAPIBase = "https://api.stripe.com/v1"
	// Events older than this are rejected even with a valid signature.
	stripeTolerance = 5 * time.Minute
)

type StripeGateway struct {
	secretKey     string
	webhookSecret string
	baseURL       string
	client        *http.Client
}

func NewStripeGateway(secretKey, webhookSecret, baseURL string) *StripeGateway {
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	return &StripeGateway{
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		baseURL:       baseURL,
		client:        &http.Client{Timeout: 10 * time.Second},
	}
}

func (g *StripeGateway) Name() string {
	return "stripe"
}

type stripeIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

func (g *StripeGateway) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount.Cents(), 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("metadata[order_id]", req.OrderID.String())
	form.Set("metadata[order_number]", req.OrderNumber)
	form.Set("automatic_payment_methods[enabled]", "true")

	var resp stripeIntent
	if err := g.post(ctx, "/payment_intents", form, &resp); err != nil {
		return nil, err
	}

	return &Intent{Ref: resp.ID, ClientSecret: resp.ClientSecret}, nil
}

func (g *StripeGateway) ConfirmStatus(ctx context.Context, intentRef string) (PaymentStatus, error) {
	var resp stripeIntent
	if err := g.get(ctx, "/payment_intents/"+url.PathEscape(intentRef), &resp); err != nil {
		return "", err
	}

	switch resp.Status {
	case "succeeded":
		return StatusSucceeded, nil
	case "canceled":
		return StatusFailed, nil
	default:
		return StatusCreated, nil
	}
}

func (g *StripeGateway) Refund(ctx context.Context, intentRef string, amount money.Amount) (string, error) {
	form := url.Values{}
	form.Set("payment_intent", intentRef)
	form.Set("amount", strconv.FormatInt(amount.Cents(), 10))

	var resp struct {
		ID string `json:"id"`
	}
	if err := g.post(ctx, "/refunds", form, &resp); err != nil {
		return "", err
	}

	return resp.ID, nil
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID           string `json:"id"`
			LatestCharge string `json:"latest_charge"`
		} `json:"object"`
	} `json:"data"`
}

// VerifyWebhook checks the signature header before anything else: a
// timestamp plus one or more HMAC-SHA256 signatures of
// "{timestamp}.{payload}". The timestamp bound stops replays of old,
// validly signed events.
func (g *StripeGateway) VerifyWebhook(signatureHeader string, payload []byte) (*Event, error) {
	timestamp, signatures, err := parseStripeSignature(signatureHeader)
	if err != nil {
		return nil, err
	}

	age := time.Since(time.Unix(timestamp, 0))
	if age > stripeTolerance || age < -stripeTolerance {
		return nil, fmt.Errorf("%w: timestamp outside tolerance", ErrSignatureInvalid)
	}

	expected := stripeSign(g.webhookSecret, timestamp, payload)
	match := false
	for _, sig := range signatures {
		if hmac.Equal(sig, expected) {
			match = true
			break
		}
	}
	if !match {
		return nil, fmt.Errorf("%w: no matching v1 signature", ErrSignatureInvalid)
	}

	// Only a verified payload gets parsed.
	var envelope stripeEvent
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("payment: failed to decode stripe event: %w", err)
	}

	return &Event{
		ID:            envelope.ID,
		Type:          envelope.Type,
		Kind:          stripeEventKind(envelope.Type),
		IntentRef:     envelope.Data.Object.ID,
		ExternalTxnID: envelope.Data.Object.LatestCharge,
		Raw:           payload,
	}, nil
}

func stripeEventKind(eventType string) EventKind {
	switch eventType {
	case "payment_intent.succeeded":
		return EventPaymentSucceeded
	case "payment_intent.payment_failed", "payment_intent.canceled":
		return EventPaymentFailed
	default:
		return EventIgnored
	}
}

// parseStripeSignature reads a "t=<unix>,v1=<hex>[,v1=<hex>]" header.
// Multiple v1 entries appear while a webhook secret is being rotated.
func parseStripeSignature(header string) (int64, [][]byte, error) {
	timestamp := int64(-1)
	var signatures [][]byte

	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: bad timestamp", ErrSignatureInvalid)
			}
			timestamp = ts
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			signatures = append(signatures, sig)
		}
	}

	if timestamp < 0 || len(signatures) == 0 {
		return 0, nil, fmt.Errorf("%w: malformed signature header", ErrSignatureInvalid)
	}

	return timestamp, signatures, nil
}

func stripeSign(secret string, timestamp int64, payload []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

func (g *StripeGateway) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("payment: failed to build stripe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return g.do(req, out)
}

func (g *StripeGateway) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("payment: failed to build stripe request: %w", err)
	}
	return g.do(req, out)
}

func (g *StripeGateway) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+g.secretKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("payment: stripe request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("payment: failed to read stripe response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Gateway: g.Name(), StatusCode: resp.StatusCode, Message: stripeErrorMessage(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("payment: failed to decode stripe response: %w", err)
	}

	return nil
}

func stripeErrorMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return "unexpected response"
}
