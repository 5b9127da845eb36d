package payment_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eytgaming/checkout-service/internal/payment"
)

const stripeTestSecret = "whsec_test_secret"

func stripeSignature(secret string, timestamp int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", timestamp, payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func stripeHeader(secret string, timestamp int64, payload []byte) string {
	return fmt.Sprintf("t=%d,v1=%s", timestamp, stripeSignature(secret, timestamp, payload))
}

func stripeEventPayload(eventType string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":"evt_1","type":"%s","data":{"object":{"id":"pi_123","latest_charge":"ch_456"}}}`,
		eventType,
	))
}

func TestStripeGateway_VerifyWebhook(t *testing.T) {
	gw := payment.NewStripeGateway("sk_test", stripeTestSecret, "")
	payload := stripeEventPayload("payment_intent.succeeded")
	now := time.Now().Unix()

	tests := []struct {
		name    string
		header  string
		payload []byte
		wantErr bool
	}{
		{
			name:    "valid_signature",
			header:  stripeHeader(stripeTestSecret, now, payload),
			payload: payload,
		},
		{
			name:    "second_v1_matches_during_rotation",
			header:  fmt.Sprintf("t=%d,v1=%s,v1=%s", now, stripeSignature("whsec_old", now, payload), stripeSignature(stripeTestSecret, now, payload)),
			payload: payload,
		},
		{
			name:    "wrong_secret",
			header:  stripeHeader("whsec_other", now, payload),
			payload: payload,
			wantErr: true,
		},
		{
			name:    "tampered_payload",
			header:  stripeHeader(stripeTestSecret, now, payload),
			payload: stripeEventPayload("payment_intent.payment_failed"),
			wantErr: true,
		},
		{
			name:    "stale_timestamp",
			header:  stripeHeader(stripeTestSecret, time.Now().Add(-10*time.Minute).Unix(), payload),
			payload: payload,
			wantErr: true,
		},
		{
			name:    "future_timestamp",
			header:  stripeHeader(stripeTestSecret, time.Now().Add(10*time.Minute).Unix(), payload),
			payload: payload,
			wantErr: true,
		},
		{
			name:    "missing_header",
			header:  "",
			payload: payload,
			wantErr: true,
		},
		{
			name:    "no_timestamp",
			header:  "v1=" + stripeSignature(stripeTestSecret, now, payload),
			payload: payload,
			wantErr: true,
		},
		{
			name:    "no_signature",
			header:  fmt.Sprintf("t=%d", now),
			payload: payload,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := gw.VerifyWebhook(tt.header, tt.payload)
			if tt.wantErr {
				assert.ErrorIs(t, err, payment.ErrSignatureInvalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "evt_1", event.ID)
			assert.Equal(t, payment.EventPaymentSucceeded, event.Kind)
			assert.Equal(t, "pi_123", event.IntentRef)
			assert.Equal(t, "ch_456", event.ExternalTxnID)
		})
	}
}

func TestStripeGateway_VerifyWebhook_EventKinds(t *testing.T) {
	gw := payment.NewStripeGateway("sk_test", stripeTestSecret, "")

	tests := []struct {
		eventType string
		want      payment.EventKind
	}{
		{"payment_intent.succeeded", payment.EventPaymentSucceeded},
		{"payment_intent.payment_failed", payment.EventPaymentFailed},
		{"payment_intent.canceled", payment.EventPaymentFailed},
		{"charge.dispute.created", payment.EventIgnored},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			payload := stripeEventPayload(tt.eventType)
			event, err := gw.VerifyWebhook(stripeHeader(stripeTestSecret, time.Now().Unix(), payload), payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, event.Kind)
		})
	}
}

func TestStripeGateway_CreateIntent(t *testing.T) {
	orderID, err := uuid.NewV4()
	require.NoError(t, err)

	var gotPath, gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		fmt.Fprint(w, `{"id":"pi_123","client_secret":"pi_123_secret_x","status":"requires_payment_method"}`)
	}))
	defer srv.Close()

	gw := payment.NewStripeGateway("sk_test_abc", stripeTestSecret, srv.URL)
	intent, err := gw.CreateIntent(context.Background(), payment.IntentRequest{
		OrderID:     orderID,
		OrderNumber: "ORD-2026-000042",
		Amount:      15000,
		Currency:    "USD",
	})

	require.NoError(t, err)
	assert.Equal(t, "pi_123", intent.Ref)
	assert.Equal(t, "pi_123_secret_x", intent.ClientSecret)
	assert.Equal(t, "/payment_intents", gotPath)
	assert.Equal(t, "Bearer sk_test_abc", gotAuth)

	form, err := url.ParseQuery(gotBody)
	require.NoError(t, err)
	assert.Equal(t, "15000", form.Get("amount"))
	assert.Equal(t, "usd", form.Get("currency"))
	assert.Equal(t, "ORD-2026-000042", form.Get("metadata[order_number]"))
}

func TestStripeGateway_ConfirmStatus(t *testing.T) {
	tests := []struct {
		stripeStatus string
		want         payment.PaymentStatus
	}{
		{"succeeded", payment.StatusSucceeded},
		{"canceled", payment.StatusFailed},
		{"processing", payment.StatusCreated},
		{"requires_payment_method", payment.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.stripeStatus, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/payment_intents/pi_123", r.URL.Path)
				fmt.Fprintf(w, `{"id":"pi_123","status":"%s"}`, tt.stripeStatus)
			}))
			defer srv.Close()

			gw := payment.NewStripeGateway("sk_test", stripeTestSecret, srv.URL)
			status, err := gw.ConfirmStatus(context.Background(), "pi_123")
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestStripeGateway_Refund(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/refunds", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		fmt.Fprint(w, `{"id":"re_789","status":"succeeded"}`)
	}))
	defer srv.Close()

	gw := payment.NewStripeGateway("sk_test", stripeTestSecret, srv.URL)
	ref, err := gw.Refund(context.Background(), "pi_123", 3000)

	require.NoError(t, err)
	assert.Equal(t, "re_789", ref)

	form, err := url.ParseQuery(gotBody)
	require.NoError(t, err)
	assert.Equal(t, "pi_123", form.Get("payment_intent"))
	assert.Equal(t, "3000", form.Get("amount"))
}

func TestStripeGateway_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		fmt.Fprint(w, `{"error":{"message":"Your card was declined."}}`)
	}))
	defer srv.Close()

	gw := payment.NewStripeGateway("sk_test", stripeTestSecret, srv.URL)
	_, err := gw.ConfirmStatus(context.Background(), "pi_123")

	var apiErr *payment.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "stripe", apiErr.Gateway)
	assert.Equal(t, http.StatusPaymentRequired, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "declined")
}
