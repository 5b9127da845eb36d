package payment_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eytgaming/checkout-service/internal/payment"
)

const paystackTestSecret = "sk_test_paystack"

func paystackSignature(secret string, payload []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestPaystackGateway_VerifyWebhook(t *testing.T) {
	gw := payment.NewPaystackGateway(paystackTestSecret, paystackTestSecret, "")
	payload := []byte(`{"event":"charge.success","data":{"id":302961,"reference":"ref_abc","status":"success"}}`)

	tests := []struct {
		name    string
		header  string
		payload []byte
		wantErr bool
	}{
		{
			name:    "valid_signature",
			header:  paystackSignature(paystackTestSecret, payload),
			payload: payload,
		},
		{
			name:    "wrong_secret",
			header:  paystackSignature("sk_other", payload),
			payload: payload,
			wantErr: true,
		},
		{
			name:    "tampered_payload",
			header:  paystackSignature(paystackTestSecret, payload),
			payload: []byte(`{"event":"charge.success","data":{"id":302961,"reference":"ref_xyz","status":"success"}}`),
			wantErr: true,
		},
		{
			name:    "missing_header",
			header:  "",
			payload: payload,
			wantErr: true,
		},
		{
			name:    "signature_not_hex",
			header:  "not-a-signature",
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
			assert.Equal(t, "charge.success:302961", event.ID, "Event id should be derived from event name and transaction id")
			assert.Equal(t, payment.EventPaymentSucceeded, event.Kind)
			assert.Equal(t, "ref_abc", event.IntentRef)
			assert.Equal(t, "302961", event.ExternalTxnID)
		})
	}
}

func TestPaystackGateway_CreateIntent(t *testing.T) {
	orderID, err := uuid.NewV4()
	require.NoError(t, err)

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer "+paystackTestSecret, r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{"status":true,"message":"Authorization URL created","data":{"authorization_url":"https://checkout.paystack.com/abc","access_code":"abc","reference":"ref_abc"}}`)
	}))
	defer srv.Close()

	gw := payment.NewPaystackGateway(paystackTestSecret, paystackTestSecret, srv.URL)
	intent, err := gw.CreateIntent(context.Background(), payment.IntentRequest{
		OrderID:     orderID,
		OrderNumber: "ORD-2026-000007",
		Amount:      250000,
		Currency:    "NGN",
		Email:       "shopper@example.com",
	})

	require.NoError(t, err)
	assert.Equal(t, "ref_abc", intent.Ref)
	assert.Equal(t, "abc", intent.ClientSecret)
	assert.Equal(t, "shopper@example.com", gotBody["email"])
	assert.Equal(t, float64(250000), gotBody["amount"])
	assert.Equal(t, "NGN", gotBody["currency"])
}

func TestPaystackGateway_CreateIntent_RequiresEmail(t *testing.T) {
	gw := payment.NewPaystackGateway(paystackTestSecret, paystackTestSecret, "http://unreachable.invalid")
	_, err := gw.CreateIntent(context.Background(), payment.IntentRequest{Amount: 1000, Currency: "NGN"})
	assert.Error(t, err)
}

func TestPaystackGateway_ConfirmStatus(t *testing.T) {
	tests := []struct {
		paystackStatus string
		want           payment.PaymentStatus
	}{
		{"success", payment.StatusSucceeded},
		{"failed", payment.StatusFailed},
		{"abandoned", payment.StatusFailed},
		{"ongoing", payment.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.paystackStatus, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/transaction/verify/ref_abc", r.URL.Path)
				fmt.Fprintf(w, `{"status":true,"message":"Verification successful","data":{"id":302961,"status":"%s"}}`, tt.paystackStatus)
			}))
			defer srv.Close()

			gw := payment.NewPaystackGateway(paystackTestSecret, paystackTestSecret, srv.URL)
			status, err := gw.ConfirmStatus(context.Background(), "ref_abc")
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestPaystackGateway_Refund(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/refund", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{"status":true,"message":"Refund has been queued","data":{"id":8867}}`)
	}))
	defer srv.Close()

	gw := payment.NewPaystackGateway(paystackTestSecret, paystackTestSecret, srv.URL)
	ref, err := gw.Refund(context.Background(), "ref_abc", 5000)

	require.NoError(t, err)
	assert.Equal(t, "8867", ref)
	assert.Equal(t, "ref_abc", gotBody["transaction"])
	assert.Equal(t, float64(5000), gotBody["amount"])
}

func TestPaystackGateway_EnvelopeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":false,"message":"Transaction not found"}`)
	}))
	defer srv.Close()

	gw := payment.NewPaystackGateway(paystackTestSecret, paystackTestSecret, srv.URL)
	_, err := gw.ConfirmStatus(context.Background(), "ref_missing")

	var apiErr *payment.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "paystack", apiErr.Gateway)
	assert.Equal(t, "Transaction not found", apiErr.Message)
}
