package payment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStripe(t *testing.T, handler http.HandlerFunc) *StripeGateway {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewStripeGateway(srv.URL, "sk_test_123", 5*time.Second, 1, zap.NewNop())
}

func sampleCapture() CaptureRequest {
	return CaptureRequest{
		OrderID:         "o1",
		TenantID:        "t1",
		Amount:          decimal.RequireFromString("10.89"),
		Currency:        "USD",
		PaymentMethodID: "pm_card_visa",
		IdempotencyKey:  "tok-1",
		ReceiptEmail:    "family@example.com",
	}
}

func TestStripeCapture_Succeeded(t *testing.T) {
	g := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.Equal(t, "tok-1", r.Header.Get("Idempotency-Key"))
		user, _, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "sk_test_123", user)

		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "1089", r.PostForm.Get("amount"))
		assert.Equal(t, "usd", r.PostForm.Get("currency"))
		assert.Equal(t, "true", r.PostForm.Get("confirm"))
		assert.Equal(t, "o1", r.PostForm.Get("metadata[order_id]"))
		assert.Equal(t, "family@example.com", r.PostForm.Get("receipt_email"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_1","status":"succeeded","amount":1089,"amount_received":1089,"currency":"usd","created":1792238400,"client_secret":"pi_1_secret"}`))
	})

	res, err := g.Capture(context.Background(), sampleCapture())
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, "pi_1", res.IntentID)
	assert.True(t, res.Amount.Equal(decimal.RequireFromString("10.89")))

	rc := res.Receipt()
	assert.Equal(t, "pi_1", rc.PaymentIntentID)
	assert.Equal(t, time.Unix(1792238400, 0).UTC(), rc.CapturedAt)
}

func TestStripeCapture_Declined(t *testing.T) {
	g := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"type":"card_error","code":"card_declined","decline_code":"insufficient_funds","message":"Your card has insufficient funds.","payment_intent":{"id":"pi_2","status":"requires_payment_method"}}}`))
	})

	_, err := g.Capture(context.Background(), sampleCapture())
	require.Error(t, err)
	assert.True(t, IsDecline(err))

	var d *DeclineError
	require.ErrorAs(t, err, &d)
	assert.Equal(t, "insufficient_funds", d.Code)
	assert.Equal(t, "pi_2", d.IntentID)
	assert.Contains(t, err.Error(), "insufficient funds")
}

func TestStripeCapture_RetriesServerErrorWithSameKey(t *testing.T) {
	var calls atomic.Int32
	g := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok-1", r.Header.Get("Idempotency-Key"))
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"type":"api_error","message":"try again"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"pi_3","status":"succeeded","amount":1089,"currency":"usd"}`))
	})

	res, err := g.Capture(context.Background(), sampleCapture())
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, int32(2), calls.Load())
}

func TestStripeCapture_ServerErrorIsNotDecline(t *testing.T) {
	g := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"type":"api_error","message":"upstream"}}`))
	})

	_, err := g.Capture(context.Background(), sampleCapture())
	require.Error(t, err)
	assert.False(t, IsDecline(err))
}

func TestStripeCapture_RequiresIdempotencyKey(t *testing.T) {
	g := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	req := sampleCapture()
	req.IdempotencyKey = ""
	_, err := g.Capture(context.Background(), req)
	assert.Error(t, err)
}

func TestStripeLookup_MapsStatuses(t *testing.T) {
	g := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/payment_intents/pi_action":
			_, _ = w.Write([]byte(`{"id":"pi_action","status":"requires_action","client_secret":"sec","amount":500,"currency":"usd"}`))
		case "/v1/payment_intents/pi_failed":
			_, _ = w.Write([]byte(`{"id":"pi_failed","status":"requires_payment_method","amount":500,"currency":"usd","last_payment_error":{"code":"card_declined","message":"Declined"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such payment_intent"}}`))
		}
	})

	res, err := g.Lookup(context.Background(), "pi_action")
	require.NoError(t, err)
	assert.Equal(t, StatusRequiresAction, res.Status)
	assert.Equal(t, "sec", res.ClientSecret)

	res, err = g.Lookup(context.Background(), "pi_failed")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "Declined", res.FailureMessage)

	// 查不到 intent 不代表未扣款
	_, err = g.Lookup(context.Background(), "pi_missing")
	require.Error(t, err)
	assert.False(t, IsDecline(err))
}

func TestStripeCapture_NonCardErrorsAreNotDeclines(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"idempotency key reused with other params", http.StatusBadRequest,
			`{"error":{"type":"idempotency_error","message":"Keys for idempotent requests can only be used with the same parameters they were first used with."}}`},
		{"idempotent request still in flight", http.StatusConflict,
			`{"error":{"type":"idempotency_error","message":"There is currently another in-progress request using this Idempotent Key."}}`},
		{"rate limited", http.StatusTooManyRequests,
			`{"error":{"type":"invalid_request_error","code":"rate_limit","message":"Too many requests"}}`},
		{"bad api key", http.StatusUnauthorized,
			`{"error":{"type":"invalid_request_error","message":"Invalid API Key provided"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			g := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})

			_, err := g.Capture(context.Background(), sampleCapture())
			require.Error(t, err)
			assert.False(t, IsDecline(err))
			if tc.status == http.StatusTooManyRequests {
				assert.Equal(t, int32(2), calls.Load())
			}
		})
	}
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(1089), ToMinorUnits(decimal.RequireFromString("10.89")))
	assert.Equal(t, int64(1001), ToMinorUnits(decimal.RequireFromString("10.005")))
	assert.True(t, FromMinorUnits(1089).Equal(decimal.RequireFromString("10.89")))
}
