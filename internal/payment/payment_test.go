package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"

	"github.com/mmeshcher/gamehub-rewards/internal/model"
)

const testSecret = "whsec_test"

func sign(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func event(typ, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","type":%q,"api_version":"2020-08-27","data":{"object":%s}}`, typ, object))
}

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name       string
		payload    []byte
		wantAction Action
		wantOrder  string
		wantUser   string
		wantAmount int64
	}{
		{
			name: "paid checkout session",
			payload: event(EventCheckoutCompleted,
				`{"id":"cs_1","object":"checkout.session","client_reference_id":"o1","payment_status":"paid","amount_total":499,"metadata":{"orderId":"o1","userId":"u1"}}`),
			wantAction: ActionConfirm,
			wantOrder:  "o1",
			wantUser:   "u1",
			wantAmount: 499,
		},
		{
			name: "unpaid checkout session",
			payload: event(EventCheckoutCompleted,
				`{"id":"cs_1","object":"checkout.session","client_reference_id":"o1","payment_status":"unpaid","metadata":{"userId":"u1"}}`),
			wantAction: ActionNone,
			wantOrder:  "o1",
			wantUser:   "u1",
		},
		{
			name: "order id from metadata",
			payload: event(EventCheckoutAsyncSucceeded,
				`{"id":"cs_1","object":"checkout.session","payment_status":"paid","amount_total":99,"metadata":{"orderId":"o2","userId":"u1"}}`),
			wantAction: ActionConfirm,
			wantOrder:  "o2",
			wantUser:   "u1",
			wantAmount: 99,
		},
		{
			name: "expired session",
			payload: event(EventCheckoutExpired,
				`{"id":"cs_1","object":"checkout.session","client_reference_id":"o3","status":"expired"}`),
			wantAction: ActionFail,
			wantOrder:  "o3",
		},
		{
			name: "payment intent",
			payload: event(EventPaymentIntentSucceeded,
				`{"id":"pi_1","object":"payment_intent","amount":999,"amount_received":999,"status":"succeeded","metadata":{"orderId":"o4","userId":"u2"}}`),
			wantAction: ActionConfirm,
			wantOrder:  "o4",
			wantUser:   "u2",
			wantAmount: 999,
		},
		{
			name:       "unrelated event",
			payload:    event("customer.created", `{"id":"cus_1","object":"customer"}`),
			wantAction: ActionNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseEvent(tt.payload, sign(tt.payload, testSecret, time.Now()), testSecret)
			require.NoError(t, err)

			assert.Equal(t, "evt_1", ev.ID)
			assert.Equal(t, tt.wantAction, ev.Action())
			assert.Equal(t, tt.wantOrder, ev.OrderID)
			assert.Equal(t, tt.wantUser, ev.UserID)
			assert.Equal(t, tt.wantAmount, ev.AmountCents)
			assert.NotEmpty(t, ev.Data)
		})
	}
}

func TestParseEvent_InvalidSignature(t *testing.T) {
	payload := event(EventCheckoutCompleted, `{"id":"cs_1","object":"checkout.session"}`)

	_, err := ParseEvent(payload, sign(payload, "whsec_other", time.Now()), testSecret)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = ParseEvent(payload, "garbage", testSecret)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = ParseEvent(payload, sign(payload, testSecret, time.Now().Add(-time.Hour)), testSecret)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})

	return newClient("sk_test_123", "http://localhost:5173/", &stripe.Backends{
		API:     backend,
		Connect: backend,
		Uploads: backend,
	})
}

func TestClient_CreateCheckout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.NoError(t, r.ParseForm())

		assert.Equal(t, "o1", r.PostForm.Get("client_reference_id"))
		assert.Equal(t, "payment", r.PostForm.Get("mode"))
		assert.Equal(t, "499", r.PostForm.Get("line_items[0][price_data][unit_amount]"))
		assert.Equal(t, "o1", r.PostForm.Get("metadata[orderId]"))
		assert.Equal(t, "u1", r.PostForm.Get("metadata[userId]"))
		assert.Equal(t, "u1", r.PostForm.Get("payment_intent_data[metadata][userId]"))
		assert.Contains(t, r.PostForm.Get("success_url"), "http://localhost:5173/payment-success")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_1"}`))
	})

	checkout, err := c.CreateCheckout(context.Background(), model.Order{
		ID:          "o1",
		UserID:      "u1",
		PackageID:   "token_50",
		TokenAmount: 50,
		BonusAmount: 5,
		PriceCents:  499,
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", checkout.SessionID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", checkout.URL)
}

func TestClient_CheckoutStatus(t *testing.T) {
	tests := []struct {
		name string
		body string
		want SessionStatus
	}{
		{name: "paid", body: `{"id":"cs_1","object":"checkout.session","status":"complete","payment_status":"paid"}`, want: SessionPaid},
		{name: "open", body: `{"id":"cs_1","object":"checkout.session","status":"open","payment_status":"unpaid"}`, want: SessionOpen},
		{name: "expired", body: `{"id":"cs_1","object":"checkout.session","status":"expired","payment_status":"unpaid"}`, want: SessionExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/checkout/sessions/cs_1", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			})

			got, err := c.CheckoutStatus(context.Background(), "cs_1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_NotConfigured(t *testing.T) {
	var c *Client

	_, err := c.CreateCheckout(context.Background(), model.Order{})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = c.CheckoutStatus(context.Background(), "cs_1")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
