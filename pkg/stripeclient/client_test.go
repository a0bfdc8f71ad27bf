package stripeclient

import (
	"fmt"
	"testing"
	"time"

	"github.com/ds124wfegd/studio-booking/config"
	"github.com/ds124wfegd/studio-booking/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testSecret = "whsec_test"

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(config.StripeConfig{
		SecretKey:     "sk_test_x",
		WebhookSecret: testSecret,
		SuccessURL:    "https://studio.test/ok",
		CancelURL:     "https://studio.test/cancel",
	})
	require.NoError(t, err)
	return c
}

func TestNew_RequiresSecrets(t *testing.T) {
	_, err := New(config.StripeConfig{WebhookSecret: testSecret})
	assert.ErrorIs(t, err, ErrMissingSecretKey)

	_, err = New(config.StripeConfig{SecretKey: "sk_test_x"})
	assert.ErrorIs(t, err, ErrMissingWebhookSecret)
}

func TestParseWebhook_EmptySecretRejectsEmptySignedPayload(t *testing.T) {
	c := &Client{}
	payload := checkoutEvent(entity.PaymentEventCheckoutCompleted, "paid")
	header := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: []byte(payload), Secret: "", Timestamp: time.Now(),
	}).Header

	_, err := c.ParseWebhook([]byte(payload), header)
	assert.ErrorIs(t, err, entity.ErrInvalidSignature)
}

func signed(t *testing.T, payload string) string {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	return sp.Header
}

func checkoutEvent(eventType, paymentStatus string) string {
	return fmt.Sprintf(`{
		"id": "evt_1",
		"object": "event",
		"api_version": %q,
		"type": %q,
		"data": {"object": {
			"id": "cs_1",
			"object": "checkout.session",
			"status": "complete",
			"payment_status": %q,
			"payment_intent": "pi_1",
			"amount_total": 2500,
			"currency": "usd"
		}}
	}`, stripe.APIVersion, eventType, paymentStatus)
}

func TestParseWebhook_CheckoutCompleted(t *testing.T) {
	c := newTestClient(t)
	payload := checkoutEvent(entity.PaymentEventCheckoutCompleted, "paid")

	n, err := c.ParseWebhook([]byte(payload), signed(t, payload))
	require.NoError(t, err)

	assert.Equal(t, "evt_1", n.EventID)
	assert.Equal(t, entity.PaymentEventCheckoutCompleted, n.Type)
	assert.Equal(t, "cs_1", n.CheckoutSessionID)
	assert.Equal(t, "paid", n.PaymentStatus)
	assert.Equal(t, "pi_1", n.PaymentIntentID)
	assert.Equal(t, int64(2500), n.AmountTotal)
	assert.Equal(t, "usd", n.Currency)
	assert.JSONEq(t, payload, string(n.Payload))
}

func TestParseWebhook_OtherEvent(t *testing.T) {
	c := newTestClient(t)
	payload := fmt.Sprintf(`{"id":"evt_2","object":"event","api_version":%q,"type":"charge.refunded","data":{"object":{"id":"ch_1"}}}`, stripe.APIVersion)

	n, err := c.ParseWebhook([]byte(payload), signed(t, payload))
	require.NoError(t, err)
	assert.Equal(t, "charge.refunded", n.Type)
	assert.Empty(t, n.CheckoutSessionID)
}

func TestParseWebhook_BadSignature(t *testing.T) {
	c := newTestClient(t)
	payload := checkoutEvent(entity.PaymentEventCheckoutCompleted, "paid")

	tests := []struct {
		name      string
		signature string
	}{
		{name: "missing", signature: ""},
		{name: "garbage", signature: "t=1,v1=deadbeef"},
		{name: "other secret", signature: webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload: []byte(payload), Secret: "whsec_other", Timestamp: time.Now(),
		}).Header},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.ParseWebhook([]byte(payload), tt.signature)
			assert.ErrorIs(t, err, entity.ErrInvalidSignature)
		})
	}
}

func TestCheckoutParams(t *testing.T) {
	t.Run("per credit", func(t *testing.T) {
		p := checkoutParams(&entity.CheckoutRequest{
			UserID:         42,
			Quote:          entity.Quote{Credits: 10, AmountCents: 2500, Currency: "usd"},
			IdempotencyKey: "key-1",
		}, "https://ok", "https://cancel")

		require.Len(t, p.LineItems, 1)
		item := p.LineItems[0]
		assert.Equal(t, int64(250), *item.PriceData.UnitAmount)
		assert.Equal(t, int64(10), *item.Quantity)
		assert.Equal(t, "42", *p.ClientReferenceID)
		assert.Equal(t, "10", p.Metadata["credits"])
		assert.Equal(t, "key-1", *p.IdempotencyKey)
		assert.Equal(t, string(stripe.CheckoutSessionModePayment), *p.Mode)
	})

	t.Run("package", func(t *testing.T) {
		p := checkoutParams(&entity.CheckoutRequest{
			UserID: 42,
			Quote:  entity.Quote{Credits: 20, AmountCents: 4500, Currency: "usd", PackageName: "starter"},
		}, "https://ok", "https://cancel")

		item := p.LineItems[0]
		assert.Equal(t, int64(4500), *item.PriceData.UnitAmount)
		assert.Equal(t, int64(1), *item.Quantity)
		assert.Equal(t, "starter", p.Metadata["package"])
		assert.Nil(t, p.IdempotencyKey)
	})
}

func TestToCheckoutSession(t *testing.T) {
	cs := toCheckoutSession(&stripe.CheckoutSession{
		ID:            "cs_9",
		URL:           "https://checkout.stripe.com/c/cs_9",
		Status:        stripe.CheckoutSessionStatusExpired,
		PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid,
	})

	assert.Equal(t, entity.CheckoutStatusExpired, cs.Status)
	assert.Equal(t, entity.PaymentStatusUnpaid, cs.PaymentStatus)
	assert.Empty(t, cs.PaymentIntentID)
	assert.False(t, cs.Paid())
}
