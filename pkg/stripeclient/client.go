// Package stripeclient adapts Stripe hosted checkout to the payment
// processor contract used by the payment service.
package stripeclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ds124wfegd/studio-booking/config"
	"github.com/ds124wfegd/studio-booking/internal/entity"

	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/refund"
	"github.com/stripe/stripe-go/v82/webhook"
)

const productName = "Studio credits"

var (
	ErrMissingSecretKey     = errors.New("stripe secret key is empty")
	ErrMissingWebhookSecret = errors.New("stripe webhook secret is empty")
)

type Client struct {
	webhookSecret     string
	successURL        string
	cancelURL         string
	ignoreVersionSkew bool
}

// New sets the process-wide Stripe key. Both secrets are required.
func New(cfg config.StripeConfig) (*Client, error) {
	if cfg.SecretKey == "" {
		return nil, ErrMissingSecretKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	stripe.Key = cfg.SecretKey
	return &Client{
		webhookSecret:     cfg.WebhookSecret,
		successURL:        cfg.SuccessURL,
		cancelURL:         cfg.CancelURL,
		ignoreVersionSkew: cfg.IgnoreAPIVersionMismatch,
	}, nil
}

func (c *Client) CreateCheckoutSession(ctx context.Context, req *entity.CheckoutRequest) (*entity.CheckoutSession, error) {
	params := checkoutParams(req, c.successURL, c.cancelURL)
	params.Context = ctx

	sess, err := checkoutsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return toCheckoutSession(sess), nil
}

func (c *Client) GetCheckoutSession(ctx context.Context, id string) (*entity.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := checkoutsession.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch checkout session %s: %w", id, err)
	}
	return toCheckoutSession(sess), nil
}

func (c *Client) Refund(ctx context.Context, paymentIntentID string, amountCents int64, idempotencyKey string) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
		Amount:        stripe.Int64(amountCents),
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	r, err := refund.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to refund payment intent %s: %w", paymentIntentID, err)
	}
	return r.ID, nil
}

// ParseWebhook verifies the Stripe-Signature header and reduces the event to
// a notification. Events that do not carry a checkout session keep only
// their id, type and payload.
func (c *Client) ParseWebhook(payload []byte, signature string) (*entity.PaymentNotification, error) {
	if c.webhookSecret == "" {
		return nil, fmt.Errorf("%w: %v", entity.ErrInvalidSignature, ErrMissingWebhookSecret)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: c.ignoreVersionSkew,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrInvalidSignature, err)
	}

	n := &entity.PaymentNotification{
		EventID: event.ID,
		Type:    string(event.Type),
		Payload: json.RawMessage(payload),
	}
	if !strings.HasPrefix(n.Type, "checkout.session.") {
		return n, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("%w: checkout session: %v", entity.ErrInvalidInput, err)
	}

	cs := toCheckoutSession(&sess)
	n.CheckoutSessionID = cs.ID
	n.PaymentStatus = cs.PaymentStatus
	n.PaymentIntentID = cs.PaymentIntentID
	n.AmountTotal = cs.AmountTotal
	n.Currency = cs.Currency
	return n, nil
}

func checkoutParams(req *entity.CheckoutRequest, successURL, cancelURL string) *stripe.CheckoutSessionParams {
	q := req.Quote
	name := productName
	if q.PackageName != "" {
		name = fmt.Sprintf("%s (%s)", productName, q.PackageName)
	}

	// A package is sold as one unit at its own price.
	unitAmount, quantity := q.AmountCents/q.Credits, q.Credits
	if q.PackageName != "" || q.AmountCents%q.Credits != 0 {
		unitAmount, quantity = q.AmountCents, 1
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(strconv.FormatInt(req.UserID, 10)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(q.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(name),
					},
					UnitAmount: stripe.Int64(unitAmount),
				},
				Quantity: stripe.Int64(quantity),
			},
		},
		Metadata: map[string]string{
			"user_id": strconv.FormatInt(req.UserID, 10),
			"credits": strconv.FormatInt(q.Credits, 10),
		},
	}
	if q.PackageName != "" {
		params.Metadata["package"] = q.PackageName
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	return params
}

func toCheckoutSession(s *stripe.CheckoutSession) *entity.CheckoutSession {
	cs := &entity.CheckoutSession{
		ID:            s.ID,
		URL:           s.URL,
		Status:        string(s.Status),
		PaymentStatus: string(s.PaymentStatus),
		AmountTotal:   s.AmountTotal,
		Currency:      string(s.Currency),
	}
	if s.PaymentIntent != nil {
		cs.PaymentIntentID = s.PaymentIntent.ID
	}
	return cs
}
