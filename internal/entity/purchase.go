package entity

import "time"

type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "PENDING"
	PurchaseStatusCompleted PurchaseStatus = "COMPLETED"
	PurchaseStatusFailed    PurchaseStatus = "FAILED"
	PurchaseStatusCancelled PurchaseStatus = "CANCELLED"
	PurchaseStatusRefunded  PurchaseStatus = "REFUNDED"
)

type Purchase struct {
	ID                int64             `json:"id" db:"id"`
	UserID            int64             `json:"user_id" db:"user_id"`
	CheckoutSessionID string            `json:"checkout_session_id" db:"checkout_session_id"`
	PackageName       string            `json:"package_name,omitempty" db:"package_name"`
	Credits           int64             `json:"credits" db:"credits"`
	AmountCents       int64             `json:"amount_cents" db:"amount_cents"`
	Currency          string            `json:"currency" db:"currency"`
	Status            PurchaseStatus    `json:"status" db:"status"`
	PaymentIntentID   string            `json:"-" db:"payment_intent_id"`
	AmountReceived    int64             `json:"amount_received,omitempty" db:"amount_received"`
	RefundID          string            `json:"refund_id,omitempty" db:"refund_id"`
	RefundAttempts    int               `json:"-" db:"refund_attempts"`
	Metadata          map[string]string `json:"metadata,omitempty" db:"metadata"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
	RefundedAt        *time.Time        `json:"refunded_at,omitempty" db:"refunded_at"`
	CreatedAt         time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at" db:"updated_at"`
}

// PaymentReceipt carries what the processor reported for a paid checkout.
type PaymentReceipt struct {
	PaymentIntentID string
	AmountReceived  int64
	Currency        string
}

// Bounds of a single credit purchase.
const (
	MinCredits = 1
	MaxCredits = 10000
)

// Quote is a priced credit request.
type Quote struct {
	Credits     int64
	AmountCents int64
	Currency    string
	PackageName string
}

// CheckoutRequest is sent to the payment processor to open a hosted checkout.
type CheckoutRequest struct {
	UserID         int64
	Quote          Quote
	IdempotencyKey string
}

// CheckoutSession is the processor's view of a checkout.
type CheckoutSession struct {
	ID              string
	URL             string
	Status          string
	PaymentStatus   string
	PaymentIntentID string
	AmountTotal     int64
	Currency        string
}

const (
	CheckoutStatusOpen     = "open"
	CheckoutStatusComplete = "complete"
	CheckoutStatusExpired  = "expired"

	PaymentStatusPaid              = "paid"
	PaymentStatusUnpaid            = "unpaid"
	PaymentStatusNoPaymentRequired = "no_payment_required"
)

// Paid reports whether the processor has captured funds for the checkout.
func (c *CheckoutSession) Paid() bool {
	return c.PaymentStatus == PaymentStatusPaid || c.PaymentStatus == PaymentStatusNoPaymentRequired
}
