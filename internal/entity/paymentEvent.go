package entity

import (
	"encoding/json"
	"time"
)

const (
	PaymentEventCheckoutCompleted  = "checkout.session.completed"
	PaymentEventAsyncPaymentOK     = "checkout.session.async_payment_succeeded"
	PaymentEventAsyncPaymentFailed = "checkout.session.async_payment_failed"
	PaymentEventCheckoutExpired    = "checkout.session.expired"
)

// PaymentEvent is one row of the payment event journal.
type PaymentEvent struct {
	EventID     string          `json:"event_id" db:"event_id"`
	EventType   string          `json:"event_type" db:"event_type"`
	Payload     json.RawMessage `json:"payload,omitempty" db:"payload"`
	Processed   bool            `json:"processed" db:"processed"`
	LastError   *string         `json:"last_error,omitempty" db:"last_error"`
	Attempts    int             `json:"attempts" db:"attempts"`
	ClaimedAt   *time.Time      `json:"claimed_at,omitempty" db:"claimed_at"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
}

// JournalResult tells the caller whether it owns processing of an event.
type JournalResult int

const (
	JournalAlreadySeen JournalResult = iota
	JournalInserted
	// JournalReclaimed is an earlier delivery that never finished processing.
	JournalReclaimed
)

func (r JournalResult) String() string {
	switch r {
	case JournalInserted:
		return "inserted"
	case JournalReclaimed:
		return "reclaimed"
	default:
		return "already_seen"
	}
}

// PaymentNotification is a verified processor event, reduced to the fields
// reconciliation needs.
type PaymentNotification struct {
	EventID           string
	Type              string
	CheckoutSessionID string
	PaymentStatus     string
	PaymentIntentID   string
	AmountTotal       int64
	Currency          string
	Payload           json.RawMessage
}

func (n *PaymentNotification) Receipt() *PaymentReceipt {
	return &PaymentReceipt{
		PaymentIntentID: n.PaymentIntentID,
		AmountReceived:  n.AmountTotal,
		Currency:        n.Currency,
	}
}
