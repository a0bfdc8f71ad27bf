package entity

import "time"

type Role string

const (
	RoleClient  Role = "client"
	RolePartner Role = "partner"
	RoleAdmin   Role = "admin"
)

type User struct {
	ID            int64     `json:"id" db:"id"`
	Email         string    `json:"email" db:"email"`
	Name          string    `json:"name" db:"name"`
	Role          Role      `json:"role" db:"role"`
	TelegramID    string    `json:"telegram_id,omitempty" db:"telegram_id"`
	Verified      bool      `json:"verified" db:"verified"`
	CreditBalance int64     `json:"credit_balance" db:"credit_balance"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

type CreditKind string

const (
	CreditKindPurchase               CreditKind = "purchase"
	CreditKindPurchaseRefund         CreditKind = "purchase_refund"
	CreditKindPurchaseRefundReversal CreditKind = "purchase_refund_reversal"
	CreditKindBookingCharge          CreditKind = "booking_charge"
	CreditKindBookingRefund          CreditKind = "booking_refund"
)

// CreditTransaction is an append-only record of one balance change.
type CreditTransaction struct {
	ID            int64      `json:"id" db:"id"`
	UserID        int64      `json:"user_id" db:"user_id"`
	Kind          CreditKind `json:"kind" db:"kind"`
	Amount        int64      `json:"amount" db:"amount"`
	BalanceAfter  int64      `json:"balance_after" db:"balance_after"`
	ReferenceType string     `json:"reference_type" db:"reference_type"`
	ReferenceID   string     `json:"reference_id" db:"reference_id"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}
