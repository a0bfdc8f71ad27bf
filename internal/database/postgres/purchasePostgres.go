package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ds124wfegd/studio-booking/internal/entity"
)

const purchaseColumns = `
	id, user_id, checkout_session_id, package_name, credits, amount_cents, currency, status,
	payment_intent_id, amount_received, refund_id, refund_attempts, metadata, completed_at, refunded_at,
	created_at, updated_at
`

type purchaseRepository struct {
	db *sql.DB
}

func NewPurchaseRepository(db *sql.DB) PurchaseRepository {
	return &purchaseRepository{db: db}
}

func (r *purchaseRepository) Create(ctx context.Context, p *entity.Purchase) error {
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode purchase metadata: %w", err)
	}
	if p.Metadata == nil {
		metadata = []byte("{}")
	}

	query := `
		INSERT INTO purchases (
			user_id, checkout_session_id, package_name, credits, amount_cents, currency,
			status, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query,
		p.UserID,
		p.CheckoutSessionID,
		p.PackageName,
		p.Credits,
		p.AmountCents,
		p.Currency,
		p.Status,
		metadata,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create purchase: %w", err)
	}

	return nil
}

func (r *purchaseRepository) GetByID(ctx context.Context, id int64) (*entity.Purchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE id = $1`

	p, err := scanPurchase(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrPurchaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase: %w", err)
	}
	return p, nil
}

func (r *purchaseRepository) GetByCheckoutSessionID(ctx context.Context, checkoutSessionID string) (*entity.Purchase, error) {
	return getPurchaseBySession(ctx, r.db, checkoutSessionID)
}

// GetByUserID returns the user's purchases, newest first
func (r *purchaseRepository) GetByUserID(ctx context.Context, userID int64, limit int) ([]*entity.Purchase, error) {
	query := `
		SELECT ` + purchaseColumns + `
		FROM purchases
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	return r.list(ctx, query, userID, limit)
}

// ListStalePending returns the oldest PENDING purchases created before the cutoff
func (r *purchaseRepository) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*entity.Purchase, error) {
	query := `
		SELECT ` + purchaseColumns + `
		FROM purchases
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`
	return r.list(ctx, query, createdBefore, limit)
}

func (r *purchaseRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.Purchase, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchases: %w", err)
	}
	defer rows.Close()

	var purchases []*entity.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		purchases = append(purchases, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating purchases: %w", err)
	}

	return purchases, nil
}

// Complete is the only place credits are issued for a purchase. The
// PENDING guard on the UPDATE makes concurrent or repeated calls credit once.
func (r *purchaseRepository) Complete(ctx context.Context, checkoutSessionID string, receipt *entity.PaymentReceipt) (*entity.Purchase, bool, error) {
	var (
		purchase *entity.Purchase
		applied  bool
	)

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `
			UPDATE purchases
			SET status = 'COMPLETED', payment_intent_id = $2, amount_received = $3,
			    completed_at = NOW(), updated_at = NOW()
			WHERE checkout_session_id = $1 AND status = 'PENDING'
			RETURNING ` + purchaseColumns

		p, err := scanPurchase(tx.QueryRowContext(ctx, query,
			checkoutSessionID, receipt.PaymentIntentID, receipt.AmountReceived))
		if errors.Is(err, sql.ErrNoRows) {
			purchase, err = getPurchaseBySession(ctx, tx, checkoutSessionID)
			applied = false
			return err
		}
		if err != nil {
			return fmt.Errorf("failed to complete purchase: %w", err)
		}

		err = adjustBalanceTx(ctx, tx, &entity.CreditTransaction{
			UserID:        p.UserID,
			Kind:          entity.CreditKindPurchase,
			Amount:        p.Credits,
			ReferenceType: "purchase",
			ReferenceID:   strconv.FormatInt(p.ID, 10),
		})
		if err != nil {
			return err
		}

		purchase, applied = p, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return purchase, applied, nil
}

func (r *purchaseRepository) Close(ctx context.Context, checkoutSessionID string, status entity.PurchaseStatus) (*entity.Purchase, bool, error) {
	if status != entity.PurchaseStatusFailed && status != entity.PurchaseStatusCancelled {
		return nil, false, fmt.Errorf("%w: cannot close purchase as %s", entity.ErrInvalidInput, status)
	}

	query := `
		UPDATE purchases
		SET status = $2, updated_at = NOW()
		WHERE checkout_session_id = $1 AND status = 'PENDING'
		RETURNING ` + purchaseColumns

	p, err := scanPurchase(r.db.QueryRowContext(ctx, query, checkoutSessionID, status))
	if errors.Is(err, sql.ErrNoRows) {
		p, err = getPurchaseBySession(ctx, r.db, checkoutSessionID)
		if err != nil {
			return nil, false, err
		}
		return p, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to close purchase: %w", err)
	}

	return p, true, nil
}

// MarkRefunded flips a COMPLETED purchase to REFUNDED and takes the credits
// back. A balance that cannot cover the refund rolls both changes back. Every
// call counts one refund attempt.
func (r *purchaseRepository) MarkRefunded(ctx context.Context, id int64) (*entity.Purchase, error) {
	var purchase *entity.Purchase

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `
			UPDATE purchases
			SET status = 'REFUNDED', refunded_at = NOW(), refund_attempts = refund_attempts + 1, updated_at = NOW()
			WHERE id = $1 AND status = 'COMPLETED'
			RETURNING ` + purchaseColumns

		p, err := scanPurchase(tx.QueryRowContext(ctx, query, id))
		if errors.Is(err, sql.ErrNoRows) {
			var exists bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS(SELECT 1 FROM purchases WHERE id = $1)`, id,
			).Scan(&exists); err != nil {
				return fmt.Errorf("failed to check purchase: %w", err)
			}
			if !exists {
				return entity.ErrPurchaseNotFound
			}
			return entity.ErrPurchaseNotCompleted
		}
		if err != nil {
			return fmt.Errorf("failed to refund purchase: %w", err)
		}

		err = adjustBalanceTx(ctx, tx, &entity.CreditTransaction{
			UserID:        p.UserID,
			Kind:          entity.CreditKindPurchaseRefund,
			Amount:        -p.Credits,
			ReferenceType: "purchase",
			ReferenceID:   strconv.FormatInt(p.ID, 10),
		})
		if errors.Is(err, entity.ErrInsufficientCredits) {
			return entity.ErrInsufficientBalanceForRefund
		}
		if err != nil {
			return err
		}

		purchase = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	return purchase, nil
}

// RevertRefund undoes MarkRefunded when the processor rejected the refund.
func (r *purchaseRepository) RevertRefund(ctx context.Context, id int64) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `
			UPDATE purchases
			SET status = 'COMPLETED', refunded_at = NULL, updated_at = NOW()
			WHERE id = $1 AND status = 'REFUNDED'
			RETURNING user_id, credits
		`

		var userID, credits int64
		err := tx.QueryRowContext(ctx, query, id).Scan(&userID, &credits)
		if errors.Is(err, sql.ErrNoRows) {
			return entity.ErrPurchaseNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to revert refund: %w", err)
		}

		return adjustBalanceTx(ctx, tx, &entity.CreditTransaction{
			UserID:        userID,
			Kind:          entity.CreditKindPurchaseRefundReversal,
			Amount:        credits,
			ReferenceType: "purchase",
			ReferenceID:   strconv.FormatInt(id, 10),
		})
	})
}

func (r *purchaseRepository) SetRefundID(ctx context.Context, id int64, refundID string) error {
	query := `UPDATE purchases SET refund_id = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, refundID)
	if err != nil {
		return fmt.Errorf("failed to set refund id: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return entity.ErrPurchaseNotFound
	}

	return nil
}

// queryRower is satisfied by *sql.DB and *sql.Tx.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getPurchaseBySession(ctx context.Context, q queryRower, checkoutSessionID string) (*entity.Purchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE checkout_session_id = $1`

	p, err := scanPurchase(q.QueryRowContext(ctx, query, checkoutSessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrPurchaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase by checkout session: %w", err)
	}
	return p, nil
}

func scanPurchase(row rowScanner) (*entity.Purchase, error) {
	var (
		p        entity.Purchase
		metadata []byte
	)
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.CheckoutSessionID,
		&p.PackageName,
		&p.Credits,
		&p.AmountCents,
		&p.Currency,
		&p.Status,
		&p.PaymentIntentID,
		&p.AmountReceived,
		&p.RefundID,
		&p.RefundAttempts,
		&metadata,
		&p.CompletedAt,
		&p.RefundedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode purchase metadata: %w", err)
		}
	}
	return &p, nil
}
