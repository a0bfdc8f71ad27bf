package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ds124wfegd/studio-booking/internal/entity"
)

// adjustBalanceTx applies delta to the user's credit balance and appends the
// matching credit_transactions row. The balance never goes below zero: a
// debit that does not fit fails with entity.ErrInsufficientCredits.
func adjustBalanceTx(ctx context.Context, tx *sql.Tx, entry *entity.CreditTransaction) error {
	query := `
		UPDATE users
		SET credit_balance = credit_balance + $1, updated_at = NOW()
		WHERE id = $2 AND credit_balance + $1 >= 0
		RETURNING credit_balance
	`

	var balance int64
	err := tx.QueryRowContext(ctx, query, entry.Amount, entry.UserID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, entry.UserID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check user: %w", err)
		}
		if !exists {
			return entity.ErrUserNotFound
		}
		return entity.ErrInsufficientCredits
	}
	if err != nil {
		return fmt.Errorf("failed to update credit balance: %w", err)
	}

	entry.BalanceAfter = balance

	query = `
		INSERT INTO credit_transactions (
			user_id, kind, amount, balance_after, reference_type, reference_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, created_at
	`
	err = tx.QueryRowContext(ctx, query,
		entry.UserID,
		entry.Kind,
		entry.Amount,
		entry.BalanceAfter,
		entry.ReferenceType,
		entry.ReferenceID,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record credit transaction: %w", err)
	}

	return nil
}
