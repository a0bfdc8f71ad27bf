package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ds124wfegd/studio-booking/internal/entity"
)

type userRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	query := `
		SELECT id, email, name, role, telegram_id, verified, credit_balance, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	var (
		user       entity.User
		telegramID sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.Role,
		&telegramID,
		&user.Verified,
		&user.CreditBalance,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.TelegramID = telegramID.String
	return &user, nil
}

// GetCreditTransactions returns the user's credit ledger, newest first
func (r *userRepository) GetCreditTransactions(ctx context.Context, userID int64, limit int) ([]*entity.CreditTransaction, error) {
	query := `
		SELECT id, user_id, kind, amount, balance_after, reference_type, reference_id, created_at
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query credit transactions: %w", err)
	}
	defer rows.Close()

	var entries []*entity.CreditTransaction
	for rows.Next() {
		var e entity.CreditTransaction
		err := rows.Scan(
			&e.ID,
			&e.UserID,
			&e.Kind,
			&e.Amount,
			&e.BalanceAfter,
			&e.ReferenceType,
			&e.ReferenceID,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credit transaction: %w", err)
		}
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating credit transactions: %w", err)
	}

	return entries, nil
}
