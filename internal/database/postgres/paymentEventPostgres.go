package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ds124wfegd/studio-booking/internal/entity"
)

const paymentEventColumns = `
	event_id, event_type, payload, processed, last_error, attempts, claimed_at, created_at, processed_at
`

type paymentEventRepository struct {
	db *sql.DB
}

func NewPaymentEventRepository(db *sql.DB) PaymentEventRepository {
	return &paymentEventRepository{db: db}
}

// RecordIfNew relies on the primary key of payment_events to decide first
// sight. A row that was never marked processed can be claimed again once its
// previous claim is older than reclaimAfter or was released.
func (r *paymentEventRepository) RecordIfNew(ctx context.Context, event *entity.PaymentEvent, reclaimAfter time.Duration) (entity.JournalResult, error) {
	var payload interface{}
	if len(event.Payload) > 0 {
		payload = []byte(event.Payload)
	}

	query := `
		INSERT INTO payment_events (event_id, event_type, payload, processed, attempts, claimed_at, created_at)
		VALUES ($1, $2, $3, FALSE, 1, NOW(), NOW())
		ON CONFLICT (event_id) DO NOTHING
		RETURNING event_id
	`
	var id string
	err := r.db.QueryRowContext(ctx, query, event.EventID, event.EventType, payload).Scan(&id)
	if err == nil {
		return entity.JournalInserted, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return entity.JournalAlreadySeen, fmt.Errorf("failed to record payment event: %w", err)
	}

	query = `
		UPDATE payment_events
		SET attempts = attempts + 1, claimed_at = NOW()
		WHERE event_id = $1 AND processed = FALSE
		  AND (claimed_at IS NULL OR claimed_at < NOW() - make_interval(secs => $2))
		RETURNING event_id
	`
	err = r.db.QueryRowContext(ctx, query, event.EventID, reclaimAfter.Seconds()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.JournalAlreadySeen, nil
	}
	if err != nil {
		return entity.JournalAlreadySeen, fmt.Errorf("failed to reclaim payment event: %w", err)
	}

	return entity.JournalReclaimed, nil
}

func (r *paymentEventRepository) MarkProcessed(ctx context.Context, eventID string, procErr error) error {
	query := `
		UPDATE payment_events
		SET processed = TRUE, last_error = $2, processed_at = NOW(), claimed_at = NULL
		WHERE event_id = $1
	`
	return r.update(ctx, query, eventID, errorText(procErr))
}

func (r *paymentEventRepository) ReleaseForRetry(ctx context.Context, eventID string, procErr error) error {
	query := `
		UPDATE payment_events
		SET last_error = $2, claimed_at = NULL
		WHERE event_id = $1 AND processed = FALSE
	`
	return r.update(ctx, query, eventID, errorText(procErr))
}

func (r *paymentEventRepository) update(ctx context.Context, query, eventID string, lastError sql.NullString) error {
	result, err := r.db.ExecContext(ctx, query, eventID, lastError)
	if err != nil {
		return fmt.Errorf("failed to update payment event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("payment event %s not found", eventID)
	}

	return nil
}

func (r *paymentEventRepository) GetByID(ctx context.Context, eventID string) (*entity.PaymentEvent, error) {
	query := `SELECT ` + paymentEventColumns + ` FROM payment_events WHERE event_id = $1`

	event, err := scanPaymentEvent(r.db.QueryRowContext(ctx, query, eventID))
	if err != nil {
		return nil, fmt.Errorf("failed to get payment event: %w", err)
	}
	return event, nil
}

// ListFailed returns processed events whose side effects failed, newest first
func (r *paymentEventRepository) ListFailed(ctx context.Context, limit int) ([]*entity.PaymentEvent, error) {
	query := `
		SELECT ` + paymentEventColumns + `
		FROM payment_events
		WHERE last_error IS NOT NULL
		ORDER BY created_at DESC, event_id DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed payment events: %w", err)
	}
	defer rows.Close()

	var events []*entity.PaymentEvent
	for rows.Next() {
		event, err := scanPaymentEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payment events: %w", err)
	}

	return events, nil
}

func scanPaymentEvent(row rowScanner) (*entity.PaymentEvent, error) {
	var (
		e       entity.PaymentEvent
		payload []byte
	)
	err := row.Scan(
		&e.EventID,
		&e.EventType,
		&payload,
		&e.Processed,
		&e.LastError,
		&e.Attempts,
		&e.ClaimedAt,
		&e.CreatedAt,
		&e.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Payload = payload
	return &e, nil
}

func errorText(err error) sql.NullString {
	if err == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: err.Error(), Valid: true}
}
