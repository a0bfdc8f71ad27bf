package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ds124wfegd/studio-booking/internal/entity"
)

const sessionColumns = `
	s.id, s.class_id, c.studio_id, st.partner_id, c.title, s.start_time, s.end_time,
	s.status, c.status, c.capacity, s.confirmed_count, c.base_price
`

const sessionFrom = `
	FROM sessions s
	JOIN classes c ON c.id = s.class_id
	JOIN studios st ON st.id = c.studio_id
`

type sessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) GetByID(ctx context.Context, id int64) (*entity.Session, error) {
	query := `SELECT ` + sessionColumns + sessionFrom + ` WHERE s.id = $1`

	session, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

func scanSession(row rowScanner) (*entity.Session, error) {
	var s entity.Session
	err := row.Scan(
		&s.ID,
		&s.ClassID,
		&s.StudioID,
		&s.PartnerID,
		&s.ClassTitle,
		&s.StartTime,
		&s.EndTime,
		&s.Status,
		&s.ClassStatus,
		&s.Capacity,
		&s.ConfirmedCount,
		&s.BasePrice,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
