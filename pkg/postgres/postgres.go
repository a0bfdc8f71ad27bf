package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ds124wfegd/studio-booking/config"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

func NewPostgresDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.Info("Successfully connected to PostgreSQL")
	return db, nil
}

// Migrations is the schema in apply order. Studios and classes are owned by
// the catalogue service; only the columns read here are declared.
var Migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		email VARCHAR(255) UNIQUE NOT NULL,
		name VARCHAR(255) NOT NULL,
		role VARCHAR(20) NOT NULL DEFAULT 'client',
		telegram_id VARCHAR(100),
		verified BOOLEAN NOT NULL DEFAULT FALSE,
		credit_balance BIGINT NOT NULL DEFAULT 0 CHECK (credit_balance >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS studios (
		id BIGSERIAL PRIMARY KEY,
		partner_id BIGINT NOT NULL REFERENCES users(id),
		name VARCHAR(255) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS classes (
		id BIGSERIAL PRIMARY KEY,
		studio_id BIGINT NOT NULL REFERENCES studios(id),
		title VARCHAR(255) NOT NULL,
		capacity INTEGER NOT NULL CHECK (capacity > 0),
		base_price BIGINT NOT NULL DEFAULT 0 CHECK (base_price >= 0),
		status VARCHAR(20) NOT NULL DEFAULT 'ACTIVE',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS sessions (
		id BIGSERIAL PRIMARY KEY,
		class_id BIGINT NOT NULL REFERENCES classes(id),
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'SCHEDULED',
		confirmed_count INTEGER NOT NULL DEFAULT 0 CHECK (confirmed_count >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (end_time > start_time)
	)`,

	`CREATE TABLE IF NOT EXISTS bookings (
		id BIGSERIAL PRIMARY KEY,
		code VARCHAR(32) UNIQUE NOT NULL,
		user_id BIGINT NOT NULL REFERENCES users(id),
		session_id BIGINT NOT NULL REFERENCES sessions(id),
		status VARCHAR(20) NOT NULL DEFAULT 'CONFIRMED',
		checked_in_at TIMESTAMPTZ,
		amount_paid BIGINT NOT NULL DEFAULT 0,
		platform_fee BIGINT NOT NULL DEFAULT 0,
		partner_payout BIGINT NOT NULL DEFAULT 0,
		cancelled_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS purchases (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id),
		checkout_session_id VARCHAR(255) UNIQUE NOT NULL,
		package_name VARCHAR(64) NOT NULL DEFAULT '',
		credits BIGINT NOT NULL CHECK (credits > 0),
		amount_cents BIGINT NOT NULL CHECK (amount_cents >= 0),
		currency VARCHAR(3) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
		payment_intent_id VARCHAR(255) NOT NULL DEFAULT '',
		amount_received BIGINT NOT NULL DEFAULT 0,
		refund_id VARCHAR(255) NOT NULL DEFAULT '',
		refund_attempts INTEGER NOT NULL DEFAULT 0,
		metadata JSONB NOT NULL DEFAULT '{}',
		completed_at TIMESTAMPTZ,
		refunded_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS payment_events (
		event_id VARCHAR(255) PRIMARY KEY,
		event_type VARCHAR(100) NOT NULL,
		payload JSONB,
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		last_error TEXT,
		attempts INTEGER NOT NULL DEFAULT 1,
		claimed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS credit_transactions (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id),
		kind VARCHAR(32) NOT NULL,
		amount BIGINT NOT NULL,
		balance_after BIGINT NOT NULL,
		reference_type VARCHAR(32) NOT NULL,
		reference_id VARCHAR(255) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`ALTER TABLE purchases ADD COLUMN IF NOT EXISTS refund_attempts INTEGER NOT NULL DEFAULT 0`,

	// At most one seat-holding booking per user and session
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_bookings_active_user_session
		ON bookings(user_id, session_id) WHERE status IN ('CONFIRMED', 'COMPLETED')`,

	// Indexes
	`CREATE INDEX IF NOT EXISTS idx_bookings_session_status ON bookings(session_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_user_created ON bookings(user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_class_id ON sessions(class_id)`,
	`CREATE INDEX IF NOT EXISTS idx_purchases_status_created ON purchases(status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_purchases_user_created ON purchases(user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_events_failed ON payment_events(created_at DESC) WHERE last_error IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_credit_transactions_user ON credit_transactions(user_id, created_at DESC)`,
}

func RunMigrations(ctx context.Context, db *sql.DB) error {
	for i, migration := range Migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("failed to execute migration %d: %w", i+1, err)
		}
	}

	logrus.WithField("count", len(Migrations)).Info("Database migrations completed successfully")
	return nil
}
