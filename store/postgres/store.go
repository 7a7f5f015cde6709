// Package postgres provides a PostgreSQL implementation of store.Store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rbaliyan/mailboxer/store"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL.
type Store struct {
	db        *sqlx.DB
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a new PostgreSQL store with the provided database connection.
// Call Connect() to initialize the schema and indexes.
func New(db *sqlx.DB, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		db:     db,
		opts:   o,
		logger: o.logger,
	}
}

// NewFromDB creates a new PostgreSQL store from a standard sql.DB connection.
// This wraps the sql.DB with sqlx for enhanced functionality.
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	return New(sqlx.NewDb(db, "postgres"), opts...)
}

// Connect initializes the schema and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if s.db == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres: db is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres ping: %w", err)
	}

	if err := s.ensureSchema(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure schema: %w", err)
	}

	s.logger.Info("connected to PostgreSQL", "prefix", s.opts.prefix)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the database connection.
func (s *Store) Close(ctx context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// ensureSchema creates the required tables and indexes.
func (s *Store) ensureSchema(ctx context.Context) error {
	conv, msgs, notes, rcpts := s.opts.conversations(), s.opts.messages(), s.opts.notifications(), s.opts.receipts()

	tables := []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			subject TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, conv),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			seq BIGSERIAL,
			conversation_id TEXT NOT NULL REFERENCES %s(id),
			sender_id VARCHAR(255) NOT NULL,
			subject TEXT NOT NULL,
			body TEXT NOT NULL,
			recipient_ids TEXT[] NOT NULL DEFAULT '{}',
			attachment JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, msgs, conv),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			sender_id VARCHAR(255) NOT NULL DEFAULT '',
			subject TEXT NOT NULL,
			body TEXT NOT NULL,
			object_type VARCHAR(255),
			object_id VARCHAR(255),
			recipient_ids TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, notes),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			seq BIGSERIAL,
			deliverable_id TEXT NOT NULL,
			deliverable_kind VARCHAR(32) NOT NULL,
			conversation_id TEXT,
			receiver_id VARCHAR(255) NOT NULL,
			mailbox_type VARCHAR(32) NOT NULL,
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			trashed_at TIMESTAMPTZ,
			deleted_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (deliverable_id, receiver_id, mailbox_type)
		)`, rcpts),
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_conv ON %s(conversation_id, created_at, seq)`, msgs, msgs),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_box ON %s(receiver_id, mailbox_type, created_at DESC) WHERE deleted_at IS NULL AND trashed_at IS NULL`, rcpts, rcpts),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_trash ON %s(receiver_id, trashed_at) WHERE deleted_at IS NULL AND trashed_at IS NOT NULL`, rcpts, rcpts),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_conv ON %s(receiver_id, conversation_id) WHERE conversation_id IS NOT NULL`, rcpts, rcpts),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_deliverable ON %s(deliverable_id)`, rcpts, rcpts),
	}
	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			s.logger.Warn("failed to create index", "error", err, "sql", idx)
		}
	}

	return nil
}

// checkConnected returns error if not connected.
func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// mapError translates driver errors into store sentinels.
func mapError(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%s: %w", op, store.ErrDuplicateEntry)
	}
	return fmt.Errorf("%s: %w", op, err)
}
