// Package sqlite provides a SQLite-backed history store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/papercomputeco/tether/pkg/history"
)

// Store implements history.Store using SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (and migrates) a SQLite history database.
// The dbPath can be a file path or ":memory:" for an in-memory database.
func NewStore(dbPath string) (*Store, error) {
	// Open the database using the github.com/mattn/go-sqlite3 driver (registered as "sqlite3")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every :memory: connection is its own database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS exchanges (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		parent_message_id TEXT NOT NULL,
		response_message_id TEXT NOT NULL,
		action TEXT NOT NULL,
		model TEXT NOT NULL,
		prompt TEXT NOT NULL,
		response TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		duration_ns INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_exchanges_conversation ON exchanges(conversation_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_exchanges_created_at ON exchanges(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Put stores a record, replacing any record with the same ID.
func (s *Store) Put(ctx context.Context, r *history.Record) error {
	if r == nil {
		return errors.New("cannot store nil record")
	}

	query := `INSERT OR REPLACE INTO exchanges
		(id, conversation_id, parent_message_id, response_message_id, action, model, prompt, response, created_at, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.ConversationID, r.ParentMessageID, r.ResponseMessageID,
		r.Action, r.Model, r.Prompt, r.Response,
		r.CreatedAt.UnixNano(), int64(r.Duration),
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}

	return nil
}

// Conversation returns the records of one conversation, oldest first.
func (s *Store) Conversation(ctx context.Context, conversationID string) ([]*history.Record, error) {
	query := `SELECT id, conversation_id, parent_message_id, response_message_id, action, model, prompt, response, created_at, duration_ns
		FROM exchanges WHERE conversation_id = ? ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, history.NotFoundError{ConversationID: conversationID}
	}

	return records, nil
}

// Recent returns up to limit records, newest first. A non-positive limit
// returns every record.
func (s *Store) Recent(ctx context.Context, limit int) ([]*history.Record, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `SELECT id, conversation_id, parent_message_id, response_message_id, action, model, prompt, response, created_at, duration_ns
		FROM exchanges ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanRecords(rows *sql.Rows) ([]*history.Record, error) {
	var records []*history.Record
	for rows.Next() {
		var (
			r          history.Record
			createdAt  int64
			durationNS int64
		)
		err := rows.Scan(
			&r.ID, &r.ConversationID, &r.ParentMessageID, &r.ResponseMessageID,
			&r.Action, &r.Model, &r.Prompt, &r.Response,
			&createdAt, &durationNS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		r.CreatedAt = time.Unix(0, createdAt).UTC()
		r.Duration = time.Duration(durationNS)
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}

	return records, nil
}

var _ history.Store = (*Store)(nil)
