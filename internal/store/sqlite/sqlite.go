package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dmaksimv/roomcast-server/internal/proto"
)

// Store implements store.HistoryStore on SQLite. Each room's bounded
// log is one row holding the JSON-encoded message array; Put overwrites
// the row wholesale.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS room_history (
	room_id    TEXT PRIMARY KEY,
	messages   TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

// New creates a new SQLite history store.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the stored message sequence for a room, or nil if nothing
// was recorded.
func (s *Store) Get(ctx context.Context, roomID string) ([]proto.Message, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT messages FROM room_history WHERE room_id = ?`, roomID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	var msgs []proto.Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return msgs, nil
}

// Put replaces the stored sequence for a room with one overwrite.
func (s *Store) Put(ctx context.Context, roomID string, messages []proto.Message) error {
	if messages == nil {
		messages = []proto.Message{}
	}
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO room_history (room_id, messages, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(room_id) DO UPDATE SET
			messages = excluded.messages,
			updated_at = excluded.updated_at
	`, roomID, string(data))
	if err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}
