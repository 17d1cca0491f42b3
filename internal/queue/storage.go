// Package queue buffers serialized events durably and drives their
// delivery. Storage is a bounded FIFO over SQLite; Queue layers the
// single-flight flush protocol on top.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Row is one stored event: its queue position and the serialized payload
// exactly as it will go on the wire.
type Row struct {
	ID      int64
	Payload []byte
}

// Storage implements the durable FIFO using SQLite.
type Storage struct {
	db *sql.DB
	mu sync.RWMutex
}

// OpenStorage opens or creates the queue database.
// Use ":memory:" for an in-memory database, or a file path for persistent storage.
func OpenStorage(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// The pool must not fan out: an in-memory database exists per
	// connection, and SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	s := &Storage{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *Storage) initialize() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return err
	}
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		payload BLOB NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Insert appends one event to the tail of the queue.
func (s *Storage) Insert(ctx context.Context, uuid string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO events (uuid, created_at, payload) VALUES (?, ?, ?)",
		uuid, time.Now().Unix(), payload,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// TrimToCapacity deletes the oldest rows until at most capacity remain and
// returns how many were evicted. The single DELETE keeps the operation
// atomic under concurrent inserts.
func (s *Storage) TrimToCapacity(ctx context.Context, capacity int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM events WHERE id NOT IN (SELECT id FROM events ORDER BY id DESC LIMIT ?)",
		capacity,
	)
	if err != nil {
		return 0, fmt.Errorf("trim queue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("trim queue rows affected: %w", err)
	}
	return int(n), nil
}

// Peek returns up to limit rows from the head of the queue without
// mutating it.
func (s *Storage) Peek(ctx context.Context, limit int) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, payload FROM events ORDER BY id LIMIT ?", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.Payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// DeleteRows removes exactly the given rows. Rows already evicted by a
// concurrent trim are simply gone; deletion never touches newer events.
func (s *Storage) DeleteRows(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM events WHERE id IN ("+placeholders+")", args...,
	)
	if err != nil {
		return fmt.Errorf("delete events: %w", err)
	}
	return nil
}

// Size returns the number of queued events.
func (s *Storage) Size(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// Clear empties the whole queue.
func (s *Storage) Clear(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM events")
	if err != nil {
		return 0, fmt.Errorf("clear events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear events rows affected: %w", err)
	}
	return int(n), nil
}

// Checkpoint forces the WAL into the main database file, used around
// lifecycle transitions where the process may be killed soon after.
func (s *Storage) Checkpoint(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
