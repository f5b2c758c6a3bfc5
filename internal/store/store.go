// Package store keeps a deduplicated local mirror of fetched message
// metadata in sqlite, keyed by the remote message id. The processing
// path only reads rows, flips the processed marker, and refreshes the
// label mirror after a successful remote mutation.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id TEXT NOT NULL UNIQUE,
	thread_id TEXT NOT NULL DEFAULT '',
	history_id INTEGER NOT NULL DEFAULT 0,
	from_address TEXT NOT NULL DEFAULT '',
	to_address TEXT NOT NULL DEFAULT '',
	subject TEXT NOT NULL DEFAULT '',
	snippet TEXT NOT NULL DEFAULT '',
	label_ids TEXT NOT NULL DEFAULT '[]',
	received_at TIMESTAMP,
	processed_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_processed_at ON messages(processed_at);
CREATE INDEX IF NOT EXISTS idx_messages_received_at ON messages(received_at);
`

// Message is one mirrored row. Labels holds remote label IDs.
type Message struct {
	ID          string
	ThreadID    string
	HistoryID   int64
	From        string
	To          string
	Subject     string
	Snippet     string
	Labels      []string
	Received    time.Time
	ProcessedAt *time.Time
	CreatedAt   time.Time
}

// Store wraps the sqlite mirror database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the mirror database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	// WAL is an optimization; carry on without it if the pragma fails.
	_, _ = db.Exec(`PRAGMA journal_mode = WAL;`)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create store schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store ping: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert inserts messages, skipping rows whose remote id already exists.
// Returns the number of newly inserted rows.
func (s *Store) Upsert(ctx context.Context, msgs []Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (message_id, thread_id, history_id, from_address, to_address,
			subject, snippet, label_ids, received_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	inserted := 0
	for _, m := range msgs {
		labels, err := encodeLabels(m.Labels)
		if err != nil {
			return inserted, fmt.Errorf("encode labels for %s: %w", m.ID, err)
		}
		created := m.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		res, err := stmt.ExecContext(ctx, m.ID, m.ThreadID, m.HistoryID, m.From, m.To,
			m.Subject, m.Snippet, labels, m.Received.UTC(), created)
		if err != nil {
			return inserted, fmt.Errorf("insert %s: %w", m.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return inserted, fmt.Errorf("commit upsert: %w", err)
	}
	return inserted, nil
}

// QueryUnprocessed returns up to limit messages that have not yet been
// marked processed, in stable received-then-id order, skipping offset
// rows of the same view.
func (s *Store) QueryUnprocessed(ctx context.Context, limit, offset int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, thread_id, history_id, from_address, to_address,
			subject, snippet, label_ids, received_at, processed_at, created_at
		FROM messages
		WHERE processed_at IS NULL
		ORDER BY received_at, id
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan unprocessed: %w", err)
	}
	return out, nil
}

// MarkProcessed records that all actions for the message were satisfied
// at the given time.
func (s *Store) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET processed_at = ? WHERE message_id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark processed %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("mark processed %s: no such message", id)
	}
	return nil
}

// UpdateLabels refreshes the mirrored label set after a remote mutation.
func (s *Store) UpdateLabels(ctx context.Context, id string, labels []string) error {
	encoded, err := encodeLabels(labels)
	if err != nil {
		return fmt.Errorf("encode labels for %s: %w", id, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE messages SET label_ids = ? WHERE message_id = ?`, encoded, id); err != nil {
		return fmt.Errorf("update labels %s: %w", id, err)
	}
	return nil
}

// Count reports the total number of mirrored messages.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func scanMessage(rows *sql.Rows) (Message, error) {
	var (
		m         Message
		labels    string
		received  sql.NullTime
		processed sql.NullTime
	)
	if err := rows.Scan(&m.ID, &m.ThreadID, &m.HistoryID, &m.From, &m.To,
		&m.Subject, &m.Snippet, &labels, &received, &processed, &m.CreatedAt); err != nil {
		return Message{}, fmt.Errorf("scan message row: %w", err)
	}
	if received.Valid {
		m.Received = received.Time
	}
	if processed.Valid {
		t := processed.Time
		m.ProcessedAt = &t
	}
	if err := json.Unmarshal([]byte(labels), &m.Labels); err != nil {
		return Message{}, fmt.Errorf("decode labels for %s: %w", m.ID, err)
	}
	return m, nil
}

func encodeLabels(labels []string) (string, error) {
	if labels == nil {
		labels = []string{}
	}
	b, err := json.Marshal(labels)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
