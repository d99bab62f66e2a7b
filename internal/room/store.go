package room

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists room metadata. Set merges values into the room's existing
// metadata; a JSON null value removes the key.
type Store interface {
	Get(ctx context.Context, roomID string) (map[string]json.RawMessage, error)
	Set(ctx context.Context, roomID string, values map[string]json.RawMessage) error
}

func isNullValue(v json.RawMessage) bool {
	t := bytes.TrimSpace(v)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// MemoryStore keeps metadata in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]map[string]json.RawMessage
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]map[string]json.RawMessage)}
}

func (m *MemoryStore) Get(_ context.Context, roomID string) (map[string]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(m.rooms[roomID]))
	for k, v := range m.rooms[roomID] {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out, nil
}

func (m *MemoryStore) Set(_ context.Context, roomID string, values map[string]json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.rooms[roomID]
	if !ok {
		meta = make(map[string]json.RawMessage)
		m.rooms[roomID] = meta
	}
	for k, v := range values {
		if isNullValue(v) {
			delete(meta, k)
			continue
		}
		meta[k] = append(json.RawMessage(nil), v...)
	}
	return nil
}

const metadataSchemaSQL = `
CREATE TABLE IF NOT EXISTS room_metadata (
	room_id    TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (room_id, key)
);
`

// SQLiteStore keeps metadata in a SQLite database so rooms survive a host
// restart.
type SQLiteStore struct {
	conn *sql.DB
}

// OpenSQLiteStore opens (or creates) the database at dsn and applies the
// schema.
func OpenSQLiteStore(dsn string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("room: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("room: ping: %w", err)
	}
	if _, err := conn.Exec(metadataSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("room: apply schema: %w", err)
	}
	return &SQLiteStore{conn: conn}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, roomID string) (map[string]json.RawMessage, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT key, value FROM room_metadata WHERE room_id = ?`, roomID)
	if err != nil {
		return nil, fmt.Errorf("room: get metadata: %w", err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[key] = json.RawMessage(value)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Set(ctx context.Context, roomID string, values map[string]json.RawMessage) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("room: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	now := time.Now().UTC()
	for key, value := range values {
		if isNullValue(value) {
			if _, err := tx.ExecContext(ctx, `DELETE FROM room_metadata WHERE room_id = ? AND key = ?`, roomID, key); err != nil {
				return fmt.Errorf("room: delete metadata %s: %w", key, err)
			}
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO room_metadata (room_id, key, value, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(room_id, key) DO UPDATE SET
				value      = excluded.value,
				updated_at = excluded.updated_at
		`, roomID, key, string(value), now)
		if err != nil {
			return fmt.Errorf("room: upsert metadata %s: %w", key, err)
		}
	}
	return tx.Commit()
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
