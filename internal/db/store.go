package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TimeFormat is the timestamp layout of stored rows.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Store keeps namespace snapshots by key and journals actions.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a store over an opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SaveState replaces the state stored under key.
func (s *Store) SaveState(ctx context.Context, key string, data []byte) error {
	if _, err := s.db.ExecContext(ctx, `INSERT INTO states(key, data, updated_at) VALUES(?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at`,
		key, string(data), s.timestamp()); err != nil {
		return fmt.Errorf("save state %s: %w", key, err)
	}
	return nil
}

// LoadState returns the state stored under key and whether there was one.
func (s *Store) LoadState(ctx context.Context, key string) ([]byte, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT data FROM states WHERE key=?`, key)
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load state %s: %w", key, err)
	}
	return []byte(data), true, nil
}

// DeleteState removes the state stored under key.
func (s *Store) DeleteState(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM states WHERE key=?`, key); err != nil {
		return fmt.Errorf("delete state %s: %w", key, err)
	}
	return nil
}

// Action is a journalled session action.
type Action struct {
	Namespace   string
	Seq         int
	Timestamp   string
	Action      string
	PayloadJSON string
}

// AppendAction journals an action of namespace with the next sequence number.
func (s *Store) AppendAction(ctx context.Context, namespace, action string, payload []byte) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin append action: %w", err)
	}
	seq, err := s.nextSeq(ctx, tx, namespace)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO actions(namespace, seq, ts, action, payload_json) VALUES(?, ?, ?, ?, ?)`,
		namespace, seq, s.timestamp(), action, nullableString(string(payload))); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert action: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append action: %w", err)
	}
	return nil
}

func (s *Store) nextSeq(ctx context.Context, tx *sql.Tx, namespace string) (int, error) {
	var seq int
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM actions WHERE namespace=?`, namespace)
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("read action seq: %w", err)
	}
	return seq + 1, nil
}

// Actions lists the journal of namespace in sequence order, at most limit
// entries from the end when limit is positive.
func (s *Store) Actions(ctx context.Context, namespace string, limit int) ([]Action, error) {
	query := `SELECT namespace, seq, ts, action, COALESCE(payload_json, '') FROM actions WHERE namespace=? ORDER BY seq`
	args := []any{namespace}
	if limit > 0 {
		query = `SELECT * FROM (SELECT namespace, seq, ts, action, COALESCE(payload_json, '') FROM actions
			WHERE namespace=? ORDER BY seq DESC LIMIT ?) ORDER BY seq`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var out []Action
	for rows.Next() {
		var a Action
		if err := rows.Scan(&a.Namespace, &a.Seq, &a.Timestamp, &a.Action, &a.PayloadJSON); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	return out, nil
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(TimeFormat)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
