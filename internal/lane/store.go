package lane

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore persists lanes in the workspace database, sharing the handle
// opened by the job store.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS lanes (
		id         TEXT PRIMARY KEY,
		role       TEXT NOT NULL,
		redactions INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS lane_messages (
		lane_id    TEXT NOT NULL,
		position   INTEGER NOT NULL,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (lane_id, position)
	);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate lane schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadLane(ctx context.Context, id string) (*Lane, bool, error) {
	ln := &Lane{ID: id}

	row := s.db.QueryRowContext(ctx,
		`SELECT role, redactions, updated_at FROM lanes WHERE id = ?`, id)
	if err := row.Scan(&ln.Role, &ln.Redactions, &ln.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load lane %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM lane_messages WHERE lane_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, false, fmt.Errorf("load lane messages %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, false, fmt.Errorf("scan lane message: %w", err)
		}
		ln.Messages = append(ln.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate lane messages: %w", err)
	}
	return ln, true, nil
}

func (s *SQLiteStore) Append(ctx context.Context, id string, msg Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO lanes (id, role, redactions, updated_at) VALUES (?, ?, 0, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		id, laneRole(id), now); err != nil {
		return fmt.Errorf("upsert lane %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO lane_messages (lane_id, position, role, content, created_at)
		SELECT ?, COALESCE(MAX(position), 0) + 1, ?, ?, ?
		FROM lane_messages WHERE lane_id = ?`,
		id, msg.Role, msg.Content, msg.CreatedAt, id); err != nil {
		return fmt.Errorf("insert lane message %s: %w", id, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Replace(ctx context.Context, id string, msgs []Message, redactions int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO lanes (id, role, redactions, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET redactions = excluded.redactions, updated_at = excluded.updated_at`,
		id, laneRole(id), redactions, now); err != nil {
		return fmt.Errorf("upsert lane %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM lane_messages WHERE lane_id = ?`, id); err != nil {
		return fmt.Errorf("clear lane %s: %w", id, err)
	}
	for i, msg := range msgs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO lane_messages (lane_id, position, role, content, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			id, i+1, msg.Role, msg.Content, msg.CreatedAt); err != nil {
			return fmt.Errorf("insert lane message %s: %w", id, err)
		}
	}
	return tx.Commit()
}
