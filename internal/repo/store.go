package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sentinel/internal/domain"
	"sentinel/internal/events"
)

const stateKey = "state"

// Store persists the serialized State Document and its audit trail.
type Store struct {
	Repo   Repo
	Events events.Writer
	Now    func() time.Time
}

// NewStore builds a Store over an opened, migrated database.
func NewStore(db *sql.DB) Store {
	return Store{Repo: Repo{DB: db}, Events: events.Writer{DB: db}, Now: time.Now}
}

func (s Store) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Load returns the saved document or ErrNotFound on first run.
func (s Store) Load(ctx context.Context) ([]byte, error) {
	var payload string
	err := s.Repo.DB.QueryRowContext(ctx, `SELECT payload FROM documents WHERE key=?`, stateKey).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	return []byte(payload), nil
}

// Save replaces the document and appends audit entries in one transaction.
func (s Store) Save(ctx context.Context, doc []byte, audit []domain.SystemLog) error {
	tx, err := s.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO documents(key,payload,updated_at) VALUES (?,?,?)
		ON CONFLICT(key) DO UPDATE SET payload=excluded.payload, updated_at=excluded.updated_at`,
		stateKey, string(doc), domain.FormatTime(s.now())); err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	for _, entry := range audit {
		if err := s.Events.Append(ctx, tx, entry); err != nil {
			return fmt.Errorf("append audit: %w", err)
		}
	}
	return tx.Commit()
}

// AuditEvent is one row of the durable audit trail.
type AuditEvent struct {
	ID int64 `json:"id"`
	domain.SystemLog
}

// ListAudit returns the newest audit rows first, optionally filtered by action.
func (s Store) ListAudit(ctx context.Context, action string, limit int) ([]AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, ts, actor, action, details, level, COALESCE(log_id,'') FROM audit_events`
	var args []any
	if action != "" {
		query += ` WHERE action=?`
		args = append(args, action)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := s.Repo.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []AuditEvent
	for rows.Next() {
		var ev AuditEvent
		var level string
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.Actor, &ev.Action, &ev.Details, &level, &ev.SystemLog.ID); err != nil {
			return nil, err
		}
		ev.Level = domain.LogLevel(level)
		res = append(res, ev)
	}
	return res, rows.Err()
}
