package events

import (
	"context"
	"database/sql"
	"time"

	"sentinel/internal/domain"
)

// Writer appends audit rows inside the caller's transaction so the audit
// trail and the saved document commit together.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Append records one SystemLog entry.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, entry domain.SystemLog) error {
	ts := entry.Timestamp
	if ts == "" {
		now := time.Now
		if w.Now != nil {
			now = w.Now
		}
		ts = domain.FormatTime(now())
	}
	level := entry.Level
	if level == "" {
		level = domain.LevelInfo
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO audit_events(ts,actor,action,details,level,log_id) VALUES (?,?,?,?,?,?)`,
		ts, entry.Actor, entry.Action, entry.Details, string(level), nullable(entry.ID))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
