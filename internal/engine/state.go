package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sentinel/internal/domain"
	"sentinel/internal/telemetry"
)

var requiredImportKeys = []string{"user", "sprints", "metrics", "logs", "chatHistory", "rules"}

// ExportState serializes the current document.
func (e *Engine) ExportState() ([]byte, error) {
	return json.MarshalIndent(e.Snapshot(), "", "  ")
}

// ExportFilename suggests a backup file name for the given day.
func ExportFilename(now time.Time) string {
	return fmt.Sprintf("sentinel_backup_%s.json", now.UTC().Format(time.DateOnly))
}

// ValidateImport checks the shape of a candidate document and decodes it.
func ValidateImport(raw []byte) (*domain.State, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(raw, &root); err != nil || root == nil {
		return nil, fmt.Errorf("%w: root must be an object", ErrInvalidImport)
	}
	var missing []string
	for _, k := range requiredImportKeys {
		if _, ok := root[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing keys %v", ErrInvalidImport, missing)
	}
	if !isArray(root["sprints"]) || !isArray(root["logs"]) {
		return nil, fmt.Errorf("%w: sprints and logs must be arrays", ErrInvalidImport)
	}
	var user map[string]json.RawMessage
	if err := json.Unmarshal(root["user"], &user); err != nil || user == nil {
		return nil, fmt.Errorf("%w: malformed user profile", ErrInvalidImport)
	}
	var name string
	if n, ok := user["name"]; !ok || json.Unmarshal(n, &name) != nil || isNull(n) {
		return nil, fmt.Errorf("%w: malformed user profile", ErrInvalidImport)
	}
	var s domain.State
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	s.Normalize()
	return &s, nil
}

func isArray(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) > 0 && v[0] == '['
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// ImportState replaces the whole document after validation. The document is
// decoded into the known schema, so keys it does not define are dropped; no
// field-level merge with the current document happens. The audit trail
// records the import.
func (e *Engine) ImportState(ctx context.Context, raw []byte) error {
	next, err := ValidateImport(raw)
	if err != nil {
		e.metrics.Command("importState", telemetry.OutcomeError)
		return err
	}
	return e.replace(ctx, "importState", next, "STATE_IMPORTED", "State document replaced by import")
}

// ResetState restores the seed document.
func (e *Engine) ResetState(ctx context.Context) error {
	return e.replace(ctx, "resetState", domain.Seed(e.clock()), "STATE_RESET", "State document reset to seed")
}

func (e *Engine) replace(ctx context.Context, action string, next *domain.State, auditAction, details string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry := domain.SystemLog{
		ID:        newID("log-"),
		Timestamp: domain.FormatTime(e.clock()),
		Actor:     domain.ActorSystem,
		Action:    auditAction,
		Details:   details,
		Level:     domain.LevelWarning,
	}
	if err := e.commit(ctx, next, []domain.SystemLog{entry}); err != nil {
		e.metrics.Command(action, telemetry.OutcomeError)
		return fmt.Errorf("%s: %w", action, err)
	}
	e.metrics.Command(action, telemetry.OutcomeApplied)
	return nil
}
