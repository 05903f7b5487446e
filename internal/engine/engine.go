package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"sentinel/internal/domain"
	"sentinel/internal/events"
	"sentinel/internal/repo"
	"sentinel/internal/telemetry"
)

var (
	ErrInvalidImport = errors.New("invalid import")
	ErrUnknownAction = errors.New("unknown action")
	ErrBadArguments  = errors.New("bad arguments")
)

// Store persists the serialized document together with the audit entries
// produced by the transition that wrote it.
type Store interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, doc []byte, audit []domain.SystemLog) error
}

// Engine is the Command Interface. Transitions are serialized by mu and
// published through state, so Snapshot never blocks on a writer.
type Engine struct {
	store   Store
	sink    events.Sink
	metrics *telemetry.Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	state atomic.Pointer[domain.State]
}

type Option func(*Engine)

func WithSink(s events.Sink) Option { return func(e *Engine) { e.sink = s } }

func WithMetrics(m *telemetry.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// New builds an engine holding the seed document in memory. Call Open to
// load the persisted document.
func New(store Store, opts ...Option) *Engine {
	e := &Engine{store: store, sink: events.Discard{}, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.state.Store(domain.Seed(e.now()))
	return e
}

// Open loads the saved document, persisting the seed on first run.
func (e *Engine) Open(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	doc, err := e.store.Load(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		seed := domain.Seed(e.now())
		if err := e.commit(ctx, seed, seed.Logs); err != nil {
			return fmt.Errorf("persist seed: %w", err)
		}
		e.logger.Info("state seeded")
		return nil
	}
	if err != nil {
		return err
	}
	var s domain.State
	if err := json.Unmarshal(doc, &s); err != nil {
		return fmt.Errorf("decode saved state: %w", err)
	}
	s.Normalize()
	e.state.Store(&s)
	e.metrics.ConsequenceLevel(s.ConsequenceLevel)
	return nil
}

// Snapshot returns the current document. It is shared and must not be mutated.
func (e *Engine) Snapshot() *domain.State {
	return e.state.Load()
}

// GetState returns a private copy of the current document.
func (e *Engine) GetState() *domain.State {
	return e.Snapshot().Clone()
}

func (e *Engine) clock() time.Time {
	if e.now == nil {
		return time.Now()
	}
	return e.now()
}

// txn is the working copy of one transition.
type txn struct {
	*domain.State
	now   time.Time
	audit []domain.SystemLog
}

func (t *txn) log(actor, action, details string, level domain.LogLevel) domain.SystemLog {
	entry := domain.SystemLog{
		ID:        newID("log-"),
		Timestamp: domain.FormatTime(t.now),
		Actor:     actor,
		Action:    action,
		Details:   details,
		Level:     level,
	}
	t.Logs = append([]domain.SystemLog{entry}, t.Logs...)
	t.audit = append(t.audit, entry)
	return entry
}

func (t *txn) task(id string) *domain.Task {
	for i := range t.Sprints {
		for j := range t.Sprints[i].Weeks {
			tasks := t.Sprints[i].Weeks[j].Tasks
			for k := range tasks {
				if tasks[k].ID == id {
					return &tasks[k]
				}
			}
		}
	}
	return nil
}

func (t *txn) week(id string) *domain.Week {
	for i := range t.Sprints {
		for j := range t.Sprints[i].Weeks {
			if t.Sprints[i].Weeks[j].ID == id {
				return &t.Sprints[i].Weeks[j]
			}
		}
	}
	return nil
}

func (t *txn) sprint(id string) *domain.Sprint {
	for i := range t.Sprints {
		if t.Sprints[i].ID == id {
			return &t.Sprints[i]
		}
	}
	return nil
}

// escalate raises the consequence level by delta, capped at the maximum.
func (t *txn) escalate(delta int) int {
	t.ConsequenceLevel = min(t.ConsequenceLevel+delta, domain.MaxConsequenceLevel)
	return t.ConsequenceLevel
}

// apply runs fn against a copy of the current document. fn reports whether it
// changed anything; unchanged transitions are not persisted.
func (e *Engine) apply(ctx context.Context, action string, fn func(t *txn) (bool, error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := &txn{State: e.Snapshot().Clone(), now: e.clock()}
	changed, err := fn(t)
	if err != nil {
		e.metrics.Command(action, telemetry.OutcomeError)
		return err
	}
	if !changed {
		e.metrics.Command(action, telemetry.OutcomeNoop)
		return nil
	}
	if err := e.commit(ctx, t.State, t.audit); err != nil {
		e.metrics.Command(action, telemetry.OutcomeError)
		return fmt.Errorf("%s: %w", action, err)
	}
	e.metrics.Command(action, telemetry.OutcomeApplied)
	return nil
}

// commit persists next and publishes it. Callers hold mu.
func (e *Engine) commit(ctx context.Context, next *domain.State, audit []domain.SystemLog) error {
	next.Normalize()
	doc, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := e.store.Save(ctx, doc, audit); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	e.state.Store(next)
	e.metrics.ConsequenceLevel(next.ConsequenceLevel)
	if len(audit) > 0 {
		if err := e.sink.Publish(ctx, audit); err != nil {
			e.logger.Warn("audit publish failed", "error", err, "entries", len(audit))
		}
	}
	return nil
}

func newID(prefix string) string {
	return prefix + uuid.NewString()
}

func badArgs(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadArguments, fmt.Sprintf(format, args...))
}

func requireText(name, v string) error {
	if strings.TrimSpace(v) == "" {
		return badArgs("%s is required", name)
	}
	return nil
}
