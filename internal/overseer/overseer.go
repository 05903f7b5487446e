// Package overseer drives the advisor on behalf of the user: verification
// requests, sub-task generation, prioritization and chat.
package overseer

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"sentinel/internal/advisor"
	"sentinel/internal/domain"
)

// OfflineReply is the chat answer while the AI uplink is disabled.
const OfflineReply = "AI Uplink Offline. Authentication required."

var ErrAIOffline = errors.New("AI uplink offline")

// Commands is the part of the Command Interface the overseer drives.
type Commands interface {
	Snapshot() *domain.State
	GetTasks(filter string) ([]domain.Task, error)
	AddLog(ctx context.Context, actor, action, details string, level domain.LogLevel) (domain.SystemLog, error)
	VerifyTask(ctx context.Context, taskID, agent, notes string) error
	FailTask(ctx context.Context, taskID, agent, reason string) error
	AppendSubTasks(ctx context.Context, taskID string, descriptions []string) ([]domain.SubTask, error)
	SendChatMessage(ctx context.Context, sender, content string) (domain.ChatMessage, error)
}

type Overseer struct {
	cmds          Commands
	adv           advisor.Advisor
	verifyTimeout time.Duration
	logger        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	seq     uint64
	pending map[string]*attempt
}

// attempt is the "verifying" indicator of one verification request. It is
// cleared by its liveness timer or by its verdict, whichever comes first.
type attempt struct {
	id    uint64
	timer *time.Timer
}

type Option func(*Overseer)

func WithLogger(l *slog.Logger) Option { return func(o *Overseer) { o.logger = l } }

// WithVerifyTimeout bounds how long a task shows as verifying.
func WithVerifyTimeout(d time.Duration) Option { return func(o *Overseer) { o.verifyTimeout = d } }

func New(cmds Commands, adv advisor.Advisor, opts ...Option) *Overseer {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Overseer{
		cmds:          cmds,
		adv:           adv,
		verifyTimeout: 8 * time.Second,
		ctx:           ctx,
		cancel:        cancel,
		pending:       map[string]*attempt{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// RequestVerification starts an asynchronous verification of a task. It
// reports false when nothing was started: unknown task or AI offline (the
// latter also returns ErrAIOffline after logging VERIFY_ERROR).
func (o *Overseer) RequestVerification(ctx context.Context, taskID string) (bool, error) {
	s := o.cmds.Snapshot()
	task, ok := s.FindTask(taskID)
	if !ok {
		return false, nil
	}
	if !s.User.IsAIConnected {
		if _, err := o.cmds.AddLog(ctx, domain.ActorSystem, "VERIFY_ERROR", "AI Uplink Offline. Cannot verify.", domain.LevelWarning); err != nil {
			return false, err
		}
		return false, ErrAIOffline
	}
	if _, err := o.cmds.AddLog(ctx, domain.SenderOverseer, "VERIFY_START", "Initiating verification protocol for "+task.Description, domain.LevelInfo); err != nil {
		return false, err
	}
	id := o.begin(taskID)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.end(taskID, id)
		verdict := o.adv.Verify(o.ctx, task)
		if o.ctx.Err() != nil {
			o.logger.Warn("verification abandoned on shutdown", "task", taskID, "attempt", id)
			return
		}
		o.applyVerdict(taskID, verdict)
	}()
	return true, nil
}

func (o *Overseer) begin(taskID string) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seq++
	id := o.seq
	if prev, ok := o.pending[taskID]; ok {
		prev.timer.Stop()
	}
	o.pending[taskID] = &attempt{id: id, timer: time.AfterFunc(o.verifyTimeout, func() { o.end(taskID, id) })}
	return id
}

// end clears the indicator if it still belongs to attempt id.
func (o *Overseer) end(taskID string, id uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cur, ok := o.pending[taskID]; ok && cur.id == id {
		cur.timer.Stop()
		delete(o.pending, taskID)
	}
}

// applyVerdict runs once per attempt, from the attempt's goroutine.
func (o *Overseer) applyVerdict(taskID string, v advisor.Verdict) {
	ctx := context.WithoutCancel(o.ctx)
	var err error
	if v.Verified {
		err = o.cmds.VerifyTask(ctx, taskID, domain.SenderOverseer, v.Notes)
	} else {
		err = o.cmds.FailTask(ctx, taskID, domain.SenderOverseer, v.Notes)
	}
	if err != nil {
		o.logger.Error("apply verdict failed", "task", taskID, "verified", v.Verified, "error", err)
	}
}

// Verifying reports whether the task's indicator is set.
func (o *Overseer) Verifying(taskID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.pending[taskID]
	return ok
}

// InFlight lists tasks currently shown as verifying.
func (o *Overseer) InFlight() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.pending))
	for id := range o.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Wait blocks until every started verification applied its verdict.
func (o *Overseer) Wait() {
	o.wg.Wait()
}

// Close cancels outstanding advisor calls and waits for them. Attempts
// cut short this way leave their task untouched.
func (o *Overseer) Close() {
	o.cancel()
	o.wg.Wait()
}

// GenerateSubTasks asks the advisor to break a task down and appends the result.
func (o *Overseer) GenerateSubTasks(ctx context.Context, taskID string) ([]domain.SubTask, error) {
	s := o.cmds.Snapshot()
	if !s.User.IsAIConnected {
		if _, err := o.cmds.AddLog(ctx, domain.ActorSystem, "AI_ERROR", "AI Uplink Offline. Cannot generate sub-tasks.", domain.LevelWarning); err != nil {
			return nil, err
		}
		return nil, ErrAIOffline
	}
	task, ok := s.FindTask(taskID)
	if !ok {
		return nil, nil
	}
	subs := o.adv.GenerateSubTasks(ctx, task.Description)
	if len(subs) == 0 {
		return nil, nil
	}
	return o.cmds.AppendSubTasks(ctx, taskID, subs)
}

// Prioritize orders the filtered tasks. The result is always a permutation of
// the filtered ids.
func (o *Overseer) Prioritize(ctx context.Context, filter string) ([]string, error) {
	tasks, err := o.cmds.GetTasks(filter)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return []string{}, nil
	}
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return advisor.NormalizeOrder(ids, o.adv.Prioritize(ctx, tasks)), nil
}

// Chat records the user's message and the overseer's reply.
func (o *Overseer) Chat(ctx context.Context, message string) (domain.ChatMessage, error) {
	s := o.cmds.Snapshot()
	history := s.ChatHistory
	if _, err := o.cmds.SendChatMessage(ctx, domain.SenderUser, message); err != nil {
		return domain.ChatMessage{}, err
	}
	reply := OfflineReply
	if s.User.IsAIConnected {
		reply = o.adv.Chat(ctx, history, message)
	}
	return o.cmds.SendChatMessage(ctx, domain.SenderOverseer, reply)
}

// SuggestType proposes a task type for a description.
func (o *Overseer) SuggestType(ctx context.Context, description, criteria string) (domain.TaskType, bool) {
	return o.adv.SuggestType(ctx, description, criteria)
}

// GenerateDetails turns free-form input into a task draft.
func (o *Overseer) GenerateDetails(ctx context.Context, input string) (advisor.Details, bool) {
	return o.adv.GenerateDetails(ctx, input)
}
