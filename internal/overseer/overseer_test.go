package overseer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel/internal/advisor"
	"sentinel/internal/domain"
	"sentinel/internal/engine"
)

type memStore struct{}

func (memStore) Load(context.Context) ([]byte, error) { return nil, nil }
func (memStore) Save(context.Context, []byte, []domain.SystemLog) error { return nil }

// stubAdvisor returns queued verdicts; each Verify blocks until release
// yields a value.
type stubAdvisor struct {
	release  chan advisor.Verdict
	subTasks []string
	order    []string
	reply    string

	mu       sync.Mutex
	chatSeen []domain.ChatMessage
	prioCall int
}

func (s *stubAdvisor) Verify(ctx context.Context, _ domain.Task) advisor.Verdict {
	select {
	case v := <-s.release:
		return v
	case <-ctx.Done():
		return advisor.FailedVerdict(ctx.Err())
	}
}

func (s *stubAdvisor) SuggestType(context.Context, string, string) (domain.TaskType, bool) {
	return domain.TypePortfolio, true
}

func (s *stubAdvisor) GenerateDetails(context.Context, string) (advisor.Details, bool) {
	return advisor.Details{Description: "d", Type: domain.TypeAdmin}, true
}

func (s *stubAdvisor) GenerateSubTasks(context.Context, string) []string { return s.subTasks }

func (s *stubAdvisor) Prioritize(context.Context, []domain.Task) []string {
	s.mu.Lock()
	s.prioCall++
	s.mu.Unlock()
	return s.order
}

func (s *stubAdvisor) Chat(_ context.Context, history []domain.ChatMessage, _ string) string {
	s.mu.Lock()
	s.chatSeen = history
	s.mu.Unlock()
	return s.reply
}

func newTestOverseer(t *testing.T, aiOn bool, timeout time.Duration) (*Overseer, *engine.Engine, *stubAdvisor) {
	t.Helper()
	eng := engine.New(memStore{})
	if aiOn {
		require.NoError(t, eng.Login(context.Background(), "Candidate", true))
	}
	adv := &stubAdvisor{release: make(chan advisor.Verdict, 4)}
	o := New(eng, adv, WithVerifyTimeout(timeout))
	t.Cleanup(o.Close)
	return o, eng, adv
}

func TestVerificationOfflineLogs(t *testing.T) {
	o, eng, _ := newTestOverseer(t, false, time.Second)
	started, err := o.RequestVerification(context.Background(), "t2")
	assert.False(t, started)
	assert.True(t, errors.Is(err, ErrAIOffline))
	assert.Equal(t, "VERIFY_ERROR", eng.Snapshot().Logs[0].Action)
}

func TestVerificationAppliesVerdict(t *testing.T) {
	o, eng, adv := newTestOverseer(t, true, time.Second)
	started, err := o.RequestVerification(context.Background(), "t2")
	require.NoError(t, err)
	require.True(t, started)
	assert.True(t, o.Verifying("t2"))
	assert.Equal(t, "VERIFY_START", eng.Snapshot().Logs[0].Action)

	adv.release <- advisor.Verdict{Verified: true, Notes: "Site is live"}
	o.Wait()
	task, _ := eng.Snapshot().FindTask("t2")
	assert.Equal(t, domain.StatusVerified, task.Status)
	assert.Equal(t, domain.SenderOverseer, task.VerifiedBy)
	assert.False(t, o.Verifying("t2"))
}

func TestLivenessTimerClearsIndicatorOnly(t *testing.T) {
	o, eng, adv := newTestOverseer(t, true, 20*time.Millisecond)
	_, err := o.RequestVerification(context.Background(), "t4")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !o.Verifying("t4") }, time.Second, 5*time.Millisecond)

	task, _ := eng.Snapshot().FindTask("t4")
	assert.Equal(t, domain.StatusPending, task.Status, "timer must not apply a verdict")

	adv.release <- advisor.Verdict{Verified: false, Notes: "No email"}
	o.Wait()
	s := eng.Snapshot()
	task, _ = s.FindTask("t4")
	assert.Equal(t, domain.StatusFailed, task.Status)
	assert.Equal(t, 10, s.ConsequenceLevel, "late verdict applies exactly once")
}

func TestSecondAttemptSupersedesIndicator(t *testing.T) {
	o, eng, adv := newTestOverseer(t, true, time.Second)
	ctx := context.Background()
	_, err := o.RequestVerification(ctx, "t6")
	require.NoError(t, err)
	_, err = o.RequestVerification(ctx, "t6")
	require.NoError(t, err)

	adv.release <- advisor.Verdict{Verified: false, Notes: "first"}
	adv.release <- advisor.Verdict{Verified: false, Notes: "second"}
	o.Wait()
	assert.Equal(t, 20, eng.Snapshot().ConsequenceLevel, "both verdicts apply")
	assert.False(t, o.Verifying("t6"))
	assert.Empty(t, o.InFlight())
}

func TestUnknownTaskDoesNothing(t *testing.T) {
	o, eng, _ := newTestOverseer(t, true, time.Second)
	logs := len(eng.Snapshot().Logs)
	started, err := o.RequestVerification(context.Background(), "nope")
	assert.NoError(t, err)
	assert.False(t, started)
	assert.Len(t, eng.Snapshot().Logs, logs)
}

func TestGenerateSubTasks(t *testing.T) {
	o, eng, adv := newTestOverseer(t, true, time.Second)
	adv.subTasks = []string{"Pick template", "Write bio", "Deploy"}
	subs, err := o.GenerateSubTasks(context.Background(), "t2")
	require.NoError(t, err)
	assert.Len(t, subs, 3)
	task, _ := eng.Snapshot().FindTask("t2")
	assert.Len(t, task.SubTasks, 3)
	assert.Equal(t, "SUBTASK_GEN", eng.Snapshot().Logs[0].Action)
}

func TestGenerateSubTasksOffline(t *testing.T) {
	o, eng, _ := newTestOverseer(t, false, time.Second)
	_, err := o.GenerateSubTasks(context.Background(), "t2")
	assert.True(t, errors.Is(err, ErrAIOffline))
	assert.Equal(t, "AI_ERROR", eng.Snapshot().Logs[0].Action)
}

func TestPrioritize(t *testing.T) {
	o, _, adv := newTestOverseer(t, true, time.Second)
	adv.order = []string{"t40", "bogus", "t39"}
	ids, err := o.Prioritize(context.Background(), "pending")
	require.NoError(t, err)
	assert.Len(t, ids, 39)
	assert.Equal(t, []string{"t40", "t39"}, ids[:2])

	ids, err = o.Prioritize(context.Background(), "failed")
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, 1, adv.prioCall, "empty input must not reach the advisor")
}

func TestChat(t *testing.T) {
	o, eng, adv := newTestOverseer(t, true, time.Second)
	adv.reply = "Moratorium enforced."
	before := len(eng.Snapshot().ChatHistory)
	msg, err := o.Chat(context.Background(), "Can I start a new project?")
	require.NoError(t, err)
	assert.Equal(t, "Moratorium enforced.", msg.Content)
	hist := eng.Snapshot().ChatHistory
	require.Len(t, hist, before+2)
	assert.Equal(t, domain.SenderUser, hist[before].Sender)
	assert.Len(t, adv.chatSeen, before, "history excludes the new message")
}

func TestChatOffline(t *testing.T) {
	o, _, _ := newTestOverseer(t, false, time.Second)
	msg, err := o.Chat(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, OfflineReply, msg.Content)
}

func TestCloseAbandonsVerificationWithoutVerdict(t *testing.T) {
	o, eng, _ := newTestOverseer(t, true, time.Second)
	before := eng.Snapshot()
	started, err := o.RequestVerification(context.Background(), "t2")
	require.NoError(t, err)
	require.True(t, started)

	o.Close()
	s := eng.Snapshot()
	task, _ := s.FindTask("t2")
	prev, _ := before.FindTask("t2")
	assert.Equal(t, prev.Status, task.Status)
	assert.Empty(t, task.VerifiedBy)
	assert.Equal(t, before.ConsequenceLevel, s.ConsequenceLevel)
	assert.Equal(t, "VERIFY_START", s.Logs[0].Action)
	assert.False(t, o.Verifying("t2"))
}
