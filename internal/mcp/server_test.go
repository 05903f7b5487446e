package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"sentinel/internal/domain"
	"sentinel/internal/engine"
)

type memStore struct{}

func (memStore) Load(context.Context) ([]byte, error) { return nil, nil }
func (memStore) Save(context.Context, []byte, []domain.SystemLog) error { return nil }

func newTestServer() (*Server, *engine.Engine) {
	e := engine.New(memStore{})
	return NewServer(e, nil, "AgentX", "test"), e
}

func callTool(t *testing.T, srv *Server, toolName string, args map[string]any) *gomcp.CallToolResult {
	t.Helper()

	ctx := context.Background()
	client := gomcp.NewClient(&gomcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	t1, t2 := gomcp.NewInMemoryTransports()
	go func() {
		_ = srv.MCPServer().Run(ctx, t1)
	}()

	session, err := client.Connect(ctx, t2, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer session.Close()

	result, err := session.CallTool(ctx, &gomcp.CallToolParams{Name: toolName, Arguments: args})
	if err != nil {
		t.Fatalf("call tool %s: %v", toolName, err)
	}
	return result
}

func extractText(result *gomcp.CallToolResult) string {
	for _, c := range result.Content {
		if tc, ok := c.(*gomcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func decode(t *testing.T, result *gomcp.CallToolResult, out any) {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %s", extractText(result))
	}
	data, err := json.Marshal(result.StructuredContent)
	if err != nil {
		t.Fatalf("marshal structured content: %v", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("decode structured content: %v (%s)", err, string(data))
	}
}

func TestFailTaskTool(t *testing.T) {
	srv, e := newTestServer()

	var task domain.Task
	decode(t, callTool(t, srv, "fail_task", map[string]any{"task_id": "t1", "reason": "No evidence found"}), &task)

	if task.Status != domain.StatusFailed || task.VerifiedBy != "AgentX" {
		t.Fatalf("unexpected task %+v", task)
	}
	if e.Snapshot().ConsequenceLevel != 10 {
		t.Fatalf("expected level 10, got %d", e.Snapshot().ConsequenceLevel)
	}
}

func TestFailTaskToolUnknownTask(t *testing.T) {
	srv, e := newTestServer()

	result := callTool(t, srv, "fail_task", map[string]any{"task_id": "nope", "reason": "x"})
	if !result.IsError {
		t.Fatal("expected error result for unknown task")
	}
	if e.Snapshot().ConsequenceLevel != 0 {
		t.Fatalf("unknown task must not escalate")
	}
}

func TestAddTaskTool(t *testing.T) {
	srv, e := newTestServer()

	var task domain.Task
	decode(t, callTool(t, srv, "add_task", map[string]any{
		"week_id":     "s2-w7",
		"description": "Apply to 5 companies",
		"type":        "application",
		"due_date":    "2026-01-30",
	}), &task)
	if !strings.HasPrefix(task.ID, "t-") || task.Status != domain.StatusPending {
		t.Fatalf("unexpected task %+v", task)
	}
	if _, ok := e.Snapshot().FindTask(task.ID); !ok {
		t.Fatalf("task not in document")
	}

	result := callTool(t, srv, "add_task", map[string]any{"week_id": "missing", "description": "x", "type": "admin"})
	if !result.IsError {
		t.Fatal("expected error for unknown week")
	}
}

func TestGetTasksTool(t *testing.T) {
	srv, _ := newTestServer()

	var out tasksOutput
	decode(t, callTool(t, srv, "get_tasks", map[string]any{}), &out)
	if out.Count != 40 || len(out.Tasks) != 40 {
		t.Fatalf("expected 40 seed tasks, got %d", out.Count)
	}

	result := callTool(t, srv, "get_tasks", map[string]any{"filter": "bogus"})
	if !result.IsError {
		t.Fatal("expected error for unknown filter")
	}
}

func TestTriggerConsequenceTool(t *testing.T) {
	srv, _ := newTestServer()

	var out consequenceOutput
	decode(t, callTool(t, srv, "trigger_consequence", map[string]any{"rule_id": "r1"}), &out)
	if out.ConsequenceLevel != 25 {
		t.Fatalf("expected 25, got %d", out.ConsequenceLevel)
	}
}

func TestAddLogDefaultsActor(t *testing.T) {
	srv, e := newTestServer()

	var entry domain.SystemLog
	decode(t, callTool(t, srv, "add_log", map[string]any{"action": "NOTE", "details": "hello", "level": "info"}), &entry)
	if entry.Actor != "AgentX" || e.Snapshot().Logs[0].ID != entry.ID {
		t.Fatalf("unexpected entry %+v", entry)
	}

	result := callTool(t, srv, "add_log", map[string]any{"action": "NOTE", "details": "x", "level": "loud"})
	if !result.IsError {
		t.Fatal("expected error for unknown level")
	}
}

func TestInvokeTool(t *testing.T) {
	srv, e := newTestServer()

	var out invokeOutput
	decode(t, callTool(t, srv, "invoke", map[string]any{
		"action": "rescheduleTask",
		"args":   []any{"t2", "2026-02-01"},
	}), &out)
	if out.Action != "rescheduleTask" {
		t.Fatalf("unexpected output %+v", out)
	}
	task, _ := e.Snapshot().FindTask("t2")
	if task.DueDate != "2026-02-01" {
		t.Fatalf("expected rescheduled task, got %q", task.DueDate)
	}

	result := callTool(t, srv, "invoke", map[string]any{"action": "launchRocket"})
	if !result.IsError || !strings.Contains(extractText(result), "launchRocket") {
		t.Fatalf("expected unknown action error, got %q", extractText(result))
	}
}

func TestChatTool(t *testing.T) {
	srv, e := newTestServer()

	var msg domain.ChatMessage
	decode(t, callTool(t, srv, "send_chat_message", map[string]any{"sender": "User", "content": "status?"}), &msg)
	hist := e.Snapshot().ChatHistory
	if hist[len(hist)-1].ID != msg.ID {
		t.Fatalf("message not appended")
	}

	result := callTool(t, srv, "send_chat_message", map[string]any{"sender": "Mallory", "content": "hi"})
	if !result.IsError {
		t.Fatal("expected error for unknown sender")
	}
}
