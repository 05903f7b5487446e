// Package mcp exposes the Command Interface as MCP tools for local agents.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"sentinel/internal/domain"
	"sentinel/internal/engine"
	"sentinel/internal/overseer"
)

// Server wraps the engine and exposes it as MCP tools.
type Server struct {
	server   *gomcp.Server
	engine   *engine.Engine
	overseer *overseer.Overseer
	agent    string
}

// NewServer creates an MCP server over e. ov may be nil, in which case
// request_verification is not offered.
func NewServer(e *engine.Engine, ov *overseer.Overseer, agent, version string) *Server {
	if version == "" {
		version = "dev"
	}
	if agent == "" {
		agent = domain.ActorRemoteAgent
	}
	s := &Server{engine: e, overseer: ov, agent: agent}
	s.server = gomcp.NewServer(&gomcp.Implementation{Name: "sentinel", Version: version}, nil)
	s.registerTools()
	return s
}

// Run serves on stdio until the client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying server for in-memory transports.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

type emptyInput struct{}

type getTasksInput struct {
	Filter string `json:"filter,omitempty" jsonschema:"all, overdue, or a status (pending, in-progress, completed, verified, failed)"`
}

type tasksOutput struct {
	Tasks []domain.Task `json:"tasks"`
	Count int           `json:"count"`
}

type addTaskInput struct {
	WeekID               string `json:"week_id" jsonschema:"the week to append to, e.g. s2-w7"`
	Description          string `json:"description" jsonschema:"what has to be done"`
	Type                 string `json:"type" jsonschema:"application, certification, portfolio, networking, finance or admin"`
	VerificationCriteria string `json:"verification_criteria,omitempty" jsonschema:"evidence required to verify the task"`
	DueDate              string `json:"due_date,omitempty" jsonschema:"YYYY-MM-DD"`
}

type verifyTaskInput struct {
	TaskID string `json:"task_id" jsonschema:"the task identifier"`
	Agent  string `json:"agent,omitempty" jsonschema:"who verified it; defaults to the server's agent name"`
	Notes  string `json:"notes,omitempty" jsonschema:"verification notes"`
}

type failTaskInput struct {
	TaskID string `json:"task_id" jsonschema:"the task identifier"`
	Agent  string `json:"agent,omitempty" jsonschema:"who failed it; defaults to the server's agent name"`
	Reason string `json:"reason" jsonschema:"why the task failed"`
}

type taskIDInput struct {
	TaskID string `json:"task_id" jsonschema:"the task identifier"`
}

type triggerInput struct {
	RuleID string `json:"rule_id" jsonschema:"the rule whose consequence fires"`
}

type consequenceOutput struct {
	ConsequenceLevel int `json:"consequence_level"`
}

type addLogInput struct {
	Actor   string `json:"actor,omitempty" jsonschema:"defaults to the server's agent name"`
	Action  string `json:"action" jsonschema:"short upper-case action code"`
	Details string `json:"details" jsonschema:"human readable details"`
	Level   string `json:"level" jsonschema:"info, warning, critical or success"`
}

type chatInput struct {
	Sender  string `json:"sender" jsonschema:"User or AI_Overseer"`
	Content string `json:"content" jsonschema:"message text"`
}

type invokeInput struct {
	Action string `json:"action" jsonschema:"a Command Interface action name, e.g. rescheduleTask"`
	Args   []any  `json:"args,omitempty" jsonschema:"positional arguments"`
}

type invokeOutput struct {
	Action string `json:"action"`
	Result any    `json:"result,omitempty"`
}

type messageOutput struct {
	Message string `json:"message"`
}

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_state",
		Description: "Return the whole State Document: sprints, weeks, tasks, metrics, rules, logs and chat.",
	}, s.handleGetState)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_tasks",
		Description: "List tasks. Filter: all (default), overdue, or a status.",
	}, s.handleGetTasks)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "add_task",
		Description: "Append a pending task to a week.",
	}, s.handleAddTask)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "verify_task",
		Description: "Mark a task verified.",
	}, s.handleVerifyTask)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "fail_task",
		Description: "Mark a task failed. Raises the consequence level by 10.",
	}, s.handleFailTask)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "trigger_consequence",
		Description: "Trigger a rule's consequence. Raises the consequence level by 25.",
	}, s.handleTrigger)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "add_log",
		Description: "Append an entry to the audit log.",
	}, s.handleAddLog)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "send_chat_message",
		Description: "Append a chat message as User or AI_Overseer.",
	}, s.handleChat)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "invoke",
		Description: "Invoke any Command Interface action by name with positional arguments.",
	}, s.handleInvoke)

	if s.overseer != nil {
		gomcp.AddTool(s.server, &gomcp.Tool{
			Name:        "request_verification",
			Description: "Ask the AI overseer to verify a task asynchronously.",
		}, s.handleRequestVerification)
	}
}

func (s *Server) handleGetState(_ context.Context, _ *gomcp.CallToolRequest, _ emptyInput) (*gomcp.CallToolResult, any, error) {
	return nil, s.engine.Snapshot(), nil
}

func (s *Server) handleGetTasks(_ context.Context, _ *gomcp.CallToolRequest, input getTasksInput) (*gomcp.CallToolResult, tasksOutput, error) {
	tasks, err := s.engine.GetTasks(input.Filter)
	if err != nil {
		return errorResult(fmt.Sprintf("listing tasks: %s", err)), tasksOutput{}, nil
	}
	return nil, tasksOutput{Tasks: tasks, Count: len(tasks)}, nil
}

func (s *Server) handleAddTask(ctx context.Context, _ *gomcp.CallToolRequest, input addTaskInput) (*gomcp.CallToolResult, domain.Task, error) {
	task, err := s.engine.AddTask(ctx, engine.NewTask{
		WeekID:               input.WeekID,
		Description:          input.Description,
		Type:                 domain.TaskType(input.Type),
		VerificationCriteria: input.VerificationCriteria,
		DueDate:              input.DueDate,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("adding task: %s", err)), domain.Task{}, nil
	}
	if task.ID == "" {
		return errorResult(fmt.Sprintf("week %s not found", input.WeekID)), domain.Task{}, nil
	}
	return nil, task, nil
}

func (s *Server) handleVerifyTask(ctx context.Context, _ *gomcp.CallToolRequest, input verifyTaskInput) (*gomcp.CallToolResult, domain.Task, error) {
	return s.taskAfter(input.TaskID, func() error {
		return s.engine.VerifyTask(ctx, input.TaskID, s.agentOr(input.Agent), input.Notes)
	})
}

func (s *Server) handleFailTask(ctx context.Context, _ *gomcp.CallToolRequest, input failTaskInput) (*gomcp.CallToolResult, domain.Task, error) {
	return s.taskAfter(input.TaskID, func() error {
		return s.engine.FailTask(ctx, input.TaskID, s.agentOr(input.Agent), input.Reason)
	})
}

func (s *Server) handleTrigger(ctx context.Context, _ *gomcp.CallToolRequest, input triggerInput) (*gomcp.CallToolResult, consequenceOutput, error) {
	if err := s.engine.TriggerConsequence(ctx, input.RuleID); err != nil {
		return errorResult(fmt.Sprintf("triggering %s: %s", input.RuleID, err)), consequenceOutput{}, nil
	}
	return nil, consequenceOutput{ConsequenceLevel: s.engine.Snapshot().ConsequenceLevel}, nil
}

func (s *Server) handleAddLog(ctx context.Context, _ *gomcp.CallToolRequest, input addLogInput) (*gomcp.CallToolResult, domain.SystemLog, error) {
	entry, err := s.engine.AddLog(ctx, s.agentOr(input.Actor), input.Action, input.Details, domain.LogLevel(input.Level))
	if err != nil {
		return errorResult(fmt.Sprintf("adding log: %s", err)), domain.SystemLog{}, nil
	}
	return nil, entry, nil
}

func (s *Server) handleChat(ctx context.Context, _ *gomcp.CallToolRequest, input chatInput) (*gomcp.CallToolResult, domain.ChatMessage, error) {
	msg, err := s.engine.SendChatMessage(ctx, input.Sender, input.Content)
	if err != nil {
		return errorResult(fmt.Sprintf("sending message: %s", err)), domain.ChatMessage{}, nil
	}
	return nil, msg, nil
}

func (s *Server) handleInvoke(ctx context.Context, _ *gomcp.CallToolRequest, input invokeInput) (*gomcp.CallToolResult, invokeOutput, error) {
	args := make([]json.RawMessage, len(input.Args))
	for i, a := range input.Args {
		raw, err := json.Marshal(a)
		if err != nil {
			return errorResult(fmt.Sprintf("argument %d: %s", i, err)), invokeOutput{}, nil
		}
		args[i] = raw
	}
	result, err := s.engine.Dispatch(ctx, input.Action, args)
	if err != nil {
		return errorResult(err.Error()), invokeOutput{}, nil
	}
	return nil, invokeOutput{Action: input.Action, Result: result}, nil
}

func (s *Server) handleRequestVerification(ctx context.Context, _ *gomcp.CallToolRequest, input taskIDInput) (*gomcp.CallToolResult, messageOutput, error) {
	started, err := s.overseer.RequestVerification(ctx, input.TaskID)
	if err != nil {
		return errorResult(fmt.Sprintf("verification of %s: %s", input.TaskID, err)), messageOutput{}, nil
	}
	if !started {
		return errorResult(fmt.Sprintf("task %s not found", input.TaskID)), messageOutput{}, nil
	}
	return nil, messageOutput{Message: "verification started for " + input.TaskID}, nil
}

func (s *Server) taskAfter(id string, op func() error) (*gomcp.CallToolResult, domain.Task, error) {
	if _, ok := s.engine.Snapshot().FindTask(id); !ok {
		return errorResult(fmt.Sprintf("task %s not found", id)), domain.Task{}, nil
	}
	if err := op(); err != nil {
		return errorResult(fmt.Sprintf("updating task %s: %s", id, err)), domain.Task{}, nil
	}
	task, _ := s.engine.Snapshot().FindTask(id)
	return nil, task, nil
}

func (s *Server) agentOr(v string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return s.agent
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}
