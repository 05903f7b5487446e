package sentinelsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Sentinel HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// SubTask is a checklist item of a task.
type SubTask struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	IsCompleted bool   `json:"isCompleted"`
}

// Task represents the API task model.
type Task struct {
	ID                   string    `json:"id"`
	Description          string    `json:"description"`
	Status               string    `json:"status"`
	Type                 string    `json:"type"`
	DueDate              string    `json:"dueDate,omitempty"`
	CompletedAt          string    `json:"completedAt,omitempty"`
	VerifiedBy           string    `json:"verifiedBy,omitempty"`
	VerificationCriteria string    `json:"verificationCriteria,omitempty"`
	SubTasks             []SubTask `json:"subTasks,omitempty"`
}

// LogEntry represents a system log entry.
type LogEntry struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Actor     string `json:"actor"`
	Action    string `json:"action"`
	Details   string `json:"details"`
	Level     string `json:"level"`
}

// AuditEvent is a durable audit row.
type AuditEvent struct {
	Seq int64 `json:"id"`
	LogEntry
}

// State is the part of the state document most clients need. Use StateRaw
// for the full document.
type State struct {
	User struct {
		Name              string `json:"name"`
		IsAuthenticated   bool   `json:"isAuthenticated"`
		IsAIConnected     bool   `json:"isAIConnected"`
		RemoteURL         string `json:"remoteUrl,omitempty"`
		IsRemoteConnected bool   `json:"isRemoteConnected,omitempty"`
	} `json:"user"`
	ConsequenceLevel int        `json:"consequenceLevel"`
	Logs             []LogEntry `json:"logs"`
}

// ActionParam describes one positional argument of an action.
type ActionParam struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Optional bool   `json:"optional,omitempty"`
}

// Action is an entry of the command interface.
type Action struct {
	Name   string        `json:"name"`
	Doc    string        `json:"doc"`
	Params []ActionParam `json:"params"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// State returns the state document summary.
func (c *Client) State(ctx context.Context) (State, error) {
	var resp State
	err := c.do(ctx, http.MethodGet, "state", nil, &resp)
	return resp, err
}

// StateRaw returns the full state document as exported.
func (c *Client) StateRaw(ctx context.Context) (json.RawMessage, error) {
	var resp json.RawMessage
	err := c.do(ctx, http.MethodGet, "state/export", nil, &resp)
	return resp, err
}

// ImportState replaces the state document.
func (c *Client) ImportState(ctx context.Context, doc json.RawMessage) error {
	return c.do(ctx, http.MethodPost, "state/import", doc, nil)
}

// Tasks lists tasks; filter is all, pending, completed or overdue.
func (c *Client) Tasks(ctx context.Context, filter string) ([]Task, error) {
	endpoint := "tasks"
	if filter != "" {
		endpoint += "?filter=" + url.QueryEscape(filter)
	}
	var resp struct {
		Items []Task `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// CreateTask adds a task to a week.
func (c *Client) CreateTask(ctx context.Context, weekID, description, taskType, dueDate string) (Task, error) {
	body := map[string]any{
		"description": description,
		"type":        taskType,
	}
	if dueDate != "" {
		body["due_date"] = dueDate
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("weeks/%s/tasks", url.PathEscape(weekID)), body, &resp)
	return resp, err
}

// ToggleTask flips a task between pending and completed.
func (c *Client) ToggleTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/toggle", url.PathEscape(taskID)), nil, &resp)
	return resp, err
}

// VerifyTask marks a task verified.
func (c *Client) VerifyTask(ctx context.Context, taskID, agent, notes string) (Task, error) {
	body := map[string]any{"agent": agent, "notes": notes}
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/verify", url.PathEscape(taskID)), body, &resp)
	return resp, err
}

// FailTask marks a task failed.
func (c *Client) FailTask(ctx context.Context, taskID, agent, reason string) (Task, error) {
	body := map[string]any{"agent": agent, "reason": reason}
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/fail", url.PathEscape(taskID)), body, &resp)
	return resp, err
}

// TriggerRule triggers a rule's consequence and returns the new level.
func (c *Client) TriggerRule(ctx context.Context, ruleID string) (int, error) {
	var resp struct {
		ConsequenceLevel int `json:"consequence_level"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("rules/%s/trigger", url.PathEscape(ruleID)), nil, &resp)
	return resp.ConsequenceLevel, err
}

// AddLog appends a system log entry.
func (c *Client) AddLog(ctx context.Context, actor, action, details, level string) (LogEntry, error) {
	body := map[string]any{
		"actor":   actor,
		"action":  action,
		"details": details,
		"level":   level,
	}
	var resp LogEntry
	err := c.do(ctx, http.MethodPost, "logs", body, &resp)
	return resp, err
}

// Audit returns the newest audit events, optionally filtered by action.
func (c *Client) Audit(ctx context.Context, action string, limit int) ([]AuditEvent, error) {
	q := url.Values{}
	if action != "" {
		q.Set("action", action)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := "audit"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []AuditEvent `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Actions lists the command interface.
func (c *Client) Actions(ctx context.Context) ([]Action, error) {
	var resp []Action
	err := c.do(ctx, http.MethodGet, "commands", nil, &resp)
	return resp, err
}

// Invoke runs a command interface action with positional arguments.
func (c *Client) Invoke(ctx context.Context, action string, args ...any) (json.RawMessage, error) {
	if args == nil {
		args = []any{}
	}
	var resp struct {
		Result json.RawMessage `json:"result"`
	}
	err := c.do(ctx, http.MethodPost, "commands/"+url.PathEscape(action), map[string]any{"args": args}, &resp)
	return resp.Result, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
