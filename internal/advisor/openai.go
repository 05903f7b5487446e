package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"sentinel/internal/domain"
	"sentinel/internal/telemetry"
)

// Config configures the OpenAI-compatible client.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	ChatModel string
	Timeout   time.Duration
	Logger    *slog.Logger
	Metrics   *telemetry.Metrics
}

// Client implements Advisor over chat completions in JSON mode.
type Client struct {
	api       *openai.Client
	model     string
	chatModel string
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *telemetry.Metrics
}

var errNoAPIKey = errors.New("API key not configured")

func New(cfg Config) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	c := &Client{
		api:       openai.NewClientWithConfig(oc),
		model:     cfg.Model,
		chatModel: cfg.ChatModel,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
	if c.chatModel == "" {
		c.chatModel = c.model
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if cfg.APIKey == "" {
		c.api = nil
	}
	return c
}

// completeJSON sends a single-prompt JSON-mode request and decodes the reply
// into out.
func (c *Client) completeJSON(ctx context.Context, call, prompt string, out any) error {
	if c.api == nil {
		return errNoAPIKey
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return fmt.Errorf("%s: %w", call, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return fmt.Errorf("%s: empty response from AI", call)
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), out); err != nil {
		return fmt.Errorf("%s: decode response: %w", call, err)
	}
	return nil
}

func (c *Client) record(call string, err error) {
	if err != nil {
		c.metrics.AdvisorCall(call, telemetry.OutcomeError)
		c.logger.Warn("advisor call failed", "call", call, "error", err)
		return
	}
	c.metrics.AdvisorCall(call, telemetry.OutcomeOK)
}

func (c *Client) Verify(ctx context.Context, task domain.Task) Verdict {
	criteria := task.VerificationCriteria
	if criteria == "" {
		criteria = defaultCriteriaNotes
	}
	prompt := fmt.Sprintf(verifyPrompt, Sanitize(task.Description, maxInput), Sanitize(criteria, maxInput))
	var raw struct {
		Verified *bool  `json:"verified"`
		Notes    string `json:"notes"`
	}
	err := c.completeJSON(ctx, "verify", prompt, &raw)
	if err == nil && raw.Verified == nil {
		err = errors.New("verify: response missing verified")
	}
	c.record("verify", err)
	if err != nil {
		return FailedVerdict(err)
	}
	return Verdict{Verified: *raw.Verified, Notes: raw.Notes}
}

func (c *Client) SuggestType(ctx context.Context, description, criteria string) (domain.TaskType, bool) {
	if len([]rune(description)) < 3 {
		return "", false
	}
	var out struct {
		Type string `json:"type"`
	}
	err := c.completeJSON(ctx, "suggestType", fmt.Sprintf(suggestTypePrompt, Sanitize(description, maxInput), Sanitize(criteria, maxInput)), &out)
	c.record("suggestType", err)
	if err != nil {
		return "", false
	}
	if t := domain.TaskType(out.Type); t.Valid() {
		return t, true
	}
	return domain.TypeAdmin, true
}

func (c *Client) GenerateDetails(ctx context.Context, input string) (Details, bool) {
	var out Details
	err := c.completeJSON(ctx, "generateDetails", fmt.Sprintf(detailsPrompt, Sanitize(input, maxInput)), &out)
	if err == nil && strings.TrimSpace(out.Description) == "" {
		err = errors.New("generateDetails: response missing description")
	}
	c.record("generateDetails", err)
	if err != nil {
		return Details{}, false
	}
	if !out.Type.Valid() {
		out.Type = domain.TypeAdmin
	}
	return out, true
}

func (c *Client) GenerateSubTasks(ctx context.Context, description string) []string {
	var out struct {
		SubTasks []string `json:"subTasks"`
	}
	err := c.completeJSON(ctx, "generateSubTasks", fmt.Sprintf(subTasksPrompt, Sanitize(description, maxInput)), &out)
	c.record("generateSubTasks", err)
	if err != nil {
		return nil
	}
	subs := make([]string, 0, len(out.SubTasks))
	for _, s := range out.SubTasks {
		if s = strings.TrimSpace(s); s != "" {
			subs = append(subs, s)
		}
	}
	return subs
}

type promptTask struct {
	ID     string          `json:"id"`
	Desc   string          `json:"desc"`
	Type   domain.TaskType `json:"type"`
	Status domain.Status   `json:"status"`
	Due    string          `json:"due"`
}

func (c *Client) Prioritize(ctx context.Context, tasks []domain.Task) []string {
	if len(tasks) == 0 {
		return []string{}
	}
	ids := taskIDs(tasks)
	list := make([]promptTask, len(tasks))
	for i, t := range tasks {
		due := t.DueDate
		if due == "" {
			due = "None"
		}
		list[i] = promptTask{ID: t.ID, Desc: Sanitize(t.Description, maxBulkInput), Type: t.Type, Status: t.Status, Due: due}
	}
	data, err := json.Marshal(list)
	if err != nil {
		c.record("prioritize", err)
		return ids
	}
	var out struct {
		OrderedIDs []string `json:"orderedIds"`
	}
	err = c.completeJSON(ctx, "prioritize", fmt.Sprintf(prioritizePrompt, data), &out)
	c.record("prioritize", err)
	if err != nil {
		return ids
	}
	return NormalizeOrder(ids, out.OrderedIDs)
}

func (c *Client) Chat(ctx context.Context, history []domain.ChatMessage, message string) string {
	if c.api == nil {
		c.record("chat", errNoAPIKey)
		return ChatInterrupted
	}
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: chatSystemPrompt})
	for _, h := range history {
		role := openai.ChatMessageRoleAssistant
		if h.Sender == domain.SenderUser {
			role = openai.ChatMessageRoleUser
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: Sanitize(h.Content, maxHistoryItem)})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: Sanitize(message, maxInput)})

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{Model: c.chatModel, Messages: msgs})
	if err == nil && (len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "") {
		err = errors.New("chat: empty response from AI")
	}
	c.record("chat", err)
	if err != nil {
		return ChatInterrupted
	}
	return resp.Choices[0].Message.Content
}
