package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"sentinel/internal/domain"
)

// AddSprint appends an empty sprint.
func (e *Engine) AddSprint(ctx context.Context, title, objective, start, end string) (domain.Sprint, error) {
	if err := requireText("title", title); err != nil {
		return domain.Sprint{}, err
	}
	var created domain.Sprint
	err := e.apply(ctx, "addSprint", func(t *txn) (bool, error) {
		created = domain.Sprint{
			ID:        newID("sprint-"),
			Title:     title,
			Objective: objective,
			DateRange: start + " - " + end,
			Weeks:     []domain.Week{},
		}
		t.Sprints = append(t.Sprints, created)
		t.log(domain.SenderOverseer, "SPRINT_CREATED", "Initialized "+title, domain.LevelInfo)
		return true, nil
	})
	return created, err
}

// AddWeek appends a week to a sprint. Its number is the target sprint's week
// count plus the global week count plus one; it is not guaranteed unique.
func (e *Engine) AddWeek(ctx context.Context, sprintID, title, theme, start, end string) (domain.Week, error) {
	if err := requireText("title", title); err != nil {
		return domain.Week{}, err
	}
	var created domain.Week
	err := e.apply(ctx, "addWeek", func(t *txn) (bool, error) {
		sp := t.sprint(sprintID)
		if sp == nil {
			return false, nil
		}
		created = domain.Week{
			ID:        newID("w-"),
			Number:    len(sp.Weeks) + t.WeekCount() + 1,
			Title:     title,
			Theme:     theme,
			DateRange: start + " - " + end,
			Tasks:     []domain.Task{},
		}
		sp.Weeks = append(sp.Weeks, created)
		t.log(domain.SenderOverseer, "WEEK_ADDED", "Added week to "+sp.Title, domain.LevelInfo)
		return true, nil
	})
	return created, err
}

// SendChatMessage appends to the chat history without an audit entry.
func (e *Engine) SendChatMessage(ctx context.Context, sender, content string) (domain.ChatMessage, error) {
	if sender != domain.SenderUser && sender != domain.SenderOverseer {
		return domain.ChatMessage{}, badArgs("sender must be %s or %s", domain.SenderUser, domain.SenderOverseer)
	}
	var msg domain.ChatMessage
	err := e.apply(ctx, "sendChatMessage", func(t *txn) (bool, error) {
		msg = domain.ChatMessage{ID: newID("msg-"), Sender: sender, Content: content, Timestamp: domain.FormatTime(t.now)}
		t.ChatHistory = append(t.ChatHistory, msg)
		return true, nil
	})
	return msg, err
}

// UpdateMetric sets one fixed counter by its JSON name. The value must have
// the counter's JSON shape.
func (e *Engine) UpdateMetric(ctx context.Context, metric string, value json.RawMessage) error {
	return e.apply(ctx, "updateMetric", func(t *txn) (bool, error) {
		next, err := setMetric(t.Metrics, metric, value)
		if err != nil {
			return false, err
		}
		t.Metrics = next
		t.log(domain.SenderOverseer, "METRIC_UPDATED", fmt.Sprintf("Metric %s set to %s", metric, compact(value)), domain.LevelInfo)
		return true, nil
	})
}

func setMetric(m domain.Metrics, name string, value json.RawMessage) (domain.Metrics, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return m, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return m, err
	}
	if _, ok := fields[name]; !ok {
		return m, badArgs("unknown metric %q", name)
	}
	if len(bytes.TrimSpace(value)) == 0 || bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
		return m, badArgs("metric %s requires a value", name)
	}
	fields[name] = value
	raw, err = json.Marshal(fields)
	if err != nil {
		return m, badArgs("metric %s: %v", name, err)
	}
	var next domain.Metrics
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&next); err != nil {
		return m, badArgs("metric %s: %v", name, err)
	}
	if next.Certifications == nil {
		next.Certifications = []string{}
	}
	return next, nil
}

func compact(v json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return string(v)
	}
	return buf.String()
}

func (e *Engine) AddCustomMetric(ctx context.Context, label string, target float64, unit string, color domain.MetricColor) (domain.CustomMetric, error) {
	if err := requireText("label", label); err != nil {
		return domain.CustomMetric{}, err
	}
	if !color.Valid() {
		return domain.CustomMetric{}, badArgs("unknown metric color %q", color)
	}
	var created domain.CustomMetric
	err := e.apply(ctx, "addCustomMetric", func(t *txn) (bool, error) {
		created = domain.CustomMetric{ID: newID("cm-"), Label: label, Target: target, Unit: unit, Color: color}
		t.CustomMetrics = append(t.CustomMetrics, created)
		t.log(domain.SenderOverseer, "METRIC_CREATED", fmt.Sprintf("Tracking %s (target %s %s)", label, num(target), unit), domain.LevelInfo)
		return true, nil
	})
	return created, err
}

// UpdateCustomMetric stores value as given; callers clamp it.
func (e *Engine) UpdateCustomMetric(ctx context.Context, id string, value float64) error {
	return e.apply(ctx, "updateCustomMetric", func(t *txn) (bool, error) {
		for i := range t.CustomMetrics {
			if t.CustomMetrics[i].ID == id {
				t.CustomMetrics[i].Value = value
				t.log(domain.SenderOverseer, "METRIC_VALUE", fmt.Sprintf("%s = %s", t.CustomMetrics[i].Label, num(value)), domain.LevelInfo)
				return true, nil
			}
		}
		return false, nil
	})
}

func (e *Engine) DeleteCustomMetric(ctx context.Context, id string) error {
	return e.apply(ctx, "deleteCustomMetric", func(t *txn) (bool, error) {
		for i := range t.CustomMetrics {
			if t.CustomMetrics[i].ID == id {
				label := t.CustomMetrics[i].Label
				t.CustomMetrics = append(t.CustomMetrics[:i], t.CustomMetrics[i+1:]...)
				t.log(domain.SenderOverseer, "METRIC_DELETED", "Stopped tracking "+label, domain.LevelWarning)
				return true, nil
			}
		}
		return false, nil
	})
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// AddRule registers a new active rule.
func (e *Engine) AddRule(ctx context.Context, condition, consequence string) (domain.Rule, error) {
	if err := requireText("condition", condition); err != nil {
		return domain.Rule{}, err
	}
	if err := requireText("consequence", consequence); err != nil {
		return domain.Rule{}, err
	}
	var created domain.Rule
	err := e.apply(ctx, "addRule", func(t *txn) (bool, error) {
		created = domain.Rule{ID: newID("r-"), Condition: condition, Consequence: consequence, Status: domain.RuleActive}
		t.Rules = append(t.Rules, created)
		t.log(domain.SenderOverseer, "RULE_CREATED", "Protocol active: "+condition, domain.LevelInfo)
		return true, nil
	})
	return created, err
}

func (e *Engine) DeleteRule(ctx context.Context, id string) error {
	return e.apply(ctx, "deleteRule", func(t *txn) (bool, error) {
		for i := range t.Rules {
			if t.Rules[i].ID == id {
				t.Rules = append(t.Rules[:i], t.Rules[i+1:]...)
				t.log(domain.SenderOverseer, "RULE_DELETED", "Removed rule "+id, domain.LevelWarning)
				return true, nil
			}
		}
		return false, nil
	})
}

// TriggerConsequence marks a rule triggered and escalates by 25. Triggered
// rules may fire again. An unknown rule id still escalates.
func (e *Engine) TriggerConsequence(ctx context.Context, ruleID string) error {
	return e.apply(ctx, "triggerConsequence", func(t *txn) (bool, error) {
		details := fmt.Sprintf("Rule %s triggered", ruleID)
		for i := range t.Rules {
			if t.Rules[i].ID == ruleID {
				t.Rules[i].Status = domain.RuleTriggered
				details = "Consequence Triggered: " + t.Rules[i].Consequence
			}
		}
		t.escalate(25)
		t.log(domain.SenderOverseer, "CONSEQUENCE_TRIGGERED", details, domain.LevelCritical)
		return true, nil
	})
}

// AddLog appends an audit entry directly.
func (e *Engine) AddLog(ctx context.Context, actor, action, details string, level domain.LogLevel) (domain.SystemLog, error) {
	if err := requireText("actor", actor); err != nil {
		return domain.SystemLog{}, err
	}
	if err := requireText("action", action); err != nil {
		return domain.SystemLog{}, err
	}
	if !level.Valid() {
		return domain.SystemLog{}, badArgs("unknown log level %q", level)
	}
	var entry domain.SystemLog
	err := e.apply(ctx, "addLog", func(t *txn) (bool, error) {
		entry = t.log(actor, action, details, level)
		return true, nil
	})
	return entry, err
}

// Login authenticates the local user and sets the AI uplink flag.
func (e *Engine) Login(ctx context.Context, name string, enableAI bool) error {
	if err := requireText("name", name); err != nil {
		return err
	}
	return e.apply(ctx, "login", func(t *txn) (bool, error) {
		t.User.Name = name
		t.User.IsAuthenticated = true
		t.User.IsAIConnected = enableAI
		uplink := "OFFLINE"
		if enableAI {
			uplink = "ACTIVE"
		}
		t.log(domain.ActorSystem, "AUTH_SUCCESS", fmt.Sprintf("User %s authenticated. AI Uplink: %s", name, uplink), domain.LevelSuccess)
		return true, nil
	})
}

func (e *Engine) Logout(ctx context.Context) error {
	return e.apply(ctx, "logout", func(t *txn) (bool, error) {
		if !t.User.IsAuthenticated {
			return false, nil
		}
		t.User.IsAuthenticated = false
		t.User.IsAIConnected = false
		t.log(domain.ActorSystem, "AUTH_LOGOUT", fmt.Sprintf("User %s logged out", t.User.Name), domain.LevelInfo)
		return true, nil
	})
}

// MarkRemoteConnected records an established bridge link.
func (e *Engine) MarkRemoteConnected(ctx context.Context, url string) error {
	return e.apply(ctx, "markRemoteConnected", func(t *txn) (bool, error) {
		t.User.IsRemoteConnected = true
		t.User.RemoteURL = url
		t.log(domain.ActorSystem, "REMOTE_LINK", "Uplink established to "+url, domain.LevelSuccess)
		return true, nil
	})
}

// MarkRemoteDisconnected records a closed bridge link. The URL is kept for
// the next reconnect.
func (e *Engine) MarkRemoteDisconnected(ctx context.Context) error {
	return e.apply(ctx, "markRemoteDisconnected", func(t *txn) (bool, error) {
		if !t.User.IsRemoteConnected {
			return false, nil
		}
		t.User.IsRemoteConnected = false
		t.log(domain.ActorSystem, "REMOTE_DISCONNECT", "Uplink severed", domain.LevelWarning)
		return true, nil
	})
}
