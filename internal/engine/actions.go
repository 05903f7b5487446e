package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"sentinel/internal/domain"
)

// Kind is the JSON shape an action argument must have.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindObject  Kind = "object"
	KindAny     Kind = "any"
)

type Param struct {
	Name     string `json:"name"`
	Kind     Kind   `json:"kind"`
	Optional bool   `json:"optional,omitempty"`
}

// Action describes one dispatchable operation.
type Action struct {
	Name   string  `json:"name"`
	Params []Param `json:"params"`
	Doc    string  `json:"doc"`

	run func(ctx context.Context, e *Engine, a args) (any, error)
}

func req(name string, k Kind) Param { return Param{Name: name, Kind: k} }
func opt(name string, k Kind) Param { return Param{Name: name, Kind: k, Optional: true} }

var registry = map[string]Action{}

func register(a Action) {
	if _, dup := registry[a.Name]; dup {
		panic("engine: duplicate action " + a.Name)
	}
	registry[a.Name] = a
}

// Actions lists the dispatchable operations sorted by name.
func Actions() []Action {
	out := make([]Action, 0, len(registry))
	for _, a := range registry {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LookupAction reports whether name is dispatchable.
func LookupAction(name string) (Action, bool) {
	a, ok := registry[name]
	return a, ok
}

// Dispatch invokes an action with positional JSON arguments. Unknown actions
// wrap ErrUnknownAction; arity or type mismatches wrap ErrBadArguments.
func (e *Engine) Dispatch(ctx context.Context, name string, raw []json.RawMessage) (any, error) {
	a, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	if len(raw) > len(a.Params) {
		return nil, badArgs("%s takes at most %d arguments, got %d", name, len(a.Params), len(raw))
	}
	for i, p := range a.Params {
		var v json.RawMessage
		if i < len(raw) {
			v = bytes.TrimSpace(raw[i])
		}
		if len(v) == 0 || isNull(v) {
			if !p.Optional {
				return nil, badArgs("%s: missing argument %d (%s)", name, i, p.Name)
			}
			continue
		}
		if got := kindOf(v); p.Kind != KindAny && got != p.Kind {
			return nil, badArgs("%s: argument %d (%s) must be a %s, got %s", name, i, p.Name, p.Kind, got)
		}
	}
	return a.run(ctx, e, args(raw))
}

func kindOf(v json.RawMessage) Kind {
	switch v[0] {
	case '"':
		return KindString
	case '{':
		return KindObject
	case '[':
		return "array"
	case 't', 'f':
		return KindBoolean
	default:
		return KindNumber
	}
}

// args reads already validated positional arguments.
type args []json.RawMessage

func (a args) present(i int) bool {
	return i < len(a) && len(bytes.TrimSpace(a[i])) > 0 && !isNull(a[i])
}

func (a args) str(i int) string {
	var s string
	if a.present(i) {
		_ = json.Unmarshal(a[i], &s)
	}
	return s
}

func (a args) num(i int) float64 {
	var f float64
	if a.present(i) {
		_ = json.Unmarshal(a[i], &f)
	}
	return f
}

func (a args) boolean(i int) bool {
	var b bool
	if a.present(i) {
		_ = json.Unmarshal(a[i], &b)
	}
	return b
}

func (a args) raw(i int) json.RawMessage {
	if !a.present(i) {
		return nil
	}
	return a[i]
}

func init() {
	register(Action{Name: "getState", Doc: "Return the whole document.",
		run: func(_ context.Context, e *Engine, _ args) (any, error) { return e.Snapshot(), nil }})
	register(Action{Name: "getTasks", Doc: "List tasks: all, overdue or a status.",
		Params: []Param{opt("filter", KindString)},
		run: func(_ context.Context, e *Engine, a args) (any, error) { return e.GetTasks(a.str(0)) }})
	register(Action{Name: "addTask", Doc: "Append a pending task to a week.",
		Params: []Param{req("weekId", KindString), req("description", KindString), req("type", KindString), opt("verificationCriteria", KindString), opt("dueDate", KindString)},
		run: func(ctx context.Context, e *Engine, a args) (any, error) {
			t, err := e.AddTask(ctx, NewTask{WeekID: a.str(0), Description: a.str(1), Type: domain.TaskType(a.str(2)), VerificationCriteria: a.str(3), DueDate: a.str(4)})
			if err != nil || t.ID == "" {
				return nil, err
			}
			return t, nil
		}})
	register(Action{Name: "updateTask", Doc: "Apply a validated patch to a task.",
		Params: []Param{req("taskId", KindString), req("updates", KindObject)},
		run: func(ctx context.Context, e *Engine, a args) (any, error) {
			p, err := DecodeTaskPatch(a.raw(1))
			if err != nil {
				return nil, err
			}
			return nil, e.UpdateTask(ctx, a.str(0), p)
		}})
	register(Action{Name: "renameTask", Doc: "Change a task description.",
		Params: []Param{req("taskId", KindString), req("description", KindString)},
		run: func(ctx context.Context, e *Engine, a args) (any, error) { return nil, e.RenameTask(ctx, a.str(0), a.str(1)) }})
	register(Action{Name: "rescheduleTask", Doc: "Set or clear a task due date.",
		Params: []Param{req("taskId", KindString), opt("dueDate", KindString)},
		run: func(ctx context.Context, e *Engine, a args) (any, error) { return nil, e.RescheduleTask(ctx, a.str(0), a.str(1)) }})
	register(Action{Name: "setCriteria", Doc: "Replace a task's verification criteria.",
		Params: []Param{req("taskId", KindString), req("criteria", KindString)},
		run: func(ctx context.Context, e *Engine, a args) (any, error) { return nil, e.SetCriteria(ctx, a.str(0), a.str(1)) }})
	register(Action{Name: "deleteTask", Doc: "Remove a task.",
		Params: []Param{req("taskId", KindString)},
		run: func(ctx context.Context, e *Engine, a args) (any, error) { return nil, e.DeleteTask(ctx, a.str(0)) }})
	register(Action{Name: "toggleTask", Doc: "Flip a task between pending and completed.",
		Params: []Param{req("taskId", KindString)},
		run: func(ctx context.Context, e *Engine, a args) (any, error) { return nil, e.ToggleTask(ctx, a.str(0)) }})
	register(Action{Name: "verifyTask", Doc: "Mark a task verified.",
		Params: []Param{req("taskId", KindString), req("agentName", KindString), opt("notes", KindString)},
		run: func(ctx context.Context, e *Engine, a args) (any, error) {
			return nil, e.VerifyTask(ctx, a.str(0), a.str(1), a.str(2))
		}})
	register(Action{Name: "failTask", Doc: "Mark a task failed and escalate by 10.",
		Params: []Param{req("taskId", KindString), req("agentName", KindString), req("reason", KindString)},
		run: func(ctx context.Context, e *Engine, a args) (any, error) {
			return nil, e.FailTask(ctx, a.str(0), a.str(1), a.str(2))
		}})
	register(Action{Name: "addSubTask", Doc: "Append a sub-task.",
		Params: []Param{req("taskId", KindString), req("description", KindString)},
		run: func(ctx context.Context, e *Engine, a args) (any, error) {
			st, err := e.AddSubTask(ctx, a.str(0), a.str(1))
			if err != nil || st.ID == "" {
				return nil, err
			}
			return st, nil
		}})
	register(Action{Name: "toggleSubTask", Doc: "Flip a sub-task's completion.",
		Params: []Param{req("taskId", KindString), req("subTaskId", KindString)},
		run: func(ctx context.Context, e *Engine, a args) (any, error) {
			return nil, e.ToggleSubTask(ctx, a.str(0), a.str(1))
		}})
	register(Action{Name: "deleteSubTask", Doc: "Remove a sub-task.",
		Params: []Param{req("taskId", KindString), req("subTaskId", KindString)},
		run: func(ctx context.Context, e *Engine, a args) (any, error) {
			return nil, e.DeleteSubTask(ctx, a.str(0), a.str(1))
		}})
	register(Action{Name: "addSprint", Doc: "Append a sprint.",
		Params: []Param{req("title", KindString), req("objective", KindString), req("startDate", KindString), req("endDate", KindString)},
		run: func(ctx context.Context, e *Engine, a args) (any, error) {
			return e.AddSprint(ctx, a.str(0), a.str(1), a.str(2), a.str(3))
		}})
	register(Action{Name: "addWeek", Doc: "Append a week to a sprint.",
		Params: []Param{req("sprintId", KindString), req("title", KindString), req("theme", KindString), req("startDate", KindString), req("endDate", KindString)},
		run: func(ctx context.Context, e *Engine, a args) (any, error) {
			w, err := e.AddWeek(ctx, a.str(0), a.str(1), a.str(2), a.str(3), a.str(4))
			if err != nil || w.ID == "" {
				return nil, err
			}
			return w, nil
		}})
	register(Action{Name: "sendChatMessage", Doc: "Append a chat message.",
		Params: []Param{req("sender", KindString), req("content", KindString)},
		run: func(ctx context.Context, e *Engine, a args) (any, error) {
			return e.SendChatMessage(ctx, a.str(0), a.str(1))
		}})
	register(Action{Name: "updateMetric", Doc: "Set a fixed dashboard counter.",
		Params: []Param{req("metric", KindString), req("value", KindAny)},
		run: func(ctx context.Context, e *Engine, a args) (any, error) {
			return nil, e.UpdateMetric(ctx, a.str(0), a.raw(1))
		}})
	register(Action{Name: "addCustomMetric", Doc: "Start tracking a custom metric.",
		Params: []Param{req("label", KindString), req("target", KindNumber), req("unit", KindString), req("color", KindString)},
		run: func(ctx context.Context, e *Engine, a args) (any, error) {
			return e.AddCustomMetric(ctx, a.str(0), a.num(1), a.str(2), domain.MetricColor(a.str(3)))
		}})
	register(Action{Name: "updateCustomMetric", Doc: "Set a custom metric value.",
		Params: []Param{req("id", KindString), req("value", KindNumber)},
		run: func(ctx context.Context, e *Engine, a args) (any, error) {
			return nil, e.UpdateCustomMetric(ctx, a.str(0), a.num(1))
		}})
	register(Action{Name: "deleteCustomMetric", Doc: "Stop tracking a custom metric.",
		Params: []Param{req("id", KindString)},
		run: func(ctx context.Context, e *Engine, a args) (any, error) { return nil, e.DeleteCustomMetric(ctx, a.str(0)) }})
	register(Action{Name: "addRule", Doc: "Register an active rule.",
		Params: []Param{req("condition", KindString), req("consequence", KindString)},
		run: func(ctx context.Context, e *Engine, a args) (any, error) { return e.AddRule(ctx, a.str(0), a.str(1)) }})
	register(Action{Name: "deleteRule", Doc: "Remove a rule.",
		Params: []Param{req("id", KindString)},
		run: func(ctx context.Context, e *Engine, a args) (any, error) { return nil, e.DeleteRule(ctx, a.str(0)) }})
	register(Action{Name: "triggerConsequence", Doc: "Trigger a rule and escalate by 25.",
		Params: []Param{req("ruleId", KindString)},
		run: func(ctx context.Context, e *Engine, a args) (any, error) { return nil, e.TriggerConsequence(ctx, a.str(0)) }})
	register(Action{Name: "addLog", Doc: "Append an audit entry.",
		Params: []Param{req("actor", KindString), req("action", KindString), req("details", KindString), req("level", KindString)},
		run: func(ctx context.Context, e *Engine, a args) (any, error) {
			return e.AddLog(ctx, a.str(0), a.str(1), a.str(2), domain.LogLevel(a.str(3)))
		}})
	register(Action{Name: "importState", Doc: "Replace the document after validation.",
		Params: []Param{req("state", KindAny)},
		run: func(ctx context.Context, e *Engine, a args) (any, error) { return nil, e.ImportState(ctx, a.raw(0)) }})
	register(Action{Name: "exportState", Doc: "Return the serialized document.",
		run: func(_ context.Context, e *Engine, _ args) (any, error) {
			doc, err := e.ExportState()
			if err != nil {
				return nil, err
			}
			return json.RawMessage(doc), nil
		}})
	register(Action{Name: "login", Doc: "Authenticate the local user.",
		Params: []Param{req("name", KindString), opt("enableAI", KindBoolean)},
		run: func(ctx context.Context, e *Engine, a args) (any, error) { return nil, e.Login(ctx, a.str(0), a.boolean(1)) }})
	register(Action{Name: "logout", Doc: "End the local session.",
		run: func(ctx context.Context, e *Engine, _ args) (any, error) { return nil, e.Logout(ctx) }})
	register(Action{Name: "resetState", Doc: "Restore the seed document.",
		run: func(ctx context.Context, e *Engine, _ args) (any, error) { return nil, e.ResetState(ctx) }})
}
