package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sentinel/internal/domain"
)

// NewTask are the parameters of AddTask.
type NewTask struct {
	WeekID               string
	Description          string
	Type                 domain.TaskType
	VerificationCriteria string
	DueDate              string
}

// AddTask appends a pending task to a week. An unknown week is a no-op and
// returns the zero Task.
func (e *Engine) AddTask(ctx context.Context, in NewTask) (domain.Task, error) {
	if err := requireText("description", in.Description); err != nil {
		return domain.Task{}, err
	}
	if !in.Type.Valid() {
		return domain.Task{}, badArgs("unknown task type %q", in.Type)
	}
	if err := validDate("dueDate", in.DueDate); err != nil {
		return domain.Task{}, err
	}
	var created domain.Task
	err := e.apply(ctx, "addTask", func(t *txn) (bool, error) {
		w := t.week(in.WeekID)
		if w == nil {
			return false, nil
		}
		created = domain.Task{
			ID:                   newID("t-"),
			Description:          in.Description,
			Status:               domain.StatusPending,
			Type:                 in.Type,
			VerificationCriteria: in.VerificationCriteria,
			DueDate:              in.DueDate,
		}
		w.Tasks = append(w.Tasks, created)
		due := in.DueDate
		if due == "" {
			due = "None"
		}
		t.log(domain.SenderOverseer, "TASK_CREATED", fmt.Sprintf("Created task: %s (Due: %s)", in.Description, due), domain.LevelInfo)
		return true, nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	return created, nil
}

// UpdateTask applies a validated patch to a task.
func (e *Engine) UpdateTask(ctx context.Context, taskID string, patch TaskPatch) error {
	return e.patchTask(ctx, "updateTask", taskID, patch, func(string) string {
		return fmt.Sprintf("Updated task %s", taskID)
	})
}

// RenameTask replaces a task's description.
func (e *Engine) RenameTask(ctx context.Context, taskID, description string) error {
	if err := requireText("description", description); err != nil {
		return err
	}
	return e.patchTask(ctx, "renameTask", taskID, TaskPatch{Description: &description}, func(old string) string {
		return fmt.Sprintf("Renamed task %s from %q", taskID, old)
	})
}

// RescheduleTask sets or, with an empty dueDate, clears the due date.
func (e *Engine) RescheduleTask(ctx context.Context, taskID, dueDate string) error {
	return e.patchTask(ctx, "rescheduleTask", taskID, TaskPatch{DueDate: &dueDate}, func(string) string {
		if dueDate == "" {
			return fmt.Sprintf("Cleared due date of task %s", taskID)
		}
		return fmt.Sprintf("Rescheduled task %s to %s", taskID, dueDate)
	})
}

// SetCriteria replaces the instructions the verifier checks a task against.
func (e *Engine) SetCriteria(ctx context.Context, taskID, criteria string) error {
	return e.patchTask(ctx, "setCriteria", taskID, TaskPatch{VerificationCriteria: &criteria}, func(string) string {
		return fmt.Sprintf("Updated verification criteria of task %s", taskID)
	})
}

func (e *Engine) patchTask(ctx context.Context, action, taskID string, patch TaskPatch, details func(oldDescription string) string) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	return e.apply(ctx, action, func(t *txn) (bool, error) {
		task := t.task(taskID)
		if task == nil {
			return false, nil
		}
		old := task.Description
		patch.apply(task)
		t.log(domain.SenderOverseer, "TASK_UPDATED", details(old), domain.LevelInfo)
		return true, nil
	})
}

func (e *Engine) DeleteTask(ctx context.Context, taskID string) error {
	return e.apply(ctx, "deleteTask", func(t *txn) (bool, error) {
		for i := range t.Sprints {
			for j := range t.Sprints[i].Weeks {
				w := &t.Sprints[i].Weeks[j]
				for k := range w.Tasks {
					if w.Tasks[k].ID != taskID {
						continue
					}
					w.Tasks = append(w.Tasks[:k], w.Tasks[k+1:]...)
					t.log(domain.SenderOverseer, "TASK_DELETED", fmt.Sprintf("Deleted task %s", taskID), domain.LevelWarning)
					return true, nil
				}
			}
		}
		return false, nil
	})
}

// VerifyTask marks a task verified from any prior status.
func (e *Engine) VerifyTask(ctx context.Context, taskID, agent, notes string) error {
	if err := requireText("agentName", agent); err != nil {
		return err
	}
	return e.apply(ctx, "verifyTask", func(t *txn) (bool, error) {
		task := t.task(taskID)
		if task == nil {
			return false, nil
		}
		task.Status = domain.StatusVerified
		task.VerifiedBy = agent
		if task.CompletedAt == "" {
			task.CompletedAt = domain.FormatTime(t.now)
		}
		details := strings.TrimSpace(fmt.Sprintf("Task %s verified by %s. %s", taskID, agent, notes))
		t.log(agent, "TASK_VERIFICATION", details, domain.LevelSuccess)
		return true, nil
	})
}

// FailTask marks a task failed and escalates the consequence level by 10.
func (e *Engine) FailTask(ctx context.Context, taskID, agent, reason string) error {
	if err := requireText("agentName", agent); err != nil {
		return err
	}
	return e.apply(ctx, "failTask", func(t *txn) (bool, error) {
		task := t.task(taskID)
		if task == nil {
			return false, nil
		}
		task.Status = domain.StatusFailed
		task.VerifiedBy = agent
		task.CompletedAt = ""
		level := t.escalate(10)
		t.log(agent, "TASK_FAILURE", fmt.Sprintf("Task %s marked FAILED. Reason: %s. Consequence Level increased to %d%%", taskID, reason, level), domain.LevelCritical)
		return true, nil
	})
}

// ToggleTask flips a task between pending and completed. Verified and failed
// tasks are left alone.
func (e *Engine) ToggleTask(ctx context.Context, taskID string) error {
	return e.apply(ctx, "toggleTask", func(t *txn) (bool, error) {
		task := t.task(taskID)
		if task == nil || task.Status.Terminal() {
			return false, nil
		}
		if task.Status == domain.StatusCompleted {
			task.Status = domain.StatusPending
			task.CompletedAt = ""
		} else {
			task.Status = domain.StatusCompleted
			task.CompletedAt = domain.FormatTime(t.now)
		}
		t.Metrics.ApplicationsSent = applicationsSent(t.State)
		t.log(domain.SenderUser, "TASK_UPDATE", fmt.Sprintf("Toggled task %s status", taskID), domain.LevelInfo)
		return true, nil
	})
}

// applicationsSent estimates five applications per finished application task.
func applicationsSent(s *domain.State) int {
	n := 0
	for _, task := range s.AllTasks() {
		if task.Type == domain.TypeApplication && task.Status.Done() {
			n++
		}
	}
	return n * 5
}

func (e *Engine) AddSubTask(ctx context.Context, taskID, description string) (domain.SubTask, error) {
	if err := requireText("description", description); err != nil {
		return domain.SubTask{}, err
	}
	var created domain.SubTask
	err := e.apply(ctx, "addSubTask", func(t *txn) (bool, error) {
		task := t.task(taskID)
		if task == nil {
			return false, nil
		}
		created = domain.SubTask{ID: newID("st-"), Description: description}
		task.SubTasks = append(task.SubTasks, created)
		t.log(domain.SenderUser, "SUBTASK_ADDED", fmt.Sprintf("Added sub-task to %s: %s", taskID, description), domain.LevelInfo)
		return true, nil
	})
	return created, err
}

// AppendSubTasks adds generated sub-tasks in order.
func (e *Engine) AppendSubTasks(ctx context.Context, taskID string, descriptions []string) ([]domain.SubTask, error) {
	var created []domain.SubTask
	err := e.apply(ctx, "appendSubTasks", func(t *txn) (bool, error) {
		task := t.task(taskID)
		if task == nil || len(descriptions) == 0 {
			return false, nil
		}
		for _, d := range descriptions {
			st := domain.SubTask{ID: newID("st-"), Description: d}
			task.SubTasks = append(task.SubTasks, st)
			created = append(created, st)
		}
		t.log(domain.SenderOverseer, "SUBTASK_GEN", fmt.Sprintf("Generated %d sub-tasks for: %s", len(created), task.Description), domain.LevelInfo)
		return true, nil
	})
	return created, err
}

func (e *Engine) ToggleSubTask(ctx context.Context, taskID, subTaskID string) error {
	return e.apply(ctx, "toggleSubTask", func(t *txn) (bool, error) {
		task := t.task(taskID)
		if task == nil {
			return false, nil
		}
		for i := range task.SubTasks {
			if task.SubTasks[i].ID == subTaskID {
				task.SubTasks[i].IsCompleted = !task.SubTasks[i].IsCompleted
				t.log(domain.SenderUser, "SUBTASK_TOGGLED", fmt.Sprintf("Toggled sub-task %s of %s", subTaskID, taskID), domain.LevelInfo)
				return true, nil
			}
		}
		return false, nil
	})
}

func (e *Engine) DeleteSubTask(ctx context.Context, taskID, subTaskID string) error {
	return e.apply(ctx, "deleteSubTask", func(t *txn) (bool, error) {
		task := t.task(taskID)
		if task == nil {
			return false, nil
		}
		for i := range task.SubTasks {
			if task.SubTasks[i].ID != subTaskID {
				continue
			}
			task.SubTasks = append(task.SubTasks[:i], task.SubTasks[i+1:]...)
			if len(task.SubTasks) == 0 {
				task.SubTasks = nil
			}
			t.log(domain.SenderUser, "SUBTASK_DELETED", fmt.Sprintf("Deleted sub-task %s of %s", subTaskID, taskID), domain.LevelWarning)
			return true, nil
		}
		return false, nil
	})
}

// Task filters accepted by GetTasks besides the status names.
const (
	FilterAll     = "all"
	FilterOverdue = "overdue"
)

// GetTasks returns the flattened task list filtered by status, "overdue" or
// "all".
func (e *Engine) GetTasks(filter string) ([]domain.Task, error) {
	s := e.Snapshot()
	all := s.AllTasks()
	out := []domain.Task{}
	switch {
	case filter == "" || filter == FilterAll:
		for _, task := range all {
			out = append(out, task.Clone())
		}
	case filter == FilterOverdue:
		today := e.clock().UTC().Format(time.DateOnly)
		for _, task := range all {
			if task.DueDate != "" && !task.Status.Done() && dateOf(task.DueDate) < today {
				out = append(out, task.Clone())
			}
		}
	case domain.Status(filter).Valid():
		for _, task := range all {
			if task.Status == domain.Status(filter) {
				out = append(out, task.Clone())
			}
		}
	default:
		return nil, badArgs("unknown task filter %q", filter)
	}
	return out, nil
}

func dateOf(v string) string {
	if len(v) >= len(time.DateOnly) {
		return v[:len(time.DateOnly)]
	}
	return v
}

// validDate accepts an empty value, a calendar date or an RFC 3339 timestamp.
func validDate(name, v string) error {
	if v == "" {
		return nil
	}
	if _, err := time.Parse(time.DateOnly, v); err == nil {
		return nil
	}
	if _, err := time.Parse(time.RFC3339, v); err == nil {
		return nil
	}
	return badArgs("%s must be YYYY-MM-DD or RFC 3339, got %q", name, v)
}
