package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"sentinel/internal/domain"
	"sentinel/internal/engine"
)

type output[T any] struct {
	Body T `json:"body"`
}

func reply[T any](v T) *output[T] { return &output[T]{Body: v} }

type taskPath struct {
	TaskID string `path:"task_id"`
}

type subTaskPath struct {
	TaskID    string `path:"task_id"`
	SubTaskID string `path:"subtask_id"`
}

func findTask(e *engine.Engine, id string) (domain.Task, error) {
	task, ok := e.Snapshot().FindTask(id)
	if !ok {
		return domain.Task{}, notFound("task", id)
	}
	return task, nil
}

// taskAfter runs op on an existing task and returns the task as it is now.
func taskAfter(ctx context.Context, e *engine.Engine, id string, op func() error) (*output[domain.Task], error) {
	if _, err := findTask(e, id); err != nil {
		return nil, err
	}
	if err := op(); err != nil {
		return nil, handleError(err)
	}
	task, err := findTask(e, id)
	if err != nil {
		return nil, err
	}
	return reply(task), nil
}

func registerTasks(api huma.API, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks (all, overdue or by status)",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Filter string `query:"filter" example:"overdue"`
	}) (*output[TasksResponse], error) {
		tasks, err := e.GetTasks(input.Filter)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(TasksResponse{Items: tasks}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "prioritize-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks/priority",
		Summary:     "Advisor ordering of the filtered tasks",
		Errors:      []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Filter string `query:"filter"`
	}) (*output[PriorityResponse], error) {
		if cfg.Overseer == nil {
			return nil, overseerUnavailable()
		}
		order, err := cfg.Overseer.Prioritize(ctx, input.Filter)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(PriorityResponse{Order: order}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*output[domain.Task], error) {
		task, err := findTask(e, input.TaskID)
		if err != nil {
			return nil, err
		}
		return reply(task), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-task",
		Method:      http.MethodPost,
		Path:        "/weeks/{week_id}/tasks",
		Summary:     "Append a pending task to a week",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WeekID string `path:"week_id"`
		Body   CreateTaskRequest
	}) (*output[domain.Task], error) {
		task, err := e.AddTask(ctx, engine.NewTask{
			WeekID:               input.WeekID,
			Description:          input.Body.Description,
			Type:                 domain.TaskType(input.Body.Type),
			VerificationCriteria: input.Body.VerificationCriteria,
			DueDate:              input.Body.DueDate,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if task.ID == "" {
			return nil, notFound("week", input.WeekID)
		}
		return reply(task), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Apply a partial update to a task",
		Description: "Body fields: description, type, status, dueDate, completedAt, verificationCriteria, subTasks. Unknown fields are rejected.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*output[domain.Task], error) {
		patch, err := engine.DecodeTaskPatch(bodyBytes(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return taskAfter(ctx, e, input.TaskID, func() error { return e.UpdateTask(ctx, input.TaskID, patch) })
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{task_id}",
		Summary:       "Delete task",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct{}, error) {
		if _, err := findTask(e, input.TaskID); err != nil {
			return nil, err
		}
		if err := e.DeleteTask(ctx, input.TaskID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/toggle",
		Summary:     "Toggle pending/completed",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*output[domain.Task], error) {
		return taskAfter(ctx, e, input.TaskID, func() error { return e.ToggleTask(ctx, input.TaskID) })
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/verify",
		Summary:     "Mark a task verified",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*output[domain.Task], error) {
		var req VerifyTaskRequest
		if raw := bytes.TrimSpace(bodyBytes(ctx)); len(raw) > 0 {
			if err := json.Unmarshal(raw, &req); err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid body", map[string]any{"error": err.Error()})
			}
		}
		return taskAfter(ctx, e, input.TaskID, func() error {
			return e.VerifyTask(ctx, input.TaskID, actorOr(ctx, req.Agent), req.Notes)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "fail-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/fail",
		Summary:     "Mark a task failed and escalate",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Body   FailTaskRequest
	}) (*output[domain.Task], error) {
		return taskAfter(ctx, e, input.TaskID, func() error {
			return e.FailTask(ctx, input.TaskID, actorOr(ctx, input.Body.Agent), input.Body.Reason)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID:   "request-verification",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/verification",
		Summary:       "Ask the overseer to verify a task",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusNotFound, http.StatusConflict, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *taskPath) (*output[VerificationResponse], error) {
		if cfg.Overseer == nil {
			return nil, overseerUnavailable()
		}
		if _, err := findTask(e, input.TaskID); err != nil {
			return nil, err
		}
		started, err := cfg.Overseer.RequestVerification(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return verificationStatus(cfg, input.TaskID, started)
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-verification",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/verification",
		Summary:     "Whether the task is shown as verifying, and its status",
		Errors:      []int{http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *taskPath) (*output[VerificationResponse], error) {
		if cfg.Overseer == nil {
			return nil, overseerUnavailable()
		}
		return verificationStatus(cfg, input.TaskID, false)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-verifications",
		Method:      http.MethodGet,
		Path:        "/verifications",
		Summary:     "Tasks currently shown as verifying",
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*output[InFlightResponse], error) {
		if cfg.Overseer == nil {
			return nil, overseerUnavailable()
		}
		return reply(InFlightResponse{Items: cfg.Overseer.InFlight()}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-subtask",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/subtasks",
		Summary:     "Append a sub-task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Body   SubTaskRequest
	}) (*output[domain.Task], error) {
		return taskAfter(ctx, e, input.TaskID, func() error {
			_, err := e.AddSubTask(ctx, input.TaskID, input.Body.Description)
			return err
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "generate-subtasks",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/subtasks/generate",
		Summary:     "Ask the overseer to break a task down",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *taskPath) (*output[domain.Task], error) {
		if cfg.Overseer == nil {
			return nil, overseerUnavailable()
		}
		return taskAfter(ctx, e, input.TaskID, func() error {
			_, err := cfg.Overseer.GenerateSubTasks(ctx, input.TaskID)
			return err
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-subtask",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/subtasks/{subtask_id}/toggle",
		Summary:     "Toggle a sub-task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *subTaskPath) (*output[domain.Task], error) {
		return taskAfter(ctx, e, input.TaskID, func() error { return e.ToggleSubTask(ctx, input.TaskID, input.SubTaskID) })
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-subtask",
		Method:      http.MethodDelete,
		Path:        "/tasks/{task_id}/subtasks/{subtask_id}",
		Summary:     "Delete a sub-task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *subTaskPath) (*output[domain.Task], error) {
		return taskAfter(ctx, e, input.TaskID, func() error { return e.DeleteSubTask(ctx, input.TaskID, input.SubTaskID) })
	})
}

func verificationStatus(cfg Config, taskID string, started bool) (*output[VerificationResponse], error) {
	task, err := findTask(cfg.Engine, taskID)
	if err != nil {
		return nil, err
	}
	return reply(VerificationResponse{
		TaskID:    taskID,
		Started:   started,
		Verifying: cfg.Overseer.Verifying(taskID),
		Status:    task.Status,
	}), nil
}

func overseerUnavailable() error {
	return newAPIError(http.StatusServiceUnavailable, "overseer_unavailable", "overseer not configured", nil)
}
