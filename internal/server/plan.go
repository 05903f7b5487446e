package server

import (
	"bytes"
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"sentinel/internal/domain"
)

func registerPlan(api huma.API, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID: "create-sprint",
		Method:      http.MethodPost,
		Path:        "/sprints",
		Summary:     "Append an empty sprint",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateSprintRequest
	}) (*output[domain.Sprint], error) {
		sp, err := e.AddSprint(ctx, input.Body.Title, input.Body.Objective, input.Body.StartDate, input.Body.EndDate)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(sp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-week",
		Method:      http.MethodPost,
		Path:        "/sprints/{sprint_id}/weeks",
		Summary:     "Append an empty week to a sprint",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SprintID string `path:"sprint_id"`
		Body     CreateWeekRequest
	}) (*output[domain.Week], error) {
		w, err := e.AddWeek(ctx, input.SprintID, input.Body.Title, input.Body.Theme, input.Body.StartDate, input.Body.EndDate)
		if err != nil {
			return nil, handleError(err)
		}
		if w.ID == "" {
			return nil, notFound("sprint", input.SprintID)
		}
		return reply(w), nil
	})
}

func registerRules(api huma.API, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID: "list-rules",
		Method:      http.MethodGet,
		Path:        "/rules",
		Summary:     "List rules",
	}, func(ctx context.Context, _ *struct{}) (*output[[]domain.Rule], error) {
		return reply(e.Snapshot().Rules), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-rule",
		Method:      http.MethodPost,
		Path:        "/rules",
		Summary:     "Register an active rule",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateRuleRequest
	}) (*output[domain.Rule], error) {
		r, err := e.AddRule(ctx, input.Body.Condition, input.Body.Consequence)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(r), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-rule",
		Method:        http.MethodDelete,
		Path:          "/rules/{rule_id}",
		Summary:       "Delete a rule",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct {
		RuleID string `path:"rule_id"`
	}) (*struct{}, error) {
		if err := e.DeleteRule(ctx, input.RuleID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "trigger-consequence",
		Method:      http.MethodPost,
		Path:        "/rules/{rule_id}/trigger",
		Summary:     "Trigger a rule's consequence (+25)",
		Description: "Unknown rule ids still escalate.",
	}, func(ctx context.Context, input *struct {
		RuleID string `path:"rule_id"`
	}) (*output[TriggerResponse], error) {
		if err := e.TriggerConsequence(ctx, input.RuleID); err != nil {
			return nil, handleError(err)
		}
		return reply(TriggerResponse{RuleID: input.RuleID, ConsequenceLevel: e.Snapshot().ConsequenceLevel}), nil
	})
}

func registerMetrics(api huma.API, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID: "update-metric",
		Method:      http.MethodPut,
		Path:        "/metrics/{metric}",
		Summary:     "Set one fixed counter",
		Description: "The body is the raw JSON value, e.g. 3 or [\"AWS SAA\"].",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Metric string `path:"metric" example:"interviews"`
	}) (*output[domain.Metrics], error) {
		raw := bytes.TrimSpace(bodyBytes(ctx))
		if len(raw) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := e.UpdateMetric(ctx, input.Metric, raw); err != nil {
			return nil, handleError(err)
		}
		return reply(e.Snapshot().Metrics), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-custom-metric",
		Method:      http.MethodPost,
		Path:        "/custom-metrics",
		Summary:     "Track a custom metric",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateCustomMetricRequest
	}) (*output[domain.CustomMetric], error) {
		m, err := e.AddCustomMetric(ctx, input.Body.Label, input.Body.Target, input.Body.Unit, domain.MetricColor(input.Body.Color))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-custom-metric",
		Method:      http.MethodPut,
		Path:        "/custom-metrics/{metric_id}",
		Summary:     "Set a custom metric value",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		MetricID string `path:"metric_id"`
		Body     CustomMetricValueRequest
	}) (*output[domain.CustomMetric], error) {
		if err := e.UpdateCustomMetric(ctx, input.MetricID, input.Body.Value); err != nil {
			return nil, handleError(err)
		}
		for _, m := range e.Snapshot().CustomMetrics {
			if m.ID == input.MetricID {
				return reply(m), nil
			}
		}
		return nil, notFound("custom metric", input.MetricID)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-custom-metric",
		Method:        http.MethodDelete,
		Path:          "/custom-metrics/{metric_id}",
		Summary:       "Stop tracking a custom metric",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct {
		MetricID string `path:"metric_id"`
	}) (*struct{}, error) {
		if err := e.DeleteCustomMetric(ctx, input.MetricID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}
