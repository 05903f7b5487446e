package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// registerAdvisor exposes the overseer's drafting helpers. Both answer with
// an empty suggestion when the advisor has none.
func registerAdvisor(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "suggest-task-type",
		Method:      http.MethodPost,
		Path:        "/advisor/suggest-type",
		Summary:     "Suggest a task type for a description",
		Errors:      []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body SuggestTypeRequest
	}) (*output[SuggestTypeResponse], error) {
		if cfg.Overseer == nil {
			return nil, overseerUnavailable()
		}
		if strings.TrimSpace(input.Body.Description) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "description is required", nil)
		}
		typ, ok := cfg.Overseer.SuggestType(ctx, input.Body.Description, input.Body.Criteria)
		if !ok {
			return reply(SuggestTypeResponse{}), nil
		}
		return reply(SuggestTypeResponse{Type: typ, Suggested: true}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "generate-task-details",
		Method:      http.MethodPost,
		Path:        "/advisor/details",
		Summary:     "Draft a task from free-form input",
		Errors:      []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body DetailsRequest
	}) (*output[DetailsResponse], error) {
		if cfg.Overseer == nil {
			return nil, overseerUnavailable()
		}
		if strings.TrimSpace(input.Body.Input) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "input is required", nil)
		}
		d, ok := cfg.Overseer.GenerateDetails(ctx, input.Body.Input)
		if !ok {
			return reply(DetailsResponse{}), nil
		}
		return reply(DetailsResponse{Description: d.Description, Criteria: d.Criteria, Type: d.Type, Generated: true}), nil
	})
}
