package server

import (
	"sentinel/internal/domain"
	"sentinel/internal/repo"
)

type CreateTaskRequest struct {
	Description          string `json:"description" example:"Apply to 5 companies"`
	Type                 string `json:"type" enum:"application,certification,portfolio,networking,finance,admin" example:"application"`
	VerificationCriteria string `json:"verification_criteria,omitempty"`
	DueDate              string `json:"due_date,omitempty" example:"2026-01-23"`
}

type VerifyTaskRequest struct {
	Agent string `json:"agent,omitempty" example:"AgentX"`
	Notes string `json:"notes,omitempty"`
}

type FailTaskRequest struct {
	Agent  string `json:"agent,omitempty" example:"AgentX"`
	Reason string `json:"reason" example:"No evidence found"`
}

type SubTaskRequest struct {
	Description string `json:"description"`
}

type VerificationResponse struct {
	TaskID    string        `json:"task_id"`
	Started   bool          `json:"started"`
	Verifying bool          `json:"verifying"`
	Status    domain.Status `json:"status,omitempty"`
}

type InFlightResponse struct {
	Items []string `json:"items"`
}

type SuggestTypeRequest struct {
	Description string `json:"description" example:"Coffee chat with a hiring manager"`
	Criteria    string `json:"criteria,omitempty"`
}

type SuggestTypeResponse struct {
	Type      domain.TaskType `json:"type,omitempty"`
	Suggested bool            `json:"suggested"`
}

type DetailsRequest struct {
	Input string `json:"input" example:"apply to the 3 fintech roles from linkedin by friday"`
}

type DetailsResponse struct {
	Description string          `json:"description,omitempty"`
	Criteria    string          `json:"criteria,omitempty"`
	Type        domain.TaskType `json:"type,omitempty"`
	Generated   bool            `json:"generated"`
}

type PriorityResponse struct {
	Order []string `json:"order"`
}

type CreateSprintRequest struct {
	Title     string `json:"title" example:"Sprint 3: Offers"`
	Objective string `json:"objective,omitempty"`
	StartDate string `json:"start_date,omitempty" example:"2026-02-16"`
	EndDate   string `json:"end_date,omitempty" example:"2026-03-29"`
}

type CreateWeekRequest struct {
	Title     string `json:"title"`
	Theme     string `json:"theme,omitempty"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}

type CreateRuleRequest struct {
	Condition   string `json:"condition"`
	Consequence string `json:"consequence"`
}

type TriggerResponse struct {
	RuleID           string `json:"rule_id"`
	ConsequenceLevel int    `json:"consequence_level"`
}

type CreateCustomMetricRequest struct {
	Label  string  `json:"label"`
	Target float64 `json:"target"`
	Unit   string  `json:"unit,omitempty"`
	Color  string  `json:"color" enum:"blue,green,purple,red"`
}

type CustomMetricValueRequest struct {
	Value float64 `json:"value"`
}

type AddLogRequest struct {
	Actor   string `json:"actor,omitempty"`
	Action  string `json:"action"`
	Details string `json:"details"`
	Level   string `json:"level" enum:"info,warning,critical,success"`
}

type ChatRequest struct {
	Message string `json:"message"`
}

type LoginRequest struct {
	Name     string `json:"name"`
	EnableAI bool   `json:"enable_ai,omitempty"`
}

type BridgeConnectRequest struct {
	URL string `json:"url,omitempty" example:"ws://localhost:8080"`
}

type BridgeStatusResponse struct {
	Connected bool   `json:"connected"`
	URL       string `json:"url,omitempty"`
}

type ActionParamResponse struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Optional bool   `json:"optional,omitempty"`
}

type ActionResponse struct {
	Name   string                `json:"name"`
	Doc    string                `json:"doc"`
	Params []ActionParamResponse `json:"params"`
}

type CommandResponse struct {
	Action string `json:"action"`
	Result any    `json:"result,omitempty"`
}

type LogsResponse struct {
	Items []domain.SystemLog `json:"items"`
}

type AuditResponse struct {
	Items []repo.AuditEvent `json:"items"`
}

type TasksResponse struct {
	Items []domain.Task `json:"items"`
}
