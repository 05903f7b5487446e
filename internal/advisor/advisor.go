// Package advisor is the Verifier/Advisor collaborator: verification
// verdicts, categorization, task breakdown, prioritization and chat. Every
// call is best effort and returns a safe default on failure.
package advisor

import (
	"context"

	"sentinel/internal/domain"
)

type Verdict struct {
	Verified bool   `json:"verified"`
	Notes    string `json:"notes"`
}

type Details struct {
	Description string          `json:"description"`
	Criteria    string          `json:"criteria"`
	Type        domain.TaskType `json:"type"`
}

type Advisor interface {
	Verify(ctx context.Context, task domain.Task) Verdict
	// SuggestType returns false when no suggestion is available.
	SuggestType(ctx context.Context, description, criteria string) (domain.TaskType, bool)
	GenerateDetails(ctx context.Context, input string) (Details, bool)
	GenerateSubTasks(ctx context.Context, description string) []string
	// Prioritize returns the task ids ordered highest priority first.
	Prioritize(ctx context.Context, tasks []domain.Task) []string
	Chat(ctx context.Context, history []domain.ChatMessage, message string) string
}

// Defaults returned when a call fails.
const (
	ChatInterrupted      = "Connection to Overseer interrupted. Please try again."
	verifyFailedPrefix   = "AI Verification Failed: "
	defaultCriteriaNotes = "Use best judgment based on task description"
)

// FailedVerdict is the verdict reported when verification could not run.
func FailedVerdict(err error) Verdict {
	return Verdict{Verified: false, Notes: verifyFailedPrefix + err.Error()}
}

// NormalizeOrder turns a proposed ordering into a permutation of ids: unknown
// and duplicate ids are dropped, missing ids are appended in input order.
func NormalizeOrder(ids, proposed []string) []string {
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	out := make([]string, 0, len(ids))
	used := make(map[string]bool, len(ids))
	for _, id := range proposed {
		if known[id] && !used[id] {
			out = append(out, id)
			used[id] = true
		}
	}
	for _, id := range ids {
		if !used[id] {
			out = append(out, id)
			used[id] = true
		}
	}
	return out
}

func taskIDs(tasks []domain.Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}
