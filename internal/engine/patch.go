package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"sentinel/internal/domain"
)

// TaskPatch is the set of task fields updateTask may change. Nil fields are
// left untouched.
type TaskPatch struct {
	Description          *string           `json:"description,omitempty"`
	Type                 *domain.TaskType  `json:"type,omitempty"`
	Status               *domain.Status    `json:"status,omitempty"`
	DueDate              *string           `json:"dueDate,omitempty"`
	CompletedAt          *string           `json:"completedAt,omitempty"`
	VerificationCriteria *string           `json:"verificationCriteria,omitempty"`
	SubTasks             *[]domain.SubTask `json:"subTasks,omitempty"`
}

// DecodeTaskPatch parses a JSON object, rejecting unknown fields.
func DecodeTaskPatch(raw []byte) (TaskPatch, error) {
	var p TaskPatch
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return TaskPatch{}, fmt.Errorf("%w: task patch: %v", ErrBadArguments, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return TaskPatch{}, badArgs("task patch: trailing data")
	}
	if err := p.Validate(); err != nil {
		return TaskPatch{}, err
	}
	return p, nil
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Description == nil && p.Type == nil && p.Status == nil && p.DueDate == nil &&
		p.CompletedAt == nil && p.VerificationCriteria == nil && p.SubTasks == nil
}

func (p TaskPatch) Validate() error {
	if p.Empty() {
		return badArgs("task patch is empty")
	}
	if p.Description != nil {
		if err := requireText("description", *p.Description); err != nil {
			return err
		}
	}
	if p.Type != nil && !p.Type.Valid() {
		return badArgs("unknown task type %q", *p.Type)
	}
	if p.Status != nil && !p.Status.Valid() {
		return badArgs("unknown task status %q", *p.Status)
	}
	if p.DueDate != nil {
		if err := validDate("dueDate", *p.DueDate); err != nil {
			return err
		}
	}
	if p.CompletedAt != nil {
		if err := validDate("completedAt", *p.CompletedAt); err != nil {
			return err
		}
	}
	if p.SubTasks != nil {
		seen := map[string]bool{}
		for _, st := range *p.SubTasks {
			if st.ID == "" {
				return badArgs("sub-task id is required")
			}
			if seen[st.ID] {
				return badArgs("duplicate sub-task id %s", st.ID)
			}
			seen[st.ID] = true
		}
	}
	return nil
}

// apply merges the patch. Only completed and verified tasks keep a
// completion timestamp.
func (p TaskPatch) apply(t *domain.Task) {
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Type != nil {
		t.Type = *p.Type
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.DueDate != nil {
		t.DueDate = *p.DueDate
	}
	if p.CompletedAt != nil {
		t.CompletedAt = *p.CompletedAt
	}
	if p.VerificationCriteria != nil {
		t.VerificationCriteria = *p.VerificationCriteria
	}
	if p.SubTasks != nil {
		t.SubTasks = nil
		if len(*p.SubTasks) > 0 {
			t.SubTasks = append([]domain.SubTask(nil), (*p.SubTasks)...)
		}
	}
	if !t.Status.Done() {
		t.CompletedAt = ""
	}
}
