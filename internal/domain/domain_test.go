package domain

import (
	"testing"
	"time"
)

func TestSeedShape(t *testing.T) {
	now := time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC)
	s := Seed(now)
	if len(s.Sprints) != 2 {
		t.Fatalf("expected 2 sprints, got %d", len(s.Sprints))
	}
	if s.WeekCount() != 12 {
		t.Fatalf("expected 12 weeks, got %d", s.WeekCount())
	}
	if n := len(s.AllTasks()); n != 40 {
		t.Fatalf("expected 40 tasks, got %d", n)
	}
	if len(s.Rules) != 4 {
		t.Fatalf("expected 4 rules, got %d", len(s.Rules))
	}
	if s.Logs[0].Action != "SYSTEM_INIT" || s.Logs[0].Timestamp != "2026-01-20T09:00:00.000Z" {
		t.Fatalf("unexpected init log %+v", s.Logs[0])
	}
	if s.User.Name != "Candidate" || s.Metrics.ApplicationsTarget != 50 {
		t.Fatalf("unexpected profile/metrics %+v %+v", s.User, s.Metrics)
	}
	for _, task := range s.AllTasks() {
		if !task.Status.Valid() || !task.Type.Valid() {
			t.Fatalf("seed task %s has invalid status/type", task.ID)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := Seed(time.Now())
	c := s.Clone()
	c.Sprints[0].Weeks[0].Tasks[0].Description = "changed"
	c.Sprints[0].Weeks[0].Tasks = append(c.Sprints[0].Weeks[0].Tasks, Task{ID: "x"})
	c.Rules[0].Status = RuleTriggered
	c.Metrics.Certifications = append(c.Metrics.Certifications, "AZ-900")

	if s.Sprints[0].Weeks[0].Tasks[0].Description == "changed" {
		t.Fatalf("task description leaked into original")
	}
	if len(s.Sprints[0].Weeks[0].Tasks) != 4 {
		t.Fatalf("task slice leaked into original")
	}
	if s.Rules[0].Status != RuleActive {
		t.Fatalf("rule status leaked into original")
	}
	if len(s.Metrics.Certifications) != 0 {
		t.Fatalf("certifications leaked into original")
	}
}

func TestCloneSubTasks(t *testing.T) {
	task := Task{ID: "t", SubTasks: []SubTask{{ID: "a"}}}
	c := task.Clone()
	c.SubTasks[0].IsCompleted = true
	if task.SubTasks[0].IsCompleted {
		t.Fatalf("subtask mutation leaked")
	}
}

func TestFindTask(t *testing.T) {
	s := Seed(time.Now())
	task, ok := s.FindTask("t22")
	if !ok || task.DueDate != "2026-01-23" {
		t.Fatalf("expected t22 with due date, got %+v ok=%v", task, ok)
	}
	if _, ok := s.FindTask("missing"); ok {
		t.Fatalf("expected missing task lookup to fail")
	}
}

func TestStatusPredicates(t *testing.T) {
	if !StatusVerified.Terminal() || !StatusFailed.Terminal() || StatusCompleted.Terminal() {
		t.Fatalf("terminal predicate wrong")
	}
	if !StatusCompleted.Done() || !StatusVerified.Done() || StatusFailed.Done() {
		t.Fatalf("done predicate wrong")
	}
	if Status("bogus").Valid() || TaskType("bogus").Valid() {
		t.Fatalf("unknown enum accepted")
	}
}
