package store

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTaskLifecycle(t *testing.T) {
	s := newTestStore(t)

	id, err := s.CreateTask("chat1", "organize downloads")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	task, err := s.GetTask(id)
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != TaskPending {
		t.Errorf("new task should be pending, got %s", task.Status)
	}

	for _, status := range []string{TaskPlanning, TaskExecuting} {
		if err := s.SetTaskStatus(id, status); err != nil {
			t.Fatalf("transition to %s failed: %v", status, err)
		}
	}
	if err := s.FinishTask(id, TaskCompleted, "moved 12 files"); err != nil {
		t.Fatal(err)
	}

	task, err = s.GetTask(id)
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != TaskCompleted || task.Result != "moved 12 files" {
		t.Errorf("unexpected final state: %s / %q", task.Status, task.Result)
	}
}

func TestTaskNotFound(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.GetTask("nope"); err == nil {
		t.Error("expected an error for a missing task")
	}
	if err := s.SetTaskStatus("nope", TaskFailed); err == nil {
		t.Error("expected an error updating a missing task")
	}
}

func TestEventTrailOrdered(t *testing.T) {
	s := newTestStore(t)

	id, err := s.CreateTask("chat1", "goal")
	if err != nil {
		t.Fatal(err)
	}
	for _, kind := range []string{"iteration", "action", "reflection"} {
		if err := s.AddEvent(id, kind, "detail for "+kind); err != nil {
			t.Fatal(err)
		}
	}

	events, err := s.TaskEvents(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, want := range []string{"iteration", "action", "reflection"} {
		if events[i].Kind != want {
			t.Errorf("event %d: want %s, got %s", i, want, events[i].Kind)
		}
	}
}

func TestScheduledGoals(t *testing.T) {
	s := newTestStore(t)

	if err := s.AddScheduledGoal("chat1", "check disk space", 3600); err != nil {
		t.Fatal(err)
	}

	due, err := s.DueScheduledGoals()
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 {
		t.Fatalf("fresh goal should be due immediately, got %d", len(due))
	}

	if err := s.MarkScheduledGoalRun(due[0].ID); err != nil {
		t.Fatal(err)
	}
	due, err = s.DueScheduledGoals()
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Errorf("goal should not be due right after running, got %d", len(due))
	}

	if err := s.CancelScheduledGoals("chat1"); err != nil {
		t.Fatal(err)
	}
}

func TestHistoryChronological(t *testing.T) {
	s := newTestStore(t)

	s.AddMessage("chat1", "human", "first")
	s.AddMessage("chat1", "ai", "second")
	s.AddMessage("chat2", "human", "other chat")

	history, err := s.GetHistory("chat1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
}
