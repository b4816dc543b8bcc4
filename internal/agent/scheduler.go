package agent

import (
	"context"
	"log"
	"time"

	"github.com/rahul/sahayak/internal/store"
)

// Messenger delivers agent output back to the user.
type Messenger interface {
	Send(chatID string, text string) error
}

// GoalStore is the slice of the task store the scheduler needs.
type GoalStore interface {
	DueScheduledGoals() ([]store.ScheduledGoal, error)
	MarkScheduledGoalRun(id int) error
	CreateTask(chatID, goal string) (string, error)
	FinishTask(id, status, result string) error
}

// Scheduler polls for due scheduled goals and runs each through the agent.
type Scheduler struct {
	Agent    *Agent
	Store    GoalStore
	Gateway  Messenger
	Interval time.Duration
}

func NewScheduler(agent *Agent, goalStore GoalStore, gateway Messenger) *Scheduler {
	return &Scheduler{
		Agent:    agent,
		Store:    goalStore,
		Gateway:  gateway,
		Interval: 30 * time.Second,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	log.Println("Goal scheduler started...")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollAndExecute(ctx)
		}
	}
}

func (s *Scheduler) pollAndExecute(ctx context.Context) {
	goals, err := s.Store.DueScheduledGoals()
	if err != nil {
		log.Printf("Error polling scheduled goals: %v", err)
		return
	}

	for _, g := range goals {
		log.Printf("Executing scheduled goal %d for chat %s: %s", g.ID, g.ChatID, g.Goal)

		taskID, err := s.Store.CreateTask(g.ChatID, g.Goal)
		if err != nil {
			log.Printf("Error recording scheduled goal %d: %v", g.ID, err)
			continue
		}

		runner := *s.Agent
		runner.ChatID = g.ChatID
		runner.TaskID = taskID

		state := runner.Run(ctx, g.Goal)

		if err := s.Store.FinishTask(taskID, string(state.Status), state.FinalAnswer); err != nil {
			log.Printf("Error finishing task %s: %v", taskID, err)
		}
		if err := s.Store.MarkScheduledGoalRun(g.ID); err != nil {
			log.Printf("Error updating last run for goal %d: %v", g.ID, err)
		}

		if s.Gateway != nil {
			answer := state.FinalAnswer
			if answer == "" {
				answer = "(no output)"
			}
			s.Gateway.Send(g.ChatID, "⏰ *Scheduled Goal*\n\n"+answer)
		}
	}
}
