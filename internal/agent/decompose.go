package agent

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
)

// runDecomposed asks the reasoner whether the goal splits into independent
// subtasks and, if so, fans them out to private child agents. It returns
// true when it handled the run and state holds the merged result. Only
// top-level agents decompose; children run the plain loop.
func (a *Agent) runDecomposed(ctx context.Context, goal string, state *State) bool {
	subtasks, err := a.Reasoner.Decompose(ctx, goal)
	if err != nil {
		log.Printf("[agent] decomposition failed, running goal directly: %v", err)
		return false
	}

	// Dependent subtasks are not sequenced; they are dropped from the
	// batch and the drop is logged so the simplification stays visible.
	var batch []*SubTask
	for i := range subtasks {
		st := &subtasks[i]
		if len(st.Dependencies) > 0 {
			log.Printf("[agent] dropping dependent subtask %s (%s): depends on %s",
				st.ID, preview(st.Description), strings.Join(st.Dependencies, ", "))
			if a.Events != nil {
				a.Events.LogSubtask(a.ChatID, a.TaskID, st.ID, "dropped", "has dependencies")
			}
			continue
		}
		batch = append(batch, st)
	}

	if len(batch) < 2 {
		return false
	}

	log.Printf("[agent] decomposed goal into %d parallel subtasks", len(batch))

	var wg sync.WaitGroup
	for _, st := range batch {
		wg.Add(1)
		go func(st *SubTask) {
			defer wg.Done()

			child := a.subAgent()
			childState := child.Run(ctx, st.Description)

			// For merge purposes a child either completed or ran out
			// of budget; failures are reported as the latter.
			if childState.Status == StatusCompleted {
				st.Status = string(StatusCompleted)
				st.Result = childState.FinalAnswer
			} else {
				st.Status = string(StatusMaxIterations)
				st.Result = childState.FinalAnswer
				st.Err = childState.LastError
			}
			if a.Events != nil {
				a.Events.LogSubtask(a.ChatID, a.TaskID, st.ID, st.Status, preview(st.Result))
			}
		}(st)
	}
	wg.Wait()

	state.SubAgentResults = make([]SubTask, len(batch))
	for i, st := range batch {
		state.SubAgentResults[i] = *st
	}

	state.Status = StatusCompleted
	state.FinalAnswer = a.merge(ctx, goal, batch)
	return true
}

// subAgent clones the agent for one subtask. Children share no mutable
// state with the parent or with each other.
func (a *Agent) subAgent() *Agent {
	child := *a
	child.isSubAgent = true
	child.Progress = nil
	return &child
}

// merge combines subtask results into one answer. It never fails: when the
// merge reasoning call errors out it degrades to plain concatenation.
func (a *Agent) merge(ctx context.Context, goal string, batch []*SubTask) string {
	var b strings.Builder
	for _, st := range batch {
		fmt.Fprintf(&b, "### %s\n%s\n\n", st.Description, st.Result)
	}
	concatenated := strings.TrimSpace(b.String())

	merged, err := a.Reasoner.Merge(ctx, goal, concatenated)
	if err != nil || strings.TrimSpace(merged) == "" {
		if err != nil {
			log.Printf("[agent] merge call failed, concatenating results: %v", err)
		}
		return concatenated
	}
	return merged
}
