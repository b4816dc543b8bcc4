package agent

// Status is the lifecycle state of one agent run. A run starts in running
// and ends in exactly one terminal state.
type Status string

const (
	StatusRunning       Status = "running"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusMaxIterations Status = "max_iterations"
)

// Observation wraps what the agent saw going into a turn: the initial
// placeholder, a previous action's result, a safety refusal, or a failed
// reflection's verdict.
type Observation struct {
	Content string
	Source  string // "initial", "action", "safety", "reflection"
}

// Thought is the structured decision returned by the reasoning function for
// one turn. An empty Action with a Response is a direct conversational
// answer. The sentinel action "done" also signals completion.
type Thought struct {
	Reasoning   string  `json:"reasoning"`
	Action      string  `json:"action"`
	ActionInput string  `json:"action_input"`
	Description string  `json:"description"`
	Response    string  `json:"response"`
	Complete    bool    `json:"complete"`
	Confidence  float64 `json:"confidence"`
}

// Reflection is the verification verdict for a claimed completion.
type Reflection struct {
	Verified bool   `json:"verified"`
	Reason   string `json:"reason"`
	Summary  string `json:"summary"`
}

// SubTask is one piece of a decomposed goal. Only subtasks with no
// dependencies are eligible for the parallel batch.
type SubTask struct {
	ID           string   `json:"id"`
	Description  string   `json:"description"`
	Dependencies []string `json:"dependencies"`

	Status string `json:"-"`
	Result string `json:"-"`
	Err    string `json:"-"`
}

// Turn records one full observe/think/act cycle.
type Turn struct {
	Iteration   int
	Observation Observation
	Thought     Thought
	ActionName  string
	ActionInput string
	Result      string
	Err         string
}

// State is the complete record of one agent run. SubAgentResults holds the
// per-subtask outcomes of a decomposed run, one entry per child agent.
type State struct {
	Goal            string
	Status          Status
	Turns           []Turn
	Context         map[string]any
	SubAgentResults []SubTask
	FinalAnswer     string
	LastError       string
}

// UsedTools reports whether any turn in the run executed an action. A run
// that never touched a tool is treated as pure conversation.
func (s *State) UsedTools() bool {
	for _, t := range s.Turns {
		if t.ActionName != "" && t.ActionName != "done" {
			return true
		}
	}
	return false
}

// ProgressFunc receives iteration-level updates during a run.
type ProgressFunc func(iteration int, status Status, thoughtPreview, actionName string)
