package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/sahayak/internal/observability"
)

// ThinkInput carries everything a turn's reasoning call can see.
type ThinkInput struct {
	Goal        string
	RecentTurns string
	Observation string
	ContextJSON string
	WorkDir     string
	Platform    string
}

// Reasoner is the external reasoning function behind the agent. Every method
// degrades gracefully: a malformed model response yields a zero-value result,
// not a panic, and the caller treats an error as "no progress this turn".
type Reasoner interface {
	Think(ctx context.Context, in ThinkInput) (Thought, error)
	Reflect(ctx context.Context, goal, stepHistory, contextJSON string) (Reflection, error)
	Decompose(ctx context.Context, goal string) ([]SubTask, error)
	Merge(ctx context.Context, goal string, results string) (string, error)
	FixScript(ctx context.Context, purpose, code, errMsg string) (string, error)
}

// LLMReasoner implements Reasoner on a langchaingo model. When Events is
// set, every model call is mirrored to the llm event log.
type LLMReasoner struct {
	Model   llms.Model
	Prompts *PromptManager
	Events  *observability.Logger
}

func NewLLMReasoner(model llms.Model, prompts *PromptManager) *LLMReasoner {
	return &LLMReasoner{Model: model, Prompts: prompts}
}

func (r *LLMReasoner) generate(ctx context.Context, op, prompt string) (string, error) {
	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(prompt)},
		},
	}
	resp, err := r.Model.GenerateContent(ctx, messages)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}
	out := resp.Choices[0].Content
	if r.Events != nil {
		r.Events.LogLLM("", op, prompt, out)
	}
	return out, nil
}

func (r *LLMReasoner) Think(ctx context.Context, in ThinkInput) (Thought, error) {
	prompt, err := r.Prompts.Render("think.md",
		in.Goal, in.RecentTurns, in.Observation, in.ContextJSON, in.WorkDir, in.Platform)
	if err != nil {
		return Thought{}, err
	}

	raw, err := r.generate(ctx, "think", prompt)
	if err != nil {
		return Thought{}, err
	}

	var thought Thought
	if err := json.Unmarshal([]byte(stripFences(raw)), &thought); err != nil {
		// An unparseable response is not fatal. The agent gets a
		// zero-confidence thought carrying the raw text and no action.
		return Thought{Reasoning: raw, Confidence: 0}, nil
	}
	return thought, nil
}

func (r *LLMReasoner) Reflect(ctx context.Context, goal, stepHistory, contextJSON string) (Reflection, error) {
	prompt, err := r.Prompts.Render("reflect.md", goal, stepHistory, contextJSON)
	if err != nil {
		return Reflection{}, err
	}

	raw, err := r.generate(ctx, "reflect", prompt)
	if err != nil {
		return Reflection{}, err
	}

	var refl Reflection
	if err := json.Unmarshal([]byte(stripFences(raw)), &refl); err != nil {
		return Reflection{Verified: false, Reason: "verification response could not be parsed"}, nil
	}
	return refl, nil
}

func (r *LLMReasoner) Decompose(ctx context.Context, goal string) ([]SubTask, error) {
	prompt, err := r.Prompts.Render("decompose.md", goal)
	if err != nil {
		return nil, err
	}

	raw, err := r.generate(ctx, "decompose", prompt)
	if err != nil {
		return nil, err
	}

	var subtasks []SubTask
	if err := json.Unmarshal([]byte(stripFences(raw)), &subtasks); err != nil {
		return nil, nil
	}
	return subtasks, nil
}

func (r *LLMReasoner) Merge(ctx context.Context, goal string, results string) (string, error) {
	prompt, err := r.Prompts.Render("merge.md", goal, results)
	if err != nil {
		return "", err
	}
	return r.generate(ctx, "merge", prompt)
}

func (r *LLMReasoner) FixScript(ctx context.Context, purpose, code, errMsg string) (string, error) {
	prompt, err := r.Prompts.Render("fix_script.md", purpose, code, errMsg)
	if err != nil {
		return "", err
	}
	fixed, err := r.generate(ctx, "fix_script", prompt)
	if err != nil {
		return "", err
	}
	return stripFences(fixed), nil
}

// stripFences removes a surrounding markdown code fence if the model wrapped
// its answer in one.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:] // drop the language tag line
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
