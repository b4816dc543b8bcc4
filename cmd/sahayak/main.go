package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rahul/sahayak/internal/agent"
	"github.com/rahul/sahayak/internal/executor"
	"github.com/rahul/sahayak/internal/gateway"
	"github.com/rahul/sahayak/internal/observability"
	"github.com/rahul/sahayak/internal/safety"
	"github.com/rahul/sahayak/internal/sandbox"
	"github.com/rahul/sahayak/internal/store"
	"github.com/rahul/sahayak/internal/tools"
	"github.com/rahul/sahayak/pkg/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

func main() {
	observability.PrintBanner()
	observability.InitializeTerminal()

	// Route all log output through the terminal mutex so it never
	// interrupts the dashboard's cursor save/restore sequence.
	log.SetOutput(observability.NewTermWriter())

	cfg := config.LoadConfig("config.yaml")

	// Safety analysis
	analyzer := safety.NewCommandAnalyzer()
	checker := safety.NewPermissionChecker(cfg.Safety.AllowedPaths, cfg.Safety.DeniedPaths, cfg.Safety.RequireConfirmation)

	// Script runner backend
	var runner sandbox.Runner
	switch cfg.Sandbox.Backend {
	case "docker":
		dr := sandbox.NewDockerRunner(cfg.Sandbox.Image, cfg.Sandbox.Timeout())
		if cfg.Sandbox.MemoryLimit != "" {
			dr.MemoryLimit = cfg.Sandbox.MemoryLimit
		}
		if cfg.Sandbox.CPULimit != "" {
			dr.CPULimit = cfg.Sandbox.CPULimit
		}
		if cfg.Sandbox.PidsLimit > 0 {
			dr.PidsLimit = cfg.Sandbox.PidsLimit
		}
		runner = dr
	default:
		runner = sandbox.NewHostRunner(cfg.Sandbox.Timeout())
	}
	log.Printf("Script runner backend: %s", runner.Name())

	// Task store
	st, err := store.New(cfg.Memory.Path)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	// LLM (using default enabled provider)
	pName, pCfg := cfg.GetDefaultProvider()
	if pName == "" {
		log.Fatal("No enabled provider found in config")
	}

	var llm llms.Model
	switch pName {
	case "openai", "openrouter":
		opts := []openai.Option{
			openai.WithToken(pCfg.APIKey),
			openai.WithModel(pCfg.Model),
		}
		if pCfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(pCfg.BaseURL))
		}
		llm, err = openai.New(opts...)
	default:
		log.Fatalf("Provider %s not yet implemented in main", pName)
	}
	if err != nil {
		log.Fatal(err)
	}

	prompts := agent.NewPromptManager(cfg.Agent.PromptsDir)
	reasoner := agent.NewLLMReasoner(llm, prompts)
	logger := observability.NewLogger()
	reasoner.Events = logger

	// Gateways resolve late so the confirmation closures below can
	// capture them before any message arrives.
	var tg *gateway.TelegramGateway
	var dg *gateway.DiscordGateway

	confirmFor := func(chatID string) agent.ConfirmFunc {
		return func(command, reason, message string) bool {
			if tg != nil {
				return tg.RequestConfirmation(chatID, command, reason, message)
			}
			if dg != nil {
				return dg.RequestConfirmation(chatID, command, reason, message)
			}
			return false
		}
	}

	// Tool registry doubles as the plan executor's dispatch table.
	registry := tools.NewRegistry()

	searchTool, err := tools.NewSearchTool(10)
	if err != nil {
		log.Printf("Warning: Failed to initialize search tool: %v", err)
	} else {
		registry.Register(searchTool)
	}

	fileTool := tools.NewFileOpTool(cfg.App.Workspace)
	registry.Register(fileTool)
	registry.Register(tools.NewArchiveTool(cfg.App.Workspace))
	registry.Register(tools.NewJSONTool(fileTool))
	registry.Register(tools.NewWebFetchTool())
	registry.Register(tools.NewBrowserTool(false, "screenshots"))
	// Plan steps have no chat to route a confirmation prompt through, so
	// the shell dispatcher runs without a confirm channel: anything above
	// SAFE is refused outright.
	registry.Register(tools.NewShellTool(analyzer, checker, nil))

	baseAgent := agent.New(reasoner, analyzer, checker, runner)
	baseAgent.Events = logger
	baseAgent.RequireConfirmation = cfg.Safety.RequireConfirmation
	baseAgent.ConfirmTimeout = cfg.Safety.ConfirmTimeout()
	if cfg.Agent.MaxIterations > 0 {
		baseAgent.MaxIterations = cfg.Agent.MaxIterations
	}
	if len(cfg.Agent.ReadOnlyCommands) > 0 {
		baseAgent.ReadOnlyCommands = cfg.Agent.ReadOnlyCommands
	}

	// Plan executor for explicit multi-step plans, with LLM-assisted
	// script repair.
	exec := executor.New(registry.Dispatch, runner)
	exec.Regenerate = func(ctx context.Context, code, errMsg, contextPreview string) (string, error) {
		return reasoner.FixScript(ctx, "plan step with context:\n"+contextPreview, code, errMsg)
	}
	exec.Progress = func(stepID string, status executor.StepStatus, completed, total int) {
		observability.SetProgress(completed, total)
		logger.LogStep("", stepID, string(status), completed, total)
	}
	baseAgent.Progress = func(iteration int, status agent.Status, thoughtPreview, actionName string) {
		observability.SetProgress(iteration, baseAgent.MaxIterations)
	}

	handle := func(ctx context.Context, chatID, text string) string {
		observability.SetStatus(observability.RoleAgent, text)
		defer observability.SetStatus(observability.RoleIdle, "")

		st.AddMessage(chatID, "human", text)

		var response string
		if plan, ok := parsePlanMessage(text); ok {
			response = runPlan(ctx, exec, plan)
		} else if reply, ok := runCommand(st, chatID, text); ok {
			response = reply
		} else {
			response = runGoal(ctx, st, baseAgent, confirmFor, chatID, text)
		}

		st.AddMessage(chatID, "ai", response)
		return response
	}

	if gwCfg, ok := cfg.GetGateway("telegram"); ok {
		tg, err = gateway.NewTelegramGateway(gwCfg.Token, handle, cfg.Safety.ConfirmTimeout())
		if err != nil {
			log.Fatal(err)
		}
	}
	if gwCfg, ok := cfg.GetGateway("discord"); ok {
		dg, err = gateway.NewDiscordGateway(gwCfg.Token, handle, cfg.Safety.ConfirmTimeout())
		if err != nil {
			log.Fatal(err)
		}
	}
	if tg == nil && dg == nil {
		log.Fatal("No gateway is enabled in config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Background scheduler for recurring goals
	var notify agent.Messenger
	if tg != nil {
		notify = tg
	} else {
		notify = dg
	}
	scheduler := agent.NewScheduler(baseAgent, st, notify)
	go scheduler.Start(ctx)

	// Live resource dashboard (1-second updates)
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				observability.PrintLiveStatus()
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				observability.Heartbeat()
				logger.LogHeartbeat()
			}
		}
	}()

	if tg != nil {
		go func() {
			if err := tg.Start(); err != nil {
				log.Printf("\033[91m[ FAIL ] TELEGRAM GATEWAY ERROR: %v\033[0m", err)
				stop()
			}
		}()
	}
	if dg != nil {
		go func() {
			if err := dg.Start(); err != nil {
				log.Printf("\033[91m[ FAIL ] DISCORD GATEWAY ERROR: %v\033[0m", err)
				stop()
			}
		}()
		defer dg.Stop()
	}

	// Wait for shutdown signal
	<-ctx.Done()

	observability.CleanupTerminal()

	// Give a short time for final logs/syncs
	time.Sleep(500 * time.Millisecond)
	log.Println("\033[95m[ EXIT ] SAHAYAK DE-INITIALIZED. GOODBYE.\033[0m")
}

// runCommand handles the task and scheduling chat commands. It reports false
// for anything that should be treated as a goal for the agent.
func runCommand(st *store.Store, chatID, text string) (string, bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", false
	}

	switch fields[0] {
	case "/schedule":
		if len(fields) < 3 {
			return "Usage: /schedule <interval> <goal>, e.g. /schedule 30m check disk space", true
		}
		interval, err := time.ParseDuration(fields[1])
		if err != nil || interval < time.Minute {
			return "The interval must be a duration of at least 1m, e.g. 30m or 2h.", true
		}
		goal := strings.Join(fields[2:], " ")
		if err := st.AddScheduledGoal(chatID, goal, int(interval.Seconds())); err != nil {
			return "I couldn't save that schedule: " + err.Error(), true
		}
		return fmt.Sprintf("Scheduled every %s: %s", interval, goal), true

	case "/unschedule":
		if err := st.CancelScheduledGoals(chatID); err != nil {
			return "I couldn't cancel the schedules: " + err.Error(), true
		}
		return "All scheduled goals for this chat are cancelled.", true

	case "/tasks":
		tasks, err := st.RecentTasks(chatID, 5)
		if err != nil {
			return "I couldn't read the task list: " + err.Error(), true
		}
		if len(tasks) == 0 {
			return "No tasks recorded for this chat yet.", true
		}
		var b strings.Builder
		for _, tk := range tasks {
			fmt.Fprintf(&b, "[%s] %s: %s\n", tk.Status, tk.ID, clip(tk.Goal, 80))
		}
		return strings.TrimRight(b.String(), "\n"), true

	case "/task":
		if len(fields) != 2 {
			return "Usage: /task <id>", true
		}
		task, err := st.GetTask(fields[1])
		if err != nil {
			return "I couldn't find that task: " + err.Error(), true
		}
		events, err := st.TaskEvents(task.ID)
		if err != nil {
			return "I couldn't read the event trail: " + err.Error(), true
		}
		var b strings.Builder
		fmt.Fprintf(&b, "[%s] %s\n", task.Status, clip(task.Goal, 120))
		for _, e := range events {
			fmt.Fprintf(&b, "%s %s: %s\n", e.CreatedAt.Format("15:04:05"), e.Kind, clip(e.Detail, 120))
		}
		if task.Result != "" {
			b.WriteString("Result: " + clip(task.Result, 400))
		}
		return strings.TrimRight(b.String(), "\n"), true
	}

	return "", false
}

// runGoal routes one inbound message through a private agent instance and
// records the task lifecycle in the store.
func runGoal(ctx context.Context, st *store.Store, base *agent.Agent, confirmFor func(string) agent.ConfirmFunc, chatID, goal string) string {
	taskID, err := st.CreateTask(chatID, goal)
	if err != nil {
		log.Printf("Error creating task: %v", err)
		return "I couldn't record that task, please try again."
	}
	st.SetTaskStatus(taskID, store.TaskExecuting)
	st.AddEvent(taskID, "status", store.TaskExecuting)

	runner := *base
	runner.ChatID = chatID
	runner.TaskID = taskID
	runner.Confirm = confirmFor(chatID)

	// The message that created this task is already stored, so it is
	// dropped from the history fed back to the agent.
	if history, err := st.GetHistory(chatID, 10); err == nil && len(history) > 1 {
		runner.History = renderHistory(history[:len(history)-1])
	}

	state := runner.Run(ctx, goal)

	for _, turn := range state.Turns {
		switch {
		case turn.Err != "":
			st.AddEvent(taskID, "error", clip(turn.Err, 300))
		case turn.ActionName != "":
			st.AddEvent(taskID, "action", clip(turn.ActionName+": "+turn.ActionInput, 300))
		}
	}
	for _, sub := range state.SubAgentResults {
		st.AddEvent(taskID, "subtask", clip(sub.ID+" "+sub.Status+": "+sub.Result, 300))
	}
	st.AddEvent(taskID, "status", string(state.Status))

	if err := st.FinishTask(taskID, string(state.Status), state.FinalAnswer); err != nil {
		log.Printf("Error finishing task %s: %v", taskID, err)
	}

	switch state.Status {
	case agent.StatusCompleted:
		return state.FinalAnswer
	case agent.StatusFailed:
		return "I couldn't finish that: " + state.LastError
	default:
		return "I ran out of reasoning budget before finishing. Partial progress was logged."
	}
}

// renderHistory flattens stored chat messages into prompt text.
func renderHistory(history []llms.MessageContent) string {
	var b strings.Builder
	for _, msg := range history {
		for _, part := range msg.Parts {
			if txt, ok := part.(llms.TextContent); ok {
				fmt.Fprintf(&b, "[%s] %s\n", msg.Role, txt.Text)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// parsePlanMessage recognizes an explicit step plan: a message starting
// with /plan followed by the plan JSON.
func parsePlanMessage(text string) (*executor.Plan, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(text), "/plan")
	if !ok {
		return nil, false
	}
	var plan executor.Plan
	if err := json.Unmarshal([]byte(strings.TrimSpace(rest)), &plan); err != nil {
		return nil, false
	}
	return &plan, true
}

func runPlan(ctx context.Context, exec *executor.Executor, plan *executor.Plan) string {
	observability.SetStatus(observability.RoleExecutor, "running plan")

	results, err := exec.Run(ctx, plan)
	if err != nil {
		return "Plan rejected: " + err.Error()
	}

	var b strings.Builder
	for _, step := range plan.Steps {
		res := results[step.ID]
		if res == nil {
			continue
		}
		switch res.Status {
		case executor.StatusSuccess:
			b.WriteString("✅ " + step.ID + "\n")
		case executor.StatusSkipped:
			b.WriteString("⏭ " + step.ID + ": " + res.Error + "\n")
		default:
			b.WriteString("❌ " + step.ID + ": " + res.Error + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
