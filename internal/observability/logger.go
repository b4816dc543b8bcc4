package observability

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypeReasoning  EventType = "reasoning"
	EventTypeAction     EventType = "action"
	EventTypeStep       EventType = "step"
	EventTypeIteration  EventType = "iteration"
	EventTypeSafety     EventType = "safety"
	EventTypeSandbox    EventType = "sandbox"
	EventTypeReflection EventType = "reflection"
	EventTypeSubtask    EventType = "subtask"
	EventTypeHeartbeat  EventType = "heartbeat"
	EventTypeLLM        EventType = "llm"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	ChatID    string    `json:"chat_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Logger handles structured logging.
type Logger struct {
	llmLogPath string
	maxSize    int64
}

func NewLogger() *Logger {
	return &Logger{
		llmLogPath: filepath.Join("logs", "llm.jsonl"),
		maxSize:    10 * 1024 * 1024, // 10MB
	}
}

// Log emits a structured JSON event to stdout.
func (l *Logger) Log(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		fmt.Printf("{\"error\": \"failed to marshal event: %v\"}\n", err)
		return
	}
	fmt.Println(string(data))

	if evt.Type == EventTypeLLM {
		l.writeToFile(data)
	}
}

func (l *Logger) writeToFile(data []byte) {
	if err := os.MkdirAll(filepath.Dir(l.llmLogPath), 0755); err != nil {
		log.Printf("failed to create log directory: %v", err)
		return
	}

	// Check size before writing
	info, err := os.Stat(l.llmLogPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.llmLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("failed to open log file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("failed to write to log file: %v", err)
	}
}

func (l *Logger) rotateLogs() {
	// Simple rotation: keep one .old file
	oldPath := l.llmLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.llmLogPath, oldPath)
}

// Helper methods for common events

func (l *Logger) LogIteration(chatID, taskID string, iteration int, status, thought, action string) {
	l.Log(Event{
		Type:   EventTypeIteration,
		ChatID: chatID,
		TaskID: taskID,
		Data: map[string]any{
			"iteration": iteration,
			"status":    status,
			"thought":   thought,
			"action":    action,
		},
	})
}

func (l *Logger) LogAction(chatID, taskID, action, input string) {
	l.Log(Event{
		Type:   EventTypeAction,
		ChatID: chatID,
		TaskID: taskID,
		Data: map[string]string{
			"action": action,
			"input":  input,
		},
	})
}

func (l *Logger) LogStep(taskID, stepID, status string, current, total int) {
	l.Log(Event{
		Type:   EventTypeStep,
		TaskID: taskID,
		Data: map[string]any{
			"step_id": stepID,
			"status":  status,
			"current": current,
			"total":   total,
		},
	})
}

func (l *Logger) LogSafety(chatID, taskID, subject, level, verdict string) {
	l.Log(Event{
		Type:   EventTypeSafety,
		ChatID: chatID,
		TaskID: taskID,
		Data: map[string]string{
			"subject": subject,
			"level":   level,
			"verdict": verdict,
		},
	})
}

func (l *Logger) LogReflection(chatID, taskID string, verified bool, reason string) {
	l.Log(Event{
		Type:   EventTypeReflection,
		ChatID: chatID,
		TaskID: taskID,
		Data: map[string]any{
			"verified": verified,
			"reason":   reason,
		},
	})
}

func (l *Logger) LogSubtask(chatID, taskID, subtaskID, status, detail string) {
	l.Log(Event{
		Type:   EventTypeSubtask,
		ChatID: chatID,
		TaskID: taskID,
		Data: map[string]string{
			"subtask_id": subtaskID,
			"status":     status,
			"detail":     detail,
		},
	})
}

func (l *Logger) LogSandbox(taskID, backend string, exitCode int) {
	l.Log(Event{
		Type:   EventTypeSandbox,
		TaskID: taskID,
		Data: map[string]any{
			"backend":   backend,
			"exit_code": exitCode,
		},
	})
}

func (l *Logger) LogHeartbeat() {
	l.Log(Event{
		Type: EventTypeHeartbeat,
		Data: map[string]string{"status": "alive"},
	})
}

// LogLLM mirrors one model call to the event stream; llm events are also
// appended to logs/llm.jsonl with size rotation.
func (l *Logger) LogLLM(taskID, op string, prompt any, response string) {
	l.Log(Event{
		Type:   EventTypeLLM,
		TaskID: taskID,
		Data: map[string]any{
			"op":       op,
			"prompt":   prompt,
			"response": response,
		},
	})
}
