package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
)

// Task lifecycle states. A task moves forward only; terminal states are
// completed, failed, and max_iterations.
const (
	TaskPending       = "pending"
	TaskPlanning      = "planning"
	TaskExecuting     = "executing"
	TaskCompleted     = "completed"
	TaskFailed        = "failed"
	TaskMaxIterations = "max_iterations"
)

type Task struct {
	ID        string
	ChatID    string
	Goal      string
	Status    string
	Result    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Event struct {
	ID        int64
	TaskID    string
	Kind      string
	Detail    string
	CreatedAt time.Time
}

type ScheduledGoal struct {
	ID              int
	ChatID          string
	Goal            string
	IntervalSeconds int
}

// Store persists tasks, their event trail, scheduled goals, and the chat
// history in a single sqlite database.
type Store struct {
	DB *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			chat_id TEXT,
			goal TEXT,
			status TEXT DEFAULT 'pending',
			result TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT,
			kind TEXT,
			detail TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS scheduled_goals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT,
			goal TEXT,
			interval_seconds INTEGER,
			last_run DATETIME,
			status TEXT DEFAULT 'active'
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT,
			role TEXT,
			content TEXT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return nil, err
		}
	}

	return &Store{DB: db}, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

// CreateTask registers a new goal in the pending state and returns its id.
func (s *Store) CreateTask(chatID, goal string) (string, error) {
	id := uuid.NewString()
	query := `INSERT INTO tasks (id, chat_id, goal) VALUES (?, ?, ?)`
	if _, err := s.DB.Exec(query, id, chatID, goal); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) SetTaskStatus(id, status string) error {
	query := `UPDATE tasks SET status = ?, updated_at = datetime('now') WHERE id = ?`
	res, err := s.DB.Exec(query, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s not found", id)
	}
	return nil
}

// FinishTask records a terminal status together with the final answer.
func (s *Store) FinishTask(id, status, result string) error {
	query := `UPDATE tasks SET status = ?, result = ?, updated_at = datetime('now') WHERE id = ?`
	res, err := s.DB.Exec(query, status, result, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s not found", id)
	}
	return nil
}

func (s *Store) GetTask(id string) (*Task, error) {
	query := `SELECT id, chat_id, goal, status, result, created_at, updated_at FROM tasks WHERE id = ?`
	row := s.DB.QueryRow(query, id)

	var t Task
	if err := row.Scan(&t.ID, &t.ChatID, &t.Goal, &t.Status, &t.Result, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("task %s not found", id)
		}
		return nil, err
	}
	return &t, nil
}

func (s *Store) RecentTasks(chatID string, limit int) ([]Task, error) {
	query := `SELECT id, chat_id, goal, status, result, created_at, updated_at
		FROM tasks WHERE chat_id = ? ORDER BY created_at DESC LIMIT ?`
	rows, err := s.DB.Query(query, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.ChatID, &t.Goal, &t.Status, &t.Result, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// AddEvent appends to a task's event trail. Events are never updated or
// deleted.
func (s *Store) AddEvent(taskID, kind, detail string) error {
	query := `INSERT INTO events (task_id, kind, detail) VALUES (?, ?, ?)`
	_, err := s.DB.Exec(query, taskID, kind, detail)
	return err
}

func (s *Store) TaskEvents(taskID string) ([]Event, error) {
	query := `SELECT id, task_id, kind, detail, created_at FROM events WHERE task_id = ? ORDER BY id`
	rows, err := s.DB.Query(query, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Kind, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *Store) AddScheduledGoal(chatID, goal string, intervalSeconds int) error {
	query := `INSERT INTO scheduled_goals (chat_id, goal, interval_seconds, last_run) VALUES (?, ?, ?, datetime('now', '-365 days'))`
	_, err := s.DB.Exec(query, chatID, goal, intervalSeconds)
	return err
}

// DueScheduledGoals returns active goals whose interval has elapsed since
// their last run.
func (s *Store) DueScheduledGoals() ([]ScheduledGoal, error) {
	query := `
		SELECT id, chat_id, goal, interval_seconds
		FROM scheduled_goals
		WHERE status = 'active'
		AND (last_run IS NULL OR (julianday('now') - julianday(last_run)) * 86400 >= interval_seconds)`
	rows, err := s.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var goals []ScheduledGoal
	for rows.Next() {
		var g ScheduledGoal
		if err := rows.Scan(&g.ID, &g.ChatID, &g.Goal, &g.IntervalSeconds); err != nil {
			return nil, err
		}
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

func (s *Store) MarkScheduledGoalRun(id int) error {
	query := `UPDATE scheduled_goals SET last_run = datetime('now') WHERE id = ?`
	_, err := s.DB.Exec(query, id)
	return err
}

func (s *Store) CancelScheduledGoals(chatID string) error {
	query := `UPDATE scheduled_goals SET status = 'cancelled' WHERE chat_id = ?`
	_, err := s.DB.Exec(query, chatID)
	return err
}

func (s *Store) AddMessage(chatID, role, content string) error {
	query := `INSERT INTO messages (chat_id, role, content) VALUES (?, ?, ?)`
	_, err := s.DB.Exec(query, chatID, role, content)
	return err
}

// GetHistory returns the chat's recent messages in chronological order,
// shaped for the LLM client.
func (s *Store) GetHistory(chatID string, limit int) ([]llms.MessageContent, error) {
	query := `SELECT role, content FROM messages WHERE chat_id = ? ORDER BY timestamp DESC LIMIT ?`
	rows, err := s.DB.Query(query, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []llms.MessageContent
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, err
		}

		var msgRole llms.ChatMessageType
		switch role {
		case "human":
			msgRole = llms.ChatMessageTypeHuman
		case "ai":
			msgRole = llms.ChatMessageTypeAI
		case "system":
			msgRole = llms.ChatMessageTypeSystem
		default:
			msgRole = llms.ChatMessageTypeHuman
		}

		history = append(history, llms.MessageContent{
			Role: msgRole,
			Parts: []llms.ContentPart{
				llms.TextPart(content),
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}

	return history, nil
}
