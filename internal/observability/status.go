package observability

import (
	"sync"
	"time"
)

type Role string

const (
	RoleIdle      Role = "IDLE"
	RoleAgent     Role = "AGENT"
	RoleExecutor  Role = "EXECUTOR"
	RoleScheduler Role = "SCHEDULER"
)

// Snapshot is a point-in-time copy of the global system status.
type Snapshot struct {
	Role          Role
	ActiveTask    string
	TaskStarted   time.Time
	StepsDone     int
	StepsTotal    int
	LastHeartbeat time.Time
}

type systemStatus struct {
	mu sync.RWMutex
	Snapshot
}

var globalStatus = &systemStatus{
	Snapshot: Snapshot{
		Role:          RoleIdle,
		LastHeartbeat: time.Now(),
	},
}

// SetStatus updates the global role and active task. Entering a non-idle
// role stamps the task start time and clears any stale progress.
func SetStatus(role Role, task string) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.Role = role
	globalStatus.ActiveTask = task
	globalStatus.StepsDone = 0
	globalStatus.StepsTotal = 0
	if role == RoleIdle {
		globalStatus.TaskStarted = time.Time{}
	} else {
		globalStatus.TaskStarted = time.Now()
	}
}

// SetProgress records how far the current task has advanced. A zero
// total hides the progress readout on the dashboard.
func SetProgress(done, total int) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.StepsDone = done
	globalStatus.StepsTotal = total
}

// GetStatus retrieves a copy of the global system status.
func GetStatus() Snapshot {
	globalStatus.mu.RLock()
	defer globalStatus.mu.RUnlock()
	return globalStatus.Snapshot
}

// Heartbeat updates the last heartbeat time.
func Heartbeat() {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.LastHeartbeat = time.Now()
}
