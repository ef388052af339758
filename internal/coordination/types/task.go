package types

import "time"

// TaskStatus is the lifecycle state of a Task. completed/failed/cancelled/
// timeout are terminal (spec §3 invariants).
type TaskStatus string

const (
	TaskCreated   TaskStatus = "created"
	TaskQueued    TaskStatus = "queued"
	TaskAssigned  TaskStatus = "assigned"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
	TaskTimeout   TaskStatus = "timeout"
)

// IsTerminal reports whether the status is one a Task cannot leave.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled, TaskTimeout:
		return true
	default:
		return false
	}
}

// Requirements declares what a Task needs from the agent that runs it.
type Requirements struct {
	Capabilities CapabilitySet `json:"capabilities"`
	Tools        []string      `json:"tools,omitempty"`
	Permissions  []string      `json:"permissions,omitempty"`
}

// Constraints declares the Task's place in the dependency graph and its
// execution envelope.
type Constraints struct {
	Dependencies []string      `json:"dependencies,omitempty"`
	Dependents   []string      `json:"dependents,omitempty"`
	Conflicts    []string      `json:"conflicts,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty"`
}

// Attempt records one execution attempt of a Task.
type Attempt struct {
	Number    int        `json:"number"`
	AgentID   string      `json:"agentId,omitempty"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   time.Time  `json:"endedAt,omitempty"`
	Status    TaskStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
}

// StatusChange is one append-only entry in a Task's status history.
type StatusChange struct {
	From      TaskStatus `json:"from"`
	To        TaskStatus `json:"to"`
	At        time.Time  `json:"at"`
	Reason    string     `json:"reason,omitempty"`
}

// TaskError is the user-visible shape of a terminal failure (spec §7).
type TaskError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func (e *TaskError) Error() string {
	if e == nil {
		return ""
	}
	return e.Type + ": " + e.Message
}

// Task is the coordination substrate's work unit (spec §3).
type Task struct {
	ID       string   `json:"id"`
	SwarmID  string   `json:"swarmId,omitempty"`
	Sequence uint64   `json:"sequence"`
	Type     string   `json:"type"`
	Priority Priority `json:"priority"`

	Requirements Requirements `json:"requirements"`
	Constraints  Constraints  `json:"constraints"`

	Status TaskStatus `json:"status"`

	Input        map[string]interface{} `json:"input,omitempty"`
	Instructions string                  `json:"instructions,omitempty"`
	Context      map[string]interface{} `json:"context,omitempty"`

	Attempts      []Attempt      `json:"attempts,omitempty"`
	StatusHistory []StatusChange `json:"statusHistory,omitempty"`

	Result interface{} `json:"result,omitempty"`
	Error  *TaskError  `json:"error,omitempty"`

	AssignedAgent string `json:"assignedAgent,omitempty"`
	RetryCount    int    `json:"retryCount"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	StartTime *time.Time `json:"startTime,omitempty"`
	EndTime   *time.Time `json:"endTime,omitempty"`
}

// Transition appends a status-history entry and updates Status/UpdatedAt.
// statusHistory is append-only per spec §3 invariants.
func (t *Task) Transition(to TaskStatus, reason string, now time.Time) {
	t.StatusHistory = append(t.StatusHistory, StatusChange{
		From:   t.Status,
		To:     to,
		At:     now,
		Reason: reason,
	})
	t.Status = to
	t.UpdatedAt = now
}

// OrderKey is the stable ordering key for tasks: {priority, createdAt,
// sequence}. Higher priority sorts first; ties break by CreatedAt, then by
// Sequence (insertion order). No swarm id is part of the key.
type OrderKey struct {
	Priority  Priority
	CreatedAt time.Time
	Sequence  uint64
}

func (t *Task) OrderKey() OrderKey {
	return OrderKey{Priority: t.Priority, CreatedAt: t.CreatedAt, Sequence: t.Sequence}
}

// Less implements the priority-then-FIFO ordering from spec §4.3/§8
// (property 11): higher priority first, ties broken by creation order.
func (k OrderKey) Less(other OrderKey) bool {
	if k.Priority != other.Priority {
		return k.Priority > other.Priority
	}
	if !k.CreatedAt.Equal(other.CreatedAt) {
		return k.CreatedAt.Before(other.CreatedAt)
	}
	return k.Sequence < other.Sequence
}
