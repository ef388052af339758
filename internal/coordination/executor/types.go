package executor

import (
	"time"

	"github.com/swarmguard/coordination/internal/coordination/types"
)

// Status is the lifecycle state of a submitted unit of work (spec §4.3).
type Status string

const (
	Pending   Status = "pending"
	Running   Status = "running"
	Completed Status = "completed"
	Failed    Status = "failed"
	Cancelled Status = "cancelled"
	Timeout   Status = "timeout"
)

func (s Status) IsTerminal() bool {
	switch s {
	case Completed, Failed, Cancelled, Timeout:
		return true
	default:
		return false
	}
}

// Options tunes one submission's execution envelope.
type Options struct {
	Cwd       string
	Env       map[string]string
	Timeout   time.Duration
	Detached  bool
	Retries   int
	ModelName string
	MaxTokens int
}

// Request is the submit({type, command, args, options}) payload from spec
// §4.3.
type Request struct {
	Type     string
	Command  string
	Args     []string
	Priority types.Priority
	Options  Options
}

// Record is the full persisted state of one submitted unit of work.
type Record struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Command    string         `json:"command"`
	Args       []string       `json:"args"`
	Priority   types.Priority `json:"priority"`
	Options    Options        `json:"options"`
	Status     Status         `json:"status"`
	PID        int            `json:"pid,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	StartTime  *time.Time     `json:"startTime,omitempty"`
	EndTime    *time.Time     `json:"endTime,omitempty"`
	QueueTime  time.Duration  `json:"queueTime,omitempty"`
	ExecutionTime time.Duration `json:"executionTime,omitempty"`
	Stdout     string         `json:"stdout,omitempty"`
	Stderr     string         `json:"stderr,omitempty"`
	ExitCode   int            `json:"exitCode,omitempty"`
	Error      string         `json:"error,omitempty"`
	RetryCount int            `json:"retryCount"`
	sequence   uint64
}

func (r *Record) orderKey() types.OrderKey {
	return types.OrderKey{Priority: r.Priority, CreatedAt: r.CreatedAt, Sequence: r.sequence}
}

// Metrics mirrors the spec §4.3 metrics surface.
type Metrics struct {
	TotalTasks           int64         `json:"totalTasks"`
	CompletedTasks       int64         `json:"completedTasks"`
	FailedTasks          int64         `json:"failedTasks"`
	RunningTasks         int64         `json:"runningTasks"`
	QueuedTasks          int64         `json:"queuedTasks"`
	AverageExecutionTime time.Duration `json:"averageExecutionTime"`
	SuccessRate          float64       `json:"successRate"`
	Throughput           float64       `json:"throughput"`
}

// aggregateSnapshot is the {tasks, queue, metrics, timestamp} shutdown file
// from spec §4.3.
type aggregateSnapshot struct {
	Tasks     map[string]*Record `json:"tasks"`
	Queue     []string           `json:"queue"`
	Metrics   Metrics            `json:"metrics"`
	Timestamp time.Time          `json:"timestamp"`
}
