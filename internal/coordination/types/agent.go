package types

import "time"

// AgentStatus is the lifecycle state of a worker.
type AgentStatus string

const (
	AgentIdle         AgentStatus = "idle"
	AgentAvailable    AgentStatus = "available"
	AgentBusy         AgentStatus = "busy"
	AgentOffline      AgentStatus = "offline"
	AgentUnresponsive AgentStatus = "unresponsive"
)

// AgentMetrics tracks a worker's observed performance (spec §3).
type AgentMetrics struct {
	TasksCompleted      int64         `json:"tasksCompleted"`
	TasksFailed         int64         `json:"tasksFailed"`
	AverageExecutionTime time.Duration `json:"averageExecutionTime"`
	SuccessRate         float64       `json:"successRate"`
	Reliability         float64       `json:"reliability"`
	Speed               float64       `json:"speed"`
	Quality             float64       `json:"quality"`
	CPUUsage            float64       `json:"cpuUsage"`
	MemoryUsage         float64       `json:"memoryUsage"`
	LastActivity        time.Time     `json:"lastActivity"`
	ResponseTime        time.Duration `json:"responseTime"`

	// ErrorRate is the rolling fraction of recent calls that failed; the
	// Load Balancer filters agents whose ErrorRate exceeds its threshold.
	ErrorRate float64 `json:"errorRate"`
}

// Agent is a worker with finite capacity (spec §3).
type Agent struct {
	ID                  string        `json:"id"`
	Type                string        `json:"type"`
	Capabilities        CapabilitySet `json:"capabilities"`
	MaxConcurrentTasks  int           `json:"maxConcurrentTasks"`
	CurrentLoad         int           `json:"currentLoad"`
	Status              AgentStatus   `json:"status"`
	Metrics             AgentMetrics  `json:"metrics"`
	Priority            Priority      `json:"priority"`
	Specialization      []string      `json:"specialization,omitempty"`
	Location            string        `json:"location,omitempty"`

	// ActiveConnections supports the least-connections balancer strategy;
	// it is not necessarily equal to CurrentLoad (a connection may be open
	// without an assigned task, e.g. a long poll).
	ActiveConnections int `json:"activeConnections"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// Workload is currentLoad / maxCapacity, clamped to [0,1] (spec invariant).
func (a *Agent) Workload() float64 {
	if a.MaxConcurrentTasks <= 0 {
		return 1
	}
	w := float64(a.CurrentLoad) / float64(a.MaxConcurrentTasks)
	if w < 0 {
		return 0
	}
	if w > 1 {
		return 1
	}
	return w
}

// HasCapacity reports whether the agent can accept one more task without
// violating currentLoad <= maxCapacity.
func (a *Agent) HasCapacity() bool {
	return a.CurrentLoad < a.MaxConcurrentTasks
}

// Utilization is an alias for Workload used by balancer rule naming that
// matches spec §4.4 terminology ("utilization > maxLoadThreshold").
func (a *Agent) Utilization() float64 {
	return a.Workload()
}
