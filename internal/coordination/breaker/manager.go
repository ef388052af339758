package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/swarmguard/coordination/internal/coordination/events"
)

// Manager is a keyed registry of named breakers sharing a default config
// (spec §4.2 "CircuitBreakerManager"). It is the only thing callers hold a
// reference to; individual CircuitBreaker instances are created lazily.
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	defaults Config
	bus      *events.Bus
}

func NewManager(defaults Config, bus *events.Bus) *Manager {
	return &Manager{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaults,
		bus:      bus,
	}
}

// GetBreaker is create-or-get by name; override replaces the default config
// for a newly created breaker and is ignored for one that already exists.
func (m *Manager) GetBreaker(name string, override *Config) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[name]; ok {
		return b
	}

	cfg := m.defaults
	if override != nil {
		cfg = *override
	}
	b := newBreaker(name, cfg, m.publishStateChanged)
	m.breakers[name] = b
	return b
}

func (m *Manager) publishStateChanged(name string, old, new State, metrics Metrics) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(context.Background(), events.CircuitBreakerStateChanged, events.BreakerStateChangedPayload{
		Name:     name,
		OldState: old.String(),
		NewState: new.String(),
		Metrics: map[string]int64{
			"totalRequests":    metrics.TotalRequests,
			"successCount":     metrics.SuccessCount,
			"failureCount":     metrics.FailureCount,
			"rejectedRequests": metrics.RejectedRequests,
			"halfOpenRequests": metrics.HalfOpenRequests,
		},
	})
}

// RunMaintenance sweeps every registered breaker and force-resets any that
// has been open longer than 2x its configured timeout with no activity
// (spec §4.2 maintenance sweep). Returns the names reset.
func (m *Manager) RunMaintenance() []string {
	m.mu.Lock()
	snapshot := make([]*CircuitBreaker, 0, len(m.breakers))
	for _, b := range m.breakers {
		snapshot = append(snapshot, b)
	}
	m.mu.Unlock()

	var reset []string
	for _, b := range snapshot {
		if b.resetIfStaleOpen(2 * b.cfg.Timeout) {
			reset = append(reset, b.name)
		}
	}
	return reset
}

// StartMaintenanceLoop runs RunMaintenance on interval until ctx is done.
func (m *Manager) StartMaintenanceLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.RunMaintenance()
			}
		}
	}()
}

// Snapshot returns every breaker's current state, for introspection/tests.
func (m *Manager) Snapshot() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]State, len(m.breakers))
	for name, b := range m.breakers {
		out[name] = b.State()
	}
	return out
}
