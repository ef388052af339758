package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/swarmguard/coordination/internal/coordination/events"
)

// TriggerConfig names when a workflow should run (spec-supplemented
// "Scheduled/event-triggered workflows", adapted from the teacher's
// ScheduleConfig).
type TriggerConfig struct {
	WorkflowID    string
	CronExpr      string // mutually exclusive with EventTopic
	EventTopic    events.Topic
	EventFilter   func(events.Event) bool
	MaxConcurrent int
	Enabled       bool
}

type eventHandler struct {
	mu        sync.Mutex
	triggers  []*TriggerConfig
	running   int
	unsub     func()
}

// TriggerManager fires ExecuteWorkflow on a cron schedule or in response to
// bus events, adapted from the teacher's Scheduler (cron + event-trigger
// registration, persisted ScheduleConfig).
type TriggerManager struct {
	cron *cron.Cron
	bus  *events.Bus
	orch *Orchestrator
	load func(workflowID string) (Workflow, bool, error)

	mu       sync.Mutex
	handlers map[events.Topic]*eventHandler
	cronIDs  map[string]cron.EntryID
}

func NewTriggerManager(bus *events.Bus, orch *Orchestrator, load func(string) (Workflow, bool, error)) *TriggerManager {
	return &TriggerManager{
		cron:     cron.New(cron.WithSeconds()),
		bus:      bus,
		orch:     orch,
		load:     load,
		handlers: make(map[events.Topic]*eventHandler),
		cronIDs:  make(map[string]cron.EntryID),
	}
}

func (tm *TriggerManager) Start() { tm.cron.Start() }

func (tm *TriggerManager) Stop(ctx context.Context) error {
	stopCtx := tm.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddTrigger registers a cron or event-driven trigger for a workflow.
func (tm *TriggerManager) AddTrigger(cfg *TriggerConfig) error {
	switch {
	case cfg.CronExpr != "":
		id, err := tm.cron.AddFunc(cfg.CronExpr, func() {
			tm.fire(context.Background(), cfg)
		})
		if err != nil {
			return fmt.Errorf("add cron trigger for %s: %w", cfg.WorkflowID, err)
		}
		tm.mu.Lock()
		tm.cronIDs[cfg.WorkflowID] = id
		tm.mu.Unlock()
	case cfg.EventTopic != "":
		tm.registerEventTrigger(cfg)
	default:
		return fmt.Errorf("trigger for %s: either CronExpr or EventTopic must be set", cfg.WorkflowID)
	}
	return nil
}

func (tm *TriggerManager) registerEventTrigger(cfg *TriggerConfig) {
	tm.mu.Lock()
	h, ok := tm.handlers[cfg.EventTopic]
	if !ok {
		h = &eventHandler{}
		h.unsub = tm.bus.Subscribe(cfg.EventTopic, func(ctx context.Context, ev events.Event) {
			tm.dispatchEvent(ctx, cfg.EventTopic, ev)
		})
		tm.handlers[cfg.EventTopic] = h
	}
	h.triggers = append(h.triggers, cfg)
	tm.mu.Unlock()
}

func (tm *TriggerManager) dispatchEvent(ctx context.Context, topic events.Topic, ev events.Event) {
	tm.mu.Lock()
	h, ok := tm.handlers[topic]
	tm.mu.Unlock()
	if !ok {
		return
	}

	h.mu.Lock()
	triggers := make([]*TriggerConfig, len(h.triggers))
	copy(triggers, h.triggers)
	h.mu.Unlock()

	for _, cfg := range triggers {
		if !cfg.Enabled {
			continue
		}
		if cfg.EventFilter != nil && !cfg.EventFilter(ev) {
			continue
		}
		h.mu.Lock()
		if cfg.MaxConcurrent > 0 && h.running >= cfg.MaxConcurrent {
			h.mu.Unlock()
			slog.Warn("trigger max concurrency reached", "workflow", cfg.WorkflowID)
			continue
		}
		h.running++
		h.mu.Unlock()

		go func(cfg *TriggerConfig) {
			defer func() {
				h.mu.Lock()
				h.running--
				h.mu.Unlock()
			}()
			tm.fire(ctx, cfg)
		}(cfg)
	}
}

func (tm *TriggerManager) fire(ctx context.Context, cfg *TriggerConfig) {
	wf, found, err := tm.load(cfg.WorkflowID)
	if err != nil || !found {
		slog.Error("trigger fire: workflow not found", "workflow", cfg.WorkflowID, "error", err)
		return
	}
	start := time.Now()
	if _, err := tm.orch.ExecuteWorkflow(ctx, wf); err != nil {
		slog.Error("triggered workflow execution failed", "workflow", cfg.WorkflowID, "error", err, "elapsed", time.Since(start))
		return
	}
	slog.Info("triggered workflow completed", "workflow", cfg.WorkflowID, "elapsed", time.Since(start))
}
