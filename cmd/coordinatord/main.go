package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/coordination/internal/coordination/balancer"
	"github.com/swarmguard/coordination/internal/coordination/breaker"
	cfgpkg "github.com/swarmguard/coordination/internal/coordination/config"
	"github.com/swarmguard/coordination/internal/coordination/events"
	"github.com/swarmguard/coordination/internal/coordination/executor"
	"github.com/swarmguard/coordination/internal/coordination/graph"
	"github.com/swarmguard/coordination/internal/coordination/hive"
	"github.com/swarmguard/coordination/internal/coordination/persistence"
	"github.com/swarmguard/coordination/internal/coordination/scheduler"
	"github.com/swarmguard/coordination/internal/coordination/types"
	"github.com/swarmguard/coordination/internal/coordination/workflow"
	"github.com/swarmguard/coordination/pkg/core/logging"
	"github.com/swarmguard/coordination/pkg/core/otelinit"
)

// daemon bundles every coordination component the HTTP surface dispatches
// against.
type daemon struct {
	cfg     cfgpkg.Config
	bus     *events.Bus
	store   *persistence.Store
	exec    *executor.Executor
	bal     *balancer.Balancer
	sched   *scheduler.Scheduler
	hv      *hive.Hive
	brk     *breaker.Manager
	orch    *workflow.Orchestrator
	trigger *workflow.TriggerManager
}

func newDaemon(cfg cfgpkg.Config, bus *events.Bus, store *persistence.Store) (*daemon, error) {
	exec := executor.New(cfg.ExecutorConfig(), bus, store)
	bal := balancer.New(cfg.BalancerConfig(), bus)
	brk := breaker.NewManager(cfg.BreakerConfig(), bus)
	hv := hive.New(bus)
	sched := scheduler.New(cfg.SchedulerConfig(), bus, graph.New())

	orch, err := workflow.New(cfg.WorkflowConfig(), bus, store, exec, bal, hv)
	if err != nil {
		return nil, err
	}

	d := &daemon{
		cfg:   cfg,
		bus:   bus,
		store: store,
		exec:  exec,
		bal:   bal,
		sched: sched,
		brk:   brk,
		hv:    hv,
		orch:  orch,
	}
	d.trigger = workflow.NewTriggerManager(bus, orch, d.loadWorkflow)
	return d, nil
}

// loadWorkflow satisfies workflow.TriggerManager's load callback by reading
// a persisted workflow definition back out of the store.
func (d *daemon) loadWorkflow(id string) (workflow.Workflow, bool, error) {
	var wf workflow.Workflow
	if d.store == nil {
		return wf, false, nil
	}
	found, err := d.store.GetWorkflow(id, &wf)
	return wf, found, err
}

func (d *daemon) run(ctx context.Context, interval time.Duration) {
	go d.bal.Run(ctx)
	if d.cfg.EnableTopologyAwareness {
		go d.hv.RunTopologyRefresh(ctx, interval)
	}
	if d.cfg.EnableCircuitBreaker {
		go d.brk.StartMaintenanceLoop(ctx, time.Minute)
	}
	if d.cfg.EnableWorkStealing {
		go d.sched.RunWorkStealing(ctx)
	}
	go d.exec.Run(ctx)
	d.trigger.Start()
}

func (d *daemon) routes(mux *http.ServeMux, taskLatency metric.Float64Histogram) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/v1/workflows", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var wf workflow.Workflow
			if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			if wf.ID == "" {
				http.Error(w, "id required", http.StatusBadRequest)
				return
			}
			if err := workflow.Validate(wf); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if d.store != nil {
				if _, err := d.store.PutWorkflow(wf.ID, wf); err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
			}
			d.bus.Publish(r.Context(), events.WorkflowCreated, wf.ID)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(wf)
		case http.MethodGet:
			id := r.URL.Query().Get("id")
			wf, found, err := d.loadWorkflow(id)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			if !found {
				http.NotFound(w, r)
				return
			}
			_ = json.NewEncoder(w).Encode(wf)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/v1/run", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			WorkflowID string `json:"workflow_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		wf, found, err := d.loadWorkflow(req.WorkflowID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !found {
			http.Error(w, "workflow not found", http.StatusNotFound)
			return
		}

		start := time.Now()
		exec, err := d.orch.ExecuteWorkflow(r.Context(), wf)
		taskLatency.Record(r.Context(), float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("workflow", wf.ID)))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"execution_id": exec.ID, "status": string(exec.Status())})
	})

	mux.HandleFunc("/v1/executions/", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/v1/executions/"):]
		switch {
		case r.Method == http.MethodGet:
			progress, ok := d.orch.Progress(id)
			if !ok {
				http.NotFound(w, r)
				return
			}
			_ = json.NewEncoder(w).Encode(progress)
		case r.Method == http.MethodDelete:
			if err := d.orch.Cancel(id); err != nil {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusAccepted)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/v1/executions/pause", func(w http.ResponseWriter, r *http.Request) {
		handlePauseResume(w, r, d.orch.Pause)
	})
	mux.HandleFunc("/v1/executions/resume", func(w http.ResponseWriter, r *http.Request) {
		handlePauseResume(w, r, d.orch.Resume)
	})

	mux.HandleFunc("/v1/agents", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var a types.Agent
		if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if a.ID == "" {
			http.Error(w, "id required", http.StatusBadRequest)
			return
		}
		if a.Status == "" {
			a.Status = types.AgentAvailable
		}
		d.bal.RegisterAgent(&a)
		d.sched.RegisterAgent(&a)
		d.hv.UpdateAgent(hive.AgentView{
			ID:           a.ID,
			Capabilities: a.Capabilities,
			Workload:     a.Workload(),
			SuccessRate:  a.Metrics.SuccessRate,
			Reliability:  a.Metrics.Reliability,
		})
		w.WriteHeader(http.StatusCreated)
	})

	// /v1/tasks submits a single task directly to the Scheduler's
	// assignment protocol, independent of any workflow.
	mux.HandleFunc("/v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			TaskID       string              `json:"task_id"`
			TaskType     string              `json:"task_type"`
			Priority     types.Priority      `json:"priority"`
			Requirements types.CapabilitySet `json:"requirements"`
			AgentID      string              `json:"agent_id"`
			Strategy     scheduler.Strategy  `json:"strategy"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		agentID, err := d.sched.AssignTask(req.TaskID, req.TaskType, req.Priority, req.Requirements, req.AgentID, req.Strategy)
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"assigned_agent": agentID})
	})
}

func handlePauseResume(w http.ResponseWriter, r *http.Request, fn func(string) error) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("execution_id")
	if err := fn(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func main() {
	service := "coordinatord"
	logging.Init(service)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	shutdownTrace := otelinit.InitTracer(ctx, service)
	shutdownMetrics, promHandler, _ := otelinit.InitMetrics(ctx, service)

	cfg := cfgpkg.Load()
	bus := events.NewBus()

	var store *persistence.Store
	if cfg.EnablePersistence {
		if err := os.MkdirAll(cfg.PersistenceDir, 0o755); err != nil {
			slog.Error("persistence dir create failed", "error", err)
		} else {
			s, err := persistence.Open(filepath.Join(cfg.PersistenceDir, "coordinatord.db"))
			if err != nil {
				slog.Error("persistence open failed", "error", err)
			} else {
				store = s
				defer store.Close()
			}
		}
	}

	d, err := newDaemon(cfg, bus, store)
	if err != nil {
		slog.Error("daemon init failed", "error", err)
		os.Exit(1)
	}
	d.run(ctx, cfg.RebalanceInterval)

	mux := http.NewServeMux()
	meter := otel.GetMeterProvider().Meter("coordinatord")
	taskLatency, _ := meter.Float64Histogram("swarm_workflow_duration_ms")
	d.routes(mux, taskLatency)

	if promHandler != nil {
		if h, ok := promHandler.(http.Handler); ok {
			mux.Handle("/metrics", h)
		}
	}

	srv := &http.Server{Addr: ":8080", Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()
	slog.Info("service started")
	<-ctx.Done()
	slog.Info("shutdown initiated")
	ctxSd, c2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer c2()
	_ = srv.Shutdown(ctxSd)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = d.trigger.Stop(stopCtx)
	stopCancel()
	otelinit.Flush(ctxSd, shutdownTrace)
	_ = shutdownMetrics(ctxSd)
	slog.Info("shutdown complete")
}
