package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/swarmguard/coordination/internal/coordination/events"
)

// RunWorkStealing starts the periodic work-stealing pass (spec §4.5) and
// blocks until ctx is done.
func (s *Scheduler) RunWorkStealing(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.StealInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.stealPass()
		}
	}
}

// stealPass computes each agent's taskCount and, for any victim/thief pair
// whose gap reaches stealThreshold, moves up to maxStealBatch pending
// tasks — preferring the lowest-priority, most-recently-enqueued tasks
// that match the thief's capabilities.
func (s *Scheduler) stealPass() {
	s.mu.Lock()
	type pair struct {
		victim, thief string
		gap           int
	}
	var pairs []pair
	for victimID, victim := range s.agents {
		for thiefID, thief := range s.agents {
			if victimID == thiefID || !admissible(thief) {
				continue
			}
			gap := victim.taskCount - thief.taskCount
			if gap >= s.cfg.StealThreshold && thief.agent.HasCapacity() {
				pairs = append(pairs, pair{victim: victimID, thief: thiefID, gap: gap})
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].gap > pairs[j].gap })

	type stolenMove struct {
		taskID, from, to string
	}
	var moves []stolenMove

	moved := make(map[string]bool)
	for _, p := range pairs {
		queue := s.pending[p.victim]
		if len(queue) == 0 {
			continue
		}
		candidates := make([]*pendingTask, 0, len(queue))
		for _, t := range queue {
			if !moved[t.taskID] && s.agents[p.thief].agent.Capabilities.CoverageRatio(t.requirements) > 0 {
				candidates = append(candidates, t)
			}
		}
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].priority != candidates[j].priority {
				return candidates[i].priority < candidates[j].priority
			}
			return candidates[i].enqueuedAt.After(candidates[j].enqueuedAt)
		})

		batch := candidates
		if len(batch) > s.cfg.MaxStealBatch {
			batch = batch[:s.cfg.MaxStealBatch]
		}
		for _, t := range batch {
			moved[t.taskID] = true
			s.moveTaskLocked(p.victim, p.thief, t)
			moves = append(moves, stolenMove{taskID: t.taskID, from: p.victim, to: p.thief})
		}
	}
	s.mu.Unlock()

	for _, m := range moves {
		s.publish(events.WorkStealingStolen, events.WorkStolenPayload{
			TaskID: m.taskID, FromAgent: m.from, ToAgent: m.to,
		})
	}
}

// moveTaskLocked transfers one pending task's assignment from victim to
// thief; the task's assignment timestamp resets while its status stays
// "assigned" per spec §4.5.
func (s *Scheduler) moveTaskLocked(victimID, thiefID string, t *pendingTask) {
	queue := s.pending[victimID]
	for i, q := range queue {
		if q.taskID == t.taskID {
			s.pending[victimID] = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	t.enqueuedAt = time.Now()
	s.pending[thiefID] = append(s.pending[thiefID], t)

	if a, ok := s.assignments[t.taskID]; ok {
		a.agentID = thiefID
		a.assignedAt = time.Now()
	}

	victim := s.agents[victimID]
	thief := s.agents[thiefID]
	if victim != nil {
		victim.taskCount--
		victim.agent.CurrentLoad--
	}
	if thief != nil {
		thief.taskCount++
		thief.agent.CurrentLoad++
	}
}
