package balancer

import (
	"context"
	"fmt"
	"time"

	"github.com/swarmguard/coordination/internal/coordination/events"
	"github.com/swarmguard/coordination/internal/coordination/types"
)

// RebalanceEvent describes an imbalance detected between agents.
type RebalanceEvent struct {
	Imbalance   float64
	Overloaded  []string
	Underloaded []string
}

// Run starts the balancer's periodic tasks (prediction, rebalance, health
// check) and blocks until ctx is done.
func (b *Balancer) Run(ctx context.Context) {
	var predTicker *time.Ticker
	if b.cfg.PredictionsEnabled {
		predTicker = time.NewTicker(b.cfg.PredictionWindow)
		defer predTicker.Stop()
	}
	rebalanceTicker := time.NewTicker(b.cfg.RebalanceInterval)
	defer rebalanceTicker.Stop()
	healthTicker := time.NewTicker(b.cfg.HealthCheckInterval)
	defer healthTicker.Stop()

	var predCh <-chan time.Time
	if predTicker != nil {
		predCh = predTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-predCh:
			b.updatePredictions()
		case <-rebalanceTicker.C:
			b.rebalance()
		case <-healthTicker.C:
			b.checkHealth()
		}
	}
}

// updatePredictions computes a linear extrapolation over each agent's last
// 10 load observations (spec §4.4 "Prediction").
func (b *Balancer) updatePredictions() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, history := range b.loadHistory {
		if len(history) < 2 {
			continue
		}
		slope := linearSlope(history)
		last := history[len(history)-1]
		predicted := last + slope
		if predicted < 0 {
			predicted = 0
		}
		b.predictions[id] = prediction{
			predictedLoad: predicted,
			confidence:    0.7,
			factors:       []string{"trailing-load-slope"},
		}
	}
}

// linearSlope fits a simple least-squares line over equally spaced samples
// and returns its slope.
func linearSlope(samples []float64) float64 {
	n := float64(len(samples))
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range samples {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// rebalance computes the spread of agent utilization and, if it exceeds
// 30%, emits a rebalancing event; it also adapts maxLoadThreshold based on
// sustained system error rate / load (spec §4.4 "Rebalancing").
func (b *Balancer) rebalance() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.agents) == 0 {
		return
	}

	var maxU, minU float64 = -1, 2
	var overloaded, underloaded []string
	for id, a := range b.agents {
		u := a.Utilization()
		if u > maxU {
			maxU = u
		}
		if u < minU {
			minU = u
		}
		if u > b.cfg.MaxLoadThreshold {
			overloaded = append(overloaded, id)
		} else if u < b.cfg.MaxLoadThreshold*0.25 {
			underloaded = append(underloaded, id)
		}
	}

	imbalance := maxU - minU
	if imbalance > 0.3 && b.bus != nil {
		b.bus.Publish(context.Background(), "load_balancer:rebalance", RebalanceEvent{
			Imbalance:   imbalance,
			Overloaded:  overloaded,
			Underloaded: underloaded,
		})
	}

	switch {
	case b.systemErrRate > 0.10:
		b.cfg.MaxLoadThreshold = clamp(b.cfg.MaxLoadThreshold*0.95, 0.6, 0.9)
	case b.systemLoad < 0.50:
		b.cfg.MaxLoadThreshold = clamp(b.cfg.MaxLoadThreshold*1.02, 0.6, 0.9)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// checkHealth marks agents unresponsive if they have not reported an
// update in 2x the health check interval (spec §4.4 "Health check").
func (b *Balancer) checkHealth() {
	b.mu.Lock()
	var newlyUnresponsive []string
	now := time.Now()
	for id, a := range b.agents {
		if a.Status == types.AgentUnresponsive {
			continue
		}
		if now.Sub(a.UpdatedAt) > 2*b.cfg.HealthCheckInterval {
			a.Status = types.AgentUnresponsive
			newlyUnresponsive = append(newlyUnresponsive, id)
		}
	}
	bus := b.bus
	b.mu.Unlock()

	if bus == nil {
		return
	}
	for _, id := range newlyUnresponsive {
		bus.Publish(context.Background(), events.AgentUnresponsive, fmt.Sprintf("agent %s", id))
	}
}
