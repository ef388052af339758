package balancer

import (
	"sort"

	"github.com/swarmguard/coordination/internal/coordination/types"
)

// Rule is one pre-emption rule evaluated before strategy selection (spec
// §4.4 "Rules engine").
type Rule struct {
	Name      string
	Condition func(required types.CapabilitySet) bool
	Action    RuleAction
	Priority  int
	Enabled   bool
}

// RuleAction is the decision a firing rule makes: either pin a specific
// agent, or force a particular strategy for this selection.
type RuleAction struct {
	SelectedAgent string
	Strategy      Strategy
}

// SetRules replaces the ordered rule list. Rules are evaluated in
// descending priority; the first firing rule wins.
func (b *Balancer) SetRules(rules []Rule) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sorted := append([]Rule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })
	b.rules = sorted
}

func (b *Balancer) matchRuleLocked(required types.CapabilitySet) (*Rule, RuleAction) {
	for i := range b.rules {
		r := &b.rules[i]
		if !r.Enabled || r.Condition == nil {
			continue
		}
		if r.Condition(required) {
			return r, r.Action
		}
	}
	return nil, RuleAction{}
}
