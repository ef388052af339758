package hive

import (
	"context"
	"time"

	"github.com/swarmguard/coordination/internal/coordination/events"
)

// VoteChoice is one voter's position on a Proposal.
type VoteChoice string

const (
	VoteApprove VoteChoice = "approve"
	VoteReject  VoteChoice = "reject"
	VoteAbstain VoteChoice = "abstain"
)

// Vote is one agent's response to a Proposal.
type Vote struct {
	ProposalID string
	AgentID    string
	Choice     VoteChoice
	Confidence float64
	Reasoning  string
}

// Proposal is a decision submitted for consensus-based decomposition or
// execution (spec §4.6 consensus-based strategy).
type Proposal struct {
	ID        string
	Subject   string
	CreatedAt time.Time
}

// ConsensusResult is the outcome of tallying votes on a Proposal.
type ConsensusResult struct {
	ProposalID string
	Approved   bool
	Approves   int
	Rejects    int
	Abstains   int
	QuorumMet  bool
}

// Consensus collects votes for in-flight proposals and tallies them once a
// quorum of the electorate has voted.
type Consensus struct {
	bus       *events.Bus
	threshold float64 // fraction of electorate that must cast a vote (of any kind) for quorum, spec §4.6
}

func NewConsensus(bus *events.Bus, threshold float64) *Consensus {
	if threshold <= 0 {
		threshold = 0.5
	}
	return &Consensus{bus: bus, threshold: threshold}
}

// Propose publishes a proposal for voting and emits ConsensusProposal.
func (c *Consensus) Propose(ctx context.Context, p Proposal) {
	if c.bus != nil {
		c.bus.Publish(ctx, events.ConsensusProposal, p)
	}
}

// Tally resolves votes against electorateSize: the proposal passes if a
// quorum of electorateSize*threshold participated and approves outnumber
// rejects (spec §4.6: "decision = more approves than rejects, quorum >=
// consensusThreshold * N").
func Tally(proposalID string, votes []Vote, electorateSize int, threshold float64) ConsensusResult {
	res := ConsensusResult{ProposalID: proposalID}
	for _, v := range votes {
		switch v.Choice {
		case VoteApprove:
			res.Approves++
		case VoteReject:
			res.Rejects++
		default:
			res.Abstains++
		}
	}
	quorum := threshold * float64(electorateSize)
	res.QuorumMet = float64(len(votes)) >= quorum
	res.Approved = res.QuorumMet && res.Approves > res.Rejects
	return res
}

// CastVote publishes a vote and returns it unchanged, for callers that want
// to both record and broadcast a voting decision.
func (c *Consensus) CastVote(ctx context.Context, v Vote) Vote {
	if c.bus != nil {
		c.bus.Publish(ctx, events.ConsensusVote, v)
	}
	return v
}
