package swarm

import (
	"context"
	"math"
	"time"
)

// DefaultThreshold is the fraction of votes the winning option must reach.
const DefaultThreshold = 0.66

// Decision is the outcome of a consensus round.
type Decision struct {
	Consensus bool
	Option    string
	Votes     map[string]int // option -> vote count
}

// Vote is one voter's choice in a round.
type Vote struct {
	Voter  string
	Option string
}

// ConsensusStrategy is a pluggable consensus algorithm. The kernel only enforces
// quorum, threshold, timeout, and at-most-one-vote-per-voter; the
// algorithm decides how votes are gathered and tallied within those
// constraints.
type ConsensusStrategy interface {
	Name() string
	// Decide blocks until ctx is done, the timeout elapses, or enough
	// votes have arrived to either reach threshold or make it
	// mathematically unreachable. votes is a channel the coordinator
	// feeds as voters respond.
	Decide(ctx context.Context, topic string, options []string, voters []string, quorum int, threshold float64, votes <-chan Vote) Decision
}

// Quorum computes the default quorum size for n voters: ceil(n/2)+1.
func Quorum(n int) int {
	if n == 0 {
		return 0
	}
	return int(math.Ceil(float64(n)/2)) + 1
}

// QuorumVote is a simple majority-style strategy: every vote is tallied as
// it arrives; once quorum voters have responded, the option with the
// highest share wins if it clears threshold.
type QuorumVote struct{}

func (QuorumVote) Name() string { return "quorum-vote" }

func (QuorumVote) Decide(ctx context.Context, topic string, options []string, voters []string, quorum int, threshold float64, votes <-chan Vote) Decision {
	tally := make(map[string]int, len(options))
	seen := make(map[string]bool, len(voters))

	for {
		select {
		case <-ctx.Done():
			return finalize(tally, len(seen), threshold)
		case v, ok := <-votes:
			if !ok {
				return finalize(tally, len(seen), threshold)
			}
			if seen[v.Voter] {
				continue // at-most-one-vote-per-voter
			}
			seen[v.Voter] = true
			tally[v.Option]++

			if len(seen) >= quorum {
				if d := finalize(tally, len(seen), threshold); d.Consensus {
					return d
				}
			}
			if len(seen) == len(voters) {
				return finalize(tally, len(seen), threshold)
			}
		}
	}
}

func finalize(tally map[string]int, totalVotes int, threshold float64) Decision {
	if totalVotes == 0 {
		return Decision{Consensus: false, Votes: tally}
	}
	var best string
	var bestCount int
	for opt, count := range tally {
		if count > bestCount {
			best, bestCount = opt, count
		}
	}
	if float64(bestCount)/float64(totalVotes) >= threshold {
		return Decision{Consensus: true, Option: best, Votes: tally}
	}
	return Decision{Consensus: false, Votes: tally}
}

// RaftLike is a leader-weighted strategy: the designated leader's vote, if
// cast, is counted twice before the quorum/threshold check runs,
// approximating a leader-driven commit without implementing full Raft log
// replication (out of scope for an in-memory coordination layer with no
// persistent log).
type RaftLike struct {
	LeaderID string
}

func (RaftLike) Name() string { return "raft-like" }

func (r RaftLike) Decide(ctx context.Context, topic string, options []string, voters []string, quorum int, threshold float64, votes <-chan Vote) Decision {
	tally := make(map[string]int, len(options))
	seen := make(map[string]bool, len(voters))

	for {
		select {
		case <-ctx.Done():
			return finalize(tally, len(seen), threshold)
		case v, ok := <-votes:
			if !ok {
				return finalize(tally, len(seen), threshold)
			}
			if seen[v.Voter] {
				continue
			}
			seen[v.Voter] = true
			weight := 1
			if v.Voter == r.LeaderID {
				weight = 2
			}
			tally[v.Option] += weight

			if len(seen) >= quorum {
				if d := finalize(tally, len(seen), threshold); d.Consensus {
					return d
				}
			}
			if len(seen) == len(voters) {
				return finalize(tally, len(seen), threshold)
			}
		}
	}
}

// RequestConsensus runs strategy over voters, enforcing timeout on top of
// whatever the strategy itself does. collectVotes is handed a context
// (cancelled at the same deadline) and a channel to send votes on; it
// returns once every voter has responded or given up, and the channel is
// closed when it returns.
func RequestConsensus(ctx context.Context, strategy ConsensusStrategy, topic string, options, voters []string, timeout time.Duration, collectVotes func(context.Context, chan<- Vote)) Decision {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	votes := make(chan Vote)
	go func() {
		defer close(votes)
		collectVotes(ctx, votes)
	}()

	quorum := Quorum(len(voters))
	return strategy.Decide(ctx, topic, options, voters, quorum, DefaultThreshold, votes)
}
