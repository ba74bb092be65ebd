package swarm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func sendVotes(vs ...Vote) func(context.Context, chan<- Vote) {
	return func(ctx context.Context, out chan<- Vote) {
		for _, v := range vs {
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}
}

func TestQuorumComputesMajorityPlusOne(t *testing.T) {
	assert.Equal(t, 0, Quorum(0))
	assert.Equal(t, 2, Quorum(1))
	assert.Equal(t, 3, Quorum(3))
	assert.Equal(t, 4, Quorum(5))
}

func TestQuorumVoteReachesConsensusOnClearMajority(t *testing.T) {
	voters := []string{"a", "b", "c"}
	decision := RequestConsensus(context.Background(), QuorumVote{}, "topic", []string{"yes", "no"}, voters, time.Second,
		sendVotes(Vote{"a", "yes"}, Vote{"b", "yes"}, Vote{"c", "no"}))

	assert.True(t, decision.Consensus)
	assert.Equal(t, "yes", decision.Option)
}

func TestQuorumVoteNoConsensusWhenSplit(t *testing.T) {
	voters := []string{"a", "b", "c"}
	decision := RequestConsensus(context.Background(), QuorumVote{}, "topic", []string{"yes", "no", "maybe"}, voters, time.Second,
		sendVotes(Vote{"a", "yes"}, Vote{"b", "no"}, Vote{"c", "maybe"}))

	assert.False(t, decision.Consensus)
}

func TestQuorumVoteIgnoresDuplicateVoteFromSameVoter(t *testing.T) {
	voters := []string{"a", "b", "c"}
	decision := RequestConsensus(context.Background(), QuorumVote{}, "topic", []string{"yes", "no"}, voters, time.Second,
		sendVotes(Vote{"a", "yes"}, Vote{"a", "no"}, Vote{"b", "yes"}, Vote{"c", "yes"}))

	assert.Equal(t, 0, decision.Votes["no"])
	assert.True(t, decision.Consensus)
}

func TestQuorumVoteTimesOutWithoutEnoughVotes(t *testing.T) {
	voters := []string{"a", "b", "c"}
	start := time.Now()
	decision := RequestConsensus(context.Background(), QuorumVote{}, "topic", []string{"yes", "no"}, voters, 50*time.Millisecond,
		func(ctx context.Context, out chan<- Vote) {
			<-ctx.Done()
		})
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, decision.Consensus)
}

func TestRaftLikeLeaderVoteCountsDouble(t *testing.T) {
	voters := []string{"leader", "b", "c"}
	strategy := RaftLike{LeaderID: "leader"}
	decision := RequestConsensus(context.Background(), strategy, "topic", []string{"yes", "no"}, voters, time.Second,
		sendVotes(Vote{"leader", "yes"}, Vote{"b", "no"}, Vote{"c", "no"}))

	assert.Equal(t, 2, decision.Votes["yes"])
	assert.Equal(t, 2, decision.Votes["no"])
}

func TestRaftLikeNonLeaderVotesWeightOne(t *testing.T) {
	voters := []string{"leader", "b", "c"}
	strategy := RaftLike{LeaderID: "leader"}
	decision := RequestConsensus(context.Background(), strategy, "topic", []string{"yes", "no"}, voters, time.Second,
		sendVotes(Vote{"leader", "yes"}, Vote{"b", "yes"}, Vote{"c", "yes"}))

	assert.True(t, decision.Consensus)
	assert.Equal(t, "yes", decision.Option)
	assert.Equal(t, 4, decision.Votes["yes"])
}
