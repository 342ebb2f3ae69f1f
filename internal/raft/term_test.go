package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdvanceToOnlyMovesForward(t *testing.T) {
	ts := termState{current: 3, votedFor: "a"}

	assert.False(t, ts.advanceTo(3))
	assert.False(t, ts.advanceTo(2))
	assert.Equal(t, "a", ts.votedFor, "vote survives a non-advance")

	assert.True(t, ts.advanceTo(5))
	assert.Equal(t, uint32(5), ts.current)
	assert.Empty(t, ts.votedFor, "vote cleared on term change")
}

func TestTryVoteGrantsOncePerTerm(t *testing.T) {
	ts := termState{current: 2}

	assert.True(t, ts.tryVote("a", 2, 0, 0, 0, 0))
	assert.False(t, ts.tryVote("b", 2, 0, 0, 0, 0), "second candidate denied")
	assert.True(t, ts.tryVote("a", 2, 0, 0, 0, 0), "same candidate re-granted")
}

func TestTryVoteRejectsWrongTerm(t *testing.T) {
	ts := termState{current: 2}

	assert.False(t, ts.tryVote("a", 1, 0, 0, 0, 0))
	assert.False(t, ts.tryVote("a", 3, 0, 0, 0, 0), "caller adopts the term first")
	assert.Empty(t, ts.votedFor, "denial has no side effects")
}

func TestTryVoteRequiresUpToDateLog(t *testing.T) {
	// Local log: last term 2, last index 5.
	ts := termState{current: 3}
	assert.False(t, ts.tryVote("a", 3, 1, 9, 2, 5), "lower last term loses regardless of index")

	ts = termState{current: 3}
	assert.False(t, ts.tryVote("a", 3, 2, 4, 2, 5), "same term, shorter log loses")

	ts = termState{current: 3}
	assert.True(t, ts.tryVote("a", 3, 2, 5, 2, 5), "equal log is up to date")

	ts = termState{current: 3}
	assert.True(t, ts.tryVote("a", 3, 3, 1, 2, 5), "higher last term wins regardless of index")
}
