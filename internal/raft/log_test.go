package raft

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func cmd(s string) json.RawMessage {
	return json.RawMessage(`"` + s + `"`)
}

func TestLogAppendAssignsContiguousIndices(t *testing.T) {
	var l raftLog

	assert.Equal(t, uint32(0), l.lastIndex())
	assert.Equal(t, uint32(0), l.lastTerm())

	assert.Equal(t, uint32(1), l.append(1, cmd("a")))
	assert.Equal(t, uint32(2), l.append(1, cmd("b")))
	assert.Equal(t, uint32(3), l.append(2, cmd("c")))

	assert.Equal(t, uint32(3), l.lastIndex())
	assert.Equal(t, uint32(2), l.lastTerm())

	e, ok := l.entryAt(2)
	assert.True(t, ok)
	assert.Equal(t, uint32(2), e.Index)
	assert.Equal(t, uint32(1), e.Term)

	_, ok = l.entryAt(4)
	assert.False(t, ok)
	_, ok = l.entryAt(0)
	assert.False(t, ok)
}

func TestConsistencyCheck(t *testing.T) {
	var l raftLog
	l.append(1, cmd("a"))
	l.append(2, cmd("b"))

	assert.True(t, l.consistencyCheck(0, 0), "index 0 matches trivially")
	assert.True(t, l.consistencyCheck(1, 1))
	assert.True(t, l.consistencyCheck(2, 2))
	assert.False(t, l.consistencyCheck(2, 1), "term mismatch")
	assert.False(t, l.consistencyCheck(3, 2), "beyond the tail")
	assert.False(t, l.consistencyCheck(5, 3))
}

func TestMergeFromAppendsBeyondTail(t *testing.T) {
	var l raftLog
	l.append(1, cmd("a"))

	l.mergeFrom([]LogEntry{
		{Index: 2, Term: 1, Command: cmd("b")},
		{Index: 3, Term: 2, Command: cmd("c")},
	})

	assert.Equal(t, uint32(3), l.lastIndex())
	assert.Equal(t, uint32(2), l.termAt(3))
}

func TestMergeFromIsIdempotent(t *testing.T) {
	var l raftLog
	l.append(1, cmd("a"))
	l.append(1, cmd("b"))

	l.mergeFrom([]LogEntry{
		{Index: 1, Term: 1, Command: cmd("a")},
		{Index: 2, Term: 1, Command: cmd("b")},
	})

	assert.Equal(t, uint32(2), l.lastIndex())
	e, _ := l.entryAt(2)
	assert.Equal(t, cmd("b"), e.Command)
}

func TestMergeFromTruncatesConflictingSuffix(t *testing.T) {
	var l raftLog
	l.append(1, cmd("a"))
	l.append(1, cmd("b"))
	l.append(1, cmd("c"))

	// Entry 2 arrives with a newer term: entries 2 and 3 must go.
	l.mergeFrom([]LogEntry{
		{Index: 2, Term: 2, Command: cmd("x")},
	})

	assert.Equal(t, uint32(2), l.lastIndex())
	assert.Equal(t, uint32(2), l.termAt(2))
	e, _ := l.entryAt(2)
	assert.Equal(t, cmd("x"), e.Command)
	assert.Equal(t, uint32(1), l.termAt(1), "entries before the conflict survive")
}

func TestMergeFromEmptyIsNoOp(t *testing.T) {
	var l raftLog
	l.append(1, cmd("a"))

	l.mergeFrom(nil)

	assert.Equal(t, uint32(1), l.lastIndex())
}

func TestTail(t *testing.T) {
	var l raftLog
	l.append(1, cmd("a"))
	l.append(1, cmd("b"))
	l.append(2, cmd("c"))

	assert.Len(t, l.tail(1), 3)
	assert.Len(t, l.tail(3), 1)
	assert.Nil(t, l.tail(4))

	// The copy must not alias the log.
	out := l.tail(2)
	out[0].Term = 99
	assert.Equal(t, uint32(1), l.termAt(2))
}
