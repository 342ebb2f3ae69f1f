// Package raft implements the consensus core: the follower/candidate/leader
// role machine, term and vote bookkeeping, log replication with consistency
// checking, and majority-driven commit advancement.
package raft

import "encoding/json"

// LogEntry is one term-tagged command in the replicated log. Indices are
// 1-based and contiguous; terms are non-decreasing along the log.
type LogEntry struct {
	Index   uint32          `json:"index"`
	Term    uint32          `json:"term"`
	Command json.RawMessage `json:"command"`
}

// raftLog is the node's append-only entry sequence. Not safe for concurrent
// use; the owning node serializes all access.
type raftLog struct {
	entries []LogEntry // entries[i] holds index i+1
}

func (l *raftLog) lastIndex() uint32 {
	return uint32(len(l.entries))
}

func (l *raftLog) lastTerm() uint32 {
	if len(l.entries) == 0 {
		return 0
	}
	return l.entries[len(l.entries)-1].Term
}

// append assigns the next index. Leader-side tail append only.
func (l *raftLog) append(term uint32, command json.RawMessage) uint32 {
	index := l.lastIndex() + 1
	l.entries = append(l.entries, LogEntry{Index: index, Term: term, Command: command})
	return index
}

func (l *raftLog) entryAt(index uint32) (LogEntry, bool) {
	if index < 1 || index > l.lastIndex() {
		return LogEntry{}, false
	}
	return l.entries[index-1], true
}

// termAt returns the term at index, or 0 when no entry exists there.
func (l *raftLog) termAt(index uint32) uint32 {
	e, ok := l.entryAt(index)
	if !ok {
		return 0
	}
	return e.Term
}

// consistencyCheck reports whether an entry with term prevTerm exists at
// prevIndex. prevIndex 0 matches trivially.
func (l *raftLog) consistencyCheck(prevIndex, prevTerm uint32) bool {
	if prevIndex == 0 {
		return true
	}
	if prevIndex > l.lastIndex() {
		return false
	}
	return l.termAt(prevIndex) == prevTerm
}

// mergeFrom reconciles incoming entries with the local tail: the first entry
// whose index exists locally under a different term truncates that entry and
// everything after it, then the remainder is appended. Entries already
// present with matching terms are left untouched, so a duplicate append is a
// no-op.
func (l *raftLog) mergeFrom(entries []LogEntry) {
	for i, e := range entries {
		if e.Index <= l.lastIndex() {
			if l.termAt(e.Index) == e.Term {
				continue
			}
			l.entries = l.entries[:e.Index-1]
		}
		l.entries = append(l.entries, entries[i:]...)
		return
	}
}

// tail returns a copy of all entries from index onward.
func (l *raftLog) tail(from uint32) []LogEntry {
	if from < 1 {
		from = 1
	}
	if from > l.lastIndex() {
		return nil
	}
	out := make([]LogEntry, l.lastIndex()-from+1)
	copy(out, l.entries[from-1:])
	return out
}
