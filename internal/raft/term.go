package raft

// termState tracks the current term and this term's vote record. It is
// guarded by the owning node's mutex.
type termState struct {
	current  uint32
	votedFor string
}

// advanceTo adopts term if it is strictly greater than the current one,
// clearing the vote record. Reports whether the term changed.
func (t *termState) advanceTo(term uint32) bool {
	if term <= t.current {
		return false
	}
	t.current = term
	t.votedFor = ""
	return true
}

// tryVote grants at most one vote per term, and only to a candidate whose log
// is at least as up to date as ours: last terms compare first, then last
// indices. A denial has no side effects.
func (t *termState) tryVote(candidate string, term, candLastTerm, candLastIndex, localLastTerm, localLastIndex uint32) bool {
	if term != t.current {
		return false
	}
	if t.votedFor != "" && t.votedFor != candidate {
		return false
	}
	if candLastTerm != localLastTerm {
		if candLastTerm < localLastTerm {
			return false
		}
	} else if candLastIndex < localLastIndex {
		return false
	}
	t.votedFor = candidate
	return true
}
