package raft

// nextCommitIndex computes the highest index replicated on a strict majority
// of the cluster whose entry carries the current term. The leader itself
// holds every index up to lastIndex and counts toward the majority. An entry
// from a prior term is never committed by count alone; it commits only once a
// current-term entry at or above it does. Returns cur when no advance is
// safe, so the commit index never moves backward.
func nextCommitIndex(cur, lastIndex, currentTerm uint32, matchIndex map[string]uint32, majority int, termAt func(uint32) uint32) uint32 {
	best := cur
	for idx := cur + 1; idx <= lastIndex; idx++ {
		if termAt(idx) != currentTerm {
			continue
		}
		count := 1
		for _, m := range matchIndex {
			if m >= idx {
				count++
			}
		}
		if count >= majority {
			best = idx
		}
	}
	return best
}
