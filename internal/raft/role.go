package raft

// RoleKind enumerates the three consensus roles.
type RoleKind int

const (
	Follower RoleKind = iota
	Candidate
	Leader
)

func (k RoleKind) String() string {
	switch k {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// candidateState is the Candidate variant payload: peers that granted a vote
// this term, self included. Discarded on any role transition.
type candidateState struct {
	votes map[string]struct{}
}

// leaderState is the Leader variant payload: per-peer replication cursors.
// nextIndex is the next entry to ship to a peer, matchIndex the highest entry
// known replicated there. Discarded on any role transition.
type leaderState struct {
	nextIndex  map[string]uint32
	matchIndex map[string]uint32
}
