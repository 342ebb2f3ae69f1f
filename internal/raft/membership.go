package raft

import "sort"

// peerSet is the membership table: the known peer addresses, this node
// excluded. Guarded by the owning node's mutex.
type peerSet struct {
	peers map[string]struct{}
}

func newPeerSet(addrs []string) *peerSet {
	s := &peerSet{peers: make(map[string]struct{}, len(addrs))}
	for _, a := range addrs {
		s.peers[a] = struct{}{}
	}
	return s
}

// add reports whether addr was newly inserted.
func (s *peerSet) add(addr string) bool {
	if _, ok := s.peers[addr]; ok {
		return false
	}
	s.peers[addr] = struct{}{}
	return true
}

// remove reports whether addr was present.
func (s *peerSet) remove(addr string) bool {
	if _, ok := s.peers[addr]; !ok {
		return false
	}
	delete(s.peers, addr)
	return true
}

func (s *peerSet) contains(addr string) bool {
	_, ok := s.peers[addr]
	return ok
}

func (s *peerSet) list() []string {
	out := make([]string, 0, len(s.peers))
	for a := range s.peers {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// clusterSize counts self plus known peers.
func (s *peerSet) clusterSize() int { return len(s.peers) + 1 }

// majority is floor(clusterSize/2)+1.
func (s *peerSet) majority() int { return s.clusterSize()/2 + 1 }
