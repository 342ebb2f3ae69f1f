package raft

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"concord/pkg/logger"
)

// ErrNotLeader is returned by Submit on a node that is not the leader.
var ErrNotLeader = errors.New("not leader")

// TimingConfig holds the election and heartbeat cadences. The heartbeat
// interval must stay below the election timeout floor.
type TimingConfig struct {
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
	HeartbeatInterval  time.Duration
}

func DefaultTimingConfig() TimingConfig {
	return TimingConfig{
		ElectionTimeoutMin: 150 * time.Millisecond,
		ElectionTimeoutMax: 300 * time.Millisecond,
		HeartbeatInterval:  50 * time.Millisecond,
	}
}

// Config configures a consensus node. ID is the node's advertised network
// address; it doubles as its identity on the wire.
type Config struct {
	ID     string
	Peers  []string // initial peer addresses, self excluded
	Timing TimingConfig
}

// ApplyMsg carries one committed entry to the state machine applier.
type ApplyMsg struct {
	Index   uint32
	Term    uint32
	Command json.RawMessage
}

// Status is a point-in-time snapshot for the request layer.
type Status struct {
	ID          string   `json:"id"`
	Role        string   `json:"role"`
	Term        uint32   `json:"term"`
	CommitIndex uint32   `json:"commit_index"`
	LastApplied uint32   `json:"last_applied"`
	LastIndex   uint32   `json:"last_index"`
	LeaderHint  string   `json:"leader_hint,omitempty"`
	Peers       []string `json:"peers"`
}

// Node is one consensus participant. All consensus state lives behind a
// single mutex: every mutation, whether a message arrival, a timer expiry, or
// a client submission, runs inside it. Network sends happen outside the lock
// and never block a mutation.
type Node struct {
	mu sync.Mutex

	id    string
	term  termState
	log   raftLog
	peers *peerSet

	role      RoleKind
	candidate *candidateState
	leader    *leaderState

	commitIndex uint32
	lastApplied uint32
	leaderHint  string

	timing TimingConfig
	timer  *electionTimer
	tp     Transport

	applyCh     chan ApplyMsg
	applySignal chan struct{}
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewNode builds a node in the Follower role. Committed entries are delivered
// on applyCh in log order, each exactly once.
func NewNode(cfg Config, tp Transport, applyCh chan ApplyMsg) *Node {
	if cfg.Timing.HeartbeatInterval == 0 {
		cfg.Timing = DefaultTimingConfig()
	}
	return &Node{
		id:          cfg.ID,
		peers:       newPeerSet(cfg.Peers),
		role:        Follower,
		timing:      cfg.Timing,
		timer:       newElectionTimer(cfg.Timing.ElectionTimeoutMin, cfg.Timing.ElectionTimeoutMax),
		tp:          tp,
		applyCh:     applyCh,
		applySignal: make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}
}

func (n *Node) Start() {
	logger.Info("node starting", "id", n.id, "peers", n.Peers())
	go n.timer.run()
	go n.electionLoop()
	go n.applyLoop()
}

func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		n.timer.Stop()
		close(n.stopCh)
	})
}

// ID returns the node's advertised address.
func (n *Node) ID() string { return n.id }

func (n *Node) GetState() (uint32, RoleKind) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.term.current, n.role
}

func (n *Node) IsLeader() bool {
	_, role := n.GetState()
	return role == Leader
}

// LeaderHint returns the last known leader address, possibly stale or empty.
func (n *Node) LeaderHint() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.leaderHint
}

func (n *Node) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Status{
		ID:          n.id,
		Role:        n.role.String(),
		Term:        n.term.current,
		CommitIndex: n.commitIndex,
		LastApplied: n.lastApplied,
		LastIndex:   n.log.lastIndex(),
		LeaderHint:  n.leaderHint,
		Peers:       n.peers.list(),
	}
}

// Submit appends a command on the leader and returns its assigned index. The
// append and the index assignment share the node's critical section, so two
// submissions can never race onto the same index. Replication rides the
// heartbeat cadence.
func (n *Node) Submit(command json.RawMessage) (uint32, error) {
	n.mu.Lock()
	if n.role != Leader {
		n.mu.Unlock()
		return 0, ErrNotLeader
	}
	index := n.log.append(n.term.current, command)
	term := n.term.current
	n.maybeAdvanceCommit() // a single-node cluster commits immediately
	n.mu.Unlock()

	logger.Info("accepted command", "index", index, "term", term)
	return index, nil
}

// AddPeer registers a newly discovered peer. A leader starts tracking the
// peer's replication cursors immediately.
func (n *Node) AddPeer(addr string) {
	if addr == n.id {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.peers.add(addr) {
		return
	}
	if n.role == Leader {
		n.leader.nextIndex[addr] = n.log.lastIndex() + 1
		n.leader.matchIndex[addr] = 0
	}
	logger.Info("peer added", "peer", addr, "cluster_size", n.peers.clusterSize())
}

// RemovePeer drops a peer from the membership table and from any role-state
// bookkeeping that references it.
func (n *Node) RemovePeer(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.peers.remove(addr) {
		return
	}
	switch n.role {
	case Leader:
		delete(n.leader.nextIndex, addr)
		delete(n.leader.matchIndex, addr)
	case Candidate:
		delete(n.candidate.votes, addr)
	}
	logger.Info("peer removed", "peer", addr, "cluster_size", n.peers.clusterSize())
}

func (n *Node) Peers() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.peers.list()
}

func (n *Node) electionLoop() {
	for {
		select {
		case <-n.timer.C():
			n.onElectionTimeout()
		case <-n.stopCh:
			return
		}
	}
}

// onElectionTimeout starts an election: bump the term, vote for self, and
// solicit the peers. A candidate that times out before resolution simply runs
// again at a higher term.
func (n *Node) onElectionTimeout() {
	n.mu.Lock()
	if n.role == Leader {
		n.mu.Unlock()
		return
	}
	n.term.current++
	n.term.votedFor = n.id
	n.role = Candidate
	n.candidate = &candidateState{votes: map[string]struct{}{n.id: {}}}
	n.leader = nil

	term := n.term.current
	req := RequestVote{
		Term:         term,
		CandidateID:  n.id,
		LastLogIndex: n.log.lastIndex(),
		LastLogTerm:  n.log.lastTerm(),
	}
	peers := n.peers.list()

	won := len(n.candidate.votes) >= n.peers.majority()
	if won {
		n.becomeLeader()
	}
	n.mu.Unlock()

	n.timer.Reset()
	if won {
		return
	}
	logger.Info("starting election", "term", term)
	for _, p := range peers {
		n.send(p, req)
	}
}

// becomeLeader transitions Candidate -> Leader, seeding the per-peer cursors.
// Caller holds n.mu.
func (n *Node) becomeLeader() {
	n.role = Leader
	n.candidate = nil
	n.leader = &leaderState{
		nextIndex:  make(map[string]uint32),
		matchIndex: make(map[string]uint32),
	}
	for _, p := range n.peers.list() {
		n.leader.nextIndex[p] = n.log.lastIndex() + 1
		n.leader.matchIndex[p] = 0
	}
	n.leaderHint = n.id
	logger.Info("became leader", "term", n.term.current)
	go n.heartbeatLoop(n.term.current)
}

// becomeFollower converts to Follower, adopting term if it is greater.
// Caller holds n.mu.
func (n *Node) becomeFollower(term uint32) {
	n.term.advanceTo(term)
	if n.role != Follower {
		logger.Info("became follower", "term", n.term.current)
	}
	n.role = Follower
	n.candidate = nil
	n.leader = nil
}

// heartbeatLoop drives replication while this node leads at term. It exits as
// soon as the node is no longer leader for that term.
func (n *Node) heartbeatLoop(term uint32) {
	ticker := time.NewTicker(n.timing.HeartbeatInterval)
	defer ticker.Stop()

	n.broadcastAppendEntries()
	for {
		select {
		case <-ticker.C:
			n.mu.Lock()
			live := n.role == Leader && n.term.current == term
			n.mu.Unlock()
			if !live {
				return
			}
			n.broadcastAppendEntries()
		case <-n.stopCh:
			return
		}
	}
}

// broadcastAppendEntries builds one AppendEntries per peer from its nextIndex
// cursor, then sends them outside the lock. An up-to-date peer gets an empty
// heartbeat.
func (n *Node) broadcastAppendEntries() {
	type outbound struct {
		peer string
		msg  AppendEntries
	}

	n.mu.Lock()
	if n.role != Leader {
		n.mu.Unlock()
		return
	}
	outs := make([]outbound, 0, n.peers.clusterSize()-1)
	for _, p := range n.peers.list() {
		next := n.leader.nextIndex[p]
		if next < 1 {
			next = 1
		}
		prevIndex := next - 1
		outs = append(outs, outbound{peer: p, msg: AppendEntries{
			Term:         n.term.current,
			LeaderID:     n.id,
			PrevLogIndex: prevIndex,
			PrevLogTerm:  n.log.termAt(prevIndex),
			Entries:      n.log.tail(next),
			LeaderCommit: n.commitIndex,
		}})
	}
	n.mu.Unlock()

	for _, o := range outs {
		n.send(o.peer, o.msg)
	}
}

// HandleMessage applies one inbound peer message. Every arm carries a
// stale-term guard, so duplicated, reordered, or superseded traffic is
// discarded rather than torn down.
func (n *Node) HandleMessage(from string, msg Message) {
	switch m := msg.(type) {
	case AppendEntries:
		n.handleAppendEntries(from, m)
	case AppendEntriesResponse:
		n.handleAppendEntriesResponse(from, m)
	case RequestVote:
		n.handleRequestVote(from, m)
	case RequestVoteResponse:
		n.handleRequestVoteResponse(from, m)
	default:
		logger.Warn("dropping unknown message", "from", from)
	}
}

func (n *Node) handleAppendEntries(from string, m AppendEntries) {
	n.mu.Lock()
	if m.Term < n.term.current {
		resp := AppendEntriesResponse{Term: n.term.current}
		n.mu.Unlock()
		n.send(from, resp)
		return
	}

	// Any append at or above our term asserts leadership: convert, adopt,
	// and push the election timeout back.
	n.becomeFollower(m.Term)
	n.leaderHint = m.LeaderID
	n.timer.Reset()

	resp := AppendEntriesResponse{Term: n.term.current}
	if n.log.consistencyCheck(m.PrevLogIndex, m.PrevLogTerm) {
		n.log.mergeFrom(m.Entries)
		matched := m.PrevLogIndex + uint32(len(m.Entries))
		if commit := min(m.LeaderCommit, matched); commit > n.commitIndex {
			n.commitIndex = commit
			n.signalApply()
		}
		resp.Success = true
		resp.MatchIndex = matched
	} else {
		logger.Debug("log inconsistency",
			"prev_index", m.PrevLogIndex,
			"prev_term", m.PrevLogTerm,
			"last_index", n.log.lastIndex())
	}
	n.mu.Unlock()

	n.send(from, resp)
}

func (n *Node) handleAppendEntriesResponse(from string, m AppendEntriesResponse) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if m.Term > n.term.current {
		n.becomeFollower(m.Term)
		return
	}
	if n.role != Leader || m.Term < n.term.current || !n.peers.contains(from) {
		return
	}
	if m.Success {
		if m.MatchIndex > n.leader.matchIndex[from] {
			n.leader.matchIndex[from] = m.MatchIndex
		}
		if m.MatchIndex+1 > n.leader.nextIndex[from] {
			n.leader.nextIndex[from] = m.MatchIndex + 1
		}
		n.maybeAdvanceCommit()
		return
	}
	// Log inconsistency: back the cursor off one entry and let the next
	// heartbeat retry from there.
	if n.leader.nextIndex[from] > 1 {
		n.leader.nextIndex[from]--
	}
}

func (n *Node) handleRequestVote(from string, m RequestVote) {
	n.mu.Lock()
	if m.Term > n.term.current {
		n.becomeFollower(m.Term)
	}
	resp := RequestVoteResponse{Term: n.term.current}
	if n.term.tryVote(m.CandidateID, m.Term, m.LastLogTerm, m.LastLogIndex, n.log.lastTerm(), n.log.lastIndex()) {
		resp.VoteGranted = true
		n.timer.Reset()
		logger.Info("granted vote", "to", m.CandidateID, "term", m.Term)
	}
	n.mu.Unlock()

	n.send(from, resp)
}

func (n *Node) handleRequestVoteResponse(from string, m RequestVoteResponse) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if m.Term > n.term.current {
		n.becomeFollower(m.Term)
		return
	}
	if n.role != Candidate || m.Term < n.term.current || !m.VoteGranted {
		return
	}
	if !n.peers.contains(from) {
		return
	}
	n.candidate.votes[from] = struct{}{}
	if len(n.candidate.votes) >= n.peers.majority() {
		logger.Info("won election", "term", n.term.current, "votes", len(n.candidate.votes))
		n.becomeLeader()
	}
}

// maybeAdvanceCommit recomputes the commit index from the replication
// cursors. Caller holds n.mu and must be leader.
func (n *Node) maybeAdvanceCommit() {
	if n.role != Leader {
		return
	}
	next := nextCommitIndex(
		n.commitIndex,
		n.log.lastIndex(),
		n.term.current,
		n.leader.matchIndex,
		n.peers.majority(),
		n.log.termAt,
	)
	if next > n.commitIndex {
		logger.Debug("commit index advanced", "from", n.commitIndex, "to", next)
		n.commitIndex = next
		n.signalApply()
	}
}

func (n *Node) signalApply() {
	select {
	case n.applySignal <- struct{}{}:
	default:
	}
}

// applyLoop hands committed entries to the applier in strictly increasing
// index order, each exactly once, never past the commit index.
func (n *Node) applyLoop() {
	for {
		select {
		case <-n.applySignal:
		case <-n.stopCh:
			return
		}
		for {
			n.mu.Lock()
			if n.lastApplied >= n.commitIndex {
				n.mu.Unlock()
				break
			}
			n.lastApplied++
			entry, ok := n.log.entryAt(n.lastApplied)
			n.mu.Unlock()
			if !ok {
				return
			}

			select {
			case n.applyCh <- ApplyMsg{Index: entry.Index, Term: entry.Term, Command: entry.Command}:
			case <-n.stopCh:
				return
			}
		}
	}
}

// send fires msg at peer without holding the node lock. Unreachable peers are
// logged and naturally retried on the next cycle.
func (n *Node) send(peer string, msg Message) {
	go func() {
		if err := n.tp.Send(peer, msg); err != nil {
			logger.Debug("send failed", "peer", peer, "err", err)
		}
	}()
}
