package raft

import (
	"encoding/json"
	"fmt"
)

// Wire message kinds.
const (
	msgAppendEntries         = "append_entries"
	msgAppendEntriesResponse = "append_entries_response"
	msgRequestVote           = "request_vote"
	msgRequestVoteResponse   = "request_vote_response"
)

// Message is one of the four consensus message shapes.
type Message interface {
	kind() string
}

// AppendEntries replicates log entries and doubles as the leader heartbeat.
type AppendEntries struct {
	Term         uint32     `json:"term"`
	LeaderID     string     `json:"leader_id"`
	PrevLogIndex uint32     `json:"prev_log_index"`
	PrevLogTerm  uint32     `json:"prev_log_term"`
	Entries      []LogEntry `json:"entries,omitempty"`
	LeaderCommit uint32     `json:"leader_commit"`
}

// AppendEntriesResponse acknowledges replication up to MatchIndex on success.
type AppendEntriesResponse struct {
	Term       uint32 `json:"term"`
	Success    bool   `json:"success"`
	MatchIndex uint32 `json:"match_index,omitempty"`
}

// RequestVote solicits a vote for CandidateID at Term.
type RequestVote struct {
	Term         uint32 `json:"term"`
	CandidateID  string `json:"candidate_id"`
	LastLogIndex uint32 `json:"last_log_index"`
	LastLogTerm  uint32 `json:"last_log_term"`
}

type RequestVoteResponse struct {
	Term        uint32 `json:"term"`
	VoteGranted bool   `json:"vote_granted"`
}

func (AppendEntries) kind() string         { return msgAppendEntries }
func (AppendEntriesResponse) kind() string { return msgAppendEntriesResponse }
func (RequestVote) kind() string           { return msgRequestVote }
func (RequestVoteResponse) kind() string   { return msgRequestVoteResponse }

// Transport delivers a typed message to one peer. Sends are fire-and-forget:
// a failed send is logged by the caller and retried on the next heartbeat or
// election cycle. Inbound messages from any peer are handed to
// Node.HandleMessage by the transport owner.
type Transport interface {
	Send(peer string, msg Message) error
}

// Envelope frames a message as structured text for the wire. From carries the
// sender's advertised address so replies can be routed back.
type Envelope struct {
	Type    string          `json:"type"`
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeMessage frames msg for the wire.
func EncodeMessage(from string, msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: msg.kind(), From: from, Payload: payload})
}

// DecodeMessage unframes a wire message. Anything that does not parse as one
// of the four known shapes is an error; callers drop such input.
func DecodeMessage(data []byte) (string, Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, err
	}
	if env.From == "" {
		return "", nil, fmt.Errorf("message without sender")
	}
	switch env.Type {
	case msgAppendEntries:
		var m AppendEntries
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return "", nil, err
		}
		return env.From, m, nil
	case msgAppendEntriesResponse:
		var m AppendEntriesResponse
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return "", nil, err
		}
		return env.From, m, nil
	case msgRequestVote:
		var m RequestVote
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return "", nil, err
		}
		return env.From, m, nil
	case msgRequestVoteResponse:
		var m RequestVoteResponse
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return "", nil, err
		}
		return env.From, m, nil
	default:
		return "", nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}
