// Package directory holds the replicated application state: users keyed by
// id plus the id allocator. It is mutated only by applying committed log
// commands, never directly by client requests.
package directory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"concord/internal/raft"
	"concord/pkg/logger"
)

// OpAddUser is the only command kind carried by the log so far.
const OpAddUser = "add_user"

// Command is the opaque operation a log entry carries, decoded only here.
type Command struct {
	Op    string `json:"op"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type User struct {
	ID    uint32 `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Store applies committed commands to the user table. Ids are assigned by the
// applier in log order, so every replica allocates the same id for the same
// entry.
type Store struct {
	mu     sync.RWMutex
	users  map[uint32]User
	nextID uint32

	node *raft.Node

	// pendingMu also fences CreateUser's submit-then-register window: the
	// applier needs it to deliver, so it cannot race past a registration.
	pendingMu sync.Mutex
	pending   map[uint32]chan User // log index -> applied user
}

func NewStore(node *raft.Node, applyCh <-chan raft.ApplyMsg) *Store {
	s := &Store{
		users:   make(map[uint32]User),
		nextID:  1,
		node:    node,
		pending: make(map[uint32]chan User),
	}
	go s.applyLoop(applyCh)
	return s
}

func (s *Store) applyLoop(applyCh <-chan raft.ApplyMsg) {
	for msg := range applyCh {
		var cmd Command
		if err := json.Unmarshal(msg.Command, &cmd); err != nil {
			logger.Error("dropping unreadable command", "index", msg.Index, "err", err)
			continue
		}
		user, ok := s.apply(cmd)
		if !ok {
			logger.Error("dropping unknown command", "index", msg.Index, "op", cmd.Op)
			continue
		}
		logger.Info("applied command", "index", msg.Index, "op", cmd.Op, "id", user.ID)

		s.pendingMu.Lock()
		if ch, waiting := s.pending[msg.Index]; waiting {
			ch <- user
			delete(s.pending, msg.Index)
		}
		s.pendingMu.Unlock()
	}
}

func (s *Store) apply(cmd Command) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch cmd.Op {
	case OpAddUser:
		user := User{ID: s.nextID, Name: cmd.Name, Email: cmd.Email}
		s.users[user.ID] = user
		s.nextID++
		return user, true
	default:
		return User{}, false
	}
}

// CreateUser submits an add-user command and waits until the entry commits
// and applies. Returns raft.ErrNotLeader when this node cannot accept writes.
func (s *Store) CreateUser(ctx context.Context, name, email string) (User, error) {
	data, err := json.Marshal(Command{Op: OpAddUser, Name: name, Email: email})
	if err != nil {
		return User{}, err
	}

	// Hold pendingMu across the submit so the applier cannot deliver this
	// index before the channel is registered.
	s.pendingMu.Lock()
	index, err := s.node.Submit(data)
	if err != nil {
		s.pendingMu.Unlock()
		return User{}, err
	}
	ch := make(chan User, 1)
	s.pending[index] = ch
	s.pendingMu.Unlock()

	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, index)
		s.pendingMu.Unlock()
	}()

	select {
	case user := <-ch:
		return user, nil
	case <-ctx.Done():
		return User{}, ctx.Err()
	}
}

// GetUser reads the locally applied state.
func (s *Store) GetUser(id uint32) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	return user, ok
}

// ListUsers returns all locally applied users ordered by id.
func (s *Store) ListUsers() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
