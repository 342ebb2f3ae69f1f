package directory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concord/internal/raft"
)

// nopTransport drops everything; a single-node cluster never sends.
type nopTransport struct{}

func (nopTransport) Send(string, raft.Message) error { return nil }

func newSingleNodeStore(t *testing.T) (*Store, *raft.Node) {
	t.Helper()
	applyCh := make(chan raft.ApplyMsg, 64)
	node := raft.NewNode(raft.Config{
		ID: "10.0.0.1:8090",
		Timing: raft.TimingConfig{
			ElectionTimeoutMin: 20 * time.Millisecond,
			ElectionTimeoutMax: 40 * time.Millisecond,
			HeartbeatInterval:  10 * time.Millisecond,
		},
	}, nopTransport{}, applyCh)
	store := NewStore(node, applyCh)
	node.Start()
	t.Cleanup(node.Stop)

	require.Eventually(t, node.IsLeader, 2*time.Second, 5*time.Millisecond,
		"single node must elect itself")
	return store, node
}

func TestCreateUserAssignsSequentialIDs(t *testing.T) {
	store, _ := newSingleNodeStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	alice, err := store.CreateUser(ctx, "alice", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, User{ID: 1, Name: "alice", Email: "alice@example.com"}, alice)

	bob, err := store.CreateUser(ctx, "bob", "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), bob.ID)
}

func TestGetUser(t *testing.T) {
	store, _ := newSingleNodeStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	created, err := store.CreateUser(ctx, "alice", "alice@example.com")
	require.NoError(t, err)

	got, ok := store.GetUser(created.ID)
	assert.True(t, ok)
	assert.Equal(t, created, got)

	_, ok = store.GetUser(99)
	assert.False(t, ok)
}

func TestListUsersOrderedByID(t *testing.T) {
	store, _ := newSingleNodeStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, name := range []string{"carol", "alice", "bob"} {
		_, err := store.CreateUser(ctx, name, name+"@example.com")
		require.NoError(t, err)
	}

	users := store.ListUsers()
	require.Len(t, users, 3)
	assert.Equal(t, []uint32{1, 2, 3}, []uint32{users[0].ID, users[1].ID, users[2].ID})
	assert.Equal(t, "carol", users[0].Name, "ids follow submission order, not name order")
}

func TestCreateUserOnFollowerFails(t *testing.T) {
	applyCh := make(chan raft.ApplyMsg, 1)
	// Never started: the node stays a follower.
	node := raft.NewNode(raft.Config{ID: "10.0.0.1:8090", Peers: []string{"10.0.0.2:8090"}}, nopTransport{}, applyCh)
	store := NewStore(node, applyCh)

	_, err := store.CreateUser(context.Background(), "alice", "alice@example.com")
	assert.ErrorIs(t, err, raft.ErrNotLeader)
}

func TestApplyIgnoresUnknownOps(t *testing.T) {
	store, node := newSingleNodeStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// An unknown op commits in the log but must not touch the user table or
	// the id allocator.
	_, err := node.Submit([]byte(`{"op":"no_such_op"}`))
	require.NoError(t, err)

	user, err := store.CreateUser(ctx, "alice", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), user.ID)
	assert.Len(t, store.ListUsers(), 1)
}
