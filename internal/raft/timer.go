package raft

import (
	"crypto/rand"
	"math/big"
	"time"
)

// electionTimer arms a fresh uniformly random timeout on every cycle and
// fires at most one pending signal. Resetting postpones the next fire; the
// role machine consumes each signal exactly once.
type electionTimer struct {
	min, max time.Duration

	fire  chan struct{}
	reset chan struct{}
	stop  chan struct{}
}

func newElectionTimer(min, max time.Duration) *electionTimer {
	return &electionTimer{
		min:   min,
		max:   max,
		fire:  make(chan struct{}, 1),
		reset: make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}
}

// C delivers timeout signals.
func (t *electionTimer) C() <-chan struct{} { return t.fire }

// Reset rearms the timer with a new random duration. Safe from any goroutine,
// never blocks.
func (t *electionTimer) Reset() {
	select {
	case t.reset <- struct{}{}:
	default:
	}
}

func (t *electionTimer) Stop() { close(t.stop) }

func (t *electionTimer) run() {
	for {
		select {
		case <-time.After(t.randomTimeout()):
			select {
			case t.fire <- struct{}{}:
			default:
			}
		case <-t.reset:
		case <-t.stop:
			return
		}
	}
}

func (t *electionTimer) randomTimeout() time.Duration {
	n, _ := rand.Int(rand.Reader, big.NewInt(int64(t.max-t.min)))
	return t.min + time.Duration(n.Int64())
}
