package raft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimerFiresWithinRange(t *testing.T) {
	timer := newElectionTimer(20*time.Millisecond, 40*time.Millisecond)
	go timer.run()
	defer timer.Stop()

	select {
	case <-timer.C():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timer never fired")
	}
}

func TestTimerResetPostponesFire(t *testing.T) {
	timer := newElectionTimer(50*time.Millisecond, 80*time.Millisecond)
	go timer.run()
	defer timer.Stop()

	// Reset well under the timeout floor; the timer must stay quiet.
	for i := 0; i < 20; i++ {
		timer.Reset()
		time.Sleep(10 * time.Millisecond)
	}
	select {
	case <-timer.C():
		t.Fatal("timer fired despite steady resets")
	default:
	}

	// Left alone it fires.
	select {
	case <-timer.C():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timer never fired after resets stopped")
	}
}

func TestTimerAtMostOnePendingSignal(t *testing.T) {
	timer := newElectionTimer(10*time.Millisecond, 20*time.Millisecond)
	go timer.run()
	defer timer.Stop()

	// Let it elapse several times without consuming.
	time.Sleep(150 * time.Millisecond)
	assert.Len(t, timer.fire, 1)

	<-timer.C()
	select {
	case <-timer.C():
		t.Fatal("second signal was pending")
	default:
	}
}
