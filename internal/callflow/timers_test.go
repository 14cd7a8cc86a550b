package callflow

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTimerCancelBeatsFire(t *testing.T) {
	ts := newTimerSet()
	var fired atomic.Int32

	ts.Schedule("c1", timerQueue, time.Hour, func() { fired.Add(1) })
	if !ts.pending("c1", timerQueue) {
		t.Fatalf("timer not pending after schedule")
	}
	ts.Cancel("c1", timerQueue)
	if ts.pending("c1", timerQueue) {
		t.Fatalf("timer still pending after cancel")
	}
	if fired.Load() != 0 {
		t.Fatalf("cancelled timer fired")
	}
}

func TestTimerRescheduleReplaces(t *testing.T) {
	ts := newTimerSet()
	var first, second atomic.Int32

	ts.Schedule("c1", timerGather, time.Hour, func() { first.Add(1) })
	ts.Schedule("c1", timerGather, 10*time.Millisecond, func() { second.Add(1) })

	deadline := time.Now().Add(2 * time.Second)
	for second.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if second.Load() != 1 {
		t.Fatalf("replacement timer never fired")
	}
	if first.Load() != 0 {
		t.Fatalf("replaced timer fired")
	}
	if ts.pending("c1", timerGather) {
		t.Fatalf("fired timer still pending")
	}
}

func TestTimerCancelAllIsPerCall(t *testing.T) {
	ts := newTimerSet()
	var fired atomic.Int32

	ts.Schedule("c1", timerGather, time.Hour, func() { fired.Add(1) })
	ts.Schedule("c1", timerQueue, time.Hour, func() { fired.Add(1) })
	ts.Schedule("c2", timerQueue, time.Hour, func() { fired.Add(1) })

	ts.CancelAll("c1")
	if ts.pending("c1", timerGather) || ts.pending("c1", timerQueue) {
		t.Fatalf("c1 timers survived CancelAll")
	}
	if !ts.pending("c2", timerQueue) {
		t.Fatalf("c2 timer was cancelled by c1's CancelAll")
	}
}
