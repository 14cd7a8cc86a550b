package callflow

import (
	"sync"
	"time"
)

type timerKind string

const (
	timerGather timerKind = "gather"
	timerQueue  timerKind = "queue"
)

type timerKey struct {
	callID string
	kind   timerKind
}

// timerSet tracks one pending deadline per (call, kind). Scheduling replaces
// any pending timer for the same key; the triggering event cancels its timer
// the moment it arrives, so a fired callback always re-checks call state.
type timerSet struct {
	mu sync.Mutex
	m  map[timerKey]*time.Timer
}

func newTimerSet() *timerSet {
	return &timerSet{m: make(map[timerKey]*time.Timer)}
}

func (t *timerSet) Schedule(callID string, kind timerKind, d time.Duration, fn func()) {
	key := timerKey{callID, kind}
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.m[key]; ok {
		old.Stop()
	}
	t.m[key] = time.AfterFunc(d, func() {
		t.mu.Lock()
		delete(t.m, key)
		t.mu.Unlock()
		fn()
	})
}

func (t *timerSet) Cancel(callID string, kind timerKind) {
	key := timerKey{callID, kind}
	t.mu.Lock()
	if tm, ok := t.m[key]; ok {
		tm.Stop()
		delete(t.m, key)
	}
	t.mu.Unlock()
}

func (t *timerSet) CancelAll(callID string) {
	t.mu.Lock()
	for key, tm := range t.m {
		if key.callID == callID {
			tm.Stop()
			delete(t.m, key)
		}
	}
	t.mu.Unlock()
}

func (t *timerSet) pending(callID string, kind timerKind) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.m[timerKey{callID, kind}]
	return ok
}
