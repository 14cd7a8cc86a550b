package registry

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePusher struct {
	mu   sync.Mutex
	msgs []any
}

func (p *fakePusher) Send(msg any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *fakePusher) messages() []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]any, len(p.msgs))
	copy(out, p.msgs)
	return out
}

func (p *fakePusher) ofType(typ string) []pushMsg {
	var out []pushMsg
	for _, m := range p.messages() {
		if pm, ok := m.(pushMsg); ok && pm.Type == typ {
			out = append(out, pm)
		}
	}
	return out
}

type fakeArchiver struct {
	mu          sync.Mutex
	entries     []HistoryEntry
	transcripts map[string]string
}

func newFakeArchiver() *fakeArchiver {
	return &fakeArchiver{transcripts: make(map[string]string)}
}

func (a *fakeArchiver) Archive(_ context.Context, e HistoryEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

func (a *fakeArchiver) SaveTranscript(_ context.Context, callID, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transcripts[callID] = text
	return nil
}

func (a *fakeArchiver) archived() []HistoryEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]HistoryEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(testLog(), opts...), clock
}

func admit(r *Registry, id string) {
	r.AdmitIncoming(&Call{
		ID:           id,
		CallerNumber: "+4917012345678",
		CallerHash:   "hash-" + id,
		Language:     "de",
	})
}

func TestPushedPayloadsNeverCarryCallerNumber(t *testing.T) {
	r, _ := newTestRegistry(t)
	p := &fakePusher{}
	r.Connect("alice", p)

	admit(r, "c1")

	incoming := p.ofType("call_incoming")
	if len(incoming) != 1 {
		t.Fatalf("call_incoming pushes = %d, want 1", len(incoming))
	}
	if incoming[0].Call.Caller != RedactedNumber {
		t.Fatalf("caller = %q, want %q", incoming[0].Call.Caller, RedactedNumber)
	}

	raw, err := json.Marshal(incoming[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(raw), "4917012345678") {
		t.Fatalf("caller number leaked into push payload: %s", raw)
	}

	for _, v := range r.ListActive() {
		if v.Caller != RedactedNumber {
			t.Fatalf("ListActive caller = %q", v.Caller)
		}
	}
}

func TestAdmitIncomingIsIdempotent(t *testing.T) {
	r, _ := newTestRegistry(t)
	p := &fakePusher{}
	r.Connect("alice", p)

	admit(r, "c1")
	admit(r, "c1")

	if got := len(p.ofType("call_incoming")); got != 1 {
		t.Fatalf("duplicate admit pushed %d times", got)
	}
	if got := len(r.ListActive()); got != 1 {
		t.Fatalf("active calls = %d, want 1", got)
	}
}

func TestMarkAnsweredSettlesTheRace(t *testing.T) {
	r, _ := newTestRegistry(t)
	admit(r, "c1")

	won, err := r.MarkAnswered("c1", "alice", "leg-1")
	if err != nil || !won {
		t.Fatalf("first answer: won=%v err=%v", won, err)
	}
	won, err = r.MarkAnswered("c1", "bob", "leg-2")
	if err != nil || won {
		t.Fatalf("duplicate answer: won=%v err=%v, want lost without error", won, err)
	}
	if _, err := r.MarkAnswered("ghost", "alice", "leg-9"); err != ErrNotFound {
		t.Fatalf("unknown call: want ErrNotFound, got %v", err)
	}

	c, ok := r.Get("c1")
	if !ok || c.VolunteerID != "alice" || c.BridgeID != "leg-1" {
		t.Fatalf("winner not recorded: %+v", c)
	}
}

func TestFindByBridgeLeg(t *testing.T) {
	r, _ := newTestRegistry(t)
	admit(r, "c1")
	if _, err := r.MarkAnswered("c1", "alice", "leg-1"); err != nil {
		t.Fatalf("answer: %v", err)
	}

	call, ok := r.FindByBridgeLeg("leg-1")
	if !ok || call.ID != "c1" || call.VolunteerID != "alice" {
		t.Fatalf("lookup by winning leg failed: %+v ok=%v", call, ok)
	}
	if _, ok := r.FindByBridgeLeg("leg-2"); ok {
		t.Fatal("unknown leg resolved to a call")
	}
}

func TestMarkEndedRetiresAndArchives(t *testing.T) {
	arch := newFakeArchiver()
	r, _ := newTestRegistry(t, WithArchiver(arch))
	admit(r, "c1")

	if err := r.MarkEnded("c1", DispositionMissed); err != nil {
		t.Fatalf("mark ended: %v", err)
	}
	if err := r.MarkEnded("c1", DispositionMissed); err != ErrNotFound {
		t.Fatalf("second end: want ErrNotFound, got %v", err)
	}

	hist := r.History(0)
	if len(hist) != 1 || hist[0].Disposition != DispositionMissed {
		t.Fatalf("history = %+v", hist)
	}
	if hist[0].CallerHash != "hash-c1" {
		t.Fatalf("history keeps the hash, got %q", hist[0].CallerHash)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(arch.archived()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("archive never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestListActiveReclaimsStaleCalls(t *testing.T) {
	r, clock := newTestRegistry(t)
	admit(r, "stuck")
	if err := r.Mutate("stuck", func(c *Call) { c.State = StateRinging }); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	admit(r, "fresh")

	clock.Advance(StaleRinging + time.Minute)
	if err := r.Mutate("fresh", func(c *Call) {}); err != nil {
		t.Fatalf("touch fresh: %v", err)
	}

	views := r.ListActive()
	if len(views) != 1 || views[0].ID != "fresh" {
		t.Fatalf("stale call not reclaimed: %+v", views)
	}
	hist := r.History(0)
	if len(hist) != 1 || hist[0].CallID != "stuck" {
		t.Fatalf("reclaimed call missing from history: %+v", hist)
	}
}

func TestHistoryNewestFirstWithLimit(t *testing.T) {
	r, _ := newTestRegistry(t)
	for _, id := range []string{"a", "b", "c"} {
		admit(r, id)
		if err := r.MarkEnded(id, DispositionCompleted); err != nil {
			t.Fatalf("end %s: %v", id, err)
		}
	}

	hist := r.History(2)
	if len(hist) != 2 || hist[0].CallID != "c" || hist[1].CallID != "b" {
		t.Fatalf("history order wrong: %+v", hist)
	}
}

func TestPresencePushesCountsOnly(t *testing.T) {
	r, _ := newTestRegistry(t)
	alice := &fakePusher{}
	bob := &fakePusher{}
	r.Connect("alice", alice)
	r.Connect("bob", bob)
	r.SetOnCall("bob", true)

	presence := alice.ofType("presence")
	if len(presence) == 0 {
		t.Fatal("no presence push")
	}
	last := presence[len(presence)-1]
	if last.Total != 2 || last.OnCall != 1 || last.Available != 1 {
		t.Fatalf("presence counts = %+v", last)
	}

	raw, err := json.Marshal(last)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(raw), "bob") {
		t.Fatalf("presence leaked an identity: %s", raw)
	}
}

func TestDisconnectIgnoresReplacedConnection(t *testing.T) {
	r, _ := newTestRegistry(t)
	old := &fakePusher{}
	replacement := &fakePusher{}
	r.Connect("alice", old)
	r.Connect("alice", replacement)

	r.Disconnect("alice", old)

	ids := r.ConnectedIdentities()
	if avail, ok := ids["alice"]; !ok || !avail {
		t.Fatalf("replacement connection dropped: %v", ids)
	}
}

func TestAttachTranscriptReachesHistoryAndArchiver(t *testing.T) {
	arch := newFakeArchiver()
	r, _ := newTestRegistry(t, WithArchiver(arch))
	admit(r, "c1")
	if err := r.MarkEnded("c1", DispositionVoicemailed); err != nil {
		t.Fatalf("end: %v", err)
	}

	r.AttachTranscript("c1", "please call me back")

	hist := r.History(0)
	if hist[0].Transcript != "please call me back" {
		t.Fatalf("transcript not in history: %+v", hist[0])
	}
	arch.mu.Lock()
	got := arch.transcripts["c1"]
	arch.mu.Unlock()
	if got != "please call me back" {
		t.Fatalf("transcript not archived: %q", got)
	}
}
