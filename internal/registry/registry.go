package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// RedactedNumber is the fixed placeholder shown in every pushed payload and
// every non-admin read. The registry is the single enforcement point for this
// redaction; callers never get to choose.
const RedactedNumber = "anonymous"

// Staleness thresholds for self-healing against missed terminal webhooks.
const (
	StaleRinging = 5 * time.Minute
	StaleBridged = 8 * time.Hour

	historyCap = 10000
)

var ErrNotFound = errors.New("registry: call not found")

// Pusher is a live connection that can receive state deltas. Implemented by
// the console package; the registry only ever sees this interface.
type Pusher interface {
	Send(msg any) error
}

// Archiver persists history entries out of process. Calls are best effort and
// made outside the registry lock.
type Archiver interface {
	Archive(ctx context.Context, e HistoryEntry) error
	SaveTranscript(ctx context.Context, callID, text string) error
}

// HistoryEntry is the persisted, redacted record of a finished call.
type HistoryEntry struct {
	CallID      string      `json:"call_id"`
	CallerHash  string      `json:"caller_hash"`
	Language    string      `json:"language"`
	Disposition Disposition `json:"disposition"`
	VolunteerID string      `json:"volunteer_id,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	AnsweredAt  time.Time   `json:"answered_at,omitempty"`
	EndedAt     time.Time   `json:"ended_at"`
	Transcript  string      `json:"transcript,omitempty"`
}

// CallView is the redacted projection served to clients.
type CallView struct {
	ID          string    `json:"id"`
	Caller      string    `json:"caller"`
	Language    string    `json:"language"`
	State       State     `json:"state"`
	VolunteerID string    `json:"volunteer_id,omitempty"`
	StartedAt   time.Time `json:"started_at"`
}

type conn struct {
	identity string
	pusher   Pusher
	onCall   bool
}

// Registry is the single source of truth for active call and volunteer
// connection state. All mutation is serialized through its lock; handler code
// never touches shared call state directly.
//
// One instance is constructed per process and passed by reference to the
// orchestrator and the ringing coordinator. There is no ambient lookup.
type Registry struct {
	log      *slog.Logger
	clock    func() time.Time
	archiver Archiver

	mu      sync.Mutex
	active  map[string]*Call
	history []HistoryEntry // newest first, capped
	conns   map[string]*conn
}

type Option func(*Registry)

func WithClock(clock func() time.Time) Option {
	return func(r *Registry) { r.clock = clock }
}

func WithArchiver(a Archiver) Option {
	return func(r *Registry) { r.archiver = a }
}

func New(log *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		log:    log,
		clock:  time.Now,
		active: make(map[string]*Call),
		conns:  make(map[string]*conn),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

/* ===================== CALL LIFECYCLE ===================== */

// AdmitIncoming registers a new active call. Admitting an id that is already
// active is a no-op (provider retry).
func (r *Registry) AdmitIncoming(c *Call) {
	r.mu.Lock()
	if _, ok := r.active[c.ID]; ok {
		r.mu.Unlock()
		return
	}
	now := r.clock()
	if c.StartedAt.IsZero() {
		c.StartedAt = now
	}
	c.StateChangedAt = now
	if c.State == "" {
		c.State = StateNew
	}
	r.active[c.ID] = c
	view := redact(c)
	r.mu.Unlock()

	r.push(pushMsg{Type: "call_incoming", Call: &view})
	r.pushPresence()
}

// Mutate runs fn against the call under the registry lock. This is the
// serialized entry point for all call-state writes. Returns ErrNotFound if
// the call already left the active set; callers treat that as an idempotent
// no-op, not corruption.
func (r *Registry) Mutate(id string, fn func(*Call)) error {
	r.mu.Lock()
	c, ok := r.active[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	fn(c)
	c.StateChangedAt = r.clock()
	r.mu.Unlock()
	return nil
}

// Get returns a copy of the active call.
// FindByBridgeLeg returns the active call whose settled winner is the given
// leg. Used to recognize redelivered answer webhooks for a leg that already
// won the race.
func (r *Registry) FindByBridgeLeg(legID string) (Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.active {
		if c.BridgeID == legID {
			return *c, true
		}
	}
	return Call{}, false
}

func (r *Registry) Get(id string) (Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.active[id]
	if !ok {
		return Call{}, false
	}
	return *c, true
}

// MarkAnswered promotes the winning leg and records the volunteer. Returns
// ErrNotFound for a call that already left the active set and false for a
// call that is already bridged (duplicate answered event).
func (r *Registry) MarkAnswered(id, volunteerID, legID string) (bool, error) {
	r.mu.Lock()
	c, ok := r.active[id]
	if !ok {
		r.mu.Unlock()
		return false, ErrNotFound
	}
	if c.BridgeID != "" {
		r.mu.Unlock()
		return false, nil
	}
	c.EnterBridge(legID)
	c.State = StateBridged
	c.VolunteerID = volunteerID
	c.AnsweredAt = r.clock()
	c.StateChangedAt = c.AnsweredAt
	if cn, ok := r.conns[volunteerID]; ok {
		cn.onCall = true
	}
	view := redact(c)
	r.mu.Unlock()

	r.push(pushMsg{Type: "call_answered", Call: &view})
	r.pushPresence()
	return true, nil
}

// MarkVoicemailed moves an active call into the voicemail state.
func (r *Registry) MarkVoicemailed(id string) error {
	r.mu.Lock()
	c, ok := r.active[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	c.clearSubstates()
	c.State = StateVoicemail
	c.StateChangedAt = r.clock()
	view := redact(c)
	r.mu.Unlock()

	r.push(pushMsg{Type: "call_voicemail", Call: &view})
	return nil
}

// MarkEnded retires the call to history with the given disposition.
func (r *Registry) MarkEnded(id string, d Disposition) error {
	r.mu.Lock()
	c, ok := r.active[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	entry := r.retireLocked(c, d)
	if cn, ok := r.conns[c.VolunteerID]; ok {
		cn.onCall = false
	}
	view := redact(c)
	r.mu.Unlock()

	r.push(pushMsg{Type: "call_ended", Call: &view, Disposition: string(d)})
	r.pushPresence()
	r.archive(entry)
	return nil
}

// retireLocked moves the call out of the active set. Caller holds the lock.
func (r *Registry) retireLocked(c *Call, d Disposition) HistoryEntry {
	delete(r.active, c.ID)
	c.clearSubstates()
	switch d {
	case DispositionMissed:
		c.State = StateMissed
	case DispositionRejected:
		c.State = StateRejected
	default:
		c.State = StateCompleted
	}
	entry := HistoryEntry{
		CallID:      c.ID,
		CallerHash:  c.CallerHash,
		Language:    c.Language,
		Disposition: d,
		VolunteerID: c.VolunteerID,
		StartedAt:   c.StartedAt,
		AnsweredAt:  c.AnsweredAt,
		EndedAt:     r.clock(),
	}
	r.history = append([]HistoryEntry{entry}, r.history...)
	if len(r.history) > historyCap {
		r.history = r.history[:historyCap]
	}
	return entry
}

// ListActive returns redacted views of the active set. Stale entries (ringing
// past StaleRinging, bridged past StaleBridged) are reclaimed as a side effect
// of the read and land in history as implicit completions.
func (r *Registry) ListActive() []CallView {
	now := r.clock()

	r.mu.Lock()
	var out []CallView
	var reclaimed []HistoryEntry
	for _, c := range r.active {
		age := now.Sub(c.StateChangedAt)
		stale := (c.State == StateRinging && age > StaleRinging) ||
			(c.State == StateBridged && age > StaleBridged)
		if stale {
			r.log.Info("stale call reclaimed", "call_id", c.ID, "state", c.State, "age", age)
			reclaimed = append(reclaimed, r.retireLocked(c, DispositionCompleted))
			continue
		}
		out = append(out, redact(c))
	}
	r.mu.Unlock()

	for _, e := range reclaimed {
		r.archive(e)
	}
	if len(reclaimed) > 0 {
		r.pushPresence()
	}
	return out
}

// History returns up to limit redacted history entries, newest first.
func (r *Registry) History(limit int) []HistoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > len(r.history) {
		limit = len(r.history)
	}
	out := make([]HistoryEntry, limit)
	copy(out, r.history[:limit])
	return out
}

// AttachTranscript records best-effort transcription output against history.
func (r *Registry) AttachTranscript(callID, text string) {
	r.mu.Lock()
	for i := range r.history {
		if r.history[i].CallID == callID {
			r.history[i].Transcript = text
			break
		}
	}
	r.mu.Unlock()

	if r.archiver != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.archiver.SaveTranscript(ctx, callID, text); err != nil {
			r.log.Warn("transcript archive failed", "call_id", callID, "err", err)
		}
	}
}

/* ===================== CONNECTIONS / PRESENCE ===================== */

// Connect registers a live volunteer connection. A second connection for the
// same identity replaces the first.
func (r *Registry) Connect(identity string, p Pusher) {
	r.mu.Lock()
	r.conns[identity] = &conn{identity: identity, pusher: p}
	r.mu.Unlock()
	r.pushPresence()
}

// Disconnect drops the connection if it is still the registered one.
func (r *Registry) Disconnect(identity string, p Pusher) {
	r.mu.Lock()
	if cn, ok := r.conns[identity]; ok && cn.pusher == p {
		delete(r.conns, identity)
	}
	r.mu.Unlock()
	r.pushPresence()
}

// SetOnCall updates a volunteer's own availability flag.
func (r *Registry) SetOnCall(identity string, onCall bool) {
	r.mu.Lock()
	if cn, ok := r.conns[identity]; ok {
		cn.onCall = onCall
	}
	r.mu.Unlock()
	r.pushPresence()
}

// ConnectedIdentities lists volunteers with a live connection and not on a
// call, for ringing candidate filtering.
func (r *Registry) ConnectedIdentities() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bool, len(r.conns))
	for id, cn := range r.conns {
		out[id] = !cn.onCall
	}
	return out
}

/* ===================== PUSH ===================== */

type pushMsg struct {
	Type        string    `json:"type"`
	Call        *CallView `json:"call,omitempty"`
	Disposition string    `json:"disposition,omitempty"`

	// Presence is counts only; identities are never pushed.
	Available int `json:"available,omitempty"`
	OnCall    int `json:"on_call,omitempty"`
	Total     int `json:"total,omitempty"`
}

func (r *Registry) push(msg pushMsg) {
	r.mu.Lock()
	targets := make([]*conn, 0, len(r.conns))
	for _, cn := range r.conns {
		targets = append(targets, cn)
	}
	r.mu.Unlock()

	for _, cn := range targets {
		if err := cn.pusher.Send(msg); err != nil {
			r.log.Debug("push failed", "identity", cn.identity, "err", err)
		}
	}
}

func (r *Registry) pushPresence() {
	r.mu.Lock()
	total := len(r.conns)
	onCall := 0
	for _, cn := range r.conns {
		if cn.onCall {
			onCall++
		}
	}
	r.mu.Unlock()

	r.push(pushMsg{Type: "presence", Available: total - onCall, OnCall: onCall, Total: total})
}

func (r *Registry) archive(e HistoryEntry) {
	if r.archiver == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.archiver.Archive(ctx, e); err != nil {
			r.log.Warn("history archive failed", "call_id", e.CallID, "err", err)
		}
	}()
}

// redact builds the client-facing view. The caller number is always the fixed
// placeholder, never the real or hashed value.
func redact(c *Call) CallView {
	return CallView{
		ID:          c.ID,
		Caller:      RedactedNumber,
		Language:    c.Language,
		State:       c.State,
		VolunteerID: c.VolunteerID,
		StartedAt:   c.StartedAt,
	}
}
