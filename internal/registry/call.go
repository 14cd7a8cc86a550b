package registry

import "time"

// State is the call-flow position of a session. Terminal states move the call
// from the active set into history.
type State string

const (
	StateNew          State = "new"
	StateLanguageMenu State = "language-menu"
	StateCaptcha      State = "captcha"
	StateQueued       State = "queued"
	StateRinging      State = "ringing"
	StateBridged      State = "bridged"
	StateVoicemail    State = "voicemail"

	StateCompleted State = "completed"
	StateMissed    State = "missed"
	StateRejected  State = "rejected"
)

// Terminal reports whether the state ends the active lifecycle.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateMissed, StateRejected:
		return true
	}
	return false
}

// Disposition is the historical outcome of a call.
type Disposition string

const (
	DispositionCompleted   Disposition = "completed"
	DispositionVoicemailed Disposition = "voicemailed"
	DispositionMissed      Disposition = "missed"
	DispositionRejected    Disposition = "rejected"
)

// QueueInfo exists only while the caller is on hold.
type QueueInfo struct {
	EnteredAt time.Time
	WaitPath  string
	ExitPath  string
}

// GatherPurpose says what a pending digit collection is for.
type GatherPurpose string

const (
	GatherLanguage GatherPurpose = "language"
	GatherCaptcha  GatherPurpose = "captcha"
)

// GatherInfo exists only while digits are being collected.
type GatherInfo struct {
	Purpose  GatherPurpose
	Expected int
	Deadline time.Time
}

// Call is one inbound call session. CallerNumber is held in clear only here,
// in memory, for the duration of routing; CallerHash is what persists.
//
// Invariant: at most one of Queue, Gather, non-empty RingingLegs, and BridgeID
// is set at a time. All writes go through the setter methods below, which
// clear the siblings.
type Call struct {
	ID           string
	CallerNumber string
	CallerHash   string
	Language     string
	State        State

	RingingLegs map[string]struct{}
	Queue       *QueueInfo
	Gather      *GatherInfo
	BridgeID    string

	RecordingRef string
	CaptchaCode  string
	VolunteerID  string

	StartedAt      time.Time
	AnsweredAt     time.Time
	StateChangedAt time.Time
}

func (c *Call) clearSubstates() {
	c.Queue = nil
	c.Gather = nil
	c.RingingLegs = nil
	c.BridgeID = ""
}

// EnterGather moves the call into a digit-collection substate.
func (c *Call) EnterGather(g GatherInfo) {
	c.clearSubstates()
	c.Gather = &g
}

// EnterQueue parks the call on hold.
func (c *Call) EnterQueue(q QueueInfo) {
	c.clearSubstates()
	c.Queue = &q
}

// EnterRinging replaces all substates with the given ringing leg set.
func (c *Call) EnterRinging(legIDs []string) {
	c.clearSubstates()
	c.RingingLegs = make(map[string]struct{}, len(legIDs))
	for _, id := range legIDs {
		c.RingingLegs[id] = struct{}{}
	}
}

// EnterBridge promotes the winning leg; ringing bookkeeping is dropped.
func (c *Call) EnterBridge(legID string) {
	c.clearSubstates()
	c.BridgeID = legID
}

// SubstateCount is the number of active substates; it must never exceed 1.
func (c *Call) SubstateCount() int {
	n := 0
	if c.Queue != nil {
		n++
	}
	if c.Gather != nil {
		n++
	}
	if len(c.RingingLegs) > 0 {
		n++
	}
	if c.BridgeID != "" {
		n++
	}
	return n
}
