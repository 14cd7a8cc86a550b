package telephony

import "time"

// Event is the protocol-neutral representation of something a backend told us
// about a call. Adapters map provider webhooks (or PBX events) into one of
// these; the orchestrator consumes them without ever seeing provider field
// names.
//
// The set is closed on purpose: a new event kind is a compile-time change in
// every switch that consumes events.
type Event interface {
	isEvent()
	Call() string
}

// IncomingCall is the first event seen for a new caller leg.
type IncomingCall struct {
	CallID     string
	From       string // E.164 where possible; held in clear only in memory
	To         string
	OccurredAt time.Time
}

// DigitsEntered carries the result of a digit gather. An empty Digits string
// is a valid result (gather timed out with nothing pressed), not an error.
type DigitsEntered struct {
	CallID string
	Digits string
}

// LegState is the lifecycle position of a single leg.
type LegState string

const (
	LegRinging  LegState = "ringing"
	LegAnswered LegState = "answered"
	LegBusy     LegState = "busy"
	LegNoAnswer LegState = "no-answer"
	LegFailed   LegState = "failed"
	LegHungUp   LegState = "hung-up"
)

// Terminal reports whether the leg is gone.
func (s LegState) Terminal() bool {
	switch s {
	case LegBusy, LegNoAnswer, LegFailed, LegHungUp:
		return true
	}
	return false
}

// LegStateChanged reports a status change on a leg. For outbound volunteer
// legs CallID may be empty on the wire; the ringing coordinator resolves the
// parent call through its leg index.
type LegStateChanged struct {
	CallID string
	LegID  string
	State  LegState
}

// RecordingReady announces that a recording finished and can be fetched.
type RecordingReady struct {
	CallID       string
	RecordingRef string
	Duration     time.Duration
}

// QueueWaitTick fires periodically while the caller sits in the hold queue.
// Waited is the time spent queued so far, as reported by the backend.
type QueueWaitTick struct {
	CallID string
	Waited time.Duration
}

// QueueExitReason says why the caller left the hold queue.
type QueueExitReason string

const (
	QueueExitHangup   QueueExitReason = "hangup"
	QueueExitDequeued QueueExitReason = "dequeued"
	QueueExitLeave    QueueExitReason = "leave"
	QueueExitError    QueueExitReason = "error"
)

// QueueExited reports that the caller left the hold queue.
type QueueExited struct {
	CallID string
	Reason QueueExitReason
}

func (IncomingCall) isEvent()    {}
func (DigitsEntered) isEvent()   {}
func (LegStateChanged) isEvent() {}
func (RecordingReady) isEvent()  {}
func (QueueWaitTick) isEvent()   {}
func (QueueExited) isEvent()     {}

func (e IncomingCall) Call() string    { return e.CallID }
func (e DigitsEntered) Call() string   { return e.CallID }
func (e LegStateChanged) Call() string { return e.CallID }
func (e RecordingReady) Call() string  { return e.CallID }
func (e QueueWaitTick) Call() string   { return e.CallID }
func (e QueueExited) Call() string     { return e.CallID }
