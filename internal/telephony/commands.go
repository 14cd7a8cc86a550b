package telephony

import "time"

// Command is a protocol-neutral call-control instruction. Render serializes a
// command list into one provider response; the imperative side of the contract
// (Originate, CancelLegs, FetchRecording) lives on CallControl directly since
// those are REST calls rather than webhook response bodies.
type Command interface{ isCommand() }

// Speak plays a prompt to the caller. Adapters resolve (PromptKey, Language)
// through the prompt resolver and prefer a custom audio URL over synthesized
// speech when one exists. Text, when set, is spoken literally instead; it is
// how dynamic content like the CAPTCHA challenge reaches the caller.
type Speak struct {
	PromptKey string
	Language  string
	Text      string
}

// PlayAudio plays a literal audio URL, optionally looping.
type PlayAudio struct {
	URL  string
	Loop int // 0 means provider default (once)
}

// GatherDigits collects DTMF from the caller. The provider posts the result to
// ActionPath as a DigitsEntered event. PromptKey is spoken while gathering.
type GatherDigits struct {
	PromptKey  string
	Language   string
	Text       string // literal prompt, overrides PromptKey when set
	NumDigits  int
	Timeout    time.Duration
	ActionPath string
}

// Enqueue parks the caller in the hold queue. WaitPath is polled by the
// backend for hold-time content (QueueWaitTick); ExitPath receives the
// QueueExited event.
type Enqueue struct {
	Queue         string
	WaitPath      string
	ExitPath      string
	HoldPromptKey string
	Language      string
}

// HoldLoop keeps a queued caller on hold for another cycle. It is the
// response to a queue-wait tick: dialects that poll their wait URL render
// hold content, dialects that need an explicit loop append a redirect back to
// WaitPath.
type HoldLoop struct {
	HoldPromptKey string
	Language      string
	WaitPath      string
}

// LeaveQueue ejects the caller from the hold queue; the queue-exit callback
// then decides what happens next (typically voicemail).
type LeaveQueue struct{}

// Bridge merges the rendered leg with the caller leg.
type Bridge struct {
	Queue string // hold queue the caller is parked in
	LegID string // winning volunteer leg
}

// Record starts a recording. For voicemail this is rendered on the caller leg
// after the announcement; at bridge time it records both parties. DonePath
// receives the RecordingReady event.
type Record struct {
	PromptKey   string // spoken before recording starts; empty for none
	Language    string
	MaxDuration time.Duration
	DonePath    string
}

// Reject refuses the call without answering.
type Reject struct {
	Reason string // "rejected" or "busy"
}

// Hangup terminates the leg.
type Hangup struct{}

func (Speak) isCommand()        {}
func (PlayAudio) isCommand()    {}
func (GatherDigits) isCommand() {}
func (Enqueue) isCommand()      {}
func (HoldLoop) isCommand()     {}
func (LeaveQueue) isCommand()   {}
func (Bridge) isCommand()       {}
func (Record) isCommand()       {}
func (Reject) isCommand()       {}
func (Hangup) isCommand()       {}
