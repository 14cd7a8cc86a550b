package telephony

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire format for the PBX bridge side channel. The bridge process posts
// canonical events to us as signed JSON and executes the canonical commands
// it reads back from the response body; origination and cancellation travel
// the other way over the bridge's own REST API. Both processes share these
// types, so the encoding lives here rather than in the bridge package.

const (
	BridgeSignatureHeader = "X-Bridge-Signature"
	BridgeTimestampHeader = "X-Bridge-Timestamp"
)

type WireEvent struct {
	Kind          string    `json:"kind"`
	CallID        string    `json:"call_id"`
	From          string    `json:"from,omitempty"`
	To            string    `json:"to,omitempty"`
	LegID         string    `json:"leg_id,omitempty"`
	State         string    `json:"state,omitempty"`
	Digits        string    `json:"digits"`
	RecordingRef  string    `json:"recording_ref,omitempty"`
	WaitedSeconds int       `json:"waited_seconds,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at,omitempty"`
}

// EncodeEvent flattens a canonical event for the wire.
func EncodeEvent(ev Event) WireEvent {
	switch e := ev.(type) {
	case IncomingCall:
		return WireEvent{Kind: "incoming", CallID: e.CallID, From: e.From, To: e.To, OccurredAt: e.OccurredAt}
	case DigitsEntered:
		return WireEvent{Kind: "digits", CallID: e.CallID, Digits: e.Digits}
	case LegStateChanged:
		return WireEvent{Kind: "leg-status", CallID: e.CallID, LegID: e.LegID, State: string(e.State)}
	case RecordingReady:
		return WireEvent{Kind: "recording", CallID: e.CallID, RecordingRef: e.RecordingRef, WaitedSeconds: int(e.Duration.Seconds())}
	case QueueWaitTick:
		return WireEvent{Kind: "queue-wait", CallID: e.CallID, WaitedSeconds: int(e.Waited.Seconds())}
	case QueueExited:
		return WireEvent{Kind: "queue-exit", CallID: e.CallID, Reason: string(e.Reason)}
	}
	return WireEvent{}
}

// DecodeEvent is the inverse of EncodeEvent.
func (w WireEvent) DecodeEvent() (Event, error) {
	if w.CallID == "" {
		return nil, ErrMalformedWebhook
	}
	switch w.Kind {
	case "incoming":
		if w.From == "" || w.To == "" {
			return nil, ErrMalformedWebhook
		}
		at := w.OccurredAt
		if at.IsZero() {
			at = time.Now().UTC()
		}
		return IncomingCall{CallID: w.CallID, From: w.From, To: w.To, OccurredAt: at}, nil
	case "digits":
		return DigitsEntered{CallID: w.CallID, Digits: w.Digits}, nil
	case "leg-status":
		if w.LegID == "" {
			return nil, ErrMalformedWebhook
		}
		return LegStateChanged{CallID: w.CallID, LegID: w.LegID, State: LegState(w.State)}, nil
	case "recording":
		if w.RecordingRef == "" {
			return nil, ErrMalformedWebhook
		}
		return RecordingReady{CallID: w.CallID, RecordingRef: w.RecordingRef, Duration: time.Duration(w.WaitedSeconds) * time.Second}, nil
	case "queue-wait":
		return QueueWaitTick{CallID: w.CallID, Waited: time.Duration(w.WaitedSeconds) * time.Second}, nil
	case "queue-exit":
		return QueueExited{CallID: w.CallID, Reason: QueueExitReason(w.Reason)}, nil
	}
	return nil, ErrMalformedWebhook
}

type WireCommand struct {
	Kind           string `json:"kind"`
	PromptKey      string `json:"prompt_key,omitempty"`
	Language       string `json:"language,omitempty"`
	Text           string `json:"text,omitempty"`
	URL            string `json:"url,omitempty"`
	Loop           int    `json:"loop,omitempty"`
	NumDigits      int    `json:"num_digits,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	ActionPath     string `json:"action_path,omitempty"`
	Queue          string `json:"queue,omitempty"`
	WaitPath       string `json:"wait_path,omitempty"`
	ExitPath       string `json:"exit_path,omitempty"`
	HoldPromptKey  string `json:"hold_prompt_key,omitempty"`
	LegID          string `json:"leg_id,omitempty"`
	MaxSeconds     int    `json:"max_seconds,omitempty"`
	DonePath       string `json:"done_path,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// WireCommandList is the body the bridge reads back from a webhook response.
type WireCommandList struct {
	Commands []WireCommand `json:"commands"`
}

func EncodeCommands(cmds []Command) ([]byte, error) {
	out := WireCommandList{Commands: make([]WireCommand, 0, len(cmds))}
	for _, cmd := range cmds {
		switch c := cmd.(type) {
		case Speak:
			out.Commands = append(out.Commands, WireCommand{Kind: "speak", PromptKey: c.PromptKey, Language: c.Language, Text: c.Text})
		case PlayAudio:
			out.Commands = append(out.Commands, WireCommand{Kind: "play", URL: c.URL, Loop: c.Loop})
		case GatherDigits:
			out.Commands = append(out.Commands, WireCommand{
				Kind: "gather", PromptKey: c.PromptKey, Language: c.Language, Text: c.Text,
				NumDigits: c.NumDigits, TimeoutSeconds: int(c.Timeout.Seconds()), ActionPath: c.ActionPath,
			})
		case Enqueue:
			out.Commands = append(out.Commands, WireCommand{
				Kind: "enqueue", Queue: c.Queue, WaitPath: c.WaitPath, ExitPath: c.ExitPath,
				HoldPromptKey: c.HoldPromptKey, Language: c.Language,
			})
		case HoldLoop:
			out.Commands = append(out.Commands, WireCommand{Kind: "hold", HoldPromptKey: c.HoldPromptKey, Language: c.Language, WaitPath: c.WaitPath})
		case LeaveQueue:
			out.Commands = append(out.Commands, WireCommand{Kind: "leave"})
		case Bridge:
			out.Commands = append(out.Commands, WireCommand{Kind: "bridge", Queue: c.Queue, LegID: c.LegID})
		case Record:
			out.Commands = append(out.Commands, WireCommand{
				Kind: "record", PromptKey: c.PromptKey, Language: c.Language,
				MaxSeconds: int(c.MaxDuration.Seconds()), DonePath: c.DonePath,
			})
		case Reject:
			out.Commands = append(out.Commands, WireCommand{Kind: "reject", Reason: c.Reason})
		case Hangup:
			out.Commands = append(out.Commands, WireCommand{Kind: "hangup"})
		default:
			return nil, fmt.Errorf("telephony: bridge wire cannot encode %T", cmd)
		}
	}
	return json.Marshal(out)
}

// DecodeCommands is used by the bridge process to read a response body.
func DecodeCommands(body []byte) ([]Command, error) {
	var in WireCommandList
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, err
	}
	cmds := make([]Command, 0, len(in.Commands))
	for _, w := range in.Commands {
		switch w.Kind {
		case "speak":
			cmds = append(cmds, Speak{PromptKey: w.PromptKey, Language: w.Language, Text: w.Text})
		case "play":
			cmds = append(cmds, PlayAudio{URL: w.URL, Loop: w.Loop})
		case "gather":
			cmds = append(cmds, GatherDigits{
				PromptKey: w.PromptKey, Language: w.Language, Text: w.Text, NumDigits: w.NumDigits,
				Timeout: time.Duration(w.TimeoutSeconds) * time.Second, ActionPath: w.ActionPath,
			})
		case "enqueue":
			cmds = append(cmds, Enqueue{
				Queue: w.Queue, WaitPath: w.WaitPath, ExitPath: w.ExitPath,
				HoldPromptKey: w.HoldPromptKey, Language: w.Language,
			})
		case "hold":
			cmds = append(cmds, HoldLoop{HoldPromptKey: w.HoldPromptKey, Language: w.Language, WaitPath: w.WaitPath})
		case "leave":
			cmds = append(cmds, LeaveQueue{})
		case "bridge":
			cmds = append(cmds, Bridge{Queue: w.Queue, LegID: w.LegID})
		case "record":
			cmds = append(cmds, Record{
				PromptKey: w.PromptKey, Language: w.Language,
				MaxDuration: time.Duration(w.MaxSeconds) * time.Second, DonePath: w.DonePath,
			})
		case "reject":
			cmds = append(cmds, Reject{Reason: w.Reason})
		case "hangup":
			cmds = append(cmds, Hangup{})
		default:
			return nil, fmt.Errorf("telephony: bridge wire unknown command %q", w.Kind)
		}
	}
	return cmds, nil
}
