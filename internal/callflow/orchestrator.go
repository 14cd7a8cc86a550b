package callflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hotline-platform/internal/policy"
	"hotline-platform/internal/registry"
	"hotline-platform/internal/ringing"
	"hotline-platform/internal/roster"
	"hotline-platform/internal/telephony"
	"hotline-platform/internal/transcribe"
)

// Webhook paths of the call-flow surface. Adapters are handed these as
// relative paths and join them against the public base URL themselves.
const (
	PathIncoming  = "/webhooks/incoming"
	PathDigits    = "/webhooks/digits"
	PathAnswer    = "/webhooks/answer"
	PathLegStatus = "/webhooks/leg-status"
	PathQueueWait = "/webhooks/queue-wait"
	PathQueueExit = "/webhooks/queue-exit"
	PathRecording = "/webhooks/recording"
)

// Prompt keys the flow speaks through the resolver. Deployments override the
// content per language; these names are the stable contract.
const (
	promptWelcome       = "welcome"
	promptLanguageMenu  = "language_menu"
	promptCaptchaIntro  = "captcha_intro"
	promptCaptchaFailed = "captcha_failed"
	promptRateLimited   = "rate_limited"
	promptQueueWelcome  = "queue_welcome"
	promptHold          = "hold_music"
	promptVoicemail     = "voicemail_intro"
	promptVolunteerJoin = "volunteer_connect"
)

const (
	holdQueue       = "hotline"
	voicemailMaxLen = 3 * time.Minute

	// Slack past the provider-side gather timeout before the backstop timer
	// declares the gather abandoned.
	gatherGrace = 15 * time.Second
)

// ErrNotYourCall rejects a console action against a call another volunteer
// owns.
var ErrNotYourCall = errors.New("callflow: call belongs to another volunteer")

// ErrNotAnswerable rejects an answer request for a call that is not waiting
// for a volunteer.
var ErrNotAnswerable = errors.New("callflow: call is not waiting to be answered")

// Deps wires the orchestrator's collaborators. Adapter is the single active
// telephony backend; everything else is protocol neutral.
type Deps struct {
	Adapter    telephony.CallControl
	Registry   *registry.Registry
	Ringing    *ringing.Coordinator
	Policy     *policy.FailOpen
	Roster     roster.Source
	Spam       policy.SpamReporter
	Transcribe transcribe.Transcriber
	Log        *slog.Logger

	HotlineNumber string // caller id presented to volunteers
	HashSalt      string

	// Spawn runs background work; tests replace it to run inline.
	Spawn func(func())
	Clock func() time.Time
}

// Orchestrator is the webhook-driven call-flow state machine. It consumes
// canonical events, mutates call state through the registry, and answers with
// canonical command lists for the adapter to render. It holds no per-call
// state of its own beyond pending timers.
type Orchestrator struct {
	adapter     telephony.CallControl
	registry    *registry.Registry
	ring        *ringing.Coordinator
	policy      *policy.FailOpen
	roster      roster.Source
	spam        policy.SpamReporter
	transcriber transcribe.Transcriber
	log         *slog.Logger

	hotlineNumber string
	salt          string

	timers *timerSet
	spawn  func(func())
	clock  func() time.Time
}

func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		adapter:       d.Adapter,
		registry:      d.Registry,
		ring:          d.Ringing,
		policy:        d.Policy,
		roster:        d.Roster,
		spam:          d.Spam,
		transcriber:   d.Transcribe,
		log:           d.Log,
		hotlineNumber: d.HotlineNumber,
		salt:          d.HashSalt,
		timers:        newTimerSet(),
		spawn:         d.Spawn,
		clock:         d.Clock,
	}
	if o.spawn == nil {
		o.spawn = func(fn func()) { go fn() }
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	return o
}

// HandleEvent advances the call through the flow. The returned commands are
// rendered into the webhook response for the leg that produced the event.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev telephony.Event) ([]telephony.Command, error) {
	switch e := ev.(type) {
	case telephony.IncomingCall:
		return o.onIncoming(ctx, e)
	case telephony.DigitsEntered:
		return o.onDigits(ctx, e)
	case telephony.QueueWaitTick:
		return o.onQueueWait(ctx, e)
	case telephony.QueueExited:
		return o.onQueueExit(ctx, e)
	case telephony.LegStateChanged:
		return o.onLegState(ctx, e)
	case telephony.RecordingReady:
		return o.onRecording(ctx, e)
	default:
		return nil, fmt.Errorf("callflow: unhandled event %T", ev)
	}
}

/* ===================== INTAKE ===================== */

func (o *Orchestrator) onIncoming(ctx context.Context, e telephony.IncomingCall) ([]telephony.Command, error) {
	hash := policy.HashNumber(o.salt, e.From)
	if o.policy.IsBanned(ctx, hash) {
		// Rejected before admission: banned callers never reach the registry
		// and never show up on the console.
		o.log.Info("banned caller rejected", "call_id", e.CallID)
		return []telephony.Command{telephony.Reject{Reason: "rejected"}}, nil
	}

	set := o.policy.Load(ctx)
	o.registry.AdmitIncoming(&registry.Call{
		ID:           e.CallID,
		CallerNumber: e.From,
		CallerHash:   hash,
		State:        registry.StateNew,
		StartedAt:    e.OccurredAt,
	})

	if len(set.Languages) == 1 {
		lang := set.Languages[0]
		o.setLanguage(e.CallID, lang)
		cmds, err := o.afterLanguage(ctx, e.CallID, lang, set)
		if err != nil {
			return nil, err
		}
		return append([]telephony.Command{
			telephony.Speak{PromptKey: promptWelcome, Language: lang},
		}, cmds...), nil
	}

	deadline := o.clock().Add(set.GatherTimeout)
	if err := o.registry.Mutate(e.CallID, func(c *registry.Call) {
		c.EnterGather(registry.GatherInfo{Purpose: registry.GatherLanguage, Expected: 1, Deadline: deadline})
		c.State = registry.StateLanguageMenu
	}); err != nil {
		return nil, err
	}
	o.scheduleGatherBackstop(e.CallID, set.GatherTimeout)

	def := set.Languages[0]
	return []telephony.Command{
		telephony.Speak{PromptKey: promptWelcome, Language: def},
		telephony.GatherDigits{
			PromptKey:  promptLanguageMenu,
			Language:   def,
			NumDigits:  1,
			Timeout:    set.GatherTimeout,
			ActionPath: PathDigits,
		},
	}, nil
}

func (o *Orchestrator) onDigits(ctx context.Context, e telephony.DigitsEntered) ([]telephony.Command, error) {
	o.timers.Cancel(e.CallID, timerGather)
	call, ok := o.registry.Get(e.CallID)
	if !ok {
		return []telephony.Command{telephony.Hangup{}}, nil
	}
	set := o.policy.Load(ctx)

	switch call.State {
	case registry.StateLanguageMenu:
		lang := o.chooseLanguage(e.Digits, call.CallerNumber, set.Languages)
		o.setLanguage(e.CallID, lang)
		return o.afterLanguage(ctx, e.CallID, lang, set)

	case registry.StateCaptcha:
		if e.Digits == call.CaptchaCode {
			return o.enqueue(ctx, e.CallID, call.Language, set)
		}
		// One attempt only; an empty result (gather timed out) fails the same
		// way a wrong code does.
		o.timers.CancelAll(e.CallID)
		_ = o.registry.MarkEnded(e.CallID, registry.DispositionRejected)
		o.log.Info("captcha failed", "call_id", e.CallID)
		return []telephony.Command{
			telephony.Speak{PromptKey: promptCaptchaFailed, Language: call.Language},
			telephony.Hangup{},
		}, nil

	default:
		// Late or duplicate digits webhook; nothing to do.
		return nil, nil
	}
}

// chooseLanguage resolves a menu selection: a valid 1-based digit picks from
// the offered list, an empty or invalid press falls back to dial-code
// detection, then to the first offered language.
func (o *Orchestrator) chooseLanguage(digits, number string, offered []string) string {
	if len(digits) == 1 {
		if i := int(digits[0] - '1'); i >= 0 && i < len(offered) {
			return offered[i]
		}
	}
	if lang := detectLanguage(number, offered); lang != "" {
		return lang
	}
	return offered[0]
}

func (o *Orchestrator) setLanguage(callID, lang string) {
	_ = o.registry.Mutate(callID, func(c *registry.Call) { c.Language = lang })
}

// afterLanguage runs the post-identification gate: rate limit, then captcha,
// then the hold queue.
func (o *Orchestrator) afterLanguage(ctx context.Context, callID, lang string, set policy.Settings) ([]telephony.Command, error) {
	call, ok := o.registry.Get(callID)
	if !ok {
		return []telephony.Command{telephony.Hangup{}}, nil
	}

	if !o.policy.Allow(ctx, call.CallerHash) {
		o.timers.CancelAll(callID)
		_ = o.registry.MarkEnded(callID, registry.DispositionRejected)
		o.log.Info("caller rate limited", "call_id", callID)
		return []telephony.Command{
			telephony.Speak{PromptKey: promptRateLimited, Language: lang},
			telephony.Hangup{},
		}, nil
	}

	if set.CaptchaEnabled {
		code := newCaptchaCode(set.CaptchaDigits)
		deadline := o.clock().Add(set.GatherTimeout)
		if err := o.registry.Mutate(callID, func(c *registry.Call) {
			c.EnterGather(registry.GatherInfo{Purpose: registry.GatherCaptcha, Expected: set.CaptchaDigits, Deadline: deadline})
			c.CaptchaCode = code
			c.State = registry.StateCaptcha
		}); err != nil {
			return nil, err
		}
		o.scheduleGatherBackstop(callID, set.GatherTimeout)
		return []telephony.Command{
			telephony.Speak{PromptKey: promptCaptchaIntro, Language: lang},
			telephony.GatherDigits{
				Text:       spellDigits(code),
				Language:   lang,
				NumDigits:  set.CaptchaDigits,
				Timeout:    set.GatherTimeout,
				ActionPath: PathDigits,
			},
		}, nil
	}

	return o.enqueue(ctx, callID, lang, set)
}

/* ===================== QUEUE AND RINGING ===================== */

func (o *Orchestrator) enqueue(ctx context.Context, callID, lang string, set policy.Settings) ([]telephony.Command, error) {
	now := o.clock()
	if err := o.registry.Mutate(callID, func(c *registry.Call) {
		c.EnterQueue(registry.QueueInfo{EnteredAt: now, WaitPath: PathQueueWait, ExitPath: PathQueueExit})
		c.State = registry.StateQueued
	}); err != nil {
		return nil, err
	}

	o.timers.Schedule(callID, timerQueue, set.QueueTimeout, func() { o.onQueueTimeout(callID) })
	o.spawn(func() { o.startRinging(callID, lang) })

	return []telephony.Command{
		telephony.Speak{PromptKey: promptQueueWelcome, Language: lang},
		telephony.Enqueue{
			Queue:         holdQueue,
			WaitPath:      PathQueueWait,
			ExitPath:      PathQueueExit,
			HoldPromptKey: promptHold,
			Language:      lang,
		},
	}, nil
}

// startRinging resolves candidates and fans the call out. Runs off the
// webhook request path so origination latency never delays the queue
// response to the caller.
func (o *Orchestrator) startRinging(callID, lang string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	candidates, err := o.roster.OnShift(ctx)
	if err != nil {
		o.log.Warn("shift lookup failed", "err", err)
	}
	if len(candidates) == 0 {
		if candidates, err = o.roster.Fallback(ctx); err != nil {
			o.log.Warn("fallback roster lookup failed", "err", err)
		}
	}
	candidates = o.withoutBusy(candidates)

	n := o.ring.Start(ctx, callID, candidates, telephony.OriginateContext{
		CallerID:   o.hotlineNumber,
		AnswerPath: PathAnswer,
		StatusPath: PathLegStatus,
		Language:   lang,
	})
	if n == 0 {
		o.log.Info("no volunteers rung", "call_id", callID)
		o.toVoicemail(callID)
	}
}

// withoutBusy drops volunteers whose console connection says they are already
// on a call. A volunteer with no console connection still gets rung.
func (o *Orchestrator) withoutBusy(in []roster.Volunteer) []roster.Volunteer {
	avail := o.registry.ConnectedIdentities()
	var out []roster.Volunteer
	for _, v := range in {
		if free, connected := avail[v.Identity]; connected && !free {
			continue
		}
		out = append(out, v)
	}
	return out
}

func (o *Orchestrator) onQueueTimeout(callID string) {
	call, ok := o.registry.Get(callID)
	if !ok || call.State == registry.StateBridged || call.State == registry.StateVoicemail {
		return
	}
	o.log.Info("queue timeout", "call_id", callID)
	o.toVoicemail(callID)
}

// toVoicemail cancels any outstanding ringing and flags the call; the next
// hold-loop poll or queue exit delivers the voicemail instructions to the
// caller leg.
func (o *Orchestrator) toVoicemail(callID string) {
	o.timers.Cancel(callID, timerQueue)
	o.ring.CancelAll(context.Background(), callID)
	if err := o.registry.MarkVoicemailed(callID); err != nil {
		return
	}
	o.log.Info("call diverted to voicemail", "call_id", callID)
}

func (o *Orchestrator) onQueueWait(ctx context.Context, e telephony.QueueWaitTick) ([]telephony.Command, error) {
	call, ok := o.registry.Get(e.CallID)
	if !ok {
		return []telephony.Command{telephony.Hangup{}}, nil
	}

	switch call.State {
	case registry.StateBridged:
		// A volunteer won between hold cycles; pull the caller out of the
		// queue and into the bridge.
		return []telephony.Command{telephony.Bridge{Queue: holdQueue, LegID: call.BridgeID}}, nil

	case registry.StateVoicemail:
		return append([]telephony.Command{telephony.LeaveQueue{}}, o.voicemailCommands(call.Language)...), nil

	case registry.StateQueued, registry.StateRinging:
		set := o.policy.Load(ctx)
		if o.queueTimedOut(call, e.Waited, set.QueueTimeout) {
			o.toVoicemail(e.CallID)
			return append([]telephony.Command{telephony.LeaveQueue{}}, o.voicemailCommands(call.Language)...), nil
		}
		return []telephony.Command{
			telephony.HoldLoop{HoldPromptKey: promptHold, Language: call.Language, WaitPath: PathQueueWait},
		}, nil

	default:
		return []telephony.Command{telephony.Hangup{}}, nil
	}
}

func (o *Orchestrator) queueTimedOut(call registry.Call, waited, timeout time.Duration) bool {
	if waited >= timeout {
		return true
	}
	return call.Queue != nil && o.clock().Sub(call.Queue.EnteredAt) >= timeout
}

func (o *Orchestrator) onQueueExit(ctx context.Context, e telephony.QueueExited) ([]telephony.Command, error) {
	switch e.Reason {
	case telephony.QueueExitHangup:
		o.timers.CancelAll(e.CallID)
		o.ring.CancelAll(ctx, e.CallID)
		if err := o.registry.MarkEnded(e.CallID, registry.DispositionMissed); err == nil {
			o.log.Info("caller abandoned queue", "call_id", e.CallID)
		}
		return nil, nil

	case telephony.QueueExitDequeued:
		// The exit callback for a dequeued caller fires after the bridged
		// segment finished; the conversation is over.
		o.timers.CancelAll(e.CallID)
		if err := o.registry.MarkEnded(e.CallID, registry.DispositionCompleted); err != nil {
			return nil, nil
		}
		return []telephony.Command{telephony.Hangup{}}, nil

	case telephony.QueueExitLeave:
		call, ok := o.registry.Get(e.CallID)
		if !ok {
			return []telephony.Command{telephony.Hangup{}}, nil
		}
		if call.State != registry.StateVoicemail {
			o.toVoicemail(e.CallID)
		}
		return o.voicemailCommands(call.Language), nil

	default: // QueueExitError and anything unrecognized
		o.timers.CancelAll(e.CallID)
		o.ring.CancelAll(ctx, e.CallID)
		call, ok := o.registry.Get(e.CallID)
		if !ok {
			return []telephony.Command{telephony.Hangup{}}, nil
		}
		_ = o.registry.MarkVoicemailed(e.CallID)
		return o.voicemailCommands(call.Language), nil
	}
}

/* ===================== LEGS AND ANSWER ===================== */

func (o *Orchestrator) onLegState(ctx context.Context, e telephony.LegStateChanged) ([]telephony.Command, error) {
	if callID, ok := o.ring.CallForLeg(e.LegID); ok {
		return o.onVolunteerLeg(ctx, callID, e)
	}
	return o.onCallerLeg(ctx, e)
}

func (o *Orchestrator) onVolunteerLeg(ctx context.Context, callID string, e telephony.LegStateChanged) ([]telephony.Command, error) {
	switch {
	case e.State == telephony.LegAnswered:
		return o.volunteerAnswered(ctx, callID, e.LegID), nil
	case e.State.Terminal():
		if o.ring.OnLegDown(ctx, callID, e.LegID) == ringing.OutcomeExhausted {
			o.toVoicemail(callID)
		}
	}
	return nil, nil
}

func (o *Orchestrator) onCallerLeg(ctx context.Context, e telephony.LegStateChanged) ([]telephony.Command, error) {
	if e.CallID == "" || !e.State.Terminal() {
		return nil, nil
	}
	call, ok := o.registry.Get(e.CallID)
	if !ok {
		return nil, nil
	}
	o.timers.CancelAll(e.CallID)
	o.ring.CancelAll(ctx, e.CallID)

	d := registry.DispositionMissed
	switch call.State {
	case registry.StateBridged:
		d = registry.DispositionCompleted
	case registry.StateVoicemail:
		d = registry.DispositionVoicemailed
	}
	_ = o.registry.MarkEnded(e.CallID, d)
	return nil, nil
}

// HandleVolunteerAnswer produces the instructions for an outbound volunteer
// leg that just answered. It is the webhook behind OriginateContext.AnswerPath
// and its commands are rendered onto the volunteer leg, not the caller's.
func (o *Orchestrator) HandleVolunteerAnswer(ctx context.Context, legID string) []telephony.Command {
	callID, ok := o.ring.ResolveLeg(ctx, legID)
	if !ok {
		// Webhook redelivery: the winner leaves the coordinator's index the
		// moment it settles, so a retried answer for the winning leg must get
		// the same instructions again, never a Hangup onto the live bridge.
		if call, found := o.registry.FindByBridgeLeg(legID); found {
			return o.winnerCommands(call.Language, legID)
		}
		return []telephony.Command{telephony.Hangup{}}
	}
	return o.volunteerAnswered(ctx, callID, legID)
}

func (o *Orchestrator) volunteerAnswered(ctx context.Context, callID, legID string) []telephony.Command {
	if o.ring.OnLegAnswered(ctx, callID, legID) != ringing.OutcomeWon {
		if call, ok := o.registry.Get(callID); ok && call.BridgeID == legID {
			// Duplicate delivery of the winner's own answer.
			return o.winnerCommands(call.Language, legID)
		}
		// Lost the race or answered a call that already left; drop the leg.
		return []telephony.Command{telephony.Hangup{}}
	}
	o.timers.CancelAll(callID)
	call, _ := o.registry.Get(callID)
	return o.winnerCommands(call.Language, legID)
}

func (o *Orchestrator) winnerCommands(lang, legID string) []telephony.Command {
	return []telephony.Command{
		telephony.Speak{PromptKey: promptVolunteerJoin, Language: lang},
		telephony.Bridge{Queue: holdQueue, LegID: legID},
	}
}

/* ===================== VOICEMAIL AND RECORDINGS ===================== */

func (o *Orchestrator) voicemailCommands(lang string) []telephony.Command {
	return []telephony.Command{
		telephony.Speak{PromptKey: promptVoicemail, Language: lang},
		telephony.Record{Language: lang, MaxDuration: voicemailMaxLen, DonePath: PathRecording},
		telephony.Hangup{},
	}
}

func (o *Orchestrator) onRecording(ctx context.Context, e telephony.RecordingReady) ([]telephony.Command, error) {
	var lang string
	if call, ok := o.registry.Get(e.CallID); ok {
		lang = call.Language
		_ = o.registry.Mutate(e.CallID, func(c *registry.Call) { c.RecordingRef = e.RecordingRef })
		if call.State == registry.StateVoicemail {
			o.timers.CancelAll(e.CallID)
			_ = o.registry.MarkEnded(e.CallID, registry.DispositionVoicemailed)
		}
	}
	o.spawn(func() { o.transcribeRecording(e.CallID, e.RecordingRef, lang) })
	return []telephony.Command{telephony.Hangup{}}, nil
}

func (o *Orchestrator) transcribeRecording(callID, ref, lang string) {
	if o.transcriber == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	audio, err := o.adapter.FetchRecording(ctx, ref)
	if err != nil {
		o.log.Warn("recording fetch failed", "call_id", callID, "err", err)
		return
	}
	if audio == nil {
		return
	}
	text, err := o.transcriber.Transcribe(ctx, audio, lang)
	if err != nil {
		o.log.Warn("transcription failed", "call_id", callID, "err", err)
		return
	}
	o.registry.AttachTranscript(callID, text)
}

/* ===================== TIMERS ===================== */

// scheduleGatherBackstop cleans up a gather the provider never reported back
// on. The normal timeout path is the provider posting an empty digits result;
// this fires only when even that went missing.
func (o *Orchestrator) scheduleGatherBackstop(callID string, timeout time.Duration) {
	o.timers.Schedule(callID, timerGather, timeout+gatherGrace, func() {
		call, ok := o.registry.Get(callID)
		if !ok || call.Gather == nil {
			return
		}
		o.log.Info("gather abandoned", "call_id", callID, "state", call.State)
		_ = o.registry.MarkEnded(callID, registry.DispositionMissed)
	})
}

/* ===================== CONSOLE ACTIONS ===================== */

// AnswerCall rings the requesting volunteer directly, replacing any ringing
// fan-out in flight. Used by the console's answer button to claim a waiting
// call.
func (o *Orchestrator) AnswerCall(ctx context.Context, callID, identity string) error {
	call, ok := o.registry.Get(callID)
	if !ok {
		return registry.ErrNotFound
	}
	switch call.State {
	case registry.StateQueued, registry.StateRinging:
	default:
		return ErrNotAnswerable
	}

	vol, err := o.findVolunteer(ctx, identity)
	if err != nil {
		return err
	}
	o.ring.CancelAll(ctx, callID)
	n := o.ring.Start(ctx, callID, []roster.Volunteer{vol}, telephony.OriginateContext{
		CallerID:   o.hotlineNumber,
		AnswerPath: PathAnswer,
		StatusPath: PathLegStatus,
		Language:   call.Language,
	})
	if n == 0 {
		return fmt.Errorf("callflow: could not ring %s", identity)
	}
	return nil
}

func (o *Orchestrator) findVolunteer(ctx context.Context, identity string) (roster.Volunteer, error) {
	for _, lookup := range []func(context.Context) ([]roster.Volunteer, error){o.roster.OnShift, o.roster.Fallback} {
		vols, err := lookup(ctx)
		if err != nil {
			continue
		}
		for _, v := range vols {
			if v.Identity == identity {
				return v, nil
			}
		}
	}
	return roster.Volunteer{}, fmt.Errorf("callflow: %s is not on the roster", identity)
}

// HangupCall ends an active call on a volunteer's request from the console.
// A bridged call may only be hung up by the volunteer on it.
func (o *Orchestrator) HangupCall(ctx context.Context, callID, identity string) error {
	call, ok := o.registry.Get(callID)
	if !ok {
		return registry.ErrNotFound
	}
	if call.VolunteerID != "" && call.VolunteerID != identity {
		return ErrNotYourCall
	}
	o.timers.CancelAll(callID)
	o.ring.CancelAll(ctx, callID)

	legs := []string{callID}
	if call.BridgeID != "" {
		legs = append(legs, call.BridgeID)
	}
	o.adapter.CancelLegs(ctx, legs, "")

	d := registry.DispositionMissed
	if call.State == registry.StateBridged {
		d = registry.DispositionCompleted
	}
	return o.registry.MarkEnded(callID, d)
}

// ReportSpam files a spam report for the caller behind an active or recent
// call. The reporter only ever handles the caller hash.
func (o *Orchestrator) ReportSpam(ctx context.Context, callID, identity string) error {
	if o.spam == nil {
		return nil
	}
	var hash string
	if call, ok := o.registry.Get(callID); ok {
		hash = call.CallerHash
	} else {
		for _, e := range o.registry.History(0) {
			if e.CallID == callID {
				hash = e.CallerHash
				break
			}
		}
	}
	if hash == "" {
		return registry.ErrNotFound
	}
	return o.spam.ReportSpam(ctx, hash, identity)
}
