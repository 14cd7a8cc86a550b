package pbx

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"hotline-platform/internal/callflow"
	"hotline-platform/internal/telephony"
)

// EventPoster delivers canonical events to the hotline API and returns the
// commands it answers with.
type EventPoster interface {
	PostEvent(ctx context.Context, path string, ev telephony.Event) ([]telephony.Command, error)
}

// EventStream opens the PBX event connection.
type EventStream interface {
	Events(ctx context.Context) (<-chan ariEvent, error)
}

const (
	queueTickInterval = 5 * time.Second
	postTimeout       = 10 * time.Second
	maxReconnectWait  = 30 * time.Second
)

// Bridge runs the hotline call flow against a raw PBX event stream. It
// translates PBX events into the same canonical events the hosted providers
// deliver as webhooks, posts them to the hotline API over the signed side
// channel, and executes the returned command lists against the PBX.
//
// Commands that produce audio are sequenced: a playback must finish before
// the next command runs, so "announce then record then hang up" behaves the
// way a webhook provider would interpret it.
type Bridge struct {
	ari      CallAPI
	stream   EventStream
	hotline  EventPoster
	pub      Publisher
	log      *slog.Logger
	endpoint string // template for dialing PSTN numbers
	media    string // sound file prefix on the PBX
	topic    string
	tick     time.Duration

	mu       sync.Mutex
	sessions map[string]*session // caller channel id -> session
	legs     map[string]string   // outbound leg channel id -> parent call id
	plays    map[string]string   // playback id -> caller channel id
}

// session is the per-caller-channel execution state. All fields are guarded
// by Bridge.mu.
type session struct {
	callID     string
	pending    []telephony.Command
	playbackID string
	recording  bool
	recordPath string
	gather     *gatherState
	queueStop  chan struct{}
	queuedAt   time.Time
	waitPath   string
	bridgeID   string
	bridged    bool
}

type gatherState struct {
	digits string
	want   int
	action string
	timer  *time.Timer
}

func (s *session) waiting() bool {
	return s.playbackID != "" || s.recording
}

func NewBridge(cfg *Config, ari CallAPI, stream EventStream, hotline EventPoster, pub Publisher, log *slog.Logger) *Bridge {
	if pub == nil {
		pub = NoopPublisher{}
	}
	return &Bridge{
		ari:      ari,
		stream:   stream,
		hotline:  hotline,
		pub:      pub,
		log:      log,
		endpoint: cfg.ARI.EndpointTemplate,
		media:    cfg.ARI.MediaPrefix,
		topic:    cfg.MQTT.TopicPrefix,
		tick:     queueTickInterval,
		sessions: make(map[string]*session),
		legs:     make(map[string]string),
		plays:    make(map[string]string),
	}
}

/* ===================== EVENT LOOP ===================== */

// Run consumes the PBX event stream until ctx is cancelled, reconnecting
// with exponential backoff on connection loss.
func (b *Bridge) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		events, err := b.stream.Events(ctx)
		if err == nil {
			b.log.Info("pbx event stream connected")
			backoff = time.Second
			for ev := range events {
				b.handleEvent(ctx, ev)
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			b.log.Error("pbx event stream unavailable", "err", err, "retry_in", backoff)
		} else {
			b.log.Warn("pbx event stream lost", "retry_in", backoff)
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil
		}
		backoff = nextBackoff(backoff)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxReconnectWait {
		return maxReconnectWait
	}
	return d
}

func (b *Bridge) handleEvent(ctx context.Context, ev ariEvent) {
	switch ev.Type {
	case "StasisStart":
		if ev.Channel == nil {
			return
		}
		if len(ev.Args) > 0 && ev.Args[0] == "outbound" {
			b.onLegUp(ctx, ev.Channel.ID)
			return
		}
		b.onInbound(ctx, ev.Channel)
	case "ChannelDtmfReceived":
		if ev.Channel != nil {
			b.onDigit(ctx, ev.Channel.ID, ev.Digit)
		}
	case "ChannelDestroyed":
		if ev.Channel != nil {
			b.onDestroyed(ctx, ev.Channel.ID, ev.Cause)
		}
	case "PlaybackFinished":
		if ev.Playback != nil {
			b.onPlaybackFinished(ctx, ev.Playback.ID)
		}
	case "RecordingFinished":
		if ev.Recording != nil {
			b.onRecordingFinished(ctx, ev.Recording)
		}
	}
}

func (b *Bridge) onInbound(ctx context.Context, ch *ariChannel) {
	b.mu.Lock()
	if _, exists := b.sessions[ch.ID]; exists {
		b.mu.Unlock()
		return
	}
	s := &session{callID: ch.ID, recordPath: callflow.PathRecording}
	b.sessions[ch.ID] = s
	b.mu.Unlock()

	publishLifecycle(ctx, b.pub, b.log, b.topic, ch.ID, "incoming")

	cmds, err := b.hotline.PostEvent(ctx, callflow.PathIncoming, telephony.IncomingCall{
		CallID:     ch.ID,
		From:       normalizeNumber(ch.Caller.Number),
		To:         normalizeNumber(ch.Dialplan.Exten),
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		b.log.Error("incoming event rejected, dropping call", "call_id", ch.ID, "err", err)
		_ = b.ari.Hangup(ctx, ch.ID, "congestion")
		return
	}

	// A rejection must land before the channel is answered.
	if rejected(cmds) {
		b.mu.Lock()
		delete(b.sessions, ch.ID)
		b.mu.Unlock()
		if err := b.ari.Hangup(ctx, ch.ID, "busy"); err != nil {
			b.log.Warn("reject hangup failed", "call_id", ch.ID, "err", err)
		}
		return
	}

	if err := b.ari.Answer(ctx, ch.ID); err != nil {
		b.log.Error("answer failed", "call_id", ch.ID, "err", err)
		return
	}

	b.mu.Lock()
	s.pending = append(s.pending, cmds...)
	b.advance(ctx, s)
	b.mu.Unlock()
}

func rejected(cmds []telephony.Command) bool {
	for _, cmd := range cmds {
		if _, ok := cmd.(telephony.Reject); ok {
			return true
		}
	}
	return false
}

// onLegUp translates "channel entered the app with the outbound tag" into
// the answered leg-status event the ringing coordinator races on.
func (b *Bridge) onLegUp(ctx context.Context, legID string) {
	b.mu.Lock()
	callID, ok := b.legs[legID]
	b.mu.Unlock()
	if !ok {
		b.log.Warn("answered leg has no parent call", "leg_id", legID)
		_ = b.ari.Hangup(ctx, legID, "normal")
		return
	}

	cmds, err := b.hotline.PostEvent(ctx, callflow.PathAnswer, telephony.LegStateChanged{
		CallID: callID,
		LegID:  legID,
		State:  telephony.LegAnswered,
	})
	if err != nil {
		b.log.Error("answer event rejected", "leg_id", legID, "err", err)
		return
	}
	b.executeOnLeg(ctx, callID, legID, cmds)
}

// executeOnLeg runs the answer-race outcome on a volunteer leg: either the
// connect announcement plus the bridge, or a hangup for a lost race.
func (b *Bridge) executeOnLeg(ctx context.Context, callID, legID string, cmds []telephony.Command) {
	for _, cmd := range cmds {
		switch c := cmd.(type) {
		case telephony.Speak:
			if media := b.resolveMedia(c.PromptKey, c.Language, c.Text); media != "" {
				if _, err := b.ari.Play(ctx, legID, media); err != nil {
					b.log.Warn("leg announcement failed", "leg_id", legID, "err", err)
				}
			}
		case telephony.Bridge:
			if err := b.bridgeCall(ctx, callID, c.LegID); err != nil {
				b.log.Error("bridging failed", "call_id", callID, "leg_id", c.LegID, "err", err)
				_ = b.ari.Hangup(ctx, legID, "congestion")
			}
		case telephony.Hangup:
			_ = b.ari.Hangup(ctx, legID, "normal")
		}
	}
}

func (b *Bridge) onDigit(ctx context.Context, channelID, digit string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[channelID]
	if !ok || s.gather == nil {
		return
	}
	if digit == "#" {
		b.flushGatherLocked(ctx, s)
		return
	}
	s.gather.digits += digit
	if len(s.gather.digits) >= s.gather.want {
		b.flushGatherLocked(ctx, s)
	}
}

func (b *Bridge) onDestroyed(ctx context.Context, channelID string, cause int) {
	b.mu.Lock()
	if callID, ok := b.legs[channelID]; ok {
		delete(b.legs, channelID)
		s := b.sessions[callID]
		b.mu.Unlock()

		cmds, err := b.hotline.PostEvent(ctx, callflow.PathLegStatus, telephony.LegStateChanged{
			CallID: callID,
			LegID:  channelID,
			State:  legStateFromCause(cause),
		})
		if err != nil {
			b.log.Warn("leg status event rejected", "leg_id", channelID, "err", err)
			return
		}
		if s != nil && len(cmds) > 0 {
			b.mu.Lock()
			s.pending = append(s.pending, cmds...)
			b.advance(ctx, s)
			b.mu.Unlock()
		}
		return
	}

	s, ok := b.sessions[channelID]
	if !ok {
		// Duplicate destroy for an already-closed call: idempotent no-op.
		b.mu.Unlock()
		return
	}
	delete(b.sessions, channelID)
	b.teardownLocked(s)
	b.mu.Unlock()

	publishLifecycle(ctx, b.pub, b.log, b.topic, channelID, "ended")

	// The response commands target a channel that no longer exists.
	if _, err := b.hotline.PostEvent(ctx, callflow.PathLegStatus, telephony.LegStateChanged{
		CallID: channelID,
		LegID:  channelID,
		State:  telephony.LegHungUp,
	}); err != nil {
		b.log.Warn("hangup event rejected", "call_id", channelID, "err", err)
	}
}

func (b *Bridge) onPlaybackFinished(ctx context.Context, playbackID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	callID, ok := b.plays[playbackID]
	if !ok {
		return
	}
	delete(b.plays, playbackID)
	s, ok := b.sessions[callID]
	if !ok || s.playbackID != playbackID {
		return
	}
	s.playbackID = ""
	b.advance(ctx, s)
}

func (b *Bridge) onRecordingFinished(ctx context.Context, rec *ariRecording) {
	callID := strings.TrimPrefix(rec.TargetURI, "channel:")
	b.mu.Lock()
	s, ok := b.sessions[callID]
	if !ok {
		b.mu.Unlock()
		return
	}
	s.recording = false
	donePath := s.recordPath
	b.mu.Unlock()

	publishLifecycle(ctx, b.pub, b.log, b.topic, callID, "recorded")

	cmds, err := b.hotline.PostEvent(ctx, donePath, telephony.RecordingReady{
		CallID:       callID,
		RecordingRef: rec.Name,
		Duration:     time.Duration(rec.Duration) * time.Second,
	})
	if err != nil {
		b.log.Warn("recording event rejected", "call_id", callID, "err", err)
		cmds = nil
	}

	b.mu.Lock()
	if s, ok := b.sessions[callID]; ok {
		s.pending = append(s.pending, cmds...)
		b.advance(ctx, s)
	}
	b.mu.Unlock()
}

/* ===================== COMMAND EXECUTION ===================== */

// advance drains the session's pending command queue until it empties or a
// playback/recording takes ownership of the channel's audio. Caller holds
// b.mu.
func (b *Bridge) advance(ctx context.Context, s *session) {
	for len(s.pending) > 0 && !s.waiting() {
		cmd := s.pending[0]
		s.pending = s.pending[1:]
		if err := b.apply(ctx, s, cmd); err != nil {
			b.log.Warn("command failed", "call_id", s.callID, "command", fmt.Sprintf("%T", cmd), "err", err)
		}
	}
}

func (b *Bridge) apply(ctx context.Context, s *session, cmd telephony.Command) error {
	switch c := cmd.(type) {
	case telephony.Speak:
		return b.play(ctx, s, b.resolveMedia(c.PromptKey, c.Language, c.Text))

	case telephony.PlayAudio:
		return b.play(ctx, s, c.URL)

	case telephony.GatherDigits:
		b.cancelGatherLocked(s)
		g := &gatherState{want: c.NumDigits, action: c.ActionPath}
		g.timer = time.AfterFunc(c.Timeout, func() { b.gatherTimeout(s.callID) })
		s.gather = g
		if media := b.resolveMedia(c.PromptKey, c.Language, c.Text); media != "" {
			// Digits may arrive during the prompt, so the gather does not
			// wait for the playback to finish.
			if _, err := b.ari.Play(ctx, s.callID, media); err != nil {
				return err
			}
		}
		return nil

	case telephony.Enqueue:
		s.queuedAt = time.Now()
		s.waitPath = c.WaitPath
		stop := make(chan struct{})
		s.queueStop = stop
		go b.queueTicker(s.callID, stop)
		return b.ari.StartHold(ctx, s.callID)

	case telephony.HoldLoop:
		// Hold music keeps playing until something ends the queue stay.
		return nil

	case telephony.LeaveQueue:
		b.stopQueueLocked(s)
		return b.ari.StopHold(ctx, s.callID)

	case telephony.Bridge:
		return b.bridgeCallLocked(ctx, s, c.LegID)

	case telephony.Record:
		if c.PromptKey != "" && !s.recording {
			if media := b.resolveMedia(c.PromptKey, c.Language, ""); media != "" && s.playbackID == "" {
				rest := telephony.Record{MaxDuration: c.MaxDuration, DonePath: c.DonePath}
				if err := b.play(ctx, s, media); err == nil && s.playbackID != "" {
					s.pending = append([]telephony.Command{rest}, s.pending...)
					return nil
				}
			}
		}
		if c.DonePath != "" {
			s.recordPath = c.DonePath
		}
		if err := b.ari.Record(ctx, s.callID, recordingName(s.callID), int(c.MaxDuration.Seconds())); err != nil {
			return err
		}
		s.recording = true
		return nil

	case telephony.Reject:
		return b.ari.Hangup(ctx, s.callID, "busy")

	case telephony.Hangup:
		return b.ari.Hangup(ctx, s.callID, "normal")
	}
	return nil
}

func (b *Bridge) play(ctx context.Context, s *session, media string) error {
	if media == "" {
		return nil
	}
	id, err := b.ari.Play(ctx, s.callID, media)
	if err != nil {
		return err
	}
	s.playbackID = id
	b.plays[id] = s.callID
	return nil
}

func (b *Bridge) bridgeCall(ctx context.Context, callID, legID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[callID]
	if !ok {
		return fmt.Errorf("pbx: no session for call %s", callID)
	}
	return b.bridgeCallLocked(ctx, s, legID)
}

func (b *Bridge) bridgeCallLocked(ctx context.Context, s *session, legID string) error {
	if s.bridged {
		return nil
	}
	id, err := b.ari.CreateBridge(ctx)
	if err != nil {
		return err
	}
	b.stopQueueLocked(s)
	_ = b.ari.StopHold(ctx, s.callID)
	if err := b.ari.AddToBridge(ctx, id, s.callID); err != nil {
		return err
	}
	if err := b.ari.AddToBridge(ctx, id, legID); err != nil {
		return err
	}
	s.bridgeID = id
	s.bridged = true
	publishLifecycle(ctx, b.pub, b.log, b.topic, s.callID, "answered")
	return nil
}

/* ===================== GATHER & QUEUE ===================== */

func (b *Bridge) gatherTimeout(callID string) {
	ctx, cancel := context.WithTimeout(context.Background(), postTimeout)
	defer cancel()
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[callID]
	if !ok || s.gather == nil {
		return
	}
	b.flushGatherLocked(ctx, s)
}

// flushGatherLocked reports the collected digits, empty or not; an empty
// gather result is meaningful to the state machine.
func (b *Bridge) flushGatherLocked(ctx context.Context, s *session) {
	g := s.gather
	if g == nil {
		return
	}
	g.timer.Stop()
	s.gather = nil

	cmds, err := b.hotline.PostEvent(ctx, g.action, telephony.DigitsEntered{CallID: s.callID, Digits: g.digits})
	if err != nil {
		b.log.Warn("digits event rejected", "call_id", s.callID, "err", err)
		return
	}
	s.pending = append(s.pending, cmds...)
	b.advance(ctx, s)
}

func (b *Bridge) cancelGatherLocked(s *session) {
	if s.gather != nil {
		s.gather.timer.Stop()
		s.gather = nil
	}
}

func (b *Bridge) queueTicker(callID string, stop chan struct{}) {
	t := time.NewTicker(b.tick)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}

		b.mu.Lock()
		s, ok := b.sessions[callID]
		if !ok || s.queueStop == nil {
			b.mu.Unlock()
			return
		}
		waited := time.Since(s.queuedAt)
		waitPath := s.waitPath
		b.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), postTimeout)
		cmds, err := b.hotline.PostEvent(ctx, waitPath, telephony.QueueWaitTick{CallID: callID, Waited: waited})
		if err != nil {
			b.log.Warn("queue wait event rejected", "call_id", callID, "err", err)
			cancel()
			continue
		}
		b.mu.Lock()
		if s, ok := b.sessions[callID]; ok {
			s.pending = append(s.pending, cmds...)
			b.advance(ctx, s)
		}
		b.mu.Unlock()
		cancel()
	}
}

func (b *Bridge) stopQueueLocked(s *session) {
	if s.queueStop != nil {
		close(s.queueStop)
		s.queueStop = nil
	}
}

func (b *Bridge) teardownLocked(s *session) {
	b.cancelGatherLocked(s)
	b.stopQueueLocked(s)
	if s.playbackID != "" {
		delete(b.plays, s.playbackID)
	}
	if s.bridgeID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), postTimeout)
		_ = b.ari.DestroyBridge(ctx, s.bridgeID)
		cancel()
	}
}

/* ===================== SIDE-CHANNEL COMMANDS ===================== */

// OriginateLegs dials the given volunteer targets and registers the created
// channels against the parent call. Partial failure is tolerated: the legs
// that did come up are returned, each paired with the volunteer it dials.
func (b *Bridge) OriginateLegs(ctx context.Context, parentCallID, callerID string, targets []telephony.DialTarget) []telephony.Leg {
	legs := make([]telephony.Leg, 0, len(targets))
	for _, t := range targets {
		endpoint := t.Endpoint
		if endpoint == "" {
			endpoint = fmt.Sprintf(b.endpoint, strings.TrimPrefix(t.Number, "+"))
		}
		id, err := b.ari.Originate(ctx, endpoint, callerID, []string{"outbound", parentCallID})
		if err != nil {
			b.log.Warn("leg origination failed", "call_id", parentCallID, "identity", t.Identity, "err", err)
			continue
		}
		b.mu.Lock()
		b.legs[id] = parentCallID
		b.mu.Unlock()
		legs = append(legs, telephony.Leg{ID: id, Identity: t.Identity})
	}
	return legs
}

// CancelLegs hangs up every listed leg except the one to keep.
func (b *Bridge) CancelLegs(ctx context.Context, legIDs []string, exceptID string) {
	for _, id := range legIDs {
		if id == exceptID {
			continue
		}
		if err := b.ari.Hangup(ctx, id, "normal"); err != nil {
			b.log.Debug("leg cancel failed", "leg_id", id, "err", err)
		}
	}
}

// RecordingBytes fetches a finished recording from the PBX store.
func (b *Bridge) RecordingBytes(ctx context.Context, ref string) ([]byte, error) {
	return b.ari.StoredRecording(ctx, ref)
}

/* ===================== HELPERS ===================== */

func (b *Bridge) resolveMedia(key, language, text string) string {
	if text != "" {
		if digits := digitsOnly(text); digits != "" {
			return "digits:" + digits
		}
	}
	if key == "" {
		return ""
	}
	if language == "" {
		language = "en"
	}
	return b.media + "/" + key + "_" + language
}

func digitsOnly(s string) string {
	var out strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			out.WriteRune(r)
		}
	}
	return out.String()
}

func recordingName(callID string) string {
	return "hotline-" + callID
}

func legStateFromCause(cause int) telephony.LegState {
	switch cause {
	case causeBusy:
		return telephony.LegBusy
	case causeNoAnswer, causeNoResponse:
		return telephony.LegNoAnswer
	default:
		return telephony.LegHungUp
	}
}

// normalizeNumber gives bare national-format digits a leading "+" so the
// language detector and number hashing see one shape.
func normalizeNumber(n string) string {
	n = strings.TrimSpace(n)
	if n == "" || strings.HasPrefix(n, "+") {
		return n
	}
	if digitsOnly(n) == n {
		return "+" + n
	}
	return n
}
