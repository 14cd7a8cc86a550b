package pbx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotline-platform/internal/callflow"
	"hotline-platform/internal/telephony"
)

type fakeARI struct {
	mu       sync.Mutex
	ops      []string
	nextLeg  int
	nextPlay int
	eventErr error
}

func (f *fakeARI) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
}

func (f *fakeARI) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.ops))
	copy(out, f.ops)
	return out
}

func (f *fakeARI) has(op string) bool {
	for _, o := range f.Ops() {
		if o == op {
			return true
		}
	}
	return false
}

func (f *fakeARI) Answer(_ context.Context, id string) error {
	f.record("answer:" + id)
	return nil
}

func (f *fakeARI) Hangup(_ context.Context, id, reason string) error {
	f.record("hangup:" + id + ":" + reason)
	return nil
}

func (f *fakeARI) Play(_ context.Context, id, media string) (string, error) {
	f.mu.Lock()
	f.nextPlay++
	pb := fmt.Sprintf("pb-%d", f.nextPlay)
	f.ops = append(f.ops, "play:"+id+":"+media)
	f.mu.Unlock()
	return pb, nil
}

func (f *fakeARI) StartHold(_ context.Context, id string) error {
	f.record("hold-start:" + id)
	return nil
}

func (f *fakeARI) StopHold(_ context.Context, id string) error {
	f.record("hold-stop:" + id)
	return nil
}

func (f *fakeARI) Originate(_ context.Context, endpoint, callerID string, _ []string) (string, error) {
	f.mu.Lock()
	f.nextLeg++
	id := fmt.Sprintf("leg-%d", f.nextLeg)
	f.ops = append(f.ops, "originate:"+endpoint+":"+callerID)
	f.mu.Unlock()
	return id, nil
}

func (f *fakeARI) Record(_ context.Context, id, name string, maxSeconds int) error {
	f.record(fmt.Sprintf("record:%s:%s:%d", id, name, maxSeconds))
	return nil
}

func (f *fakeARI) StoredRecording(_ context.Context, name string) ([]byte, error) {
	f.record("fetch:" + name)
	return []byte("RIFFdata"), nil
}

func (f *fakeARI) CreateBridge(_ context.Context) (string, error) {
	f.record("bridge-create")
	return "br-1", nil
}

func (f *fakeARI) AddToBridge(_ context.Context, bridgeID, channelID string) error {
	f.record("bridge-add:" + bridgeID + ":" + channelID)
	return nil
}

func (f *fakeARI) DestroyBridge(_ context.Context, bridgeID string) error {
	f.record("bridge-destroy:" + bridgeID)
	return nil
}

func (f *fakeARI) Ping(context.Context) error { return f.eventErr }

type postedEvent struct {
	path  string
	event telephony.Event
}

type fakePoster struct {
	mu      sync.Mutex
	posts   []postedEvent
	replies map[string][]telephony.Command
}

func newFakePoster() *fakePoster {
	return &fakePoster{replies: make(map[string][]telephony.Command)}
}

func (f *fakePoster) PostEvent(_ context.Context, path string, ev telephony.Event) ([]telephony.Command, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, postedEvent{path: path, event: ev})
	return f.replies[path], nil
}

func (f *fakePoster) Posts() []postedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]postedEvent, len(f.posts))
	copy(out, f.posts)
	return out
}

func (f *fakePoster) postsTo(path string) int {
	n := 0
	for _, p := range f.Posts() {
		if p.path == path {
			n++
		}
	}
	return n
}

func newTestBridge(t *testing.T) (*Bridge, *fakeARI, *fakePoster, *MockPublisher) {
	t.Helper()
	cfg := &Config{
		ARI:  ARIConfig{EndpointTemplate: "PJSIP/%s@trunk", MediaPrefix: "sound:hotline"},
		MQTT: MQTTConfig{TopicPrefix: "hotline"},
	}
	ari := &fakeARI{}
	poster := newFakePoster()
	pub := NewMockPublisher()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewBridge(cfg, ari, nil, poster, pub, log), ari, poster, pub
}

func inboundStart(id, from string) ariEvent {
	ch := &ariChannel{ID: id}
	ch.Caller.Number = from
	ch.Dialplan.Exten = "100"
	return ariEvent{Type: "StasisStart", Channel: ch}
}

func TestInboundCallPostsAndExecutes(t *testing.T) {
	b, ari, poster, _ := newTestBridge(t)
	poster.replies[callflow.PathIncoming] = []telephony.Command{
		telephony.Speak{PromptKey: "welcome", Language: "en"},
	}

	b.handleEvent(context.Background(), inboundStart("ch-1", "491701234567"))

	posts := poster.Posts()
	require.Len(t, posts, 1)
	in, ok := posts[0].event.(telephony.IncomingCall)
	require.True(t, ok)
	assert.Equal(t, "ch-1", in.CallID)
	assert.Equal(t, "+491701234567", in.From, "bare national digits get a plus prefix")

	assert.True(t, ari.has("answer:ch-1"))
	assert.True(t, ari.has("play:ch-1:sound:hotline/welcome_en"))
}

func TestRejectedCallIsNeverAnswered(t *testing.T) {
	b, ari, poster, _ := newTestBridge(t)
	poster.replies[callflow.PathIncoming] = []telephony.Command{
		telephony.Reject{Reason: "rejected"},
	}

	b.handleEvent(context.Background(), inboundStart("ch-1", "+15550001"))

	assert.False(t, ari.has("answer:ch-1"))
	assert.True(t, ari.has("hangup:ch-1:busy"))
}

func TestDuplicateDestroyIsIdempotent(t *testing.T) {
	b, _, poster, _ := newTestBridge(t)

	ctx := context.Background()
	b.handleEvent(ctx, inboundStart("ch-1", "+15550001"))
	b.handleEvent(ctx, ariEvent{Type: "ChannelDestroyed", Channel: &ariChannel{ID: "ch-1"}})
	b.handleEvent(ctx, ariEvent{Type: "ChannelDestroyed", Channel: &ariChannel{ID: "ch-1"}})

	assert.Equal(t, 1, poster.postsTo(callflow.PathLegStatus), "second destroy must not repost")
}

func TestGatherCollectsDigitsThenPosts(t *testing.T) {
	b, _, poster, _ := newTestBridge(t)
	poster.replies[callflow.PathIncoming] = []telephony.Command{
		telephony.GatherDigits{PromptKey: "captcha_intro", Language: "en", NumDigits: 3, Timeout: time.Minute, ActionPath: callflow.PathDigits},
	}

	ctx := context.Background()
	b.handleEvent(ctx, inboundStart("ch-1", "+15550001"))
	for _, d := range []string{"4", "7", "1"} {
		b.handleEvent(ctx, ariEvent{Type: "ChannelDtmfReceived", Channel: &ariChannel{ID: "ch-1"}, Digit: d})
	}

	posts := poster.Posts()
	require.Len(t, posts, 2)
	digits, ok := posts[1].event.(telephony.DigitsEntered)
	require.True(t, ok)
	assert.Equal(t, "471", digits.Digits)
	assert.Equal(t, callflow.PathDigits, posts[1].path)
}

func TestGatherTimeoutPostsEmptyDigits(t *testing.T) {
	b, _, poster, _ := newTestBridge(t)
	poster.replies[callflow.PathIncoming] = []telephony.Command{
		telephony.GatherDigits{NumDigits: 1, Timeout: 30 * time.Millisecond, ActionPath: callflow.PathDigits},
	}

	b.handleEvent(context.Background(), inboundStart("ch-1", "+15550001"))

	require.Eventually(t, func() bool {
		return poster.postsTo(callflow.PathDigits) == 1
	}, 2*time.Second, 10*time.Millisecond)

	posts := poster.Posts()
	digits := posts[len(posts)-1].event.(telephony.DigitsEntered)
	assert.Empty(t, digits.Digits, "a timed-out gather still reports, with no digits")
}

func TestAnsweredLegIsBridgedToCaller(t *testing.T) {
	b, ari, poster, pub := newTestBridge(t)

	ctx := context.Background()
	b.handleEvent(ctx, inboundStart("ch-1", "+15550001"))

	legs := b.OriginateLegs(ctx, "ch-1", "+15550000", []telephony.DialTarget{
		{Identity: "alice", Number: "+15550002"},
	})
	require.Equal(t, []telephony.Leg{{ID: "leg-1", Identity: "alice"}}, legs)
	assert.True(t, ari.has("originate:PJSIP/15550002@trunk:+15550000"))

	poster.replies[callflow.PathAnswer] = []telephony.Command{
		telephony.Speak{PromptKey: "volunteer_connect", Language: "en"},
		telephony.Bridge{Queue: "hotline", LegID: "leg-1"},
	}
	b.handleEvent(ctx, ariEvent{Type: "StasisStart", Args: []string{"outbound", "ch-1"}, Channel: &ariChannel{ID: "leg-1"}})

	assert.True(t, ari.has("bridge-create"))
	assert.True(t, ari.has("bridge-add:br-1:ch-1"))
	assert.True(t, ari.has("bridge-add:br-1:leg-1"))

	var answered bool
	for _, m := range pub.Messages() {
		if m.Topic == "hotline/calls/ch-1" && string(m.Payload) != "" {
			answered = true
		}
	}
	assert.True(t, answered, "lifecycle publisher sees the call")
}

func TestUnknownAnsweredLegIsHungUp(t *testing.T) {
	b, ari, poster, _ := newTestBridge(t)

	b.handleEvent(context.Background(), ariEvent{Type: "StasisStart", Args: []string{"outbound", "ch-9"}, Channel: &ariChannel{ID: "leg-9"}})

	assert.True(t, ari.has("hangup:leg-9:normal"))
	assert.Equal(t, 0, poster.postsTo(callflow.PathAnswer))
}

func TestVoicemailSequenceDefersHangupUntilRecordingDone(t *testing.T) {
	b, ari, poster, _ := newTestBridge(t)
	poster.replies[callflow.PathIncoming] = []telephony.Command{
		telephony.Speak{PromptKey: "voicemail_intro", Language: "en"},
		telephony.Record{MaxDuration: 30 * time.Second, DonePath: callflow.PathRecording},
		telephony.Hangup{},
	}
	poster.replies[callflow.PathRecording] = []telephony.Command{telephony.Hangup{}}

	ctx := context.Background()
	b.handleEvent(ctx, inboundStart("ch-1", "+15550001"))

	// Intro playing; nothing else may run yet.
	assert.False(t, ari.has("record:ch-1:hotline-ch-1:30"))
	assert.False(t, ari.has("hangup:ch-1:normal"))

	b.handleEvent(ctx, ariEvent{Type: "PlaybackFinished", Playback: &ariPlayback{ID: "pb-1"}})
	assert.True(t, ari.has("record:ch-1:hotline-ch-1:30"))
	assert.False(t, ari.has("hangup:ch-1:normal"), "hangup must wait for the recording")

	b.handleEvent(ctx, ariEvent{Type: "RecordingFinished", Recording: &ariRecording{
		Name: "hotline-ch-1", Duration: 12, TargetURI: "channel:ch-1",
	}})

	require.Equal(t, 1, poster.postsTo(callflow.PathRecording))
	assert.True(t, ari.has("hangup:ch-1:normal"))
}

func TestQueueTickerReportsWaitAndRunsReplies(t *testing.T) {
	b, ari, poster, _ := newTestBridge(t)
	b.tick = 20 * time.Millisecond
	poster.replies[callflow.PathIncoming] = []telephony.Command{
		telephony.Enqueue{Queue: "hotline", WaitPath: callflow.PathQueueWait, ExitPath: callflow.PathQueueExit},
	}
	poster.replies[callflow.PathQueueWait] = []telephony.Command{telephony.HoldLoop{}}

	b.handleEvent(context.Background(), inboundStart("ch-1", "+15550001"))
	assert.True(t, ari.has("hold-start:ch-1"))

	require.Eventually(t, func() bool {
		return poster.postsTo(callflow.PathQueueWait) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	// Hang up the caller; the ticker must stop.
	b.handleEvent(context.Background(), ariEvent{Type: "ChannelDestroyed", Channel: &ariChannel{ID: "ch-1"}})
	n := poster.postsTo(callflow.PathQueueWait)
	time.Sleep(60 * time.Millisecond)
	assert.LessOrEqual(t, poster.postsTo(callflow.PathQueueWait), n+1)
}

func TestNextBackoffDoublesAndCaps(t *testing.T) {
	d := time.Second
	var seen []time.Duration
	for i := 0; i < 7; i++ {
		d = nextBackoff(d)
		seen = append(seen, d)
	}
	assert.Equal(t, []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
		30 * time.Second, 30 * time.Second, 30 * time.Second,
	}, seen)
}
