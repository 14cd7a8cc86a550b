package pbx

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Publisher pushes call lifecycle notifications to an external monitoring
// topic. Publishing is best-effort; failures never influence call handling.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// NoopPublisher is used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, []byte) error { return nil }
func (NoopPublisher) Close() error                                  { return nil }

// lifecycleEvent is the payload shape on the lifecycle topic. Caller numbers
// never appear here.
type lifecycleEvent struct {
	CallID string    `json:"call_id"`
	Event  string    `json:"event"`
	At     time.Time `json:"at"`
}

func publishLifecycle(ctx context.Context, pub Publisher, log *slog.Logger, prefix, callID, event string) {
	payload, err := json.Marshal(lifecycleEvent{CallID: callID, Event: event, At: time.Now().UTC()})
	if err != nil {
		return
	}
	if err := pub.Publish(ctx, prefix+"/calls/"+callID, payload); err != nil {
		log.Warn("lifecycle publish failed", "call_id", callID, "event", event, "err", err)
	}
}
