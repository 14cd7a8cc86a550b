package telephony

import (
	"context"
	"errors"
	"net/http"
)

// Sentinel errors for the adapter boundary. Handlers map these to HTTP
// behavior: ErrMalformedWebhook -> log + empty 200 (no state change),
// ErrAuthenticity -> bare 403.
var (
	ErrMalformedWebhook = errors.New("telephony: malformed webhook")
	ErrAuthenticity     = errors.New("telephony: authenticity check failed")
)

// WebhookKind names the fixed POST endpoints of the webhook surface. Each kind
// corresponds 1:1 to a canonical event.
type WebhookKind string

const (
	WebhookIncoming  WebhookKind = "incoming"
	WebhookDigits    WebhookKind = "digits"
	WebhookLegStatus WebhookKind = "leg-status"
	WebhookQueueWait WebhookKind = "queue-wait"
	WebhookQueueExit WebhookKind = "queue-exit"
	WebhookRecording WebhookKind = "recording"
)

// Response is a rendered provider reply ready to be written to the webhook
// HTTP response.
type Response struct {
	ContentType string
	Body        []byte
}

// DialTarget is one volunteer endpoint to ring.
type DialTarget struct {
	Identity string // volunteer identity, for bookkeeping only
	Number   string // E.164, or empty when Endpoint is set
	Endpoint string // sip/client endpoint, when not a PSTN number
}

// Leg is one created outbound leg paired with the volunteer it dials. The
// pairing is made by the adapter at creation time so that a partial
// origination failure can never shift attribution between volunteers.
type Leg struct {
	ID       string `json:"leg_id"`
	Identity string `json:"identity,omitempty"`
}

// OriginateContext carries what an adapter needs to place outbound legs for a
// parent call.
type OriginateContext struct {
	ParentCallID string
	CallerID     string // number presented to the volunteer
	AnswerPath   string // webhook hit when a leg answers
	StatusPath   string // webhook hit on leg status changes
	Language     string
}

// CallControl is the canonical call-control contract. One adapter instance per
// active backend, selected by configuration.
//
// Rules:
//   - No provider field names outside the adapter that owns them.
//   - ValidateAuthenticity runs before any parsing; failure means the request
//     is discarded with no state change.
//   - Originate tolerates partial failure: it returns the legs it actually
//     created and never errors for a subset failure.
//   - CancelLegs is best effort; a leg that is already gone is not an error.
//   - FetchRecording returning (nil, nil) means "nothing to transcribe".
type CallControl interface {
	Name() string

	ValidateAuthenticity(r *http.Request, body []byte) error
	ParseWebhook(kind WebhookKind, r *http.Request, body []byte) (Event, error)
	Render(cmds []Command) (Response, error)

	Originate(ctx context.Context, targets []DialTarget, oc OriginateContext) ([]Leg, error)
	CancelLegs(ctx context.Context, legIDs []string, exceptID string)
	FetchRecording(ctx context.Context, ref string) ([]byte, error)
}
