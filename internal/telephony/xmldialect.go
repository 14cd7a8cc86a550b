package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"hotline-platform/internal/prompts"
)

// xmlDialect implements CallControl for the hosted backends that speak the
// TwiML-style XML markup and form-encoded webhooks. The two providers differ
// only in REST base URL, account path, and signature algorithm, so both
// adapters are thin configurations of this one core (composition, not
// inheritance).
type xmlDialect struct {
	name       string
	rest       *RestClient
	sig        URLSigner
	prompts    prompts.Resolver
	public     string // our public base URL, used for callbacks and signature validation
	from       string // hotline number presented on outbound legs
	accountSID string
	log        *slog.Logger
}

func (d *xmlDialect) Name() string { return d.name }

func (d *xmlDialect) ValidateAuthenticity(r *http.Request, _ []byte) error {
	return d.sig.Validate(r, d.public+r.URL.RequestURI())
}

func (d *xmlDialect) ParseWebhook(kind WebhookKind, r *http.Request, _ []byte) (Event, error) {
	if err := r.ParseForm(); err != nil {
		return nil, ErrMalformedWebhook
	}
	callID := r.PostFormValue("CallSid")
	if callID == "" {
		return nil, ErrMalformedWebhook
	}

	switch kind {
	case WebhookIncoming:
		from := r.PostFormValue("From")
		to := r.PostFormValue("To")
		if from == "" || to == "" {
			return nil, ErrMalformedWebhook
		}
		return IncomingCall{CallID: callID, From: from, To: to, OccurredAt: time.Now().UTC()}, nil

	case WebhookDigits:
		// Empty Digits is a legitimate gather timeout, not a parse failure.
		return DigitsEntered{CallID: callID, Digits: r.PostFormValue("Digits")}, nil

	case WebhookLegStatus:
		state, ok := xmlLegState(r.PostFormValue("CallStatus"))
		if !ok {
			return nil, ErrMalformedWebhook
		}
		return LegStateChanged{CallID: r.PostFormValue("ParentCallSid"), LegID: callID, State: state}, nil

	case WebhookQueueWait:
		secs, err := strconv.Atoi(r.PostFormValue("QueueTime"))
		if err != nil {
			return nil, ErrMalformedWebhook
		}
		return QueueWaitTick{CallID: callID, Waited: time.Duration(secs) * time.Second}, nil

	case WebhookQueueExit:
		return QueueExited{CallID: callID, Reason: xmlQueueReason(r.PostFormValue("QueueResult"))}, nil

	case WebhookRecording:
		ref := r.PostFormValue("RecordingUrl")
		if ref == "" {
			ref = r.PostFormValue("RecordingSid")
		}
		if ref == "" {
			return nil, ErrMalformedWebhook
		}
		secs, _ := strconv.Atoi(r.PostFormValue("RecordingDuration"))
		return RecordingReady{CallID: callID, RecordingRef: ref, Duration: time.Duration(secs) * time.Second}, nil
	}
	return nil, ErrMalformedWebhook
}

func xmlLegState(status string) (LegState, bool) {
	switch status {
	case "initiated", "queued":
		return LegRinging, true
	case "ringing":
		return LegRinging, true
	case "in-progress", "answered":
		return LegAnswered, true
	case "busy":
		return LegBusy, true
	case "no-answer":
		return LegNoAnswer, true
	case "failed", "canceled":
		return LegFailed, true
	case "completed":
		return LegHungUp, true
	}
	return "", false
}

func xmlQueueReason(result string) QueueExitReason {
	switch result {
	case "hangup":
		return QueueExitHangup
	case "bridged", "bridging-in-process", "redirected":
		return QueueExitDequeued
	case "leave":
		return QueueExitLeave
	default:
		return QueueExitError
	}
}

func (d *xmlDialect) Render(cmds []Command) (Response, error) {
	return renderTwiML(cmds, d.prompts, d.public)
}

func (d *xmlDialect) Originate(ctx context.Context, targets []DialTarget, oc OriginateContext) ([]Leg, error) {
	callerID := oc.CallerID
	if callerID == "" {
		callerID = d.from
	}

	var legs []Leg
	for _, t := range targets {
		to := t.Number
		if to == "" {
			to = t.Endpoint
		}
		form := url.Values{}
		form.Set("To", to)
		form.Set("From", callerID)
		form.Set("Url", d.public+oc.AnswerPath)
		form.Set("StatusCallback", d.public+oc.StatusPath)
		form.Set("StatusCallbackEvent", "ringing answered completed")

		body, err := d.rest.PostForm(ctx, d.callsPath(""), form)
		if err != nil {
			// Partial origination failure is tolerated: keep dialing the rest.
			d.log.Warn("originate target failed", "provider", d.name, "target", t.Identity, "err", err)
			continue
		}
		var out struct {
			SID string `json:"sid"`
		}
		if err := json.Unmarshal(body, &out); err != nil || out.SID == "" {
			d.log.Warn("originate response unreadable", "provider", d.name, "target", t.Identity, "err", err)
			continue
		}
		legs = append(legs, Leg{ID: out.SID, Identity: t.Identity})
	}
	return legs, nil
}

func (d *xmlDialect) CancelLegs(ctx context.Context, legIDs []string, exceptID string) {
	for _, id := range legIDs {
		if id == exceptID {
			continue
		}
		form := url.Values{}
		form.Set("Status", "completed")
		if _, err := d.rest.PostForm(ctx, d.callsPath(id), form); err != nil {
			// Best effort: the leg may already be gone.
			d.log.Debug("cancel leg failed", "provider", d.name, "leg", id, "err", err)
		}
	}
}

func (d *xmlDialect) FetchRecording(ctx context.Context, ref string) ([]byte, error) {
	if ref == "" {
		return nil, nil
	}
	// Absolute refs are recording URLs; bare SIDs resolve under the account.
	path := ref
	if u, err := url.Parse(ref); err == nil && u.IsAbs() {
		path = u.Path
	} else {
		path = fmt.Sprintf("/2010-04-01/Accounts/%s/Recordings/%s", d.accountSID, ref)
	}
	body, err := d.rest.Do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (d *xmlDialect) callsPath(legID string) string {
	if legID == "" {
		return fmt.Sprintf("/2010-04-01/Accounts/%s/Calls.json", d.accountSID)
	}
	return fmt.Sprintf("/2010-04-01/Accounts/%s/Calls/%s.json", d.accountSID, legID)
}
