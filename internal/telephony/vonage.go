package telephony

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"hotline-platform/internal/prompts"
)

const (
	vonageSignatureHeader = "X-Vonage-Signature"
	vonageTimestampHeader = "X-Vonage-Timestamp"
)

// VonageConfig configures the JSON/NCCO backend.
type VonageConfig struct {
	APIKey          string
	APISecret       string
	SignatureSecret string
	PublicBaseURL   string
	HotlineNumber   string

	BaseURL string // overrides the REST endpoint, for tests
}

// vonageAdapter implements CallControl against the NCCO dialect: JSON
// webhooks signed over "timestamp.body", JSON action arrays as responses.
type vonageAdapter struct {
	rest    *RestClient
	sig     BodySigner
	prompts prompts.Resolver
	public  string
	from    string
	log     *slog.Logger
}

func NewVonageAdapter(cfg VonageConfig, res prompts.Resolver, log *slog.Logger, hc *http.Client) CallControl {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.nexmo.com"
	}
	return &vonageAdapter{
		rest: &RestClient{
			BaseURL:    base,
			HTTPClient: hc,
			Decorate:   BasicAuth(cfg.APIKey, cfg.APISecret),
		},
		sig: BodySigner{
			Secret:          []byte(cfg.SignatureSecret),
			SignatureHeader: vonageSignatureHeader,
			TimestampHeader: vonageTimestampHeader,
			Hex:             true,
		},
		prompts: res,
		public:  cfg.PublicBaseURL,
		from:    cfg.HotlineNumber,
		log:     log,
	}
}

func (a *vonageAdapter) Name() string { return "vonage" }

func (a *vonageAdapter) ValidateAuthenticity(r *http.Request, body []byte) error {
	return a.sig.Validate(r, body, time.Now(), 5*time.Minute)
}

// vonageWebhook is the superset of fields across the JSON webhook kinds.
type vonageWebhook struct {
	UUID             string `json:"uuid"`
	ConversationUUID string `json:"conversation_uuid"`
	From             string `json:"from"`
	To               string `json:"to"`
	Status           string `json:"status"`
	DTMF             struct {
		Digits   string `json:"digits"`
		TimedOut bool   `json:"timed_out"`
	} `json:"dtmf"`
	RecordingURL  string `json:"recording_url"`
	Duration      string `json:"duration"`
	WaitedSeconds int    `json:"waited_seconds"`
	Reason        string `json:"reason"`
	Timestamp     string `json:"timestamp"`
}

func (a *vonageAdapter) ParseWebhook(kind WebhookKind, _ *http.Request, body []byte) (Event, error) {
	var w vonageWebhook
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, ErrMalformedWebhook
	}
	callID := w.UUID
	if callID == "" {
		callID = w.ConversationUUID
	}
	if callID == "" {
		return nil, ErrMalformedWebhook
	}

	switch kind {
	case WebhookIncoming:
		if w.From == "" || w.To == "" {
			return nil, ErrMalformedWebhook
		}
		return IncomingCall{CallID: callID, From: w.From, To: w.To, OccurredAt: time.Now().UTC()}, nil

	case WebhookDigits:
		return DigitsEntered{CallID: callID, Digits: w.DTMF.Digits}, nil

	case WebhookLegStatus:
		state, ok := vonageLegState(w.Status)
		if !ok {
			return nil, ErrMalformedWebhook
		}
		return LegStateChanged{LegID: w.UUID, State: state}, nil

	case WebhookQueueWait:
		return QueueWaitTick{CallID: callID, Waited: time.Duration(w.WaitedSeconds) * time.Second}, nil

	case WebhookQueueExit:
		return QueueExited{CallID: callID, Reason: QueueExitReason(w.Reason)}, nil

	case WebhookRecording:
		if w.RecordingURL == "" {
			return nil, ErrMalformedWebhook
		}
		var dur time.Duration
		if w.Duration != "" {
			if d, err := time.ParseDuration(w.Duration + "s"); err == nil {
				dur = d
			}
		}
		return RecordingReady{CallID: callID, RecordingRef: w.RecordingURL, Duration: dur}, nil
	}
	return nil, ErrMalformedWebhook
}

func vonageLegState(status string) (LegState, bool) {
	switch status {
	case "started", "ringing":
		return LegRinging, true
	case "answered":
		return LegAnswered, true
	case "busy":
		return LegBusy, true
	case "timeout", "unanswered":
		return LegNoAnswer, true
	case "failed", "rejected", "cancelled":
		return LegFailed, true
	case "completed":
		return LegHungUp, true
	}
	return "", false
}

// ncco is one action object; the response body is a JSON array of them.
type ncco map[string]any

func (a *vonageAdapter) Render(cmds []Command) (Response, error) {
	actions := make([]ncco, 0, len(cmds))
	for _, cmd := range cmds {
		switch c := cmd.(type) {
		case Speak:
			if c.Text != "" {
				actions = append(actions, ncco{"action": "talk", "text": c.Text, "language": c.Language})
				continue
			}
			actions = append(actions, a.promptAction(c.PromptKey, c.Language))
		case PlayAudio:
			actions = append(actions, ncco{"action": "stream", "streamUrl": []string{c.URL}, "loop": c.Loop})
		case GatherDigits:
			switch {
			case c.Text != "":
				actions = append(actions, ncco{"action": "talk", "text": c.Text, "language": c.Language, "bargeIn": true})
			case c.PromptKey != "":
				talk := a.promptAction(c.PromptKey, c.Language)
				talk["bargeIn"] = true
				actions = append(actions, talk)
			}
			actions = append(actions, ncco{
				"action":   "input",
				"type":     []string{"dtmf"},
				"dtmf":     ncco{"maxDigits": c.NumDigits, "timeOut": int(c.Timeout.Seconds())},
				"eventUrl": []string{a.public + c.ActionPath},
			})
		case Enqueue:
			// No native queue in this dialect; a held conversation with
			// music-on-hold plus a notify callback stands in for it.
			conv := ncco{"action": "conversation", "name": c.Queue, "startOnEnter": false}
			if p := a.prompts.Resolve(c.HoldPromptKey, c.Language); p.AudioURL != "" {
				conv["musicOnHoldUrl"] = []string{p.AudioURL}
			}
			actions = append(actions,
				ncco{"action": "notify", "payload": ncco{"queued": true}, "eventUrl": []string{a.public + c.WaitPath}},
				conv,
			)
		case HoldLoop:
			if p := a.prompts.Resolve(c.HoldPromptKey, c.Language); p.AudioURL != "" {
				actions = append(actions, ncco{"action": "stream", "streamUrl": []string{p.AudioURL}, "loop": 0})
			}
		case LeaveQueue:
			// The held conversation ends when the next NCCO replaces it.
		case Bridge:
			actions = append(actions, ncco{"action": "conversation", "name": c.Queue, "startOnEnter": true})
		case Record:
			if c.PromptKey != "" {
				actions = append(actions, a.promptAction(c.PromptKey, c.Language))
			}
			actions = append(actions, ncco{
				"action":       "record",
				"beepStart":    true,
				"endOnSilence": 3,
				"timeOut":      int(c.MaxDuration.Seconds()),
				"eventUrl":     []string{a.public + c.DonePath},
			})
		case Reject, Hangup:
			// An empty action list terminates the call; drop anything queued.
			actions = actions[:0]
		}
	}

	body, err := json.Marshal(actions)
	if err != nil {
		return Response{}, err
	}
	return Response{ContentType: "application/json", Body: body}, nil
}

func (a *vonageAdapter) promptAction(key, language string) ncco {
	p := a.prompts.Resolve(key, language)
	if p.AudioURL != "" {
		return ncco{"action": "stream", "streamUrl": []string{p.AudioURL}}
	}
	return ncco{"action": "talk", "text": p.Text, "language": language}
}

type vonageEndpoint struct {
	Type   string `json:"type"`
	Number string `json:"number,omitempty"`
	URI    string `json:"uri,omitempty"`
}

type vonageCallRequest struct {
	To           []vonageEndpoint `json:"to"`
	From         vonageEndpoint   `json:"from"`
	AnswerURL    []string         `json:"answer_url"`
	AnswerMethod string           `json:"answer_method"`
	EventURL     []string         `json:"event_url"`
	EventMethod  string           `json:"event_method"`
}

func (a *vonageAdapter) Originate(ctx context.Context, targets []DialTarget, oc OriginateContext) ([]Leg, error) {
	callerID := oc.CallerID
	if callerID == "" {
		callerID = a.from
	}

	var legs []Leg
	for _, t := range targets {
		ep := vonageEndpoint{Type: "phone", Number: t.Number}
		if t.Number == "" {
			ep = vonageEndpoint{Type: "sip", URI: t.Endpoint}
		}
		payload, err := json.Marshal(vonageCallRequest{
			To:           []vonageEndpoint{ep},
			From:         vonageEndpoint{Type: "phone", Number: callerID},
			AnswerURL:    []string{a.public + oc.AnswerPath},
			AnswerMethod: http.MethodPost,
			EventURL:     []string{a.public + oc.StatusPath},
			EventMethod:  http.MethodPost,
		})
		if err != nil {
			return legs, err
		}
		body, err := a.rest.Do(ctx, http.MethodPost, "/v1/calls", "application/json", payload)
		if err != nil {
			a.log.Warn("originate target failed", "provider", "vonage", "target", t.Identity, "err", err)
			continue
		}
		var out struct {
			UUID string `json:"uuid"`
		}
		if err := json.Unmarshal(body, &out); err != nil || out.UUID == "" {
			a.log.Warn("originate response unreadable", "provider", "vonage", "target", t.Identity, "err", err)
			continue
		}
		legs = append(legs, Leg{ID: out.UUID, Identity: t.Identity})
	}
	return legs, nil
}

func (a *vonageAdapter) CancelLegs(ctx context.Context, legIDs []string, exceptID string) {
	payload := []byte(`{"action":"hangup"}`)
	for _, id := range legIDs {
		if id == exceptID {
			continue
		}
		if _, err := a.rest.Do(ctx, http.MethodPut, "/v1/calls/"+id, "application/json", payload); err != nil {
			a.log.Debug("cancel leg failed", "provider", "vonage", "leg", id, "err", err)
		}
	}
}

func (a *vonageAdapter) FetchRecording(ctx context.Context, ref string) ([]byte, error) {
	if ref == "" {
		return nil, nil
	}
	path := ref
	if u, err := url.Parse(ref); err == nil && u.IsAbs() {
		path = u.Path
	}
	return a.rest.Do(ctx, http.MethodGet, path, "", nil)
}
