package telephony

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"hotline-platform/internal/prompts"
)

const (
	plivoSignatureHeader = "X-Plivo-Signature-V2"
	plivoNonceHeader     = "X-Plivo-Signature-V2-Nonce"
)

// PlivoConfig configures the hybrid backend: JSON webhook payloads in, XML
// call-control documents out.
type PlivoConfig struct {
	AuthID        string
	AuthToken     string
	PublicBaseURL string
	HotlineNumber string

	BaseURL string // overrides the REST endpoint, for tests
}

type plivoAdapter struct {
	rest    *RestClient
	secret  []byte
	prompts prompts.Resolver
	public  string
	from    string
	authID  string
	log     *slog.Logger
}

func NewPlivoAdapter(cfg PlivoConfig, res prompts.Resolver, log *slog.Logger, hc *http.Client) CallControl {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.plivo.com"
	}
	return &plivoAdapter{
		rest: &RestClient{
			BaseURL:    base,
			HTTPClient: hc,
			Decorate:   BasicAuth(cfg.AuthID, cfg.AuthToken),
		},
		secret:  []byte(cfg.AuthToken),
		prompts: res,
		public:  cfg.PublicBaseURL,
		from:    cfg.HotlineNumber,
		authID:  cfg.AuthID,
		log:     log,
	}
}

func (a *plivoAdapter) Name() string { return "plivo" }

// ValidateAuthenticity checks the V2 scheme: base64 HMAC-SHA256 over the full
// webhook URL concatenated with the per-request nonce.
func (a *plivoAdapter) ValidateAuthenticity(r *http.Request, _ []byte) error {
	got := r.Header.Get(plivoSignatureHeader)
	nonce := r.Header.Get(plivoNonceHeader)
	if got == "" || nonce == "" {
		return ErrAuthenticity
	}
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(a.public + r.URL.RequestURI()))
	mac.Write([]byte(nonce))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(got), []byte(want)) {
		return ErrAuthenticity
	}
	return nil
}

type plivoWebhook struct {
	CallUUID          string `json:"CallUUID"`
	ParentCallUUID    string `json:"ParentCallUUID"`
	From              string `json:"From"`
	To                string `json:"To"`
	CallStatus        string `json:"CallStatus"`
	Digits            string `json:"Digits"`
	RecordURL         string `json:"RecordUrl"`
	RecordingDuration int    `json:"RecordingDuration"`
	QueueSeconds      int    `json:"QueueSeconds"`
	ExitReason        string `json:"ExitReason"`
}

func (a *plivoAdapter) ParseWebhook(kind WebhookKind, _ *http.Request, body []byte) (Event, error) {
	var w plivoWebhook
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, ErrMalformedWebhook
	}
	if w.CallUUID == "" {
		return nil, ErrMalformedWebhook
	}

	switch kind {
	case WebhookIncoming:
		if w.From == "" || w.To == "" {
			return nil, ErrMalformedWebhook
		}
		return IncomingCall{CallID: w.CallUUID, From: w.From, To: w.To, OccurredAt: time.Now().UTC()}, nil
	case WebhookDigits:
		return DigitsEntered{CallID: w.CallUUID, Digits: w.Digits}, nil
	case WebhookLegStatus:
		state, ok := plivoLegState(w.CallStatus)
		if !ok {
			return nil, ErrMalformedWebhook
		}
		return LegStateChanged{CallID: w.ParentCallUUID, LegID: w.CallUUID, State: state}, nil
	case WebhookQueueWait:
		return QueueWaitTick{CallID: w.CallUUID, Waited: time.Duration(w.QueueSeconds) * time.Second}, nil
	case WebhookQueueExit:
		return QueueExited{CallID: w.CallUUID, Reason: QueueExitReason(w.ExitReason)}, nil
	case WebhookRecording:
		if w.RecordURL == "" {
			return nil, ErrMalformedWebhook
		}
		return RecordingReady{
			CallID:       w.CallUUID,
			RecordingRef: w.RecordURL,
			Duration:     time.Duration(w.RecordingDuration) * time.Second,
		}, nil
	}
	return nil, ErrMalformedWebhook
}

func plivoLegState(status string) (LegState, bool) {
	switch status {
	case "ringing", "ring":
		return LegRinging, true
	case "answer", "in-progress":
		return LegAnswered, true
	case "busy":
		return LegBusy, true
	case "no-answer", "timeout":
		return LegNoAnswer, true
	case "failed", "cancel":
		return LegFailed, true
	case "completed", "hangup":
		return LegHungUp, true
	}
	return "", false
}

// Plivo XML document types. The dialect has no queue verb; the hold loop is a
// play-then-redirect cycle that doubles as the wait tick.

type plivoResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type plivoSpeak struct {
	XMLName  xml.Name `xml:"Speak"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

type plivoPlay struct {
	XMLName xml.Name `xml:"Play"`
	Loop    int      `xml:"loop,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

type plivoGetDigits struct {
	XMLName   xml.Name `xml:"GetDigits"`
	Action    string   `xml:"action,attr"`
	Method    string   `xml:"method,attr"`
	NumDigits int      `xml:"numDigits,attr,omitempty"`
	Timeout   int      `xml:"timeout,attr,omitempty"`
	Speak     *plivoSpeak
	Play      *plivoPlay
}

type plivoDial struct {
	XMLName    xml.Name `xml:"Dial"`
	Conference string   `xml:"Conference,omitempty"`
	Number     string   `xml:"Number,omitempty"`
}

type plivoRecord struct {
	XMLName   xml.Name `xml:"Record"`
	Action    string   `xml:"action,attr"`
	Method    string   `xml:"method,attr"`
	MaxLength int      `xml:"maxLength,attr,omitempty"`
	PlayBeep  bool     `xml:"playBeep,attr"`
}

type plivoHangup struct {
	XMLName xml.Name `xml:"Hangup"`
	Reason  string   `xml:"reason,attr,omitempty"`
}

type plivoRedirect struct {
	XMLName xml.Name `xml:"Redirect"`
	URL     string   `xml:",chardata"`
}

func (a *plivoAdapter) Render(cmds []Command) (Response, error) {
	var r plivoResponse

	for _, cmd := range cmds {
		switch c := cmd.(type) {
		case Speak:
			if c.Text != "" {
				r.Verbs = append(r.Verbs, plivoSpeak{Language: c.Language, Text: c.Text})
				continue
			}
			r.Verbs = append(r.Verbs, a.promptVerb(c.PromptKey, c.Language))
		case PlayAudio:
			r.Verbs = append(r.Verbs, plivoPlay{URL: c.URL, Loop: c.Loop})
		case GatherDigits:
			g := plivoGetDigits{
				Action:    a.public + c.ActionPath,
				Method:    "POST",
				NumDigits: c.NumDigits,
				Timeout:   int(c.Timeout.Seconds()),
			}
			switch {
			case c.Text != "":
				g.Speak = &plivoSpeak{Language: c.Language, Text: c.Text}
			case c.PromptKey != "":
				switch v := a.promptVerb(c.PromptKey, c.Language).(type) {
				case plivoSpeak:
					g.Speak = &v
				case plivoPlay:
					g.Play = &v
				}
			}
			r.Verbs = append(r.Verbs, g, plivoRedirect{URL: a.public + c.ActionPath})
		case Enqueue:
			// Hold loop: play, then bounce through the wait path so the
			// orchestrator sees a tick and can re-render or divert us.
			if c.HoldPromptKey != "" {
				r.Verbs = append(r.Verbs, a.promptVerb(c.HoldPromptKey, c.Language))
			}
			r.Verbs = append(r.Verbs, plivoRedirect{URL: a.public + c.WaitPath})
		case HoldLoop:
			// No native queue here: hold content plus a bounce through the
			// wait path keeps the loop (and the tick stream) alive.
			if c.HoldPromptKey != "" {
				r.Verbs = append(r.Verbs, a.promptVerb(c.HoldPromptKey, c.Language))
			}
			r.Verbs = append(r.Verbs, plivoRedirect{URL: a.public + c.WaitPath})
		case LeaveQueue:
			// The hold loop is a redirect cycle, so leaving is a no-op verb;
			// the next cycle's response diverts the caller.
		case Bridge:
			r.Verbs = append(r.Verbs, plivoDial{Conference: c.Queue})
		case Record:
			if c.PromptKey != "" {
				r.Verbs = append(r.Verbs, a.promptVerb(c.PromptKey, c.Language))
			}
			r.Verbs = append(r.Verbs, plivoRecord{
				Action:    a.public + c.DonePath,
				Method:    "POST",
				MaxLength: int(c.MaxDuration.Seconds()),
				PlayBeep:  true,
			})
		case Reject:
			r.Verbs = append(r.Verbs, plivoHangup{Reason: "rejected"})
		case Hangup:
			r.Verbs = append(r.Verbs, plivoHangup{})
		default:
			return Response{}, fmt.Errorf("telephony: plivo cannot render %T", cmd)
		}
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return Response{}, err
	}
	if err := enc.Flush(); err != nil {
		return Response{}, err
	}
	return Response{ContentType: "application/xml", Body: buf.Bytes()}, nil
}

func (a *plivoAdapter) promptVerb(key, language string) any {
	p := a.prompts.Resolve(key, language)
	if p.AudioURL != "" {
		return plivoPlay{URL: p.AudioURL}
	}
	return plivoSpeak{Language: language, Text: p.Text}
}

func (a *plivoAdapter) Originate(ctx context.Context, targets []DialTarget, oc OriginateContext) ([]Leg, error) {
	callerID := oc.CallerID
	if callerID == "" {
		callerID = a.from
	}

	var legs []Leg
	for _, t := range targets {
		to := t.Number
		if to == "" {
			to = t.Endpoint
		}
		payload, err := json.Marshal(map[string]string{
			"to":                to,
			"from":              callerID,
			"answer_url":        a.public + oc.AnswerPath,
			"answer_method":     http.MethodPost,
			"ring_url":          a.public + oc.StatusPath,
			"hangup_url":        a.public + oc.StatusPath,
			"machine_detection": "false",
		})
		if err != nil {
			return legs, err
		}
		body, err := a.rest.Do(ctx, http.MethodPost, a.callPath(""), "application/json", payload)
		if err != nil {
			a.log.Warn("originate target failed", "provider", "plivo", "target", t.Identity, "err", err)
			continue
		}
		var out struct {
			RequestUUID string `json:"request_uuid"`
		}
		if err := json.Unmarshal(body, &out); err != nil || out.RequestUUID == "" {
			a.log.Warn("originate response unreadable", "provider", "plivo", "target", t.Identity, "err", err)
			continue
		}
		legs = append(legs, Leg{ID: out.RequestUUID, Identity: t.Identity})
	}
	return legs, nil
}

func (a *plivoAdapter) CancelLegs(ctx context.Context, legIDs []string, exceptID string) {
	for _, id := range legIDs {
		if id == exceptID {
			continue
		}
		if _, err := a.rest.Do(ctx, http.MethodDelete, a.callPath(id), "", nil); err != nil {
			a.log.Debug("cancel leg failed", "provider", "plivo", "leg", id, "err", err)
		}
	}
}

func (a *plivoAdapter) FetchRecording(ctx context.Context, ref string) ([]byte, error) {
	if ref == "" {
		return nil, nil
	}
	path := ref
	if u, err := url.Parse(ref); err == nil && u.IsAbs() {
		path = u.Path
	}
	return a.rest.Do(ctx, http.MethodGet, path, "", nil)
}

func (a *plivoAdapter) callPath(id string) string {
	if id == "" {
		return fmt.Sprintf("/v1/Account/%s/Call/", a.authID)
	}
	return fmt.Sprintf("/v1/Account/%s/Call/%s/", a.authID, id)
}
