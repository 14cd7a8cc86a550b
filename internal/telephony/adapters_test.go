package telephony

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTwilio() CallControl {
	return NewTwilioAdapter(TwilioConfig{
		AccountSID:    "AC123",
		AuthToken:     "token",
		PublicBaseURL: "https://hotline.example.org",
		HotlineNumber: "+15550000",
	}, testResolver(), discardLog(), nil)
}

func TestXMLDialectParsesIncoming(t *testing.T) {
	ad := newTestTwilio()
	r := formRequest("/webhooks/incoming", url.Values{
		"CallSid": {"CA1"}, "From": {"+15550001"}, "To": {"+15550009"},
	})

	ev, err := ad.ParseWebhook(WebhookIncoming, r, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	in, ok := ev.(IncomingCall)
	if !ok {
		t.Fatalf("got %T", ev)
	}
	if in.CallID != "CA1" || in.From != "+15550001" || in.To != "+15550009" {
		t.Fatalf("bad event: %+v", in)
	}
}

func TestXMLDialectMissingCallIDIsMalformed(t *testing.T) {
	ad := newTestTwilio()
	r := formRequest("/webhooks/incoming", url.Values{"From": {"+15550001"}, "To": {"+15550009"}})

	if _, err := ad.ParseWebhook(WebhookIncoming, r, nil); !errors.Is(err, ErrMalformedWebhook) {
		t.Fatalf("want ErrMalformedWebhook, got %v", err)
	}
}

func TestXMLDialectEmptyDigitsIsValid(t *testing.T) {
	ad := newTestTwilio()
	r := formRequest("/webhooks/digits", url.Values{"CallSid": {"CA1"}})

	ev, err := ad.ParseWebhook(WebhookDigits, r, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d := ev.(DigitsEntered); d.Digits != "" {
		t.Fatalf("digits = %q, want empty", d.Digits)
	}
}

func TestXMLDialectLegStatusMapsStates(t *testing.T) {
	ad := newTestTwilio()
	cases := map[string]LegState{
		"ringing":     LegRinging,
		"in-progress": LegAnswered,
		"busy":        LegBusy,
		"no-answer":   LegNoAnswer,
		"completed":   LegHungUp,
	}
	for status, want := range cases {
		r := formRequest("/webhooks/leg-status", url.Values{
			"CallSid": {"CA2"}, "ParentCallSid": {"CA1"}, "CallStatus": {status},
		})
		ev, err := ad.ParseWebhook(WebhookLegStatus, r, nil)
		if err != nil {
			t.Fatalf("%s: %v", status, err)
		}
		leg := ev.(LegStateChanged)
		if leg.State != want || leg.LegID != "CA2" || leg.CallID != "CA1" {
			t.Fatalf("%s: got %+v", status, leg)
		}
	}
}

func TestXMLDialectSignatureGate(t *testing.T) {
	ad := newTestTwilio()
	form := url.Values{"CallSid": {"CA1"}, "From": {"+15550001"}, "To": {"+15550009"}}
	signer := NewSHA1URLSigner("token", twilioSignatureHeader)

	r := formRequest("/webhooks/incoming", form)
	r.Header.Set(twilioSignatureHeader, signer.Sign("https://hotline.example.org/webhooks/incoming", form))
	if err := ad.ValidateAuthenticity(r, nil); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	r = formRequest("/webhooks/incoming", form)
	r.Header.Set(twilioSignatureHeader, "bogus")
	if err := ad.ValidateAuthenticity(r, nil); !errors.Is(err, ErrAuthenticity) {
		t.Fatalf("want ErrAuthenticity, got %v", err)
	}
}

func newTestVonage() CallControl {
	return NewVonageAdapter(VonageConfig{
		APIKey:          "key",
		APISecret:       "secret",
		SignatureSecret: "signing",
		PublicBaseURL:   "https://hotline.example.org",
		HotlineNumber:   "+15550000",
	}, testResolver(), discardLog(), nil)
}

func TestVonageParsesIncomingJSON(t *testing.T) {
	ad := newTestVonage()
	body := []byte(`{"uuid":"v-1","from":"+15550001","to":"+15550009"}`)

	ev, err := ad.ParseWebhook(WebhookIncoming, nil, body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	in := ev.(IncomingCall)
	if in.CallID != "v-1" || in.From != "+15550001" {
		t.Fatalf("bad event: %+v", in)
	}
}

func TestVonageFallsBackToConversationID(t *testing.T) {
	ad := newTestVonage()
	body := []byte(`{"conversation_uuid":"conv-1","dtmf":{"digits":"42"}}`)

	ev, err := ad.ParseWebhook(WebhookDigits, nil, body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	d := ev.(DigitsEntered)
	if d.CallID != "conv-1" || d.Digits != "42" {
		t.Fatalf("bad event: %+v", d)
	}
}

func TestVonageBodySignatureGate(t *testing.T) {
	ad := newTestVonage()
	body := []byte(`{"uuid":"v-1","from":"+15550001","to":"+15550009"}`)
	sig := BodySigner{
		Secret:          []byte("signing"),
		SignatureHeader: vonageSignatureHeader,
		TimestampHeader: vonageTimestampHeader,
		Hex:             true,
	}

	r := httptest.NewRequest(http.MethodPost, "/webhooks/incoming", bytes.NewReader(body))
	sig.Attach(r, time.Now(), body)
	if err := ad.ValidateAuthenticity(r, body); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	r = httptest.NewRequest(http.MethodPost, "/webhooks/incoming", bytes.NewReader(body))
	if err := ad.ValidateAuthenticity(r, body); !errors.Is(err, ErrAuthenticity) {
		t.Fatalf("want ErrAuthenticity, got %v", err)
	}
}

func TestPlivoSignatureUsesNonce(t *testing.T) {
	ad := NewPlivoAdapter(PlivoConfig{
		AuthID:        "MA123",
		AuthToken:     "token",
		PublicBaseURL: "https://hotline.example.org",
		HotlineNumber: "+15550000",
	}, testResolver(), discardLog(), nil)

	mac := hmac.New(sha256.New, []byte("token"))
	mac.Write([]byte("https://hotline.example.org/webhooks/incoming"))
	mac.Write([]byte("nonce-1"))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	r := httptest.NewRequest(http.MethodPost, "/webhooks/incoming", strings.NewReader(""))
	r.Header.Set(plivoSignatureHeader, want)
	r.Header.Set(plivoNonceHeader, "nonce-1")
	if err := ad.ValidateAuthenticity(r, nil); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	r.Header.Set(plivoNonceHeader, "nonce-2")
	if err := ad.ValidateAuthenticity(r, nil); !errors.Is(err, ErrAuthenticity) {
		t.Fatalf("want ErrAuthenticity, got %v", err)
	}
}

func TestBridgeWireEventRoundTrip(t *testing.T) {
	events := []Event{
		IncomingCall{CallID: "ch-1", From: "+15550001", To: "+15550009", OccurredAt: time.Now().UTC().Truncate(time.Second)},
		DigitsEntered{CallID: "ch-1", Digits: ""},
		LegStateChanged{CallID: "ch-1", LegID: "leg-1", State: LegAnswered},
		QueueWaitTick{CallID: "ch-1", Waited: 45 * time.Second},
		QueueExited{CallID: "ch-1", Reason: QueueExitHangup},
		RecordingReady{CallID: "ch-1", RecordingRef: "hotline-ch-1", Duration: 12 * time.Second},
	}
	for _, ev := range events {
		got, err := EncodeEvent(ev).DecodeEvent()
		if err != nil {
			t.Fatalf("%T: %v", ev, err)
		}
		if got.Call() != ev.Call() {
			t.Fatalf("%T: call id %q != %q", ev, got.Call(), ev.Call())
		}
	}
}

func TestBridgeWireRejectsUnknownKind(t *testing.T) {
	if _, err := (WireEvent{Kind: "mystery", CallID: "ch-1"}).DecodeEvent(); !errors.Is(err, ErrMalformedWebhook) {
		t.Fatalf("want ErrMalformedWebhook, got %v", err)
	}
	if _, err := (WireEvent{Kind: "incoming"}).DecodeEvent(); !errors.Is(err, ErrMalformedWebhook) {
		t.Fatalf("missing call id: want ErrMalformedWebhook, got %v", err)
	}
}

func TestBridgeAdapterRenderDecodesToSameCommands(t *testing.T) {
	ad := NewBridgeAdapter(BridgeConfig{
		BaseURL:       "http://bridge.local:8089",
		SharedSecret:  "sidechannel",
		HotlineNumber: "+15550000",
	}, discardLog(), nil)

	in := []Command{
		Speak{PromptKey: "welcome", Language: "en"},
		GatherDigits{PromptKey: "captcha_intro", Language: "en", Text: "4, 7, 1", NumDigits: 3, Timeout: 10 * time.Second, ActionPath: "/webhooks/digits"},
		Enqueue{Queue: "hotline", WaitPath: "/webhooks/queue-wait", ExitPath: "/webhooks/queue-exit"},
		HoldLoop{WaitPath: "/webhooks/queue-wait"},
		LeaveQueue{},
		Record{MaxDuration: 180 * time.Second, DonePath: "/webhooks/recording"},
		Hangup{},
	}
	res, err := ad.Render(in)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if res.ContentType != "application/json" {
		t.Fatalf("content type = %q", res.ContentType)
	}

	out, err := DecodeCommands(res.Body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("decoded %d commands, want %d", len(out), len(in))
	}
	g := out[1].(GatherDigits)
	if g.Text != "4, 7, 1" || g.NumDigits != 3 || g.Timeout != 10*time.Second {
		t.Fatalf("gather lost fields: %+v", g)
	}
	if _, ok := out[4].(LeaveQueue); !ok {
		t.Fatalf("command 4 = %T, want LeaveQueue", out[4])
	}
}
