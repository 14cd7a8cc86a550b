package telephony

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func formRequest(target string, form url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestURLSignerValidates(t *testing.T) {
	s := NewSHA1URLSigner("token", "X-Test-Signature")
	public := "https://hotline.example.org/webhooks/incoming"
	form := url.Values{"CallSid": {"CA1"}, "From": {"+15550001"}, "To": {"+15550009"}}

	r := formRequest("/webhooks/incoming", form)
	r.Header.Set("X-Test-Signature", s.Sign(public, form))
	if err := s.Validate(r, public); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
}

func TestURLSignerRejectsTamperedParams(t *testing.T) {
	s := NewSHA1URLSigner("token", "X-Test-Signature")
	public := "https://hotline.example.org/webhooks/incoming"
	form := url.Values{"CallSid": {"CA1"}, "From": {"+15550001"}}
	sig := s.Sign(public, form)

	form.Set("From", "+15550002")
	r := formRequest("/webhooks/incoming", form)
	r.Header.Set("X-Test-Signature", sig)
	if err := s.Validate(r, public); err != ErrAuthenticity {
		t.Fatalf("want ErrAuthenticity, got %v", err)
	}
}

func TestURLSignerRejectsMissingHeader(t *testing.T) {
	s := NewSHA256URLSigner("key", "X-Test-Signature")
	r := formRequest("/webhooks/incoming", url.Values{"CallSid": {"CA1"}})
	if err := s.Validate(r, "https://hotline.example.org/webhooks/incoming"); err != ErrAuthenticity {
		t.Fatalf("want ErrAuthenticity, got %v", err)
	}
}

func TestBodySignerRoundTrip(t *testing.T) {
	s := BodySigner{
		Secret:          []byte("shared"),
		SignatureHeader: "X-Sig",
		TimestampHeader: "X-Ts",
		Hex:             true,
	}
	body := []byte(`{"kind":"incoming"}`)
	now := time.Now()

	r := httptest.NewRequest(http.MethodPost, "/webhooks/incoming", nil)
	s.Attach(r, now, body)
	if err := s.Validate(r, body, now, 5*time.Minute); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
	if err := s.Validate(r, []byte(`{"kind":"digits"}`), now, 5*time.Minute); err != ErrAuthenticity {
		t.Fatalf("tampered body: want ErrAuthenticity, got %v", err)
	}
}

func TestBodySignerRejectsStaleTimestamp(t *testing.T) {
	s := BodySigner{
		Secret:          []byte("shared"),
		SignatureHeader: "X-Sig",
		TimestampHeader: "X-Ts",
		Hex:             true,
	}
	body := []byte(`{}`)
	signedAt := time.Now().Add(-time.Hour)

	r := httptest.NewRequest(http.MethodPost, "/v1/originate", nil)
	s.Attach(r, signedAt, body)
	if err := s.Validate(r, body, time.Now(), 5*time.Minute); err != ErrAuthenticity {
		t.Fatalf("stale timestamp: want ErrAuthenticity, got %v", err)
	}
}
