package telephony

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// URLSigner computes the signature a provider attaches to its webhooks:
// an HMAC over the full request URL concatenated with the sorted POST
// parameters. Twilio uses SHA-1; the SignalWire dialect keeps the same
// canonicalization but swaps the hash and key. The helper is injected per
// adapter instance instead of shared through inheritance.
type URLSigner struct {
	Secret []byte
	Hash   func() hash.Hash // sha1.New or sha256.New
	Header string           // signature header name
}

func NewSHA1URLSigner(secret, header string) URLSigner {
	return URLSigner{Secret: []byte(secret), Hash: sha1.New, Header: header}
}

func NewSHA256URLSigner(secret, header string) URLSigner {
	return URLSigner{Secret: []byte(secret), Hash: sha256.New, Header: header}
}

// Sign canonicalizes url + sorted params and returns the base64 MAC.
func (s URLSigner) Sign(fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range params[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(s.Hash, s.Secret)
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Validate checks the signature header on an inbound webhook.
func (s URLSigner) Validate(r *http.Request, publicURL string) error {
	got := r.Header.Get(s.Header)
	if got == "" {
		return ErrAuthenticity
	}
	if err := r.ParseForm(); err != nil {
		return ErrAuthenticity
	}
	want := s.Sign(publicURL, r.PostForm)
	if !hmac.Equal([]byte(got), []byte(want)) {
		return ErrAuthenticity
	}
	return nil
}

// BodySigner signs "timestamp.body" with HMAC-SHA256. Used by the JSON
// dialects and the PBX bridge side channel; each instance carries its own
// header names and secret.
type BodySigner struct {
	Secret          []byte
	SignatureHeader string
	TimestampHeader string
	Hex             bool // hex lowercase when true, base64 otherwise
}

func (s BodySigner) Sign(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, s.Secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	if s.Hex {
		return hex.EncodeToString(mac.Sum(nil))
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Attach stamps an outbound request with the current time and signature.
func (s BodySigner) Attach(r *http.Request, now time.Time, body []byte) {
	ts := fmt.Sprintf("%d", now.Unix())
	r.Header.Set(s.TimestampHeader, ts)
	r.Header.Set(s.SignatureHeader, s.Sign(ts, body))
}

// Validate checks the signature and timestamp headers on an inbound request.
// Freshness is implicit in the timestamp being signed; MaxSkew bounds it.
func (s BodySigner) Validate(r *http.Request, body []byte, now time.Time, maxSkew time.Duration) error {
	ts := r.Header.Get(s.TimestampHeader)
	got := r.Header.Get(s.SignatureHeader)
	if ts == "" || got == "" {
		return ErrAuthenticity
	}
	if maxSkew > 0 {
		var unix int64
		if _, err := fmt.Sscanf(ts, "%d", &unix); err != nil {
			return ErrAuthenticity
		}
		at := time.Unix(unix, 0)
		if at.Before(now.Add(-maxSkew)) || at.After(now.Add(maxSkew)) {
			return ErrAuthenticity
		}
	}
	want := s.Sign(ts, body)
	if !hmac.Equal([]byte(got), []byte(want)) {
		return ErrAuthenticity
	}
	return nil
}

// RestClient is the shared outbound request builder. Adapters inject their
// base URL and an auth decorator; the same helper serves the Twilio-style
// basic-auth APIs, the JSON APIs, and the signed bridge side channel.
type RestClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Decorate   func(r *http.Request, body []byte)
}

func (c *RestClient) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// Do issues a request against BaseURL+path and returns the response body.
// Non-2xx responses are returned as errors with the status included.
func (c *RestClient) Do(ctx context.Context, method, path, contentType string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.Decorate != nil {
		c.Decorate(req, body)
	}

	resp, err := c.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, fmt.Errorf("telephony: %s %s returned %d", method, path, resp.StatusCode)
	}
	return out, nil
}

// PostForm issues an application/x-www-form-urlencoded POST.
func (c *RestClient) PostForm(ctx context.Context, path string, form url.Values) ([]byte, error) {
	return c.Do(ctx, http.MethodPost, path, "application/x-www-form-urlencoded", []byte(form.Encode()))
}

// BasicAuth returns a decorator for username/password APIs.
func BasicAuth(user, pass string) func(*http.Request, []byte) {
	return func(r *http.Request, _ []byte) { r.SetBasicAuth(user, pass) }
}
