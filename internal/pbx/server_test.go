package pbx

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotline-platform/internal/telephony"
)

func newTestServer(t *testing.T) (*httptest.Server, *fakeARI, telephony.BodySigner) {
	t.Helper()
	b, ari, _, _ := newTestBridge(t)
	cfg := HotlineConfig{BaseURL: "https://hotline.example.org", SharedSecret: "sidechannel"}
	srv := NewServer(cfg, b, ari, b.log)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	sig := telephony.BodySigner{
		Secret:          []byte("sidechannel"),
		SignatureHeader: telephony.BridgeSignatureHeader,
		TimestampHeader: telephony.BridgeTimestampHeader,
		Hex:             true,
	}
	return ts, ari, sig
}

func signedRequest(t *testing.T, sig telephony.BodySigner, method, url string, body []byte) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	sig.Attach(req, time.Now(), body)
	return req
}

func TestOriginateRequiresSignature(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/v1/originate", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestOriginateRejectsStaleTimestamp(t *testing.T) {
	ts, _, sig := newTestServer(t)

	body := []byte(`{"parent_call_id":"ch-1","targets":[]}`)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/originate", bytes.NewReader(body))
	require.NoError(t, err)
	sig.Attach(req, time.Now().Add(-time.Hour), body)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestOriginateCreatesLegs(t *testing.T) {
	ts, ari, sig := newTestServer(t)

	body, err := json.Marshal(originateRequest{
		ParentCallID: "ch-1",
		CallerID:     "+15550000",
		Targets: []telephony.DialTarget{
			{Identity: "alice", Number: "+15550002"},
			{Identity: "bob", Endpoint: "PJSIP/bob"},
		},
	})
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(signedRequest(t, sig, http.MethodPost, ts.URL+"/v1/originate", body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out originateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, []telephony.Leg{
		{ID: "leg-1", Identity: "alice"},
		{ID: "leg-2", Identity: "bob"},
	}, out.Legs)
	assert.True(t, ari.has("originate:PJSIP/15550002@trunk:+15550000"))
	assert.True(t, ari.has("originate:PJSIP/bob:+15550000"))
}

func TestCancelSparesTheWinner(t *testing.T) {
	ts, ari, sig := newTestServer(t)

	body := []byte(`{"leg_ids":["leg-1","leg-2","leg-3"],"except_id":"leg-2"}`)
	resp, err := http.DefaultClient.Do(signedRequest(t, sig, http.MethodPost, ts.URL+"/v1/cancel", body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.True(t, ari.has("hangup:leg-1:normal"))
	assert.False(t, ari.has("hangup:leg-2:normal"))
	assert.True(t, ari.has("hangup:leg-3:normal"))
}

func TestRecordingFetchStreamsBytes(t *testing.T) {
	ts, ari, sig := newTestServer(t)

	resp, err := http.DefaultClient.Do(signedRequest(t, sig, http.MethodGet, ts.URL+"/v1/recordings/hotline-ch-1", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "RIFFdata", string(raw))
	assert.True(t, ari.has("fetch:hotline-ch-1"))
}

func TestHealthzIsUnsigned(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
