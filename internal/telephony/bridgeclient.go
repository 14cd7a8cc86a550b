package telephony

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// BridgeConfig configures the side-channel adapter that fronts the
// self-hosted PBX bridge process.
type BridgeConfig struct {
	// BaseURL is the bridge's command API root.
	BaseURL string
	// SharedSecret signs both directions of the side channel.
	SharedSecret string
	HotlineNumber string
}

// bridgeAdapter implements CallControl against the bridge process. Events
// arrive as signed canonical JSON posted by the bridge; rendered commands go
// back in the webhook response body; origination, cancellation, and recording
// retrieval use the bridge's signed REST API.
type bridgeAdapter struct {
	rest *RestClient
	sig  BodySigner
	from string
	log  *slog.Logger
}

func NewBridgeAdapter(cfg BridgeConfig, log *slog.Logger, hc *http.Client) CallControl {
	sig := BodySigner{
		Secret:          []byte(cfg.SharedSecret),
		SignatureHeader: BridgeSignatureHeader,
		TimestampHeader: BridgeTimestampHeader,
		Hex:             true,
	}
	return &bridgeAdapter{
		rest: &RestClient{
			BaseURL:    cfg.BaseURL,
			HTTPClient: hc,
			Decorate: func(r *http.Request, body []byte) {
				sig.Attach(r, time.Now(), body)
			},
		},
		sig:  sig,
		from: cfg.HotlineNumber,
		log:  log,
	}
}

func (a *bridgeAdapter) Name() string { return "bridge" }

func (a *bridgeAdapter) ValidateAuthenticity(r *http.Request, body []byte) error {
	return a.sig.Validate(r, body, time.Now(), 5*time.Minute)
}

func (a *bridgeAdapter) ParseWebhook(kind WebhookKind, _ *http.Request, body []byte) (Event, error) {
	var w WireEvent
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, ErrMalformedWebhook
	}
	if w.Kind != string(kind) {
		return nil, ErrMalformedWebhook
	}
	return w.DecodeEvent()
}

func (a *bridgeAdapter) Render(cmds []Command) (Response, error) {
	body, err := EncodeCommands(cmds)
	if err != nil {
		return Response{}, err
	}
	return Response{ContentType: "application/json", Body: body}, nil
}

type bridgeOriginateRequest struct {
	ParentCallID string       `json:"parent_call_id"`
	CallerID     string       `json:"caller_id"`
	Targets      []DialTarget `json:"targets"`
}

type bridgeOriginateResponse struct {
	Legs []Leg `json:"legs"`
}

func (a *bridgeAdapter) Originate(ctx context.Context, targets []DialTarget, oc OriginateContext) ([]Leg, error) {
	callerID := oc.CallerID
	if callerID == "" {
		callerID = a.from
	}
	payload, err := json.Marshal(bridgeOriginateRequest{
		ParentCallID: oc.ParentCallID,
		CallerID:     callerID,
		Targets:      targets,
	})
	if err != nil {
		return nil, err
	}
	body, err := a.rest.Do(ctx, http.MethodPost, "/v1/originate", "application/json", payload)
	if err != nil {
		return nil, err
	}
	var out bridgeOriginateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return out.Legs, nil
}

type bridgeCancelRequest struct {
	LegIDs   []string `json:"leg_ids"`
	ExceptID string   `json:"except_id,omitempty"`
}

func (a *bridgeAdapter) CancelLegs(ctx context.Context, legIDs []string, exceptID string) {
	payload, err := json.Marshal(bridgeCancelRequest{LegIDs: legIDs, ExceptID: exceptID})
	if err != nil {
		return
	}
	if _, err := a.rest.Do(ctx, http.MethodPost, "/v1/cancel", "application/json", payload); err != nil {
		a.log.Debug("bridge cancel failed", "err", err)
	}
}

func (a *bridgeAdapter) FetchRecording(ctx context.Context, ref string) ([]byte, error) {
	if ref == "" {
		return nil, nil
	}
	body, err := a.rest.Do(ctx, http.MethodGet, "/v1/recordings/"+ref, "", nil)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}
	return body, nil
}
