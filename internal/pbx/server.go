package pbx

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"hotline-platform/internal/telephony"
)

const maxCommandBytes = 1 << 20

// Server is the bridge's inbound command API: the hotline's adapter calls it
// to originate and cancel volunteer legs and to fetch finished recordings.
// Every request must carry the shared-secret body signature; the signature
// timestamp bounds replay.
type Server struct {
	bridge *Bridge
	ari    CallAPI
	sig    telephony.BodySigner
	log    *slog.Logger
}

func NewServer(cfg HotlineConfig, bridge *Bridge, ari CallAPI, log *slog.Logger) *Server {
	return &Server{
		bridge: bridge,
		ari:    ari,
		sig: telephony.BodySigner{
			Secret:          []byte(cfg.SharedSecret),
			SignatureHeader: telephony.BridgeSignatureHeader,
			TimestampHeader: telephony.BridgeTimestampHeader,
			Hex:             true,
		},
		log: log,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.health)
	mux.HandleFunc("POST /v1/originate", s.signed(s.originate))
	mux.HandleFunc("POST /v1/cancel", s.signed(s.cancel))
	mux.HandleFunc("GET /v1/recordings/", s.signed(s.recording))
	return mux
}

// signed reads the body, checks the HMAC, and hands body bytes to the
// handler. Bad signatures get a bare 403.
func (s *Server) signed(h func(w http.ResponseWriter, r *http.Request, body []byte)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBytes))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := s.sig.Validate(r, body, time.Now(), 5*time.Minute); err != nil {
			s.log.Warn("command rejected", "path", r.URL.Path, "err", err)
			w.WriteHeader(http.StatusForbidden)
			return
		}
		h(w, r, body)
	}
}

type originateRequest struct {
	ParentCallID string                 `json:"parent_call_id"`
	CallerID     string                 `json:"caller_id"`
	Targets      []telephony.DialTarget `json:"targets"`
}

type originateResponse struct {
	Legs []telephony.Leg `json:"legs"`
}

func (s *Server) originate(w http.ResponseWriter, r *http.Request, body []byte) {
	var req originateRequest
	if err := json.Unmarshal(body, &req); err != nil || req.ParentCallID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	legs := s.bridge.OriginateLegs(r.Context(), req.ParentCallID, req.CallerID, req.Targets)
	s.log.Info("legs originated", "call_id", req.ParentCallID, "requested", len(req.Targets), "created", len(legs))
	writeJSON(w, originateResponse{Legs: legs})
}

type cancelRequest struct {
	LegIDs   []string `json:"leg_ids"`
	ExceptID string   `json:"except_id,omitempty"`
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request, body []byte) {
	var req cancelRequest
	if err := json.Unmarshal(body, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.bridge.CancelLegs(r.Context(), req.LegIDs, req.ExceptID)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) recording(w http.ResponseWriter, r *http.Request, _ []byte) {
	ref := strings.TrimPrefix(r.URL.Path, "/v1/recordings/")
	if ref == "" || strings.Contains(ref, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	raw, err := s.bridge.RecordingBytes(r.Context(), ref)
	if err != nil {
		s.log.Warn("recording fetch failed", "ref", ref, "err", err)
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	_, _ = w.Write(raw)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.ari.Ping(ctx); err != nil {
		writeJSONStatus(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "pbx": "down"})
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
