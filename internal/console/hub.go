package console

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"hotline-platform/internal/auth"
	"hotline-platform/internal/registry"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var errUnknownAction = errors.New("console: unknown action")

// Actions are the call-control operations a volunteer can trigger from the
// console. Implementations validate the identity against call ownership.
type Actions interface {
	AnswerCall(ctx context.Context, callID, identity string) error
	HangupCall(ctx context.Context, callID, identity string) error
	ReportSpam(ctx context.Context, callID, identity string) error
}

// actionMsg is the inbound message shape. The sender's identity comes from
// the verified JWT, never from the message body.
type actionMsg struct {
	Action string `json:"action"` // status, answer, hangup, report-spam
	CallID string `json:"call_id,omitempty"`
	OnCall bool   `json:"on_call,omitempty"`
}

type resultMsg struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	CallID string `json:"call_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

type snapshotMsg struct {
	Type  string              `json:"type"`
	Calls []registry.CallView `json:"calls"`
}

// Handler upgrades authenticated volunteers onto the push channel and routes
// their actions.
type Handler struct {
	registry *registry.Registry
	actions  Actions
	tokens   *auth.Manager
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(reg *registry.Registry, actions Actions, tokens *auth.Manager, log *slog.Logger) *Handler {
	return &Handler{
		registry: reg,
		actions:  actions,
		tokens:   tokens,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The console is served from its own origin; tokens are the
			// authentication boundary, not the Origin header.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Serve is the gin endpoint behind GET /ws.
func (h *Handler) Serve(c *gin.Context) {
	claims, err := auth.VerifyRequest(h.tokens, c.Request, time.Now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.log.Debug("console upgrade failed", "identity", claims.Identity, "err", err)
		return
	}

	cl := newClient(claims.Identity, conn)
	h.registry.Connect(cl.identity, cl)
	h.log.Info("volunteer connected", "identity", cl.identity)

	// Snapshot first so the console renders without waiting for a delta.
	_ = cl.Send(snapshotMsg{Type: "snapshot", Calls: h.registry.ListActive()})

	go cl.writePump(h.log)
	h.readLoop(c.Request.Context(), cl)

	h.registry.Disconnect(cl.identity, cl)
	cl.close()
	h.log.Info("volunteer disconnected", "identity", cl.identity)
}

func (h *Handler) readLoop(ctx context.Context, cl *client) {
	cl.conn.SetReadLimit(maxInboundBytes)
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := cl.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg actionMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			_ = cl.Send(resultMsg{Type: "action_result", Error: "malformed message"})
			continue
		}
		h.handleAction(ctx, cl, msg)
	}
}

func (h *Handler) handleAction(ctx context.Context, cl *client, msg actionMsg) {
	var err error
	switch msg.Action {
	case "status":
		h.registry.SetOnCall(cl.identity, msg.OnCall)
	case "answer":
		err = h.actions.AnswerCall(ctx, msg.CallID, cl.identity)
	case "hangup":
		err = h.actions.HangupCall(ctx, msg.CallID, cl.identity)
	case "report-spam":
		err = h.actions.ReportSpam(ctx, msg.CallID, cl.identity)
	default:
		err = errUnknownAction
	}

	res := resultMsg{Type: "action_result", Action: msg.Action, CallID: msg.CallID}
	if err != nil {
		h.log.Warn("console action failed", "identity", cl.identity, "action", msg.Action, "err", err)
		res.Error = err.Error()
	}
	_ = cl.Send(res)
}
