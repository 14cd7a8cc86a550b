package main

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"

	"hotline-platform/internal/auth"
	"hotline-platform/internal/callflow"
	"hotline-platform/internal/telephony"
	"hotline-platform/pkg/logger"
	"hotline-platform/pkg/utils"

	"github.com/gin-gonic/gin"
)

const maxWebhookBytes = 1 << 20

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func (a *app) registerRoutes(r *gin.Engine) {
	r.GET("/healthz", a.health)

	// Provider webhooks (public, authenticated by provider signatures).
	r.POST(callflow.PathIncoming, a.webhook(telephony.WebhookIncoming))
	r.POST(callflow.PathDigits, a.webhook(telephony.WebhookDigits))
	r.POST(callflow.PathLegStatus, a.webhook(telephony.WebhookLegStatus))
	r.POST(callflow.PathQueueWait, a.webhook(telephony.WebhookQueueWait))
	r.POST(callflow.PathQueueExit, a.webhook(telephony.WebhookQueueExit))
	r.POST(callflow.PathRecording, a.webhook(telephony.WebhookRecording))
	r.POST(callflow.PathAnswer, a.volunteerAnswer)

	// Volunteer console websocket. Token arrives as a query parameter because
	// browser websocket clients cannot set headers.
	r.GET("/ws", a.console.Serve)

	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(a.tokens))
	{
		v1.GET("/calls/active", a.activeCalls)
		v1.GET("/calls/history", auth.RequireAdmin(), a.callHistory)
	}
}

// webhook is the shared provider-webhook handler. The sentinel error mapping
// is fixed: a failed authenticity check gets a bare 403 with no state change,
// a malformed payload is logged and answered with an empty 200 so the
// provider stops retrying, and everything else flows through the call-flow
// state machine whose commands are rendered back in the response body.
func (a *app) webhook(kind telephony.WebhookKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.FromGin(c)

		body, ok := a.readWebhookBody(c)
		if !ok {
			return
		}
		if err := a.adapter.ValidateAuthenticity(c.Request, body); err != nil {
			log.Warn("webhook rejected", "kind", kind, "err", err)
			c.Status(http.StatusForbidden)
			return
		}

		ev, err := a.adapter.ParseWebhook(kind, c.Request, body)
		if err != nil {
			log.Warn("malformed webhook dropped", "kind", kind, "err", err)
			c.Status(http.StatusOK)
			return
		}

		cmds, err := a.orch.HandleEvent(c.Request.Context(), ev)
		if err != nil {
			log.Error("event handling failed", "kind", kind, "err", err)
			c.Status(http.StatusInternalServerError)
			return
		}
		a.render(c, cmds)
	}
}

// volunteerAnswer runs when an outbound volunteer leg picks up. The leg is
// identified the same way a status callback identifies it, then the answer
// race is settled and the winner is bridged or the loser hung up.
func (a *app) volunteerAnswer(c *gin.Context) {
	log := logger.FromGin(c)

	body, ok := a.readWebhookBody(c)
	if !ok {
		return
	}
	if err := a.adapter.ValidateAuthenticity(c.Request, body); err != nil {
		log.Warn("answer webhook rejected", "err", err)
		c.Status(http.StatusForbidden)
		return
	}

	ev, err := a.adapter.ParseWebhook(telephony.WebhookLegStatus, c.Request, body)
	if err != nil {
		log.Warn("malformed answer webhook dropped", "err", err)
		c.Status(http.StatusOK)
		return
	}
	leg, ok := ev.(telephony.LegStateChanged)
	if !ok {
		c.Status(http.StatusOK)
		return
	}

	a.render(c, a.orch.HandleVolunteerAnswer(c.Request.Context(), leg.LegID))
}

func (a *app) readWebhookBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		c.Status(http.StatusBadRequest)
		return nil, false
	}
	// Adapters that speak form-encoded dialects re-read the body via ParseForm.
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return body, true
}

func (a *app) render(c *gin.Context, cmds []telephony.Command) {
	res, err := a.adapter.Render(cmds)
	if err != nil {
		logger.FromGin(c).Error("command rendering failed", "err", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	if len(res.Body) == 0 {
		c.Status(http.StatusOK)
		return
	}
	c.Data(http.StatusOK, res.ContentType, res.Body)
}

func (a *app) health(c *gin.Context) {
	ctx := c.Request.Context()
	status := gin.H{"status": "ok"}
	code := http.StatusOK

	if err := utils.HealthCheck(ctx, a.db, 2*time.Second); err != nil {
		status["postgres"] = "down"
		code = http.StatusServiceUnavailable
	}
	if err := a.rdb.Ping(ctx).Err(); err != nil {
		status["redis"] = "down"
		code = http.StatusServiceUnavailable
	}
	if code != http.StatusOK {
		status["status"] = "degraded"
	}
	c.JSON(code, status)
}

func (a *app) activeCalls(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"calls": a.reg.ListActive()})
}

func (a *app) callHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	entries, err := a.store.List(c.Request.Context(), limit)
	if err != nil {
		logger.FromGin(c).Warn("history query failed, serving in-memory tail", "err", err)
		entries = a.reg.History(limit)
	}
	c.JSON(http.StatusOK, gin.H{"calls": entries})
}
