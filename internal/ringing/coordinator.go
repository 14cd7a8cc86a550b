package ringing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"hotline-platform/internal/registry"
	"hotline-platform/internal/roster"
	"hotline-platform/internal/telephony"
)

// Outcome is what a leg event did to the ringing race.
type Outcome int

const (
	// OutcomeNone: the leg was unknown or the race already settled.
	OutcomeNone Outcome = iota
	// OutcomeWon: this leg answered first and was promoted to the bridge.
	OutcomeWon
	// OutcomeExhausted: the last ringing leg failed; nobody answered.
	OutcomeExhausted
	// OutcomeStillRinging: a leg dropped out but others are still ringing.
	OutcomeStillRinging
)

// Coordinator fans an inbound call out to every eligible volunteer at once
// and settles the race to answer. Leg bookkeeping lives on the call session
// inside the registry; the coordinator only keeps the reverse index from leg
// id to call id.
type Coordinator struct {
	adapter  telephony.CallControl
	registry *registry.Registry
	log      *slog.Logger

	mu           sync.Mutex
	legToCall    map[string]string
	legOwner     map[string]string // leg id -> volunteer identity
	pendingDials int               // fan-outs whose legs are not yet indexed
}

func NewCoordinator(adapter telephony.CallControl, reg *registry.Registry, log *slog.Logger) *Coordinator {
	return &Coordinator{
		adapter:   adapter,
		registry:  reg,
		log:       log,
		legToCall: make(map[string]string),
		legOwner:  make(map[string]string),
	}
}

// Eligible filters candidates to those active, not on break, and reachable.
func Eligible(candidates []roster.Volunteer) []roster.Volunteer {
	var out []roster.Volunteer
	for _, v := range candidates {
		if v.Active && !v.OnBreak && v.Reachable() {
			out = append(out, v)
		}
	}
	return out
}

// Start places simultaneous outbound legs for the call. It returns the number
// of legs created; zero means nobody could be rung (empty candidate set or
// total origination failure) and the caller goes to voicemail.
func (c *Coordinator) Start(ctx context.Context, callID string, candidates []roster.Volunteer, oc telephony.OriginateContext) int {
	eligible := Eligible(candidates)
	if len(eligible) == 0 {
		return 0
	}

	targets := make([]telephony.DialTarget, 0, len(eligible))
	for _, v := range eligible {
		targets = append(targets, telephony.DialTarget{
			Identity: v.Identity,
			Number:   v.Number,
			Endpoint: v.Endpoint,
		})
	}

	oc.ParentCallID = callID
	c.mu.Lock()
	c.pendingDials++
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.pendingDials--
		c.mu.Unlock()
	}()

	legs, err := c.adapter.Originate(ctx, targets, oc)
	if err != nil {
		// Partial failures are handled inside the adapter; an error here
		// means the whole fan-out failed.
		c.log.Error("originate failed", "call_id", callID, "err", err)
		return 0
	}
	if len(legs) == 0 {
		return 0
	}

	// Attribution comes from the adapter's leg/target pairing; a partial
	// origination failure must not shift ownership between volunteers.
	legIDs := make([]string, 0, len(legs))
	c.mu.Lock()
	for _, leg := range legs {
		c.legToCall[leg.ID] = callID
		c.legOwner[leg.ID] = leg.Identity
		legIDs = append(legIDs, leg.ID)
	}
	c.mu.Unlock()

	if err := c.registry.Mutate(callID, func(call *registry.Call) {
		call.EnterRinging(legIDs)
		call.State = registry.StateRinging
	}); err != nil {
		// Caller hung up between enqueue and origination: tear it all down.
		c.adapter.CancelLegs(ctx, legIDs, "")
		c.forgetLegs(legIDs)
		return 0
	}

	c.log.Info("ringing started", "call_id", callID, "legs", len(legIDs))
	return len(legIDs)
}

// CallForLeg resolves which call a volunteer leg belongs to.
func (c *Coordinator) CallForLeg(legID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	callID, ok := c.legToCall[legID]
	return callID, ok
}

// ResolveLeg is CallForLeg with a grace period for in-flight fan-outs: an
// answer webhook can arrive while Start is still inside the origination
// round-trip, before the leg is indexed. An unknown leg is re-checked until
// no dial is pending.
func (c *Coordinator) ResolveLeg(ctx context.Context, legID string) (string, bool) {
	for {
		c.mu.Lock()
		callID, ok := c.legToCall[legID]
		pending := c.pendingDials
		c.mu.Unlock()
		if ok || pending == 0 {
			return callID, ok
		}
		select {
		case <-ctx.Done():
			return "", false
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// OnLegAnswered settles the race for the given leg. The first answered event
// observed under the registry lock wins; a duplicate or late answer is a
// no-op. Losing legs get a best-effort cancel, never the winner.
func (c *Coordinator) OnLegAnswered(ctx context.Context, callID, legID string) Outcome {
	var losers []string
	err := c.registry.Mutate(callID, func(call *registry.Call) {
		if call.BridgeID != "" {
			return // race already settled; treat as late cancellation no-op
		}
		for id := range call.RingingLegs {
			if id != legID {
				losers = append(losers, id)
			}
		}
	})
	if err != nil {
		return OutcomeNone
	}

	won, err := c.registry.MarkAnswered(callID, c.ownerOf(legID), legID)
	if err != nil || !won {
		return OutcomeNone
	}

	// Fire-and-forget: do not wait for cancellation before bridging.
	if len(losers) > 0 {
		go c.adapter.CancelLegs(context.WithoutCancel(ctx), losers, legID)
	}
	c.forgetLegs(append(losers, legID))

	c.log.Info("leg answered", "call_id", callID, "leg_id", legID, "cancelled", len(losers))
	return OutcomeWon
}

// OnLegDown removes a terminally failed leg from the race. When the last leg
// drops before anyone answered, the race is exhausted and the caller goes to
// voicemail.
func (c *Coordinator) OnLegDown(ctx context.Context, callID, legID string) Outcome {
	remaining := -1
	err := c.registry.Mutate(callID, func(call *registry.Call) {
		if call.BridgeID != "" {
			return // already bridged; a loser reporting in changes nothing
		}
		if _, ok := call.RingingLegs[legID]; !ok {
			return
		}
		delete(call.RingingLegs, legID)
		remaining = len(call.RingingLegs)
	})
	c.forgetLegs([]string{legID})
	if err != nil || remaining < 0 {
		return OutcomeNone
	}
	if remaining == 0 {
		c.log.Info("ringing exhausted", "call_id", callID)
		return OutcomeExhausted
	}
	return OutcomeStillRinging
}

// CancelAll tears down any legs still ringing for the call, e.g. when the
// caller hung up or the queue timed out.
func (c *Coordinator) CancelAll(ctx context.Context, callID string) {
	var legs []string
	_ = c.registry.Mutate(callID, func(call *registry.Call) {
		for id := range call.RingingLegs {
			legs = append(legs, id)
		}
		call.RingingLegs = nil
	})
	if len(legs) == 0 {
		return
	}
	go c.adapter.CancelLegs(context.WithoutCancel(ctx), legs, "")
	c.forgetLegs(legs)
}

func (c *Coordinator) ownerOf(legID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.legOwner[legID]
}

func (c *Coordinator) forgetLegs(legIDs []string) {
	c.mu.Lock()
	for _, id := range legIDs {
		delete(c.legToCall, id)
		delete(c.legOwner, id)
	}
	c.mu.Unlock()
}
