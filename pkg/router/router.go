package router

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/meftunca/courier/pkg/queue"
	"github.com/meftunca/courier/pkg/ratelimit"
	"github.com/meftunca/courier/pkg/registry"
	"github.com/meftunca/courier/pkg/security"
	"github.com/meftunca/courier/pkg/types"
)

// RouteStatus is the aggregate outcome of a routing call.
type RouteStatus string

const (
	StatusRouted RouteStatus = "routed"
	StatusFailed RouteStatus = "failed"
)

// RouteResult reports where an envelope ended up.
type RouteResult struct {
	Status    RouteStatus      `json:"status"`
	MessageID types.EnvelopeID `json:"message_id,omitempty"`
	Warnings  []string         `json:"warnings,omitempty"`
	Agents    []PerAgentResult `json:"agents,omitempty"`
}

// PerAgentResult is one delivery outcome inside a broadcast.
type PerAgentResult struct {
	AgentID   types.AgentID    `json:"agent_id"`
	MessageID types.EnvelopeID `json:"message_id,omitempty"`
	Error     *types.APIError  `json:"error,omitempty"`
}

// Router resolves destinations through the capability registry and hands
// admitted envelopes to the delivery queue. Validation, admission, and
// authentication failures surface synchronously to the producer; anything
// after enqueue is only visible through the DLQ.
type Router struct {
	registry registry.Registry
	queue    *queue.Queue
	guard    *security.Guard
	limiter  *ratelimit.Limiter
}

// New creates a router.
func New(reg registry.Registry, q *queue.Queue, guard *security.Guard, limiter *ratelimit.Limiter) *Router {
	return &Router{registry: reg, queue: q, guard: guard, limiter: limiter}
}

// Route delivers the envelope to its destination agent. The destination
// must be registered; unsigned envelopes are signed on admission.
func (r *Router) Route(ctx context.Context, env *types.Envelope) (*RouteResult, error) {
	warnings, err := r.admit(env)
	if err != nil {
		return nil, err
	}

	if _, ok := r.registry.Get(env.Destination); !ok {
		return nil, types.ErrNotFound("agent", string(env.Destination))
	}

	msgID, err := r.signAndEnqueue(ctx, env)
	if err != nil {
		return nil, err
	}

	return &RouteResult{Status: StatusRouted, MessageID: msgID, Warnings: warnings}, nil
}

// Broadcast delivers a copy of the envelope to every agent matching any of
// the listed capabilities, de-duplicated. Each copy gets its own id and
// signature. Returns a failed result when no agents match.
func (r *Router) Broadcast(ctx context.Context, env *types.Envelope, capabilities []string) (*RouteResult, error) {
	warnings, err := r.admit(env)
	if err != nil {
		return nil, err
	}

	seen := make(map[types.AgentID]bool)
	var targets []types.AgentID
	for _, capability := range capabilities {
		for _, id := range r.registry.FindByCapability(capability) {
			if !seen[id] {
				seen[id] = true
				targets = append(targets, id)
			}
		}
	}

	if len(targets) == 0 {
		return &RouteResult{Status: StatusFailed, Warnings: warnings}, nil
	}

	result := &RouteResult{Status: StatusFailed, Warnings: warnings}
	for _, agentID := range targets {
		cp := env.Clone()
		cp.ID = types.EnvelopeID(uuid.NewString())
		cp.Destination = agentID

		msgID, err := r.signAndEnqueue(ctx, cp)
		if err != nil {
			log.Printf("[router] broadcast copy to %s failed: %v", agentID, err)
			apiErr := types.AsCourierError(err).ToAPIError()
			result.Agents = append(result.Agents, PerAgentResult{AgentID: agentID, Error: &apiErr})
			continue
		}
		result.Agents = append(result.Agents, PerAgentResult{AgentID: agentID, MessageID: msgID})
		result.Status = StatusRouted
	}
	return result, nil
}

// admit runs structure validation and per-sender admission control.
func (r *Router) admit(env *types.Envelope) ([]string, error) {
	ok, warnings, err := r.guard.ValidateStructure(env)
	if !ok {
		return nil, err
	}
	for _, w := range warnings {
		log.Printf("[router] envelope %s: %s", env.ID, w)
	}

	if r.limiter != nil {
		sender := env.Sender
		if sender == "" {
			sender = "anonymous"
		}
		if err := r.limiter.CheckErr(sender); err != nil {
			return nil, err
		}
	}
	return warnings, nil
}

func (r *Router) signAndEnqueue(ctx context.Context, env *types.Envelope) (types.EnvelopeID, error) {
	if env.Signature == "" {
		r.guard.Sign(env)
	}
	return r.queue.Enqueue(ctx, env)
}
