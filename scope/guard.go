package scope

import (
	"context"

	"github.com/goliatone/go-preferences/pkg/types"
	"github.com/google/uuid"
)

// Guard enforces authorization policies for commands and queries. It is
// intentionally small so callers can swap custom guards in tests if needed.
type Guard interface {
	Enforce(ctx context.Context, actor types.ActorRef, action types.PolicyAction, target uuid.UUID) error
}

type guard struct {
	policy types.AuthorizationPolicy
}

// NewGuard builds a Guard from the supplied policy. A nil policy is treated
// as allow-all.
func NewGuard(policy types.AuthorizationPolicy) Guard {
	return guard{policy: policy}
}

// Ensure returns a non-nil guard so command/query constructors can accept nil
// guards when tests instantiate them directly.
func Ensure(g Guard) Guard {
	if g == nil {
		return guard{}
	}
	return g
}

// NopGuard returns a guard that never blocks.
func NopGuard() Guard {
	return guard{}
}

// Enforce authorizes the action for the actor.
func (g guard) Enforce(ctx context.Context, actor types.ActorRef, action types.PolicyAction, target uuid.UUID) error {
	if g.policy == nil || action == "" {
		return nil
	}
	return g.policy.Authorize(ctx, types.PolicyCheck{
		Actor:  actor,
		Action: action,
		Target: target,
	})
}
