package command

import (
	"context"
	"time"

	gocommand "github.com/goliatone/go-command"
	featuregate "github.com/goliatone/go-featuregate/gate"
	"github.com/goliatone/go-preferences/overrides"
	"github.com/goliatone/go-preferences/pkg/types"
	"github.com/goliatone/go-preferences/scope"
	"github.com/google/uuid"
)

// OverrideDecisionInput carries an approval decision on a pending override.
type OverrideDecisionInput struct {
	OverrideID uuid.UUID
	Reason     string
	Actor      types.ActorRef
	Result     *types.ProjectPreference
}

// Validate checks the decision payload.
func (input OverrideDecisionInput) Validate() error {
	switch {
	case input.OverrideID == uuid.Nil:
		return ErrOverrideIDRequired
	case input.Actor.ID == uuid.Nil:
		return ErrActorRequired
	default:
		return nil
	}
}

// OverrideApproveInput approves a proposed override. The approver may set or
// replace the effective window at decision time.
type OverrideApproveInput struct {
	OverrideDecisionInput
	EffectiveFrom  *time.Time
	EffectiveUntil *time.Time
}

// Type implements gocommand.Message.
func (OverrideApproveInput) Type() string { return "command.override.approve" }

// OverrideRejectInput rejects a proposed override.
type OverrideRejectInput struct{ OverrideDecisionInput }

// Type implements gocommand.Message.
func (OverrideRejectInput) Type() string { return "command.override.reject" }

// OverrideRevokeInput retires an approved or active override.
type OverrideRevokeInput struct{ OverrideDecisionInput }

// Type implements gocommand.Message.
func (OverrideRevokeInput) Type() string { return "command.override.revoke" }

func decideOverride(
	ctx context.Context,
	manager *overrides.Manager,
	guard scope.Guard,
	gate featuregate.FeatureGate,
	action types.PolicyAction,
	input OverrideDecisionInput,
	apply func(context.Context, overrides.DecisionInput) (*types.ProjectPreference, error),
) error {
	if manager == nil {
		return types.ErrMissingOverrideManager
	}
	if err := input.Validate(); err != nil {
		return err
	}
	if err := guard.Enforce(ctx, input.Actor, action, input.OverrideID); err != nil {
		return err
	}
	if enabled, err := featureEnabled(ctx, gate, featureProjectOverrides, input.Actor.ID); err != nil {
		return err
	} else if !enabled {
		return ErrOverridesDisabled
	}

	updated, err := apply(ctx, overrides.DecisionInput{
		OverrideID: input.OverrideID,
		Actor:      input.Actor.ID,
		Reason:     input.Reason,
	})
	if err != nil {
		return err
	}
	if input.Result != nil && updated != nil {
		*input.Result = *updated
	}
	return nil
}

// OverrideApproveCommand approves proposed overrides.
type OverrideApproveCommand struct {
	manager     *overrides.Manager
	guard       scope.Guard
	featureGate featuregate.FeatureGate
}

// NewOverrideApproveCommand constructs the handler.
func NewOverrideApproveCommand(cfg OverrideCommandConfig) *OverrideApproveCommand {
	return &OverrideApproveCommand{
		manager:     cfg.Manager,
		guard:       safeScopeGuard(cfg.ScopeGuard),
		featureGate: cfg.FeatureGate,
	}
}

var _ gocommand.Commander[OverrideApproveInput] = (*OverrideApproveCommand)(nil)

// Execute approves the override.
func (c *OverrideApproveCommand) Execute(ctx context.Context, input OverrideApproveInput) error {
	return decideOverride(ctx, c.manager, c.guard, c.featureGate, types.PolicyActionOverridesDecide,
		input.OverrideDecisionInput, func(ctx context.Context, in overrides.DecisionInput) (*types.ProjectPreference, error) {
			in.EffectiveFrom = input.EffectiveFrom
			in.EffectiveUntil = input.EffectiveUntil
			return c.manager.Approve(ctx, in)
		})
}

// OverrideRejectCommand rejects proposed overrides.
type OverrideRejectCommand struct {
	manager     *overrides.Manager
	guard       scope.Guard
	featureGate featuregate.FeatureGate
}

// NewOverrideRejectCommand constructs the handler.
func NewOverrideRejectCommand(cfg OverrideCommandConfig) *OverrideRejectCommand {
	return &OverrideRejectCommand{
		manager:     cfg.Manager,
		guard:       safeScopeGuard(cfg.ScopeGuard),
		featureGate: cfg.FeatureGate,
	}
}

var _ gocommand.Commander[OverrideRejectInput] = (*OverrideRejectCommand)(nil)

// Execute rejects the override.
func (c *OverrideRejectCommand) Execute(ctx context.Context, input OverrideRejectInput) error {
	return decideOverride(ctx, c.manager, c.guard, c.featureGate, types.PolicyActionOverridesDecide,
		input.OverrideDecisionInput, func(ctx context.Context, in overrides.DecisionInput) (*types.ProjectPreference, error) {
			return c.manager.Reject(ctx, in)
		})
}

// OverrideRevokeCommand retires overrides outside the decision flow.
type OverrideRevokeCommand struct {
	manager *overrides.Manager
	guard   scope.Guard
}

// NewOverrideRevokeCommand constructs the handler.
func NewOverrideRevokeCommand(cfg OverrideCommandConfig) *OverrideRevokeCommand {
	return &OverrideRevokeCommand{
		manager: cfg.Manager,
		guard:   safeScopeGuard(cfg.ScopeGuard),
	}
}

var _ gocommand.Commander[OverrideRevokeInput] = (*OverrideRevokeCommand)(nil)

// Execute revokes the override.
func (c *OverrideRevokeCommand) Execute(ctx context.Context, input OverrideRevokeInput) error {
	return decideOverride(ctx, c.manager, c.guard, nil, types.PolicyActionOverridesRevoke,
		input.OverrideDecisionInput, func(ctx context.Context, in overrides.DecisionInput) (*types.ProjectPreference, error) {
			return c.manager.Revoke(ctx, in)
		})
}
