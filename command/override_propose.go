package command

import (
	"context"
	"strings"
	"time"

	gocommand "github.com/goliatone/go-command"
	featuregate "github.com/goliatone/go-featuregate/gate"
	"github.com/goliatone/go-preferences/overrides"
	"github.com/goliatone/go-preferences/pkg/types"
	"github.com/goliatone/go-preferences/scope"
	"github.com/google/uuid"
)

// OverrideCommandConfig wires dependencies for project override commands.
type OverrideCommandConfig struct {
	Manager     *overrides.Manager
	ScopeGuard  scope.Guard
	FeatureGate featuregate.FeatureGate
	Logger      types.Logger
}

// OverrideProposeInput carries a new override request.
type OverrideProposeInput struct {
	ProjectID      uuid.UUID
	Key            string
	Value          any
	InheritsUser   bool
	Priority       int
	Reason         string
	EffectiveFrom  *time.Time
	EffectiveUntil *time.Time
	Actor          types.ActorRef
	Result         *types.ProjectPreference
}

// Type implements gocommand.Message.
func (OverrideProposeInput) Type() string {
	return "command.override.propose"
}

// Validate implements gocommand.Message.
func (input OverrideProposeInput) Validate() error {
	switch {
	case input.ProjectID == uuid.Nil:
		return ErrProjectIDRequired
	case strings.TrimSpace(input.Key) == "":
		return ErrPreferenceKeyRequired
	case !input.InheritsUser && input.Value == nil:
		return ErrPreferenceValueRequired
	case input.Actor.ID == uuid.Nil:
		return ErrActorRequired
	default:
		return nil
	}
}

// OverrideProposeCommand submits a project override into the approval
// pipeline.
type OverrideProposeCommand struct {
	manager     *overrides.Manager
	guard       scope.Guard
	featureGate featuregate.FeatureGate
	logger      types.Logger
}

// NewOverrideProposeCommand constructs the handler.
func NewOverrideProposeCommand(cfg OverrideCommandConfig) *OverrideProposeCommand {
	return &OverrideProposeCommand{
		manager:     cfg.Manager,
		guard:       safeScopeGuard(cfg.ScopeGuard),
		featureGate: cfg.FeatureGate,
		logger:      safeLogger(cfg.Logger),
	}
}

var _ gocommand.Commander[OverrideProposeInput] = (*OverrideProposeCommand)(nil)

// Execute validates the request and records the proposal.
func (c *OverrideProposeCommand) Execute(ctx context.Context, input OverrideProposeInput) error {
	if c.manager == nil {
		return types.ErrMissingOverrideManager
	}
	if err := input.Validate(); err != nil {
		return err
	}
	if err := c.guard.Enforce(ctx, input.Actor, types.PolicyActionOverridesPropose, input.ProjectID); err != nil {
		return err
	}
	if enabled, err := featureEnabled(ctx, c.featureGate, featureProjectOverrides, input.Actor.ID); err != nil {
		return err
	} else if !enabled {
		return ErrOverridesDisabled
	}

	created, err := c.manager.Propose(ctx, overrides.ProposeInput{
		ProjectID:      input.ProjectID,
		Key:            strings.TrimSpace(input.Key),
		Value:          input.Value,
		InheritsUser:   input.InheritsUser,
		Priority:       input.Priority,
		Reason:         input.Reason,
		EffectiveFrom:  input.EffectiveFrom,
		EffectiveUntil: input.EffectiveUntil,
		RequestedBy:    input.Actor.ID,
	})
	if err != nil {
		return err
	}
	if input.Result != nil && created != nil {
		*input.Result = *created
	}
	return nil
}
