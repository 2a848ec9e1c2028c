package command

import (
	"context"

	gocommand "github.com/goliatone/go-command"
	featuregate "github.com/goliatone/go-featuregate/gate"
	"github.com/goliatone/go-preferences/overrides"
	"github.com/goliatone/go-preferences/pkg/types"
	"github.com/goliatone/go-preferences/scope"
	"github.com/google/uuid"
)

// OverrideToggleInput switches project overrides on or off. Categories names
// which preference categories may go live; ignored when disabling.
type OverrideToggleInput struct {
	ProjectID  uuid.UUID
	Enabled    bool
	Categories []string
	Actor      types.ActorRef
	Result     *types.OverrideToggle
}

// Type implements gocommand.Message.
func (OverrideToggleInput) Type() string {
	return "command.override.toggle"
}

// Validate implements gocommand.Message.
func (input OverrideToggleInput) Validate() error {
	switch {
	case input.ProjectID == uuid.Nil:
		return ErrProjectIDRequired
	case input.Actor.ID == uuid.Nil:
		return ErrActorRequired
	default:
		return nil
	}
}

// OverrideToggleCommand flips the project master switch.
type OverrideToggleCommand struct {
	manager     *overrides.Manager
	guard       scope.Guard
	featureGate featuregate.FeatureGate
}

// NewOverrideToggleCommand constructs the handler.
func NewOverrideToggleCommand(cfg OverrideCommandConfig) *OverrideToggleCommand {
	return &OverrideToggleCommand{
		manager:     cfg.Manager,
		guard:       safeScopeGuard(cfg.ScopeGuard),
		featureGate: cfg.FeatureGate,
	}
}

var _ gocommand.Commander[OverrideToggleInput] = (*OverrideToggleCommand)(nil)

// Execute writes the toggle and evicts every cached resolution for the
// project.
func (c *OverrideToggleCommand) Execute(ctx context.Context, input OverrideToggleInput) error {
	if c.manager == nil {
		return types.ErrMissingOverrideManager
	}
	if err := input.Validate(); err != nil {
		return err
	}
	if err := c.guard.Enforce(ctx, input.Actor, types.PolicyActionOverridesToggle, input.ProjectID); err != nil {
		return err
	}
	if input.Enabled {
		if enabled, err := featureEnabled(ctx, c.featureGate, featureProjectOverrides, input.Actor.ID); err != nil {
			return err
		} else if !enabled {
			return ErrOverridesDisabled
		}
	}

	var (
		toggle *types.OverrideToggle
		err    error
	)
	if input.Enabled {
		toggle, err = c.manager.EnableOverrides(ctx, input.ProjectID, input.Categories, input.Actor.ID)
	} else {
		toggle, err = c.manager.DisableOverrides(ctx, input.ProjectID, input.Actor.ID)
	}
	if err != nil {
		return err
	}
	if input.Result != nil && toggle != nil {
		*input.Result = *toggle
	}
	return nil
}
