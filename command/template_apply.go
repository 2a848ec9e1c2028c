package command

import (
	"context"

	gocommand "github.com/goliatone/go-command"
	featuregate "github.com/goliatone/go-featuregate/gate"
	"github.com/goliatone/go-preferences/pkg/types"
	"github.com/goliatone/go-preferences/scope"
	"github.com/goliatone/go-preferences/templates"
	"github.com/google/uuid"
)

// TemplateApplyInput applies a stored template to a user or project.
type TemplateApplyInput struct {
	TemplateID   uuid.UUID
	Scope        types.Tier
	SubjectID    uuid.UUID
	Policy       types.ConflictPolicy
	AllowPartial bool
	Actor        types.ActorRef
	Result       *types.ApplyResult
}

// Type implements gocommand.Message.
func (TemplateApplyInput) Type() string {
	return "command.template.apply"
}

// Validate implements gocommand.Message.
func (input TemplateApplyInput) Validate() error {
	switch {
	case input.TemplateID == uuid.Nil:
		return ErrTemplateIDRequired
	case input.SubjectID == uuid.Nil && input.Scope == types.TierUser:
		return ErrUserIDRequired
	case input.SubjectID == uuid.Nil && input.Scope == types.TierProject:
		return ErrProjectIDRequired
	case input.Actor.ID == uuid.Nil:
		return ErrActorRequired
	default:
		return nil
	}
}

// TemplateApplyCommand applies template bundles as one batch.
type TemplateApplyCommand struct {
	engine      *templates.Engine
	guard       scope.Guard
	featureGate featuregate.FeatureGate
	logger      types.Logger
}

// NewTemplateApplyCommand constructs the handler.
func NewTemplateApplyCommand(cfg TemplateCommandConfig) *TemplateApplyCommand {
	return &TemplateApplyCommand{
		engine:      cfg.Engine,
		guard:       safeScopeGuard(cfg.ScopeGuard),
		featureGate: cfg.FeatureGate,
		logger:      safeLogger(cfg.Logger),
	}
}

var _ gocommand.Commander[TemplateApplyInput] = (*TemplateApplyCommand)(nil)

// Execute applies the template to the target scope.
func (c *TemplateApplyCommand) Execute(ctx context.Context, input TemplateApplyInput) error {
	if c.engine == nil {
		return types.ErrMissingTemplateEngine
	}
	if err := input.Validate(); err != nil {
		return err
	}
	if err := c.guard.Enforce(ctx, input.Actor, types.PolicyActionTemplatesApply, input.SubjectID); err != nil {
		return err
	}
	if enabled, err := featureEnabled(ctx, c.featureGate, featureTemplates, input.Actor.ID); err != nil {
		return err
	} else if !enabled {
		return ErrTemplatesDisabled
	}

	result, err := c.engine.Apply(ctx, templates.ApplyInput{
		TemplateID:   input.TemplateID,
		Scope:        input.Scope,
		SubjectID:    input.SubjectID,
		Policy:       input.Policy,
		AllowPartial: input.AllowPartial,
		Actor:        input.Actor.ID,
	})
	// A strict-mode abort still carries the report naming the failing key.
	if input.Result != nil && result != nil {
		*input.Result = *result
	}
	return err
}
