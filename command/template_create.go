package command

import (
	"context"
	"strings"

	gocommand "github.com/goliatone/go-command"
	featuregate "github.com/goliatone/go-featuregate/gate"
	"github.com/goliatone/go-preferences/pkg/types"
	"github.com/goliatone/go-preferences/scope"
	"github.com/goliatone/go-preferences/templates"
	"github.com/google/uuid"
)

// TemplateCommandConfig wires dependencies for template commands.
type TemplateCommandConfig struct {
	Engine      *templates.Engine
	ScopeGuard  scope.Guard
	FeatureGate featuregate.FeatureGate
	Logger      types.Logger
}

// TemplateCreateInput carries a new template bundle.
type TemplateCreateInput struct {
	Name        string
	Category    string
	Preferences map[string]any
	Actor       types.ActorRef
	Result      *types.Template
}

// Type implements gocommand.Message.
func (TemplateCreateInput) Type() string {
	return "command.template.create"
}

// Validate implements gocommand.Message.
func (input TemplateCreateInput) Validate() error {
	switch {
	case strings.TrimSpace(input.Name) == "":
		return ErrTemplateRequired
	case len(input.Preferences) == 0:
		return ErrTemplateRequired
	case input.Actor.ID == uuid.Nil:
		return ErrActorRequired
	default:
		return nil
	}
}

// TemplateCreateCommand validates and stores a template bundle.
type TemplateCreateCommand struct {
	engine      *templates.Engine
	guard       scope.Guard
	featureGate featuregate.FeatureGate
}

// NewTemplateCreateCommand constructs the handler.
func NewTemplateCreateCommand(cfg TemplateCommandConfig) *TemplateCreateCommand {
	return &TemplateCreateCommand{
		engine:      cfg.Engine,
		guard:       safeScopeGuard(cfg.ScopeGuard),
		featureGate: cfg.FeatureGate,
	}
}

var _ gocommand.Commander[TemplateCreateInput] = (*TemplateCreateCommand)(nil)

// Execute stores the template.
func (c *TemplateCreateCommand) Execute(ctx context.Context, input TemplateCreateInput) error {
	if c.engine == nil {
		return types.ErrMissingTemplateEngine
	}
	if err := input.Validate(); err != nil {
		return err
	}
	if err := c.guard.Enforce(ctx, input.Actor, types.PolicyActionTemplatesWrite, uuid.Nil); err != nil {
		return err
	}
	if enabled, err := featureEnabled(ctx, c.featureGate, featureTemplates, input.Actor.ID); err != nil {
		return err
	} else if !enabled {
		return ErrTemplatesDisabled
	}

	created, err := c.engine.Create(ctx, types.Template{
		Name:        strings.TrimSpace(input.Name),
		Category:    strings.TrimSpace(input.Category),
		Preferences: input.Preferences,
		CreatedBy:   input.Actor.ID,
	})
	if err != nil {
		return err
	}
	if input.Result != nil && created != nil {
		*input.Result = *created
	}
	return nil
}

// TemplateSnapshotInput snapshots current values into a new template.
type TemplateSnapshotInput struct {
	Name       string
	Scope      types.Tier
	SubjectID  uuid.UUID
	Categories []string
	Actor      types.ActorRef
	Result     *types.Template
}

// Type implements gocommand.Message.
func (TemplateSnapshotInput) Type() string {
	return "command.template.snapshot"
}

// Validate implements gocommand.Message.
func (input TemplateSnapshotInput) Validate() error {
	switch {
	case strings.TrimSpace(input.Name) == "":
		return ErrTemplateRequired
	case input.Actor.ID == uuid.Nil:
		return ErrActorRequired
	default:
		return nil
	}
}

// TemplateSnapshotCommand materializes a template from live values.
type TemplateSnapshotCommand struct {
	engine      *templates.Engine
	guard       scope.Guard
	featureGate featuregate.FeatureGate
}

// NewTemplateSnapshotCommand constructs the handler.
func NewTemplateSnapshotCommand(cfg TemplateCommandConfig) *TemplateSnapshotCommand {
	return &TemplateSnapshotCommand{
		engine:      cfg.Engine,
		guard:       safeScopeGuard(cfg.ScopeGuard),
		featureGate: cfg.FeatureGate,
	}
}

var _ gocommand.Commander[TemplateSnapshotInput] = (*TemplateSnapshotCommand)(nil)

// Execute snapshots the scope into a new template.
func (c *TemplateSnapshotCommand) Execute(ctx context.Context, input TemplateSnapshotInput) error {
	if c.engine == nil {
		return types.ErrMissingTemplateEngine
	}
	if err := input.Validate(); err != nil {
		return err
	}
	if err := c.guard.Enforce(ctx, input.Actor, types.PolicyActionTemplatesWrite, input.SubjectID); err != nil {
		return err
	}
	if enabled, err := featureEnabled(ctx, c.featureGate, featureTemplates, input.Actor.ID); err != nil {
		return err
	} else if !enabled {
		return ErrTemplatesDisabled
	}

	created, err := c.engine.CreateFrom(ctx, templates.CreateFromInput{
		Name:       strings.TrimSpace(input.Name),
		Scope:      input.Scope,
		SubjectID:  input.SubjectID,
		Categories: input.Categories,
		Actor:      input.Actor.ID,
	})
	if err != nil {
		return err
	}
	if input.Result != nil && created != nil {
		*input.Result = *created
	}
	return nil
}
