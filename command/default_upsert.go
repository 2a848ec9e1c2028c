package command

import (
	"context"
	"strings"

	gocommand "github.com/goliatone/go-command"
	"github.com/goliatone/go-preferences/cache"
	"github.com/goliatone/go-preferences/defaults"
	"github.com/goliatone/go-preferences/pkg/types"
	"github.com/goliatone/go-preferences/scope"
	"github.com/google/uuid"
)

// DefaultCommandConfig wires dependencies for system default commands.
type DefaultCommandConfig struct {
	Repository  types.DefaultsRepository
	History     types.ChangeRecorder
	Invalidator cache.Invalidator
	Hooks       types.Hooks
	Clock       types.Clock
	ScopeGuard  scope.Guard
}

// DefaultUpsertInput carries a system default registration or update.
type DefaultUpsertInput struct {
	Default types.SystemDefault
	Actor   types.ActorRef
	Result  *types.SystemDefault
}

// Type implements gocommand.Message.
func (DefaultUpsertInput) Type() string {
	return "command.default.upsert"
}

// Validate implements gocommand.Message.
func (input DefaultUpsertInput) Validate() error {
	switch {
	case strings.TrimSpace(input.Default.Key) == "":
		return ErrPreferenceKeyRequired
	case input.Actor.ID == uuid.Nil:
		return ErrActorRequired
	default:
		return nil
	}
}

// DefaultUpsertCommand registers or updates the system default for a key.
// The default value itself must satisfy the declared constraints so a key
// can never ship with an unusable fallback.
type DefaultUpsertCommand struct {
	repo        types.DefaultsRepository
	history     types.ChangeRecorder
	invalidator cache.Invalidator
	hooks       types.Hooks
	clock       types.Clock
	guard       scope.Guard
}

// NewDefaultUpsertCommand constructs the handler.
func NewDefaultUpsertCommand(cfg DefaultCommandConfig) *DefaultUpsertCommand {
	return &DefaultUpsertCommand{
		repo:        cfg.Repository,
		history:     cfg.History,
		invalidator: safeInvalidator(cfg.Invalidator),
		hooks:       safeHooks(cfg.Hooks),
		clock:       safeClock(cfg.Clock),
		guard:       safeScopeGuard(cfg.ScopeGuard),
	}
}

var _ gocommand.Commander[DefaultUpsertInput] = (*DefaultUpsertCommand)(nil)

// Execute validates and persists the system default.
func (c *DefaultUpsertCommand) Execute(ctx context.Context, input DefaultUpsertInput) error {
	if c.repo == nil {
		return types.ErrMissingDefaultsRepository
	}
	if c.history == nil {
		return types.ErrMissingHistoryRepository
	}
	if err := input.Validate(); err != nil {
		return err
	}
	if err := c.guard.Enforce(ctx, input.Actor, types.PolicyActionPreferencesWrite, uuid.Nil); err != nil {
		return err
	}

	def := input.Default
	def.Key = strings.TrimSpace(def.Key)
	if def.DataType == "" {
		def.DataType = types.DataTypeJSON
	}
	if !def.Deprecated {
		if err := defaults.ValidateValue(def, def.DefaultValue); err != nil {
			return err
		}
	}

	var oldValue any
	changeType := types.ChangeCreate
	existing, err := c.repo.GetDefault(ctx, def.Key)
	if err != nil && !types.IsUnknownKey(err) {
		return err
	}
	if existing != nil {
		oldValue = existing.DefaultValue
		changeType = types.ChangeUpdate
	}

	def.UpdatedBy = input.Actor.ID
	saved, err := c.repo.UpsertDefault(ctx, def)
	if err != nil {
		return err
	}

	occurredAt := now(c.clock)
	if _, err := c.history.Record(ctx, types.ChangeRecord{
		Actor:      input.Actor.ID,
		Scope:      types.TierSystem,
		Key:        def.Key,
		OldValue:   oldValue,
		NewValue:   saved.DefaultValue,
		ChangeType: changeType,
		OccurredAt: occurredAt,
	}); err != nil {
		return err
	}

	// A system default backs every tier; evict the key everywhere.
	c.invalidator.Invalidate(cache.Pattern{Key: def.Key})
	emitChangeHook(ctx, c.hooks, types.ChangeEvent{
		Scope:      types.TierSystem,
		Key:        def.Key,
		OldValue:   oldValue,
		NewValue:   saved.DefaultValue,
		ChangeType: changeType,
		ActorID:    input.Actor.ID,
		OccurredAt: occurredAt,
	})

	if input.Result != nil && saved != nil {
		*input.Result = *saved
	}
	return nil
}
