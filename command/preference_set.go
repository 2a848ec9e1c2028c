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

// PreferenceCommandConfig wires dependencies for user preference commands.
type PreferenceCommandConfig struct {
	Repository  types.UserPreferenceRepository
	Defaults    types.DefaultsRepository
	History     types.ChangeRecorder
	Invalidator cache.Invalidator
	Hooks       types.Hooks
	Clock       types.Clock
	Logger      types.Logger
	ScopeGuard  scope.Guard
}

// PreferenceSetInput captures a user preference mutation payload. A non-zero
// ExpectedVersion enables optimistic concurrency against the stored entry.
type PreferenceSetInput struct {
	UserID          uuid.UUID
	Key             string
	Value           any
	ExpectedVersion int
	Actor           types.ActorRef
	Result          *types.UserPreference
}

// Type implements gocommand.Message.
func (PreferenceSetInput) Type() string {
	return "command.preference.set"
}

// Validate implements gocommand.Message.
func (input PreferenceSetInput) Validate() error {
	switch {
	case input.UserID == uuid.Nil:
		return ErrUserIDRequired
	case strings.TrimSpace(input.Key) == "":
		return ErrPreferenceKeyRequired
	case input.Value == nil:
		return ErrPreferenceValueRequired
	case input.Actor.ID == uuid.Nil:
		return ErrActorRequired
	default:
		return nil
	}
}

// PreferenceSetCommand validates and writes one user preference, records the
// change, and evicts affected cache entries.
type PreferenceSetCommand struct {
	repo        types.UserPreferenceRepository
	defaults    types.DefaultsRepository
	history     types.ChangeRecorder
	invalidator cache.Invalidator
	hooks       types.Hooks
	clock       types.Clock
	logger      types.Logger
	guard       scope.Guard
}

// NewPreferenceSetCommand constructs the handler.
func NewPreferenceSetCommand(cfg PreferenceCommandConfig) *PreferenceSetCommand {
	return &PreferenceSetCommand{
		repo:        cfg.Repository,
		defaults:    cfg.Defaults,
		history:     cfg.History,
		invalidator: safeInvalidator(cfg.Invalidator),
		hooks:       safeHooks(cfg.Hooks),
		clock:       safeClock(cfg.Clock),
		logger:      safeLogger(cfg.Logger),
		guard:       safeScopeGuard(cfg.ScopeGuard),
	}
}

var _ gocommand.Commander[PreferenceSetInput] = (*PreferenceSetCommand)(nil)

// Execute validates the value against the key's system default, persists the
// entry, and appends the history record.
func (c *PreferenceSetCommand) Execute(ctx context.Context, input PreferenceSetInput) error {
	if c.repo == nil {
		return types.ErrMissingPreferenceRepository
	}
	if c.defaults == nil {
		return types.ErrMissingDefaultsRepository
	}
	if c.history == nil {
		return types.ErrMissingHistoryRepository
	}
	if err := input.Validate(); err != nil {
		return err
	}
	if err := c.guard.Enforce(ctx, input.Actor, types.PolicyActionPreferencesWrite, input.UserID); err != nil {
		return err
	}

	key := strings.TrimSpace(input.Key)
	def, err := c.defaults.GetDefault(ctx, key)
	if err != nil {
		return err
	}
	// Store and invalidate under the catalog's canonical key spelling.
	key = def.Key
	if err := defaults.ValidateWrite(*def, input.Value); err != nil {
		return err
	}

	existing, err := c.repo.GetPreference(ctx, input.UserID, key)
	if err != nil {
		return err
	}
	var oldValue any
	changeType := types.ChangeCreate
	if existing != nil && existing.Active {
		oldValue = existing.Value
		changeType = types.ChangeUpdate
	}

	saved, err := c.repo.UpsertPreference(ctx, types.UserPreference{
		UserID:    input.UserID,
		Key:       key,
		Value:     input.Value,
		Active:    true,
		Origin:    types.OriginManual,
		Version:   input.ExpectedVersion,
		UpdatedBy: input.Actor.ID,
	})
	if err != nil {
		return err
	}

	occurredAt := now(c.clock)
	if _, err := c.history.Record(ctx, types.ChangeRecord{
		Actor:      input.Actor.ID,
		Scope:      types.TierUser,
		SubjectID:  input.UserID,
		Key:        key,
		OldValue:   oldValue,
		NewValue:   saved.Value,
		ChangeType: changeType,
		OccurredAt: occurredAt,
	}); err != nil {
		return err
	}

	// User-tier writes can surface through any project resolution for this
	// user, so ProjectID stays a wildcard.
	c.invalidator.Invalidate(cache.Pattern{Key: key, UserID: input.UserID})
	emitChangeHook(ctx, c.hooks, types.ChangeEvent{
		Scope:      types.TierUser,
		SubjectID:  input.UserID,
		Key:        key,
		OldValue:   oldValue,
		NewValue:   saved.Value,
		ChangeType: changeType,
		ActorID:    input.Actor.ID,
		OccurredAt: occurredAt,
	})

	if input.Result != nil && saved != nil {
		*input.Result = *saved
	}
	return nil
}
