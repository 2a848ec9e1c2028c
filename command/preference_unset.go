package command

import (
	"context"
	"strings"

	gocommand "github.com/goliatone/go-command"
	"github.com/goliatone/go-preferences/cache"
	"github.com/goliatone/go-preferences/pkg/types"
	"github.com/goliatone/go-preferences/scope"
	"github.com/google/uuid"
)

// PreferenceUnsetInput identifies the user preference entry to remove. The
// entry is deactivated rather than deleted; resolution falls back to the
// system default.
type PreferenceUnsetInput struct {
	UserID uuid.UUID
	Key    string
	Actor  types.ActorRef
	Result *types.UserPreference
}

// Type implements gocommand.Message.
func (PreferenceUnsetInput) Type() string {
	return "command.preference.unset"
}

// Validate implements gocommand.Message.
func (input PreferenceUnsetInput) Validate() error {
	switch {
	case input.UserID == uuid.Nil:
		return ErrUserIDRequired
	case strings.TrimSpace(input.Key) == "":
		return ErrPreferenceKeyRequired
	case input.Actor.ID == uuid.Nil:
		return ErrActorRequired
	default:
		return nil
	}
}

// PreferenceUnsetCommand deactivates one user preference entry.
type PreferenceUnsetCommand struct {
	repo        types.UserPreferenceRepository
	history     types.ChangeRecorder
	invalidator cache.Invalidator
	hooks       types.Hooks
	clock       types.Clock
	guard       scope.Guard
}

// NewPreferenceUnsetCommand constructs the handler.
func NewPreferenceUnsetCommand(cfg PreferenceCommandConfig) *PreferenceUnsetCommand {
	return &PreferenceUnsetCommand{
		repo:        cfg.Repository,
		history:     cfg.History,
		invalidator: safeInvalidator(cfg.Invalidator),
		hooks:       safeHooks(cfg.Hooks),
		clock:       safeClock(cfg.Clock),
		guard:       safeScopeGuard(cfg.ScopeGuard),
	}
}

var _ gocommand.Commander[PreferenceUnsetInput] = (*PreferenceUnsetCommand)(nil)

// Execute deactivates the entry and records the removal.
func (c *PreferenceUnsetCommand) Execute(ctx context.Context, input PreferenceUnsetInput) error {
	if c.repo == nil {
		return types.ErrMissingPreferenceRepository
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
	existing, err := c.repo.GetPreference(ctx, input.UserID, key)
	if err != nil {
		return err
	}
	if existing == nil || !existing.Active {
		return types.NewUnknownKeyError(key)
	}

	saved, err := c.repo.DeactivatePreference(ctx, input.UserID, key, input.Actor.ID)
	if err != nil {
		return err
	}

	occurredAt := now(c.clock)
	if _, err := c.history.Record(ctx, types.ChangeRecord{
		Actor:      input.Actor.ID,
		Scope:      types.TierUser,
		SubjectID:  input.UserID,
		Key:        key,
		OldValue:   existing.Value,
		ChangeType: types.ChangeDelete,
		OccurredAt: occurredAt,
	}); err != nil {
		return err
	}

	c.invalidator.Invalidate(cache.Pattern{Key: key, UserID: input.UserID})
	emitChangeHook(ctx, c.hooks, types.ChangeEvent{
		Scope:      types.TierUser,
		SubjectID:  input.UserID,
		Key:        key,
		OldValue:   existing.Value,
		ChangeType: types.ChangeDelete,
		ActorID:    input.Actor.ID,
		OccurredAt: occurredAt,
	})

	if input.Result != nil && saved != nil {
		*input.Result = *saved
	}
	return nil
}
