package history

import (
	"context"
	"fmt"

	"github.com/goliatone/go-preferences/cache"
	"github.com/goliatone/go-preferences/defaults"
	"github.com/goliatone/go-preferences/overrides"
	"github.com/goliatone/go-preferences/pkg/types"
	"github.com/google/uuid"
)

// RollbackerConfig wires the rollback service's collaborators.
type RollbackerConfig struct {
	History     types.HistoryRepository
	Defaults    types.DefaultsRepository
	Users       types.UserPreferenceRepository
	Overrides   *overrides.Manager
	Invalidator cache.Invalidator
	Hooks       types.Hooks
	Clock       types.Clock
	IDGen       types.IDGenerator
	Logger      types.Logger
}

// Rollbacker reverts recorded changes by appending compensating entries and
// re-applying old values through the normal write paths. History rows are
// never mutated or deleted.
type Rollbacker struct {
	history     types.HistoryRepository
	defaults    types.DefaultsRepository
	users       types.UserPreferenceRepository
	overrides   *overrides.Manager
	invalidator cache.Invalidator
	hooks       types.Hooks
	clock       types.Clock
	idGen       types.IDGenerator
	logger      types.Logger
}

// NewRollbacker constructs the rollback service.
func NewRollbacker(cfg RollbackerConfig) (*Rollbacker, error) {
	if cfg.History == nil {
		return nil, types.ErrMissingHistoryRepository
	}
	if cfg.Defaults == nil {
		return nil, types.ErrMissingDefaultsRepository
	}
	if cfg.Users == nil {
		return nil, types.ErrMissingPreferenceRepository
	}
	if cfg.Overrides == nil {
		return nil, types.ErrMissingOverrideManager
	}
	r := &Rollbacker{
		history:     cfg.History,
		defaults:    cfg.Defaults,
		users:       cfg.Users,
		overrides:   cfg.Overrides,
		invalidator: cfg.Invalidator,
		hooks:       cfg.Hooks,
		clock:       cfg.Clock,
		idGen:       cfg.IDGen,
		logger:      cfg.Logger,
	}
	if r.invalidator == nil {
		r.invalidator = cache.Nop{}
	}
	if r.clock == nil {
		r.clock = types.SystemClock{}
	}
	if r.idGen == nil {
		r.idGen = types.UUIDGenerator{}
	}
	if r.logger == nil {
		r.logger = types.NopLogger{}
	}
	return r, nil
}

// Rollback reverts a single change. The compensating entry is forward-dated
// and linked to the original via RevertedChangeID; a change can be reverted
// at most once.
func (r *Rollbacker) Rollback(ctx context.Context, changeID, actor uuid.UUID) (*types.ChangeRecord, error) {
	if actor == uuid.Nil {
		return nil, types.ErrActorRequired
	}
	change, err := r.loadTarget(ctx, changeID)
	if err != nil {
		return nil, err
	}
	return r.revert(ctx, *change, actor, uuid.Nil)
}

// RollbackBatch reverts every change sharing the batch id, newest first. The
// whole batch is validated before any write so a doomed batch leaves the
// store untouched. Compensating entries share a fresh batch id.
func (r *Rollbacker) RollbackBatch(ctx context.Context, batchID, actor uuid.UUID) ([]types.ChangeRecord, error) {
	if actor == uuid.Nil {
		return nil, types.ErrActorRequired
	}
	changes, err := r.history.ListBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return nil, types.NewInvalidRollbackError("batch not found", map[string]any{
			"batch_id": batchID.String(),
		})
	}
	for _, change := range changes {
		if err := r.validateTarget(ctx, change); err != nil {
			return nil, err
		}
	}

	revertBatch := r.idGen.UUID()
	reverted := make([]types.ChangeRecord, 0, len(changes))
	// Newest first so intra-batch writes to the same key unwind cleanly.
	for i := len(changes) - 1; i >= 0; i-- {
		entry, err := r.revert(ctx, changes[i], actor, revertBatch)
		if err != nil {
			return reverted, err
		}
		reverted = append(reverted, *entry)
	}
	return reverted, nil
}

func (r *Rollbacker) loadTarget(ctx context.Context, changeID uuid.UUID) (*types.ChangeRecord, error) {
	change, err := r.history.GetChange(ctx, changeID)
	if err != nil {
		return nil, err
	}
	if change == nil {
		return nil, types.NewInvalidRollbackError("change not found", map[string]any{
			"change_id": changeID.String(),
		})
	}
	if err := r.validateTarget(ctx, *change); err != nil {
		return nil, err
	}
	return change, nil
}

func (r *Rollbacker) validateTarget(ctx context.Context, change types.ChangeRecord) error {
	meta := map[string]any{"change_id": change.ID.String()}
	if change.Key == "" {
		return types.NewInvalidRollbackError("change is not reversible", meta)
	}
	prior, err := r.history.RevertOf(ctx, change.ID)
	if err != nil {
		return err
	}
	if prior != nil {
		meta["reverted_by"] = prior.ID.String()
		return types.NewInvalidRollbackError("change already reverted", meta)
	}
	def, err := r.defaults.GetDefault(ctx, change.Key)
	if err != nil {
		if types.IsUnknownKey(err) {
			meta["key"] = change.Key
			return types.NewInvalidRollbackError("key no longer exists", meta)
		}
		return err
	}
	if def.Deprecated {
		meta["key"] = change.Key
		return types.NewInvalidRollbackError("key is deprecated", meta)
	}
	if change.OldValue != nil {
		if err := defaults.ValidateValue(*def, change.OldValue); err != nil {
			meta["key"] = change.Key
			return types.NewInvalidRollbackError("old value violates current constraints", meta)
		}
	}
	return nil
}

func (r *Rollbacker) revert(ctx context.Context, change types.ChangeRecord, actor, batchID uuid.UUID) (*types.ChangeRecord, error) {
	switch change.Scope {
	case types.TierUser:
		if err := r.revertUser(ctx, change, actor); err != nil {
			return nil, err
		}
	case types.TierProject:
		if err := r.revertProject(ctx, change, actor); err != nil {
			return nil, err
		}
	default:
		return nil, types.NewInvalidRollbackError("unsupported scope", map[string]any{
			"change_id": change.ID.String(),
			"scope":     string(change.Scope),
		})
	}

	now := r.clock.Now()
	entry, err := r.history.Record(ctx, types.ChangeRecord{
		Actor:            actor,
		Scope:            change.Scope,
		SubjectID:        change.SubjectID,
		Key:              change.Key,
		OldValue:         change.NewValue,
		NewValue:         change.OldValue,
		ChangeType:       types.ChangeRollback,
		Reason:           fmt.Sprintf("rollback of change %s", change.ID),
		BatchID:          batchID,
		RevertedChangeID: change.ID,
		OccurredAt:       now,
	})
	if err != nil {
		return nil, err
	}

	if r.hooks.AfterChange != nil {
		r.hooks.AfterChange(ctx, types.ChangeEvent{
			Scope:      change.Scope,
			SubjectID:  change.SubjectID,
			Key:        change.Key,
			OldValue:   change.NewValue,
			NewValue:   change.OldValue,
			ChangeType: types.ChangeRollback,
			ActorID:    actor,
			OccurredAt: now,
		})
	}
	return entry, nil
}

func (r *Rollbacker) revertUser(ctx context.Context, change types.ChangeRecord, actor uuid.UUID) error {
	if change.OldValue == nil {
		// The change introduced the entry; reverting removes it again.
		if _, err := r.users.DeactivatePreference(ctx, change.SubjectID, change.Key, actor); err != nil {
			return err
		}
	} else {
		if _, err := r.users.UpsertPreference(ctx, types.UserPreference{
			UserID:    change.SubjectID,
			Key:       change.Key,
			Value:     change.OldValue,
			Active:    true,
			Origin:    types.OriginManual,
			UpdatedBy: actor,
		}); err != nil {
			return err
		}
	}
	r.invalidator.Invalidate(cache.Pattern{Key: change.Key, UserID: change.SubjectID})
	return nil
}

// revertProject re-enters the approval pipeline: restoring an old value
// proposes a fresh override, and undoing an activation revokes the live row.
// Project state never changes behind the approvers' backs.
func (r *Rollbacker) revertProject(ctx context.Context, change types.ChangeRecord, actor uuid.UUID) error {
	if change.OldValue == nil {
		live, err := r.liveOverride(ctx, change.SubjectID, change.Key)
		if err != nil {
			return err
		}
		if live == nil {
			return types.NewInvalidRollbackError("no live override to revoke", map[string]any{
				"change_id": change.ID.String(),
				"key":       change.Key,
			})
		}
		_, err = r.overrides.Revoke(ctx, overrides.DecisionInput{
			OverrideID: live.ID,
			Actor:      actor,
			Reason:     fmt.Sprintf("rollback of change %s", change.ID),
		})
		return err
	}
	_, err := r.overrides.Propose(ctx, overrides.ProposeInput{
		ProjectID:   change.SubjectID,
		Key:         change.Key,
		Value:       change.OldValue,
		Reason:      fmt.Sprintf("rollback of change %s", change.ID),
		RequestedBy: actor,
	})
	return err
}

func (r *Rollbacker) liveOverride(ctx context.Context, projectID uuid.UUID, key string) (*types.ProjectPreference, error) {
	rows, err := r.overrides.ListProjectOverrides(ctx, projectID, []string{key})
	if err != nil {
		return nil, err
	}
	now := r.clock.Now()
	for _, row := range rows {
		if row.Live(now) {
			return &row, nil
		}
	}
	return nil, nil
}
