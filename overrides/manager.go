package overrides

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-preferences/cache"
	"github.com/goliatone/go-preferences/defaults"
	"github.com/goliatone/go-preferences/pkg/types"
	"github.com/google/uuid"
)

// transitions is the approval state graph. Expiry is computed from
// effective_until rather than transitioned here; SweepExpired persists it
// for reporting only.
var transitions = map[types.ApprovalState][]types.ApprovalState{
	types.ApprovalProposed: {types.ApprovalApproved, types.ApprovalRejected, types.ApprovalRevoked},
	types.ApprovalApproved: {types.ApprovalRevoked, types.ApprovalExpired},
	types.ApprovalActive:   {types.ApprovalRevoked, types.ApprovalExpired},
}

func canTransition(from, to types.ApprovalState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ManagerConfig wires the override manager's collaborators.
type ManagerConfig struct {
	Overrides   types.ProjectPreferenceRepository
	Toggles     types.OverrideToggleRepository
	Defaults    types.DefaultsRepository
	History     types.ChangeRecorder
	Invalidator cache.Invalidator
	Hooks       types.Hooks
	Clock       types.Clock
	IDGen       types.IDGenerator
	Logger      types.Logger
}

// Manager drives the project override lifecycle: proposal, decision,
// revocation, and the per-project master toggle. Every committed transition
// lands in the change log and evicts the affected cache entries.
type Manager struct {
	overrides   types.ProjectPreferenceRepository
	toggles     types.OverrideToggleRepository
	defaults    types.DefaultsRepository
	history     types.ChangeRecorder
	invalidator cache.Invalidator
	hooks       types.Hooks
	clock       types.Clock
	idGen       types.IDGenerator
	logger      types.Logger
}

// NewManager constructs the override manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Overrides == nil {
		return nil, types.ErrMissingOverrideRepository
	}
	if cfg.Toggles == nil {
		return nil, types.ErrMissingToggleRepository
	}
	if cfg.Defaults == nil {
		return nil, types.ErrMissingDefaultsRepository
	}
	if cfg.History == nil {
		return nil, types.ErrMissingHistoryRepository
	}
	m := &Manager{
		overrides:   cfg.Overrides,
		toggles:     cfg.Toggles,
		defaults:    cfg.Defaults,
		history:     cfg.History,
		invalidator: cfg.Invalidator,
		hooks:       cfg.Hooks,
		clock:       cfg.Clock,
		idGen:       cfg.IDGen,
		logger:      cfg.Logger,
	}
	if m.invalidator == nil {
		m.invalidator = cache.Nop{}
	}
	if m.clock == nil {
		m.clock = types.SystemClock{}
	}
	if m.idGen == nil {
		m.idGen = types.UUIDGenerator{}
	}
	if m.logger == nil {
		m.logger = types.NopLogger{}
	}
	return m, nil
}

// ProposeInput carries a new override request.
type ProposeInput struct {
	ProjectID      uuid.UUID
	Key            string
	Value          any
	InheritsUser   bool
	Priority       int
	Reason         string
	EffectiveFrom  *time.Time
	EffectiveUntil *time.Time
	RequestedBy    uuid.UUID
}

// Propose records a new override in the proposed state. The key must carry a
// system default, the value must satisfy its constraints, and the project
// toggle must allow the key's category; proposing against a disabled category
// fails fast instead of parking a request that can never go live.
func (m *Manager) Propose(ctx context.Context, in ProposeInput) (*types.ProjectPreference, error) {
	if in.ProjectID == uuid.Nil {
		return nil, types.ErrProjectIDRequired
	}
	if in.RequestedBy == uuid.Nil {
		return nil, types.ErrActorRequired
	}
	key := strings.TrimSpace(in.Key)
	if key == "" {
		return nil, types.ErrKeyRequired
	}

	def, err := m.defaults.GetDefault(ctx, key)
	if err != nil {
		return nil, err
	}
	if !in.InheritsUser {
		if err := defaults.ValidateWrite(*def, in.Value); err != nil {
			return nil, err
		}
	}
	if err := m.checkCategory(ctx, in.ProjectID, def.Category); err != nil {
		return nil, err
	}
	if in.EffectiveFrom != nil && in.EffectiveUntil != nil && !in.EffectiveUntil.After(*in.EffectiveFrom) {
		return nil, types.NewValidationError(key, "effective_until must be after effective_from")
	}

	created, err := m.overrides.CreateOverride(ctx, types.ProjectPreference{
		ProjectID:      in.ProjectID,
		Key:            key,
		Value:          in.Value,
		InheritsUser:   in.InheritsUser,
		ApprovalState:  types.ApprovalProposed,
		EffectiveFrom:  in.EffectiveFrom,
		EffectiveUntil: in.EffectiveUntil,
		Priority:       in.Priority,
		Reason:         in.Reason,
		RequestedBy:    in.RequestedBy,
	})
	if err != nil {
		return nil, err
	}

	if _, err := m.history.Record(ctx, types.ChangeRecord{
		Actor:      in.RequestedBy,
		Scope:      types.TierProject,
		SubjectID:  in.ProjectID,
		Key:        key,
		NewValue:   in.Value,
		ChangeType: types.ChangeCreate,
		Reason:     fmt.Sprintf("override proposed: %s", in.Reason),
		OccurredAt: m.clock.Now(),
	}); err != nil {
		return nil, err
	}

	m.emitTransition(ctx, *created, "", types.ApprovalProposed, in.RequestedBy, in.Reason)
	return created, nil
}

// DecisionInput carries an approval decision on a pending override. The
// effective window fields are honored on approval only: the approver may set
// or narrow the window the proposer asked for.
type DecisionInput struct {
	OverrideID     uuid.UUID
	Actor          uuid.UUID
	Reason         string
	EffectiveFrom  *time.Time
	EffectiveUntil *time.Time
}

// Approve moves a proposed override to approved. The override goes live when
// its effective window opens (immediately when no effective_from was set by
// either the proposer or the approver).
func (m *Manager) Approve(ctx context.Context, in DecisionInput) (*types.ProjectPreference, error) {
	return m.transition(ctx, in, types.ApprovalApproved, func(pref *types.ProjectPreference, now time.Time) {
		if in.EffectiveFrom != nil {
			pref.EffectiveFrom = in.EffectiveFrom
		}
		if in.EffectiveUntil != nil {
			pref.EffectiveUntil = in.EffectiveUntil
		}
		if pref.EffectiveFrom == nil {
			pref.EffectiveFrom = &now
		}
	})
}

// Reject moves a proposed override to the terminal rejected state.
func (m *Manager) Reject(ctx context.Context, in DecisionInput) (*types.ProjectPreference, error) {
	return m.transition(ctx, in, types.ApprovalRejected, nil)
}

// Revoke retires an override regardless of its stage. The row survives
// soft-revoked so the audit trail stays contiguous.
func (m *Manager) Revoke(ctx context.Context, in DecisionInput) (*types.ProjectPreference, error) {
	return m.transition(ctx, in, types.ApprovalRevoked, nil)
}

func (m *Manager) transition(ctx context.Context, in DecisionInput, to types.ApprovalState, mutate func(*types.ProjectPreference, time.Time)) (*types.ProjectPreference, error) {
	if in.Actor == uuid.Nil {
		return nil, types.ErrActorRequired
	}
	pref, err := m.overrides.GetOverride(ctx, in.OverrideID)
	if err != nil {
		return nil, err
	}
	if pref == nil {
		return nil, types.NewUnknownKeyError(in.OverrideID.String())
	}

	now := m.clock.Now()
	from := pref.EffectiveState(now)
	if !canTransition(from, to) {
		return nil, types.NewInvalidTransitionError(pref.ID, from, to)
	}

	wasLive := pref.Live(now)
	pref.ApprovalState = to
	pref.DecidedBy = in.Actor
	pref.DecidedAt = &now
	if in.Reason != "" {
		pref.Reason = in.Reason
	}
	if mutate != nil {
		mutate(pref, now)
	}
	if pref.EffectiveFrom != nil && pref.EffectiveUntil != nil && !pref.EffectiveUntil.After(*pref.EffectiveFrom) {
		return nil, types.NewValidationError(pref.Key, "effective_until must be after effective_from")
	}

	updated, err := m.overrides.UpdateOverride(ctx, *pref)
	if err != nil {
		return nil, err
	}

	changeType := types.ChangeUpdate
	var oldValue, newValue any
	if updated.Live(now) {
		newValue = updated.Value
	}
	if wasLive {
		oldValue = updated.Value
		if !updated.Live(now) {
			changeType = types.ChangeDelete
		}
	}
	if _, err := m.history.Record(ctx, types.ChangeRecord{
		Actor:      in.Actor,
		Scope:      types.TierProject,
		SubjectID:  updated.ProjectID,
		Key:        updated.Key,
		OldValue:   oldValue,
		NewValue:   newValue,
		ChangeType: changeType,
		Reason:     fmt.Sprintf("override %s -> %s: %s", from, to, in.Reason),
		OccurredAt: now,
	}); err != nil {
		return nil, err
	}

	if wasLive || updated.Live(now) {
		m.invalidator.Invalidate(cache.Pattern{Key: updated.Key, ProjectID: updated.ProjectID})
	}
	m.emitTransition(ctx, *updated, from, to, in.Actor, in.Reason)
	return updated, nil
}

// EnableOverrides switches the project master toggle on for the supplied
// categories, replacing any previous category set.
func (m *Manager) EnableOverrides(ctx context.Context, projectID uuid.UUID, categories []string, actor uuid.UUID) (*types.OverrideToggle, error) {
	return m.setToggle(ctx, projectID, true, categories, actor)
}

// DisableOverrides switches the project master toggle off. Existing override
// rows keep their state; they simply stop affecting resolution.
func (m *Manager) DisableOverrides(ctx context.Context, projectID uuid.UUID, actor uuid.UUID) (*types.OverrideToggle, error) {
	return m.setToggle(ctx, projectID, false, nil, actor)
}

func (m *Manager) setToggle(ctx context.Context, projectID uuid.UUID, enabled bool, categories []string, actor uuid.UUID) (*types.OverrideToggle, error) {
	if projectID == uuid.Nil {
		return nil, types.ErrProjectIDRequired
	}
	if actor == uuid.Nil {
		return nil, types.ErrActorRequired
	}
	current, err := m.toggles.GetToggle(ctx, projectID)
	if err != nil {
		return nil, err
	}
	toggle := types.OverrideToggle{
		ProjectID: projectID,
		Enabled:   enabled,
		UpdatedBy: actor,
	}
	if enabled {
		toggle.Categories = normalizeCategories(categories)
	}
	if current != nil {
		toggle.Version = current.Version
		if !enabled {
			toggle.Categories = current.Categories
		}
	}
	updated, err := m.toggles.UpsertToggle(ctx, toggle)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	reason := "project overrides disabled"
	if enabled {
		reason = fmt.Sprintf("project overrides enabled for categories %v", updated.Categories)
	}
	if _, err := m.history.Record(ctx, types.ChangeRecord{
		Actor:      actor,
		Scope:      types.TierProject,
		SubjectID:  projectID,
		OldValue:   toggleValue(current),
		NewValue:   toggleValue(updated),
		ChangeType: types.ChangeUpdate,
		Reason:     reason,
		OccurredAt: now,
	}); err != nil {
		return nil, err
	}

	// The toggle gates every key in the project; evict them all.
	m.invalidator.Invalidate(cache.Pattern{ProjectID: projectID})
	if m.hooks.AfterChange != nil {
		m.hooks.AfterChange(ctx, types.ChangeEvent{
			Scope:      types.TierProject,
			SubjectID:  projectID,
			OldValue:   toggleValue(current),
			NewValue:   toggleValue(updated),
			ChangeType: types.ChangeUpdate,
			ActorID:    actor,
			OccurredAt: now,
		})
	}
	return updated, nil
}

// ListProjectOverrides exposes the project's override rows, strongest first.
func (m *Manager) ListProjectOverrides(ctx context.Context, projectID uuid.UUID, keys []string) ([]types.ProjectPreference, error) {
	return m.overrides.ListOverrides(ctx, projectID, keys)
}

// GetProjectToggle exposes the project's master switch; nil when never set.
func (m *Manager) GetProjectToggle(ctx context.Context, projectID uuid.UUID) (*types.OverrideToggle, error) {
	return m.toggles.GetToggle(ctx, projectID)
}

// SweepExpired persists the expired state on approved/active rows whose
// effective window has closed. Resolution never depends on the sweep; it only
// keeps stored state readable for reporting.
func (m *Manager) SweepExpired(ctx context.Context, projectID uuid.UUID) (int, error) {
	rows, err := m.overrides.ListOverrides(ctx, projectID, nil)
	if err != nil {
		return 0, err
	}
	now := m.clock.Now()
	swept := 0
	for _, row := range rows {
		if row.ApprovalState == types.ApprovalExpired {
			continue
		}
		if row.EffectiveState(now) != types.ApprovalExpired {
			continue
		}
		from := row.ApprovalState
		row.ApprovalState = types.ApprovalExpired
		updated, err := m.overrides.UpdateOverride(ctx, row)
		if err != nil {
			if types.IsConflict(err) {
				continue
			}
			return swept, err
		}
		swept++
		m.emitTransition(ctx, *updated, from, types.ApprovalExpired, uuid.Nil, "effective window closed")
	}
	if swept > 0 {
		m.logger.Debug("override sweep complete", "project_id", projectID, "swept", swept)
	}
	return swept, nil
}

func (m *Manager) checkCategory(ctx context.Context, projectID uuid.UUID, category string) error {
	toggle, err := m.toggles.GetToggle(ctx, projectID)
	if err != nil {
		return err
	}
	if toggle == nil || !toggle.CategoryEnabled(category) {
		return types.NewCategoryNotOverridableError(projectID, category)
	}
	return nil
}

func (m *Manager) emitTransition(ctx context.Context, pref types.ProjectPreference, from, to types.ApprovalState, actor uuid.UUID, reason string) {
	if m.hooks.AfterOverrideTransition == nil {
		return
	}
	m.hooks.AfterOverrideTransition(ctx, types.OverrideEvent{
		OverrideID: pref.ID,
		ProjectID:  pref.ProjectID,
		Key:        pref.Key,
		FromState:  from,
		ToState:    to,
		ActorID:    actor,
		Reason:     reason,
		OccurredAt: m.clock.Now(),
	})
}

func normalizeCategories(categories []string) []string {
	out := make([]string, 0, len(categories))
	seen := map[string]bool{}
	for _, c := range categories {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func toggleValue(toggle *types.OverrideToggle) any {
	if toggle == nil {
		return nil
	}
	return map[string]any{
		"enabled":    toggle.Enabled,
		"categories": toggle.Categories,
	}
}
