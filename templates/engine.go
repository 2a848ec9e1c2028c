package templates

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-preferences/cache"
	"github.com/goliatone/go-preferences/defaults"
	"github.com/goliatone/go-preferences/overrides"
	"github.com/goliatone/go-preferences/pkg/types"
	"github.com/google/uuid"
)

// EngineConfig wires the template engine's collaborators.
type EngineConfig struct {
	Templates   types.TemplateRepository
	Defaults    types.DefaultsRepository
	Users       types.UserPreferenceRepository
	Overrides   *overrides.Manager
	History     types.ChangeRecorder
	Invalidator cache.Invalidator
	Hooks       types.Hooks
	Clock       types.Clock
	IDGen       types.IDGenerator
	Logger      types.Logger
}

// Engine creates template bundles and applies them as single batches. An
// application is validated in full before the first write; partial outcomes
// only happen when the caller opts in.
type Engine struct {
	templates   types.TemplateRepository
	defaults    types.DefaultsRepository
	users       types.UserPreferenceRepository
	overrides   *overrides.Manager
	history     types.ChangeRecorder
	invalidator cache.Invalidator
	hooks       types.Hooks
	clock       types.Clock
	idGen       types.IDGenerator
	logger      types.Logger
}

// NewEngine constructs the template engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Templates == nil {
		return nil, types.ErrMissingTemplateRepository
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
	if cfg.History == nil {
		return nil, types.ErrMissingHistoryRepository
	}
	e := &Engine{
		templates:   cfg.Templates,
		defaults:    cfg.Defaults,
		users:       cfg.Users,
		overrides:   cfg.Overrides,
		history:     cfg.History,
		invalidator: cfg.Invalidator,
		hooks:       cfg.Hooks,
		clock:       cfg.Clock,
		idGen:       cfg.IDGen,
		logger:      cfg.Logger,
	}
	if e.invalidator == nil {
		e.invalidator = cache.Nop{}
	}
	if e.clock == nil {
		e.clock = types.SystemClock{}
	}
	if e.idGen == nil {
		e.idGen = types.UUIDGenerator{}
	}
	if e.logger == nil {
		e.logger = types.NopLogger{}
	}
	return e, nil
}

// Create validates and stores a new template. Every key must carry a system
// default and every value must satisfy its constraints; a template that could
// never apply cleanly is rejected at creation.
func (e *Engine) Create(ctx context.Context, tpl types.Template) (*types.Template, error) {
	for _, key := range sortedKeys(tpl.Preferences) {
		def, err := e.defaults.GetDefault(ctx, key)
		if err != nil {
			return nil, err
		}
		if err := defaults.ValidateWrite(*def, tpl.Preferences[key]); err != nil {
			return nil, err
		}
	}
	return e.templates.CreateTemplate(ctx, tpl)
}

// CreateFromInput names a snapshot source for a new template.
type CreateFromInput struct {
	Name       string
	Scope      types.Tier
	SubjectID  uuid.UUID
	Categories []string
	Actor      uuid.UUID
}

// CreateFrom snapshots current values into a new template. For the user scope
// the subject's active entries are captured; for the system scope the default
// values themselves. Deprecated keys are excluded so applying the snapshot
// later cannot resurrect them.
func (e *Engine) CreateFrom(ctx context.Context, in CreateFromInput) (*types.Template, error) {
	if in.Actor == uuid.Nil {
		return nil, types.ErrActorRequired
	}
	wanted := toCategorySet(in.Categories)

	bundle := map[string]any{}
	switch in.Scope {
	case types.TierUser:
		if in.SubjectID == uuid.Nil {
			return nil, types.ErrUserIDRequired
		}
		prefs, err := e.users.ListPreferences(ctx, in.SubjectID, nil)
		if err != nil {
			return nil, err
		}
		for _, pref := range prefs {
			if !pref.Active {
				continue
			}
			def, err := e.defaults.GetDefault(ctx, pref.Key)
			if err != nil {
				if types.IsUnknownKey(err) {
					continue
				}
				return nil, err
			}
			if def.Deprecated || !categoryMatches(wanted, def.Category) {
				continue
			}
			bundle[pref.Key] = pref.Value
		}
	case types.TierSystem:
		defs, err := e.defaults.ListDefaults(ctx, nil)
		if err != nil {
			return nil, err
		}
		for _, def := range defs {
			if def.Deprecated || !categoryMatches(wanted, def.Category) {
				continue
			}
			bundle[def.Key] = def.DefaultValue
		}
	default:
		return nil, types.NewValidationError(in.Name, fmt.Sprintf("cannot snapshot scope %q", in.Scope))
	}

	if len(bundle) == 0 {
		return nil, types.NewValidationError(in.Name, "snapshot produced an empty bundle")
	}
	category := ""
	if len(in.Categories) == 1 {
		category = strings.ToLower(strings.TrimSpace(in.Categories[0]))
	}
	return e.templates.CreateTemplate(ctx, types.Template{
		Name:        in.Name,
		Category:    category,
		Preferences: bundle,
		CreatedBy:   in.Actor,
	})
}

// ApplyInput names a template application target.
type ApplyInput struct {
	TemplateID uuid.UUID
	Scope      types.Tier
	SubjectID  uuid.UUID
	Policy     types.ConflictPolicy
	// AllowPartial downgrades per-key failures from an abort to an entry in
	// ApplyResult.Errors. Validation still runs for the whole bundle first.
	AllowPartial bool
	Actor        uuid.UUID
}

type plannedWrite struct {
	key      string
	value    any
	oldValue any
	existed  bool
}

// Apply writes a template bundle to the target as one batch. Strict mode
// aborts before the first write when any key fails validation, returning the
// report naming the failing key alongside the error; with AllowPartial the
// failing keys are reported and the rest land. Project applications propose
// overrides and re-enter the approval pipeline.
func (e *Engine) Apply(ctx context.Context, in ApplyInput) (*types.ApplyResult, error) {
	if in.Actor == uuid.Nil {
		return nil, types.ErrActorRequired
	}
	tpl, err := e.templates.GetTemplate(ctx, in.TemplateID)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, types.NewUnknownKeyError(in.TemplateID.String())
	}
	policy := in.Policy
	if policy == "" {
		policy = types.ConflictSkip
	}

	switch in.Scope {
	case types.TierUser:
		if in.SubjectID == uuid.Nil {
			return nil, types.ErrUserIDRequired
		}
		return e.applyToUser(ctx, *tpl, in, policy)
	case types.TierProject:
		if in.SubjectID == uuid.Nil {
			return nil, types.ErrProjectIDRequired
		}
		return e.applyToProject(ctx, *tpl, in)
	default:
		return nil, types.NewValidationError(tpl.Name, fmt.Sprintf("cannot apply to scope %q", in.Scope))
	}
}

func (e *Engine) applyToUser(ctx context.Context, tpl types.Template, in ApplyInput, policy types.ConflictPolicy) (*types.ApplyResult, error) {
	result := &types.ApplyResult{BatchID: e.idGen.UUID()}
	var plan []plannedWrite

	// Plan and validate the full bundle before any write.
	for _, key := range sortedKeys(tpl.Preferences) {
		value := tpl.Preferences[key]
		def, err := e.defaults.GetDefault(ctx, key)
		if err != nil {
			if types.IsUnknownKey(err) {
				result.Errors = append(result.Errors, types.ApplyError{Key: key, Message: "no system default"})
				if in.AllowPartial {
					continue
				}
				return result, err
			}
			return nil, err
		}

		existing, err := e.users.GetPreference(ctx, in.SubjectID, key)
		if err != nil {
			return nil, err
		}
		existed := existing != nil && existing.Active
		if existed && policy == types.ConflictSkip {
			result.Skipped = append(result.Skipped, key)
			continue
		}
		if existed && policy == types.ConflictMerge {
			merged := mergeValues(existing.Value, value)
			// A merge that supplies nothing new is a skip, not a rewrite.
			if reflect.DeepEqual(merged, existing.Value) {
				result.Skipped = append(result.Skipped, key)
				continue
			}
			value = merged
		}

		if err := defaults.ValidateWrite(*def, value); err != nil {
			result.Errors = append(result.Errors, types.ApplyError{Key: key, Message: err.Error()})
			if in.AllowPartial {
				continue
			}
			return result, err
		}
		write := plannedWrite{key: key, value: value, existed: existed}
		if existed {
			write.oldValue = existing.Value
		}
		plan = append(plan, write)
	}

	now := e.clock.Now()
	for _, write := range plan {
		if _, err := e.users.UpsertPreference(ctx, types.UserPreference{
			UserID:    in.SubjectID,
			Key:       write.key,
			Value:     write.value,
			Active:    true,
			Origin:    types.OriginTemplate,
			UpdatedBy: in.Actor,
		}); err != nil {
			return result, err
		}
		changeType := types.ChangeTemplateApply
		if _, err := e.history.Record(ctx, types.ChangeRecord{
			Actor:      in.Actor,
			Scope:      types.TierUser,
			SubjectID:  in.SubjectID,
			Key:        write.key,
			OldValue:   write.oldValue,
			NewValue:   write.value,
			ChangeType: changeType,
			Reason:     fmt.Sprintf("template %q applied", tpl.Name),
			BatchID:    result.BatchID,
			OccurredAt: now,
		}); err != nil {
			return result, err
		}
		e.invalidator.Invalidate(cache.Pattern{Key: write.key, UserID: in.SubjectID})
		result.Applied = append(result.Applied, write.key)
	}

	e.emitApplied(ctx, tpl, in, result.BatchID, now)
	return result, nil
}

// applyToProject proposes one override per key. Conflict policy does not
// apply; approvers decide what goes live.
func (e *Engine) applyToProject(ctx context.Context, tpl types.Template, in ApplyInput) (*types.ApplyResult, error) {
	result := &types.ApplyResult{BatchID: e.idGen.UUID()}

	for _, key := range sortedKeys(tpl.Preferences) {
		def, err := e.defaults.GetDefault(ctx, key)
		if err != nil {
			if types.IsUnknownKey(err) {
				result.Errors = append(result.Errors, types.ApplyError{Key: key, Message: "no system default"})
				if in.AllowPartial {
					continue
				}
				return result, err
			}
			return nil, err
		}
		if err := defaults.ValidateWrite(*def, tpl.Preferences[key]); err != nil {
			result.Errors = append(result.Errors, types.ApplyError{Key: key, Message: err.Error()})
			if in.AllowPartial {
				continue
			}
			return result, err
		}
	}

	now := e.clock.Now()
	for _, key := range sortedKeys(tpl.Preferences) {
		if hasApplyError(result, key) {
			continue
		}
		if _, err := e.overrides.Propose(ctx, overrides.ProposeInput{
			ProjectID:   in.SubjectID,
			Key:         key,
			Value:       tpl.Preferences[key],
			Reason:      fmt.Sprintf("template %q applied", tpl.Name),
			RequestedBy: in.Actor,
		}); err != nil {
			if in.AllowPartial {
				result.Errors = append(result.Errors, types.ApplyError{Key: key, Message: err.Error()})
				continue
			}
			return result, err
		}
		result.Applied = append(result.Applied, key)
	}

	e.emitApplied(ctx, tpl, in, result.BatchID, now)
	return result, nil
}

func (e *Engine) emitApplied(ctx context.Context, tpl types.Template, in ApplyInput, batchID uuid.UUID, now time.Time) {
	if e.hooks.AfterTemplateApply == nil {
		return
	}
	e.hooks.AfterTemplateApply(ctx, types.TemplateEvent{
		TemplateID: tpl.ID,
		Scope:      in.Scope,
		SubjectID:  in.SubjectID,
		BatchID:    batchID,
		ActorID:    in.Actor,
		OccurredAt: now,
	})
}

// mergeValues fills target gaps from the template: existing values win on
// shared keys, recursing into maps so absent nested keys are still supplied.
// A non-map existing value is kept as is.
func mergeValues(existing, incoming any) any {
	existingMap, okA := existing.(map[string]any)
	incomingMap, okB := incoming.(map[string]any)
	if !okA || !okB {
		return existing
	}
	merged := make(map[string]any, len(existingMap)+len(incomingMap))
	for k, v := range incomingMap {
		merged[k] = v
	}
	for k, v := range existingMap {
		if supplied, ok := incomingMap[k]; ok {
			merged[k] = mergeValues(v, supplied)
			continue
		}
		merged[k] = v
	}
	return merged
}

func hasApplyError(result *types.ApplyResult, key string) bool {
	for _, e := range result.Errors {
		if e.Key == key {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toCategorySet(categories []string) map[string]bool {
	set := map[string]bool{}
	for _, c := range categories {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" {
			set[c] = true
		}
	}
	return set
}

func categoryMatches(wanted map[string]bool, category string) bool {
	if len(wanted) == 0 {
		return true
	}
	return wanted[strings.ToLower(strings.TrimSpace(category))]
}
