package resolver

import (
	"context"
	"sort"
	"strings"

	opts "github.com/goliatone/go-options"
	"github.com/goliatone/go-preferences/cache"
	"github.com/goliatone/go-preferences/pkg/types"
	"github.com/google/uuid"
)

// scopePriorityProject sits above the user scope so live project overrides
// win the merge.
const scopePriorityProject = opts.ScopePriorityUser + 100

// mergeTiers layers the participating tiers as scoped option stacks and
// merges them, then attributes each key to the strongest tier that supplied
// it. Cached entries short-circuit individual keys on the way in; misses are
// cached on the way out.
func (r *Resolver) mergeTiers(ctx context.Context, userID, projectID uuid.UUID, defs []types.SystemDefault) ([]types.Resolution, error) {
	byKey := make(map[string]types.SystemDefault, len(defs))
	pending := make([]string, 0, len(defs))
	resolved := make(map[string]types.Resolution, len(defs))

	for _, def := range defs {
		byKey[def.Key] = def
		cacheKey := cache.Key{UserID: userID, ProjectID: projectID, Key: def.Key}
		if entry, ok := r.cache.Get(cacheKey); ok {
			resolved[def.Key] = types.Resolution{
				Key:      def.Key,
				Value:    entry.Value,
				Source:   entry.Source,
				DataType: entry.DataType,
			}
			continue
		}
		pending = append(pending, def.Key)
	}

	if len(pending) > 0 {
		systemPayload := make(map[string]any, len(pending))
		for _, key := range pending {
			systemPayload[key] = byKey[key].DefaultValue
		}

		userPayload, err := r.userPayload(ctx, userID, pending)
		if err != nil {
			return nil, err
		}
		projectPayload, err := r.projectPayload(ctx, projectID, pending, byKey)
		if err != nil {
			return nil, err
		}

		layers := []opts.Layer[map[string]any]{
			newTierLayer("system", opts.ScopePrioritySystem, "System Defaults", systemPayload),
			newTierLayer("user", opts.ScopePriorityUser, "User", userPayload),
		}
		if len(projectPayload) > 0 {
			layers = append(layers, newTierLayer("project", scopePriorityProject, "Project", projectPayload))
		}

		stack, err := opts.NewStack(layers...)
		if err != nil {
			return nil, err
		}
		merged, err := stack.Merge()
		if err != nil {
			return nil, err
		}

		for _, key := range pending {
			value, ok := merged.Value[key]
			if !ok {
				value = byKey[key].DefaultValue
			}
			resolution := types.Resolution{
				Key:      key,
				Value:    value,
				Source:   attributeSource(key, projectPayload, userPayload),
				DataType: byKey[key].DataType,
			}
			resolved[key] = resolution
			r.cache.Put(cache.Key{UserID: userID, ProjectID: projectID, Key: key}, cache.Entry{
				Value:    resolution.Value,
				Source:   resolution.Source,
				DataType: resolution.DataType,
			})
		}
	}

	out := make([]types.Resolution, 0, len(resolved))
	for _, resolution := range resolved {
		out = append(out, resolution)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (r *Resolver) userPayload(ctx context.Context, userID uuid.UUID, keys []string) (map[string]any, error) {
	prefs, err := r.listUserPreferences(ctx, userID, keys)
	if err != nil {
		return nil, err
	}
	payload := make(map[string]any, len(prefs))
	for _, pref := range prefs {
		if !pref.Active {
			continue
		}
		payload[pref.Key] = pref.Value
	}
	return payload, nil
}

// projectPayload gathers live override values. Overrides with inherits_user
// are excluded so the user tier supplies those keys.
func (r *Resolver) projectPayload(ctx context.Context, projectID uuid.UUID, keys []string, byKey map[string]types.SystemDefault) (map[string]any, error) {
	if projectID == uuid.Nil || r.overrides == nil || r.toggles == nil {
		return nil, nil
	}
	toggle, err := r.getToggle(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if toggle == nil || !toggle.Enabled {
		return nil, nil
	}
	rows, err := r.listOverrides(ctx, projectID, keys)
	if err != nil {
		return nil, err
	}
	now := r.clock.Now()
	payload := map[string]any{}
	for _, row := range rows {
		if _, taken := payload[row.Key]; taken {
			continue
		}
		if !row.Live(now) || row.InheritsUser {
			continue
		}
		def, ok := byKey[row.Key]
		if !ok {
			def, ok = lookupFold(byKey, row.Key)
			if !ok {
				continue
			}
		}
		if !toggle.CategoryEnabled(def.Category) {
			continue
		}
		payload[row.Key] = row.Value
	}
	return payload, nil
}

func newTierLayer(name string, priority int, label string, payload map[string]any) opts.Layer[map[string]any] {
	if payload == nil {
		payload = map[string]any{}
	}
	scope := opts.NewScope(name, priority, opts.WithScopeLabel(label))
	return opts.NewLayer(scope, payload, opts.WithSnapshotID[map[string]any](scope.Name))
}

func attributeSource(key string, project, user map[string]any) types.Tier {
	if _, ok := project[key]; ok {
		return types.TierProject
	}
	if _, ok := user[key]; ok {
		return types.TierUser
	}
	return types.TierSystem
}

func lookupFold(byKey map[string]types.SystemDefault, key string) (types.SystemDefault, bool) {
	for k, def := range byKey {
		if strings.EqualFold(k, key) {
			return def, true
		}
	}
	return types.SystemDefault{}, false
}
