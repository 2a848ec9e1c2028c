package resolver

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-preferences/cache"
	"github.com/goliatone/go-preferences/pkg/types"
	"github.com/google/uuid"
)

const (
	defaultStoreTimeout = 2 * time.Second
	defaultStoreRetries = 1
)

// Config wires dependencies for the preference resolver.
type Config struct {
	Defaults  types.DefaultsRepository
	Users     types.UserPreferenceRepository
	Overrides types.ProjectPreferenceRepository
	Toggles   types.OverrideToggleRepository
	Cache     cache.ResolutionCache
	Clock     types.Clock
	Logger    types.Logger

	// StoreTimeout bounds each store round trip; StoreRetries is how many
	// times a failed round trip is retried before the read fails closed.
	StoreTimeout time.Duration
	StoreRetries int
}

// Resolver computes effective preference values by walking the tier chain
// system -> user -> project. Reads are served from the resolution cache when
// possible; a cold cache yields identical results.
type Resolver struct {
	defaults  types.DefaultsRepository
	users     types.UserPreferenceRepository
	overrides types.ProjectPreferenceRepository
	toggles   types.OverrideToggleRepository
	cache     cache.ResolutionCache
	clock     types.Clock
	logger    types.Logger
	timeout   time.Duration
	retries   int
}

// ResolveInput identifies one resolution target. ProjectID is optional; when
// nil only the system and user tiers participate.
type ResolveInput struct {
	UserID    uuid.UUID
	ProjectID uuid.UUID
	Key       string
}

// ResolveManyInput identifies a bulk resolution target. An empty key list
// resolves every non-deprecated key known to the system tier.
type ResolveManyInput struct {
	UserID    uuid.UUID
	ProjectID uuid.UUID
	Keys      []string
}

// New constructs a preference resolver.
func New(cfg Config) (*Resolver, error) {
	if cfg.Defaults == nil {
		return nil, types.ErrMissingDefaultsRepository
	}
	if cfg.Users == nil {
		return nil, types.ErrMissingPreferenceRepository
	}
	r := &Resolver{
		defaults:  cfg.Defaults,
		users:     cfg.Users,
		overrides: cfg.Overrides,
		toggles:   cfg.Toggles,
		cache:     cfg.Cache,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		timeout:   cfg.StoreTimeout,
		retries:   cfg.StoreRetries,
	}
	if r.cache == nil {
		r.cache = cache.Nop{}
	}
	if r.clock == nil {
		r.clock = types.SystemClock{}
	}
	if r.logger == nil {
		r.logger = types.NopLogger{}
	}
	if r.timeout <= 0 {
		r.timeout = defaultStoreTimeout
	}
	if r.retries < 0 {
		r.retries = defaultStoreRetries
	}
	return r, nil
}

// Resolve returns the effective value for one key with source attribution.
func (r *Resolver) Resolve(ctx context.Context, in ResolveInput) (*types.Resolution, error) {
	if in.UserID == uuid.Nil {
		return nil, types.ErrUserIDRequired
	}
	key := strings.TrimSpace(in.Key)
	if key == "" {
		return nil, types.ErrKeyRequired
	}

	cacheKey := cache.Key{UserID: in.UserID, ProjectID: in.ProjectID, Key: key}
	if entry, ok := r.cache.Get(cacheKey); ok {
		return &types.Resolution{
			Key:      key,
			Value:    entry.Value,
			Source:   entry.Source,
			DataType: entry.DataType,
		}, nil
	}

	def, err := r.getDefault(ctx, key)
	if err != nil {
		return nil, err
	}
	// A deprecated key with a live replacement resolves as the replacement.
	if def.Deprecated && def.ReplacementKey != "" {
		repl, err := r.getDefault(ctx, def.ReplacementKey)
		if err != nil {
			return nil, err
		}
		if !repl.Deprecated {
			def = repl
		}
	}
	return r.resolveKnown(ctx, in.UserID, in.ProjectID, *def)
}

// resolveKnown walks the tiers for a catalogued key and caches the outcome
// under the key's canonical spelling.
func (r *Resolver) resolveKnown(ctx context.Context, userID, projectID uuid.UUID, def types.SystemDefault) (*types.Resolution, error) {
	cacheKey := cache.Key{UserID: userID, ProjectID: projectID, Key: def.Key}
	if entry, ok := r.cache.Get(cacheKey); ok {
		return &types.Resolution{
			Key:      def.Key,
			Value:    entry.Value,
			Source:   entry.Source,
			DataType: entry.DataType,
		}, nil
	}

	resolution, err := r.resolveFromStores(ctx, userID, projectID, def)
	if err != nil {
		return nil, err
	}

	r.cache.Put(cacheKey, cache.Entry{
		Value:    resolution.Value,
		Source:   resolution.Source,
		DataType: resolution.DataType,
	})
	return resolution, nil
}

// ResolveMany returns effective values for the requested keys, merging the
// participating tiers as layered scopes. Explicitly requested unknown keys
// fail the whole call.
func (r *Resolver) ResolveMany(ctx context.Context, in ResolveManyInput) ([]types.Resolution, error) {
	if in.UserID == uuid.Nil {
		return nil, types.ErrUserIDRequired
	}

	defs, err := r.loadDefaults(ctx, in.Keys)
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return nil, nil
	}

	merged, err := r.mergeTiers(ctx, in.UserID, in.ProjectID, defs)
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// Invalidate evicts cached resolutions matching the pattern.
func (r *Resolver) Invalidate(pattern cache.Pattern) {
	r.cache.Invalidate(pattern)
}

// resolveFromStores performs the tier walk for one key. Project overrides win
// when live and permitted by the project toggle; an inherits_user winner
// forwards to the user tier instead of supplying its own value.
func (r *Resolver) resolveFromStores(ctx context.Context, userID, projectID uuid.UUID, def types.SystemDefault) (*types.Resolution, error) {
	if projectID != uuid.Nil && r.overrides != nil {
		winner, err := r.liveOverride(ctx, projectID, def)
		if err != nil {
			return nil, err
		}
		// An inherits_user winner forwards to the user tier below.
		if winner != nil && !winner.InheritsUser {
			return &types.Resolution{
				Key:      def.Key,
				Value:    winner.Value,
				Source:   types.TierProject,
				DataType: def.DataType,
			}, nil
		}
	}

	pref, err := r.getUserPreference(ctx, userID, def.Key)
	if err != nil {
		return nil, err
	}
	if pref != nil && pref.Active {
		return &types.Resolution{
			Key:      def.Key,
			Value:    pref.Value,
			Source:   types.TierUser,
			DataType: def.DataType,
		}, nil
	}

	return &types.Resolution{
		Key:      def.Key,
		Value:    def.DefaultValue,
		Source:   types.TierSystem,
		DataType: def.DataType,
	}, nil
}

// liveOverride returns the strongest live override for the key, or nil when
// the toggle, category, approval state, or effective window rules it out.
func (r *Resolver) liveOverride(ctx context.Context, projectID uuid.UUID, def types.SystemDefault) (*types.ProjectPreference, error) {
	if r.toggles == nil {
		return nil, nil
	}
	toggle, err := r.getToggle(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if toggle == nil || !toggle.CategoryEnabled(def.Category) {
		return nil, nil
	}
	rows, err := r.listOverrides(ctx, projectID, []string{def.Key})
	if err != nil {
		return nil, err
	}
	now := r.clock.Now()
	// Rows arrive strongest first: priority DESC, then most recent
	// effective_from. The first live row wins.
	for i := range rows {
		if rows[i].Live(now) {
			return &rows[i], nil
		}
	}
	return nil, nil
}

func (r *Resolver) loadDefaults(ctx context.Context, keys []string) ([]types.SystemDefault, error) {
	defs, err := r.listDefaults(ctx, keys)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		// Enumeration skips deprecated keys; direct requests still resolve.
		filtered := defs[:0]
		for _, def := range defs {
			if !def.Deprecated {
				filtered = append(filtered, def)
			}
		}
		return filtered, nil
	}
	found := make(map[string]bool, len(defs))
	for _, def := range defs {
		found[strings.ToLower(def.Key)] = true
	}
	for _, key := range keys {
		if !found[strings.ToLower(strings.TrimSpace(key))] {
			return nil, types.NewUnknownKeyError(key)
		}
	}
	return defs, nil
}

func (r *Resolver) getDefault(ctx context.Context, key string) (*types.SystemDefault, error) {
	var def *types.SystemDefault
	err := r.withStore(ctx, func(ctx context.Context) error {
		var err error
		def, err = r.defaults.GetDefault(ctx, key)
		return err
	})
	return def, err
}

func (r *Resolver) listDefaults(ctx context.Context, keys []string) ([]types.SystemDefault, error) {
	var defs []types.SystemDefault
	err := r.withStore(ctx, func(ctx context.Context) error {
		var err error
		defs, err = r.defaults.ListDefaults(ctx, keys)
		return err
	})
	return defs, err
}

func (r *Resolver) getUserPreference(ctx context.Context, userID uuid.UUID, key string) (*types.UserPreference, error) {
	var pref *types.UserPreference
	err := r.withStore(ctx, func(ctx context.Context) error {
		var err error
		pref, err = r.users.GetPreference(ctx, userID, key)
		return err
	})
	return pref, err
}

func (r *Resolver) listUserPreferences(ctx context.Context, userID uuid.UUID, keys []string) ([]types.UserPreference, error) {
	var prefs []types.UserPreference
	err := r.withStore(ctx, func(ctx context.Context) error {
		var err error
		prefs, err = r.users.ListPreferences(ctx, userID, keys)
		return err
	})
	return prefs, err
}

func (r *Resolver) getToggle(ctx context.Context, projectID uuid.UUID) (*types.OverrideToggle, error) {
	var toggle *types.OverrideToggle
	err := r.withStore(ctx, func(ctx context.Context) error {
		var err error
		toggle, err = r.toggles.GetToggle(ctx, projectID)
		return err
	})
	return toggle, err
}

func (r *Resolver) listOverrides(ctx context.Context, projectID uuid.UUID, keys []string) ([]types.ProjectPreference, error) {
	var rows []types.ProjectPreference
	err := r.withStore(ctx, func(ctx context.Context) error {
		var err error
		rows, err = r.overrides.ListOverrides(ctx, projectID, keys)
		return err
	})
	return rows, err
}

// withStore bounds one store operation with the configured timeout and
// retries transient failures. Domain errors (unknown key, validation) pass
// through untouched; anything else fails closed as a store outage so callers
// never act on silently defaulted values.
func (r *Resolver) withStore(ctx context.Context, op func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := op(opCtx)
		cancel()
		if err == nil {
			return nil
		}
		if isDomainError(err) {
			return err
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		r.logger.Debug("store operation failed, retrying", "attempt", attempt, "error", err)
	}
	return types.NewStoreUnavailableError(lastErr)
}

func isDomainError(err error) bool {
	return types.IsUnknownKey(err) ||
		types.IsValidation(err) ||
		types.IsConflict(err) ||
		types.IsCategoryNotOverridable(err)
}
