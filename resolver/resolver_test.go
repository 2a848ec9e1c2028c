package resolver

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-preferences/cache"
	"github.com/goliatone/go-preferences/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	resolver  *Resolver
	defaults  *fakeDefaults
	users     *fakeUsers
	overrides *fakeOverrides
	toggles   *fakeToggles
	cache     *cache.TTLCache
	clock     *fakeClock
	userID    uuid.UUID
	projectID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		defaults:  &fakeDefaults{defs: map[string]types.SystemDefault{}},
		users:     &fakeUsers{prefs: map[uuid.UUID]map[string]types.UserPreference{}},
		overrides: &fakeOverrides{},
		toggles:   &fakeToggles{toggles: map[uuid.UUID]types.OverrideToggle{}},
		cache:     cache.New(cache.Config{}),
		clock:     &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		userID:    uuid.New(),
		projectID: uuid.New(),
	}
	t.Cleanup(f.cache.Stop)

	f.seedDefault("theme", "light", types.DataTypeString, "display")
	f.seedDefault("items.per_page", 25, types.DataTypeInt, "display")
	f.seedDefault("notifications.email", true, types.DataTypeBool, "notifications")

	resolver, err := New(Config{
		Defaults:  f.defaults,
		Users:     f.users,
		Overrides: f.overrides,
		Toggles:   f.toggles,
		Cache:     f.cache,
		Clock:     f.clock,
	})
	require.NoError(t, err)
	f.resolver = resolver
	return f
}

func (f *fixture) seedDefault(key string, value any, dataType types.DataType, category string) {
	f.defaults.defs[key] = types.SystemDefault{
		ID: uuid.New(), Key: key, DefaultValue: value,
		DataType: dataType, Category: category,
	}
}

func (f *fixture) seedUserPref(key string, value any) {
	if f.users.prefs[f.userID] == nil {
		f.users.prefs[f.userID] = map[string]types.UserPreference{}
	}
	f.users.prefs[f.userID][key] = types.UserPreference{
		ID: uuid.New(), UserID: f.userID, Key: key, Value: value, Active: true,
	}
}

func (f *fixture) seedOverride(key string, value any, inherits bool, until *time.Time) {
	from := f.clock.Now().Add(-time.Hour)
	f.overrides.rows = append(f.overrides.rows, types.ProjectPreference{
		ID: uuid.New(), ProjectID: f.projectID, Key: key, Value: value,
		InheritsUser: inherits, ApprovalState: types.ApprovalApproved,
		EffectiveFrom: &from, EffectiveUntil: until,
	})
}

func (f *fixture) enableToggle(categories ...string) {
	f.toggles.toggles[f.projectID] = types.OverrideToggle{
		ProjectID: f.projectID, Enabled: true, Categories: categories,
	}
}

func TestResolve_SystemDefaultFallback(t *testing.T) {
	f := newFixture(t)

	res, err := f.resolver.Resolve(context.Background(), ResolveInput{UserID: f.userID, Key: "theme"})
	require.NoError(t, err)
	require.Equal(t, "light", res.Value)
	require.Equal(t, types.TierSystem, res.Source)
	require.Equal(t, types.DataTypeString, res.DataType)
}

func TestResolve_UserTierWins(t *testing.T) {
	f := newFixture(t)
	f.seedUserPref("theme", "dark")

	res, err := f.resolver.Resolve(context.Background(), ResolveInput{UserID: f.userID, Key: "theme"})
	require.NoError(t, err)
	require.Equal(t, "dark", res.Value)
	require.Equal(t, types.TierUser, res.Source)
}

func TestResolve_ProjectOverrideWins(t *testing.T) {
	f := newFixture(t)
	f.seedUserPref("theme", "dark")
	f.enableToggle("display")
	f.seedOverride("theme", "corporate", false, nil)

	res, err := f.resolver.Resolve(context.Background(), ResolveInput{
		UserID: f.userID, ProjectID: f.projectID, Key: "theme",
	})
	require.NoError(t, err)
	require.Equal(t, "corporate", res.Value)
	require.Equal(t, types.TierProject, res.Source)

	// Without the project in scope the user tier still wins.
	res, err = f.resolver.Resolve(context.Background(), ResolveInput{UserID: f.userID, Key: "theme"})
	require.NoError(t, err)
	require.Equal(t, "dark", res.Value)
	require.Equal(t, types.TierUser, res.Source)
}

func TestResolve_InheritsUserFallsThrough(t *testing.T) {
	f := newFixture(t)
	f.seedUserPref("theme", "dark")
	f.enableToggle("display")
	f.seedOverride("theme", nil, true, nil)

	res, err := f.resolver.Resolve(context.Background(), ResolveInput{
		UserID: f.userID, ProjectID: f.projectID, Key: "theme",
	})
	require.NoError(t, err)
	require.Equal(t, "dark", res.Value)
	require.Equal(t, types.TierUser, res.Source)
}

func TestResolve_ToggleAndCategoryGate(t *testing.T) {
	f := newFixture(t)
	f.seedOverride("theme", "corporate", false, nil)

	// No toggle at all: override rows are inert.
	res, err := f.resolver.Resolve(context.Background(), ResolveInput{
		UserID: f.userID, ProjectID: f.projectID, Key: "theme",
	})
	require.NoError(t, err)
	require.Equal(t, types.TierSystem, res.Source)

	// Toggle on for a different category: still inert.
	f.enableToggle("notifications")
	f.resolver.Invalidate(cache.Pattern{ProjectID: f.projectID})
	res, err = f.resolver.Resolve(context.Background(), ResolveInput{
		UserID: f.userID, ProjectID: f.projectID, Key: "theme",
	})
	require.NoError(t, err)
	require.Equal(t, types.TierSystem, res.Source)

	f.enableToggle("display")
	f.resolver.Invalidate(cache.Pattern{ProjectID: f.projectID})
	res, err = f.resolver.Resolve(context.Background(), ResolveInput{
		UserID: f.userID, ProjectID: f.projectID, Key: "theme",
	})
	require.NoError(t, err)
	require.Equal(t, types.TierProject, res.Source)
}

func TestResolve_ExpiredOverrideIgnoredLazily(t *testing.T) {
	f := newFixture(t)
	f.enableToggle("display")
	until := f.clock.Now().Add(time.Hour)
	f.seedOverride("theme", "corporate", false, &until)

	res, err := f.resolver.Resolve(context.Background(), ResolveInput{
		UserID: f.userID, ProjectID: f.projectID, Key: "theme",
	})
	require.NoError(t, err)
	require.Equal(t, types.TierProject, res.Source)

	// No sweeper ran; expiry is computed at read time.
	f.clock.advance(2 * time.Hour)
	f.resolver.Invalidate(cache.Pattern{ProjectID: f.projectID})
	res, err = f.resolver.Resolve(context.Background(), ResolveInput{
		UserID: f.userID, ProjectID: f.projectID, Key: "theme",
	})
	require.NoError(t, err)
	require.Equal(t, types.TierSystem, res.Source)
}

func TestResolve_UnknownKey(t *testing.T) {
	f := newFixture(t)

	_, err := f.resolver.Resolve(context.Background(), ResolveInput{UserID: f.userID, Key: "missing.key"})
	require.Error(t, err)
	require.True(t, types.IsUnknownKey(err))
}

func TestResolve_CacheShortCircuitsStores(t *testing.T) {
	f := newFixture(t)
	f.seedUserPref("theme", "dark")
	ctx := context.Background()

	res, err := f.resolver.Resolve(ctx, ResolveInput{UserID: f.userID, Key: "theme"})
	require.NoError(t, err)
	require.Equal(t, "dark", res.Value)

	// A store-side change is invisible until the entry is evicted.
	f.users.prefs[f.userID]["theme"] = types.UserPreference{
		UserID: f.userID, Key: "theme", Value: "light", Active: true,
	}
	res, err = f.resolver.Resolve(ctx, ResolveInput{UserID: f.userID, Key: "theme"})
	require.NoError(t, err)
	require.Equal(t, "dark", res.Value)

	f.resolver.Invalidate(cache.Pattern{Key: "theme", UserID: f.userID})
	res, err = f.resolver.Resolve(ctx, ResolveInput{UserID: f.userID, Key: "theme"})
	require.NoError(t, err)
	require.Equal(t, "light", res.Value)
}

func TestResolve_CacheClearNeverChangesResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := ResolveInput{UserID: f.userID, ProjectID: f.projectID, Key: "theme"}

	// Interleave tier writes with reads, evicting after each write the way
	// the mutation paths do.
	res, err := f.resolver.Resolve(ctx, in)
	require.NoError(t, err)
	require.Equal(t, types.TierSystem, res.Source)

	f.seedUserPref("theme", "dark")
	f.resolver.Invalidate(cache.Pattern{Key: "theme", UserID: f.userID})
	res, err = f.resolver.Resolve(ctx, in)
	require.NoError(t, err)
	require.Equal(t, "dark", res.Value)

	f.enableToggle("display")
	f.seedOverride("theme", "corporate", false, nil)
	f.resolver.Invalidate(cache.Pattern{Key: "theme", ProjectID: f.projectID})
	cached, err := f.resolver.Resolve(ctx, in)
	require.NoError(t, err)
	require.Equal(t, "corporate", cached.Value)
	require.Equal(t, types.TierProject, cached.Source)

	// Dropping the whole cache forces a store round trip; the answer must
	// not move.
	f.cache.Invalidate(cache.Pattern{})
	cold, err := f.resolver.Resolve(ctx, in)
	require.NoError(t, err)
	require.Equal(t, cached.Value, cold.Value)
	require.Equal(t, cached.Source, cold.Source)
	require.Equal(t, cached.Key, cold.Key)
}

func TestResolve_StoreUnavailableAfterRetries(t *testing.T) {
	flaky := &flakyDefaults{err: errors.New("connection refused")}
	resolver, err := New(Config{
		Defaults:     flaky,
		Users:        &fakeUsers{prefs: map[uuid.UUID]map[string]types.UserPreference{}},
		StoreRetries: 2,
	})
	require.NoError(t, err)

	_, err = resolver.Resolve(context.Background(), ResolveInput{UserID: uuid.New(), Key: "theme"})
	require.Error(t, err)
	require.True(t, types.IsStoreUnavailable(err))
	require.Equal(t, 3, flaky.calls)
}

func TestResolve_StoreRecoversWithinRetryBudget(t *testing.T) {
	flaky := &flakyDefaults{err: errors.New("connection refused"), failures: 1}
	flaky.defs = map[string]types.SystemDefault{
		"theme": {Key: "theme", DefaultValue: "light", DataType: types.DataTypeString},
	}
	resolver, err := New(Config{
		Defaults:     flaky,
		Users:        &fakeUsers{prefs: map[uuid.UUID]map[string]types.UserPreference{}},
		StoreRetries: 2,
	})
	require.NoError(t, err)

	res, err := resolver.Resolve(context.Background(), ResolveInput{UserID: uuid.New(), Key: "theme"})
	require.NoError(t, err)
	require.Equal(t, "light", res.Value)
}

func TestResolveMany_MergesTiersWithAttribution(t *testing.T) {
	f := newFixture(t)
	f.seedUserPref("items.per_page", 50)
	f.enableToggle("display")
	f.seedOverride("theme", "corporate", false, nil)

	out, err := f.resolver.ResolveMany(context.Background(), ResolveManyInput{
		UserID:    f.userID,
		ProjectID: f.projectID,
	})
	require.NoError(t, err)
	require.Len(t, out, 3)

	byKey := map[string]types.Resolution{}
	for _, res := range out {
		byKey[res.Key] = res
	}
	require.Equal(t, "corporate", byKey["theme"].Value)
	require.Equal(t, types.TierProject, byKey["theme"].Source)
	require.Equal(t, 50, byKey["items.per_page"].Value)
	require.Equal(t, types.TierUser, byKey["items.per_page"].Source)
	require.Equal(t, true, byKey["notifications.email"].Value)
	require.Equal(t, types.TierSystem, byKey["notifications.email"].Source)
}

func TestResolveMany_EnumerationSkipsDeprecated(t *testing.T) {
	f := newFixture(t)
	f.defaults.defs["editor.tabs"] = types.SystemDefault{
		Key: "editor.tabs", DefaultValue: true, DataType: types.DataTypeBool,
		Deprecated: true,
	}

	out, err := f.resolver.ResolveMany(context.Background(), ResolveManyInput{UserID: f.userID})
	require.NoError(t, err)
	for _, res := range out {
		require.NotEqual(t, "editor.tabs", res.Key)
	}

	// Direct requests still resolve deprecated keys.
	direct, err := f.resolver.ResolveMany(context.Background(), ResolveManyInput{
		UserID: f.userID,
		Keys:   []string{"editor.tabs"},
	})
	require.NoError(t, err)
	require.Len(t, direct, 1)
	require.Equal(t, true, direct[0].Value)
}

func TestResolve_DeprecatedKeyFollowsReplacement(t *testing.T) {
	f := newFixture(t)
	f.defaults.defs["editor.tabs"] = types.SystemDefault{
		Key: "editor.tabs", DefaultValue: true, DataType: types.DataTypeBool,
		Deprecated: true, ReplacementKey: "editor.indentation",
	}
	f.seedDefault("editor.indentation", "tabs", types.DataTypeString, "editor")
	f.seedUserPref("editor.indentation", "spaces")

	res, err := f.resolver.Resolve(context.Background(), ResolveInput{
		UserID: f.userID,
		Key:    "editor.tabs",
	})
	require.NoError(t, err)
	require.Equal(t, "editor.indentation", res.Key)
	require.Equal(t, "spaces", res.Value)
	require.Equal(t, types.TierUser, res.Source)

	// Without a replacement the deprecated key resolves on its own.
	f.defaults.defs["legacy.flag"] = types.SystemDefault{
		Key: "legacy.flag", DefaultValue: false, DataType: types.DataTypeBool,
		Deprecated: true,
	}
	res, err = f.resolver.Resolve(context.Background(), ResolveInput{
		UserID: f.userID,
		Key:    "legacy.flag",
	})
	require.NoError(t, err)
	require.Equal(t, "legacy.flag", res.Key)
	require.Equal(t, false, res.Value)
}

func TestResolveMany_ExplicitUnknownKeyFails(t *testing.T) {
	f := newFixture(t)

	_, err := f.resolver.ResolveMany(context.Background(), ResolveManyInput{
		UserID: f.userID,
		Keys:   []string{"theme", "missing.key"},
	})
	require.Error(t, err)
	require.True(t, types.IsUnknownKey(err))
}

type fakeDefaults struct {
	defs map[string]types.SystemDefault
}

func (f *fakeDefaults) GetDefault(_ context.Context, key string) (*types.SystemDefault, error) {
	for k, def := range f.defs {
		if strings.EqualFold(k, strings.TrimSpace(key)) {
			return &def, nil
		}
	}
	return nil, types.NewUnknownKeyError(key)
}

func (f *fakeDefaults) ListDefaults(_ context.Context, keys []string) ([]types.SystemDefault, error) {
	var out []types.SystemDefault
	if len(keys) == 0 {
		for _, def := range f.defs {
			out = append(out, def)
		}
		return out, nil
	}
	for _, key := range keys {
		if def, ok := f.defs[strings.ToLower(strings.TrimSpace(key))]; ok {
			out = append(out, def)
		}
	}
	return out, nil
}

func (f *fakeDefaults) UpsertDefault(_ context.Context, def types.SystemDefault) (*types.SystemDefault, error) {
	f.defs[def.Key] = def
	return &def, nil
}

type flakyDefaults struct {
	fakeDefaults
	err      error
	failures int
	calls    int
}

func (f *flakyDefaults) GetDefault(ctx context.Context, key string) (*types.SystemDefault, error) {
	f.calls++
	if f.failures == 0 || f.calls <= f.failures {
		return nil, f.err
	}
	return f.fakeDefaults.GetDefault(ctx, key)
}

type fakeUsers struct {
	prefs map[uuid.UUID]map[string]types.UserPreference
}

func (f *fakeUsers) GetPreference(_ context.Context, userID uuid.UUID, key string) (*types.UserPreference, error) {
	pref, ok := f.prefs[userID][key]
	if !ok {
		return nil, nil
	}
	return &pref, nil
}

func (f *fakeUsers) ListPreferences(_ context.Context, userID uuid.UUID, keys []string) ([]types.UserPreference, error) {
	var out []types.UserPreference
	for key, pref := range f.prefs[userID] {
		if len(keys) > 0 && !containsFold(keys, key) {
			continue
		}
		out = append(out, pref)
	}
	return out, nil
}

func (f *fakeUsers) UpsertPreference(_ context.Context, pref types.UserPreference) (*types.UserPreference, error) {
	if f.prefs[pref.UserID] == nil {
		f.prefs[pref.UserID] = map[string]types.UserPreference{}
	}
	f.prefs[pref.UserID][pref.Key] = pref
	return &pref, nil
}

func (f *fakeUsers) DeactivatePreference(_ context.Context, userID uuid.UUID, key string, _ uuid.UUID) (*types.UserPreference, error) {
	pref := f.prefs[userID][key]
	pref.Active = false
	f.prefs[userID][key] = pref
	return &pref, nil
}

type fakeOverrides struct {
	rows []types.ProjectPreference
}

func (f *fakeOverrides) GetOverride(_ context.Context, id uuid.UUID) (*types.ProjectPreference, error) {
	for i := range f.rows {
		if f.rows[i].ID == id {
			return &f.rows[i], nil
		}
	}
	return nil, nil
}

func (f *fakeOverrides) ListOverrides(_ context.Context, projectID uuid.UUID, keys []string) ([]types.ProjectPreference, error) {
	var out []types.ProjectPreference
	for _, row := range f.rows {
		if row.ProjectID != projectID {
			continue
		}
		if len(keys) > 0 && !containsFold(keys, row.Key) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (f *fakeOverrides) CreateOverride(_ context.Context, pref types.ProjectPreference) (*types.ProjectPreference, error) {
	pref.ID = uuid.New()
	f.rows = append(f.rows, pref)
	return &pref, nil
}

func (f *fakeOverrides) UpdateOverride(_ context.Context, pref types.ProjectPreference) (*types.ProjectPreference, error) {
	for i := range f.rows {
		if f.rows[i].ID == pref.ID {
			f.rows[i] = pref
			return &pref, nil
		}
	}
	return nil, types.NewUnknownKeyError(pref.ID.String())
}

type fakeToggles struct {
	toggles map[uuid.UUID]types.OverrideToggle
}

func (f *fakeToggles) GetToggle(_ context.Context, projectID uuid.UUID) (*types.OverrideToggle, error) {
	toggle, ok := f.toggles[projectID]
	if !ok {
		return nil, nil
	}
	return &toggle, nil
}

func (f *fakeToggles) UpsertToggle(_ context.Context, toggle types.OverrideToggle) (*types.OverrideToggle, error) {
	f.toggles[toggle.ProjectID] = toggle
	return &toggle, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(strings.TrimSpace(s), needle) {
			return true
		}
	}
	return false
}
