package overrides

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-preferences/defaults"
	"github.com/goliatone/go-preferences/pkg/types"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type managerFixture struct {
	manager  *Manager
	toggles  *ToggleRepository
	recorder *fakeRecorder
	clock    *fakeClock
	project  uuid.UUID
	actor    uuid.UUID
}

func newManagerFixture(t *testing.T) *managerFixture {
	ctx := context.Background()
	db := newTestDB(t)
	applyDDL(t, db)

	defaultsRepo, err := defaults.NewRepository(defaults.RepositoryConfig{DB: db})
	require.NoError(t, err)
	overridesRepo, err := NewRepository(RepositoryConfig{DB: db})
	require.NoError(t, err)
	togglesRepo, err := NewToggleRepository(ToggleRepositoryConfig{DB: db})
	require.NoError(t, err)

	_, err = defaultsRepo.UpsertDefault(ctx, types.SystemDefault{
		Key:          "theme",
		DefaultValue: "light",
		DataType:     types.DataTypeString,
		Category:     "display",
		Constraints:  types.Constraints{Enum: []string{"light", "dark"}},
	})
	require.NoError(t, err)
	_, err = defaultsRepo.UpsertDefault(ctx, types.SystemDefault{
		Key:          "notifications.email",
		DefaultValue: true,
		DataType:     types.DataTypeBool,
		Category:     "notifications",
	})
	require.NoError(t, err)

	recorder := &fakeRecorder{}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	manager, err := NewManager(ManagerConfig{
		Overrides: overridesRepo,
		Toggles:   togglesRepo,
		Defaults:  defaultsRepo,
		History:   recorder,
		Clock:     clock,
	})
	require.NoError(t, err)

	return &managerFixture{
		manager:  manager,
		toggles:  togglesRepo,
		recorder: recorder,
		clock:    clock,
		project:  uuid.New(),
		actor:    uuid.New(),
	}
}

func (f *managerFixture) enable(t *testing.T, categories ...string) {
	_, err := f.manager.EnableOverrides(context.Background(), f.project, categories, f.actor)
	require.NoError(t, err)
}

func (f *managerFixture) propose(t *testing.T, in ProposeInput) *types.ProjectPreference {
	if in.ProjectID == uuid.Nil {
		in.ProjectID = f.project
	}
	if in.RequestedBy == uuid.Nil {
		in.RequestedBy = f.actor
	}
	created, err := f.manager.Propose(context.Background(), in)
	require.NoError(t, err)
	return created
}

func TestManager_ProposeRequiresEnabledCategory(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	_, err := f.manager.Propose(ctx, ProposeInput{
		ProjectID:   f.project,
		Key:         "theme",
		Value:       "dark",
		RequestedBy: f.actor,
	})
	require.Error(t, err)
	require.True(t, types.IsCategoryNotOverridable(err))

	f.enable(t, "display")
	_, err = f.manager.Propose(ctx, ProposeInput{
		ProjectID:   f.project,
		Key:         "notifications.email",
		Value:       false,
		RequestedBy: f.actor,
	})
	require.Error(t, err)
	require.True(t, types.IsCategoryNotOverridable(err))

	created := f.propose(t, ProposeInput{Key: "theme", Value: "dark", Reason: "brand"})
	require.Equal(t, types.ApprovalProposed, created.ApprovalState)
	require.Equal(t, 1, created.Version)
}

func TestManager_ProposeValidatesValue(t *testing.T) {
	f := newManagerFixture(t)
	f.enable(t, "display")

	_, err := f.manager.Propose(context.Background(), ProposeInput{
		ProjectID:   f.project,
		Key:         "theme",
		Value:       "sepia",
		RequestedBy: f.actor,
	})
	require.Error(t, err)
	require.True(t, types.IsValidation(err))

	_, err = f.manager.Propose(context.Background(), ProposeInput{
		ProjectID:   f.project,
		Key:         "nonexistent.key",
		Value:       "x",
		RequestedBy: f.actor,
	})
	require.Error(t, err)
	require.True(t, types.IsUnknownKey(err))
}

func TestManager_ApproveGoesLive(t *testing.T) {
	f := newManagerFixture(t)
	f.enable(t, "display")
	created := f.propose(t, ProposeInput{Key: "theme", Value: "dark"})

	approved, err := f.manager.Approve(context.Background(), DecisionInput{
		OverrideID: created.ID,
		Actor:      f.actor,
		Reason:     "looks good",
	})
	require.NoError(t, err)
	require.Equal(t, types.ApprovalApproved, approved.ApprovalState)
	require.NotNil(t, approved.EffectiveFrom)
	require.True(t, approved.Live(f.clock.Now()))
	require.Equal(t, f.actor, approved.DecidedBy)
}

func TestManager_RejectIsTerminal(t *testing.T) {
	f := newManagerFixture(t)
	f.enable(t, "display")
	created := f.propose(t, ProposeInput{Key: "theme", Value: "dark"})

	rejected, err := f.manager.Reject(context.Background(), DecisionInput{
		OverrideID: created.ID,
		Actor:      f.actor,
	})
	require.NoError(t, err)
	require.Equal(t, types.ApprovalRejected, rejected.ApprovalState)

	_, err = f.manager.Approve(context.Background(), DecisionInput{
		OverrideID: created.ID,
		Actor:      f.actor,
	})
	require.Error(t, err)
	require.True(t, types.IsInvalidTransition(err))
}

func TestManager_RevokeLiveOverride(t *testing.T) {
	f := newManagerFixture(t)
	f.enable(t, "display")
	created := f.propose(t, ProposeInput{Key: "theme", Value: "dark"})

	_, err := f.manager.Approve(context.Background(), DecisionInput{OverrideID: created.ID, Actor: f.actor})
	require.NoError(t, err)

	revoked, err := f.manager.Revoke(context.Background(), DecisionInput{
		OverrideID: created.ID,
		Actor:      f.actor,
		Reason:     "incident",
	})
	require.NoError(t, err)
	require.Equal(t, types.ApprovalRevoked, revoked.ApprovalState)
	require.False(t, revoked.Live(f.clock.Now()))

	last := f.recorder.last()
	require.Equal(t, types.ChangeDelete, last.ChangeType)
}

func TestManager_EffectiveWindow(t *testing.T) {
	f := newManagerFixture(t)
	f.enable(t, "display")

	from := f.clock.Now().Add(time.Hour)
	until := f.clock.Now().Add(2 * time.Hour)
	created := f.propose(t, ProposeInput{
		Key:            "theme",
		Value:          "dark",
		EffectiveFrom:  &from,
		EffectiveUntil: &until,
	})
	approved, err := f.manager.Approve(context.Background(), DecisionInput{OverrideID: created.ID, Actor: f.actor})
	require.NoError(t, err)

	require.Equal(t, types.ApprovalApproved, approved.EffectiveState(f.clock.Now()))
	require.False(t, approved.Live(f.clock.Now()))

	f.clock.advance(90 * time.Minute)
	require.True(t, approved.Live(f.clock.Now()))

	f.clock.advance(time.Hour)
	require.Equal(t, types.ApprovalExpired, approved.EffectiveState(f.clock.Now()))
}

func TestManager_ApproveSetsEffectiveWindow(t *testing.T) {
	f := newManagerFixture(t)
	f.enable(t, "display")
	created := f.propose(t, ProposeInput{Key: "theme", Value: "dark"})

	from := f.clock.Now().Add(time.Hour)
	until := f.clock.Now().Add(2 * time.Hour)
	approved, err := f.manager.Approve(context.Background(), DecisionInput{
		OverrideID:     created.ID,
		Actor:          f.actor,
		EffectiveFrom:  &from,
		EffectiveUntil: &until,
	})
	require.NoError(t, err)
	require.Equal(t, from, approved.EffectiveFrom.UTC())
	require.Equal(t, until, approved.EffectiveUntil.UTC())
	require.False(t, approved.Live(f.clock.Now()))

	f.clock.advance(90 * time.Minute)
	require.True(t, approved.Live(f.clock.Now()))
}

func TestManager_ApproveRejectsInvertedWindow(t *testing.T) {
	f := newManagerFixture(t)
	f.enable(t, "display")
	created := f.propose(t, ProposeInput{Key: "theme", Value: "dark"})

	from := f.clock.Now().Add(2 * time.Hour)
	until := f.clock.Now().Add(time.Hour)
	_, err := f.manager.Approve(context.Background(), DecisionInput{
		OverrideID:     created.ID,
		Actor:          f.actor,
		EffectiveFrom:  &from,
		EffectiveUntil: &until,
	})
	require.Error(t, err)
	require.True(t, types.IsValidation(err))

	// The failed decision left the row untouched; a clean approval still works.
	approved, err := f.manager.Approve(context.Background(), DecisionInput{
		OverrideID: created.ID,
		Actor:      f.actor,
	})
	require.NoError(t, err)
	require.Equal(t, types.ApprovalApproved, approved.ApprovalState)
}

func TestManager_ProposeRejectsInvertedWindow(t *testing.T) {
	f := newManagerFixture(t)
	f.enable(t, "display")

	from := f.clock.Now().Add(2 * time.Hour)
	until := f.clock.Now().Add(time.Hour)
	_, err := f.manager.Propose(context.Background(), ProposeInput{
		ProjectID:      f.project,
		Key:            "theme",
		Value:          "dark",
		EffectiveFrom:  &from,
		EffectiveUntil: &until,
		RequestedBy:    f.actor,
	})
	require.Error(t, err)
	require.True(t, types.IsValidation(err))
}

func TestManager_SweepExpired(t *testing.T) {
	f := newManagerFixture(t)
	f.enable(t, "display")

	until := f.clock.Now().Add(time.Hour)
	created := f.propose(t, ProposeInput{Key: "theme", Value: "dark", EffectiveUntil: &until})
	_, err := f.manager.Approve(context.Background(), DecisionInput{OverrideID: created.ID, Actor: f.actor})
	require.NoError(t, err)

	swept, err := f.manager.SweepExpired(context.Background(), f.project)
	require.NoError(t, err)
	require.Zero(t, swept)

	f.clock.advance(2 * time.Hour)
	swept, err = f.manager.SweepExpired(context.Background(), f.project)
	require.NoError(t, err)
	require.Equal(t, 1, swept)

	rows, err := f.manager.ListProjectOverrides(context.Background(), f.project, []string{"theme"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, types.ApprovalExpired, rows[0].ApprovalState)

	// Idempotent: a second sweep finds nothing left to persist.
	swept, err = f.manager.SweepExpired(context.Background(), f.project)
	require.NoError(t, err)
	require.Zero(t, swept)
}

func TestManager_DisableKeepsRowsInert(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	f.enable(t, "display")

	created := f.propose(t, ProposeInput{Key: "theme", Value: "dark"})
	_, err := f.manager.Approve(ctx, DecisionInput{OverrideID: created.ID, Actor: f.actor})
	require.NoError(t, err)

	toggle, err := f.manager.DisableOverrides(ctx, f.project, f.actor)
	require.NoError(t, err)
	require.False(t, toggle.Enabled)
	require.Equal(t, []string{"display"}, toggle.Categories)

	rows, err := f.manager.ListProjectOverrides(ctx, f.project, []string{"theme"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].Live(f.clock.Now()))
	require.False(t, toggle.CategoryEnabled("display"))
}

func TestToggleRepository_VersionConflict(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	applyDDL(t, db)

	repo, err := NewToggleRepository(ToggleRepositoryConfig{DB: db})
	require.NoError(t, err)

	projectID := uuid.New()
	first, err := repo.UpsertToggle(ctx, types.OverrideToggle{
		ProjectID:  projectID,
		Enabled:    true,
		Categories: []string{"display"},
		UpdatedBy:  uuid.New(),
	})
	require.NoError(t, err)
	require.Equal(t, 1, first.Version)

	second, err := repo.UpsertToggle(ctx, types.OverrideToggle{
		ProjectID: projectID,
		Enabled:   false,
		Version:   first.Version,
		UpdatedBy: uuid.New(),
	})
	require.NoError(t, err)
	require.Equal(t, 2, second.Version)

	_, err = repo.UpsertToggle(ctx, types.OverrideToggle{
		ProjectID: projectID,
		Enabled:   true,
		Version:   first.Version,
		UpdatedBy: uuid.New(),
	})
	require.Error(t, err)
	require.True(t, types.IsConflict(err))
}

func TestOverrideRepository_StaleVersionConflict(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	applyDDL(t, db)

	repo, err := NewRepository(RepositoryConfig{DB: db})
	require.NoError(t, err)

	created, err := repo.CreateOverride(ctx, types.ProjectPreference{
		ProjectID:     uuid.New(),
		Key:           "theme",
		Value:         "dark",
		ApprovalState: types.ApprovalProposed,
		RequestedBy:   uuid.New(),
	})
	require.NoError(t, err)

	updated := *created
	updated.ApprovalState = types.ApprovalApproved
	_, err = repo.UpdateOverride(ctx, updated)
	require.NoError(t, err)

	stale := *created
	stale.ApprovalState = types.ApprovalRejected
	_, err = repo.UpdateOverride(ctx, stale)
	require.Error(t, err)
	require.True(t, types.IsConflict(err))
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

type fakeRecorder struct {
	mu      sync.Mutex
	records []types.ChangeRecord
}

func (r *fakeRecorder) Record(_ context.Context, change types.ChangeRecord) (*types.ChangeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if change.ID == uuid.Nil {
		change.ID = uuid.New()
	}
	r.records = append(r.records, change)
	return &change, nil
}

func (r *fakeRecorder) last() types.ChangeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		return types.ChangeRecord{}
	}
	return r.records[len(r.records)-1]
}

func newTestDB(t *testing.T) *bun.DB {
	sqldb, err := sql.Open("sqlite3", ":memory:?cache=shared")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() {
		_ = db.Close()
		_ = sqldb.Close()
	})
	return db
}

func applyDDL(t *testing.T, db *bun.DB) {
	content, err := os.ReadFile("../data/sql/migrations/000001_preference_engine.up.sql")
	require.NoError(t, err)
	for _, stmt := range splitStatements(string(content)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
}

func splitStatements(script string) []string {
	lines := strings.Split(script, "\n")
	var builder strings.Builder
	var statements []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		builder.WriteString(line)
		if strings.HasSuffix(line, ";") {
			statements = append(statements, builder.String())
			builder.Reset()
			continue
		}
		builder.WriteString(" ")
	}
	if builder.Len() > 0 {
		statements = append(statements, builder.String())
	}
	return statements
}
