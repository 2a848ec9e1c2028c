package userprefs

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"

	"github.com/goliatone/go-preferences/pkg/types"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

func TestUserPreferenceRepository_UpsertVersions(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	userID := uuid.New()
	created, err := repo.UpsertPreference(ctx, types.UserPreference{
		UserID: userID,
		Key:    "theme",
		Value:  "dark",
		Active: true,
	})
	require.NoError(t, err)
	require.Equal(t, 1, created.Version)
	require.Equal(t, types.OriginManual, created.Origin)

	updated, err := repo.UpsertPreference(ctx, types.UserPreference{
		UserID: userID,
		Key:    "theme",
		Value:  "light",
		Active: true,
	})
	require.NoError(t, err)
	require.Equal(t, 2, updated.Version)
	require.Equal(t, created.ID, updated.ID)
	require.Equal(t, "light", updated.Value)
}

func TestUserPreferenceRepository_StaleVersionConflict(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	userID := uuid.New()
	_, err := repo.UpsertPreference(ctx, types.UserPreference{
		UserID: userID,
		Key:    "theme",
		Value:  "dark",
		Active: true,
	})
	require.NoError(t, err)

	_, err = repo.UpsertPreference(ctx, types.UserPreference{
		UserID: userID,
		Key:    "theme",
		Value:  "light",
		Active: true,
	})
	require.NoError(t, err)

	_, err = repo.UpsertPreference(ctx, types.UserPreference{
		UserID:  userID,
		Key:     "theme",
		Value:   "sepia",
		Active:  true,
		Version: 1,
	})
	require.Error(t, err)
	require.True(t, types.IsConflict(err))
}

func TestUserPreferenceRepository_Deactivate(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	userID := uuid.New()
	actor := uuid.New()
	created, err := repo.UpsertPreference(ctx, types.UserPreference{
		UserID: userID,
		Key:    "beta.enabled",
		Value:  true,
		Active: true,
	})
	require.NoError(t, err)

	deactivated, err := repo.DeactivatePreference(ctx, userID, "beta.enabled", actor)
	require.NoError(t, err)
	require.False(t, deactivated.Active)
	require.Equal(t, created.Version+1, deactivated.Version)
	require.Equal(t, actor, deactivated.UpdatedBy)

	got, err := repo.GetPreference(ctx, userID, "beta.enabled")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.False(t, got.Active)
}

func TestUserPreferenceRepository_GetAbsentReturnsNil(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	got, err := repo.GetPreference(ctx, uuid.New(), "missing.key")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestUserPreferenceRepository_ListIncludesInactive(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	userID := uuid.New()
	_, err := repo.UpsertPreference(ctx, types.UserPreference{
		UserID: userID,
		Key:    "theme",
		Value:  "dark",
		Active: true,
	})
	require.NoError(t, err)
	_, err = repo.UpsertPreference(ctx, types.UserPreference{
		UserID: userID,
		Key:    "beta.enabled",
		Value:  true,
		Active: true,
	})
	require.NoError(t, err)
	_, err = repo.DeactivatePreference(ctx, userID, "beta.enabled", userID)
	require.NoError(t, err)

	all, err := repo.ListPreferences(ctx, userID, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "beta.enabled", all[0].Key)
	require.False(t, all[0].Active)
	require.Equal(t, "theme", all[1].Key)

	filtered, err := repo.ListPreferences(ctx, userID, []string{"Theme"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, "theme", filtered[0].Key)
}

func TestUserPreferenceRepository_CacheDecorator(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	applyDDL(t, db)

	repo, err := NewRepository(RepositoryConfig{DB: db}, WithCache(true))
	require.NoError(t, err)

	userID := uuid.New()
	_, err = repo.UpsertPreference(ctx, types.UserPreference{
		UserID: userID,
		Key:    "theme",
		Value:  "dark",
		Active: true,
	})
	require.NoError(t, err)

	got, err := repo.GetPreference(ctx, userID, "theme")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "dark", got.Value)
}

func TestUserPreferencesSchema_KeyUniquenessFoldsCase(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	applyDDL(t, db)

	userID := uuid.New().String()
	_, err := db.ExecContext(ctx,
		"INSERT INTO user_preferences (id, user_id, key) VALUES (?, ?, ?)",
		uuid.New().String(), userID, "theme")
	require.NoError(t, err)

	// A recased duplicate must trip the unique index, not slip past it.
	_, err = db.ExecContext(ctx,
		"INSERT INTO user_preferences (id, user_id, key) VALUES (?, ?, ?)",
		uuid.New().String(), userID, "Theme")
	require.Error(t, err)
	require.Contains(t, err.Error(), "UNIQUE")

	// A different user may hold the same key.
	_, err = db.ExecContext(ctx,
		"INSERT INTO user_preferences (id, user_id, key) VALUES (?, ?, ?)",
		uuid.New().String(), uuid.New().String(), "Theme")
	require.NoError(t, err)
}

func newTestRepository(t *testing.T) *Repository {
	db := newTestDB(t)
	applyDDL(t, db)
	repo, err := NewRepository(RepositoryConfig{DB: db})
	require.NoError(t, err)
	return repo
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
