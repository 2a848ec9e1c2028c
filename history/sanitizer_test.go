package history

import (
	"context"
	"testing"

	"github.com/goliatone/go-preferences/defaults"
	"github.com/goliatone/go-preferences/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newSanitizerFixture(t *testing.T) *Sanitizer {
	ctx := context.Background()
	db := newTestDB(t)
	applyDDL(t, db)

	defaultsRepo, err := defaults.NewRepository(defaults.RepositoryConfig{DB: db})
	require.NoError(t, err)

	_, err = defaultsRepo.UpsertDefault(ctx, types.SystemDefault{
		Key:          "integrations.api_key",
		DefaultValue: "",
		DataType:     types.DataTypeEncrypted,
		Category:     "integrations",
	})
	require.NoError(t, err)
	_, err = defaultsRepo.UpsertDefault(ctx, types.SystemDefault{
		Key:          "billing.account",
		DefaultValue: "",
		DataType:     types.DataTypeString,
		Sensitive:    true,
	})
	require.NoError(t, err)
	_, err = defaultsRepo.UpsertDefault(ctx, types.SystemDefault{
		Key:          "theme",
		DefaultValue: "light",
		DataType:     types.DataTypeString,
	})
	require.NoError(t, err)

	return NewSanitizer(SanitizerConfig{Defaults: defaultsRepo})
}

func TestSanitizer_MasksSensitiveKeys(t *testing.T) {
	sanitizer := newSanitizerFixture(t)
	ctx := context.Background()

	record := sanitizer.SanitizeRecord(ctx, types.ChangeRecord{
		Actor:      uuid.New(),
		Scope:      types.TierUser,
		Key:        "integrations.api_key",
		OldValue:   "sk-old-secret",
		NewValue:   "sk-new-secret",
		ChangeType: types.ChangeUpdate,
	})
	require.Equal(t, "****", record.OldValue)
	require.Equal(t, "****", record.NewValue)

	flagged := sanitizer.SanitizeRecord(ctx, types.ChangeRecord{
		Actor:      uuid.New(),
		Scope:      types.TierUser,
		Key:        "billing.account",
		NewValue:   "acct-42",
		ChangeType: types.ChangeCreate,
	})
	require.Equal(t, "****", flagged.NewValue)
	require.Nil(t, flagged.OldValue)
}

func TestSanitizer_PassesThroughRegularValues(t *testing.T) {
	sanitizer := newSanitizerFixture(t)
	ctx := context.Background()

	record := sanitizer.SanitizeRecord(ctx, types.ChangeRecord{
		Actor:      uuid.New(),
		Scope:      types.TierUser,
		Key:        "theme",
		OldValue:   "light",
		NewValue:   "dark",
		ChangeType: types.ChangeUpdate,
	})
	require.Equal(t, "light", record.OldValue)
	require.Equal(t, "dark", record.NewValue)

	// Unknown keys pass through; masking only applies to cataloged secrets.
	unknown := sanitizer.SanitizeRecord(ctx, types.ChangeRecord{
		Actor:      uuid.New(),
		Scope:      types.TierUser,
		Key:        "uncataloged.key",
		NewValue:   "plain",
		ChangeType: types.ChangeCreate,
	})
	require.Equal(t, "plain", unknown.NewValue)
}

func TestSanitizer_MasksStructuredPayloadFields(t *testing.T) {
	sanitizer := newSanitizerFixture(t)
	ctx := context.Background()

	record := sanitizer.SanitizeRecord(ctx, types.ChangeRecord{
		Actor: uuid.New(),
		Scope: types.TierUser,
		Key:   "theme",
		NewValue: map[string]any{
			"token": "raw-token-value",
			"mode":  "dark",
		},
		ChangeType: types.ChangeUpdate,
	})

	payload, ok := record.NewValue.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "dark", payload["mode"])
	require.NotEqual(t, "raw-token-value", payload["token"])
}

func TestSanitizer_SanitizePage(t *testing.T) {
	sanitizer := newSanitizerFixture(t)
	ctx := context.Background()

	page := sanitizer.SanitizePage(ctx, types.HistoryPage{
		Records: []types.ChangeRecord{
			{Key: "integrations.api_key", NewValue: "sk-secret"},
			{Key: "theme", NewValue: "dark"},
		},
	})
	require.Equal(t, "****", page.Records[0].NewValue)
	require.Equal(t, "dark", page.Records[1].NewValue)
}
