package userprefs

import (
	"context"
	"errors"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-repository-cache/repositorycache"
	"github.com/goliatone/go-preferences/pkg/types"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RepositoryConfig wires dependencies for the Bun-backed user preference store.
type RepositoryConfig struct {
	DB         *bun.DB
	Repository repository.Repository[*Record]
	Clock      types.Clock
	IDGen      types.IDGenerator
}

type preferenceStore interface {
	repository.Repository[*Record]
}

// Repository implements types.UserPreferenceRepository.
type Repository struct {
	preferenceStore
	clock types.Clock
	idGen types.IDGenerator
}

// NewRepository constructs the user preference repository. The cache option
// wraps the underlying store with the go-repository-cache decorator.
func NewRepository(cfg RepositoryConfig, opts ...RepositoryOption) (*Repository, error) {
	if cfg.Repository == nil && cfg.DB == nil {
		return nil, errors.New("userprefs: db or repository required")
	}
	repo := cfg.Repository
	if repo == nil {
		repo = repository.NewRepository(cfg.DB, repository.ModelHandlers[*Record]{
			NewRecord: func() *Record { return &Record{} },
			GetID: func(rec *Record) uuid.UUID {
				if rec == nil {
					return uuid.Nil
				}
				return rec.ID
			},
			SetID: func(rec *Record, id uuid.UUID) {
				if rec != nil {
					rec.ID = id
				}
			},
		})
	}
	options := applyRepositoryOptions(opts)
	if options.CacheEnabled {
		if _, wrapped := repo.(*repositorycache.CachedRepository[*Record]); !wrapped {
			cacheCfg := cache.DefaultConfig()
			if options.CacheConfig != nil {
				cacheCfg = *options.CacheConfig
			}
			service, err := cache.NewCacheService(cacheCfg)
			if err != nil {
				return nil, err
			}
			repo = repositorycache.New(repo, service, cache.NewDefaultKeySerializer())
		}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.SystemClock{}
	}
	idGen := cfg.IDGen
	if idGen == nil {
		idGen = types.UUIDGenerator{}
	}

	return &Repository{
		preferenceStore: repo,
		clock:           clock,
		idGen:           idGen,
	}, nil
}

var (
	_ repository.Repository[*Record] = (*Repository)(nil)
	_ types.UserPreferenceRepository = (*Repository)(nil)
)

// GetPreference fetches the entry for (user, key). Absent entries return nil
// without error; callers treat absence as fall-through to the system tier.
func (r *Repository) GetPreference(ctx context.Context, userID uuid.UUID, key string) (*types.UserPreference, error) {
	existing, err := r.findExisting(ctx, userID, key)
	if repository.IsRecordNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toDomainPtr(existing)
}

// ListPreferences fetches entries for the user; an empty key slice returns
// every entry. Inactive entries are included so history-aware callers can
// inspect them; resolution filters on Active.
func (r *Repository) ListPreferences(ctx context.Context, userID uuid.UUID, keys []string) ([]types.UserPreference, error) {
	if userID == uuid.Nil {
		return nil, types.ErrUserIDRequired
	}
	criteria := []repository.SelectCriteria{
		func(q *bun.SelectQuery) *bun.SelectQuery {
			q = q.Where("user_id = ?", userID).OrderExpr("key ASC")
			if len(keys) > 0 {
				lowered := make([]string, len(keys))
				for i, key := range keys {
					lowered[i] = strings.ToLower(strings.TrimSpace(key))
				}
				q = q.Where("lower(key) IN (?)", bun.In(lowered))
			}
			return q
		},
	}
	rows, _, err := r.List(ctx, criteria...)
	if err != nil {
		return nil, err
	}
	result := make([]types.UserPreference, 0, len(rows))
	for _, row := range rows {
		pref, err := toDomain(row)
		if err != nil {
			return nil, err
		}
		result = append(result, pref)
	}
	return result, nil
}

// UpsertPreference inserts or updates the entry for (user, key). When the
// incoming Version is non-zero it must match the stored row or the write is
// rejected with a conflict error, serializing concurrent writers per key.
func (r *Repository) UpsertPreference(ctx context.Context, pref types.UserPreference) (*types.UserPreference, error) {
	if pref.UserID == uuid.Nil {
		return nil, types.ErrUserIDRequired
	}
	key := strings.TrimSpace(pref.Key)
	if key == "" {
		return nil, types.ErrKeyRequired
	}
	payload, err := fromDomain(pref)
	if err != nil {
		return nil, err
	}
	now := r.clock.Now()

	existing, err := r.findExisting(ctx, pref.UserID, key)
	switch {
	case err == nil && existing != nil:
		if pref.Version != 0 && pref.Version != existing.Version {
			return nil, types.NewConflictError(key, pref.Version)
		}
		payload.ID = existing.ID
		payload.CreatedAt = existing.CreatedAt
		payload.Version = existing.Version + 1
		payload.UpdatedAt = now
		updated, err := r.Update(ctx, payload)
		if err != nil {
			return nil, err
		}
		return toDomainPtr(updated)
	case repository.IsRecordNotFound(err):
		payload.ID = r.idGen.UUID()
		payload.Version = 1
		payload.CreatedAt = now
		payload.UpdatedAt = now
		created, err := r.Create(ctx, payload)
		if err != nil {
			return nil, err
		}
		return toDomainPtr(created)
	default:
		return nil, err
	}
}

// DeactivatePreference soft-deletes the entry so history linkage survives.
func (r *Repository) DeactivatePreference(ctx context.Context, userID uuid.UUID, key string, actor uuid.UUID) (*types.UserPreference, error) {
	existing, err := r.findExisting(ctx, userID, key)
	if err != nil {
		return nil, err
	}
	existing.Active = false
	existing.Version++
	existing.UpdatedAt = r.clock.Now()
	existing.UpdatedBy = actor
	updated, err := r.Update(ctx, existing)
	if err != nil {
		return nil, err
	}
	return toDomainPtr(updated)
}

func (r *Repository) findExisting(ctx context.Context, userID uuid.UUID, key string) (*Record, error) {
	lowerKey := strings.ToLower(strings.TrimSpace(key))
	if lowerKey == "" {
		return nil, types.ErrKeyRequired
	}
	if userID == uuid.Nil {
		return nil, types.ErrUserIDRequired
	}
	criteria := []repository.SelectCriteria{
		func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("user_id = ?", userID).
				Where("lower(key) = ?", lowerKey).
				Limit(1)
		},
	}
	rows, _, err := r.List(ctx, criteria...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, repository.NewRecordNotFound()
	}
	return rows[0], nil
}

func fromDomain(pref types.UserPreference) (*Record, error) {
	value, err := types.EncodeValue(pref.Value)
	if err != nil {
		return nil, err
	}
	origin := pref.Origin
	if origin == "" {
		origin = types.OriginManual
	}
	return &Record{
		ID:        pref.ID,
		UserID:    pref.UserID,
		Key:       strings.TrimSpace(pref.Key),
		Value:     value,
		Active:    pref.Active,
		Origin:    string(origin),
		Version:   pref.Version,
		CreatedAt: pref.CreatedAt,
		UpdatedAt: pref.UpdatedAt,
		UpdatedBy: pref.UpdatedBy,
	}, nil
}

func toDomain(record *Record) (types.UserPreference, error) {
	if record == nil {
		return types.UserPreference{}, nil
	}
	value, err := types.DecodeValue(record.Value)
	if err != nil {
		return types.UserPreference{}, err
	}
	return types.UserPreference{
		ID:        record.ID,
		UserID:    record.UserID,
		Key:       record.Key,
		Value:     value,
		Active:    record.Active,
		Origin:    types.PreferenceOrigin(record.Origin),
		Version:   record.Version,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
		UpdatedBy: record.UpdatedBy,
	}, nil
}

func toDomainPtr(record *Record) (*types.UserPreference, error) {
	pref, err := toDomain(record)
	if err != nil {
		return nil, err
	}
	return &pref, nil
}
