package overrides

import (
	"context"
	"errors"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-preferences/pkg/types"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RepositoryConfig wires dependencies for the Bun-backed override store.
type RepositoryConfig struct {
	DB         *bun.DB
	Repository repository.Repository[*Record]
	Clock      types.Clock
	IDGen      types.IDGenerator
}

type overrideStore interface {
	repository.Repository[*Record]
}

// Repository implements types.ProjectPreferenceRepository.
type Repository struct {
	overrideStore
	db    *bun.DB
	clock types.Clock
	idGen types.IDGenerator
}

// NewRepository constructs the project override repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if cfg.Repository == nil && cfg.DB == nil {
		return nil, errors.New("overrides: db or repository required")
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
	clock := cfg.Clock
	if clock == nil {
		clock = types.SystemClock{}
	}
	idGen := cfg.IDGen
	if idGen == nil {
		idGen = types.UUIDGenerator{}
	}

	return &Repository{
		overrideStore: repo,
		db:            cfg.DB,
		clock:         clock,
		idGen:         idGen,
	}, nil
}

var (
	_ repository.Repository[*Record]    = (*Repository)(nil)
	_ types.ProjectPreferenceRepository = (*Repository)(nil)
)

// GetOverride fetches an override row by id; nil when absent.
func (r *Repository) GetOverride(ctx context.Context, id uuid.UUID) (*types.ProjectPreference, error) {
	criteria := []repository.SelectCriteria{
		func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("id = ?", id).Limit(1)
		},
	}
	rows, _, err := r.List(ctx, criteria...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return toDomainPtr(rows[0])
}

// ListOverrides fetches override rows for the project, strongest first
// (priority DESC, then most recent effective_from). Expired and revoked rows
// are included; liveness is computed by callers, never assumed from storage.
func (r *Repository) ListOverrides(ctx context.Context, projectID uuid.UUID, keys []string) ([]types.ProjectPreference, error) {
	if projectID == uuid.Nil {
		return nil, types.ErrProjectIDRequired
	}
	criteria := []repository.SelectCriteria{
		func(q *bun.SelectQuery) *bun.SelectQuery {
			q = q.Where("project_id = ?", projectID).
				OrderExpr("priority DESC, effective_from DESC")
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
	result := make([]types.ProjectPreference, 0, len(rows))
	for _, row := range rows {
		pref, err := toDomain(row)
		if err != nil {
			return nil, err
		}
		result = append(result, pref)
	}
	return result, nil
}

// CreateOverride persists a new override request row.
func (r *Repository) CreateOverride(ctx context.Context, pref types.ProjectPreference) (*types.ProjectPreference, error) {
	if pref.ProjectID == uuid.Nil {
		return nil, types.ErrProjectIDRequired
	}
	if strings.TrimSpace(pref.Key) == "" {
		return nil, types.ErrKeyRequired
	}
	payload, err := fromDomain(pref)
	if err != nil {
		return nil, err
	}
	now := r.clock.Now()
	if payload.ID == uuid.Nil {
		payload.ID = r.idGen.UUID()
	}
	payload.Version = 1
	payload.CreatedAt = now
	payload.UpdatedAt = now
	created, err := r.Create(ctx, payload)
	if err != nil {
		return nil, err
	}
	return toDomainPtr(created)
}

// UpdateOverride writes the row guarded by its version. A stale version is
// rejected with a conflict error so concurrent approve/revoke cannot both
// win; the caller retries from a fresh read.
func (r *Repository) UpdateOverride(ctx context.Context, pref types.ProjectPreference) (*types.ProjectPreference, error) {
	payload, err := fromDomain(pref)
	if err != nil {
		return nil, err
	}
	expected := pref.Version
	payload.Version = expected + 1
	payload.UpdatedAt = r.clock.Now()

	if r.db != nil {
		res, err := r.db.NewUpdate().
			Model(payload).
			WherePK().
			Where("version = ?", expected).
			Exec(ctx)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, types.NewConflictError(pref.Key, expected)
		}
		return toDomainPtr(payload)
	}

	// Repository-only wiring (tests, fakes): check-then-write.
	current, err := r.GetOverride(ctx, pref.ID)
	if err != nil {
		return nil, err
	}
	if current == nil || current.Version != expected {
		return nil, types.NewConflictError(pref.Key, expected)
	}
	updated, err := r.Update(ctx, payload)
	if err != nil {
		return nil, err
	}
	return toDomainPtr(updated)
}

func fromDomain(pref types.ProjectPreference) (*Record, error) {
	value, err := types.EncodeValue(pref.Value)
	if err != nil {
		return nil, err
	}
	return &Record{
		ID:             pref.ID,
		ProjectID:      pref.ProjectID,
		Key:            strings.TrimSpace(pref.Key),
		Value:          value,
		InheritsUser:   pref.InheritsUser,
		ApprovalState:  string(pref.ApprovalState),
		EffectiveFrom:  pref.EffectiveFrom,
		EffectiveUntil: pref.EffectiveUntil,
		Priority:       pref.Priority,
		Reason:         pref.Reason,
		RequestedBy:    pref.RequestedBy,
		DecidedBy:      pref.DecidedBy,
		DecidedAt:      pref.DecidedAt,
		Version:        pref.Version,
		CreatedAt:      pref.CreatedAt,
		UpdatedAt:      pref.UpdatedAt,
	}, nil
}

func toDomain(record *Record) (types.ProjectPreference, error) {
	if record == nil {
		return types.ProjectPreference{}, nil
	}
	value, err := types.DecodeValue(record.Value)
	if err != nil {
		return types.ProjectPreference{}, err
	}
	return types.ProjectPreference{
		ID:             record.ID,
		ProjectID:      record.ProjectID,
		Key:            record.Key,
		Value:          value,
		InheritsUser:   record.InheritsUser,
		ApprovalState:  types.ApprovalState(record.ApprovalState),
		EffectiveFrom:  record.EffectiveFrom,
		EffectiveUntil: record.EffectiveUntil,
		Priority:       record.Priority,
		Reason:         record.Reason,
		RequestedBy:    record.RequestedBy,
		DecidedBy:      record.DecidedBy,
		DecidedAt:      record.DecidedAt,
		Version:        record.Version,
		CreatedAt:      record.CreatedAt,
		UpdatedAt:      record.UpdatedAt,
	}, nil
}

func toDomainPtr(record *Record) (*types.ProjectPreference, error) {
	pref, err := toDomain(record)
	if err != nil {
		return nil, err
	}
	return &pref, nil
}
