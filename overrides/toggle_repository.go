package overrides

import (
	"context"
	"encoding/json"
	"errors"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-preferences/pkg/types"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ToggleRepositoryConfig wires dependencies for the per-project toggle store.
type ToggleRepositoryConfig struct {
	DB         *bun.DB
	Repository repository.Repository[*ToggleRecord]
	Clock      types.Clock
}

type toggleStore interface {
	repository.Repository[*ToggleRecord]
}

// ToggleRepository implements types.OverrideToggleRepository.
type ToggleRepository struct {
	toggleStore
	clock types.Clock
}

// NewToggleRepository constructs the override toggle repository.
func NewToggleRepository(cfg ToggleRepositoryConfig) (*ToggleRepository, error) {
	if cfg.Repository == nil && cfg.DB == nil {
		return nil, errors.New("overrides: db or repository required")
	}
	repo := cfg.Repository
	if repo == nil {
		repo = repository.NewRepository(cfg.DB, repository.ModelHandlers[*ToggleRecord]{
			NewRecord: func() *ToggleRecord { return &ToggleRecord{} },
			GetID: func(rec *ToggleRecord) uuid.UUID {
				if rec == nil {
					return uuid.Nil
				}
				return rec.ProjectID
			},
			SetID: func(rec *ToggleRecord, id uuid.UUID) {
				if rec != nil {
					rec.ProjectID = id
				}
			},
		})
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.SystemClock{}
	}

	return &ToggleRepository{
		toggleStore: repo,
		clock:       clock,
	}, nil
}

var _ types.OverrideToggleRepository = (*ToggleRepository)(nil)

// GetToggle fetches the project's switch row; nil when the project has never
// configured overrides, which callers treat as disabled.
func (r *ToggleRepository) GetToggle(ctx context.Context, projectID uuid.UUID) (*types.OverrideToggle, error) {
	if projectID == uuid.Nil {
		return nil, types.ErrProjectIDRequired
	}
	criteria := []repository.SelectCriteria{
		func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("project_id = ?", projectID).Limit(1)
		},
	}
	rows, _, err := r.List(ctx, criteria...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return toggleToDomain(rows[0])
}

// UpsertToggle writes the project switch, bumping the version on update.
func (r *ToggleRepository) UpsertToggle(ctx context.Context, toggle types.OverrideToggle) (*types.OverrideToggle, error) {
	if toggle.ProjectID == uuid.Nil {
		return nil, types.ErrProjectIDRequired
	}
	payload, err := toggleFromDomain(toggle)
	if err != nil {
		return nil, err
	}
	payload.UpdatedAt = r.clock.Now()

	existing, err := r.GetToggle(ctx, toggle.ProjectID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		payload.Version = 1
		created, err := r.Create(ctx, payload)
		if err != nil {
			return nil, err
		}
		return toggleToDomain(created)
	}
	if toggle.Version != 0 && toggle.Version != existing.Version {
		return nil, types.NewConflictError("override_toggle", toggle.Version)
	}
	payload.Version = existing.Version + 1
	updated, err := r.Update(ctx, payload)
	if err != nil {
		return nil, err
	}
	return toggleToDomain(updated)
}

func toggleFromDomain(toggle types.OverrideToggle) (*ToggleRecord, error) {
	categories, err := json.Marshal(toggle.Categories)
	if err != nil {
		return nil, err
	}
	return &ToggleRecord{
		ProjectID:  toggle.ProjectID,
		Enabled:    toggle.Enabled,
		Categories: string(categories),
		Version:    toggle.Version,
		UpdatedAt:  toggle.UpdatedAt,
		UpdatedBy:  toggle.UpdatedBy,
	}, nil
}

func toggleToDomain(record *ToggleRecord) (*types.OverrideToggle, error) {
	if record == nil {
		return nil, nil
	}
	var categories []string
	if record.Categories != "" {
		if err := json.Unmarshal([]byte(record.Categories), &categories); err != nil {
			return nil, err
		}
	}
	return &types.OverrideToggle{
		ProjectID:  record.ProjectID,
		Enabled:    record.Enabled,
		Categories: categories,
		Version:    record.Version,
		UpdatedAt:  record.UpdatedAt,
		UpdatedBy:  record.UpdatedBy,
	}, nil
}
