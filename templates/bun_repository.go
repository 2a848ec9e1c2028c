package templates

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-preferences/pkg/types"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RepositoryConfig wires dependencies for the Bun-backed template store.
type RepositoryConfig struct {
	DB         *bun.DB
	Repository repository.Repository[*Record]
	Clock      types.Clock
	IDGen      types.IDGenerator
}

type templateStore interface {
	repository.Repository[*Record]
}

// Repository implements types.TemplateRepository.
type Repository struct {
	templateStore
	clock types.Clock
	idGen types.IDGenerator
}

// NewRepository constructs the template repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if cfg.Repository == nil && cfg.DB == nil {
		return nil, errors.New("templates: db or repository required")
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
		templateStore: repo,
		clock:         clock,
		idGen:         idGen,
	}, nil
}

var _ types.TemplateRepository = (*Repository)(nil)

// GetTemplate fetches a template by id; nil when absent.
func (r *Repository) GetTemplate(ctx context.Context, id uuid.UUID) (*types.Template, error) {
	rows, _, err := r.List(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("id = ?", id).Limit(1)
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return toDomainPtr(rows[0])
}

// CreateTemplate persists a new template bundle.
func (r *Repository) CreateTemplate(ctx context.Context, tpl types.Template) (*types.Template, error) {
	if strings.TrimSpace(tpl.Name) == "" {
		return nil, types.NewValidationError("template", "name is required")
	}
	if len(tpl.Preferences) == 0 {
		return nil, types.NewValidationError(tpl.Name, "template bundle is empty")
	}
	payload, err := fromDomain(tpl)
	if err != nil {
		return nil, err
	}
	if payload.ID == uuid.Nil {
		payload.ID = r.idGen.UUID()
	}
	payload.Version = 1
	payload.CreatedAt = r.clock.Now()
	created, err := r.Create(ctx, payload)
	if err != nil {
		return nil, err
	}
	return toDomainPtr(created)
}

// ListTemplates returns templates, optionally narrowed to a category, newest
// first.
func (r *Repository) ListTemplates(ctx context.Context, category string) ([]types.Template, error) {
	rows, _, err := r.List(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		if category != "" {
			q = q.Where("lower(category) = ?", strings.ToLower(strings.TrimSpace(category)))
		}
		return q.OrderExpr("created_at DESC, id DESC")
	})
	if err != nil {
		return nil, err
	}
	result := make([]types.Template, 0, len(rows))
	for _, row := range rows {
		tpl, err := toDomain(row)
		if err != nil {
			return nil, err
		}
		result = append(result, tpl)
	}
	return result, nil
}

func fromDomain(tpl types.Template) (*Record, error) {
	preferences, err := json.Marshal(tpl.Preferences)
	if err != nil {
		return nil, err
	}
	return &Record{
		ID:          tpl.ID,
		Name:        strings.TrimSpace(tpl.Name),
		Category:    strings.TrimSpace(tpl.Category),
		Preferences: string(preferences),
		Version:     tpl.Version,
		CreatedAt:   tpl.CreatedAt,
		CreatedBy:   tpl.CreatedBy,
	}, nil
}

func toDomain(record *Record) (types.Template, error) {
	if record == nil {
		return types.Template{}, nil
	}
	var preferences map[string]any
	if record.Preferences != "" {
		if err := json.Unmarshal([]byte(record.Preferences), &preferences); err != nil {
			return types.Template{}, err
		}
	}
	return types.Template{
		ID:          record.ID,
		Name:        record.Name,
		Category:    record.Category,
		Preferences: preferences,
		Version:     record.Version,
		CreatedAt:   record.CreatedAt,
		CreatedBy:   record.CreatedBy,
	}, nil
}

func toDomainPtr(record *Record) (*types.Template, error) {
	tpl, err := toDomain(record)
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}
