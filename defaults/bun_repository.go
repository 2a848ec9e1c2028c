package defaults

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

// RepositoryConfig wires dependencies for the Bun-backed defaults store.
type RepositoryConfig struct {
	DB         *bun.DB
	Repository repository.Repository[*Record]
	Clock      types.Clock
	IDGen      types.IDGenerator
}

type defaultsStore interface {
	repository.Repository[*Record]
}

// Repository implements types.DefaultsRepository.
type Repository struct {
	defaultsStore
	clock types.Clock
	idGen types.IDGenerator
}

// NewRepository constructs the default system-defaults repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if cfg.Repository == nil && cfg.DB == nil {
		return nil, errors.New("defaults: db or repository required")
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
		defaultsStore: repo,
		clock:         clock,
		idGen:         idGen,
	}, nil
}

var (
	_ repository.Repository[*Record] = (*Repository)(nil)
	_ types.DefaultsRepository       = (*Repository)(nil)
)

// GetDefault fetches the system default for a key. A missing key surfaces the
// unknown-key error so callers never silently fall back.
func (r *Repository) GetDefault(ctx context.Context, key string) (*types.SystemDefault, error) {
	lowerKey := strings.ToLower(strings.TrimSpace(key))
	if lowerKey == "" {
		return nil, types.ErrKeyRequired
	}
	criteria := []repository.SelectCriteria{
		func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("lower(key) = ?", lowerKey).Limit(1)
		},
	}
	rows, _, err := r.List(ctx, criteria...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, types.NewUnknownKeyError(key)
	}
	return toDomainPtr(rows[0])
}

// ListDefaults fetches system defaults for the requested keys; an empty key
// slice returns every registered default.
func (r *Repository) ListDefaults(ctx context.Context, keys []string) ([]types.SystemDefault, error) {
	criteria := []repository.SelectCriteria{
		func(q *bun.SelectQuery) *bun.SelectQuery {
			q = q.OrderExpr("key ASC")
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
	result := make([]types.SystemDefault, 0, len(rows))
	for _, row := range rows {
		def, err := toDomain(row)
		if err != nil {
			return nil, err
		}
		result = append(result, def)
	}
	return result, nil
}

// UpsertDefault inserts or updates a system default. Updates are an
// administrative migration concern; the row version increments on every write.
func (r *Repository) UpsertDefault(ctx context.Context, def types.SystemDefault) (*types.SystemDefault, error) {
	key := strings.TrimSpace(def.Key)
	if key == "" {
		return nil, types.ErrKeyRequired
	}
	payload, err := fromDomain(def)
	if err != nil {
		return nil, err
	}
	now := r.clock.Now()

	existing, err := r.findExisting(ctx, key)
	switch {
	case err == nil && existing != nil:
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
		payload.Version = max(def.Version, 1)
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

func (r *Repository) findExisting(ctx context.Context, key string) (*Record, error) {
	lowerKey := strings.ToLower(key)
	criteria := []repository.SelectCriteria{
		func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("lower(key) = ?", lowerKey).Limit(1)
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

func fromDomain(def types.SystemDefault) (*Record, error) {
	value, err := types.EncodeValue(def.DefaultValue)
	if err != nil {
		return nil, err
	}
	constraints := ""
	if !def.Constraints.Empty() {
		raw, err := json.Marshal(def.Constraints)
		if err != nil {
			return nil, err
		}
		constraints = string(raw)
	}
	return &Record{
		ID:             def.ID,
		Key:            strings.TrimSpace(def.Key),
		DefaultValue:   value,
		DataType:       string(def.DataType),
		Category:       strings.ToLower(strings.TrimSpace(def.Category)),
		Constraints:    constraints,
		Sensitive:      def.Sensitive,
		Version:        def.Version,
		Deprecated:     def.Deprecated,
		ReplacementKey: strings.TrimSpace(def.ReplacementKey),
		CreatedAt:      def.CreatedAt,
		UpdatedAt:      def.UpdatedAt,
		UpdatedBy:      def.UpdatedBy,
	}, nil
}

func toDomain(record *Record) (types.SystemDefault, error) {
	if record == nil {
		return types.SystemDefault{}, nil
	}
	value, err := types.DecodeValue(record.DefaultValue)
	if err != nil {
		return types.SystemDefault{}, err
	}
	var constraints types.Constraints
	if strings.TrimSpace(record.Constraints) != "" {
		if err := json.Unmarshal([]byte(record.Constraints), &constraints); err != nil {
			return types.SystemDefault{}, err
		}
	}
	return types.SystemDefault{
		ID:             record.ID,
		Key:            record.Key,
		DefaultValue:   value,
		DataType:       types.DataType(record.DataType),
		Category:       record.Category,
		Constraints:    constraints,
		Sensitive:      record.Sensitive,
		Version:        record.Version,
		Deprecated:     record.Deprecated,
		ReplacementKey: record.ReplacementKey,
		CreatedAt:      record.CreatedAt,
		UpdatedAt:      record.UpdatedAt,
		UpdatedBy:      record.UpdatedBy,
	}, nil
}

func toDomainPtr(record *Record) (*types.SystemDefault, error) {
	def, err := toDomain(record)
	if err != nil {
		return nil, err
	}
	return &def, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
