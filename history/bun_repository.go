package history

import (
	"context"
	"errors"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-preferences/pkg/types"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const defaultPageSize = 50

// RepositoryConfig wires dependencies for the Bun-backed change log.
type RepositoryConfig struct {
	DB         *bun.DB
	Repository repository.Repository[*Record]
	Clock      types.Clock
	IDGen      types.IDGenerator
}

type historyStore interface {
	repository.Repository[*Record]
}

// Repository implements types.HistoryRepository over an append-only table.
// Nothing here updates or deletes rows.
type Repository struct {
	historyStore
	clock types.Clock
	idGen types.IDGenerator
}

// NewRepository constructs the change log repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if cfg.Repository == nil && cfg.DB == nil {
		return nil, errors.New("history: db or repository required")
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
		historyStore: repo,
		clock:        clock,
		idGen:        idGen,
	}, nil
}

var _ types.HistoryRepository = (*Repository)(nil)

// Record appends one change entry. Identifier and timestamp are filled when
// the caller left them zero.
func (r *Repository) Record(ctx context.Context, change types.ChangeRecord) (*types.ChangeRecord, error) {
	if change.Actor == uuid.Nil {
		return nil, types.ErrActorRequired
	}
	payload, err := fromDomain(change)
	if err != nil {
		return nil, err
	}
	if payload.ID == uuid.Nil {
		payload.ID = r.idGen.UUID()
	}
	if payload.OccurredAt.IsZero() {
		payload.OccurredAt = r.clock.Now()
	}
	created, err := r.Create(ctx, payload)
	if err != nil {
		return nil, err
	}
	return toDomainPtr(created)
}

// GetChange fetches one entry by id; nil when absent.
func (r *Repository) GetChange(ctx context.Context, id uuid.UUID) (*types.ChangeRecord, error) {
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

// ListChanges returns a filtered page of entries, newest first. The cursor is
// keyset-based on (occurred_at, id) so pages stay stable under concurrent
// appends.
func (r *Repository) ListChanges(ctx context.Context, filter types.HistoryFilter) (types.HistoryPage, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	rows, _, err := r.List(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		q = applyFilter(q, filter)
		q = applyCursor(q, filter.Cursor)
		return q.
			OrderExpr("occurred_at DESC, id DESC").
			Limit(limit + 1)
	})
	if err != nil {
		return types.HistoryPage{}, err
	}

	page := types.HistoryPage{HasMore: len(rows) > limit}
	if page.HasMore {
		rows = rows[:limit]
	}
	page.Records = make([]types.ChangeRecord, 0, len(rows))
	for _, row := range rows {
		record, err := toDomain(row)
		if err != nil {
			return types.HistoryPage{}, err
		}
		page.Records = append(page.Records, record)
	}
	if page.HasMore && len(page.Records) > 0 {
		last := page.Records[len(page.Records)-1]
		page.NextCursor = &types.HistoryCursor{OccurredAt: last.OccurredAt, ID: last.ID}
	}
	return page, nil
}

// ListBatch returns every entry sharing the batch id, oldest first, so batch
// rollback can compensate in application order.
func (r *Repository) ListBatch(ctx context.Context, batchID uuid.UUID) ([]types.ChangeRecord, error) {
	rows, _, err := r.List(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.
			Where("batch_id = ?", batchID).
			OrderExpr("occurred_at ASC, id ASC")
	})
	if err != nil {
		return nil, err
	}
	records := make([]types.ChangeRecord, 0, len(rows))
	for _, row := range rows {
		record, err := toDomain(row)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// RevertOf returns the rollback entry that reverted the supplied change, or
// nil when the change has not been rolled back.
func (r *Repository) RevertOf(ctx context.Context, changeID uuid.UUID) (*types.ChangeRecord, error) {
	rows, _, err := r.List(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("reverted_change_id = ?", changeID).Limit(1)
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return toDomainPtr(rows[0])
}

func applyFilter(q *bun.SelectQuery, filter types.HistoryFilter) *bun.SelectQuery {
	if filter.Scope != "" {
		q = q.Where("scope = ?", string(filter.Scope))
	}
	if filter.SubjectID != uuid.Nil {
		q = q.Where("subject_id = ?", filter.SubjectID)
	}
	if filter.Key != "" {
		q = q.Where("key = ?", filter.Key)
	}
	if filter.BatchID != uuid.Nil {
		q = q.Where("batch_id = ?", filter.BatchID)
	}
	if filter.Since != nil {
		q = q.Where("occurred_at >= ?", *filter.Since)
	}
	if filter.Until != nil {
		q = q.Where("occurred_at < ?", *filter.Until)
	}
	return q
}

func applyCursor(q *bun.SelectQuery, cursor *types.HistoryCursor) *bun.SelectQuery {
	if cursor == nil {
		return q
	}
	return q.Where(
		"(occurred_at < ?) OR (occurred_at = ? AND id < ?)",
		cursor.OccurredAt, cursor.OccurredAt, cursor.ID,
	)
}

func fromDomain(change types.ChangeRecord) (*Record, error) {
	oldValue, err := types.EncodeValue(change.OldValue)
	if err != nil {
		return nil, err
	}
	newValue, err := types.EncodeValue(change.NewValue)
	if err != nil {
		return nil, err
	}
	return &Record{
		ID:               change.ID,
		Actor:            change.Actor,
		Scope:            string(change.Scope),
		SubjectID:        change.SubjectID,
		Key:              change.Key,
		OldValue:         oldValue,
		NewValue:         newValue,
		ChangeType:       string(change.ChangeType),
		Reason:           change.Reason,
		BatchID:          change.BatchID,
		RevertedChangeID: change.RevertedChangeID,
		OccurredAt:       change.OccurredAt,
	}, nil
}

func toDomain(record *Record) (types.ChangeRecord, error) {
	if record == nil {
		return types.ChangeRecord{}, nil
	}
	oldValue, err := types.DecodeValue(record.OldValue)
	if err != nil {
		return types.ChangeRecord{}, err
	}
	newValue, err := types.DecodeValue(record.NewValue)
	if err != nil {
		return types.ChangeRecord{}, err
	}
	return types.ChangeRecord{
		ID:               record.ID,
		Actor:            record.Actor,
		Scope:            types.Tier(record.Scope),
		SubjectID:        record.SubjectID,
		Key:              record.Key,
		OldValue:         oldValue,
		NewValue:         newValue,
		ChangeType:       types.ChangeType(record.ChangeType),
		Reason:           record.Reason,
		BatchID:          record.BatchID,
		RevertedChangeID: record.RevertedChangeID,
		OccurredAt:       record.OccurredAt,
	}, nil
}

func toDomainPtr(record *Record) (*types.ChangeRecord, error) {
	change, err := toDomain(record)
	if err != nil {
		return nil, err
	}
	return &change, nil
}
