package query

import (
	"context"

	gocommand "github.com/goliatone/go-command"
	"github.com/goliatone/go-preferences/history"
	"github.com/goliatone/go-preferences/pkg/types"
	"github.com/goliatone/go-preferences/scope"
	"github.com/google/uuid"
)

// HistoryQueryInput filters the change log. Filter.Cursor resumes a previous
// page.
type HistoryQueryInput struct {
	Filter types.HistoryFilter
	Actor  types.ActorRef
}

// HistoryQuery pages through the change log, masking sensitive values on the
// way out.
type HistoryQuery struct {
	repo      types.HistoryRepository
	sanitizer *history.Sanitizer
	guard     scope.Guard
}

// HistoryQueryConfig wires dependencies for history queries.
type HistoryQueryConfig struct {
	Repository types.HistoryRepository
	Sanitizer  *history.Sanitizer
	ScopeGuard scope.Guard
}

// NewHistoryQuery constructs the query helper.
func NewHistoryQuery(cfg HistoryQueryConfig) *HistoryQuery {
	return &HistoryQuery{
		repo:      cfg.Repository,
		sanitizer: cfg.Sanitizer,
		guard:     safeScopeGuard(cfg.ScopeGuard),
	}
}

var _ gocommand.Querier[HistoryQueryInput, types.HistoryPage] = (*HistoryQuery)(nil)

// Query returns one page of change records, newest first.
func (q *HistoryQuery) Query(ctx context.Context, input HistoryQueryInput) (types.HistoryPage, error) {
	if q.repo == nil {
		return types.HistoryPage{}, types.ErrMissingHistoryRepository
	}
	if err := q.guard.Enforce(ctx, input.Actor, types.PolicyActionHistoryRead, input.Filter.SubjectID); err != nil {
		return types.HistoryPage{}, err
	}
	page, err := q.repo.ListChanges(ctx, input.Filter)
	if err != nil {
		return types.HistoryPage{}, err
	}
	if q.sanitizer != nil {
		page = q.sanitizer.SanitizePage(ctx, page)
	}
	return page, nil
}

// BatchQueryInput fetches every change in one batch.
type BatchQueryInput struct {
	BatchID uuid.UUID
	Actor   types.ActorRef
}

// BatchQuery returns the changes recorded under a shared batch id.
type BatchQuery struct {
	repo      types.HistoryRepository
	sanitizer *history.Sanitizer
	guard     scope.Guard
}

// NewBatchQuery constructs the query helper.
func NewBatchQuery(cfg HistoryQueryConfig) *BatchQuery {
	return &BatchQuery{
		repo:      cfg.Repository,
		sanitizer: cfg.Sanitizer,
		guard:     safeScopeGuard(cfg.ScopeGuard),
	}
}

var _ gocommand.Querier[BatchQueryInput, []types.ChangeRecord] = (*BatchQuery)(nil)

// Query returns the batch members in application order.
func (q *BatchQuery) Query(ctx context.Context, input BatchQueryInput) ([]types.ChangeRecord, error) {
	if q.repo == nil {
		return nil, types.ErrMissingHistoryRepository
	}
	if err := q.guard.Enforce(ctx, input.Actor, types.PolicyActionHistoryRead, input.BatchID); err != nil {
		return nil, err
	}
	records, err := q.repo.ListBatch(ctx, input.BatchID)
	if err != nil {
		return nil, err
	}
	if q.sanitizer != nil {
		records = q.sanitizer.SanitizeRecords(ctx, records)
	}
	return records, nil
}
