package query

import (
	"context"

	gocommand "github.com/goliatone/go-command"
	"github.com/goliatone/go-preferences/pkg/types"
	"github.com/goliatone/go-preferences/resolver"
	"github.com/goliatone/go-preferences/scope"
	"github.com/google/uuid"
)

// ResolveQueryInput identifies one resolution target.
type ResolveQueryInput struct {
	UserID    uuid.UUID
	ProjectID uuid.UUID
	Key       string
	Actor     types.ActorRef
}

// ResolveQuery computes the effective value for a single key.
type ResolveQuery struct {
	resolver preferenceResolver
	guard    scope.Guard
}

type preferenceResolver interface {
	Resolve(ctx context.Context, input resolver.ResolveInput) (*types.Resolution, error)
	ResolveMany(ctx context.Context, input resolver.ResolveManyInput) ([]types.Resolution, error)
}

// NewResolveQuery constructs the query helper.
func NewResolveQuery(r preferenceResolver, guard scope.Guard) *ResolveQuery {
	return &ResolveQuery{
		resolver: r,
		guard:    safeScopeGuard(guard),
	}
}

var _ gocommand.Querier[ResolveQueryInput, *types.Resolution] = (*ResolveQuery)(nil)

// Query resolves the key through the tier chain.
func (q *ResolveQuery) Query(ctx context.Context, input ResolveQueryInput) (*types.Resolution, error) {
	if q.resolver == nil {
		return nil, types.ErrMissingResolver
	}
	if err := q.guard.Enforce(ctx, input.Actor, types.PolicyActionPreferencesRead, input.UserID); err != nil {
		return nil, err
	}
	return q.resolver.Resolve(ctx, resolver.ResolveInput{
		UserID:    input.UserID,
		ProjectID: input.ProjectID,
		Key:       input.Key,
	})
}

// ResolveManyQueryInput identifies a bulk resolution target. Empty Keys
// resolves every non-deprecated key.
type ResolveManyQueryInput struct {
	UserID    uuid.UUID
	ProjectID uuid.UUID
	Keys      []string
	Actor     types.ActorRef
}

// ResolveManyQuery computes effective values for many keys at once.
type ResolveManyQuery struct {
	resolver preferenceResolver
	guard    scope.Guard
}

// NewResolveManyQuery constructs the query helper.
func NewResolveManyQuery(r preferenceResolver, guard scope.Guard) *ResolveManyQuery {
	return &ResolveManyQuery{
		resolver: r,
		guard:    safeScopeGuard(guard),
	}
}

var _ gocommand.Querier[ResolveManyQueryInput, []types.Resolution] = (*ResolveManyQuery)(nil)

// Query resolves the requested keys through the tier chain.
func (q *ResolveManyQuery) Query(ctx context.Context, input ResolveManyQueryInput) ([]types.Resolution, error) {
	if q.resolver == nil {
		return nil, types.ErrMissingResolver
	}
	if err := q.guard.Enforce(ctx, input.Actor, types.PolicyActionPreferencesRead, input.UserID); err != nil {
		return nil, err
	}
	return q.resolver.ResolveMany(ctx, resolver.ResolveManyInput{
		UserID:    input.UserID,
		ProjectID: input.ProjectID,
		Keys:      input.Keys,
	})
}
