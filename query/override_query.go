package query

import (
	"context"

	gocommand "github.com/goliatone/go-command"
	"github.com/goliatone/go-preferences/pkg/types"
	"github.com/goliatone/go-preferences/scope"
	"github.com/google/uuid"
)

// OverrideListQueryInput lists override rows for a project, optionally
// narrowed to specific keys.
type OverrideListQueryInput struct {
	ProjectID uuid.UUID
	Keys      []string
	Actor     types.ActorRef
}

// OverrideListQuery exposes a project's override rows for review surfaces.
type OverrideListQuery struct {
	repo  types.ProjectPreferenceRepository
	guard scope.Guard
}

// NewOverrideListQuery constructs the query helper.
func NewOverrideListQuery(repo types.ProjectPreferenceRepository, guard scope.Guard) *OverrideListQuery {
	return &OverrideListQuery{
		repo:  repo,
		guard: safeScopeGuard(guard),
	}
}

var _ gocommand.Querier[OverrideListQueryInput, []types.ProjectPreference] = (*OverrideListQuery)(nil)

// Query lists the project's overrides, strongest first.
func (q *OverrideListQuery) Query(ctx context.Context, input OverrideListQueryInput) ([]types.ProjectPreference, error) {
	if q.repo == nil {
		return nil, types.ErrMissingOverrideRepository
	}
	if err := q.guard.Enforce(ctx, input.Actor, types.PolicyActionPreferencesRead, input.ProjectID); err != nil {
		return nil, err
	}
	return q.repo.ListOverrides(ctx, input.ProjectID, input.Keys)
}

// TemplateListQueryInput lists stored templates, optionally by category.
type TemplateListQueryInput struct {
	Category string
	Actor    types.ActorRef
}

// TemplateListQuery exposes stored template bundles.
type TemplateListQuery struct {
	repo  types.TemplateRepository
	guard scope.Guard
}

// NewTemplateListQuery constructs the query helper.
func NewTemplateListQuery(repo types.TemplateRepository, guard scope.Guard) *TemplateListQuery {
	return &TemplateListQuery{
		repo:  repo,
		guard: safeScopeGuard(guard),
	}
}

var _ gocommand.Querier[TemplateListQueryInput, []types.Template] = (*TemplateListQuery)(nil)

// Query lists templates newest first.
func (q *TemplateListQuery) Query(ctx context.Context, input TemplateListQueryInput) ([]types.Template, error) {
	if q.repo == nil {
		return nil, types.ErrMissingTemplateRepository
	}
	if err := q.guard.Enforce(ctx, input.Actor, types.PolicyActionPreferencesRead, uuid.Nil); err != nil {
		return nil, err
	}
	return q.repo.ListTemplates(ctx, input.Category)
}
