package service

import (
	"context"
	"time"

	featuregate "github.com/goliatone/go-featuregate/gate"
	"github.com/goliatone/go-masker"
	"github.com/goliatone/go-preferences/cache"
	"github.com/goliatone/go-preferences/command"
	"github.com/goliatone/go-preferences/history"
	"github.com/goliatone/go-preferences/overrides"
	"github.com/goliatone/go-preferences/pkg/types"
	"github.com/goliatone/go-preferences/query"
	"github.com/goliatone/go-preferences/resolver"
	"github.com/goliatone/go-preferences/scope"
	"github.com/goliatone/go-preferences/templates"
)

// Service is the entry point for the preference engine. It wires
// repositories, the resolution cache, hooks, and command/query facades
// supplied by the host application.
type Service struct {
	cfg        Config
	commands   Commands
	queries    Queries
	resolver   *resolver.Resolver
	manager    *overrides.Manager
	engine     *templates.Engine
	rollbacker *history.Rollbacker
	sanitizer  *history.Sanitizer
	scopeGuard scope.Guard
}

// Commands exposes the service command handlers.
type Commands struct {
	DefaultUpsert    *command.DefaultUpsertCommand
	PreferenceSet    *command.PreferenceSetCommand
	PreferenceUnset  *command.PreferenceUnsetCommand
	OverridePropose  *command.OverrideProposeCommand
	OverrideApprove  *command.OverrideApproveCommand
	OverrideReject   *command.OverrideRejectCommand
	OverrideRevoke   *command.OverrideRevokeCommand
	OverrideToggle   *command.OverrideToggleCommand
	TemplateCreate   *command.TemplateCreateCommand
	TemplateSnapshot *command.TemplateSnapshotCommand
	TemplateApply    *command.TemplateApplyCommand
	Rollback         *command.RollbackCommand
	RollbackBatch    *command.RollbackBatchCommand
}

// Queries exposes read-model helpers.
type Queries struct {
	Resolve     *query.ResolveQuery
	ResolveMany *query.ResolveManyQuery
	History     *query.HistoryQuery
	Batch       *query.BatchQuery
	Overrides   *query.OverrideListQuery
	Templates   *query.TemplateListQuery
}

// Config captures all required dependencies so callers can provide their own
// instances (bun.DB-backed repositories, caches, hooks, policies).
type Config struct {
	Defaults  types.DefaultsRepository
	Users     types.UserPreferenceRepository
	Overrides types.ProjectPreferenceRepository
	Toggles   types.OverrideToggleRepository
	History   types.HistoryRepository
	Templates types.TemplateRepository

	Cache               cache.ResolutionCache
	Hooks               types.Hooks
	Clock               types.Clock
	IDGenerator         types.IDGenerator
	Logger              types.Logger
	AuthorizationPolicy types.AuthorizationPolicy
	FeatureGate         featuregate.FeatureGate
	Masker              *masker.Masker

	StoreTimeout time.Duration
	StoreRetries int
}

// New constructs a Service from the supplied configuration.
func New(cfg Config) (*Service, error) {
	norm := normalizeConfig(cfg)
	scopeGuard := scope.Ensure(scope.NewGuard(norm.AuthorizationPolicy))

	prefResolver, err := resolver.New(resolver.Config{
		Defaults:     norm.Defaults,
		Users:        norm.Users,
		Overrides:    norm.Overrides,
		Toggles:      norm.Toggles,
		Cache:        norm.Cache,
		Clock:        norm.Clock,
		Logger:       norm.Logger,
		StoreTimeout: norm.StoreTimeout,
		StoreRetries: norm.StoreRetries,
	})
	if err != nil {
		return nil, err
	}

	manager, err := overrides.NewManager(overrides.ManagerConfig{
		Overrides:   norm.Overrides,
		Toggles:     norm.Toggles,
		Defaults:    norm.Defaults,
		History:     norm.History,
		Invalidator: norm.Cache,
		Hooks:       norm.Hooks,
		Clock:       norm.Clock,
		IDGen:       norm.IDGenerator,
		Logger:      norm.Logger,
	})
	if err != nil {
		return nil, err
	}

	engine, err := templates.NewEngine(templates.EngineConfig{
		Templates:   norm.Templates,
		Defaults:    norm.Defaults,
		Users:       norm.Users,
		Overrides:   manager,
		History:     norm.History,
		Invalidator: norm.Cache,
		Hooks:       norm.Hooks,
		Clock:       norm.Clock,
		IDGen:       norm.IDGenerator,
		Logger:      norm.Logger,
	})
	if err != nil {
		return nil, err
	}

	rollbacker, err := history.NewRollbacker(history.RollbackerConfig{
		History:     norm.History,
		Defaults:    norm.Defaults,
		Users:       norm.Users,
		Overrides:   manager,
		Invalidator: norm.Cache,
		Hooks:       norm.Hooks,
		Clock:       norm.Clock,
		IDGen:       norm.IDGenerator,
		Logger:      norm.Logger,
	})
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:        norm,
		resolver:   prefResolver,
		manager:    manager,
		engine:     engine,
		rollbacker: rollbacker,
		sanitizer: history.NewSanitizer(history.SanitizerConfig{
			Masker:   norm.Masker,
			Defaults: norm.Defaults,
		}),
		scopeGuard: scopeGuard,
	}
	s.commands = s.buildCommands()
	s.queries = s.buildQueries()
	return s, nil
}

func normalizeConfig(cfg Config) Config {
	if cfg.Clock == nil {
		cfg.Clock = types.SystemClock{}
	}
	if cfg.IDGenerator == nil {
		cfg.IDGenerator = types.UUIDGenerator{}
	}
	if cfg.Logger == nil {
		cfg.Logger = types.NopLogger{}
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.Nop{}
	}
	return cfg
}

// Commands returns the command facade.
func (s *Service) Commands() Commands {
	return s.commands
}

// Queries returns the query facade.
func (s *Service) Queries() Queries {
	return s.queries
}

// Resolver exposes the preference resolver for hosts that embed it directly.
func (s *Service) Resolver() *resolver.Resolver {
	return s.resolver
}

// ScopeGuard exposes the guard instance used internally so transports can
// reuse the same policy for their own adapters.
func (s *Service) ScopeGuard() scope.Guard {
	if s == nil {
		return scope.NopGuard()
	}
	return scope.Ensure(s.scopeGuard)
}

// Ready reports whether the service has the required dependencies wired in.
func (s *Service) Ready() bool {
	return s != nil &&
		s.cfg.Defaults != nil &&
		s.cfg.Users != nil &&
		s.cfg.Overrides != nil &&
		s.cfg.Toggles != nil &&
		s.cfg.History != nil &&
		s.cfg.Templates != nil
}

// HealthCheck surfaces missing configuration so upstream transports can fail
// fast instead of erroring per request.
func (s *Service) HealthCheck(ctx context.Context) error {
	if s.cfg.Defaults == nil {
		return types.ErrMissingDefaultsRepository
	}
	if s.cfg.Users == nil {
		return types.ErrMissingPreferenceRepository
	}
	if s.cfg.Overrides == nil {
		return types.ErrMissingOverrideRepository
	}
	if s.cfg.Toggles == nil {
		return types.ErrMissingToggleRepository
	}
	if s.cfg.History == nil {
		return types.ErrMissingHistoryRepository
	}
	if s.cfg.Templates == nil {
		return types.ErrMissingTemplateRepository
	}
	if !s.Ready() {
		return types.ErrServiceNotReady
	}
	return nil
}

func (s *Service) buildCommands() Commands {
	prefCfg := command.PreferenceCommandConfig{
		Repository:  s.cfg.Users,
		Defaults:    s.cfg.Defaults,
		History:     s.cfg.History,
		Invalidator: s.cfg.Cache,
		Hooks:       s.cfg.Hooks,
		Clock:       s.cfg.Clock,
		Logger:      s.cfg.Logger,
		ScopeGuard:  s.scopeGuard,
	}
	overrideCfg := command.OverrideCommandConfig{
		Manager:     s.manager,
		ScopeGuard:  s.scopeGuard,
		FeatureGate: s.cfg.FeatureGate,
		Logger:      s.cfg.Logger,
	}
	templateCfg := command.TemplateCommandConfig{
		Engine:      s.engine,
		ScopeGuard:  s.scopeGuard,
		FeatureGate: s.cfg.FeatureGate,
		Logger:      s.cfg.Logger,
	}
	rollbackCfg := command.RollbackCommandConfig{
		Rollbacker: s.rollbacker,
		ScopeGuard: s.scopeGuard,
		Logger:     s.cfg.Logger,
	}
	return Commands{
		DefaultUpsert: command.NewDefaultUpsertCommand(command.DefaultCommandConfig{
			Repository:  s.cfg.Defaults,
			History:     s.cfg.History,
			Invalidator: s.cfg.Cache,
			Hooks:       s.cfg.Hooks,
			Clock:       s.cfg.Clock,
			ScopeGuard:  s.scopeGuard,
		}),
		PreferenceSet:    command.NewPreferenceSetCommand(prefCfg),
		PreferenceUnset:  command.NewPreferenceUnsetCommand(prefCfg),
		OverridePropose:  command.NewOverrideProposeCommand(overrideCfg),
		OverrideApprove:  command.NewOverrideApproveCommand(overrideCfg),
		OverrideReject:   command.NewOverrideRejectCommand(overrideCfg),
		OverrideRevoke:   command.NewOverrideRevokeCommand(overrideCfg),
		OverrideToggle:   command.NewOverrideToggleCommand(overrideCfg),
		TemplateCreate:   command.NewTemplateCreateCommand(templateCfg),
		TemplateSnapshot: command.NewTemplateSnapshotCommand(templateCfg),
		TemplateApply:    command.NewTemplateApplyCommand(templateCfg),
		Rollback:         command.NewRollbackCommand(rollbackCfg),
		RollbackBatch:    command.NewRollbackBatchCommand(rollbackCfg),
	}
}

func (s *Service) buildQueries() Queries {
	historyCfg := query.HistoryQueryConfig{
		Repository: s.cfg.History,
		Sanitizer:  s.sanitizer,
		ScopeGuard: s.scopeGuard,
	}
	return Queries{
		Resolve:     query.NewResolveQuery(s.resolver, s.scopeGuard),
		ResolveMany: query.NewResolveManyQuery(s.resolver, s.scopeGuard),
		History:     query.NewHistoryQuery(historyCfg),
		Batch:       query.NewBatchQuery(historyCfg),
		Overrides:   query.NewOverrideListQuery(s.cfg.Overrides, s.scopeGuard),
		Templates:   query.NewTemplateListQuery(s.cfg.Templates, s.scopeGuard),
	}
}
