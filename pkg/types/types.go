package types

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Tier identifies a level in the preference inheritance chain. Resolution
// walks system -> user -> project, with later tiers overriding earlier ones.
type Tier string

const (
	TierSystem  Tier = "system"
	TierUser    Tier = "user"
	TierProject Tier = "project"
)

// DataType constrains how a preference value is validated and stored.
type DataType string

const (
	DataTypeString    DataType = "string"
	DataTypeInt       DataType = "int"
	DataTypeFloat     DataType = "float"
	DataTypeBool      DataType = "bool"
	DataTypeJSON      DataType = "json"
	DataTypeEncrypted DataType = "encrypted"
)

// Constraints captures the optional validation rules attached to a system
// default. Zero-value fields are not enforced.
type Constraints struct {
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Enum    []string `json:"enum,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
}

// Empty reports whether no constraint is configured.
func (c Constraints) Empty() bool {
	return c.Min == nil && c.Max == nil && len(c.Enum) == 0 && c.Pattern == ""
}

// SystemDefault is the terminal tier for every preference key. A key without
// a system default cannot be resolved or written.
type SystemDefault struct {
	ID             uuid.UUID
	Key            string
	DefaultValue   any
	DataType       DataType
	Category       string
	Constraints    Constraints
	Sensitive      bool
	Version        int
	Deprecated     bool
	ReplacementKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	UpdatedBy      uuid.UUID
}

// PreferenceOrigin records how a user preference entered the store.
type PreferenceOrigin string

const (
	OriginManual    PreferenceOrigin = "manual"
	OriginTemplate  PreferenceOrigin = "template"
	OriginMigration PreferenceOrigin = "migration"
	OriginImport    PreferenceOrigin = "import"
)

// UserPreference is the user-tier entry for a key. Entries are deactivated
// rather than deleted so history linkage survives.
type UserPreference struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Key       string
	Value     any
	Active    bool
	Origin    PreferenceOrigin
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
	UpdatedBy uuid.UUID
}

// ApprovalState enumerates the override approval state machine.
type ApprovalState string

const (
	ApprovalProposed ApprovalState = "proposed"
	ApprovalApproved ApprovalState = "approved"
	ApprovalRejected ApprovalState = "rejected"
	ApprovalActive   ApprovalState = "active"
	ApprovalExpired  ApprovalState = "expired"
	ApprovalRevoked  ApprovalState = "revoked"
)

// Terminal reports whether the state admits no further transitions.
func (s ApprovalState) Terminal() bool {
	return s == ApprovalRejected || s == ApprovalExpired || s == ApprovalRevoked
}

// ProjectPreference is a project-tier override request/row. Rows are never
// hard-deleted; revocation and expiry are soft so the audit trail stays
// contiguous.
type ProjectPreference struct {
	ID             uuid.UUID
	ProjectID      uuid.UUID
	Key            string
	Value          any
	InheritsUser   bool
	ApprovalState  ApprovalState
	EffectiveFrom  *time.Time
	EffectiveUntil *time.Time
	Priority       int
	Reason         string
	RequestedBy    uuid.UUID
	DecidedBy      uuid.UUID
	DecidedAt      *time.Time
	Version        int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EffectiveState computes the state at the supplied instant. Expiry and the
// approved->active promotion are derived, never stored, so resolution cannot
// disagree with a lagging sweeper.
func (p ProjectPreference) EffectiveState(now time.Time) ApprovalState {
	switch p.ApprovalState {
	case ApprovalApproved, ApprovalActive:
		if p.EffectiveUntil != nil && !now.Before(*p.EffectiveUntil) {
			return ApprovalExpired
		}
		if p.EffectiveFrom != nil && now.Before(*p.EffectiveFrom) {
			return ApprovalApproved
		}
		return ApprovalActive
	default:
		return p.ApprovalState
	}
}

// Live reports whether the row can affect resolution at the supplied instant,
// ignoring the project toggle which the caller must check separately.
func (p ProjectPreference) Live(now time.Time) bool {
	return p.EffectiveState(now) == ApprovalActive
}

// OverrideToggle is the per-project master switch. Without the toggle (and
// the relevant category) enabled, project preference rows are inert.
type OverrideToggle struct {
	ProjectID  uuid.UUID
	Enabled    bool
	Categories []string
	Version    int
	UpdatedAt  time.Time
	UpdatedBy  uuid.UUID
}

// CategoryEnabled reports whether overrides for the category may go live.
func (t OverrideToggle) CategoryEnabled(category string) bool {
	if !t.Enabled {
		return false
	}
	category = strings.ToLower(strings.TrimSpace(category))
	for _, c := range t.Categories {
		if strings.ToLower(strings.TrimSpace(c)) == category {
			return true
		}
	}
	return false
}

// ChangeType classifies history entries.
type ChangeType string

const (
	ChangeCreate        ChangeType = "create"
	ChangeUpdate        ChangeType = "update"
	ChangeDelete        ChangeType = "delete"
	ChangeTemplateApply ChangeType = "template_apply"
	ChangeRollback      ChangeType = "rollback"
)

// ChangeRecord is one immutable history entry. SubjectID carries the user or
// project the change applies to; uuid.Nil for system-tier changes.
type ChangeRecord struct {
	ID               uuid.UUID
	Actor            uuid.UUID
	Scope            Tier
	SubjectID        uuid.UUID
	Key              string
	OldValue         any
	NewValue         any
	ChangeType       ChangeType
	Reason           string
	BatchID          uuid.UUID
	RevertedChangeID uuid.UUID
	OccurredAt       time.Time
}

// Template is a named bundle of preference values applied as one batch.
type Template struct {
	ID          uuid.UUID
	Name        string
	Category    string
	Preferences map[string]any
	Version     int
	CreatedAt   time.Time
	CreatedBy   uuid.UUID
}

// ConflictPolicy controls how template application treats existing target
// values.
type ConflictPolicy string

const (
	ConflictSkip      ConflictPolicy = "skip"
	ConflictOverwrite ConflictPolicy = "overwrite"
	ConflictMerge     ConflictPolicy = "merge"
)

// ApplyError identifies a key that failed during template application.
type ApplyError struct {
	Key     string
	Message string
}

// ApplyResult reports the outcome of a template application.
type ApplyResult struct {
	BatchID uuid.UUID
	Applied []string
	Skipped []string
	Errors  []ApplyError
}

// Resolution is the effective value for a key plus its source attribution.
type Resolution struct {
	Key      string
	Value    any
	Source   Tier
	DataType DataType
}

// ChangeEvent is emitted after every committed mutation so collaborators
// (dashboards, caches, other services) can react.
type ChangeEvent struct {
	Scope      Tier
	SubjectID  uuid.UUID
	Key        string
	OldValue   any
	NewValue   any
	ChangeType ChangeType
	ActorID    uuid.UUID
	OccurredAt time.Time
}

// OverrideEvent signals an approval state machine transition.
type OverrideEvent struct {
	OverrideID uuid.UUID
	ProjectID  uuid.UUID
	Key        string
	FromState  ApprovalState
	ToState    ApprovalState
	ActorID    uuid.UUID
	Reason     string
	OccurredAt time.Time
}

// TemplateEvent signals a completed template application.
type TemplateEvent struct {
	TemplateID uuid.UUID
	Scope      Tier
	SubjectID  uuid.UUID
	BatchID    uuid.UUID
	ActorID    uuid.UUID
	OccurredAt time.Time
}

// Hooks groups optional callbacks invoked after mutations commit. Callbacks
// run synchronously on the mutating goroutine; keep them cheap.
type Hooks struct {
	AfterChange             func(context.Context, ChangeEvent)
	AfterOverrideTransition func(context.Context, OverrideEvent)
	AfterTemplateApply      func(context.Context, TemplateEvent)
}

// DefaultsRepository stores system defaults, the terminal resolution tier.
type DefaultsRepository interface {
	GetDefault(ctx context.Context, key string) (*SystemDefault, error)
	ListDefaults(ctx context.Context, keys []string) ([]SystemDefault, error)
	UpsertDefault(ctx context.Context, def SystemDefault) (*SystemDefault, error)
}

// UserPreferenceRepository stores user-tier entries.
type UserPreferenceRepository interface {
	GetPreference(ctx context.Context, userID uuid.UUID, key string) (*UserPreference, error)
	ListPreferences(ctx context.Context, userID uuid.UUID, keys []string) ([]UserPreference, error)
	UpsertPreference(ctx context.Context, pref UserPreference) (*UserPreference, error)
	DeactivatePreference(ctx context.Context, userID uuid.UUID, key string, actor uuid.UUID) (*UserPreference, error)
}

// ProjectPreferenceRepository stores project-tier override rows. UpdateOverride
// is guarded by the row version; a stale version yields a conflict error.
type ProjectPreferenceRepository interface {
	GetOverride(ctx context.Context, id uuid.UUID) (*ProjectPreference, error)
	ListOverrides(ctx context.Context, projectID uuid.UUID, keys []string) ([]ProjectPreference, error)
	CreateOverride(ctx context.Context, pref ProjectPreference) (*ProjectPreference, error)
	UpdateOverride(ctx context.Context, pref ProjectPreference) (*ProjectPreference, error)
}

// OverrideToggleRepository stores the per-project override switches.
type OverrideToggleRepository interface {
	GetToggle(ctx context.Context, projectID uuid.UUID) (*OverrideToggle, error)
	UpsertToggle(ctx context.Context, toggle OverrideToggle) (*OverrideToggle, error)
}

// ChangeRecorder is the minimal contract mutating components depend on.
type ChangeRecorder interface {
	Record(ctx context.Context, change ChangeRecord) (*ChangeRecord, error)
}

// HistoryFilter narrows history queries.
type HistoryFilter struct {
	Scope     Tier
	SubjectID uuid.UUID
	Key       string
	BatchID   uuid.UUID
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Cursor    *HistoryCursor
}

// HistoryCursor restarts a paginated history scan.
type HistoryCursor struct {
	OccurredAt time.Time
	ID         uuid.UUID
}

// HistoryPage is one page of change records, newest first.
type HistoryPage struct {
	Records    []ChangeRecord
	NextCursor *HistoryCursor
	HasMore    bool
}

// HistoryRepository exposes the append-only change log.
type HistoryRepository interface {
	ChangeRecorder
	GetChange(ctx context.Context, id uuid.UUID) (*ChangeRecord, error)
	ListChanges(ctx context.Context, filter HistoryFilter) (HistoryPage, error)
	ListBatch(ctx context.Context, batchID uuid.UUID) ([]ChangeRecord, error)
	RevertOf(ctx context.Context, changeID uuid.UUID) (*ChangeRecord, error)
}

// TemplateRepository stores preference templates.
type TemplateRepository interface {
	GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error)
	CreateTemplate(ctx context.Context, tpl Template) (*Template, error)
	ListTemplates(ctx context.Context, category string) ([]Template, error)
}

// Clock abstracts time retrieval for deterministic testing.
type Clock interface {
	Now() time.Time
}

// IDGenerator abstracts UUID creation.
type IDGenerator interface {
	UUID() uuid.UUID
}

// Logger captures basic logging hooks used by the engine.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Error(msg string, err error, fields ...any)
}

// SystemClock defers to time.Now for production usage.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// UUIDGenerator produces UUIDv4 identifiers.
type UUIDGenerator struct{}

// UUID returns a randomly generated UUID.
func (UUIDGenerator) UUID() uuid.UUID { return uuid.New() }

// NopLogger discards all log lines.
type NopLogger struct{}

// Debug implements Logger.
func (NopLogger) Debug(string, ...any) {}

// Info implements Logger.
func (NopLogger) Info(string, ...any) {}

// Error implements Logger.
func (NopLogger) Error(string, error, ...any) {}

var (
	// ErrActorRequired indicates an actor reference was not supplied.
	ErrActorRequired = errors.New("go-preferences: actor reference required")
	// ErrUserIDRequired indicates a user identifier was omitted.
	ErrUserIDRequired = errors.New("go-preferences: user id required")
	// ErrProjectIDRequired indicates a project identifier was omitted.
	ErrProjectIDRequired = errors.New("go-preferences: project id required")
	// ErrKeyRequired indicates a preference key was missing.
	ErrKeyRequired = errors.New("go-preferences: preference key required")
	// ErrMissingDefaultsRepository occurs when no defaults repository was supplied.
	ErrMissingDefaultsRepository = errors.New("go-preferences: missing defaults repository")
	// ErrMissingPreferenceRepository occurs when user preference storage is absent.
	ErrMissingPreferenceRepository = errors.New("go-preferences: missing preference repository")
	// ErrMissingOverrideRepository occurs when project override storage is absent.
	ErrMissingOverrideRepository = errors.New("go-preferences: missing override repository")
	// ErrMissingToggleRepository occurs when the override toggle storage is absent.
	ErrMissingToggleRepository = errors.New("go-preferences: missing toggle repository")
	// ErrMissingHistoryRepository occurs when the change log storage is absent.
	ErrMissingHistoryRepository = errors.New("go-preferences: missing history repository")
	// ErrMissingTemplateRepository occurs when template storage is absent.
	ErrMissingTemplateRepository = errors.New("go-preferences: missing template repository")
	// ErrMissingResolver occurs when resolution queries lack a resolver.
	ErrMissingResolver = errors.New("go-preferences: missing resolver")
	// ErrMissingOverrideManager occurs when override commands lack a manager.
	ErrMissingOverrideManager = errors.New("go-preferences: missing override manager")
	// ErrMissingTemplateEngine occurs when template commands lack an engine.
	ErrMissingTemplateEngine = errors.New("go-preferences: missing template engine")
	// ErrMissingRollbacker occurs when rollback commands lack the rollback service.
	ErrMissingRollbacker = errors.New("go-preferences: missing rollbacker")
	// ErrServiceNotReady indicates the service facade is missing dependencies.
	ErrServiceNotReady = errors.New("go-preferences: service not ready")
)
