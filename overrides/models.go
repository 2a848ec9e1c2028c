package overrides

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Record models the project_preferences row.
type Record struct {
	bun.BaseModel `bun:"table:project_preferences"`

	ID             uuid.UUID  `bun:"id,pk,type:uuid"`
	ProjectID      uuid.UUID  `bun:"project_id,type:uuid"`
	Key            string     `bun:"key"`
	Value          string     `bun:"value"`
	InheritsUser   bool       `bun:"inherits_user"`
	ApprovalState  string     `bun:"approval_state"`
	EffectiveFrom  *time.Time `bun:"effective_from"`
	EffectiveUntil *time.Time `bun:"effective_until"`
	Priority       int        `bun:"priority"`
	Reason         string     `bun:"reason"`
	RequestedBy    uuid.UUID  `bun:"requested_by,type:uuid"`
	DecidedBy      uuid.UUID  `bun:"decided_by,type:uuid"`
	DecidedAt      *time.Time `bun:"decided_at"`
	Version        int        `bun:"version"`
	CreatedAt      time.Time  `bun:"created_at"`
	UpdatedAt      time.Time  `bun:"updated_at"`
}

// ToggleRecord models the project_override_toggles row; one row per project.
type ToggleRecord struct {
	bun.BaseModel `bun:"table:project_override_toggles"`

	ProjectID  uuid.UUID `bun:"project_id,pk,type:uuid"`
	Enabled    bool      `bun:"enabled"`
	Categories string    `bun:"categories"`
	Version    int       `bun:"version"`
	UpdatedAt  time.Time `bun:"updated_at"`
	UpdatedBy  uuid.UUID `bun:"updated_by,type:uuid"`
}
