package defaults

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Record models the system_defaults row.
type Record struct {
	bun.BaseModel `bun:"table:system_defaults"`

	ID             uuid.UUID `bun:"id,pk,type:uuid"`
	Key            string    `bun:"key"`
	DefaultValue   string    `bun:"default_value"`
	DataType       string    `bun:"data_type"`
	Category       string    `bun:"category"`
	Constraints    string    `bun:"constraints"`
	Sensitive      bool      `bun:"sensitive"`
	Version        int       `bun:"version"`
	Deprecated     bool      `bun:"deprecated"`
	ReplacementKey string    `bun:"replacement_key"`
	CreatedAt      time.Time `bun:"created_at"`
	UpdatedAt      time.Time `bun:"updated_at"`
	UpdatedBy      uuid.UUID `bun:"updated_by,type:uuid"`
}
