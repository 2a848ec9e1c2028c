package templates

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Record models the preference_templates row. The bundle itself is stored as
// a json document keyed by preference key.
type Record struct {
	bun.BaseModel `bun:"table:preference_templates"`

	ID          uuid.UUID `bun:"id,pk,type:uuid"`
	Name        string    `bun:"name"`
	Category    string    `bun:"category"`
	Preferences string    `bun:"preferences"`
	Version     int       `bun:"version"`
	CreatedAt   time.Time `bun:"created_at"`
	CreatedBy   uuid.UUID `bun:"created_by,type:uuid"`
}
