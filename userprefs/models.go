package userprefs

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Record models the user_preferences row.
type Record struct {
	bun.BaseModel `bun:"table:user_preferences"`

	ID        uuid.UUID `bun:"id,pk,type:uuid"`
	UserID    uuid.UUID `bun:"user_id,type:uuid"`
	Key       string    `bun:"key"`
	Value     string    `bun:"value"`
	Active    bool      `bun:"active"`
	Origin    string    `bun:"origin"`
	Version   int       `bun:"version"`
	CreatedAt time.Time `bun:"created_at"`
	UpdatedAt time.Time `bun:"updated_at"`
	UpdatedBy uuid.UUID `bun:"updated_by,type:uuid"`
}
