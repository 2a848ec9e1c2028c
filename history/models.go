package history

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Record models the preference_history row. Rows are append-only; rollback
// appends a compensating entry instead of touching the original.
type Record struct {
	bun.BaseModel `bun:"table:preference_history"`

	ID               uuid.UUID `bun:"id,pk,type:uuid"`
	Actor            uuid.UUID `bun:"actor,type:uuid"`
	Scope            string    `bun:"scope"`
	SubjectID        uuid.UUID `bun:"subject_id,type:uuid"`
	Key              string    `bun:"key"`
	OldValue         string    `bun:"old_value"`
	NewValue         string    `bun:"new_value"`
	ChangeType       string    `bun:"change_type"`
	Reason           string    `bun:"reason"`
	BatchID          uuid.UUID `bun:"batch_id,type:uuid"`
	RevertedChangeID uuid.UUID `bun:"reverted_change_id,type:uuid"`
	OccurredAt       time.Time `bun:"occurred_at"`
}
