package tenancy

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey string

const practiceKey ctxKey = "frontdesk.practice_id"

// WithPracticeID stores the practice id in context.
func WithPracticeID(ctx context.Context, practiceID uuid.UUID) context.Context {
	return context.WithValue(ctx, practiceKey, practiceID)
}

// PracticeIDFromContext extracts the practice id if present.
func PracticeIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	val := ctx.Value(practiceKey)
	if val == nil {
		return uuid.Nil, false
	}
	id, ok := val.(uuid.UUID)
	return id, ok && id != uuid.Nil
}
