package tenancy

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey string

const clinicKey ctxKey = "clinic_id"

// WithClinicID stores the tenant id in context.
func WithClinicID(ctx context.Context, clinicID uuid.UUID) context.Context {
	return context.WithValue(ctx, clinicKey, clinicID)
}

// ClinicIDFromContext extracts the tenant id if present.
func ClinicIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(clinicKey).(uuid.UUID)
	return id, ok && id != uuid.Nil
}
