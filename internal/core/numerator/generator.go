package numerator

import (
	"context"
)

// Generator reserves sequential fiscal numbers.
// Implementations live in the infrastructure layer and obtain the tenant
// database from context (tenant.GetPool).
type Generator interface {
	// Reserve consumes the next number of (tenantID, family) atomically and returns it.
	// A non-empty series must match the counter's series.
	Reserve(ctx context.Context, tenantID string, family Family, series string) (Reservation, error)

	// SetNextNumber overrides the next number, e.g. after migrating from another system.
	// A value below the current counter fails with ErrNextNumberBelowCurrent.
	SetNextNumber(ctx context.Context, tenantID string, family Family, next int64) error

	// CheckGap compares an externally expected next number with the counter.
	CheckGap(ctx context.Context, tenantID string, family Family, expected int64) (GapReport, error)
}
