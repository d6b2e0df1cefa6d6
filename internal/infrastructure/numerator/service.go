// Package numerator implements fiscal numbering counters on PostgreSQL.
// It satisfies core/numerator.Generator.
package numerator

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	corenumerator "fiscalhub/internal/core/numerator"
	"fiscalhub/internal/core/tenant"
)

// Querier is the subset of pgx used by the service.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Service reserves numbers from the numbering_counters table.
//
// Reservation is one UPSERT ... RETURNING statement: the row lock is held only
// for the increment and the pre-increment value is returned. A rollback of the
// caller's document transaction leaves a gap, never a duplicate.
type Service struct {
	staticQuerier Querier
	useContext    bool
}

var _ corenumerator.Generator = (*Service)(nil)

// New creates a service bound to one querier. Used by tests and the CLI.
func New(querier Querier) *Service {
	return &Service{staticQuerier: querier}
}

// NewFromContext creates a service that uses the tenant pool stored in context.
func NewFromContext() *Service {
	return &Service{useContext: true}
}

// getQuerier returns the pool, not a transaction: reservations commit on their
// own, outside the document transaction.
func (s *Service) getQuerier(ctx context.Context) Querier {
	if s.useContext {
		return tenant.MustGetPool(ctx)
	}
	return s.staticQuerier
}

const reserveSQL = `
	INSERT INTO numbering_counters (tenant_id, family, series, next_number, updated_at)
	VALUES ($1, $2, $3, 2, now())
	ON CONFLICT (tenant_id, family) DO UPDATE
	SET next_number = numbering_counters.next_number + 1,
	    updated_at  = now()
	WHERE $4 = '' OR numbering_counters.series = $4
	RETURNING next_number - 1, series`

// Reserve implements Generator.
func (s *Service) Reserve(ctx context.Context, tenantID string, family corenumerator.Family, series string) (corenumerator.Reservation, error) {
	if !family.Valid() {
		return corenumerator.Reservation{}, fmt.Errorf("reserve: unknown family %q", family)
	}
	seed := series
	if seed == "" {
		seed = corenumerator.DefaultSeries
	}

	var r corenumerator.Reservation
	err := s.getQuerier(ctx).QueryRow(ctx, reserveSQL, tenantID, string(family), seed, series).Scan(&r.Number, &r.Series)
	if err != nil {
		// The conditional DO UPDATE skipped the row: the counter uses another series.
		if errors.Is(err, pgx.ErrNoRows) {
			return corenumerator.Reservation{}, fmt.Errorf("%w: requested %s", corenumerator.ErrSeriesMismatch, series)
		}
		return corenumerator.Reservation{}, fmt.Errorf("reserve %s number: %w", family, err)
	}
	return r, nil
}

const setNextSQL = `
	INSERT INTO numbering_counters (tenant_id, family, series, next_number, updated_at)
	VALUES ($1, $2, $3, $4, now())
	ON CONFLICT (tenant_id, family) DO UPDATE
	SET next_number = EXCLUDED.next_number,
	    updated_at  = now()
	WHERE numbering_counters.next_number <= EXCLUDED.next_number
	RETURNING next_number`

// SetNextNumber implements Generator. The counter only moves forward.
func (s *Service) SetNextNumber(ctx context.Context, tenantID string, family corenumerator.Family, next int64) error {
	if next < 1 {
		return corenumerator.ErrInvalidNextNumber
	}
	if !family.Valid() {
		return fmt.Errorf("set next number: unknown family %q", family)
	}
	var stored int64
	err := s.getQuerier(ctx).QueryRow(ctx, setNextSQL, tenantID, string(family), corenumerator.DefaultSeries, next).Scan(&stored)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: requested %d", corenumerator.ErrNextNumberBelowCurrent, next)
		}
		return fmt.Errorf("set next %s number: %w", family, err)
	}
	return nil
}

// CheckGap implements Generator. A missing counter reads as next=1.
func (s *Service) CheckGap(ctx context.Context, tenantID string, family corenumerator.Family, expected int64) (corenumerator.GapReport, error) {
	report := corenumerator.GapReport{
		Family:   family,
		Series:   corenumerator.DefaultSeries,
		Current:  1,
		Expected: expected,
	}

	err := s.getQuerier(ctx).QueryRow(ctx,
		`SELECT next_number, series FROM numbering_counters WHERE tenant_id = $1 AND family = $2`,
		tenantID, string(family),
	).Scan(&report.Current, &report.Series)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return corenumerator.GapReport{}, fmt.Errorf("check %s gap: %w", family, err)
	}

	report.HasGap = expected > report.Current
	return report, nil
}
