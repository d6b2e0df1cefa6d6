package numerator

import (
	"context"
	"fmt"
	"sync"
)

// MockGenerator is a test implementation of Generator with overridable funcs.
type MockGenerator struct {
	ReserveFunc       func(ctx context.Context, tenantID string, family Family, series string) (Reservation, error)
	SetNextNumberFunc func(ctx context.Context, tenantID string, family Family, next int64) error
	CheckGapFunc      func(ctx context.Context, tenantID string, family Family, expected int64) (GapReport, error)
}

// Reserve implements Generator.
func (m *MockGenerator) Reserve(ctx context.Context, tenantID string, family Family, series string) (Reservation, error) {
	if m.ReserveFunc != nil {
		return m.ReserveFunc(ctx, tenantID, family, series)
	}
	return Reservation{Number: 1, Series: DefaultSeries}, nil
}

// SetNextNumber implements Generator.
func (m *MockGenerator) SetNextNumber(ctx context.Context, tenantID string, family Family, next int64) error {
	if m.SetNextNumberFunc != nil {
		return m.SetNextNumberFunc(ctx, tenantID, family, next)
	}
	return nil
}

// CheckGap implements Generator.
func (m *MockGenerator) CheckGap(ctx context.Context, tenantID string, family Family, expected int64) (GapReport, error) {
	if m.CheckGapFunc != nil {
		return m.CheckGapFunc(ctx, tenantID, family, expected)
	}
	return GapReport{Family: family, Expected: expected}, nil
}

// MemoryGenerator keeps counters in process memory. It gives services and the
// CLI dry-run mode the same semantics as the database counter.
type MemoryGenerator struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
}

type memoryCounter struct {
	next   int64
	series string
}

// NewMemoryGenerator creates an empty in-memory generator.
func NewMemoryGenerator() *MemoryGenerator {
	return &MemoryGenerator{counters: make(map[string]*memoryCounter)}
}

// Seed sets the counter state for (tenantID, family).
func (g *MemoryGenerator) Seed(tenantID string, family Family, series string, next int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counters[memoryKey(tenantID, family)] = &memoryCounter{next: next, series: series}
}

// Reserve implements Generator.
func (g *MemoryGenerator) Reserve(_ context.Context, tenantID string, family Family, series string) (Reservation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := memoryKey(tenantID, family)
	c, ok := g.counters[key]
	if !ok {
		if series == "" {
			series = DefaultSeries
		}
		c = &memoryCounter{next: 1, series: series}
		g.counters[key] = c
	}
	if series != "" && series != c.series {
		return Reservation{}, fmt.Errorf("%w: counter series %s, requested %s", ErrSeriesMismatch, c.series, series)
	}

	r := Reservation{Number: c.next, Series: c.series}
	c.next++
	return r, nil
}

// SetNextNumber implements Generator.
func (g *MemoryGenerator) SetNextNumber(_ context.Context, tenantID string, family Family, next int64) error {
	if next < 1 {
		return ErrInvalidNextNumber
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	key := memoryKey(tenantID, family)
	if c, ok := g.counters[key]; ok {
		if next < c.next {
			return fmt.Errorf("%w: counter at %d, requested %d", ErrNextNumberBelowCurrent, c.next, next)
		}
		c.next = next
		return nil
	}
	g.counters[key] = &memoryCounter{next: next, series: DefaultSeries}
	return nil
}

// CheckGap implements Generator.
func (g *MemoryGenerator) CheckGap(_ context.Context, tenantID string, family Family, expected int64) (GapReport, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	report := GapReport{Family: family, Series: DefaultSeries, Current: 1, Expected: expected}
	if c, ok := g.counters[memoryKey(tenantID, family)]; ok {
		report.Series = c.series
		report.Current = c.next
	}
	report.HasGap = expected > report.Current
	return report, nil
}

func memoryKey(tenantID string, family Family) string {
	return tenantID + "/" + string(family)
}

var (
	_ Generator = (*MockGenerator)(nil)
	_ Generator = (*MemoryGenerator)(nil)
)
