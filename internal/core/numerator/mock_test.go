package numerator

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGenerator_NoDuplicatesUnderConcurrency(t *testing.T) {
	g := NewMemoryGenerator()
	g.Seed("T", FamilyNFe, "1", 41)

	seen := make(map[int64]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := g.Reserve(context.Background(), "T", FamilyNFe, "")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[r.Number], "duplicate %d", r.Number)
			seen[r.Number] = true
		}()
	}
	wg.Wait()

	for n := int64(41); n < 91; n++ {
		assert.True(t, seen[n], "missing %d", n)
	}
}

func TestMemoryGenerator_FamiliesAreIndependent(t *testing.T) {
	g := NewMemoryGenerator()
	ctx := context.Background()

	a, _ := g.Reserve(ctx, "T", FamilyNFe, "")
	b, _ := g.Reserve(ctx, "T", FamilyNFSe, "")
	assert.Equal(t, int64(1), a.Number)
	assert.Equal(t, int64(1), b.Number)

	_, err := g.Reserve(ctx, "T", FamilyNFe, "9")
	assert.ErrorIs(t, err, ErrSeriesMismatch)
}

func TestParseFamily(t *testing.T) {
	f, err := ParseFamily("nfse")
	require.NoError(t, err)
	assert.Equal(t, FamilyNFSe, f)

	_, err = ParseFamily("cte")
	assert.Error(t, err)
}

func TestMemoryGenerator_SetNextNumberNeverMovesBackwards(t *testing.T) {
	g := NewMemoryGenerator()
	g.Seed("T", FamilyNFe, "1", 41)
	ctx := context.Background()

	for _, want := range []int64{41, 42} {
		r, err := g.Reserve(ctx, "T", FamilyNFe, "")
		require.NoError(t, err)
		assert.Equal(t, want, r.Number)
	}

	assert.ErrorIs(t, g.SetNextNumber(ctx, "T", FamilyNFe, 41), ErrNextNumberBelowCurrent)
	r, err := g.Reserve(ctx, "T", FamilyNFe, "")
	require.NoError(t, err)
	assert.Equal(t, int64(43), r.Number)

	require.NoError(t, g.SetNextNumber(ctx, "T", FamilyNFe, 44))
	require.NoError(t, g.SetNextNumber(ctx, "T", FamilyNFe, 60))
	r, err = g.Reserve(ctx, "T", FamilyNFe, "")
	require.NoError(t, err)
	assert.Equal(t, int64(60), r.Number)
}
