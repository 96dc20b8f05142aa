package ports

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateExcludingStaysInRangeAndAvoidsExclusions(t *testing.T) {
	excluded := map[int]bool{50000: true, 50001: true, 50002: true}
	for i := 0; i < 200; i++ {
		p, err := AllocateExcluding(49152, 65535, excluded)
		require.NoError(t, err)
		require.GreaterOrEqual(t, p, 49152)
		require.LessOrEqual(t, p, 65535)
		require.False(t, excluded[p])
	}
}

func TestAllocateExcludingExhausted(t *testing.T) {
	excluded := map[int]bool{}
	for p := 100; p <= 110; p++ {
		excluded[p] = true
	}
	_, err := AllocateExcluding(100, 110, excluded)
	require.Error(t, err)
}

func TestPoolNeverRepeats(t *testing.T) {
	pool := NewPool()
	seen := map[int]bool{}
	for i := 0; i < 500; i++ {
		p, err := pool.Allocate()
		require.NoError(t, err)
		require.False(t, seen[p], "port %d allocated twice", p)
		seen[p] = true
	}
}

func TestPoolReleaseAllowsReuse(t *testing.T) {
	pool := NewPool()
	p, err := pool.Allocate()
	require.NoError(t, err)
	pool.Release(p)
	require.False(t, pool.used[p])
}
