package genconf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTinyComplementStream(t *testing.T) {
	plan := Plans()[TinyComplement]
	s := NewStream(plan, 0)
	require.Equal(t, int64(400), s.Len())

	for j := int64(0); j < s.Len(); j++ {
		u := s.At(j)
		require.EqualValues(t, j%10, u.Src)
		require.EqualValues(t, (9-j%10+10)%10, u.Dst)
	}
}

func TestKroneckerStreamEmitsSwapPairs(t *testing.T) {
	plan := Plans()[DeterministicKron]
	plan.PerRound = 3 // keep the test fast; production plan uses the full count
	s := NewStream(plan, 0)
	require.Equal(t, int64(6), s.Len())

	for j := int64(0); j < s.Len(); j += 2 {
		fwd := s.At(j)
		rev := s.At(j + 1)
		require.Equal(t, fwd.Src, rev.Dst)
		require.Equal(t, fwd.Dst, rev.Src)
	}
}

func TestContentionStreamSizedFromLeafCapacity(t *testing.T) {
	plan := Plans()[Contention]
	s := NewStream(plan, 10)
	require.Equal(t, int64(200), s.Len())
	for j := int64(0); j < s.Len(); j++ {
		require.EqualValues(t, 0, s.At(j).Src)
	}
}

func TestPartitionCoversEveryIndexExactlyOnce(t *testing.T) {
	plan := Plans()[FlushAndReinsert]
	s := NewStream(plan, 0)
	ranges := s.Partition(3)

	seen := make([]bool, s.Len())
	for _, r := range ranges {
		for j := r[0]; j < r[1]; j++ {
			require.False(t, seen[j])
			seen[j] = true
		}
	}
	for _, ok := range seen {
		require.True(t, ok)
	}
}
