package guttering

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// startDrain starts a consumer goroutine that releases every batch sys
// produces and records its destinations per source. It must be running
// before ForceFlush: a flush that ships more batches than the queue has
// slots blocks in Push until a consumer releases one. The returned function
// switches the queue to non-blocking mode, waits for the consumer to empty
// it, and returns what the consumer observed.
func startDrain(t *testing.T, sys *GutteringSystem) func() map[NodeId][]NodeId {
	t.Helper()
	out := map[NodeId][]NodeId{}
	errc := make(chan error, 1)
	go func() {
		for {
			h, err := sys.GetData()
			if err != nil {
				errc <- err
				return
			}
			out[h.Src] = append(out[h.Src], h.Dst...)
			h.Release()
		}
	}()

	return func() map[NodeId][]NodeId {
		t.Helper()
		sys.SetNonBlock(true)
		defer sys.SetNonBlock(false)
		require.ErrorIs(t, <-errc, ErrNoData)
		return out
	}
}

func TestForceFlushMultisetEquality(t *testing.T) {
	sys := NewGutteringSystem(16, 2, 2, DefaultConfiguration().WithGutterBytes(64))
	collect := startDrain(t, sys)

	want := map[NodeId][]NodeId{}
	for i := 0; i < 1000; i++ {
		src := NodeId(i % 16)
		dst := NodeId((i * 7) % 16)
		require.NoError(t, sys.InsertThread(Update{Src: src, Dst: dst}, i%2))
		want[src] = append(want[src], dst)
	}
	require.NoError(t, sys.ForceFlush())

	got := collect()
	for src, wantDst := range want {
		sort.Slice(wantDst, func(i, j int) bool { return wantDst[i] < wantDst[j] })
		gotDst := append([]NodeId(nil), got[src]...)
		sort.Slice(gotDst, func(i, j int) bool { return gotDst[i] < gotDst[j] })
		require.Equal(t, wantDst, gotDst, "source %d", src)
	}
}

func TestSingleInserterPreservesPerSourceOrder(t *testing.T) {
	sys := NewGutteringSystem(4, 1, 1, DefaultConfiguration().WithGutterBytes(32))
	collect := startDrain(t, sys)

	var want []NodeId
	for i := 0; i < 500; i++ {
		dst := NodeId(i % 997)
		require.NoError(t, sys.Insert(Update{Src: 0, Dst: dst}))
		want = append(want, dst)
	}
	require.NoError(t, sys.ForceFlush())

	got := collect()
	require.Equal(t, want, got[0])
}

func TestDoubleForceFlushIsIdempotent(t *testing.T) {
	sys := NewGutteringSystem(8, 1, 1, nil)
	collect := startDrain(t, sys)
	require.NoError(t, sys.Insert(Update{Src: 1, Dst: 2}))
	require.NoError(t, sys.ForceFlush())
	require.NoError(t, sys.ForceFlush())

	got := collect()
	require.Equal(t, []NodeId{2}, got[1])
}

func TestOutstandingNeverExceedsQueueCapacity(t *testing.T) {
	cfg := DefaultConfiguration().WithGutterBytes(16).WithQueueFactor(2)
	sys := NewGutteringSystem(64, 2, 4, cfg)
	collect := startDrain(t, sys)

	var wg sync.WaitGroup
	for t_ := 0; t_ < 4; t_++ {
		wg.Add(1)
		go func(thread int) {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				_ = sys.InsertThread(Update{Src: NodeId((i*31 + thread) % 64), Dst: NodeId(i % 64)}, thread)
			}
		}(t_)
	}
	wg.Wait()
	require.NoError(t, sys.ForceFlush())
	require.LessOrEqual(t, sys.wq.Outstanding(), sys.wq.Capacity())
	collect()
}

func TestSetNonBlockRoundTrip(t *testing.T) {
	sys := NewGutteringSystem(4, 1, 1, nil)
	sys.SetNonBlock(true)
	_, err := sys.GetData()
	require.ErrorIs(t, err, ErrNoData)
	sys.SetNonBlock(false)
}

func smallTreeConfig() *Configuration {
	return &Configuration{
		NumL1Bufs: 2, NumL2Bufs: 4, NumL3Bufs: 4, TreeFanout: 2,
		GutterBytes: 16, CacheGutterElemBytes: 64,
	}
}

func TestRAMTierActivatesAboveThreshold(t *testing.T) {
	cfg := smallTreeConfig()
	maxRAM := NodeId(cfg.NumL3Bufs * cfg.TreeFanout)

	below := NewGutteringSystem(maxRAM, 1, 1, cfg)
	require.False(t, below.router.HasRAM())

	above := NewGutteringSystem(maxRAM+1, 1, 1, smallTreeConfig())
	require.True(t, above.router.HasRAM())
}
