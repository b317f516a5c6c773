package genconf

import (
	"sort"
	"testing"

	"github.com/nodestream/guttering/internal/guttering"
	"github.com/stretchr/testify/require"
)

// startDrain starts a consumer goroutine that releases every batch sys
// produces and records its destinations per source. It must be running
// before ForceFlush: a flush that ships more batches than the queue has
// slots blocks in Push until a consumer releases one. The returned function
// switches the queue to non-blocking mode, waits for the consumer to empty
// it, and returns what the consumer observed.
func startDrain(t *testing.T, sys *guttering.GutteringSystem) func() map[guttering.NodeId][]guttering.NodeId {
	t.Helper()
	out := map[guttering.NodeId][]guttering.NodeId{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			h, err := sys.GetData()
			if err != nil {
				return
			}
			out[h.Src] = append(out[h.Src], h.Dst...)
			h.Release()
		}
	}()

	return func() map[guttering.NodeId][]guttering.NodeId {
		sys.SetNonBlock(true)
		defer sys.SetNonBlock(false)
		<-done
		return out
	}
}

// TestTinyComplementScenario runs spec §8 scenario 1 exactly as specified:
// after force_flush, every source in [0,9] has exactly 40 destinations,
// all equal to 9-src.
func TestTinyComplementScenario(t *testing.T) {
	plan := Plans()[TinyComplement]
	cfg := guttering.DefaultConfiguration().WithQueueFactor(plan.QueueFactor)
	sys := guttering.NewGutteringSystem(plan.NumNodes, plan.Workers, plan.Inserters, cfg)
	stream := NewStream(plan, cfg.LeafCapacity())
	collect := startDrain(t, sys)

	for j := int64(0); j < stream.Len(); j++ {
		u := stream.At(j)
		require.NoError(t, sys.Insert(u))
	}
	require.NoError(t, sys.ForceFlush())

	got := collect()
	for src := guttering.NodeId(0); src < 10; src++ {
		require.Len(t, got[src], 40, "source %d", src)
		for _, dst := range got[src] {
			require.EqualValues(t, 9-src, dst)
		}
	}
}

// TestContentionScenario runs spec §8 scenario 3: tiny leaves, a single
// hot source, and one consumer goroutine draining the queue while the
// inserts and the force_flush run. The assertion is the
// property spec asks for — no deadlock (the test completing at all
// proves that), no loss, and exactly 20 batches for source 0.
func TestContentionScenario(t *testing.T) {
	plan := Plans()[Contention]
	cfg := guttering.DefaultConfiguration().WithQueueFactor(plan.QueueFactor)
	cfg.GutterBytes = ShiftBytes(cfg.GutterBytes, plan.GutterExp)
	sys := guttering.NewGutteringSystem(plan.NumNodes, plan.Workers, plan.Inserters, cfg)
	stream := NewStream(plan, cfg.LeafCapacity())
	require.EqualValues(t, 20*cfg.LeafCapacity(), stream.Len())

	var batches int
	var destinations int
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			h, err := sys.GetData()
			if err != nil {
				return
			}
			batches++
			destinations += len(h.Dst)
			h.Release()
		}
	}()

	for j := int64(0); j < stream.Len(); j++ {
		require.NoError(t, sys.Insert(stream.At(j)))
	}
	require.NoError(t, sys.ForceFlush())
	sys.SetNonBlock(true)
	<-done

	require.Equal(t, 20, batches)
	require.Equal(t, int(stream.Len()), destinations)
}

// TestFlushAndReinsertScenario runs spec §8 scenario 4: five rounds of
// 10,000 inserts followed by force_flush, each round fully drained
// before the next begins.
func TestFlushAndReinsertScenario(t *testing.T) {
	plan := Plans()[FlushAndReinsert]
	cfg := guttering.DefaultConfiguration().WithQueueFactor(plan.QueueFactor)
	sys := guttering.NewGutteringSystem(plan.NumNodes, plan.Workers, plan.Inserters, cfg)

	var totalDestinations int
	for round := 0; round < plan.Rounds; round++ {
		stream := NewStream(plan, cfg.LeafCapacity())
		collect := startDrain(t, sys)
		for j := int64(0); j < stream.Len(); j++ {
			require.NoError(t, sys.Insert(stream.At(j)))
		}
		require.NoError(t, sys.ForceFlush())

		got := collect()
		for _, dsts := range got {
			totalDestinations += len(dsts)
		}
	}
	require.Equal(t, plan.Rounds*plan.PerRound, totalDestinations)
}

// TestDeterministicKroneckerScenarioScaledDown exercises the same
// generator spec §8 scenario 2 names, at a size a unit test can run in
// milliseconds instead of the literal 280,025,434-update count (which
// `gutterctl run --scenario kronecker` drives at full scale). The
// invariant under test — every source's observed destination multiset
// equals its insertion multiset — doesn't depend on the update count.
func TestDeterministicKroneckerScenarioScaledDown(t *testing.T) {
	plan := Plans()[DeterministicKron]
	plan.NumNodes = 256
	plan.PerRound = 20_000
	cfg := guttering.DefaultConfiguration().WithQueueFactor(plan.QueueFactor)
	sys := guttering.NewGutteringSystem(plan.NumNodes, plan.Workers, plan.Inserters, cfg)
	stream := NewStream(plan, cfg.LeafCapacity())
	collect := startDrain(t, sys)

	want := map[guttering.NodeId][]guttering.NodeId{}
	ranges := stream.Partition(plan.Inserters)
	for idx, r := range ranges {
		for j := r[0]; j < r[1]; j++ {
			u := stream.At(j)
			require.NoError(t, sys.InsertThread(u, idx))
			want[u.Src] = append(want[u.Src], u.Dst)
		}
	}
	require.NoError(t, sys.ForceFlush())

	got := collect()
	total := 0
	for src, wantDst := range want {
		sort.Slice(wantDst, func(i, j int) bool { return wantDst[i] < wantDst[j] })
		gotDst := append([]guttering.NodeId(nil), got[src]...)
		sort.Slice(gotDst, func(i, j int) bool { return gotDst[i] < gotDst[j] })
		require.Equal(t, wantDst, gotDst, "source %d", src)
		total += len(gotDst)
	}
	require.EqualValues(t, stream.Len(), total)
}
