// Package genconf generates the synthetic update streams used by the
// gutterctl CLI and the system-level tests to exercise GutteringSystem
// end to end, without shipping a fixture file for inputs that can run
// into the hundreds of millions of updates.
package genconf

import "github.com/nodestream/guttering/internal/guttering"

// Scenario names the four streams named by spec.md §8.
type Scenario string

const (
	TinyComplement    Scenario = "tiny-complement"
	DeterministicKron Scenario = "kronecker"
	Contention        Scenario = "contention"
	FlushAndReinsert  Scenario = "flush-and-reinsert"
)

// Plan bundles a scenario's stream with the system shape it's meant to
// run against. Field values below reproduce spec.md §8's four numbered
// scenarios literally.
type Plan struct {
	Scenario    Scenario
	NumNodes    guttering.NodeId
	Inserters   int
	Workers     int
	QueueFactor uint32
	GutterExp   int32 // gutter_factor from spec §8: negative shrinks leaf capacity by 2^|exp|

	// Rounds is only meaningful for FlushAndReinsert: the number of
	// insert-then-force_flush cycles to run.
	Rounds int
	// PerRound is the update count per round (FlushAndReinsert), or the
	// total update count for every other scenario. Contention computes
	// its own count from the configured leaf capacity instead and
	// ignores this field.
	PerRound int
}

// Plans returns the four named scenarios from spec.md §8.
func Plans() map[Scenario]Plan {
	return map[Scenario]Plan{
		TinyComplement: {
			Scenario: TinyComplement, NumNodes: 10, Inserters: 1, Workers: 1,
			QueueFactor: 8, PerRound: 400,
		},
		DeterministicKron: {
			Scenario: DeterministicKron, NumNodes: 32768, Inserters: 10, Workers: 4,
			QueueFactor: 8, PerRound: 280_025_434,
		},
		Contention: {
			Scenario: Contention, NumNodes: 32, Inserters: 1, Workers: 5,
			QueueFactor: 1, GutterExp: -8,
		},
		FlushAndReinsert: {
			Scenario: FlushAndReinsert, NumNodes: 1024, Inserters: 1, Workers: 1,
			QueueFactor: 8, Rounds: 5, PerRound: 10_000,
		},
	}
}

// Stream is a pure, stateless indexer over one scenario's updates: At(j)
// depends only on j, so independent producer goroutines can each own a
// disjoint range of indices with no shared mutable state and no locking
// — the same division of labor spec §8's contention scenario expects
// from real concurrent inserters.
type Stream struct {
	base func(i int64) guttering.Update
	n    int64 // number of base updates, before doubling for swap
	swap bool  // scenario also emits the reverse edge for every base update
}

// NewStream builds the update generator for plan. leafCapacity is the
// system's configured leaf capacity, needed only by the Contention
// scenario to size its update count as 20*leaf_capacity.
func NewStream(plan Plan, leafCapacity int) *Stream {
	switch plan.Scenario {
	case TinyComplement:
		return &Stream{n: int64(plan.PerRound), base: func(i int64) guttering.Update {
			src := guttering.NodeId(i % 10)
			return guttering.Update{Src: src, Dst: (9 - src + 10) % 10}
		}}
	case DeterministicKron:
		const p = 100000007
		n := int64(plan.NumNodes)
		return &Stream{n: int64(plan.PerRound), swap: true, base: func(i int64) guttering.Update {
			src := guttering.NodeId((i * p) % n)
			dst := guttering.NodeId(n-1) - src
			return guttering.Update{Src: src, Dst: dst}
		}}
	case Contention:
		count := int64(20 * leafCapacity)
		numNodes := int64(plan.NumNodes)
		return &Stream{n: count, base: func(i int64) guttering.Update {
			return guttering.Update{Src: 0, Dst: guttering.NodeId(i % numNodes)}
		}}
	case FlushAndReinsert:
		numNodes := int64(plan.NumNodes)
		return &Stream{n: int64(plan.PerRound), base: func(i int64) guttering.Update {
			src := guttering.NodeId(i % numNodes)
			return guttering.Update{Src: src, Dst: (src + 1) % guttering.NodeId(numNodes)}
		}}
	default:
		panic("genconf: unknown scenario " + string(plan.Scenario))
	}
}

// Len returns the total number of updates this stream produces, counting
// both directions of a swap pair.
func (s *Stream) Len() int64 {
	if s.swap {
		return s.n * 2
	}
	return s.n
}

// At returns the j'th update in [0, Len()).
func (s *Stream) At(j int64) guttering.Update {
	if !s.swap {
		return s.base(j)
	}
	u := s.base(j / 2)
	if j%2 == 1 {
		return guttering.Update{Src: u.Dst, Dst: u.Src}
	}
	return u
}

// ShiftBytes applies a signed gutter_factor (spec §8) to a byte count:
// positive grows by 2^exp, negative shrinks by 2^|exp|, floored at 8
// bytes (room for one update).
func ShiftBytes(base uint64, exp int32) uint64 {
	if exp >= 0 {
		return base << uint(exp)
	}
	shifted := base >> uint(-exp)
	if shifted < 8 {
		shifted = 8
	}
	return shifted
}

// Partition splits [0, Len()) into at most n contiguous ranges of
// ceil(Len()/n) indices each (the last may be shorter) — one per producer
// goroutine a caller wants to run concurrently. A short stream yields
// fewer than n ranges.
func (s *Stream) Partition(n int) [][2]int64 {
	total := s.Len()
	if n < 1 {
		n = 1
	}
	chunk := (total + int64(n) - 1) / int64(n)
	ranges := make([][2]int64, 0, n)
	for start := int64(0); start < total; start += chunk {
		end := start + chunk
		if end > total {
			end = total
		}
		ranges = append(ranges, [2]int64{start, end})
	}
	return ranges
}
