// Package guttering implements a multi-level cache-aware buffering
// hierarchy ("cache-guttering") over a bounded work queue. It turns a
// high-throughput, order-independent stream of (src, dst) edge updates
// into coarse, per-source-vertex batches suitable for bulk processing.
package guttering

// NodeId identifies a vertex. It is a typedef rather than a distinct type
// so arithmetic (shifts, comparisons) reads naturally at call sites.
type NodeId = uint32

// Update is a single directed edge update (src, dst). Both endpoints are
// bounded by the system's num_nodes.
type Update struct {
	Src NodeId
	Dst NodeId
}

// Batch is a (src, [dst...]) group produced by a leaf gutter flush. It is
// the payload carried across the WorkQueue boundary.
type Batch struct {
	Src NodeId
	Dst []NodeId
}

// bitsFor returns ceil(log2(n)) for n >= 1, matching the original's use of
// ceil(log2(num_buffers)) to size a router's shift amount.
func bitsFor(n uint32) uint {
	if n <= 1 {
		return 0
	}
	bits := uint(0)
	v := n - 1
	for v > 0 {
		bits++
		v >>= 1
	}
	return bits
}

func isPowerOfTwo(n uint32) bool {
	return n != 0 && n&(n-1) == 0
}
