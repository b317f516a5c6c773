package guttering

// Router computes, for each level of the buffering hierarchy, which bucket
// a source vertex routes to. Every level's bucket is a pure right-shift of
// src, and the shift amounts are chosen so that a child level's bucket
// index contains the parent level's bucket index as its high bits —
// routing from level to level is then a further shift, never a
// recomputation from scratch.
//
// Grounded on the original CacheGuttering's extract_left_bits/l1_pos
// family (src/cache_guttering.cpp), generalized from that class's
// hardcoded buffer counts to arbitrary per-level counts.
type Router struct {
	numNodes NodeId

	l1Pos  uint
	l2Pos  uint
	l3Pos  uint
	ramPos uint

	hasRAM bool
}

// NewRouter builds a Router for num_nodes vertices given the number of
// buffers at each level. numRAMBufs is 0 when the RAM tier is absent.
// Every buffer count must be a power of two — callers are expected to
// validate this via Configuration before reaching here.
func NewRouter(numNodes NodeId, numL1Bufs, numL2Bufs, numL3Bufs, numRAMBufs uint32) *Router {
	total := bitsFor(numNodes)

	shiftFor := func(numBufs uint32) uint {
		bits := bitsFor(numBufs)
		if bits > total {
			return 0
		}
		return total - bits
	}

	r := &Router{
		numNodes: numNodes,
		l1Pos:    shiftFor(numL1Bufs),
		l2Pos:    shiftFor(numL2Bufs),
		l3Pos:    shiftFor(numL3Bufs),
	}
	if numRAMBufs > 0 {
		r.hasRAM = true
		r.ramPos = shiftFor(numRAMBufs)
	}
	return r
}

// L1 returns the L1 bucket index for src.
func (r *Router) L1(src NodeId) uint32 { return src >> r.l1Pos }

// L2 returns the L2 bucket index for src.
func (r *Router) L2(src NodeId) uint32 { return src >> r.l2Pos }

// L3 returns the L3 bucket index for src.
func (r *Router) L3(src NodeId) uint32 { return src >> r.l3Pos }

// RAM returns the RAM1 bucket index for src. Only meaningful when HasRAM()
// is true.
func (r *Router) RAM(src NodeId) uint32 { return src >> r.ramPos }

// HasRAM reports whether the RAM1 tier is present for this router.
func (r *Router) HasRAM() bool { return r.hasRAM }

// L2Of3 derives the parent L2 bucket from a child L3 bucket index, the
// inverse of the monotonicity invariant: bucket_3(src) >> (pos2 - pos3)
// == bucket_2(src). Used by the L3 lock assignment (one lock per L2
// index covers every L3 bucket that descends from it) and by tests that
// verify router consistency.
func (r *Router) L2Of3(l3Idx uint32) uint32 {
	return l3Idx >> (r.l2Pos - r.l3Pos)
}

// L3OfRAM derives the parent L3 bucket from a child RAM1 bucket index.
func (r *Router) L3OfRAM(ramIdx uint32) uint32 {
	return ramIdx >> (r.l3Pos - r.ramPos)
}

// Consistent reports whether bucket_(l+1) >> (posParent - posChild) ==
// bucket_l, the invariant required by spec §8. Exposed for tests.
func (r *Router) Consistent(src NodeId) bool {
	b1, b2, b3 := r.L1(src), r.L2(src), r.L3(src)
	if b2>>(r.l1Pos-r.l2Pos) != b1 {
		return false
	}
	if b3>>(r.l2Pos-r.l3Pos) != b2 {
		return false
	}
	if r.hasRAM {
		bR := r.RAM(src)
		if bR>>(r.l3Pos-r.ramPos) != b3 {
			return false
		}
	}
	return true
}
