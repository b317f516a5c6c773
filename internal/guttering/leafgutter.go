package guttering

// LeafGutter accumulates the destinations queued for one source vertex.
// Its src is implied by the array index in GutteringSystem.leaves — the
// gutter itself only ever holds dst values.
//
// A leaf gutter is protected transitively by the GutteringSystem.l2Locks
// entry of the L2 bucket its source routes through, which also covers the
// L3 and RAM1 buckets above it; it carries no lock of its own, and there
// is no separate lock per L3 or RAM1 bucket.
type LeafGutter struct {
	dst []NodeId
	cap int
}

// newLeafGutter allocates a LeafGutter with room for capacity destinations.
func newLeafGutter(capacity int) LeafGutter {
	return LeafGutter{dst: make([]NodeId, 0, capacity), cap: capacity}
}

// Size returns the number of destinations currently queued.
func (l *LeafGutter) Size() int { return len(l.dst) }

// Capacity returns leaf_capacity = gutter_bytes / sizeof(NodeId).
func (l *LeafGutter) Capacity() int { return l.cap }

// Append queues dst and reports whether the leaf has reached capacity.
// Per spec §3, reaching capacity is mandatory grounds for handing the leaf
// to the work queue before any further destination is accepted.
func (l *LeafGutter) Append(dst NodeId) (full bool) {
	invariant(len(l.dst) < l.cap, "leaf gutter append at capacity %d", l.cap)
	l.dst = append(l.dst, dst)
	return len(l.dst) >= l.cap
}

// Destinations returns the queued destinations. The returned slice aliases
// the gutter's backing array and is only valid until the next Reset.
func (l *LeafGutter) Destinations() []NodeId { return l.dst }

// Reset empties the gutter. The backing array's capacity is preserved so
// the next fill cycle doesn't reallocate.
func (l *LeafGutter) Reset() { l.dst = l.dst[:0] }
