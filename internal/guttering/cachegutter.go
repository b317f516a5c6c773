package guttering

// CacheGutter is a fixed-capacity buffer of (src,dst) pairs. Its capacity
// is chosen so the buffer fits a targeted number of cache lines; it never
// grows past that capacity — every backing array is allocated once, at
// construction, and reused for the life of the system (spec §5: "the
// steady-state insert path performs no heap allocation").
//
// The same type backs L1, L2, L3, and RAM1 tiers; only the capacity and
// the locking discipline around it differ between levels.
type CacheGutter struct {
	data []Update
	size int
}

// newCacheGutter allocates a CacheGutter with room for capacity updates.
func newCacheGutter(capacity int) CacheGutter {
	return CacheGutter{data: make([]Update, capacity)}
}

// Cap returns the gutter's fixed capacity.
func (g *CacheGutter) Cap() int { return len(g.data) }

// Size returns the number of updates currently buffered.
func (g *CacheGutter) Size() int { return g.size }

// Append adds upd to the gutter and reports whether the gutter is now at
// capacity. It is the caller's responsibility to drain the gutter (and
// call Reset) before appending again once full is true — Append itself
// never drops data, but a second Append past capacity is an invariant
// violation, not a silent truncation.
func (g *CacheGutter) Append(upd Update) (full bool) {
	invariant(g.size < len(g.data), "cache gutter append at capacity %d", len(g.data))
	g.data[g.size] = upd
	g.size++
	return g.size >= len(g.data)
}

// Elements returns the updates currently buffered. The returned slice
// aliases the gutter's backing array and is only valid until the next
// Reset.
func (g *CacheGutter) Elements() []Update { return g.data[:g.size] }

// Reset empties the gutter without releasing its backing array.
func (g *CacheGutter) Reset() { g.size = 0 }
