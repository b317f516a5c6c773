package guttering

// InserterState holds the L1/L2 buffers for exactly one producer
// goroutine, identified by a stable, caller-supplied thread index (spec
// §3: "Producer threads register implicitly by passing a stable
// thread_index ... no dynamic registration").
//
// It carries a plain (non-owning) pointer back to the shared system for
// the duration of each drain, never a back-reference chain — the cyclic
// ownership the original source has between its InsertThread and its
// enclosing CacheGuttering is resolved by construction order instead:
// the system builds every InserterState after it has built every shared
// buffer, and the pointer is never reassigned.
type InserterState struct {
	sys *GutteringSystem
	idx int

	l1 []CacheGutter
	l2 []CacheGutter
}

func newInserterState(sys *GutteringSystem, idx int) *InserterState {
	cap_ := sys.cfg.CacheGutterCapacity()

	l1 := make([]CacheGutter, sys.cfg.NumL1Bufs)
	for i := range l1 {
		l1[i] = newCacheGutter(cap_)
	}
	l2 := make([]CacheGutter, sys.cfg.NumL2Bufs)
	for i := range l2 {
		l2[i] = newCacheGutter(cap_)
	}

	return &InserterState{sys: sys, idx: idx, l1: l1, l2: l2}
}

// insert appends upd to the thread-local L1 gutter at router.L1(src),
// cascading down through L2 (and, synchronously, L3/RAM1/leaves) when a
// buffer fills. Matches spec §4.2.3's insert protocol exactly.
func (t *InserterState) insert(upd Update) error {
	idx1 := t.sys.router.L1(upd.Src)
	if t.l1[idx1].Append(upd) {
		return t.flushL1(idx1)
	}
	return nil
}

// flushL1 drains L1[idx1] into this thread's L2 buffers. No lock is held —
// L1 and L2 are exclusive to this goroutine.
func (t *InserterState) flushL1(idx1 uint32) error {
	g := &t.l1[idx1]
	data := g.Elements()
	for i, u := range data {
		idx2 := t.sys.router.L2(u.Src)
		if t.l2[idx2].Append(u) {
			if err := t.flushL2(idx2); err != nil {
				compact(g, data, i+1)
				return err
			}
		}
	}
	g.Reset()
	return nil
}

// flushL2 drains L2[idx2] into the shared L3 tier, under the lock that
// covers idx2's entire L3 (and RAM1) subtree. Per spec §4.2.3, the L3
// lock is acquired once for the whole L2→L3 drain, not once per L3
// bucket touched — every L3 bucket reachable from this L2 bucket belongs
// to it exclusively (router.L2Of3 is a pure function of idx3), so one
// lock is sufficient to serialize every producer that could otherwise
// race on any of those L3 buckets or the RAM1/leaf buckets beneath them.
func (t *InserterState) flushL2(idx2 uint32) error {
	sys := t.sys
	sys.l2Locks[idx2].Lock()
	defer sys.l2Locks[idx2].Unlock()

	g := &t.l2[idx2]
	data := g.Elements()
	for i, u := range data {
		idx3 := sys.router.L3(u.Src)
		invariant(sys.router.L2Of3(idx3) == idx2, "l3 bucket %d is not a child of l2 bucket %d", idx3, idx2)
		if sys.l3Buckets[idx3].Append(u) {
			if err := sys.drainL3(idx3); err != nil {
				compact(g, data, i+1)
				return err
			}
		}
	}
	g.Reset()
	return nil
}

// compact removes the first n already-drained elements from g, sliding
// the remainder to the front, so a caller that aborts a drain partway
// through (on work-queue backpressure) neither loses nor re-delivers any
// update on the next attempt.
func compact(g *CacheGutter, snapshot []Update, n int) {
	remaining := copy(g.data, snapshot[n:])
	g.size = remaining
}

// flushAll drains every L1 then every L2 buffer owned by this thread.
// Called by GutteringSystem.ForceFlush, once per inserter, in parallel
// across inserter goroutines — matches spec §4.2.4 step 1.
func (t *InserterState) flushAll() error {
	for i := range t.l1 {
		if err := t.flushL1(uint32(i)); err != nil {
			return err
		}
	}
	for i := range t.l2 {
		if err := t.flushL2(uint32(i)); err != nil {
			return err
		}
	}
	return nil
}
