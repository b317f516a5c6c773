package guttering

import (
	"sync"

	"github.com/RoaringBitmap/roaring"
)

// System is the external interface every buffering backend implements.
// Grounded on the original's abstract GutteringSystem base class
// (src/guttering_system.h) and on the teacher's graph.Graph interface
// (internal/graph/graph.go), which separates the storage contract from
// any one concrete implementation the same way.
type System interface {
	// Insert buffers upd on behalf of inserter thread 0.
	Insert(upd Update) error
	// InsertThread buffers upd on behalf of the given inserter thread.
	// threadIdx must be in [0, Inserters()).
	InsertThread(upd Update, threadIdx int) error
	// ForceFlush pushes every buffered update down to the work queue,
	// blocking until every tier is empty. The caller must not be in
	// non-blocking mode while this runs (see SetNonBlock).
	ForceFlush() error
	// GetData blocks until a batch is available and returns a Handle for
	// it. The caller must call Handle.Release when done with it.
	GetData() (Handle, error)
	// GetDataBatched opportunistically collects up to maxBatches Handles:
	// it blocks for the first one, then grabs any more that are
	// immediately available without waiting.
	GetDataBatched(maxBatches int) ([]Handle, error)
	// SetNonBlock toggles non-blocking mode on the underlying work queue.
	SetNonBlock(on bool)
}

// GutteringSystem is the cache-aware multi-level buffering hierarchy
// described in spec §4.2: thread-local L1/L2 gutters feeding a shared,
// per-bucket-locked L3 tier, an optional RAM1 tier, and per-vertex leaf
// gutters that hand full batches to a bounded WorkQueue.
//
// Grounded on the original CacheGuttering (src/cache_guttering.cpp),
// generalized to configurable buffer counts and numbers of inserters and
// workers instead of that class's fixed constants.
type GutteringSystem struct {
	numNodes NodeId
	workers  int
	cfg      *Configuration
	router   *Router

	// l2Locks[idx2] serializes every producer draining into the L3 (and,
	// when present, RAM1) subtree rooted at L2 bucket idx2. See
	// InserterState.flushL2 for why one lock per L2 index is enough.
	l2Locks   []sync.Mutex
	l3Buckets []CacheGutter

	useRAM     bool
	ramBuckets []CacheGutter

	leaves []LeafGutter

	// dirtyLeaves is a roaring-bitmap index of which leaves currently
	// hold data, so ForceFlush can visit only the dirty leaves (O(k))
	// instead of scanning every one of numNodes leaves (O(n)). Grounded
	// on the teacher's graph.Graph.fileToNodes, which uses the same
	// library for the same reason: a sparse, iterable set over a large
	// dense index space.
	dirtyMu     sync.Mutex
	dirtyLeaves *roaring.Bitmap

	states []*InserterState

	wq *WorkQueue
}

var _ System = (*GutteringSystem)(nil)

// NewGutteringSystem builds a buffering hierarchy sized for numNodes
// vertices, inserters producer threads, and workers consumer threads. A
// nil cfg uses DefaultConfiguration.
func NewGutteringSystem(numNodes NodeId, workers, inserters int, cfg *Configuration) *GutteringSystem {
	invariant(numNodes > 0, "num_nodes must be positive")
	invariant(workers > 0, "workers must be positive")
	invariant(inserters > 0, "inserters must be positive")

	if cfg == nil {
		cfg = DefaultConfiguration()
	} else {
		cfg.setDefaults()
		cfg.validateTreeShape()
	}

	maxRAMBufs := cfg.NumL3Bufs * cfg.TreeFanout
	useRAM := numNodes > NodeId(maxRAMBufs)

	var ramBuckets []CacheGutter
	var numRAMBufs uint32
	if useRAM {
		numRAMBufs = maxRAMBufs
		ramFanout := (uint32(numNodes) + maxRAMBufs - 1) / maxRAMBufs // ceil
		ramCap := int(ramFanout) * int(cfg.RAMBytesPerChild) / 8
		if ramCap < 1 {
			ramCap = 1
		}
		ramBuckets = make([]CacheGutter, numRAMBufs)
		for i := range ramBuckets {
			ramBuckets[i] = newCacheGutter(ramCap)
		}
	}

	router := NewRouter(numNodes, cfg.NumL1Bufs, cfg.NumL2Bufs, cfg.NumL3Bufs, numRAMBufs)

	l3Cap := cfg.CacheGutterCapacity()
	l3Buckets := make([]CacheGutter, cfg.NumL3Bufs)
	for i := range l3Buckets {
		l3Buckets[i] = newCacheGutter(l3Cap)
	}

	leafCap := cfg.LeafCapacity()
	leaves := make([]LeafGutter, numNodes)
	for i := range leaves {
		leaves[i] = newLeafGutter(leafCap)
	}

	numSlots := workers * int(cfg.QueueFactor)
	if numSlots < 1 {
		numSlots = 1
	}

	sys := &GutteringSystem{
		numNodes:    numNodes,
		workers:     workers,
		cfg:         cfg,
		router:      router,
		l2Locks:     make([]sync.Mutex, cfg.NumL2Bufs),
		l3Buckets:   l3Buckets,
		useRAM:      useRAM,
		ramBuckets:  ramBuckets,
		leaves:      leaves,
		dirtyLeaves: roaring.New(),
		wq:          NewWorkQueue(numSlots, leafCap),
	}

	sys.states = make([]*InserterState, inserters)
	for i := range sys.states {
		sys.states[i] = newInserterState(sys, i)
	}
	return sys
}

// NumNodes returns the vertex count the system was built for.
func (sys *GutteringSystem) NumNodes() NodeId { return sys.numNodes }

// Inserters returns the number of registered producer threads.
func (sys *GutteringSystem) Inserters() int { return len(sys.states) }

// Router exposes the bucket router, mainly for tests.
func (sys *GutteringSystem) Router() *Router { return sys.router }

// Insert buffers upd on behalf of inserter thread 0, matching the
// original's default-to-zero 'which' parameter (pure virtual C++ methods
// can't carry default arguments, so the base class documents the
// convention instead).
func (sys *GutteringSystem) Insert(upd Update) error {
	return sys.InsertThread(upd, 0)
}

// InsertThread buffers upd on behalf of inserter thread threadIdx.
func (sys *GutteringSystem) InsertThread(upd Update, threadIdx int) error {
	invariant(threadIdx >= 0 && threadIdx < len(sys.states),
		"thread_index %d out of range [0,%d)", threadIdx, len(sys.states))
	invariant(upd.Src < sys.numNodes, "src %d out of range [0,%d)", upd.Src, sys.numNodes)
	return sys.states[threadIdx].insert(upd)
}

// ForceFlush drains every tier, in the order spec §4.2.4 requires:
// thread-local buffers first (in parallel across inserters), then any
// shared RAM1 buckets, then whatever leaves are left holding data.
func (sys *GutteringSystem) ForceFlush() error {
	var wg sync.WaitGroup
	errs := make([]error, len(sys.states))
	for i, st := range sys.states {
		wg.Add(1)
		go func(i int, st *InserterState) {
			defer wg.Done()
			errs[i] = st.flushAll()
		}(i, st)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	for idx := range sys.l3Buckets {
		if err := sys.drainL3(uint32(idx)); err != nil {
			return err
		}
	}

	if sys.useRAM {
		for idx := range sys.ramBuckets {
			if err := sys.drainRAM(uint32(idx)); err != nil {
				return err
			}
		}
	}

	return sys.flushDirtyLeaves()
}

// drainL3 routes every update buffered in L3[idx3] onward — to RAM1 if
// present, otherwise directly to the destination leaf — and resets the
// bucket once every update has been routed. Called either with
// l2Locks[L2Of3(idx3)] held (mid-insert overflow) or during ForceFlush,
// after every inserter has finished draining (so no lock is held there).
func (sys *GutteringSystem) drainL3(idx3 uint32) error {
	g := &sys.l3Buckets[idx3]
	data := g.Elements()
	for i, u := range data {
		var err error
		if sys.useRAM {
			err = sys.routeToRAM(u)
		} else {
			err = sys.routeToLeaf(u)
		}
		if err != nil {
			compact(g, data, i+1)
			return err
		}
	}
	g.Reset()
	return nil
}

// routeToRAM appends u to its RAM1 bucket, draining that bucket to leaves
// when it fills.
func (sys *GutteringSystem) routeToRAM(u Update) error {
	idxR := sys.router.RAM(u.Src)
	invariant(sys.router.L3OfRAM(idxR) == sys.router.L3(u.Src),
		"ram bucket %d is not a child of l3 bucket %d", idxR, sys.router.L3(u.Src))
	if sys.ramBuckets[idxR].Append(u) {
		return sys.drainRAM(idxR)
	}
	return nil
}

// drainRAM routes every update buffered in RAM1[idxR] to its destination
// leaf, resetting the bucket once done. Called either with the owning
// l2Lock held (mid-insert overflow) or during ForceFlush, after every
// inserter has finished draining (so no lock is needed there).
func (sys *GutteringSystem) drainRAM(idxR uint32) error {
	g := &sys.ramBuckets[idxR]
	data := g.Elements()
	for i, u := range data {
		if err := sys.routeToLeaf(u); err != nil {
			compact(g, data, i+1)
			return err
		}
	}
	g.Reset()
	return nil
}

// routeToLeaf appends u.Dst to the leaf gutter for u.Src, shipping the
// leaf to the work queue when it fills.
func (sys *GutteringSystem) routeToLeaf(u Update) error {
	leaf := &sys.leaves[u.Src]
	wasEmpty := leaf.Size() == 0
	full := leaf.Append(u.Dst)
	if wasEmpty {
		sys.markDirty(u.Src)
	}
	if full {
		return sys.shipLeaf(u.Src)
	}
	return nil
}

// shipLeaf hands leaves[src]'s destinations to the work queue and, only
// on success, resets the leaf. On ErrBackpressured the leaf is left full
// and dirty so the same ship can be retried later (by a subsequent
// ForceFlush) without losing or duplicating any destination; a caller
// that keeps inserting against the same source while non-blocking mode
// is on can still violate the leaf's capacity invariant in that window —
// spec §5's shutdown sequence sets non-blocking only after the last
// ForceFlush completes, specifically to avoid this.
func (sys *GutteringSystem) shipLeaf(src NodeId) error {
	leaf := &sys.leaves[src]
	if err := sys.wq.Push(src, leaf.Destinations()); err != nil {
		return err
	}
	leaf.Reset()
	sys.clearDirty(src)
	return nil
}

// flushDirtyLeaves ships every leaf the dirty index knows about. Used by
// ForceFlush once no tier above leaves can still be holding data.
func (sys *GutteringSystem) flushDirtyLeaves() error {
	sys.dirtyMu.Lock()
	ids := sys.dirtyLeaves.ToArray()
	sys.dirtyMu.Unlock()

	for _, src := range ids {
		if sys.leaves[src].Size() == 0 {
			continue
		}
		if err := sys.shipLeaf(src); err != nil {
			return err
		}
	}
	return nil
}

func (sys *GutteringSystem) markDirty(src NodeId) {
	sys.dirtyMu.Lock()
	sys.dirtyLeaves.Add(src)
	sys.dirtyMu.Unlock()
}

func (sys *GutteringSystem) clearDirty(src NodeId) {
	sys.dirtyMu.Lock()
	sys.dirtyLeaves.Remove(src)
	sys.dirtyMu.Unlock()
}

// GetData blocks for the next available batch. The caller must Release
// the returned Handle once it has consumed Dst.
func (sys *GutteringSystem) GetData() (Handle, error) {
	return sys.wq.Peek()
}

// GetDataBatched blocks for the first available batch, then opportunistically
// collects up to maxBatches-1 more that are already available, without
// waiting for them. It never returns more than one blocking wait.
func (sys *GutteringSystem) GetDataBatched(maxBatches int) ([]Handle, error) {
	first, err := sys.wq.Peek()
	if err != nil {
		return nil, err
	}
	handles := make([]Handle, 0, maxBatches)
	handles = append(handles, first)
	for len(handles) < maxBatches {
		h, ok := sys.wq.TryPeek()
		if !ok {
			break
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// SetNonBlock toggles non-blocking mode on the underlying work queue.
func (sys *GutteringSystem) SetNonBlock(on bool) {
	sys.wq.SetNonBlock(on)
}
