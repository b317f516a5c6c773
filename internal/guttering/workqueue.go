package guttering

import "sync"

// wqSlot is one reusable slot in the WorkQueue's ring. dirty is the slot's
// state bit: true means a producer has filled it and no consumer has
// released it yet; false means a producer may reuse it. Exactly one
// logical owner holds a slot at any time, matching spec §4.1.
type wqSlot struct {
	src   NodeId
	dst   []NodeId
	dirty bool
}

// WorkQueue is a bounded, reusable-slot MPMC hand-off between flushers
// (producers) and workers (consumers). Grounded on the original
// CircularQueue (src/circular_queue.cpp): a fixed ring of slots, a head
// pointer producers advance, a tail pointer consumers advance, and a
// dirty bit per slot as the single source of truth for occupancy.
//
// The original guards push-side waits with one mutex and peek-side waits
// with another, which lets a slot's dirty bit be written from push (under
// the write lock) and read from peek (under the read lock) without a
// shared lock between them — a data race the Go port does not reproduce.
// Both condition variables here share a single mutex instead; external
// behavior (blocking semantics, backpressure, wakeup-on-release) is
// unchanged, and the slot bit stays race-free.
type WorkQueue struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	slots []wqSlot
	head  int // next slot a producer will fill
	tail  int // next slot a consumer will claim

	nonBlock bool
	dirty    int // count of slots with dirty == true, for Outstanding()
}

// NewWorkQueue builds a queue of numSlots slots, each able to hold up to
// slotCapacity destinations.
func NewWorkQueue(numSlots, slotCapacity int) *WorkQueue {
	invariant(numSlots > 0, "work queue requires at least one slot")
	q := &WorkQueue{
		slots: make([]wqSlot, numSlots),
	}
	for i := range q.slots {
		q.slots[i].dst = make([]NodeId, 0, slotCapacity)
	}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

func (q *WorkQueue) full() bool  { return q.slots[q.head].dirty }
func (q *WorkQueue) empty() bool { return !q.slots[q.tail].dirty }

func (q *WorkQueue) incr(i int) int {
	i++
	if i >= len(q.slots) {
		i = 0
	}
	return i
}

// Push copies destinations into the next free slot for src, blocking
// until one is available. In non-blocking mode it returns ErrBackpressured
// immediately instead of blocking when the queue is full.
func (q *WorkQueue) Push(src NodeId, destinations []NodeId) error {
	q.mu.Lock()
	for q.full() && !q.nonBlock {
		q.notFull.Wait()
	}
	if q.nonBlock && q.full() {
		q.mu.Unlock()
		return ErrBackpressured
	}

	slot := &q.slots[q.head]
	slot.src = src
	slot.dst = append(slot.dst[:0], destinations...)
	slot.dirty = true
	q.dirty++
	q.head = q.incr(q.head)
	q.mu.Unlock()

	q.notEmpty.Signal()
	return nil
}

// Handle identifies one dirty slot peeked out of the queue. It exposes
// the slot's destinations and source vertex; calling Release returns the
// slot to producers.
type Handle struct {
	q   *WorkQueue
	idx int

	Src NodeId
	// Dst aliases the slot's backing array and is valid only until
	// Release. Use ToBatch to copy it out first if it needs to outlive
	// the handle.
	Dst []NodeId
}

// Peek blocks until some slot is dirty and returns a Handle for it. In
// non-blocking mode it returns ErrNoData immediately instead of blocking
// when nothing is dirty.
func (q *WorkQueue) Peek() (Handle, error) {
	q.mu.Lock()
	for q.empty() && !q.nonBlock {
		q.notEmpty.Wait()
	}
	if q.nonBlock && q.empty() {
		q.mu.Unlock()
		return Handle{}, ErrNoData
	}

	idx := q.tail
	q.tail = q.incr(q.tail)
	slot := &q.slots[idx]
	h := Handle{q: q, idx: idx, Src: slot.src, Dst: slot.dst}
	q.mu.Unlock()
	return h, nil
}

// TryPeek returns a Handle for the next dirty slot if one exists,
// without blocking and without regard for SetNonBlock's current value.
// Used to opportunistically assemble a batch of handles beyond the first
// one a caller already waited for.
func (q *WorkQueue) TryPeek() (Handle, bool) {
	q.mu.Lock()
	if q.empty() {
		q.mu.Unlock()
		return Handle{}, false
	}
	idx := q.tail
	q.tail = q.incr(q.tail)
	slot := &q.slots[idx]
	h := Handle{q: q, idx: idx, Src: slot.src, Dst: slot.dst}
	q.mu.Unlock()
	return h, true
}

// ToBatch copies the handle's destinations into an owned Batch. Dst on
// the Handle itself aliases the slot's backing array and is only valid
// until Release — a consumer that needs the data to outlive Release (to
// hand off to another goroutine, say) should copy it out with ToBatch
// first.
func (h Handle) ToBatch() Batch {
	return Batch{Src: h.Src, Dst: append([]NodeId(nil), h.Dst...)}
}

// Release returns the handle's slot to producers, marking it non-dirty
// and waking one waiting pusher. Equivalent to the spec's
// peek_callback/pop.
func (h Handle) Release() {
	q := h.q
	q.mu.Lock()
	q.slots[h.idx].dirty = false
	q.dirty--
	q.mu.Unlock()
	q.notFull.Signal()
}

// SetNonBlock atomically flips non-blocking mode. Every waiter — already
// blocked or newly arriving, on either condition variable — observes the
// flag on its next wakeup, in both directions: broadcasting here also
// releases anyone who started waiting under the old mode.
func (q *WorkQueue) SetNonBlock(on bool) {
	q.mu.Lock()
	q.nonBlock = on
	q.mu.Unlock()
	q.notFull.Broadcast()
	q.notEmpty.Broadcast()
}

// Outstanding returns the number of slots currently dirty (pushed but not
// yet released). Always in [0, Capacity()].
func (q *WorkQueue) Outstanding() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dirty
}

// Capacity returns the total number of slots.
func (q *WorkQueue) Capacity() int { return len(q.slots) }
