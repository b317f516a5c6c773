package guttering

import (
	"errors"
	"fmt"
)

// ErrBackpressured is returned by Push when non-blocking mode is active and
// the work queue is full.
var ErrBackpressured = errors.New("guttering: backpressured")

// ErrNoData is returned by Peek when non-blocking mode is active and no
// slot is dirty.
var ErrNoData = errors.New("guttering: no data")

// invariantViolation is fatal in intent: it signals a bug in the buffering
// hierarchy itself (a counter that exceeded its capacity, a router path
// that isn't monotonic), never a condition a caller can recover from.
type invariantViolation struct {
	msg string
}

func (e *invariantViolation) Error() string { return "guttering: invariant violated: " + e.msg }

// invariant panics with an *invariantViolation if cond is false. The
// original C++ asserts the same conditions (e.g. "counters never exceed
// capacity (asserted)"); Go has no assert, so this plays the same role —
// callers at a process boundary (the CLI's main) recover it and exit
// non-zero instead of continuing with corrupted state.
func invariant(cond bool, format string, args ...any) {
	if !cond {
		panic(&invariantViolation{msg: fmt.Sprintf(format, args...)})
	}
}
