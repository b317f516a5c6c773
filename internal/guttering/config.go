package guttering

import (
	"bufio"
	"fmt"
	"log"
	"strconv"
	"strings"

	billy "github.com/go-git/go-billy/v5"
	"golang.org/x/sys/unix"
)

// Configuration is a typed builder for the buffering hierarchy's tunable
// parameters, grounded on the original GutteringConfiguration
// (src/guttering_configuration.cpp): fluent setters that validate their
// argument and fall back to the default (with a stderr warning) when it's
// out of range, rather than returning an error the caller must check.
type Configuration struct {
	// PageSize is the write granularity in bytes: page_factor * the OS
	// page size, queried once via golang.org/x/sys/unix.Getpagesize()
	// (grounded on internal/control.Controller's use of the same package
	// for OS primitives) rather than cached in a package-level global.
	PageSize uint32

	// BufferSize is 2^buffer_exp bytes. Carried for parity with the
	// disk-backed gutter-tree variant referenced in spec §1's
	// out-of-scope section; GutteringSystem sizes its tiers from the
	// buffer-count and CacheGutterElemBytes fields below, not from
	// BufferSize.
	BufferSize uint32

	// Fanout is the general per-vertex branching factor from spec §4.3.
	Fanout uint32

	// QueueFactor determines NumSlots = Workers * QueueFactor.
	QueueFactor uint32

	// NumFlushers is carried for parity with the disk-backed variant;
	// GutteringSystem flushes inline on the producer thread and does not
	// use background flusher threads.
	NumFlushers uint32

	// GutterBytes is the leaf capacity in bytes.
	GutterBytes uint64

	// WQBatchPerElm is the number of batches packed per work-queue slot.
	WQBatchPerElm uint32

	// L1CacheBytes, L2CacheBytes, L3CacheBytes, and CacheLineBytes are
	// hardware hints (spec §9: "exposed as tunables with sensible
	// defaults keyed to l1_cache_size, l2_cache_size, l3_cache_size").
	// The buffer-count fields below are independently validated (powers
	// of two); these sizes document the target hardware they were picked
	// for without GutteringSystem computing them automatically — the
	// original carries the identical TODO ("determined by sizes later").
	L1CacheBytes   uint64
	L2CacheBytes   uint64
	L3CacheBytes   uint64
	CacheLineBytes uint32

	// NumL1Bufs, NumL2Bufs, NumL3Bufs are the per-level buffer counts fed
	// to the Router. Each must be a power of two.
	NumL1Bufs uint32
	NumL2Bufs uint32
	NumL3Bufs uint32

	// CacheGutterElemBytes sizes each L1/L2/L3 CacheGutter: capacity =
	// CacheGutterElemBytes / sizeof(Update).
	CacheGutterElemBytes uint32

	// TreeFanout is the branching factor from one L3 bucket down to the
	// RAM1 tier (or to leaves when RAM1 is absent) — the original's own
	// internal fanout=32 constant, distinct from the general Fanout
	// field above, which the disk-backed variant uses instead.
	TreeFanout uint32

	// RAMBytesPerChild sizes a RAM1 bucket: its capacity is
	// ceil(num_nodes / (NumL3Bufs*TreeFanout)) * RAMBytesPerChild /
	// sizeof(Update).
	RAMBytesPerChild uint32
}

// DefaultConfiguration returns a Configuration with every field set to its
// spec-mandated default.
func DefaultConfiguration() *Configuration {
	c := &Configuration{}
	c.setDefaults()
	c.validateTreeShape()
	return c
}

// validateTreeShape coerces the buffer-count fields back to their defaults,
// with a warning, when they aren't a power of two — the Router's shift-based
// bucket math (router.go) requires it and a caller building a Configuration
// by hand has no other gate enforcing it.
func (c *Configuration) validateTreeShape() {
	if !isPowerOfTwo(c.NumL1Bufs) {
		log.Printf("WARNING: num_l1_bufs must be a power of two, using default(2)")
		c.NumL1Bufs = 2
	}
	if !isPowerOfTwo(c.NumL2Bufs) {
		log.Printf("WARNING: num_l2_bufs must be a power of two, using default(64)")
		c.NumL2Bufs = 64
	}
	if !isPowerOfTwo(c.NumL3Bufs) {
		log.Printf("WARNING: num_l3_bufs must be a power of two, using default(2048)")
		c.NumL3Bufs = 2048
	}
	if !isPowerOfTwo(c.TreeFanout) {
		log.Printf("WARNING: tree fanout must be a power of two, using default(32)")
		c.TreeFanout = 32
	}
}

func (c *Configuration) setDefaults() {
	if c.PageSize == 0 {
		c.PageSize = uint32(unix.Getpagesize())
	}
	if c.BufferSize == 0 {
		c.BufferSize = 1 << 20 // buffer_exp default 20
	}
	if c.Fanout == 0 {
		c.Fanout = 64
	}
	if c.QueueFactor == 0 {
		c.QueueFactor = 8
	}
	if c.NumFlushers == 0 {
		c.NumFlushers = 2
	}
	if c.GutterBytes == 0 {
		c.GutterBytes = 32 * 1024
	}
	if c.WQBatchPerElm == 0 {
		c.WQBatchPerElm = 1
	}
	if c.L1CacheBytes == 0 {
		c.L1CacheBytes = 32768
	}
	if c.L2CacheBytes == 0 {
		c.L2CacheBytes = 262144
	}
	if c.L3CacheBytes == 0 {
		c.L3CacheBytes = 8388608
	}
	if c.CacheLineBytes == 0 {
		c.CacheLineBytes = 64
	}
	if c.NumL1Bufs == 0 {
		c.NumL1Bufs = 2
	}
	if c.NumL2Bufs == 0 {
		c.NumL2Bufs = 64
	}
	if c.NumL3Bufs == 0 {
		c.NumL3Bufs = 2048
	}
	if c.CacheGutterElemBytes == 0 {
		c.CacheGutterElemBytes = 4096
	}
	if c.TreeFanout == 0 {
		c.TreeFanout = 32
	}
	if c.RAMBytesPerChild == 0 {
		c.RAMBytesPerChild = 2 * c.CacheLineBytes
	}
}

// WithPageFactor sets PageSize = page_factor * the OS page size.
// Out-of-range values ([1,50]) revert to the default (1) with a warning.
func (c *Configuration) WithPageFactor(pageFactor uint32) *Configuration {
	if pageFactor < 1 || pageFactor > 50 {
		log.Printf("WARNING: page_factor out of bounds [1,50], using default(1)")
		pageFactor = 1
	}
	c.PageSize = pageFactor * uint32(unix.Getpagesize())
	return c
}

// WithBufferExp sets BufferSize = 2^buffer_exp. Out-of-range values
// ([10,30]) revert to the default (20) with a warning.
func (c *Configuration) WithBufferExp(bufferExp uint32) *Configuration {
	if bufferExp < 10 || bufferExp > 30 {
		log.Printf("WARNING: buffer_exp out of bounds [10,30], using default(20)")
		bufferExp = 20
	}
	c.BufferSize = 1 << bufferExp
	return c
}

// WithFanout sets Fanout. Out-of-range values ([2,2048]) revert to the
// default (64) with a warning.
func (c *Configuration) WithFanout(fanout uint32) *Configuration {
	if fanout < 2 || fanout > 2048 {
		log.Printf("WARNING: fanout out of bounds [2,2048], using default(64)")
		fanout = 64
	}
	c.Fanout = fanout
	return c
}

// WithQueueFactor sets QueueFactor. Out-of-range values ([1,1024]) revert
// to the default (8) with a warning.
func (c *Configuration) WithQueueFactor(queueFactor uint32) *Configuration {
	if queueFactor < 1 || queueFactor > 1024 {
		log.Printf("WARNING: queue_factor out of bounds [1,1024], using default(8)")
		queueFactor = 8
	}
	c.QueueFactor = queueFactor
	return c
}

// WithNumFlushers sets NumFlushers. Out-of-range values ([1,20]) revert to
// the default (2) with a warning.
func (c *Configuration) WithNumFlushers(numFlushers uint32) *Configuration {
	if numFlushers < 1 || numFlushers > 20 {
		log.Printf("WARNING: num_flushers out of bounds [1,20], using default(2)")
		numFlushers = 2
	}
	c.NumFlushers = numFlushers
	return c
}

// WithGutterBytes sets GutterBytes. Values less than 1 revert to the
// default (32 KiB) with a warning.
func (c *Configuration) WithGutterBytes(gutterBytes uint64) *Configuration {
	if gutterBytes < 1 {
		log.Printf("WARNING: gutter_bytes must be at least 1, using default(32 KiB)")
		gutterBytes = 32 * 1024
	}
	c.GutterBytes = gutterBytes
	return c
}

// WithWQBatchPerElm sets WQBatchPerElm. Values less than 1 revert to the
// default (1) with a warning.
func (c *Configuration) WithWQBatchPerElm(wqBatchPerElm uint32) *Configuration {
	if wqBatchPerElm < 1 {
		log.Printf("WARNING: wq_batch_per_elm must be at least 1, using default(1)")
		wqBatchPerElm = 1
	}
	c.WQBatchPerElm = wqBatchPerElm
	return c
}

// LeafCapacity returns leaf_capacity = gutter_bytes / sizeof(NodeId).
func (c *Configuration) LeafCapacity() int {
	return int(c.GutterBytes / 4)
}

// CacheGutterCapacity returns the per-bucket capacity shared by L1, L2,
// and L3 CacheGutters: CacheGutterElemBytes / sizeof(Update).
func (c *Configuration) CacheGutterCapacity() int {
	return int(c.CacheGutterElemBytes / 8)
}

// configKeys maps the buffering.conf key names from spec §4.3/§6 to
// setters. Unknown keys are ignored, per spec.
var configKeys = map[string]func(c *Configuration, value string) error{
	"page_factor": func(c *Configuration, v string) error {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return err
		}
		c.WithPageFactor(uint32(n))
		return nil
	},
	"buffer_exp": func(c *Configuration, v string) error {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return err
		}
		c.WithBufferExp(uint32(n))
		return nil
	},
	"fanout": func(c *Configuration, v string) error {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return err
		}
		c.WithFanout(uint32(n))
		return nil
	},
	"queue_factor": func(c *Configuration, v string) error {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return err
		}
		c.WithQueueFactor(uint32(n))
		return nil
	},
	"num_flushers": func(c *Configuration, v string) error {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return err
		}
		c.WithNumFlushers(uint32(n))
		return nil
	},
	"gutter_bytes": func(c *Configuration, v string) error {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return err
		}
		c.WithGutterBytes(n)
		return nil
	},
	"wq_batch_per_elm": func(c *Configuration, v string) error {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return err
		}
		c.WithWQBatchPerElm(uint32(n))
		return nil
	},
}

// ConfigFromFile parses a buffering.conf-style file (UTF-8, one
// key=value per line, '#' starts a comment, blank lines allowed) off the
// given filesystem. Grounded on the teacher's internal/nfsmount.GraphFS,
// which adapts a domain type to billy.Filesystem so production code and
// tests can share the same loading path against different backends
// (osfs for real files, memfs in tests).
//
// Unknown keys are ignored. A malformed value for a known key is skipped
// with a warning, leaving that key at the value it already had (its
// default, unless an earlier line set it), matching spec §7's "config
// errors are swallowed at the edge." A missing or unreadable file yields
// an all-defaults Configuration and a warning, never an error.
func ConfigFromFile(fs billy.Filesystem, path string) *Configuration {
	c := DefaultConfiguration()

	f, err := fs.Open(path)
	if err != nil {
		log.Printf("WARNING: could not open buffering configuration file %q: %v; using default settings", path, err)
		return c
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		setter, known := configKeys[key]
		if !known {
			continue
		}
		if err := setter(c, value); err != nil {
			log.Printf("WARNING: invalid value %q for %q: %v; using default", value, key, err)
		}
	}
	c.validateTreeShape()
	return c
}

// String renders the configuration the way the original's
// operator<<(ostream&, GutteringConfiguration) does: one labeled line per
// parameter.
func (c *Configuration) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "GutteringSystem Configuration:\n")
	fmt.Fprintf(&b, " Background threads = %d\n", c.NumFlushers)
	fmt.Fprintf(&b, " Leaf capacity      = %d\n", c.LeafCapacity())
	fmt.Fprintf(&b, " WQ elements factor = %d\n", c.QueueFactor)
	fmt.Fprintf(&b, " WQ batches per elm = %d\n", c.WQBatchPerElm)
	fmt.Fprintf(&b, " Write granularity  = %d\n", c.PageSize)
	fmt.Fprintf(&b, " Buffer size        = %d\n", c.BufferSize)
	fmt.Fprintf(&b, " Fanout             = %d\n", c.Fanout)
	fmt.Fprintf(&b, " L1/L2/L3 bufs      = %d/%d/%d\n", c.NumL1Bufs, c.NumL2Bufs, c.NumL3Bufs)
	fmt.Fprintf(&b, " Tree fanout        = %d", c.TreeFanout)
	return b.String()
}
