// Package cache implements the write-back block cache that mediates every
// device access made by the FAT components above it (spec.md §4.1). It
// keeps two independent fixed-capacity pools — one for file-content
// sectors, one for metadata sectors (FATs, FS-info, directory contents) —
// and applies an explicit start-sector offset so a volume can be mounted
// from inside a partitioned image.
package cache

import (
	"fmt"
	"sync"

	"github.com/boljen/go-bitmap"
	"github.com/hashicorp/go-multierror"

	"github.com/kernelfs/fat32/blockdev"
	"github.com/kernelfs/fat32/errors"
)

// Mode selects whether a Get() is for reading or writing.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

// Pool selects which of the cache's two pools a request targets. Directories
// and the FAT are always accessed through PoolInfo; file contents through
// PoolData. The cache does not guarantee the same sector is absent from the
// other pool — callers are responsible for routing consistently.
type Pool int

const (
	PoolData Pool = iota
	PoolInfo
	numPools
)

func (p Pool) String() string {
	if p == PoolData {
		return "data"
	}
	return "info"
}

type line struct {
	mu         sync.RWMutex
	sector     blockdev.Sector
	valid      bool
	dirty      bool
	refCount   int
	lastAccess uint64
	buf        [blockdev.SectorSize]byte
}

// pool is one fixed-capacity set of cache lines plus the bookkeeping needed
// to find, evict, and flush them. Lookup and eviction for a pool are a
// single critical section guarded by mu; the per-line mu above is only ever
// held for the duration of a bounded memcpy inside Read/Modify, or of that
// one line's device write during a flush, never across another lookup in the
// same pool (spec.md §5).
type pool struct {
	mu       sync.Mutex
	lines    []*line
	bySector map[blockdev.Sector]int
	// present/dirty mirror the per-line flags in bitmap form; they aren't
	// load-bearing for correctness (the line struct is authoritative), and
	// nothing in this package reads them: WriteBack scans the line structs
	// directly.
	present bitmap.Bitmap
	dirty   bitmap.Bitmap
	clock   uint64
}

func newPool(capacity int) *pool {
	lines := make([]*line, capacity)
	for i := range lines {
		lines[i] = &line{}
	}
	return &pool{
		lines:    lines,
		bySector: make(map[blockdev.Sector]int),
		present:  bitmap.New(capacity),
		dirty:    bitmap.New(capacity),
	}
}

// Cache is the write-back block cache. It is a process-wide singleton in the
// driver: one Cache is created at mount and flushed/dropped at unmount
// (spec.md §4.1, §9).
type Cache struct {
	dev         blockdev.Device
	startOffset blockdev.Sector
	pools       [numPools]*pool
}

// New creates a Cache with the given per-pool capacities, in cache lines.
func New(dev blockdev.Device, dataCapacity, infoCapacity int) *Cache {
	c := &Cache{dev: dev}
	c.pools[PoolData] = newPool(dataCapacity)
	c.pools[PoolInfo] = newPool(infoCapacity)
	return c
}

// SetStartOffset installs the process-wide sector offset added to every
// device call, established once at mount from the MBR partition start
// (spec.md §4.1, "Start-sector offset").
func (c *Cache) SetStartOffset(offset blockdev.Sector) {
	c.startOffset = offset
}

func (c *Cache) absolute(sector blockdev.Sector) blockdev.Sector {
	return c.startOffset + sector
}

// Handle is a held reference to one cache line. It must be released exactly
// once; holding it across a Get() call on the same pool is forbidden: a held
// line is never evicted, so a lookup that needs to evict fails with ErrBusy
// once every line in the pool is held.
type Handle struct {
	p      *pool
	idx    int
	sector blockdev.Sector
}

// Get brings `sector` into the named pool (loading it if necessary) and
// returns a held handle to it. The caller must call Release when done.
func (c *Cache) Get(poolID Pool, sector blockdev.Sector, mode Mode) (*Handle, error) {
	p := c.pools[poolID]

	p.mu.Lock()
	defer p.mu.Unlock()

	p.clock++

	if idx, ok := p.bySector[sector]; ok {
		ln := p.lines[idx]
		ln.refCount++
		ln.lastAccess = p.clock
		return &Handle{p: p, idx: idx, sector: sector}, nil
	}

	idx, err := c.acquireLineLocked(poolID, p)
	if err != nil {
		return nil, err
	}

	ln := p.lines[idx]
	if err := c.dev.ReadBlock(c.absolute(sector), ln.buf[:]); err != nil {
		p.present.Set(idx, false)
		return nil, errors.ErrIOFailed.Wrap(err)
	}

	ln.sector = sector
	ln.valid = true
	ln.dirty = false
	ln.refCount = 1
	ln.lastAccess = p.clock
	p.bySector[sector] = idx
	p.present.Set(idx, true)
	p.dirty.Set(idx, false)

	_ = mode // both modes fetch the current contents; WRITE only changes caller intent
	return &Handle{p: p, idx: idx, sector: sector}, nil
}

// acquireLineLocked finds a free line, or evicts the least-recently-used
// unheld line, writing it back first if dirty. p.mu is already held.
func (c *Cache) acquireLineLocked(poolID Pool, p *pool) (int, error) {
	for i, ln := range p.lines {
		if !ln.valid {
			return i, nil
		}
	}

	victim := -1
	var oldestAccess uint64
	for i, ln := range p.lines {
		if ln.refCount > 0 {
			continue
		}
		if victim == -1 || ln.lastAccess < oldestAccess {
			victim = i
			oldestAccess = ln.lastAccess
		}
	}

	if victim == -1 {
		return 0, errors.ErrBusy.WithMessage(
			fmt.Sprintf("%s pool exhausted: no evictable line among %d", poolID, len(p.lines)))
	}

	ln := p.lines[victim]
	if ln.dirty {
		if err := c.dev.WriteBlock(c.absolute(ln.sector), ln.buf[:]); err != nil {
			return 0, errors.ErrIOFailed.Wrap(err)
		}
		ln.dirty = false
		p.dirty.Set(victim, false)
	}

	delete(p.bySector, ln.sector)
	ln.valid = false
	p.present.Set(victim, false)
	return victim, nil
}

// Read copies len(dst) bytes from the cache line starting at byte offset
// `offset` into dst.
func (h *Handle) Read(offset int, dst []byte) error {
	ln := h.p.lines[h.idx]
	if offset < 0 || offset+len(dst) > len(ln.buf) {
		return errors.ErrInvalidArgument.WithMessage("read range exceeds one sector")
	}
	ln.mu.RLock()
	copy(dst, ln.buf[offset:offset+len(dst)])
	ln.mu.RUnlock()
	return nil
}

// Modify copies src into the cache line starting at byte offset `offset` and
// marks the line dirty.
func (h *Handle) Modify(offset int, src []byte) error {
	ln := h.p.lines[h.idx]
	if offset < 0 || offset+len(src) > len(ln.buf) {
		return errors.ErrInvalidArgument.WithMessage("write range exceeds one sector")
	}
	ln.mu.Lock()
	copy(ln.buf[offset:offset+len(src)], src)
	ln.dirty = true
	ln.mu.Unlock()
	h.p.mu.Lock()
	h.p.dirty.Set(h.idx, true)
	h.p.mu.Unlock()
	return nil
}

// Release gives up this handle's hold on the line, making it eligible for
// eviction again.
func (h *Handle) Release() {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	ln := h.p.lines[h.idx]
	if ln.valid && ln.sector == h.sector && ln.refCount > 0 {
		ln.refCount--
	}
}

// WriteBack walks both pools and writes out every dirty line, in the order
// it is invoked: explicitly after cluster allocation/deallocation, and on
// request. There is no timer-driven flush.
func (c *Cache) WriteBack() error {
	var result *multierror.Error
	for _, p := range c.pools {
		if err := c.flushPool(p); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (c *Cache) flushPool(p *pool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result *multierror.Error
	for i, ln := range p.lines {
		if !ln.valid || !ln.dirty {
			continue
		}
		ln.mu.RLock()
		err := c.dev.WriteBlock(c.absolute(ln.sector), ln.buf[:])
		ln.mu.RUnlock()
		if err != nil {
			result = multierror.Append(result, errors.ErrIOFailed.Wrap(err))
			continue
		}
		ln.dirty = false
		p.dirty.Set(i, false)
	}
	return result.ErrorOrNil()
}
