package fat32

import (
	"strings"
	"sync"

	"github.com/kernelfs/fat32/blockdev"
	"github.com/kernelfs/fat32/cache"
	"github.com/kernelfs/fat32/errors"
)

// RootCluster is the cluster number of the root directory on every FAT32
// volume (spec.md §4.3 step 5).
const RootCluster uint32 = 2

// MountOptions configures the pool sizes of the Cache a Manager builds at
// mount time. Callers needing more cached directory/file sectors (e.g. a
// FUSE front-end serving many open files) can raise these; the driver
// itself has no opinion on the right size beyond "big enough to hold one
// held line plus room to work".
type MountOptions struct {
	DataPoolCapacity int
	InfoPoolCapacity int
}

// DefaultMountOptions mirrors the modest working-set size a small kernel
// driver would budget for.
func DefaultMountOptions() MountOptions {
	return MountOptions{DataPoolCapacity: 32, InfoPoolCapacity: 16}
}

// Manager owns the mounted volume: geometry, the FAT allocator, the FS-info
// handle, and the single reader/writer lock guarding both (spec.md §4.3,
// §5). Every other component reaches the FAT and FS-info through it.
type Manager struct {
	dev   blockdev.Device
	Cache *cache.Cache
	Alloc *Allocator
	boot  *BootSector

	fatMu sync.RWMutex

	fsInfoSector uint32
	fsInfo       *RawFSInfo

	rootEntry RawShortDirent
}

// mbrPartitionStartOffset is the byte offset, within LBA 0, of the first
// partition table entry's starting-LBA field (spec.md §4.3 step 1).
const mbrPartitionStartOffset = 0x1C6

// Mount reads the boot sector, extended boot sector, and FS-info sector off
// dev and brings up a Manager, following the sequence in spec.md §4.3.
func Mount(dev blockdev.Device, opts MountOptions) (*Manager, error) {
	// Step 1: read sector 0 directly (no cache yet -- the cache's start
	// offset isn't known until this read tells us what it is) and extract
	// the MBR partition start.
	rawSector0 := make([]byte, SectorSize)
	if err := dev.ReadBlock(0, rawSector0); err != nil {
		return nil, errors.ErrIOFailed.Wrap(err)
	}

	partitionStart := readPartitionStart(rawSector0)

	c := cache.New(dev, opts.DataPoolCapacity, opts.InfoPoolCapacity)
	c.SetStartOffset(blockdev.Sector(partitionStart))

	// Step 2: re-read sector 0, now relative to the partition, as the boot
	// sector proper.
	h, err := c.Get(cache.PoolInfo, 0, cache.ModeRead)
	if err != nil {
		return nil, err
	}
	bootRaw := make([]byte, SectorSize)
	readErr := h.Read(0, bootRaw)
	h.Release()
	if readErr != nil {
		return nil, readErr
	}

	boot, err := ParseBootSector(bootRaw)
	if err != nil {
		return nil, err
	}

	// Step 3: build the FS-info handle and verify both signatures.
	fsInfoSector := uint32(boot.FSInfoSector)
	if fsInfoSector == 0 {
		fsInfoSector = 1
	}

	fh, err := c.Get(cache.PoolInfo, blockdev.Sector(fsInfoSector), cache.ModeRead)
	if err != nil {
		return nil, err
	}
	fsInfoRaw := make([]byte, SectorSize)
	readErr = fh.Read(0, fsInfoRaw)
	fh.Release()
	if readErr != nil {
		return nil, readErr
	}

	fsInfo, err := ParseFSInfo(fsInfoRaw)
	if err != nil {
		return nil, err
	}

	// Step 4: geometry is already derived onto `boot` by ParseBootSector.
	sectorsPerFAT := boot.FATSize32
	totalEntries := boot.TotalClusters + 2 // clusters are numbered from 2

	alloc := NewAllocator(c, boot.FAT1Sector, boot.FAT2Sector, sectorsPerFAT, totalEntries)

	// Step 5: synthesize the in-memory root entry; it is never persisted
	// (spec.md §9, Open Question (c)).
	root := RawShortDirent{Attributes: AttrDirectory}
	copy(root.Name[:], "/       ")
	copy(root.Extension[:], "   ")
	root.SetFirstCluster(RootCluster)

	return &Manager{
		dev:          dev,
		Cache:        c,
		Alloc:        alloc,
		boot:         boot,
		fsInfoSector: fsInfoSector,
		fsInfo:       fsInfo,
		rootEntry:    root,
	}, nil
}

func readPartitionStart(sector0 []byte) uint32 {
	if len(sector0) < mbrPartitionStartOffset+4 {
		return 0
	}
	return uint32(sector0[mbrPartitionStartOffset]) |
		uint32(sector0[mbrPartitionStartOffset+1])<<8 |
		uint32(sector0[mbrPartitionStartOffset+2])<<16 |
		uint32(sector0[mbrPartitionStartOffset+3])<<24
}

// BootSector exposes the parsed boot sector / geometry.
func (m *Manager) BootSector() *BootSector { return m.boot }

// VolumeLabel returns the volume label stamped in the extended boot sector
// at format time, trimmed of its trailing 0x20 padding (spec.md §3,
// original_source volume-label supplement).
func (m *Manager) VolumeLabel() string {
	return strings.TrimRight(string(m.boot.VolumeLabel[:]), " ")
}

// Sync flushes every dirty cache line to dev, for callers (e.g. a FUSE
// front-end's Fsync) that need write-back on demand rather than waiting for
// the cache's own eviction (spec.md §6, "Sync").
func (m *Manager) Sync() error {
	return m.Cache.WriteBack()
}

// RootEntry returns the synthesized in-memory root directory entry. Callers
// must never attempt to rewrite its short slot (spec.md §9, Open Question
// (c)): reads and writes against it are routed to RootCluster directly.
func (m *Manager) RootEntry() RawShortDirent { return m.rootEntry }

// FreeClusters returns the FS-info free-cluster count.
func (m *Manager) FreeClusters() uint32 {
	m.fatMu.RLock()
	defer m.fatMu.RUnlock()
	return m.fsInfo.FreeCount
}

// FreeClusterHint returns the FS-info next-free hint. It is an advisory
// floor, not an authoritative pointer (spec.md §3, invariant 3).
func (m *Manager) FreeClusterHint() uint32 {
	m.fatMu.RLock()
	defer m.fatMu.RUnlock()
	return m.fsInfo.NextFree
}

// persistFSInfoLocked writes the in-memory FS-info fields back to its
// sector. Callers must already hold fatMu for writing.
func (m *Manager) persistFSInfoLocked() error {
	packed, err := m.fsInfo.Pack()
	if err != nil {
		return err
	}
	h, err := m.Cache.Get(cache.PoolInfo, blockdev.Sector(m.fsInfoSector), cache.ModeWrite)
	if err != nil {
		return err
	}
	defer h.Release()
	return h.Modify(0, packed)
}

// AllocCluster allocates a chain of n clusters, zeroing each one through
// the given cache pool (PoolData for file content, PoolInfo for directory
// sectors) before chaining it, and returns the first cluster in the chain
// (spec.md §4.3, "Allocation"). Ordering within the allocation is
// zero-cluster -> chain-link -> free-count/hint -> flush (spec.md §5).
func (m *Manager) AllocCluster(n int, pool cache.Pool) (uint32, error) {
	if n <= 0 {
		return 0, errors.ErrInvalidArgument.WithMessage("cluster count must be positive")
	}

	m.fatMu.Lock()
	defer m.fatMu.Unlock()

	if uint32(n) > m.fsInfo.FreeCount {
		return 0, errors.ErrNoSpace
	}

	var first, prev uint32
	hint := m.fsInfo.NextFree

	for i := 0; i < n; i++ {
		cluster, err := m.Alloc.NextFreeFrom(hint)
		if err != nil {
			return 0, err
		}
		hint = cluster

		if err := m.zeroClusterLocked(cluster, pool); err != nil {
			return 0, err
		}

		if first == 0 {
			first = cluster
		} else {
			if err := m.Alloc.SetNext(prev, cluster); err != nil {
				return 0, err
			}
		}
		prev = cluster
	}

	if err := m.Alloc.SetEnd(prev); err != nil {
		return 0, err
	}

	m.fsInfo.FreeCount -= uint32(n)
	m.fsInfo.NextFree = prev
	if err := m.persistFSInfoLocked(); err != nil {
		return 0, err
	}

	return first, m.Cache.WriteBack()
}

func (m *Manager) zeroClusterLocked(cluster uint32, pool cache.Pool) error {
	zero := make([]byte, SectorSize)
	firstSector := m.boot.FirstSectorOfCluster(cluster)
	for s := uint32(0); s < uint32(m.boot.SectorsPerCluster); s++ {
		h, err := m.Cache.Get(pool, blockdev.Sector(firstSector+s), cache.ModeWrite)
		if err != nil {
			return err
		}
		err = h.Modify(0, zero)
		h.Release()
		if err != nil {
			return err
		}
	}
	return nil
}

// DeallocCluster frees every cluster in `chain`, adds its length back to
// the free count, and lowers the first-free hint if the smallest freed
// cluster is both below the current hint and at least 3 (spec.md §4.3,
// "Deallocation").
func (m *Manager) DeallocCluster(chain []uint32) error {
	if len(chain) == 0 {
		return nil
	}

	m.fatMu.Lock()
	defer m.fatMu.Unlock()

	min := chain[0]
	for _, c := range chain {
		if err := m.Alloc.SetNext(c, ClusterFree); err != nil {
			return err
		}
		if c < min {
			min = c
		}
	}

	m.fsInfo.FreeCount += uint32(len(chain))
	if min < m.fsInfo.NextFree && min >= 3 {
		m.fsInfo.NextFree = min - 1
	}
	if err := m.persistFSInfoLocked(); err != nil {
		return err
	}

	return m.Cache.WriteBack()
}

// WithFATReadLock runs fn while holding the FAT read lock, for chain
// traversal that must observe a consistent snapshot across multiple calls
// to the Allocator.
func (m *Manager) WithFATReadLock(fn func() error) error {
	m.fatMu.RLock()
	defer m.fatMu.RUnlock()
	return fn()
}

// LinkChain finds the final cluster of the chain starting at existingHead
// and points it at newHead, under the FAT write lock (spec.md §5,
// "Directory mutations ... rely on the FAT write-lock during chain
// growth").
func (m *Manager) LinkChain(existingHead, newHead uint32) error {
	m.fatMu.Lock()
	defer m.fatMu.Unlock()
	final, err := m.Alloc.FinalOf(existingHead)
	if err != nil {
		return err
	}
	return m.Alloc.SetNext(final, newHead)
}

// -----------------------------------------------------------------------
// Name handling (spec.md §4.3, "Name handling").

// SplitShortName splits "NAME.EXT" into the padded 8.3 fields a short
// directory entry stores on disk: upper-cased and right-padded with 0x20.
func SplitShortName(name string) (base [8]byte, ext [3]byte) {
	for i := range base {
		base[i] = ' '
	}
	for i := range ext {
		ext[i] = ' '
	}

	stem := name
	suffix := ""
	if i := strings.IndexByte(name, '.'); i >= 0 {
		stem = name[:i]
		suffix = name[i+1:]
	}

	stem = strings.ToUpper(stem)
	suffix = strings.ToUpper(suffix)

	copy(base[:], stem)
	copy(ext[:], suffix)
	return base, ext
}

// SynthesizeShortName derives an 8.3 alias for a long name that doesn't fit
// in 8.3 form: the first six characters of the base, "~1", then the first
// three extension characters, upper-cased. Collision handling (~2, ~3, ...)
// is not implemented, matching the reference driver (spec.md §9, Open
// Question (b)).
func SynthesizeShortName(longName string) string {
	stem := longName
	suffix := ""
	if i := strings.IndexByte(longName, '.'); i >= 0 {
		stem = longName[:i]
		suffix = longName[i+1:]
	}

	stem = strings.ToUpper(stem)
	suffix = strings.ToUpper(suffix)

	if len(stem) > 6 {
		stem = stem[:6]
	}
	if len(suffix) > 3 {
		suffix = suffix[:3]
	}

	short := stem + "~1"
	if suffix != "" {
		short += "." + suffix
	}
	return short
}
