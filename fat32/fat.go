package fat32

import (
	"encoding/binary"

	"github.com/kernelfs/fat32/blockdev"
	"github.com/kernelfs/fat32/cache"
	"github.com/kernelfs/fat32/errors"
)

// FAT entry sentinels (spec.md §3, "FAT entry"). Only the low 28 bits of a
// 32-bit FAT32 entry are meaningful.
const (
	ClusterFree   uint32 = 0x00000000
	ClusterBad    uint32 = 0x0FFFFFF7
	ClusterEndMin uint32 = 0x0FFFFFF8
	entryMask     uint32 = 0x0FFFFFFF
)

// IsEndOfChain reports whether a (masked) FAT entry value marks chain end.
func IsEndOfChain(v uint32) bool {
	return v >= 0x0FFFFFF8
}

// Allocator implements the FAT Allocator component (spec.md §4.2): cluster
// chain queries and mutations across two mirrored tables. It takes no
// locks of its own — the Manager holds the single reader/writer lock that
// guards all of its callers (spec.md §5).
type Allocator struct {
	cache      *cache.Cache
	fat1Sector uint32
	fat2Sector uint32
	nSectors   uint32
	nEntries   uint32
}

// NewAllocator constructs an Allocator over the two FAT mirrors beginning at
// fat1Sector and fat2Sector, each nSectors long, describing nEntries
// clusters.
func NewAllocator(c *cache.Cache, fat1Sector, fat2Sector, nSectors, nEntries uint32) *Allocator {
	return &Allocator{
		cache:      c,
		fat1Sector: fat1Sector,
		fat2Sector: fat2Sector,
		nSectors:   nSectors,
		nEntries:   nEntries,
	}
}

// entryLocation returns the sector (relative to the start of a FAT) and
// byte offset within that sector for a given cluster number: each sector
// holds 128 32-bit entries (spec.md §3).
func entryLocation(cluster uint32) (sectorOffset uint32, byteOffset int) {
	return cluster / 128, 4 * int(cluster%128)
}

func (a *Allocator) readEntry(fatSector uint32, cluster uint32) (uint32, error) {
	secOffset, byteOffset := entryLocation(cluster)
	h, err := a.cache.Get(cache.PoolInfo, blockdev.Sector(fatSector+secOffset), cache.ModeRead)
	if err != nil {
		return 0, err
	}
	defer h.Release()

	buf := make([]byte, 4)
	if err := h.Read(byteOffset, buf); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf) & entryMask, nil
}

func (a *Allocator) writeEntry(fatSector uint32, cluster uint32, value uint32) error {
	secOffset, byteOffset := entryLocation(cluster)
	h, err := a.cache.Get(cache.PoolInfo, blockdev.Sector(fatSector+secOffset), cache.ModeWrite)
	if err != nil {
		return err
	}
	defer h.Release()

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, value&entryMask)
	return h.Modify(byteOffset, buf)
}

// NextOf reads FAT1 for `cluster`; if that entry is BAD it falls back to
// FAT2. BAD on both sides is reported as 0 (chain end, spec.md §4.2).
func (a *Allocator) NextOf(cluster uint32) (uint32, error) {
	v1, err := a.readEntry(a.fat1Sector, cluster)
	if err != nil {
		return 0, err
	}
	if v1 != ClusterBad {
		return v1, nil
	}

	v2, err := a.readEntry(a.fat2Sector, cluster)
	if err != nil {
		return 0, err
	}
	if v2 == ClusterBad {
		return 0, nil
	}
	return v2, nil
}

// SetNext writes `value` to both FATs at the same position (spec.md
// invariant 2: both FATs agree on every live entry).
func (a *Allocator) SetNext(cluster uint32, value uint32) error {
	if err := a.writeEntry(a.fat1Sector, cluster, value); err != nil {
		return err
	}
	return a.writeEntry(a.fat2Sector, cluster, value)
}

// SetEnd terminates a chain at `cluster`.
func (a *Allocator) SetEnd(cluster uint32) error {
	return a.SetNext(cluster, ClusterEndMin)
}

// ClusterAt walks `i` hops from `start`, returning 0 if it hits FREE before
// completing all hops.
func (a *Allocator) ClusterAt(start uint32, i int) (uint32, error) {
	current := start
	for n := 0; n < i; n++ {
		next, err := a.NextOf(current)
		if err != nil {
			return 0, err
		}
		if next == ClusterFree {
			return 0, nil
		}
		current = next
	}
	return current, nil
}

// FinalOf walks the chain from `start` until it reaches END or a zero
// entry, and returns the last valid cluster.
func (a *Allocator) FinalOf(start uint32) (uint32, error) {
	if start == 0 {
		return 0, nil
	}
	current := start
	for {
		next, err := a.NextOf(current)
		if err != nil {
			return 0, err
		}
		if next == ClusterFree || IsEndOfChain(next) {
			return current, nil
		}
		current = next
	}
}

// AllOf yields the chain starting at `start` as an ordered list, terminated
// on END or a zero entry. A chain longer than the volume's cluster count
// indicates a loop and is reported as errors.ErrCorrupt (spec.md §7).
func (a *Allocator) AllOf(start uint32) ([]uint32, error) {
	if start == 0 {
		return nil, nil
	}

	chain := make([]uint32, 0, 8)
	current := start
	for {
		chain = append(chain, current)
		if uint32(len(chain)) > a.nEntries {
			return nil, errors.ErrCorrupt.WithMessage("cluster chain loop detected")
		}

		next, err := a.NextOf(current)
		if err != nil {
			return nil, err
		}
		if next == ClusterFree || IsEndOfChain(next) {
			return chain, nil
		}
		current = next
	}
}

// Count returns the length of the chain starting at `start`, 0 when start
// is 0.
func (a *Allocator) Count(start uint32) (int, error) {
	chain, err := a.AllOf(start)
	if err != nil {
		return 0, err
	}
	return len(chain), nil
}

// RepairFAT2Entry writes `value` directly to FAT2 only, bypassing the usual
// mirrored write. It exists for an fsck-style tool to resolve a divergence
// between the two tables (spec.md §9, Open Question (a)) without touching
// FAT1, which this driver always treats as authoritative except when it
// reads BAD.
func (a *Allocator) RepairFAT2Entry(cluster, value uint32) error {
	return a.writeEntry(a.fat2Sector, cluster, value)
}

// NextFreeFrom scans forward from hint+1, reading FAT1 only, and returns the
// first FREE entry. The caller is responsible for guaranteeing there is
// enough free space overall (spec.md §4.2).
func (a *Allocator) NextFreeFrom(hint uint32) (uint32, error) {
	for c := hint + 1; c < a.nEntries; c++ {
		v, err := a.readEntry(a.fat1Sector, c)
		if err != nil {
			return 0, err
		}
		if v == ClusterFree {
			return c, nil
		}
	}
	return 0, errors.ErrNoSpace.WithMessage("no free cluster found scanning from hint")
}
