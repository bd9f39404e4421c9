package fat32

import (
	"iter"
	"strings"
	"time"

	"github.com/kernelfs/fat32/blockdev"
	"github.com/kernelfs/fat32/cache"
	"github.com/kernelfs/fat32/errors"
)

// fatEpoch is the earliest date a FAT timestamp can represent.
var fatEpoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// DateFromFAT converts a packed FAT date field into a time.Time at midnight
// UTC (spec.md §4.4 "stat"): date = (year-1980)<<9 | month<<5 | day.
func DateFromFAT(value uint16) time.Time {
	day := int(value & 0x1F)
	month := time.Month((value >> 5) & 0x0F)
	year := 1980 + int(value>>9)
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DateToFAT packs a time.Time into a FAT date field.
func DateToFAT(t time.Time) uint16 {
	return uint16((t.Year()-1980)<<9 | int(t.Month())<<5 | t.Day())
}

// TimeFromFAT converts a packed FAT date+time pair into a time.Time: time =
// hour<<11 | minute<<5 | seconds/2 (spec.md §4.4 "stat").
func TimeFromFAT(datePart, timePart uint16) time.Time {
	d := DateFromFAT(datePart)
	seconds := int(timePart&0x1F) * 2
	minutes := int((timePart >> 5) & 0x3F)
	hours := int(timePart >> 11)
	return time.Date(d.Year(), d.Month(), d.Day(), hours, minutes, seconds, 0, time.UTC)
}

// TimeToFAT packs a time.Time into a FAT time field.
func TimeToFAT(t time.Time) uint16 {
	return uint16(t.Hour()<<11 | t.Minute()<<5 | t.Second()/2)
}

// DirEntry is one logical entry produced by directory iteration: the
// assembled name plus the fields getdents-style callers need (spec.md §6,
// "Driver surface").
type DirEntry struct {
	Name         string
	Attribute    uint8
	FirstCluster uint32
	// NextOffset is the byte offset, within this directory's slot stream, of
	// the slot immediately following this entry's short slot: a
	// getdents-style cursor (spec.md §6, "Iterate"). Iterate itself always
	// starts at the first slot; it takes no starting offset.
	NextOffset uint32
}

// Stat is the caller-facing metadata snapshot of an open entry (spec.md
// §4.4, "stat").
type Stat struct {
	Size         uint32
	FirstCluster uint32
	Attribute    uint8
	CreatedAt    time.Time
	ModifiedAt   time.Time
	AccessedAt   time.Time
}

// slotPos addresses one 32-byte directory slot by its absolute sector and
// the slot index within that sector.
type slotPos struct {
	sector uint32
	index  int
}

// VirtualFile implements the Virtual File component (spec.md §4.4): it
// carries the absolute on-disk coordinates of one directory entry's short
// slot and its preceding long slots. Every mutation writes through these
// coordinates; they are only recomputed on rename or relocation, neither of
// which this driver implements.
type VirtualFile struct {
	mgr *Manager

	short    RawShortDirent
	shortPos slotPos
	longPos  []slotPos // physical (on-disk) order, farthest-from-short first

	isRoot bool
}

// pool returns the cache pool this entry's content lives in: directories
// live in PoolInfo alongside the FAT and FS-info, file content lives in
// PoolData.
func (vf *VirtualFile) pool() cache.Pool {
	if vf.IsDir() {
		return cache.PoolInfo
	}
	return cache.PoolData
}

// IsDir reports whether this entry is a directory.
func (vf *VirtualFile) IsDir() bool {
	return vf.short.Attributes&AttrDirectory != 0
}

// OpenRoot returns a VirtualFile over the volume's synthesized root
// directory (spec.md §9, Open Question (c)).
func (m *Manager) OpenRoot() (*VirtualFile, error) {
	return &VirtualFile{mgr: m, short: m.RootEntry(), isRoot: true}, nil
}

// -----------------------------------------------------------------------
// Directory slot iteration.

func (vf *VirtualFile) sectorsPerCluster() uint32 {
	return uint32(vf.mgr.BootSector().SectorsPerCluster)
}

func (vf *VirtualFile) direntsPerSector() int {
	return int(vf.mgr.BootSector().DirentsPerSector)
}

// iterateSlots yields every 32-byte directory slot in this entry's cluster
// chain, in order, stopping at the end of the chain. It never allocates a
// new cluster; create() does that separately when it runs out of room
// (spec.md §9, "Directory iteration as a lazy sequence").
func (vf *VirtualFile) iterateSlots() iter.Seq2[slotPos, []byte] {
	return func(yield func(slotPos, []byte) bool) {
		cluster := vf.firstContentCluster()
		if cluster == 0 {
			return
		}

		for {
			firstSector := vf.mgr.BootSector().FirstSectorOfCluster(cluster)
			for s := uint32(0); s < vf.sectorsPerCluster(); s++ {
				sector := firstSector + s
				h, err := vf.mgr.Cache.Get(cache.PoolInfo, blockdev.Sector(sector), cache.ModeRead)
				if err != nil {
					return
				}
				buf := make([]byte, SectorSize)
				readErr := h.Read(0, buf)
				h.Release()
				if readErr != nil {
					return
				}

				for i := 0; i < vf.direntsPerSector(); i++ {
					raw := buf[i*DirentSize : (i+1)*DirentSize]
					if !yield(slotPos{sector: sector, index: i}, raw) {
						return
					}
				}
			}

			next, err := vf.mgr.Alloc.NextOf(cluster)
			if err != nil || next == ClusterFree || IsEndOfChain(next) {
				return
			}
			cluster = next
		}
	}
}

// readSlotAt reads the 32-byte slot at pos.
func (vf *VirtualFile) readSlotAt(pos slotPos) ([]byte, error) {
	h, err := vf.mgr.Cache.Get(cache.PoolInfo, blockdev.Sector(pos.sector), cache.ModeRead)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	buf := make([]byte, SectorSize)
	if err := h.Read(0, buf); err != nil {
		return nil, err
	}
	return buf[pos.index*DirentSize : (pos.index+1)*DirentSize], nil
}

// writeSlotAt overwrites the 32-byte slot at pos.
func (vf *VirtualFile) writeSlotAt(pos slotPos, raw []byte) error {
	h, err := vf.mgr.Cache.Get(cache.PoolInfo, blockdev.Sector(pos.sector), cache.ModeWrite)
	if err != nil {
		return err
	}
	defer h.Release()
	return h.Modify(pos.index*DirentSize, raw)
}

// -----------------------------------------------------------------------
// find_by_path / ls (spec.md §4.4).

// longNameAssembler buffers long-name slots encountered during iteration in
// physical order, which is highest-order chunk first since long entries are
// laid out in reverse; resolve puts them back into logical order (spec.md
// §4.4, "find_by_path").
type longNameAssembler struct {
	slots []*RawLongDirent
}

func (a *longNameAssembler) add(d *RawLongDirent) {
	a.slots = append(a.slots, d)
}

func (a *longNameAssembler) reset() {
	a.slots = nil
}

// resolve returns the assembled name if the checksum matches short, or ""
// if the buffer is empty or doesn't match (spec.md invariant 5; a mismatch
// is not an error, just a fallback to the short name).
func (a *longNameAssembler) resolve(short *RawShortDirent) string {
	if len(a.slots) == 0 {
		return ""
	}

	// a.slots was appended in physical (reverse) order; logical order is
	// the reverse of that.
	logical := make([]*RawLongDirent, len(a.slots))
	for i, s := range a.slots {
		logical[len(a.slots)-1-i] = s
	}

	checksum := ShortEntryChecksum(short.Name, short.Extension)
	for _, s := range logical {
		if s.Checksum != checksum {
			return ""
		}
	}
	return DecodeLongName(logical)
}

// Iterate lazily walks this directory's logical entries one slot group at a
// time instead of materializing the whole listing up front (spec.md §4.7,
// "Iterate"; spec.md §9, "resist materializing the whole directory"). Each
// yielded DirEntry carries NextOffset, a getdents-style cursor; a new call
// always starts from the first slot. Iteration stops at the first error, which
// is delivered as the second yielded value with a zero DirEntry.
func (vf *VirtualFile) Iterate() iter.Seq2[DirEntry, error] {
	return func(yield func(DirEntry, error) bool) {
		if !vf.IsDir() {
			yield(DirEntry{}, errors.ErrNotADirectory)
			return
		}

		var assembler longNameAssembler
		var offset uint32

		for _, raw := range vf.iterateSlots() {
			offset += DirentSize

			if raw[0] == direntFree {
				return
			}
			if raw[0] == direntDeleted {
				assembler.reset()
				continue
			}

			if raw[11] == AttrLongName {
				d, err := ParseLongDirent(raw)
				if err != nil {
					yield(DirEntry{}, err)
					return
				}
				assembler.add(d)
				continue
			}

			short, err := ParseShortDirent(raw)
			if err != nil {
				yield(DirEntry{}, err)
				return
			}
			name := assembler.resolve(short)
			if name == "" {
				name = short.ShortName()
			}
			assembler.reset()

			if !yield(DirEntry{
				Name:         name,
				Attribute:    short.Attributes,
				FirstCluster: short.FirstCluster(),
				NextOffset:   offset,
			}, nil) {
				return
			}
		}
	}
}

// ls materializes every non-deleted logical entry of a directory atop
// Iterate (spec.md §4.4, "ls"). Most callers want the lazy form; this one
// exists for small directories and the CLI/FUSE front-ends that need a full
// listing anyway.
func (vf *VirtualFile) ls() ([]DirEntry, error) {
	var out []DirEntry
	for entry, err := range vf.Iterate() {
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// Ls is the exported entry point for ls().
func (vf *VirtualFile) Ls() ([]DirEntry, error) { return vf.ls() }

// findChild resolves a single path component against this directory's
// entries, returning the matching short slot, its position, and the
// positions of its preceding long slots in physical order.
func (vf *VirtualFile) findChild(component string) (RawShortDirent, slotPos, []slotPos, error) {
	if !vf.IsDir() {
		return RawShortDirent{}, slotPos{}, nil, errors.ErrNotADirectory
	}

	var assembler longNameAssembler
	var pendingPositions []slotPos

	for pos, raw := range vf.iterateSlots() {
		if raw[0] == direntFree {
			break
		}
		if raw[0] == direntDeleted {
			assembler.reset()
			pendingPositions = nil
			continue
		}

		if raw[11] == AttrLongName {
			d, err := ParseLongDirent(raw)
			if err != nil {
				return RawShortDirent{}, slotPos{}, nil, err
			}
			assembler.add(d)
			pendingPositions = append(pendingPositions, pos)
			continue
		}

		short, err := ParseShortDirent(raw)
		if err != nil {
			return RawShortDirent{}, slotPos{}, nil, err
		}
		name := assembler.resolve(short)
		if name == "" {
			name = short.ShortName()
		}

		if name == component || strings.EqualFold(short.ShortName(), component) {
			return *short, pos, pendingPositions, nil
		}

		assembler.reset()
		pendingPositions = nil
	}

	return RawShortDirent{}, slotPos{}, nil, errors.ErrNotFound
}

// OpenPath resolves a '/'-separated path starting from this entry, which
// must be a directory (spec.md §4.4, "find_by_path").
func (vf *VirtualFile) OpenPath(path string) (*VirtualFile, error) {
	current := vf
	for _, c := range splitPath(path) {
		if c == "" {
			continue
		}
		short, pos, longPositions, err := current.findChild(c)
		if err != nil {
			return nil, err
		}
		current = &VirtualFile{
			mgr:      vf.mgr,
			short:    short,
			shortPos: pos,
			longPos:  longPositions,
		}
	}
	return current, nil
}

func splitPath(path string) []string {
	return strings.Split(strings.Trim(path, "/"), "/")
}

// -----------------------------------------------------------------------
// create / remove / clear (spec.md §4.4).

// create adds a new directory entry named `name` with the given attribute
// under this directory. File content allocation is deferred to the first
// GrowTo (WriteAt never allocates); directories are allocated one cluster
// immediately and seeded with
// `.` and `..` (spec.md §4.4, "create").
func (vf *VirtualFile) create(name string, attribute uint8) (*VirtualFile, error) {
	if !vf.IsDir() {
		return nil, errors.ErrNotADirectory
	}
	if _, _, _, err := vf.findChild(name); err == nil {
		return nil, errors.ErrExists
	}

	longSlots, err := SplitLongName(name, true)
	if err != nil {
		return nil, err
	}
	k := len(longSlots) + 1

	base, ext := SplitShortName(SynthesizeShortName(name))
	checksum := ShortEntryChecksum(base, ext)

	encoded, err := EncodeLongNameSlots(name, checksum)
	if err != nil {
		return nil, err
	}

	short := RawShortDirent{Name: base, Extension: ext, Attributes: attribute}
	now := time.Now().UTC()
	short.CreatedDate = DateToFAT(now)
	short.CreatedTime = TimeToFAT(now)
	short.LastModifiedDate = short.CreatedDate
	short.LastModifiedTime = short.CreatedTime
	short.LastAccessDate = short.CreatedDate

	if attribute&AttrDirectory != 0 {
		cluster, err := vf.mgr.AllocCluster(1, cache.PoolInfo)
		if err != nil {
			return nil, err
		}
		short.SetFirstCluster(cluster)
		if err := vf.initDotEntries(cluster); err != nil {
			return nil, err
		}
	}

	positions, err := vf.reserveSlots(k)
	if err != nil {
		return nil, err
	}

	// positions is in physical directory order: long slots first (in
	// physical/reverse order, matching `encoded`), then the short slot.
	for i, d := range encoded {
		raw, err := d.Pack()
		if err != nil {
			return nil, err
		}
		if err := vf.writeSlotAt(positions[i], raw); err != nil {
			return nil, err
		}
	}
	shortRaw, err := short.Pack()
	if err != nil {
		return nil, err
	}
	shortPos := positions[len(positions)-1]
	if err := vf.writeSlotAt(shortPos, shortRaw); err != nil {
		return nil, err
	}

	if err := vf.mgr.Cache.WriteBack(); err != nil {
		return nil, err
	}

	return &VirtualFile{
		mgr:      vf.mgr,
		short:    short,
		shortPos: shortPos,
		longPos:  positions[:len(positions)-1],
	}, nil
}

// Create is the exported entry point for create().
func (vf *VirtualFile) Create(name string, attribute uint8) (*VirtualFile, error) {
	return vf.create(name, attribute)
}

// initDotEntries writes the `.` and `..` short entries into a freshly
// allocated directory cluster (spec.md §4.4, "create").
func (vf *VirtualFile) initDotEntries(cluster uint32) error {
	firstSector := vf.mgr.BootSector().FirstSectorOfCluster(cluster)

	dot := RawShortDirent{Attributes: AttrDirectory}
	copy(dot.Name[:], ".       ")
	copy(dot.Extension[:], "   ")
	dot.SetFirstCluster(cluster)

	dotdot := RawShortDirent{Attributes: AttrDirectory}
	copy(dotdot.Name[:], "..      ")
	copy(dotdot.Extension[:], "   ")
	if !vf.isRoot {
		dotdot.SetFirstCluster(vf.short.FirstCluster())
	}

	dotRaw, err := dot.Pack()
	if err != nil {
		return err
	}
	dotdotRaw, err := dotdot.Pack()
	if err != nil {
		return err
	}

	h, err := vf.mgr.Cache.Get(cache.PoolInfo, blockdev.Sector(firstSector), cache.ModeWrite)
	if err != nil {
		return err
	}
	defer h.Release()

	if err := h.Modify(0, dotRaw); err != nil {
		return err
	}
	return h.Modify(DirentSize, dotdotRaw)
}

// reserveSlots finds (or makes room for) k contiguous logical directory
// slots: a run of k deleted slots, or the terminator slot plus however many
// slots follow it in chain order, extending the chain with fresh clusters
// until k slots are available (spec.md §4.4, "create").
func (vf *VirtualFile) reserveSlots(k int) ([]slotPos, error) {
	var positions []slotPos
	runStart := -1
	terminatorIdx := -1

	for pos, raw := range vf.iterateSlots() {
		positions = append(positions, pos)
		i := len(positions) - 1

		switch {
		case raw[0] == direntDeleted:
			if runStart == -1 {
				runStart = i
			}
			if i-runStart+1 == k {
				return positions[runStart : runStart+k], nil
			}
		case raw[0] == direntFree:
			if terminatorIdx == -1 {
				terminatorIdx = i
			}
		default:
			runStart = -1
		}

		if terminatorIdx >= 0 && len(positions)-terminatorIdx >= k {
			break
		}
	}

	if terminatorIdx == -1 {
		terminatorIdx = len(positions)
	}

	for len(positions)-terminatorIdx < k {
		more, err := vf.appendCluster()
		if err != nil {
			return nil, err
		}
		positions = append(positions, more...)
	}

	return positions[terminatorIdx : terminatorIdx+k], nil
}

// appendCluster allocates one cluster onto the end of this directory's
// chain and returns the slot positions it contributes.
func (vf *VirtualFile) appendCluster() ([]slotPos, error) {
	cluster := vf.firstContentCluster()

	newCluster, err := vf.mgr.AllocCluster(1, cache.PoolInfo)
	if err != nil {
		return nil, err
	}

	if err := vf.mgr.LinkChain(cluster, newCluster); err != nil {
		return nil, err
	}

	firstSector := vf.mgr.BootSector().FirstSectorOfCluster(newCluster)
	perSector := vf.direntsPerSector()
	total := int(vf.sectorsPerCluster()) * perSector
	positions := make([]slotPos, 0, total)
	for i := 0; i < total; i++ {
		positions = append(positions, slotPos{
			sector: firstSector + uint32(i/perSector),
			index:  i % perSector,
		})
	}
	return positions, nil
}

func (vf *VirtualFile) firstContentCluster() uint32 {
	if vf.isRoot {
		return RootCluster
	}
	return vf.short.FirstCluster()
}

// persistShort rewrites this entry's own short slot, e.g. after size or
// first-cluster changes. The root's synthesized entry is never persisted
// (spec.md §9, Open Question (c)).
func (vf *VirtualFile) persistShort() error {
	if vf.isRoot {
		return nil
	}
	raw, err := vf.short.Pack()
	if err != nil {
		return err
	}
	return vf.writeSlotAt(vf.shortPos, raw)
}

// remove marks this entry's short slot and all its long slots as deleted.
// Files and empty directories have their cluster chain deallocated; a
// non-empty directory cannot be removed (spec.md §4.4, "remove").
func (vf *VirtualFile) remove() error {
	if vf.isRoot {
		return errors.ErrInvalidArgument.WithMessage("cannot remove the root directory")
	}

	if vf.IsDir() {
		children, err := vf.ls()
		if err != nil {
			return err
		}
		for _, c := range children {
			if c.Name != "." && c.Name != ".." {
				return errors.ErrNotEmpty
			}
		}
	}

	for _, pos := range vf.longPos {
		if err := vf.markDeletedAt(pos); err != nil {
			return err
		}
	}
	if err := vf.markDeletedAt(vf.shortPos); err != nil {
		return err
	}

	if cluster := vf.short.FirstCluster(); cluster != 0 {
		chain, err := vf.mgr.Alloc.AllOf(cluster)
		if err != nil {
			return err
		}
		if err := vf.mgr.DeallocCluster(chain); err != nil {
			return err
		}
	}

	return vf.mgr.Cache.WriteBack()
}

// Remove is the exported entry point for remove().
func (vf *VirtualFile) Remove() error { return vf.remove() }

func (vf *VirtualFile) markDeletedAt(pos slotPos) error {
	raw, err := vf.readSlotAt(pos)
	if err != nil {
		return err
	}
	marked := append([]byte(nil), raw...)
	marked[0] = direntDeleted
	return vf.writeSlotAt(pos, marked)
}

// clear truncates this entry's content to zero length, retaining the
// directory slot itself (spec.md §4.4, "clear").
func (vf *VirtualFile) clear() error {
	if cluster := vf.short.FirstCluster(); cluster != 0 {
		chain, err := vf.mgr.Alloc.AllOf(cluster)
		if err != nil {
			return err
		}
		if err := vf.mgr.DeallocCluster(chain); err != nil {
			return err
		}
	}

	vf.short.FileSize = 0
	vf.short.SetFirstCluster(0)
	if err := vf.persistShort(); err != nil {
		return err
	}
	return vf.mgr.Cache.WriteBack()
}

// Clear is the exported entry point for clear().
func (vf *VirtualFile) Clear() error { return vf.clear() }

// -----------------------------------------------------------------------
// read_at / write_at / grow_to (spec.md §4.4).

func (vf *VirtualFile) contentBound() uint32 {
	if vf.IsDir() {
		count, _ := vf.mgr.Alloc.Count(vf.firstContentCluster())
		return uint32(count) * vf.mgr.BootSector().BytesPerCluster
	}
	return vf.short.FileSize
}

// readAt copies into buf starting at byte offset off, bounded by file size
// (or allocated directory extent), returning the number of bytes actually
// copied (spec.md §4.4, "read_at").
func (vf *VirtualFile) readAt(off int64, buf []byte) (int, error) {
	bound := int64(vf.contentBound())
	if off >= bound {
		return 0, nil
	}
	end := off + int64(len(buf))
	if end > bound {
		end = bound
	}
	toRead := int(end - off)

	cluster := vf.firstContentCluster()
	if cluster == 0 {
		return 0, nil
	}

	bytesPerCluster := int64(vf.mgr.BootSector().BytesPerCluster)
	copied := 0
	pool := vf.pool()

	for copied < toRead {
		pos := off + int64(copied)
		hop := int(pos / bytesPerCluster)
		intra := pos % bytesPerCluster
		sectorInCluster := uint32(intra / SectorSize)
		byteInSector := int(intra % SectorSize)

		c, err := vf.mgr.Alloc.ClusterAt(cluster, hop)
		if err != nil {
			return copied, err
		}
		if c == 0 {
			break
		}

		sector := vf.mgr.BootSector().FirstSectorOfCluster(c) + sectorInCluster
		n := SectorSize - byteInSector
		if remaining := toRead - copied; n > remaining {
			n = remaining
		}

		h, err := vf.mgr.Cache.Get(pool, blockdev.Sector(sector), cache.ModeRead)
		if err != nil {
			return copied, err
		}
		readErr := h.Read(byteInSector, buf[copied:copied+n])
		h.Release()
		if readErr != nil {
			return copied, readErr
		}
		copied += n
	}

	return copied, nil
}

// ReadAt is the exported entry point for read_at.
func (vf *VirtualFile) ReadAt(off int64, buf []byte) (int, error) { return vf.readAt(off, buf) }

// writeAt writes buf starting at byte offset off. It never grows the
// entry; callers must call GrowTo first if off+len(buf) exceeds the current
// size (spec.md §4.4, "write_at").
func (vf *VirtualFile) writeAt(off int64, buf []byte) (int, error) {
	bound := int64(vf.contentBound())
	if off+int64(len(buf)) > bound {
		return 0, errors.ErrInvalidArgument.WithMessage("write_at does not implicitly grow a file")
	}

	cluster := vf.firstContentCluster()
	if cluster == 0 {
		return 0, nil
	}

	bytesPerCluster := int64(vf.mgr.BootSector().BytesPerCluster)
	written := 0
	pool := vf.pool()

	for written < len(buf) {
		pos := off + int64(written)
		hop := int(pos / bytesPerCluster)
		intra := pos % bytesPerCluster
		sectorInCluster := uint32(intra / SectorSize)
		byteInSector := int(intra % SectorSize)

		c, err := vf.mgr.Alloc.ClusterAt(cluster, hop)
		if err != nil {
			return written, err
		}
		if c == 0 {
			break
		}

		sector := vf.mgr.BootSector().FirstSectorOfCluster(c) + sectorInCluster
		n := SectorSize - byteInSector
		if remaining := len(buf) - written; n > remaining {
			n = remaining
		}

		h, err := vf.mgr.Cache.Get(pool, blockdev.Sector(sector), cache.ModeWrite)
		if err != nil {
			return written, err
		}
		writeErr := h.Modify(byteInSector, buf[written:written+n])
		h.Release()
		if writeErr != nil {
			return written, writeErr
		}
		written += n
	}

	if err := vf.mgr.Cache.WriteBack(); err != nil {
		return written, err
	}
	return written, nil
}

// WriteAt is the exported entry point for write_at.
func (vf *VirtualFile) WriteAt(off int64, buf []byte) (int, error) { return vf.writeAt(off, buf) }

// grow_to extends a file's allocation to cover newSize bytes, chaining
// additional clusters from the Manager and persisting the new size in the
// short slot (spec.md §4.4, "grow_to"). It is a no-op, not an error, if
// newSize is already covered.
func (vf *VirtualFile) growTo(newSize uint32) error {
	if newSize <= vf.short.FileSize {
		return nil
	}

	bytesPerCluster := vf.mgr.BootSector().BytesPerCluster
	currentClusters := 0
	if vf.short.FirstCluster() != 0 {
		n, err := vf.mgr.Alloc.Count(vf.short.FirstCluster())
		if err != nil {
			return err
		}
		currentClusters = n
	}

	neededClusters := int((newSize + bytesPerCluster - 1) / bytesPerCluster)
	additional := neededClusters - currentClusters
	if additional > 0 {
		first, err := vf.mgr.AllocCluster(additional, cache.PoolData)
		if err != nil {
			return err
		}
		if vf.short.FirstCluster() == 0 {
			vf.short.SetFirstCluster(first)
		} else if err := vf.mgr.LinkChain(vf.short.FirstCluster(), first); err != nil {
			return err
		}
	}

	vf.short.FileSize = newSize
	if err := vf.persistShort(); err != nil {
		return err
	}
	return vf.mgr.Cache.WriteBack()
}

// GrowTo is the exported entry point for grow_to.
func (vf *VirtualFile) GrowTo(newSize uint32) error { return vf.growTo(newSize) }

// -----------------------------------------------------------------------
// stat (spec.md §4.4, "stat").

func (vf *VirtualFile) stat() Stat {
	return Stat{
		Size:         vf.short.FileSize,
		FirstCluster: vf.short.FirstCluster(),
		Attribute:    vf.short.Attributes,
		CreatedAt:    TimeFromFAT(vf.short.CreatedDate, vf.short.CreatedTime),
		ModifiedAt:   TimeFromFAT(vf.short.LastModifiedDate, vf.short.LastModifiedTime),
		AccessedAt:   DateFromFAT(vf.short.LastAccessDate),
	}
}

// Stat is the exported entry point for stat().
func (vf *VirtualFile) Stat() Stat { return vf.stat() }
