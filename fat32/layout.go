// Package fat32 implements the on-disk format, FAT allocator, FS manager,
// and virtual-file abstraction of a FAT32 driver (spec.md §3-§4). This file
// covers the On-Disk Layout component: the packed boot sector, extended
// boot sector, FS-info sector, and short/long directory entries, plus their
// validation and checksum rules.
package fat32

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/go-restruct/restruct"

	"github.com/kernelfs/fat32/errors"
)

// Attribute flags for a short directory entry (spec.md §3).
const (
	AttrReadOnly  = 0x01
	AttrHidden    = 0x02
	AttrSystem    = 0x04
	AttrVolumeID  = 0x08
	AttrDirectory = 0x10
	AttrArchive   = 0x20
	// AttrLongName is the combination that marks a slot as a long-name entry.
	AttrLongName = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeID
)

const (
	// SectorSize is the fixed on-disk sector size this driver supports.
	SectorSize = 512
	// DirentSize is the size, in bytes, of one directory slot (short or long).
	DirentSize = 32
	// bootSignatureOffset is the offset of the trailing 0xAA55 marker in the
	// boot sector.
	bootSignatureOffset = 510
)

var bootSignature = [2]byte{0x55, 0xAA}

// RawBootSector is the packed BIOS Parameter Block common to FAT12/16/32,
// laid out exactly as standard formatters write it so this driver
// interoperates bit-exactly with existing images (spec.md §6).
type RawBootSector struct {
	JmpBoot            [3]byte
	OEMName             [8]byte
	BytesPerSector      uint16
	SectorsPerCluster   uint8
	ReservedSectorCount uint16
	NumFATs             uint8
	RootEntryCount      uint16
	TotalSectors16      uint16
	Media               uint8
	FATSize16           uint16
	SectorsPerTrack     uint16
	NumHeads            uint16
	HiddenSectors       uint32
	TotalSectors32      uint32
}

// RawExtendedBootSector is the FAT32-specific tail of the boot sector,
// beginning at byte offset 36 (spec.md §4.3 step 2).
type RawExtendedBootSector struct {
	FATSize32       uint32
	ExtFlags        uint16
	FSVersion       uint16
	RootCluster     uint32
	FSInfoSector    uint16
	BackupBootSector uint16
	Reserved        [12]byte
	DriveNumber     uint8
	Reserved1       uint8
	BootSignature   uint8
	VolumeID        uint32
	VolumeLabel     [11]byte
	FileSystemType  [8]byte
}

// BootSector is RawBootSector plus RawExtendedBootSector plus the derived
// geometry fields the Manager needs (spec.md §4.3 step 4).
type BootSector struct {
	RawBootSector
	RawExtendedBootSector

	BytesPerCluster  uint32
	FAT1Sector       uint32
	FAT2Sector       uint32
	DataStartSector  uint32
	TotalClusters    uint32
	DirentsPerSector uint32
}

// ParseBootSector decodes a 512-byte boot sector image and derives FAT32
// geometry. It returns errors.ErrCorrupt if the trailing signature is wrong.
func ParseBootSector(sector []byte) (*BootSector, error) {
	if len(sector) != SectorSize {
		return nil, errors.ErrInvalidArgument.WithMessage("boot sector must be exactly 512 bytes")
	}
	if sector[bootSignatureOffset] != bootSignature[0] || sector[bootSignatureOffset+1] != bootSignature[1] {
		return nil, errors.ErrCorrupt.WithMessage("boot sector missing 0xAA55 signature")
	}

	var raw RawBootSector
	if err := restruct.Unpack(sector[:36], binary.LittleEndian, &raw); err != nil {
		return nil, errors.ErrCorrupt.Wrap(err)
	}

	var ext RawExtendedBootSector
	if err := restruct.Unpack(sector[36:90], binary.LittleEndian, &ext); err != nil {
		return nil, errors.ErrCorrupt.Wrap(err)
	}

	if raw.BytesPerSector != SectorSize {
		return nil, errors.ErrCorrupt.WithMessage(
			fmt.Sprintf("unsupported bytes-per-sector %d", raw.BytesPerSector))
	}
	if raw.SectorsPerCluster == 0 || (raw.SectorsPerCluster&(raw.SectorsPerCluster-1)) != 0 {
		return nil, errors.ErrCorrupt.WithMessage(
			fmt.Sprintf("sectors-per-cluster must be a power of 2, got %d", raw.SectorsPerCluster))
	}
	if raw.NumFATs != 2 {
		return nil, errors.ErrCorrupt.WithMessage(
			fmt.Sprintf("this driver requires exactly 2 FATs, got %d", raw.NumFATs))
	}

	fat1 := uint32(raw.ReservedSectorCount)
	fat2 := fat1 + ext.FATSize32
	dataStart := fat1 + uint32(raw.NumFATs)*ext.FATSize32

	totalSectors := raw.TotalSectors32
	if totalSectors == 0 {
		totalSectors = uint32(raw.TotalSectors16)
	}

	var totalClusters uint32
	if totalSectors > dataStart {
		totalClusters = (totalSectors - dataStart) / uint32(raw.SectorsPerCluster)
	}

	return &BootSector{
		RawBootSector:         raw,
		RawExtendedBootSector: ext,
		BytesPerCluster:       uint32(raw.SectorsPerCluster) * uint32(raw.BytesPerSector),
		FAT1Sector:            fat1,
		FAT2Sector:            fat2,
		DataStartSector:       dataStart,
		TotalClusters:         totalClusters,
		DirentsPerSector:      SectorSize / DirentSize,
	}, nil
}

// FirstSectorOfCluster maps a cluster number to the sector where it begins
// (spec.md §3, "Cluster").
func (b *BootSector) FirstSectorOfCluster(cluster uint32) uint32 {
	return b.DataStartSector + (cluster-2)*uint32(b.SectorsPerCluster)
}

// Pack serializes the BPB and extended boot sector back into a 512-byte
// image, used by the image formatter (spec.md §4.6 domain-stack: mkfs).
func (b *BootSector) Pack() ([]byte, error) {
	head, err := restruct.Pack(binary.LittleEndian, &b.RawBootSector)
	if err != nil {
		return nil, err
	}
	tail, err := restruct.Pack(binary.LittleEndian, &b.RawExtendedBootSector)
	if err != nil {
		return nil, err
	}

	sector := make([]byte, SectorSize)
	copy(sector, head)
	copy(sector[36:], tail)
	sector[bootSignatureOffset] = bootSignature[0]
	sector[bootSignatureOffset+1] = bootSignature[1]
	return sector, nil
}

// -----------------------------------------------------------------------
// FS-info sector (spec.md §3, "File-system info sector").

const (
	fsInfoLeadSignature  = 0x41615252
	fsInfoStructSignature = 0x61417272
	fsInfoTrailSignature = 0xAA550000
)

// RawFSInfo is the packed layout of the FS-info sector.
type RawFSInfo struct {
	LeadSignature   uint32
	Reserved1       [480]byte
	StructSignature uint32
	FreeCount       uint32
	NextFree        uint32
	Reserved2       [12]byte
	TrailSignature  uint32
}

// ParseFSInfo decodes the FS-info sector, verifying both magic sentinels.
func ParseFSInfo(sector []byte) (*RawFSInfo, error) {
	if len(sector) != SectorSize {
		return nil, errors.ErrInvalidArgument.WithMessage("fs-info sector must be exactly 512 bytes")
	}

	var info RawFSInfo
	if err := restruct.Unpack(sector, binary.LittleEndian, &info); err != nil {
		return nil, errors.ErrCorrupt.Wrap(err)
	}

	if info.LeadSignature != fsInfoLeadSignature {
		return nil, errors.ErrCorrupt.WithMessage("fs-info lead signature mismatch")
	}
	if info.StructSignature != fsInfoStructSignature {
		return nil, errors.ErrCorrupt.WithMessage("fs-info struct signature mismatch")
	}

	return &info, nil
}

// Pack serializes the FS-info sector back into 512 bytes, e.g. after the
// Manager updates FreeCount/NextFree.
func (f *RawFSInfo) Pack() ([]byte, error) {
	f.TrailSignature = fsInfoTrailSignature
	return restruct.Pack(binary.LittleEndian, f)
}

// -----------------------------------------------------------------------
// Short directory entry (spec.md §3, "Short directory entry").

// RawShortDirent is the packed 32-byte short directory entry.
type RawShortDirent struct {
	Name              [8]byte
	Extension         [3]byte
	Attributes        uint8
	NTReserved        uint8
	CreatedTimeTenths uint8
	CreatedTime       uint16
	CreatedDate       uint16
	LastAccessDate    uint16
	FirstClusterHigh  uint16
	LastModifiedTime  uint16
	LastModifiedDate  uint16
	FirstClusterLow   uint16
	FileSize          uint32
}

const (
	direntFree       = 0x00
	direntDeleted    = 0xE5
	direntDeletedKanji = 0x05 // first byte is legitimately 0xE5
)

// ParseShortDirent unpacks one 32-byte directory slot.
func ParseShortDirent(data []byte) (*RawShortDirent, error) {
	if len(data) != DirentSize {
		return nil, errors.ErrInvalidArgument.WithMessage("directory slot must be exactly 32 bytes")
	}
	var d RawShortDirent
	if err := restruct.Unpack(data, binary.LittleEndian, &d); err != nil {
		return nil, errors.ErrCorrupt.Wrap(err)
	}
	return &d, nil
}

// Pack serializes a short directory entry back to 32 bytes.
func (d *RawShortDirent) Pack() ([]byte, error) {
	return restruct.Pack(binary.LittleEndian, d)
}

// IsFree reports whether this slot's first byte is the terminator (0x00):
// a hard stop for directory iteration (spec.md §3, invariant 4).
func (d *RawShortDirent) IsFree() bool {
	return d.Name[0] == direntFree
}

// IsDeleted reports whether this slot has been deleted (first byte 0xE5).
func (d *RawShortDirent) IsDeleted() bool {
	return d.Name[0] == direntDeleted
}

// IsLongNameSlot reports whether this 32-byte record is actually a long-name
// slot wearing the short-entry attribute byte (AttrLongName == 0x0F).
func (d *RawShortDirent) IsLongNameSlot() bool {
	return d.Attributes == AttrLongName
}

// FirstCluster reassembles the 32-bit cluster number from its high/low halves.
func (d *RawShortDirent) FirstCluster() uint32 {
	return (uint32(d.FirstClusterHigh) << 16) | uint32(d.FirstClusterLow)
}

// SetFirstCluster splits a 32-bit cluster number into the high/low halves.
func (d *RawShortDirent) SetFirstCluster(cluster uint32) {
	d.FirstClusterHigh = uint16(cluster >> 16)
	d.FirstClusterLow = uint16(cluster & 0xFFFF)
}

// ShortName reconstructs the "NAME.EXT" form from the padded name/extension
// fields, lower-cased per the driver's display convention.
func (d *RawShortDirent) ShortName() string {
	name := strings.TrimRight(string(d.Name[:]), " ")
	ext := strings.TrimRight(string(d.Extension[:]), " ")
	name = strings.ToLower(name)
	ext = strings.ToLower(ext)
	if ext == "" {
		return name
	}
	return name + "." + ext
}

// ShortEntryChecksum computes the rotate-add checksum over the 11 bytes of
// name+extension (spec.md §3, "Checksum"). Every long-name slot belonging to
// this short entry carries this value.
func ShortEntryChecksum(name [8]byte, ext [3]byte) uint8 {
	var sum uint8
	for _, b := range name {
		sum = rotateRight1(sum) + b
	}
	for _, b := range ext {
		sum = rotateRight1(sum) + b
	}
	return sum
}

func rotateRight1(v uint8) uint8 {
	return (v >> 1) | (v << 7)
}

// -----------------------------------------------------------------------
// Long directory entry (spec.md §3, "Long directory entry").

// RawLongDirent is the packed 32-byte long-name directory entry.
type RawLongDirent struct {
	Order            uint8
	Name1            [10]byte // 5 UCS-2 code units
	Attributes       uint8    // always AttrLongName
	Type             uint8
	Checksum         uint8
	Name2            [12]byte // 6 UCS-2 code units
	FirstClusterLow  uint16   // always 0
	Name3            [4]byte // 2 UCS-2 code units
}

// longEntryLastSlotBit marks the physically-first (logically-last) slot of
// a long-name chain in the Order byte.
const longEntryLastSlotBit = 0x40

// ParseLongDirent unpacks one 32-byte long-name slot.
func ParseLongDirent(data []byte) (*RawLongDirent, error) {
	if len(data) != DirentSize {
		return nil, errors.ErrInvalidArgument.WithMessage("directory slot must be exactly 32 bytes")
	}
	var d RawLongDirent
	if err := restruct.Unpack(data, binary.LittleEndian, &d); err != nil {
		return nil, errors.ErrCorrupt.Wrap(err)
	}
	return &d, nil
}

// Pack serializes a long directory entry back to 32 bytes.
func (d *RawLongDirent) Pack() ([]byte, error) {
	return restruct.Pack(binary.LittleEndian, d)
}

// SequenceNumber is the low 6 bits of Order: the slot's 1-based position
// counting from the slot physically closest to the short entry.
func (d *RawLongDirent) SequenceNumber() int {
	return int(d.Order & 0x3F)
}

// IsLastLogicalSlot reports whether this is the slot physically farthest
// from the short entry — the logically-last slot, bit 0x40 set.
func (d *RawLongDirent) IsLastLogicalSlot() bool {
	return d.Order&longEntryLastSlotBit != 0
}

// chunk returns the 13 raw bytes (one byte per ASCII code unit, per
// spec.md §4.3 "Long-name split": this driver restricts names to ASCII)
// this slot encodes, in order.
func (d *RawLongDirent) chunk() [13]byte {
	var out [13]byte
	copy(out[0:5], evenBytes(d.Name1[:]))
	copy(out[5:11], evenBytes(d.Name2[:]))
	copy(out[11:13], evenBytes(d.Name3[:]))
	return out
}

// evenBytes extracts the low byte of each UCS-2 code unit, since this
// driver only supports ASCII long names (spec.md §1, Non-goals).
func evenBytes(ucs2 []byte) []byte {
	out := make([]byte, len(ucs2)/2)
	for i := range out {
		out[i] = ucs2[i*2]
	}
	return out
}

// setChunk writes up to 13 ASCII bytes into the three name fields as UCS-2
// code units (high byte 0), per the codec rules in spec.md §4.5.
func (d *RawLongDirent) setChunk(chunk [13]byte) {
	setUCS2(d.Name1[:], chunk[0:5])
	setUCS2(d.Name2[:], chunk[5:11])
	setUCS2(d.Name3[:], chunk[11:13])
}

func setUCS2(dst []byte, src []byte) {
	for i, b := range src {
		dst[i*2] = b
		dst[i*2+1] = 0
	}
}
