package mkfs

import (
	"encoding/binary"

	"github.com/noxer/bytewriter"

	"github.com/kernelfs/fat32/blockdev"
	"github.com/kernelfs/fat32/errors"
	"github.com/kernelfs/fat32/fat32"
)

// Format lays out a brand new FAT32 volume on dev according to g: a boot
// sector plus extended boot sector, an FS-info sector, two zeroed FAT
// mirrors with the root cluster terminated, and a zeroed one-cluster root
// directory (spec.md §4.6 domain stack).
//
// The FAT size this derives is an approximation of the standard formatter
// algorithm (up to four refinements of the data-region estimate), not a bit-exact
// replica of any particular reference formatter's rounding; volumes this
// produces mount and operate correctly but won't match another formatter's
// sector-for-sector FAT size on the same device size.
func Format(dev blockdev.Device, g Geometry, volumeLabel string) (*fat32.BootSector, error) {
	if g.BytesPerSector != fat32.SectorSize {
		return nil, errors.ErrInvalidArgument.WithMessage("only 512-byte sectors are supported")
	}
	if g.NumFATs != 2 {
		return nil, errors.ErrInvalidArgument.WithMessage("this driver requires exactly 2 FATs")
	}

	totalSectors := uint32(g.SectorCount())
	if uint64(totalSectors) > dev.TotalSectors() {
		return nil, errors.ErrInvalidArgument.WithMessage("device is smaller than the requested geometry")
	}

	fatSectors := g.FATSectors
	if fatSectors == 0 {
		fatSectors = deriveFATSize(totalSectors, uint32(g.ReservedSectors), uint32(g.SectorsPerCluster))
	}

	draft := &fat32.BootSector{
		RawBootSector: fat32.RawBootSector{
			BytesPerSector:      g.BytesPerSector,
			SectorsPerCluster:   g.SectorsPerCluster,
			ReservedSectorCount: g.ReservedSectors,
			NumFATs:             g.NumFATs,
			Media:               0xF8,
			TotalSectors32:      totalSectors,
		},
		RawExtendedBootSector: fat32.RawExtendedBootSector{
			FATSize32:    fatSectors,
			RootCluster:  fat32.RootCluster,
			FSInfoSector: 1,
		},
	}
	copy(draft.VolumeLabel[:], padRight(volumeLabel, 11))
	copy(draft.FileSystemType[:], padRight("FAT32", 8))

	bootRaw, err := draft.Pack()
	if err != nil {
		return nil, err
	}
	if err := dev.WriteBlock(0, bootRaw); err != nil {
		return nil, err
	}

	// Re-parse what was just packed so the rest of Format sees the derived
	// geometry fields (BytesPerCluster, FAT1Sector, FAT2Sector,
	// DataStartSector, TotalClusters, DirentsPerSector) that only
	// ParseBootSector computes; the draft above carries none of them.
	boot, err := fat32.ParseBootSector(bootRaw)
	if err != nil {
		return nil, err
	}

	freeClusters := boot.TotalClusters - 1 // cluster 2 is the root
	fsInfo := &fat32.RawFSInfo{
		LeadSignature:   0x41615252,
		StructSignature: 0x61417272,
		FreeCount:       freeClusters,
		NextFree:        fat32.RootCluster,
	}
	fsInfoRaw, err := fsInfo.Pack()
	if err != nil {
		return nil, err
	}
	if err := dev.WriteBlock(1, fsInfoRaw); err != nil {
		return nil, err
	}

	if err := writeZeroedFATsWithRootEnd(dev, boot.FAT1Sector, boot.FAT2Sector, fatSectors); err != nil {
		return nil, err
	}

	if err := zeroCluster(dev, boot, fat32.RootCluster); err != nil {
		return nil, err
	}

	return boot, nil
}

// deriveFATSize estimates the sectors-per-FAT needed to cover the data
// region, refining it against its own output up to four times, stopping
// early once the FAT size and cluster count agree.
func deriveFATSize(totalSectors, reservedSectors, sectorsPerCluster uint32) uint32 {
	const entriesPerSector = fat32.SectorSize / 4
	const numFATs = 2

	estimate := (totalSectors - reservedSectors) / sectorsPerCluster / entriesPerSector
	if estimate == 0 {
		estimate = 1
	}

	for i := 0; i < 4; i++ {
		dataSectors := totalSectors - reservedSectors - numFATs*estimate
		clusters := dataSectors/sectorsPerCluster + 2
		next := clusters/entriesPerSector + 1
		if next == estimate {
			break
		}
		estimate = next
	}
	return estimate
}

// writeZeroedFATsWithRootEnd zeroes both FAT mirrors and marks the root
// cluster's entry as end-of-chain in each, using bytewriter to assemble
// each FAT sector's image before it's written (spec.md §4.6 domain stack).
func writeZeroedFATsWithRootEnd(dev blockdev.Device, fat1Sector, fat2Sector, fatSectors uint32) error {
	zeroed := make([]byte, fat32.SectorSize)

	rootEntrySector := make([]byte, fat32.SectorSize)
	w := bytewriter.New(rootEntrySector)
	// Reserved entries 0 and 1, then entry 2 (the root) as end-of-chain.
	_ = binary.Write(w, binary.LittleEndian, uint32(0x0FFFFFF8))
	_ = binary.Write(w, binary.LittleEndian, uint32(0x0FFFFFFF))
	_ = binary.Write(w, binary.LittleEndian, fat32.ClusterEndMin)

	for _, fatStart := range []uint32{fat1Sector, fat2Sector} {
		if err := dev.WriteBlock(blockdev.Sector(fatStart), rootEntrySector); err != nil {
			return err
		}
		for s := uint32(1); s < fatSectors; s++ {
			if err := dev.WriteBlock(blockdev.Sector(fatStart+s), zeroed); err != nil {
				return err
			}
		}
	}
	return nil
}

func zeroCluster(dev blockdev.Device, boot *fat32.BootSector, cluster uint32) error {
	zeroed := make([]byte, fat32.SectorSize)
	first := boot.FirstSectorOfCluster(cluster)
	for s := uint32(0); s < uint32(boot.SectorsPerCluster); s++ {
		if err := dev.WriteBlock(blockdev.Sector(first+s), zeroed); err != nil {
			return err
		}
	}
	return nil
}

func padRight(s string, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = ' '
	}
	copy(out, s)
	return out
}
