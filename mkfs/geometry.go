// Package mkfs formats a blockdev.Device as a fresh FAT32 volume: it builds
// the boot sector, FS-info sector, zeroed FAT mirrors, and a one-cluster
// root directory (spec.md §4.6 domain stack, "mkfs").
package mkfs

import (
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/kernelfs/fat32/errors"
)

// Geometry is one row of the known-volume-size table: the parameters a
// formatter needs to lay out a FAT32 volume of a given class of device.
// Field names mirror the BPB terms in spec.md §3 rather than the teacher's
// floppy-disk geometry table, since FAT32 targets are sized in clusters,
// not tracks/heads/sectors.
type Geometry struct {
	Slug              string `csv:"slug"`
	Description       string `csv:"description"`
	TotalSizeMiB      uint   `csv:"total_size_mib"`
	TotalSectors      uint32 `csv:"total_sectors"`
	BytesPerSector    uint16 `csv:"bytes_per_sector"`
	SectorsPerCluster uint8  `csv:"sectors_per_cluster"`
	ReservedSectors   uint16 `csv:"reserved_sectors"`
	NumFATs           uint8  `csv:"num_fats"`
	// FATSectors pins the sectors-per-FAT a formatter must use instead of
	// deriving one from the device size. Zero means "derive it". This exists
	// so a preset can reproduce an exact reference image's geometry (e.g.
	// spec.md §8's seeded scenario) rather than whatever a size-driven
	// estimate converges to.
	FATSectors uint32 `csv:"fat_sectors"`
}

// SectorCount returns the total sector count this geometry describes: the
// explicit TotalSectors override if set, otherwise TotalSizeMiB converted
// at BytesPerSector.
func (g Geometry) SectorCount() uint64 {
	if g.TotalSectors != 0 {
		return uint64(g.TotalSectors)
	}
	return uint64(g.TotalSizeMiB) * 1024 * 1024 / uint64(g.BytesPerSector)
}

// knownGeometriesCSV holds a handful of common FAT32 volume sizes, keyed by
// slug, in the same slug/lookup shape as the teacher's disk-geometries.csv
// (disks/disks.go) — generalized from removable-media form factors to the
// FAT32-specific parameters an mkfs tool needs.
const knownGeometriesCSV = `slug,description,total_size_mib,total_sectors,bytes_per_sector,sectors_per_cluster,reserved_sectors,num_fats,fat_sectors
usb-64m,64 MiB USB/SD reference image,64,0,512,1,32,2,0
usb-512m,512 MiB USB flash drive,512,0,512,4,32,2,0
usb-2g,2 GiB USB flash drive,2048,0,512,8,32,2,0
sdcard-8g,8 GiB SD card,8192,0,512,16,32,2,0
sdcard-32g,32 GiB SD card (SDHC ceiling),32768,0,512,32,32,2,0
spec-seeded-64m,spec.md §8 seeded scenario 1 reference image,0,131601,512,1,32,2,504
`

var knownGeometries map[string]Geometry

func init() {
	knownGeometries = make(map[string]Geometry)
	err := gocsv.UnmarshalToCallback(strings.NewReader(knownGeometriesCSV), func(row Geometry) error {
		if _, exists := knownGeometries[row.Slug]; exists {
			return fmt.Errorf("duplicate geometry slug %q", row.Slug)
		}
		knownGeometries[row.Slug] = row
		return nil
	})
	if err != nil && err != io.EOF {
		panic(err)
	}
}

// LookupGeometry returns the named preset, or an error if the slug isn't
// one of the built-in presets.
func LookupGeometry(slug string) (Geometry, error) {
	g, ok := knownGeometries[slug]
	if !ok {
		return Geometry{}, errors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("no known FAT32 geometry preset %q", slug))
	}
	return g, nil
}

// KnownSlugs lists every built-in preset slug, e.g. for the formatter CLI's
// `--geometry` flag help text.
func KnownSlugs() []string {
	slugs := make([]string, 0, len(knownGeometries))
	for s := range knownGeometries {
		slugs = append(slugs, s)
	}
	return slugs
}
