package mkfs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernelfs/fat32/blockdev"
	"github.com/kernelfs/fat32/fat32"
	"github.com/kernelfs/fat32/mkfs"
)

func TestLookupGeometryKnownAndUnknown(t *testing.T) {
	g, err := mkfs.LookupGeometry("usb-64m")
	require.NoError(t, err)
	assert.EqualValues(t, 64, g.TotalSizeMiB)
	assert.EqualValues(t, 2, g.NumFATs)

	_, err = mkfs.LookupGeometry("not-a-real-slug")
	assert.Error(t, err)
}

func TestKnownSlugsIncludesPresets(t *testing.T) {
	slugs := mkfs.KnownSlugs()
	assert.Contains(t, slugs, "usb-64m")
	assert.Contains(t, slugs, "sdcard-32g")
}

func TestFormatProducesMountableVolume(t *testing.T) {
	g, err := mkfs.LookupGeometry("usb-64m")
	require.NoError(t, err)

	dev := blockdev.NewMemDevice(g.SectorCount())

	boot, err := mkfs.Format(dev, g, "TESTVOL")
	require.NoError(t, err)
	assert.Equal(t, fat32.RootCluster, boot.RootCluster)
	// A correctly-derived boot sector never leaves the geometry fields
	// ParseBootSector computes at their zero value.
	require.NotZero(t, boot.DataStartSector)
	require.NotZero(t, boot.TotalClusters)

	m, err := fat32.Mount(dev, fat32.DefaultMountOptions())
	require.NoError(t, err)

	root, err := m.OpenRoot()
	require.NoError(t, err)

	entries, err := root.Ls()
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Computed independently of boot.TotalClusters, from the geometry this
	// test actually asked for plus the FAT size Format settled on, so a
	// regression in the derivation can't make this assertion self-confirm.
	dataStart := uint32(g.ReservedSectors) + uint32(g.NumFATs)*boot.FATSize32
	expectedClusters := (uint32(g.SectorCount()) - dataStart) / uint32(g.SectorsPerCluster)
	assert.Equal(t, expectedClusters-1, m.FreeClusters())

	vf, err := root.Create("hello.txt", 0)
	require.NoError(t, err)
	require.NoError(t, vf.GrowTo(4))
	n, err := vf.WriteAt(0, []byte("mkfs"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

// TestFormatMatchesSeededScenario reproduces spec.md §8 seeded scenario 1
// exactly and asserts its literal expected values, rather than deriving the
// expectation from the same code path under test.
func TestFormatMatchesSeededScenario(t *testing.T) {
	g, err := mkfs.LookupGeometry("spec-seeded-64m")
	require.NoError(t, err)
	require.EqualValues(t, 32, g.ReservedSectors)
	require.EqualValues(t, 504, g.FATSectors)
	require.EqualValues(t, 1, g.SectorsPerCluster)
	require.EqualValues(t, 512, g.BytesPerSector)
	require.EqualValues(t, 2, g.NumFATs)

	dev := blockdev.NewMemDevice(g.SectorCount())

	boot, err := mkfs.Format(dev, g, "SEEDED")
	require.NoError(t, err)
	assert.EqualValues(t, 2, boot.RootCluster)

	m, err := fat32.Mount(dev, fat32.DefaultMountOptions())
	require.NoError(t, err)

	root, err := m.OpenRoot()
	require.NoError(t, err)

	entries, err := root.Ls()
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.EqualValues(t, 130560, m.FreeClusters())
}

func TestFormatRejectsUndersizedDevice(t *testing.T) {
	g, err := mkfs.LookupGeometry("usb-64m")
	require.NoError(t, err)

	dev := blockdev.NewMemDevice(10)
	_, err = mkfs.Format(dev, g, "TOOSMALL")
	assert.Error(t, err)
}
