package fat32_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernelfs/fat32/blockdev"
	"github.com/kernelfs/fat32/cache"
	"github.com/kernelfs/fat32/fat32"
)

// buildTestImage formats a tiny in-memory FAT32 volume: 1 reserved sector
// for the boot sector, 1 for FS-info, 2 FATs of fatSectors each, and
// dataClusters clusters of 1 sector each. It returns the backing MemDevice.
func buildTestImage(t *testing.T, fatSectors, dataClusters uint32) *blockdev.MemDevice {
	t.Helper()

	const reserved = 2 // [0]=boot, [1]=fsinfo
	fat1 := uint32(reserved)
	fat2 := fat1 + fatSectors
	dataStart := fat2 + fatSectors
	totalSectors := dataStart + dataClusters

	dev := blockdev.NewMemDevice(uint64(totalSectors))

	boot := &fat32.BootSector{
		RawBootSector: fat32.RawBootSector{
			BytesPerSector:      fat32.SectorSize,
			SectorsPerCluster:   1,
			ReservedSectorCount: uint16(reserved),
			NumFATs:             2,
			TotalSectors32:      totalSectors,
		},
		RawExtendedBootSector: fat32.RawExtendedBootSector{
			FATSize32:    fatSectors,
			RootCluster:  fat32.RootCluster,
			FSInfoSector: 1,
		},
	}
	bootRaw, err := boot.Pack()
	require.NoError(t, err)
	require.NoError(t, dev.WriteBlock(0, bootRaw))

	fsInfo := &fat32.RawFSInfo{
		LeadSignature:   0x41615252,
		StructSignature: 0x61417272,
		FreeCount:       dataClusters - 1, // cluster 2 is the root, pre-allocated
		NextFree:        fat32.RootCluster,
	}
	fsInfoRaw, err := fsInfo.Pack()
	require.NoError(t, err)
	require.NoError(t, dev.WriteBlock(1, fsInfoRaw))

	// Zero both FATs; mountTestImage marks cluster 2 (root) as end-of-chain
	// after mounting.
	zero := make([]byte, fat32.SectorSize)
	for s := uint32(0); s < fatSectors; s++ {
		require.NoError(t, dev.WriteBlock(blockdev.Sector(fat1+s), zero))
		require.NoError(t, dev.WriteBlock(blockdev.Sector(fat2+s), zero))
	}

	return dev
}

func mountTestImage(t *testing.T, fatSectors, dataClusters uint32) *fat32.Manager {
	t.Helper()
	dev := buildTestImage(t, fatSectors, dataClusters)
	m, err := fat32.Mount(dev, fat32.MountOptions{DataPoolCapacity: 8, InfoPoolCapacity: 8})
	require.NoError(t, err)
	require.NoError(t, m.Alloc.SetEnd(fat32.RootCluster))
	return m
}

func TestMountDerivesGeometry(t *testing.T) {
	m := mountTestImage(t, 1, 16)
	boot := m.BootSector()
	assert.EqualValues(t, 16, boot.TotalClusters)
	assert.EqualValues(t, 2, boot.FAT1Sector)
	assert.EqualValues(t, 3, boot.FAT2Sector)
	assert.Equal(t, "/", m.RootEntry().ShortName())
}

func TestAllocAndDeallocClusterRoundTrip(t *testing.T) {
	m := mountTestImage(t, 1, 16)

	before := m.FreeClusters()
	first, err := m.AllocCluster(3, cache.PoolData)
	require.NoError(t, err)
	assert.NotZero(t, first)

	chain, err := m.Alloc.AllOf(first)
	require.NoError(t, err)
	assert.Len(t, chain, 3)

	assert.Equal(t, before-3, m.FreeClusters())

	require.NoError(t, m.DeallocCluster(chain))
	assert.Equal(t, before, m.FreeClusters())

	for _, c := range chain {
		next, err := m.Alloc.NextOf(c)
		require.NoError(t, err)
		assert.EqualValues(t, fat32.ClusterFree, next)
	}
}

func TestAllocClusterFailsWhenFull(t *testing.T) {
	m := mountTestImage(t, 1, 4)
	_, err := m.AllocCluster(100, cache.PoolData)
	assert.Error(t, err)
}

func TestSplitShortNamePadsAndUppercases(t *testing.T) {
	base, ext := fat32.SplitShortName("readme.txt")
	assert.Equal(t, "README  ", string(base[:]))
	assert.Equal(t, "TXT", string(ext[:]))
}

func TestSynthesizeShortNameTruncatesAndTags(t *testing.T) {
	short := fat32.SynthesizeShortName("verylongfilename.html")
	assert.Equal(t, "VERYLO~1.HTM", short)
}
