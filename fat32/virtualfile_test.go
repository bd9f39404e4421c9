package fat32_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernelfs/fat32/fat32"
)

func TestCreateFindAndStatFile(t *testing.T) {
	m := mountTestImage(t, 1, 32)
	root, err := m.OpenRoot()
	require.NoError(t, err)

	vf, err := root.Create("hello.txt", 0)
	require.NoError(t, err)
	require.NoError(t, vf.GrowTo(2))

	n, err := vf.WriteAt(0, []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	found, err := root.OpenPath("hello.txt")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), found.Stat().Size)

	buf := make([]byte, 2)
	n, err = found.ReadAt(0, buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "hi", string(buf))
}

func TestCreateDuplicateNameFails(t *testing.T) {
	m := mountTestImage(t, 1, 32)
	root, err := m.OpenRoot()
	require.NoError(t, err)

	_, err = root.Create("a.txt", 0)
	require.NoError(t, err)

	_, err = root.Create("a.txt", 0)
	assert.Error(t, err)
}

func TestLongNameCreateAssemblesName(t *testing.T) {
	m := mountTestImage(t, 1, 32)
	root, err := m.OpenRoot()
	require.NoError(t, err)

	_, err = root.Create("verylongfilename.txt", 0)
	require.NoError(t, err)

	entries, err := root.Ls()
	require.NoError(t, err)

	var found bool
	for _, e := range entries {
		if e.Name == "verylongfilename.txt" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestCreateDirectoryHasDotEntries(t *testing.T) {
	m := mountTestImage(t, 1, 32)
	root, err := m.OpenRoot()
	require.NoError(t, err)

	sub, err := root.Create("sub", fat32.AttrDirectory)
	require.NoError(t, err)
	assert.True(t, sub.IsDir())

	entries, err := sub.Ls()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	assert.True(t, names["."])
	assert.True(t, names[".."])
}

func TestRemoveFreesChainAndMarksDeleted(t *testing.T) {
	m := mountTestImage(t, 1, 32)
	root, err := m.OpenRoot()
	require.NoError(t, err)

	vf, err := root.Create("gone.txt", 0)
	require.NoError(t, err)
	require.NoError(t, vf.GrowTo(10))

	before := m.FreeClusters()
	chainLen, err := m.Alloc.Count(vf.Stat().FirstCluster)
	require.NoError(t, err)

	require.NoError(t, vf.Remove())
	assert.Equal(t, before+uint32(chainLen), m.FreeClusters())

	_, err = root.OpenPath("gone.txt")
	assert.Error(t, err)
}

func TestRemoveNonEmptyDirectoryFails(t *testing.T) {
	m := mountTestImage(t, 1, 32)
	root, err := m.OpenRoot()
	require.NoError(t, err)

	sub, err := root.Create("sub", fat32.AttrDirectory)
	require.NoError(t, err)
	_, err = sub.Create("child.txt", 0)
	require.NoError(t, err)

	assert.Error(t, sub.Remove())
}

func TestWriteAtDoesNotImplicitlyGrow(t *testing.T) {
	m := mountTestImage(t, 1, 32)
	root, err := m.OpenRoot()
	require.NoError(t, err)

	vf, err := root.Create("f.txt", 0)
	require.NoError(t, err)

	_, err = vf.WriteAt(0, []byte("x"))
	assert.Error(t, err)
}

func TestGrowToAcrossMultipleClusters(t *testing.T) {
	m := mountTestImage(t, 1, 32)
	root, err := m.OpenRoot()
	require.NoError(t, err)

	vf, err := root.Create("big.bin", 0)
	require.NoError(t, err)

	bytesPerCluster := m.BootSector().BytesPerCluster
	require.NoError(t, vf.GrowTo(bytesPerCluster*2 + 10))

	data := make([]byte, bytesPerCluster*2+10)
	for i := range data {
		data[i] = byte(i)
	}
	n, err := vf.WriteAt(0, data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	readBack := make([]byte, len(data))
	n, err = vf.ReadAt(0, readBack)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, readBack)

	count, err := m.Alloc.Count(vf.Stat().FirstCluster)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestClearTruncatesToZero(t *testing.T) {
	m := mountTestImage(t, 1, 32)
	root, err := m.OpenRoot()
	require.NoError(t, err)

	vf, err := root.Create("f.txt", 0)
	require.NoError(t, err)
	require.NoError(t, vf.GrowTo(5))
	_, err = vf.WriteAt(0, []byte("hello"))
	require.NoError(t, err)

	require.NoError(t, vf.Clear())
	assert.EqualValues(t, 0, vf.Stat().Size)
	assert.EqualValues(t, 0, vf.Stat().FirstCluster)
}
