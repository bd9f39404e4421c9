package blockdev_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernelfs/fat32/blockdev"
)

func TestMemDeviceReadWriteRoundTrip(t *testing.T) {
	dev := blockdev.NewMemDevice(4)

	out := make([]byte, blockdev.SectorSize)
	for i := range out {
		out[i] = byte(i)
	}
	require.NoError(t, dev.WriteBlock(2, out))

	in := make([]byte, blockdev.SectorSize)
	require.NoError(t, dev.ReadBlock(2, in))
	assert.Equal(t, out, in)

	// Other sectors remain untouched.
	zeroes := make([]byte, blockdev.SectorSize)
	require.NoError(t, dev.ReadBlock(0, in))
	assert.Equal(t, zeroes, in)
}

func TestMemDeviceOutOfRange(t *testing.T) {
	dev := blockdev.NewMemDevice(2)
	buf := make([]byte, blockdev.SectorSize)
	assert.Error(t, dev.ReadBlock(2, buf))
	assert.Error(t, dev.WriteBlock(99, buf))
}

func TestNewMemDeviceFromBytesRejectsUnalignedSize(t *testing.T) {
	_, err := blockdev.NewMemDeviceFromBytes(make([]byte, blockdev.SectorSize+1))
	assert.Error(t, err)
}
