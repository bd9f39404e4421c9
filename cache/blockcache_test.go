package cache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernelfs/fat32/blockdev"
	"github.com/kernelfs/fat32/cache"
)

func TestReadWriteRoundTripThroughCache(t *testing.T) {
	dev := blockdev.NewMemDevice(8)
	c := cache.New(dev, 2, 2)

	h, err := c.Get(cache.PoolData, 3, cache.ModeWrite)
	require.NoError(t, err)

	payload := []byte("hello, fat32")
	require.NoError(t, h.Modify(10, payload))
	h.Release()

	h2, err := c.Get(cache.PoolData, 3, cache.ModeRead)
	require.NoError(t, err)
	got := make([]byte, len(payload))
	require.NoError(t, h2.Read(10, got))
	h2.Release()

	assert.Equal(t, payload, got)
}

func TestWriteBackPersistsDirtyLines(t *testing.T) {
	dev := blockdev.NewMemDevice(4)
	c := cache.New(dev, 1, 1)

	h, err := c.Get(cache.PoolData, 0, cache.ModeWrite)
	require.NoError(t, err)
	require.NoError(t, h.Modify(0, []byte{0xAB, 0xCD}))
	h.Release()

	require.NoError(t, c.WriteBack())

	raw := make([]byte, blockdev.SectorSize)
	require.NoError(t, dev.ReadBlock(0, raw))
	assert.Equal(t, byte(0xAB), raw[0])
	assert.Equal(t, byte(0xCD), raw[1])
}

func TestEvictionWritesBackDirtyVictim(t *testing.T) {
	dev := blockdev.NewMemDevice(4)
	c := cache.New(dev, 1, 1)

	h0, err := c.Get(cache.PoolData, 0, cache.ModeWrite)
	require.NoError(t, err)
	require.NoError(t, h0.Modify(0, []byte{0x11}))
	h0.Release()

	// Capacity is 1: loading sector 1 must evict sector 0, flushing it first.
	h1, err := c.Get(cache.PoolData, 1, cache.ModeRead)
	require.NoError(t, err)
	h1.Release()

	raw := make([]byte, blockdev.SectorSize)
	require.NoError(t, dev.ReadBlock(0, raw))
	assert.Equal(t, byte(0x11), raw[0], "dirty victim should have been flushed on eviction")
}

func TestHeldLineCannotBeEvicted(t *testing.T) {
	dev := blockdev.NewMemDevice(4)
	c := cache.New(dev, 1, 1)

	h0, err := c.Get(cache.PoolData, 0, cache.ModeRead)
	require.NoError(t, err)
	defer h0.Release()

	_, err = c.Get(cache.PoolData, 1, cache.ModeRead)
	assert.Error(t, err, "pool exhaustion with every line held must fail fatally")
}

func TestStartOffsetIsAddedToDeviceCalls(t *testing.T) {
	dev := blockdev.NewMemDevice(8)
	c := cache.New(dev, 2, 2)
	c.SetStartOffset(4)

	h, err := c.Get(cache.PoolData, 0, cache.ModeWrite)
	require.NoError(t, err)
	require.NoError(t, h.Modify(0, []byte{0x42}))
	h.Release()
	require.NoError(t, c.WriteBack())

	raw := make([]byte, blockdev.SectorSize)
	require.NoError(t, dev.ReadBlock(4, raw))
	assert.Equal(t, byte(0x42), raw[0])
}
