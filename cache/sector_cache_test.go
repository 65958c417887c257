package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yarrco/ewmill/blockdevice"
	fixtures "github.com/yarrco/ewmill/testing"
)

func TestSectorCache_PartialWriteThenFullSectorReadCoherent(t *testing.T) {
	dev := fixtures.MemoryDevice(512, 256, nil, t)
	c := New(dev, 8)

	patch := []byte{0xAA, 0xAA, 0xAA, 0xAA, 0xAA}
	require.NoError(t, c.Write(100, 10, len(patch), patch))
	require.NoError(t, c.Flush())

	out := make([]byte, 512)
	require.NoError(t, c.Read(100, 0, 512, out))
	assert.Equal(t, patch, out[10:15])
}

func TestSectorCache_PartialWriteKeepsItsOwnSectorDirty(t *testing.T) {
	dev := fixtures.MemoryDevice(512, 256, nil, t)
	c := New(dev, 8)

	require.NoError(t, c.Write(40, 0, 512, make([]byte, 512))) // aligned write: zeroes sector 40 straight through to the device
	out := make([]byte, 512*4)
	require.NoError(t, c.Read(40, 0, 512*4, out))
	require.True(t, c.covers(40, 4))

	patch := []byte{0xAA, 0xAA, 0xAA, 0xAA, 0xAA}
	require.NoError(t, c.Write(41, 10, len(patch), patch))

	assert.True(t, c.dirtyValid, "a partial write must leave its own sector dirty, not discard it")
	assert.True(t, c.dirty, "a partial write's bytes must still be pending flush")
	assert.Equal(t, blockdevice.LBA(41), c.dirtyLBA)
	assert.False(t, c.covers(41, 1), "the overlapping read-ahead slot must still be invalidated")

	out2 := make([]byte, 512)
	require.NoError(t, c.Read(41, 0, 512, out2))
	assert.Equal(t, patch, out2[10:15], "a read immediately after a partial write, with no explicit Flush, must see the write")
}

func TestSectorCache_AlignedWriteInvalidatesReadAhead(t *testing.T) {
	dev := fixtures.MemoryDevice(512, 256, nil, t)
	c := New(dev, 8)

	out := make([]byte, 512*4)
	require.NoError(t, c.Read(0, 0, 512*4, out))
	require.True(t, c.covers(0, 4))

	newData := make([]byte, 512)
	for i := range newData {
		newData[i] = 0x42
	}
	require.NoError(t, c.Write(1, 0, 512, newData))
	assert.False(t, c.covers(1, 1), "overlapping aligned write must invalidate the sector it touches")
	assert.True(t, c.covers(0, 1), "a write to sector 1 must leave sector 0's read-ahead entry untouched")

	out2 := make([]byte, 512)
	require.NoError(t, c.Read(1, 0, 512, out2))
	assert.Equal(t, newData, out2)
}

func TestSectorCache_AlignedWriteDiscardsOverlappingDirtySector(t *testing.T) {
	dev := fixtures.MemoryDevice(512, 256, nil, t)
	c := New(dev, 8)

	stale := []byte{0x11, 0x22}
	require.NoError(t, c.Write(5, 0, 2, stale))
	require.True(t, c.dirtyValid)

	fresh := make([]byte, 512)
	for i := range fresh {
		fresh[i] = 0x99
	}
	require.NoError(t, c.Write(5, 0, 512, fresh))

	out := make([]byte, 512)
	require.NoError(t, c.Read(5, 0, 512, out))
	assert.Equal(t, fresh, out)
}

func TestSectorCache_OnlyOneSectorEverDirty(t *testing.T) {
	dev := fixtures.MemoryDevice(512, 256, nil, t)
	c := New(dev, 8)

	require.NoError(t, c.Write(1, 0, 4, []byte{1, 2, 3, 4}))
	assert.Equal(t, blockdevice.LBA(1), c.dirtyLBA)

	require.NoError(t, c.Write(9, 0, 4, []byte{5, 6, 7, 8}))
	assert.Equal(t, blockdevice.LBA(9), c.dirtyLBA, "writing a different lba must flush and replace the dirty sector")

	out := make([]byte, 512)
	require.NoError(t, c.Read(1, 0, 512, out))
	assert.Equal(t, []byte{1, 2, 3, 4}, out[:4], "flushed sector 1 must have made it to the device")
}
