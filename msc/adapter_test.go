package msc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yarrco/ewmill/blockdevice"
	fixtures "github.com/yarrco/ewmill/testing"
)

func TestBlockAdapter_WriteCoherence(t *testing.T) {
	dev := fixtures.MemoryDevice(512, 256, nil, t)
	a := NewBlockAdapter(dev, 8)

	patch := []byte{0xAA, 0xAA, 0xAA, 0xAA, 0xAA}
	require.NoError(t, a.Write10(100, 10, len(patch), patch))

	out := make([]byte, 512)
	require.NoError(t, a.Read10(100, 0, 512, out))
	assert.Equal(t, patch, out[10:15])
}

func TestBlockAdapter_UnitAttentionRaisedOnceAfterAttach(t *testing.T) {
	dev := fixtures.MemoryDevice(512, 256, nil, t)
	a := NewBlockAdapter(dev, 8)
	a.Attach()

	err := a.TestUnitReady()
	require.Error(t, err)
	sense := a.Sense()
	assert.Equal(t, SenseKeyUnitAttention, sense.SenseKey)

	require.NoError(t, a.TestUnitReady(), "unit attention must clear after being reported once")
}

func TestBlockAdapter_ReadCapacity(t *testing.T) {
	dev := fixtures.MemoryDevice(512, 1000, nil, t)
	a := NewBlockAdapter(dev, 8)

	count, size, err := a.ReadCapacity()
	require.NoError(t, err)
	assert.EqualValues(t, 1000, count)
	assert.EqualValues(t, 512, size)
}

func TestBlockAdapter_UnknownCommandSetsIllegalRequestSense(t *testing.T) {
	dev := fixtures.MemoryDevice(512, 256, nil, t)
	a := NewBlockAdapter(dev, 8)

	require.Error(t, a.UnknownCommand())
	sense := a.Sense()
	assert.Equal(t, SenseKeyIllegalRequest, sense.SenseKey)
	assert.EqualValues(t, ASCInvalidCommandOp, sense.ASC)
}

func TestInquiryResponse_Marshal(t *testing.T) {
	resp := NewInquiryResponse(true, "EWMILL", "SD BRIDGE", "1.0")
	buf := make([]byte, InquiryStandardSize)
	n, err := resp.MarshalTo(buf)
	require.NoError(t, err)
	assert.Equal(t, InquiryStandardSize, n)
	assert.Equal(t, uint8(0x80), buf[1], "RMB bit must be set for removable media")
}

func TestBlockAdapter_DetachInvalidatesCache(t *testing.T) {
	dev := fixtures.MemoryDevice(512, 256, nil, t)
	a := NewBlockAdapter(dev, 8)

	require.NoError(t, a.Write10(1, 0, 4, []byte{1, 2, 3, 4}))
	require.NoError(t, a.Detach())

	_, _, err := a.ReadCapacity()
	require.Error(t, err, "media must be reported absent after detach")

	out := make([]byte, 512)
	require.NoError(t, dev.ReadSectors(blockdevice.LBA(1), 1, out), "dirty sector must have been flushed on detach")
	assert.Equal(t, []byte{1, 2, 3, 4}, out[:4])
}
