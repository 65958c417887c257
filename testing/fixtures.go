// Package testing holds fixture builders shared by this module's own
// _test.go files. It is not the standard library "testing" package (Go
// lets a directory-local import path shadow it; callers still take
// *testing.T from the stdlib package, this one supplies data).
package testing

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/yarrco/ewmill/blockdevice"
)

// RandomSectors returns count sectors of cryptographically random bytes,
// the same role the teacher's CreateRandomImage plays for disk-image
// fixtures: guaranteed-present test data with no reliance on the zero
// value ever matching a "correct" answer.
func RandomSectors(sectorSize uint16, count uint32, t *testing.T) []byte {
	buf := make([]byte, int(sectorSize)*int(count))
	_, err := rand.Read(buf)
	require.NoErrorf(t, err, "failed to fill %d sectors of size %d with random bytes", count, sectorSize)
	return buf
}

// MemoryDevice builds a blockdevice.Memory preloaded with backingData, or
// with RandomSectors if backingData is nil. It's the sector-addressed
// counterpart to the teacher's CreateDefaultCache: a ready-to-use backend
// for cache and msc tests, with no fetch/flush callback wiring needed since
// blockdevice.Memory is already a full BlockDevice.
func MemoryDevice(sectorSize uint16, sectorCount uint32, backingData []byte, t *testing.T) *blockdevice.Memory {
	if backingData == nil {
		backingData = RandomSectors(sectorSize, sectorCount, t)
	}
	require.Len(t, backingData, int(sectorSize)*int(sectorCount), "backing data is the wrong size")
	return blockdevice.NewMemoryFromImage(backingData, sectorSize)
}
