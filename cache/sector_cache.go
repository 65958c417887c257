// Package cache implements the write-back single-sector cache and N-sector
// read-ahead window the USB block adapter uses to translate arbitrary-offset
// SCSI transfers into whole-sector BlockDevice I/O. Generalized from the
// teacher's bitmap-tracked block cache (one fetch/flush-callback cache type
// reused at two different window sizes) into the two purpose-built windows
// the access-mode design calls for: a single dirty sector and a read-only
// read-ahead buffer.
package cache

import (
	"fmt"

	"github.com/boljen/go-bitmap"
	"github.com/yarrco/ewmill/blockdevice"
)

// SectorCache is the cache entity named in the data model: a write-back
// single-sector cache plus an N-sector read-ahead buffer, private to one
// UsbBlockAdapter and always accessed under the BlockDeviceLock.
type SectorCache struct {
	dev        blockdevice.BlockDevice
	sectorSize uint16

	dirty      bool
	dirtyValid bool
	dirtyLBA   blockdevice.LBA
	dirtyData  []byte

	// aheadValid tracks per-sector validity within the window starting at
	// aheadBase, one bit per slot, so an overlapping write invalidates only
	// the sectors it actually touches instead of dropping the whole window.
	aheadValid bitmap.Bitmap
	aheadBase  blockdevice.LBA
	aheadData  []byte
	aheadCap   uint16
}

// New creates a SectorCache over dev with a read-ahead window capable of
// holding up to aheadSectors sectors (typical 8).
func New(dev blockdevice.BlockDevice, aheadSectors uint16) *SectorCache {
	sz := dev.SectorSize()
	return &SectorCache{
		dev:        dev,
		sectorSize: sz,
		dirtyData:  make([]byte, sz),
		aheadValid: bitmap.New(int(aheadSectors)),
		aheadData:  make([]byte, int(sz)*int(aheadSectors)),
		aheadCap:   aheadSectors,
	}
}

// Read implements §4.2's read(lba, offset, len, out). offset and len are
// measured in bytes within the sector at lba for the partial-sector path;
// for the aligned path len may span multiple sectors starting at lba.
func (c *SectorCache) Read(lba blockdevice.LBA, offset int, length int, out []byte) error {
	if len(out) < length {
		return fmt.Errorf("cache: output buffer too small: need %d, got %d", length, len(out))
	}

	if offset == 0 && length%int(c.sectorSize) == 0 {
		return c.readAligned(lba, length, out)
	}
	return c.readPartial(lba, offset, length, out)
}

func (c *SectorCache) readAligned(lba blockdevice.LBA, length int, out []byte) error {
	if err := c.flushDirty(); err != nil {
		return err
	}

	sectors := length / int(c.sectorSize)

	if c.covers(lba, sectors) {
		c.copyFromAhead(lba, sectors, out)
		return nil
	}

	if sectors <= int(c.aheadCap) {
		remaining := c.remainingSectors(lba)
		count := int(c.aheadCap)
		if remaining < count {
			count = remaining
		}
		if count < 1 {
			count = 1
		}
		if err := c.dev.ReadSectors(lba, uint32(count), c.aheadData[:int(count)*int(c.sectorSize)]); err != nil {
			return fmt.Errorf("cache: read-ahead fetch at lba=%d: %w", lba, err)
		}
		c.aheadBase = lba
		for i := 0; i < int(c.aheadCap); i++ {
			c.aheadValid.Set(i, i < count)
		}
		c.copyFromAhead(lba, sectors, out)
		return nil
	}

	if err := c.dev.ReadSectors(lba, uint32(sectors), out[:length]); err != nil {
		return fmt.Errorf("cache: direct read at lba=%d: %w", lba, err)
	}
	return nil
}

func (c *SectorCache) readPartial(lba blockdevice.LBA, offset, length int, out []byte) error {
	if err := c.loadDirty(lba); err != nil {
		return err
	}
	if offset < 0 || offset+length > int(c.sectorSize) {
		return fmt.Errorf("cache: partial read [%d, %d) exceeds sector size %d", offset, offset+length, c.sectorSize)
	}
	copy(out[:length], c.dirtyData[offset:offset+length])
	return nil
}

// Write implements §4.2's write(lba, offset, len, src).
func (c *SectorCache) Write(lba blockdevice.LBA, offset int, length int, src []byte) error {
	if len(src) < length {
		return fmt.Errorf("cache: source buffer too small: need %d, got %d", length, len(src))
	}

	if offset == 0 && length%int(c.sectorSize) == 0 {
		return c.writeAligned(lba, length, src)
	}
	return c.writePartial(lba, offset, length, src)
}

func (c *SectorCache) writeAligned(lba blockdevice.LBA, length int, src []byte) error {
	if err := c.flushDirty(); err != nil {
		return err
	}

	sectors := length / int(c.sectorSize)
	c.invalidateOverlap(lba, sectors)

	if err := c.dev.WriteSectors(lba, uint32(sectors), src[:length]); err != nil {
		return fmt.Errorf("cache: direct write at lba=%d: %w", lba, err)
	}
	return nil
}

func (c *SectorCache) writePartial(lba blockdevice.LBA, offset, length int, src []byte) error {
	if c.dirtyValid && c.dirtyLBA != lba {
		if err := c.flushDirty(); err != nil {
			return err
		}
	}
	if err := c.loadDirty(lba); err != nil {
		return err
	}
	if offset < 0 || offset+length > int(c.sectorSize) {
		return fmt.Errorf("cache: partial write [%d, %d) exceeds sector size %d", offset, offset+length, c.sectorSize)
	}
	copy(c.dirtyData[offset:offset+length], src[:length])
	c.dirty = true

	c.invalidateAheadOverlap(lba, 1)
	return nil
}

// Flush writes the dirty sector, if any, and clears dirty.
func (c *SectorCache) Flush() error {
	return c.flushDirty()
}

// Invalidate drops both the dirty sector and the read-ahead window, flushing
// the dirty sector first so no write is silently lost.
func (c *SectorCache) Invalidate() error {
	if err := c.flushDirty(); err != nil {
		return err
	}
	c.dirtyValid = false
	c.clearAheadRange(0, int(c.aheadCap))
	return nil
}

func (c *SectorCache) flushDirty() error {
	if !c.dirty {
		return nil
	}
	if err := c.dev.WriteSectors(c.dirtyLBA, 1, c.dirtyData); err != nil {
		return fmt.Errorf("cache: flush dirty sector lba=%d: %w", c.dirtyLBA, err)
	}
	c.dirty = false
	if syncer, ok := c.dev.(blockdevice.Syncer); ok {
		if err := syncer.Sync(); err != nil {
			return fmt.Errorf("cache: sync backing device: %w", err)
		}
	}
	return nil
}

func (c *SectorCache) loadDirty(lba blockdevice.LBA) error {
	if c.dirtyValid && c.dirtyLBA == lba {
		return nil
	}
	if c.dirtyValid {
		if err := c.flushDirty(); err != nil {
			return err
		}
	}
	if err := c.dev.ReadSectors(lba, 1, c.dirtyData); err != nil {
		return fmt.Errorf("cache: load sector lba=%d: %w", lba, err)
	}
	c.dirtyLBA = lba
	c.dirtyValid = true
	c.dirty = false
	return nil
}

// covers reports whether every sector in [lba, lba+sectors) falls within the
// read-ahead window and is marked valid in the per-sector bitmap.
func (c *SectorCache) covers(lba blockdevice.LBA, sectors int) bool {
	for i := 0; i < sectors; i++ {
		idx := int(lba) + i - int(c.aheadBase)
		if idx < 0 || idx >= int(c.aheadCap) || !c.aheadValid.Get(idx) {
			return false
		}
	}
	return true
}

// clearAheadRange marks slots [start, start+n) within the window invalid.
func (c *SectorCache) clearAheadRange(start, n int) {
	for i := start; i < start+n && i < int(c.aheadCap); i++ {
		if i >= 0 {
			c.aheadValid.Set(i, false)
		}
	}
}

func (c *SectorCache) remainingSectors(lba blockdevice.LBA) int {
	total := int(c.dev.SectorCount())
	remaining := total - int(lba)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (c *SectorCache) copyFromAhead(lba blockdevice.LBA, sectors int, out []byte) {
	offset := (int(lba) - int(c.aheadBase)) * int(c.sectorSize)
	length := sectors * int(c.sectorSize)
	copy(out[:length], c.aheadData[offset:offset+length])
}

// invalidateAheadOverlap drops only the read-ahead slots that fall within
// the given range, leaving the dirty sector (if any) untouched. writePartial
// uses this: the range it passes is the very sector it just wrote into the
// dirty slot, and that write has not been flushed to the BlockDevice yet, so
// clearing dirtyValid here would discard the uncommitted bytes before Flush
// ever runs.
func (c *SectorCache) invalidateAheadOverlap(lba blockdevice.LBA, sectors int) {
	start := uint32(lba)
	end := start + uint32(sectors)

	winStart := uint32(c.aheadBase)
	winEnd := winStart + uint32(c.aheadCap)
	if start < winEnd && end > winStart {
		clearFrom := start
		if clearFrom < winStart {
			clearFrom = winStart
		}
		clearTo := end
		if clearTo > winEnd {
			clearTo = winEnd
		}
		c.clearAheadRange(int(clearFrom-winStart), int(clearTo-clearFrom))
	}
}

// invalidateOverlap drops the read-ahead window (and, when the overlap
// covers the dirty sector's lba, the dirty sector too, since writeAligned
// has already written straight to the BlockDevice and made any cached copy
// of that lba stale) whenever a write touches any lba within the given
// range. This is the "invalidate, do not merge" behavior the design notes
// preserve from the source.
func (c *SectorCache) invalidateOverlap(lba blockdevice.LBA, sectors int) {
	c.invalidateAheadOverlap(lba, sectors)

	start := uint32(lba)
	end := start + uint32(sectors)
	if c.dirtyValid {
		dStart := uint32(c.dirtyLBA)
		if dStart >= start && dStart < end {
			c.dirtyValid = false
			c.dirty = false
		}
	}
}
