package blockdevice

import (
	"fmt"
	"io"
	"os"
)

// File is a BlockDevice backed by an *os.File, the production backend: the
// SD card as seen through its raw device node or a disk image on another
// filesystem. Modeled on the teacher's file-backed BlockDevice, generalized
// from a disk-image abstraction to the sector_size/sector_count contract.
type File struct {
	f           *os.File
	sectorSize  uint16
	sectorCount uint32
	startOffset int64
}

// NewFile opens path as a File BlockDevice with the given sector geometry.
// startOffset skips a header (e.g. an MBR) before sector 0.
func NewFile(path string, sectorSize uint16, sectorCount uint32, startOffset int64) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("blockdevice: open %s: %w", path, err)
	}
	return &File{f: f, sectorSize: sectorSize, sectorCount: sectorCount, startOffset: startOffset}, nil
}

func (d *File) SectorSize() uint16   { return d.sectorSize }
func (d *File) SectorCount() uint32  { return d.sectorCount }
func (d *File) Close() error         { return d.f.Close() }

func (d *File) offsetOf(lba LBA) int64 {
	return d.startOffset + int64(lba)*int64(d.sectorSize)
}

func (d *File) ReadSectors(lba LBA, count uint32, buf []byte) error {
	if err := CheckBounds(lba, count, d.sectorCount); err != nil {
		return err
	}
	want := int(count) * int(d.sectorSize)
	if len(buf) < want {
		return fmt.Errorf("blockdevice: buffer too small: need %d bytes, got %d", want, len(buf))
	}
	n, err := d.f.ReadAt(buf[:want], d.offsetOf(lba))
	if err != nil && err != io.EOF {
		return fmt.Errorf("blockdevice: read lba=%d count=%d: %w", lba, count, err)
	}
	if n < want {
		return fmt.Errorf("blockdevice: short read at lba=%d: got %d of %d bytes", lba, n, want)
	}
	return nil
}

func (d *File) WriteSectors(lba LBA, count uint32, buf []byte) error {
	if err := CheckBounds(lba, count, d.sectorCount); err != nil {
		return err
	}
	want := int(count) * int(d.sectorSize)
	if len(buf) < want {
		return fmt.Errorf("blockdevice: buffer too small: need %d bytes, got %d", want, len(buf))
	}
	n, err := d.f.WriteAt(buf[:want], d.offsetOf(lba))
	if err != nil {
		return fmt.Errorf("blockdevice: write lba=%d count=%d: %w", lba, count, err)
	}
	if n < want {
		return fmt.Errorf("blockdevice: short write at lba=%d: wrote %d of %d bytes", lba, n, want)
	}
	return nil
}

// Sync flushes the underlying file to stable storage. It is not part of the
// BlockDevice interface (the interface models the device, not the host-side
// fd); it satisfies Syncer instead, which cache.SectorCache.Flush checks for
// after writing the dirty sector.
func (d *File) Sync() error {
	return d.f.Sync()
}
