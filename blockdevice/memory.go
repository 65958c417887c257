package blockdevice

import (
	"fmt"
	"io"

	"github.com/xaionaro-go/bytesextra"
)

// Memory is a BlockDevice backed entirely by a byte slice, wrapped as an
// io.ReadWriteSeeker via bytesextra the same way the teacher's test image
// loader does. Used by tests; never the production backend.
type Memory struct {
	rw          io.ReadWriteSeeker
	sectorSize  uint16
	sectorCount uint32
}

// NewMemory allocates a zero-filled Memory device.
func NewMemory(sectorSize uint16, sectorCount uint32) *Memory {
	data := make([]byte, int(sectorSize)*int(sectorCount))
	return &Memory{
		rw:          bytesextra.NewReadWriteSeeker(data),
		sectorSize:  sectorSize,
		sectorCount: sectorCount,
	}
}

// NewMemoryFromImage wraps an existing byte slice, e.g. a synthesized FAT32
// image fixture, without copying it.
func NewMemoryFromImage(image []byte, sectorSize uint16) *Memory {
	return &Memory{
		rw:          bytesextra.NewReadWriteSeeker(image),
		sectorSize:  sectorSize,
		sectorCount: uint32(len(image)) / uint32(sectorSize),
	}
}

func (d *Memory) SectorSize() uint16  { return d.sectorSize }
func (d *Memory) SectorCount() uint32 { return d.sectorCount }

func (d *Memory) ReadSectors(lba LBA, count uint32, buf []byte) error {
	if err := CheckBounds(lba, count, d.sectorCount); err != nil {
		return err
	}
	want := int(count) * int(d.sectorSize)
	if len(buf) < want {
		return fmt.Errorf("blockdevice: buffer too small: need %d bytes, got %d", want, len(buf))
	}
	if _, err := d.rw.Seek(int64(lba)*int64(d.sectorSize), io.SeekStart); err != nil {
		return fmt.Errorf("blockdevice: seek lba=%d: %w", lba, err)
	}
	if _, err := io.ReadFull(d.rw, buf[:want]); err != nil {
		return fmt.Errorf("blockdevice: read lba=%d count=%d: %w", lba, count, err)
	}
	return nil
}

func (d *Memory) WriteSectors(lba LBA, count uint32, buf []byte) error {
	if err := CheckBounds(lba, count, d.sectorCount); err != nil {
		return err
	}
	want := int(count) * int(d.sectorSize)
	if len(buf) < want {
		return fmt.Errorf("blockdevice: buffer too small: need %d bytes, got %d", want, len(buf))
	}
	if _, err := d.rw.Seek(int64(lba)*int64(d.sectorSize), io.SeekStart); err != nil {
		return fmt.Errorf("blockdevice: seek lba=%d: %w", lba, err)
	}
	if _, err := d.rw.Write(buf[:want]); err != nil {
		return fmt.Errorf("blockdevice: write lba=%d count=%d: %w", lba, count, err)
	}
	return nil
}
