// Package msc implements the SCSI/MSC command subset a USB Mass Storage
// host driver issues, on top of a blockdevice.BlockDevice fronted by a
// cache.SectorCache. Grounded on ardnew-softusb's device/class/msc package
// for response shapes, and on the original firmware's msc.c for callback
// dispatch and sense-code assignment per command.
package msc

import (
	"fmt"
	"sync"

	"github.com/yarrco/ewmill/blockdevice"
	"github.com/yarrco/ewmill/cache"
)

// BlockAdapter implements the command contracts of §4.3 on top of one
// BlockDevice. It never panics a callback; every failure path leaves the
// cache consistent and records sense data instead.
type BlockAdapter struct {
	mu sync.Mutex // the BlockDeviceLock: the only lock any SCSI callback may take

	dev   blockdevice.BlockDevice
	cache *cache.SectorCache

	vendor, product, revision string

	mediaPresent   bool
	unitAttention  bool
	started        bool
	lastSenseKey   uint8
	lastASC        uint8
	lastASCQ       uint8
}

// NewBlockAdapter wires dev behind a SectorCache with the given read-ahead
// depth (typical 8 sectors).
func NewBlockAdapter(dev blockdevice.BlockDevice, aheadSectors uint16) *BlockAdapter {
	return &BlockAdapter{
		dev:          dev,
		cache:        cache.New(dev, aheadSectors),
		vendor:       "EWMILL",
		product:      "SD BRIDGE",
		revision:     "1.0",
		mediaPresent: true,
		started:      true,
	}
}

// Attach reports the media as present again (Detach cleared it) and raises
// unit attention, which the next TestUnitReady reports once and then clears.
func (a *BlockAdapter) Attach() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mediaPresent = true
	a.unitAttention = true
}

func (a *BlockAdapter) setSense(key, asc, ascq uint8) {
	a.lastSenseKey, a.lastASC, a.lastASCQ = key, asc, ascq
}

// Sense returns the sense triple set by the most recent refusal, for
// REQUEST SENSE.
func (a *BlockAdapter) Sense() *RequestSenseResponse {
	a.mu.Lock()
	defer a.mu.Unlock()
	return NewRequestSenseResponse(a.lastSenseKey, a.lastASC, a.lastASCQ)
}

// Inquiry returns the fixed vendor/product/revision strings.
func (a *BlockAdapter) Inquiry() *InquiryResponse {
	return NewInquiryResponse(true, a.vendor, a.product, a.revision)
}

// TestUnitReady reports readiness, clearing a pending unit-attention
// condition after reporting it once.
func (a *BlockAdapter) TestUnitReady() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.mediaPresent {
		a.setSense(SenseKeyNotReady, ASCMediumNotPresent, 0x00)
		return fmt.Errorf("msc: media not present")
	}
	if a.unitAttention {
		a.unitAttention = false
		a.setSense(SenseKeyUnitAttention, ASCNotReadyToReady, 0x00)
		return fmt.Errorf("msc: unit attention")
	}
	return nil
}

// ReadCapacity returns (block_count, block_size) from the BlockDevice, or
// NotReady if media is absent.
func (a *BlockAdapter) ReadCapacity() (blockCount uint32, blockSize uint16, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.mediaPresent {
		a.setSense(SenseKeyNotReady, ASCMediumNotPresent, 0x00)
		return 0, 0, fmt.Errorf("msc: media not present")
	}
	return a.dev.SectorCount(), a.dev.SectorSize(), nil
}

// Read10 delegates to the SectorCache, translating any failure into
// MediumError sense per §4.3.
func (a *BlockAdapter) Read10(lba blockdevice.LBA, offset, length int, out []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.cache.Read(lba, offset, length, out); err != nil {
		a.setSense(SenseKeyMediumError, ASCUnrecoveredReadErr, 0x00)
		return err
	}
	return nil
}

// Write10 delegates to the SectorCache, translating any failure into a
// write-fault sense per §4.3.
func (a *BlockAdapter) Write10(lba blockdevice.LBA, offset, length int, src []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.cache.Write(lba, offset, length, src); err != nil {
		a.setSense(SenseKeyMediumError, ASCWriteFault, 0x00)
		return err
	}
	return nil
}

// SynchronizeCache flushes the dirty sector. PreventAllowRemoval shares
// this implementation: both just need the cache consistent before the
// command succeeds.
func (a *BlockAdapter) SynchronizeCache() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cache.Flush()
}

// PreventAllowRemoval is a no-op beyond flushing the cache; the arbiter, not
// the adapter, decides whether removal is actually permitted.
func (a *BlockAdapter) PreventAllowRemoval(prevent bool) error {
	return a.SynchronizeCache()
}

// StartStopUnit is a no-op that simply reports back the requested state.
func (a *BlockAdapter) StartStopUnit(start bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started = start
	return a.started
}

// ModeSense6 returns the minimal stub the contract calls for: mode data
// length only, no pages, no block descriptor.
func (a *BlockAdapter) ModeSense6() *ModeSense6Response {
	return &ModeSense6Response{ModeDataLength: 3}
}

// UnknownCommand sets IllegalRequest sense for any opcode the adapter does
// not recognize.
func (a *BlockAdapter) UnknownCommand() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.setSense(SenseKeyIllegalRequest, ASCInvalidCommandOp, 0x00)
	return fmt.Errorf("msc: unknown opcode")
}

// Detach invalidates the cache (flushing the dirty sector first) so no
// pending write survives after the USB session ends.
func (a *BlockAdapter) Detach() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mediaPresent = false
	return a.cache.Invalidate()
}
