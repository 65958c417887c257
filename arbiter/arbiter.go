// Package arbiter implements the SdArbiter: the process-wide state machine
// that owns the SD card and guarantees the USB block interface and the host
// filesystem overlay are never both live. Grounded on the original
// firmware's sdcard_lock/sdcard_mount/sdcard_unmount pairing, re-architected
// per the design notes: a single atomic Mode word published with release
// semantics instead of the source's condition flags checked lock-free.
package arbiter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/yarrco/ewmill/blockdevice"
	"github.com/yarrco/ewmill/fsoplock"
	"github.com/yarrco/ewmill/led"
	"github.com/yarrco/ewmill/msc"
	"github.com/yarrco/ewmill/opkind"
	"github.com/yarrco/ewmill/overlay"
	"github.com/yarrco/ewmill/usbstack"
)

// Mode is the access-mode word: exactly one value at a time, per §3's Mode
// entity.
type Mode int32

const (
	ModeUsbExposed Mode = iota
	ModeAppMounted
	ModeTransition
	ModeError
)

func (m Mode) String() string {
	switch m {
	case ModeUsbExposed:
		return "UsbExposed"
	case ModeAppMounted:
		return "AppMounted"
	case ModeTransition:
		return "Transition"
	case ModeError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Arbiter is the SdArbiter. One instance per process, owned by core.Core.
type Arbiter struct {
	modeWord atomic.Int32

	transitionMu sync.Mutex // ArbiterLock: short, covers transitions + the FsOpLock check
	appFSMu      sync.RWMutex

	fsLock    *fsoplock.Lock
	dev       blockdevice.BlockDevice
	adapter   *msc.BlockAdapter
	usb       usbstack.Stack
	fsOverlay overlay.FilesystemOverlay
	led       led.Indicator

	mountPoint string
	log        *logrus.Entry

	selfTestRunning atomic.Bool
	unitAttentions  atomic.Uint64
}

// Config bundles the collaborators the Arbiter coordinates.
type Config struct {
	Device      blockdevice.BlockDevice
	Adapter     *msc.BlockAdapter
	USBStack    usbstack.Stack
	Overlay     overlay.FilesystemOverlay
	MountPoint  string
	FsLock      *fsoplock.Lock
	StartMode   Mode // default boot mode read from config; UsbExposed if unset
	LED         led.Indicator
	Logger      *logrus.Logger
}

// New creates an Arbiter in cfg.StartMode (defaulting to UsbExposed, per
// §3's Mode lifecycle: "Created at boot from config (default UsbExposed)").
func New(cfg Config) *Arbiter {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}
	indicator := cfg.LED
	if indicator == nil {
		indicator = led.Noop{}
	}
	a := &Arbiter{
		fsLock:     cfg.FsLock,
		dev:        cfg.Device,
		adapter:    cfg.Adapter,
		usb:        cfg.USBStack,
		fsOverlay:  cfg.Overlay,
		led:        indicator,
		mountPoint: cfg.MountPoint,
		log:        logger.WithField("component", "arbiter"),
	}
	a.modeWord.Store(int32(cfg.StartMode))
	a.showMode(cfg.StartMode)
	return a
}

// showMode drives the LED indicator to reflect m, the only place outside
// TryRequest that touches the collaborator.
func (a *Arbiter) showMode(m Mode) {
	switch m {
	case ModeUsbExposed:
		a.led.ShowUsbExposed()
	case ModeAppMounted:
		a.led.ShowAppMounted()
	case ModeTransition:
		a.led.ShowTransition()
	case ModeError:
		a.led.ShowError()
	}
}

// CurrentMode is a constant-time, lock-free read safe from any context,
// including a SCSI callback.
func (a *Arbiter) CurrentMode() Mode {
	return Mode(a.modeWord.Load())
}

func (a *Arbiter) publish(m Mode) {
	a.modeWord.Store(int32(m))
	a.showMode(m)
}

// TryRequest attempts to move to target. It cooperates with FsOpLock and
// performs the transition atomically under transitionMu, or returns a Busy
// (transition or self-test in progress) or FileopInProgress (FsOpLock held)
// OpError without touching any state. No automatic retry: a failed
// transition leaves Mode at ModeError and must be recovered explicitly.
func (a *Arbiter) TryRequest(ctx context.Context, target Mode) error {
	a.transitionMu.Lock()
	defer a.transitionMu.Unlock()

	current := a.CurrentMode()
	if current == target {
		return nil
	}
	if current == ModeTransition || current == ModeError {
		return opkind.New(opkind.Busy)
	}
	if a.fsLock.Held() {
		return opkind.New(opkind.FileopInProgress)
	}
	if a.selfTestRunning.Load() {
		return opkind.New(opkind.Busy)
	}

	a.publish(ModeTransition)

	var err error
	switch {
	case current == ModeUsbExposed && target == ModeAppMounted:
		err = a.detachToMounted(ctx)
	case current == ModeAppMounted && target == ModeUsbExposed:
		err = a.attachToExposed(ctx)
	default:
		err = fmt.Errorf("arbiter: unsupported transition %s -> %s", current, target)
	}

	if err != nil {
		a.publish(ModeError)
		a.log.WithError(err).WithFields(logrus.Fields{"from": current, "to": target}).
			Error("transition failed")
		return err
	}

	a.publish(target)
	a.log.WithFields(logrus.Fields{"from": current, "to": target}).Info("transition complete")
	return nil
}

// detachToMounted stops the USB block device and mounts the filesystem
// overlay. After this returns successfully, no further SCSI Read10/Write10
// will touch the card, per the ordering guarantee in §5.
func (a *Arbiter) detachToMounted(ctx context.Context) error {
	if err := a.adapter.Detach(); err != nil {
		return opkind.NewFromError(opkind.DetachFail, err)
	}
	if a.usb != nil {
		if err := a.usb.Stop(); err != nil {
			return opkind.NewFromError(opkind.DetachFail, err)
		}
	}

	a.appFSMu.Lock()
	defer a.appFSMu.Unlock()

	if err := a.fsOverlay.Mount(a.mountPoint); err != nil {
		return opkind.NewFromError(opkind.DetachFail, err)
	}
	return nil
}

// attachToExposed unmounts the filesystem overlay and starts the USB block
// device. It waits for any in-flight WithAppFS callers to finish (the
// write-lock on appFSMu) before unmounting; FsOpLock has already refused
// this request above if a mutation is in progress, so this wait is brief.
func (a *Arbiter) attachToExposed(ctx context.Context) error {
	a.appFSMu.Lock()
	defer a.appFSMu.Unlock()

	if err := a.fsOverlay.Unmount(); err != nil {
		return opkind.NewFromError(opkind.AttachFail, err)
	}

	if a.usb != nil {
		if err := a.usb.Start(); err != nil {
			return opkind.NewFromError(opkind.AttachFail, err)
		}
	}
	a.adapter.Attach()
	a.unitAttentions.Add(1)
	return nil
}

// WithAppFS guarantees the mount point is live for the duration of f,
// holding a shared read-guard on Mode so a concurrent attach is serialized
// against it.
func WithAppFS[R any](a *Arbiter, f func(overlay.FilesystemOverlay) (R, error)) (R, error) {
	a.appFSMu.RLock()
	defer a.appFSMu.RUnlock()

	var zero R
	if a.CurrentMode() != ModeAppMounted {
		return zero, opkind.New(opkind.NotMounted)
	}
	return f(a.fsOverlay)
}

// SelfTestRunning reports whether a background self-test/benchmark task is
// in progress; TryRequest refuses attach/detach while true.
func (a *Arbiter) SelfTestRunning() bool {
	return a.selfTestRunning.Load()
}
