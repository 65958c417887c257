// Package core wires one instance of every collaborator named in §6 into a
// single value, constructed once at cmd/ewmd startup and threaded through
// request handling instead of living behind package-level state — the
// "global singletons" redesign.
package core

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/yarrco/ewmill/arbiter"
	"github.com/yarrco/ewmill/blockdevice"
	"github.com/yarrco/ewmill/config"
	"github.com/yarrco/ewmill/fsapi"
	"github.com/yarrco/ewmill/fsoplock"
	"github.com/yarrco/ewmill/led"
	"github.com/yarrco/ewmill/msc"
	"github.com/yarrco/ewmill/overlay"
	"github.com/yarrco/ewmill/usbstack"
	"github.com/yarrco/ewmill/webui"
	"github.com/yarrco/ewmill/wifi"
)

// Options configures Core's construction. Fields left nil get the Noop/None
// stub for the out-of-scope collaborator named in §1.
type Options struct {
	DevicePath      string
	SectorSize      uint16
	SectorCount     uint32
	DeviceOffset    int64
	ReadAheadSector uint16
	MountPoint      string
	ConfigPath      string
	StartMode       arbiter.Mode

	USBStack usbstack.Stack
	Wifi     wifi.Station
	WebUI    webui.Assets
	LED      led.Indicator
	Overlay  overlay.FilesystemOverlay
	Logger   *logrus.Logger
}

// Core owns one of everything: the Arbiter, the HTTP handlers that consume
// it, the config store, and the external-collaborator stubs. One Core is
// constructed per process.
type Core struct {
	Arbiter  *arbiter.Arbiter
	Handlers *fsapi.Handlers
	Config   *config.Store
	ConfigV  config.Config

	Device  blockdevice.BlockDevice
	Adapter *msc.BlockAdapter

	USBStack usbstack.Stack
	Wifi     wifi.Station
	WebUI    webui.Assets
	LED      led.Indicator

	Log *logrus.Logger
}

// New opens the backing block device, wires the SCSI adapter, the Arbiter,
// and the HTTP handlers, and loads persisted config. Callers own shutting
// the returned Core down (there is currently nothing to release beyond the
// process exiting, since blockdevice.File.Close is only needed for a clean
// test teardown).
func New(opts Options) (*Core, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	dev, err := blockdevice.NewFile(opts.DevicePath, opts.SectorSize, opts.SectorCount, opts.DeviceOffset)
	if err != nil {
		return nil, fmt.Errorf("core: open block device: %w", err)
	}

	aheadSectors := opts.ReadAheadSector
	if aheadSectors == 0 {
		aheadSectors = 8
	}
	adapter := msc.NewBlockAdapter(dev, aheadSectors)

	fsOverlay := opts.Overlay
	if fsOverlay == nil {
		fsOverlay = overlay.NewOS(nil, nil)
	}

	usbStack := opts.USBStack
	if usbStack == nil {
		usbStack = &usbstack.Noop{}
	}
	wifiStation := opts.Wifi
	if wifiStation == nil {
		wifiStation = wifi.Noop{}
	}
	webUI := opts.WebUI
	if webUI == nil {
		webUI = webui.None{}
	}
	indicator := opts.LED
	if indicator == nil {
		indicator = led.Noop{}
	}

	configStore := config.NewStore(opts.ConfigPath)
	cfg, err := configStore.Load()
	if err != nil {
		return nil, fmt.Errorf("core: load config: %w", err)
	}

	fsLock := fsoplock.New()

	startMode := opts.StartMode
	a := arbiter.New(arbiter.Config{
		Device:     dev,
		Adapter:    adapter,
		USBStack:   usbStack,
		Overlay:    fsOverlay,
		MountPoint: opts.MountPoint,
		FsLock:     fsLock,
		StartMode:  startMode,
		LED:        indicator,
		Logger:     logger,
	})

	handlers := &fsapi.Handlers{
		Arbiter:    a,
		FsLock:     fsLock,
		MountPoint: opts.MountPoint,
		Log:        logger.WithField("component", "fsapi"),
	}

	return &Core{
		Arbiter:  a,
		Handlers: handlers,
		Config:   configStore,
		ConfigV:  cfg,
		Device:   dev,
		Adapter:  adapter,
		USBStack: usbStack,
		Wifi:     wifiStation,
		WebUI:    webUI,
		LED:      indicator,
		Log:      logger,
	}, nil
}
