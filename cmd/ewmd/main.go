package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/yarrco/ewmill/arbiter"
	"github.com/yarrco/ewmill/config"
	"github.com/yarrco/ewmill/core"
)

func main() {
	devicePath := flag.String("device", "/dev/mmcblk0", "block device or disk image backing the SD card")
	sectorSize := flag.Uint("sector-size", 512, "sector size in bytes")
	sectorCount := flag.Uint64("sector-count", 0, "total sectors on the device (required)")
	deviceOffset := flag.Int64("device-offset", 0, "byte offset of sector 0 within the device file")
	mountPoint := flag.String("mount-point", "/mnt/sd", "filesystem path the overlay mounts onto")
	configPath := flag.String("config", "/etc/ewmill/config.yaml", "path to the persisted config file")
	startExposed := flag.Bool("start-exposed", true, "boot in UsbExposed mode instead of AppMounted")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if *sectorCount == 0 {
		log.Fatal("ewmd: -sector-count is required")
	}

	startMode := arbiter.ModeUsbExposed
	if !*startExposed {
		startMode = arbiter.ModeAppMounted
	}

	c, err := core.New(core.Options{
		DevicePath:   *devicePath,
		SectorSize:   uint16(*sectorSize),
		SectorCount:  uint32(*sectorCount),
		DeviceOffset: *deviceOffset,
		MountPoint:   *mountPoint,
		ConfigPath:   *configPath,
		StartMode:    startMode,
		Logger:       log,
	})
	if err != nil {
		log.WithError(err).Fatal("ewmd: failed to initialize")
	}

	switch c.ConfigV.WifiBootMode {
	case config.WifiBootStation:
		if err := c.Wifi.Connect(c.ConfigV.StaSSID, c.ConfigV.StaPSK); err != nil {
			log.WithError(err).Warn("ewmd: wifi station connect failed, continuing without it")
		}
	case config.WifiBootOff, "":
		// stay disconnected
	}

	mux := http.NewServeMux()
	c.Handlers.RegisterRoutes(mux)
	mux.Handle("/", c.WebUI.Handler())

	addr := fmt.Sprintf(":%d", c.ConfigV.WebPort)
	log.WithFields(logrus.Fields{"addr": addr, "mode": c.Arbiter.CurrentMode()}).Info("ewmd: listening")

	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Fatal("ewmd: server exited")
		os.Exit(1)
	}
}
