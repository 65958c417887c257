// Package config implements the ConfigStore external collaborator: the
// persisted {dev_name, sta_ssid, sta_psk, web_port, wifi_boot_mode} settings
// named in §6. Only web_port is consumed by the core; the rest is opaque
// passthrough for the out-of-scope Wi-Fi/web-config collaborators.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// WifiBootMode selects how the Wi-Fi collaborator behaves at boot.
type WifiBootMode string

const (
	WifiBootStation WifiBootMode = "station"
	WifiBootAP      WifiBootMode = "ap"
	WifiBootOff     WifiBootMode = "off"
)

// Config is the persisted settings document.
type Config struct {
	DevName      string       `yaml:"dev_name"`
	StaSSID      string       `yaml:"sta_ssid"`
	StaPSK       string       `yaml:"sta_psk"`
	WebPort      int          `yaml:"web_port"`
	WifiBootMode WifiBootMode `yaml:"wifi_boot_mode"`
}

// Default returns the configuration used when no file exists yet.
func Default() Config {
	return Config{
		DevName:      "ewmill",
		WebPort:      80,
		WifiBootMode: WifiBootStation,
	}
}

// Store is the ConfigStore: load()/save(Config) backed by a YAML file on
// the same filesystem the daemon runs on (not the SD card — config survives
// SD removal).
type Store struct {
	path string
}

// NewStore creates a Store reading/writing path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the config file, returning Default() if it does not exist yet.
func (s *Store) Load() (Config, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", s.path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", s.path, err)
	}
	return cfg, nil
}

// Save writes cfg atomically: a temp file in the same directory, fsynced,
// then renamed over the target — the same staging-file pattern the upload
// pipeline uses, so a crash mid-save never leaves a half-written config.
func (s *Store) Save(cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".config-*.yaml.tmp")
	if err != nil {
		return fmt.Errorf("config: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("config: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("config: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("config: rename into place: %w", err)
	}
	return nil
}
