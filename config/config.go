// Package config loads the ee24 tool configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ee24/core"
	"ee24/eeprom"
	"ee24/host/serial"
)

// Backends a Config can select.
const (
	BackendSim      = "sim"
	BackendSerial   = "serial"
	BackendLoopback = "loopback"
)

var ErrUnknownBackend = errors.New("config: unknown backend")

// Config describes the chip and how to reach it.
type Config struct {
	Chip        string        `yaml:"chip" json:"chip"`
	BaseAddress uint8         `yaml:"base_address" json:"base_address"`
	PageSize    int           `yaml:"page_size" json:"page_size"`
	Size        uint32        `yaml:"size" json:"size"`
	WriteCycle  time.Duration `yaml:"write_cycle" json:"write_cycle"`

	Backend string `yaml:"backend" json:"backend"`
	Device  string `yaml:"device" json:"device"`
	Baud    int    `yaml:"baud" json:"baud"`
	Bus     uint8  `yaml:"bus" json:"bus"`
	Rate    uint32 `yaml:"rate" json:"rate"`
	// Image is the snapshot file backing the sim backend. Empty keeps the
	// simulated chip in memory only.
	Image string `yaml:"image" json:"image"`
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse parses a YAML document. JSON is a subset of YAML and is accepted too.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given: a simulated
// 24CM02 at 0x50.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills in missing configuration values
func applyDefaults(cfg *Config) {
	if cfg.Chip == "" {
		cfg.Chip = "24CM02"
	}
	if cfg.BaseAddress == 0 {
		cfg.BaseAddress = uint8(eeprom.DefaultBaseAddress)
	}

	if cfg.Backend == "" {
		cfg.Backend = BackendSim
	}
	cfg.Backend = strings.ToLower(cfg.Backend)
	if cfg.Baud == 0 {
		cfg.Baud = serial.DefaultBaud
	}
	if cfg.Rate == 0 {
		cfg.Rate = 400000 // 400 kHz fast mode
	}
}

// Validate checks the chip name, addresses and backend.
func (c *Config) Validate() error {
	if _, err := eeprom.LookupChip(c.Chip); err != nil {
		return err
	}
	if !core.I2CAddress(c.BaseAddress).Valid() {
		return fmt.Errorf("config: base_address 0x%02x: %w", c.BaseAddress, core.ErrInvalidAddress)
	}
	if c.PageSize < 0 || c.PageSize&(c.PageSize-1) != 0 {
		return fmt.Errorf("config: page_size %d: %w", c.PageSize, eeprom.ErrInvalidPageSize)
	}

	switch c.Backend {
	case BackendSim, BackendLoopback:
	case BackendSerial:
		if c.Device == "" {
			return fmt.Errorf("config: serial backend needs a device")
		}
	default:
		return fmt.Errorf("%w %q", ErrUnknownBackend, c.Backend)
	}
	return nil
}

// ChipInfo returns the catalog entry for Chip.
func (c *Config) ChipInfo() (eeprom.Chip, error) {
	return eeprom.LookupChip(c.Chip)
}

// DeviceConfig returns the driver settings: the chip's geometry with any
// explicit overrides applied.
func (c *Config) DeviceConfig() (eeprom.Config, error) {
	chip, err := c.ChipInfo()
	if err != nil {
		return eeprom.Config{}, err
	}

	dc := chip.Config(core.I2CAddress(c.BaseAddress))
	if c.PageSize != 0 {
		dc.PageSize = c.PageSize
	}
	if c.Size != 0 {
		dc.Size = c.Size
	}
	if c.WriteCycle != 0 {
		dc.WriteCycle = c.WriteCycle
	}
	return dc, nil
}

// SerialConfig returns the port settings for the serial backend.
func (c *Config) SerialConfig() *serial.Config {
	sc := serial.DefaultConfig(c.Device)
	sc.Baud = c.Baud
	return sc
}
