package main

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"net"

	"ee24/config"
	"ee24/core"
	"ee24/eeprom"
	"ee24/firmware"
	"ee24/host/mcu"
	"ee24/sim"
)

// session is an open device on one of the backends.
type session struct {
	cfg  *config.Config
	chip eeprom.Chip
	dev  *eeprom.Device

	bus *sim.Bus // sim and loopback backends
	mcu *mcu.MCU // serial and loopback backends
}

func openSession(cfg *config.Config) (*session, error) {
	chip, err := cfg.ChipInfo()
	if err != nil {
		return nil, err
	}
	dc, err := cfg.DeviceConfig()
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, chip: chip}

	var tr eeprom.Transport
	switch cfg.Backend {
	case config.BackendSim:
		if s.bus, err = openImage(cfg, chip); err != nil {
			return nil, err
		}
		dc.WriteCycle = 0
		if tr, err = core.NewBusTransport(s.bus, core.I2CBusID(cfg.Bus), cfg.Rate); err != nil {
			return nil, err
		}

	case config.BackendLoopback:
		if s.bus, err = openImage(cfg, chip); err != nil {
			return nil, err
		}
		dc.WriteCycle = 0
		hostEnd, devEnd := net.Pipe()
		fw := firmware.New(s.bus, firmware.Options{CompressDictionary: true})
		go func() {
			if err := fw.Serve(devEnd); err != nil {
				core.Debugf("[loopback] firmware stopped: %v", err)
			}
		}()
		s.mcu = mcu.New(hostEnd)
		if tr, err = s.bridge(); err != nil {
			s.mcu.Close()
			return nil, err
		}

	case config.BackendSerial:
		if s.mcu, err = mcu.Connect(cfg.SerialConfig()); err != nil {
			return nil, fmt.Errorf("connect %s: %w", cfg.Device, err)
		}
		if tr, err = s.bridge(); err != nil {
			s.mcu.Close()
			return nil, err
		}

	default:
		return nil, fmt.Errorf("%w %q", config.ErrUnknownBackend, cfg.Backend)
	}

	if s.dev, err = eeprom.New(tr, dc); err != nil {
		s.Close()
		return nil, err
	}
	core.Debugf("[session] %s on %s backend, base 0x%02x", chip.Name, cfg.Backend, dc.BaseAddress)
	return s, nil
}

// openImage loads the sim backend's image, or creates a blank chip when
// there is none yet.
func openImage(cfg *config.Config, chip eeprom.Chip) (*sim.Bus, error) {
	if cfg.Image != "" {
		bus, err := sim.LoadFile(cfg.Image)
		if err == nil {
			return bus, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load image %s: %w", cfg.Image, err)
		}
	}
	return sim.New(chip, core.I2CAddress(cfg.BaseAddress))
}

func (s *session) bridge() (*mcu.I2CBridge, error) {
	if err := s.mcu.RetrieveDictionary(); err != nil {
		return nil, err
	}
	if err := s.mcu.Configure(s.configCRC()); err != nil {
		return nil, fmt.Errorf("configure bridge: %w", err)
	}
	return mcu.NewI2CBridge(s.mcu, core.I2CBusID(s.cfg.Bus), s.cfg.Rate)
}

// configCRC identifies the bridge setup, so a firmware left configured by
// an earlier run with other settings gets reset.
func (s *session) configCRC() uint32 {
	return crc32.ChecksumIEEE(fmt.Appendf(nil, "bus=%d rate=%d base=0x%02x",
		s.cfg.Bus, s.cfg.Rate, s.cfg.BaseAddress))
}

// Close shuts the MCU link and saves the sim image.
func (s *session) Close() error {
	var errs []error
	if s.mcu != nil {
		errs = append(errs, s.mcu.Close())
	}
	if s.bus != nil && s.cfg.Image != "" {
		errs = append(errs, s.bus.SaveFile(s.cfg.Image))
	}
	return errors.Join(errs...)
}

func (s *session) writeInfo(w io.Writer) error {
	dc := s.dev.Config()
	fmt.Fprintf(w, "chip:         %s (%d bytes, %d bank(s))\n", s.chip.Name, s.chip.Size, s.chip.Banks())
	fmt.Fprintf(w, "backend:      %s\n", s.cfg.Backend)
	fmt.Fprintf(w, "base address: 0x%02x\n", dc.BaseAddress)
	fmt.Fprintf(w, "page size:    %d\n", dc.PageSize)
	fmt.Fprintf(w, "transfer:     %d\n", s.dev.TransferLimit())
	if s.cfg.Image != "" {
		fmt.Fprintf(w, "image:        %s\n", s.cfg.Image)
	}
	if s.mcu != nil {
		state, err := s.mcu.GetConfig()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "bridge:       config crc 0x%08x, shutdown %v\n", state.CRC, state.Shutdown)
	}
	if s.bus != nil {
		for _, addr := range s.bus.Devices() {
			fmt.Fprintf(w, "  sim device 0x%02x\n", addr)
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}
