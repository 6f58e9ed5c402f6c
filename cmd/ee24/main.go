// Command ee24 reads and writes 24Cxx/24CMxx EEPROMs, either on a simulated
// bus or through a bridge MCU on a serial port.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"ee24/config"
	"ee24/core"
)

// app holds the state shared by every subcommand.
type app struct {
	configPath string
	chip       string
	backend    string
	device     string
	image      string
	base       uint8
	timeout    time.Duration
	verbose    bool

	sess *session
}

func main() {
	a := &app{}
	err := newRootCmd(a).Execute()
	// PersistentPostRunE is skipped when a command fails.
	if cerr := a.close(); err == nil {
		err = cerr
	}
	if err != nil {
		if a.verbose {
			core.DumpTrace()
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "ee24",
		Short:         "Read and write 24Cxx serial EEPROMs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	f := root.PersistentFlags()
	f.StringVarP(&a.configPath, "config", "c", "", "configuration file (YAML or JSON)")
	f.StringVar(&a.chip, "chip", "", "chip type, e.g. 24CM02")
	f.StringVar(&a.backend, "backend", "", "backend: sim, loopback or serial")
	f.StringVar(&a.device, "device", "", "serial device of the bridge MCU")
	f.StringVar(&a.image, "image", "", "image file backing the simulated chip")
	f.Uint8Var(&a.base, "base", 0, "base device address (default 0x50)")
	f.DurationVar(&a.timeout, "timeout", 0, "bridge response timeout (default 1s)")
	f.BoolVarP(&a.verbose, "verbose", "v", false, "log bus traffic to stderr")

	root.AddCommand(deviceCommands(a)...)
	root.AddCommand(newShellCmd(a))
	return root
}

// open loads the configuration, applies flag overrides and opens the device.
func (a *app) open(cmd *cobra.Command) error {
	if a.verbose {
		logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
		core.SetDebugWriter(func(msg string) { logger.Debug(msg) })
		core.SetDebugEnabled(true)
	}

	cfg := config.Default()
	if a.configPath != "" {
		var err error
		if cfg, err = config.Load(a.configPath); err != nil {
			return err
		}
	}

	if a.chip != "" {
		cfg.Chip = a.chip
	}
	if a.backend != "" {
		cfg.Backend = a.backend
	}
	if a.device != "" {
		cfg.Device = a.device
	}
	if a.image != "" {
		cfg.Image = a.image
	}
	if a.base != 0 {
		cfg.BaseAddress = a.base
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sess, err := openSession(cfg)
	if err != nil {
		return err
	}
	if sess.mcu != nil && a.timeout > 0 {
		sess.mcu.SetTimeout(a.timeout)
	}
	a.sess = sess
	return nil
}

func (a *app) close() error {
	if a.sess == nil {
		return nil
	}
	err := a.sess.Close()
	a.sess = nil
	return err
}
