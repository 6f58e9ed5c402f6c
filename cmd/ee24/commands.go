package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"ee24/eeprom"
)

// deviceCommands returns the commands that operate on an open device. The
// shell builds a fresh set for every line.
func deviceCommands(a *app) []*cobra.Command {
	return []*cobra.Command{
		newInfoCmd(a),
		newReadCmd(a),
		newWriteCmd(a),
		newDumpCmd(a),
		newReadByteCmd(a),
		newReadWordCmd(a),
		newReadDwordCmd(a),
		newWriteValueCmd(a, "write-byte", 8),
		newWriteValueCmd(a, "write-word", 16),
		newWriteValueCmd(a, "write-dword", 32),
		newReadStringCmd(a),
		newWriteStringCmd(a),
		newFillCmd(a),
		newEraseCmd(a),
		newPlanCmd(a),
		newStopCmd(a),
	}
}

func parseAddr(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("bad address %q", s)
	}
	return uint32(v), nil
}

func parseLen(s string) (int, error) {
	v, err := strconv.ParseUint(s, 0, 31)
	if err != nil {
		return 0, fmt.Errorf("bad length %q", s)
	}
	return int(v), nil
}

// parseValue accepts unsigned values and, for convenience, negative ones in
// two's complement.
func parseValue(s string, bits int) (uint64, error) {
	if strings.HasPrefix(s, "-") {
		v, err := strconv.ParseInt(s, 0, bits)
		if err != nil {
			return 0, fmt.Errorf("bad %d-bit value %q", bits, s)
		}
		return uint64(v) & (1<<bits - 1), nil
	}
	v, err := strconv.ParseUint(s, 0, bits)
	if err != nil {
		return 0, fmt.Errorf("bad %d-bit value %q", bits, s)
	}
	return v, nil
}

func newInfoCmd(a *app) *cobra.Command {
	var dict bool
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show the chip and backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if err := a.sess.writeInfo(out); err != nil {
				return err
			}
			if dict {
				if a.sess.mcu == nil {
					return fmt.Errorf("the %s backend has no bridge MCU", a.sess.cfg.Backend)
				}
				return a.sess.mcu.WriteSummary(out)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dict, "dictionary", false, "print the bridge firmware dictionary")
	return cmd
}

func newReadCmd(a *app) *cobra.Command {
	var outFile string
	cmd := &cobra.Command{
		Use:   "read ADDR LEN",
		Short: "Read LEN bytes as hex, or raw into a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddr(args[0])
			if err != nil {
				return err
			}
			n, err := parseLen(args[1])
			if err != nil {
				return err
			}
			data, err := a.sess.dev.ReadBuffer(addr, n)
			if err != nil {
				return err
			}
			if outFile != "" {
				return os.WriteFile(outFile, data, 0o644)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(data))
			return err
		},
	}
	cmd.Flags().StringVarP(&outFile, "output", "o", "", "write the bytes to this file")
	return cmd
}

func newWriteCmd(a *app) *cobra.Command {
	var inFile string
	cmd := &cobra.Command{
		Use:   "write ADDR [HEX]",
		Short: "Write hex bytes, or the contents of a file, at ADDR",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddr(args[0])
			if err != nil {
				return err
			}

			var data []byte
			switch {
			case inFile != "" && len(args) == 2:
				return fmt.Errorf("give either HEX or --input, not both")
			case inFile != "":
				if data, err = os.ReadFile(inFile); err != nil {
					return err
				}
			case len(args) == 2:
				if data, err = hex.DecodeString(args[1]); err != nil {
					return fmt.Errorf("bad hex data: %w", err)
				}
			default:
				return fmt.Errorf("nothing to write")
			}

			if err := a.sess.dev.WriteBuffer(addr, data); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes at 0x%x\n", len(data), addr)
			return err
		},
	}
	cmd.Flags().StringVarP(&inFile, "input", "i", "", "read the bytes from this file")
	return cmd
}

func newDumpCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dump ADDR LEN",
		Short: "Hex dump LEN bytes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddr(args[0])
			if err != nil {
				return err
			}
			n, err := parseLen(args[1])
			if err != nil {
				return err
			}
			return dump(cmd.OutOrStdout(), a.sess.dev, addr, n)
		},
	}
}

// dump prints n bytes from addr, 16 per line, labelled with their logical
// address.
func dump(w io.Writer, dev *eeprom.Device, addr uint32, n int) error {
	data, err := dev.ReadBuffer(addr, n)
	if err != nil {
		return err
	}
	for i := 0; i < len(data); i += 16 {
		line := data[i:min(i+16, len(data))]
		ascii := make([]byte, len(line))
		for j, b := range line {
			if b < 0x20 || b > 0x7E {
				b = '.'
			}
			ascii[j] = b
		}
		fmt.Fprintf(w, "%08x  % -47x  |%s|\n", addr+uint32(i), line, ascii)
	}
	return nil
}

func newReadByteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "read-byte ADDR",
		Short: "Read one byte",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddr(args[0])
			if err != nil {
				return err
			}
			v, err := a.sess.dev.ReadByte(addr)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "0x%02x (%d)\n", v, v)
			return err
		},
	}
}

func newReadWordCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "read-word ADDR",
		Short: "Read a big-endian 16-bit word",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddr(args[0])
			if err != nil {
				return err
			}
			v, err := a.sess.dev.ReadWord(addr)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "0x%04x (%d)\n", v, v)
			return err
		},
	}
}

func newReadDwordCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "read-dword ADDR",
		Short: "Read a big-endian 32-bit dword",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddr(args[0])
			if err != nil {
				return err
			}
			v, err := a.sess.dev.ReadDword(addr)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "0x%08x (%d, signed %d)\n", v, v, int32(v))
			return err
		},
	}
}

func newWriteValueCmd(a *app, name string, bits int) *cobra.Command {
	cmd := &cobra.Command{
		Use:   name + " ADDR VALUE",
		Short: fmt.Sprintf("Write a %d-bit value", bits),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddr(args[0])
			if err != nil {
				return err
			}
			v, err := parseValue(args[1], bits)
			if err != nil {
				return err
			}
			switch bits {
			case 8:
				return a.sess.dev.WriteByte(addr, byte(v))
			case 16:
				return a.sess.dev.WriteWord(addr, uint16(v))
			default:
				return a.sess.dev.WriteDword(addr, uint32(v))
			}
		},
	}
	// Flags end at the address so negative values parse as arguments.
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func newReadStringCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "read-string ADDR [MAX]",
		Short: "Read a NUL-terminated string (MAX defaults to one page)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddr(args[0])
			if err != nil {
				return err
			}
			limit := a.sess.dev.Config().PageSize
			if len(args) == 2 {
				if limit, err = parseLen(args[1]); err != nil {
					return err
				}
			}
			s, err := a.sess.dev.ReadString(addr, limit)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%q\n", s)
			return err
		},
	}
}

func newWriteStringCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "write-string ADDR TEXT",
		Short: "Write TEXT zero-padded to a full page",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddr(args[0])
			if err != nil {
				return err
			}
			return a.sess.dev.WriteString(addr, args[1])
		},
	}
}

func newFillCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fill ADDR LEN VALUE",
		Short: "Set LEN bytes to VALUE",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddr(args[0])
			if err != nil {
				return err
			}
			n, err := parseLen(args[1])
			if err != nil {
				return err
			}
			v, err := parseValue(args[2], 8)
			if err != nil {
				return err
			}
			return a.sess.dev.Fill(addr, n, byte(v))
		},
	}
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func newEraseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "erase ADDR LEN",
		Short: "Set LEN bytes to 0xFF",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddr(args[0])
			if err != nil {
				return err
			}
			n, err := parseLen(args[1])
			if err != nil {
				return err
			}
			return a.sess.dev.Erase(addr, n)
		},
	}
}

func newPlanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "plan ADDR LEN",
		Short: "Print the transactions a LEN byte write at ADDR would issue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddr(args[0])
			if err != nil {
				return err
			}
			n, err := parseLen(args[1])
			if err != nil {
				return err
			}
			plan, err := a.sess.dev.PlanSpan(addr, make([]byte, n))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			logical := addr
			for i, tx := range plan {
				fmt.Fprintf(out, "%3d  logical 0x%06x  device 0x%02x  offset 0x%04x  len %d\n",
					i, logical, tx.Addr, tx.Offset, len(tx.Payload))
				logical += uint32(len(tx.Payload))
			}
			_, err = fmt.Fprintf(out, "%d transaction(s)\n", len(plan))
			return err
		},
	}
}

func newStopCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "emergency-stop",
		Short: "Shut the bridge firmware down until it is reconfigured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.sess.mcu == nil {
				return fmt.Errorf("the %s backend has no bridge MCU", a.sess.cfg.Backend)
			}
			if err := a.sess.mcu.EmergencyStop(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "bridge stopped")
			return nil
		},
	}
}
