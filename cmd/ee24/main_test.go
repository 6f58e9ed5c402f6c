package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ee24/config"
	"ee24/eeprom"
)

// run executes the CLI with args the way main does.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	a := &app{}
	root := newRootCmd(a)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err := root.Execute()
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return out.String(), err
}

func TestImagePersistsBetweenRuns(t *testing.T) {
	img := filepath.Join(t.TempDir(), "chip.ee24")

	out, err := run(t, "--image", img, "write", "0xFFFE", "01020304")
	require.NoError(t, err)
	assert.Equal(t, "wrote 4 bytes at 0xfffe\n", out)

	out, err = run(t, "--image", img, "read", "0xFFFE", "4")
	require.NoError(t, err)
	assert.Equal(t, "01020304\n", out)

	out, err = run(t, "--image", img, "info")
	require.NoError(t, err)
	assert.Contains(t, out, "sim device 0x53")
}

func TestTypedCommands(t *testing.T) {
	img := filepath.Join(t.TempDir(), "chip.ee24")

	_, err := run(t, "--image", img, "write-dword", "0x1FFFE", "-2")
	require.NoError(t, err)
	out, err := run(t, "--image", img, "read-dword", "0x1FFFE")
	require.NoError(t, err)
	assert.Equal(t, "0xfffffffe (4294967294, signed -2)\n", out)

	_, err = run(t, "--image", img, "write-word", "0x100", "0xBEEF")
	require.NoError(t, err)
	out, err = run(t, "--image", img, "read-word", "0x100")
	require.NoError(t, err)
	assert.Equal(t, "0xbeef (48879)\n", out)

	_, err = run(t, "--image", img, "write-byte", "0x100", "256")
	assert.ErrorContains(t, err, "bad 8-bit value")
}

func TestPlanCommand(t *testing.T) {
	out, err := run(t, "plan", "250", "300")
	require.NoError(t, err)
	assert.Contains(t, out, "device 0x50  offset 0x00fa  len 6\n")
	assert.Contains(t, out, "device 0x50  offset 0x0200  len 38\n")
	assert.Contains(t, out, "3 transaction(s)")
}

func TestLoopbackBackend(t *testing.T) {
	img := filepath.Join(t.TempDir(), "chip.ee24")

	_, err := run(t, "--backend", "loopback", "--image", img, "write-string", "0x20", "hello")
	require.NoError(t, err)

	// The bridge wrote through the firmware into the same image.
	out, err := run(t, "--image", img, "read-string", "0x20")
	require.NoError(t, err)
	assert.Equal(t, "\"hello\"\n", out)

	out, err = run(t, "--backend", "loopback", "info", "--dictionary")
	require.NoError(t, err)
	assert.Contains(t, out, "transfer:     49")
	assert.Contains(t, out, "I2C_MAX_TRANSFER = 51")

	_, err = run(t, "info", "--dictionary")
	assert.ErrorContains(t, err, "no bridge MCU")
}

func TestBridgeConfigAndStop(t *testing.T) {
	out, err := run(t, "--backend", "loopback", "info")
	require.NoError(t, err)
	assert.Regexp(t, `bridge:       config crc 0x[0-9a-f]{8}, shutdown false`, out)
	assert.NotContains(t, out, "config crc 0x00000000")

	out, err = run(t, "--backend", "loopback", "emergency-stop")
	require.NoError(t, err)
	assert.Equal(t, "bridge stopped\n", out)

	_, err = run(t, "emergency-stop")
	assert.ErrorContains(t, err, "no bridge MCU")
}

func TestConfigFileAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ee24.yaml")
	writeFile(t, path, "chip: 24C32\nbackend: sim\n")

	_, err := run(t, "--config", path, "read", "4095", "2")
	assert.ErrorIs(t, err, eeprom.ErrOutOfRange)

	out, err := run(t, "--config", path, "--chip", "24C64", "read", "4095", "2")
	require.NoError(t, err)
	assert.Equal(t, "ffff\n", out)

	_, err = run(t, "--backend", "usb", "info")
	assert.ErrorIs(t, err, config.ErrUnknownBackend)
}

func TestDumpAndFill(t *testing.T) {
	img := filepath.Join(t.TempDir(), "chip.ee24")

	_, err := run(t, "--image", img, "fill", "0", "3", "0x41")
	require.NoError(t, err)
	_, err = run(t, "--image", img, "erase", "1", "1")
	require.NoError(t, err)

	out, err := run(t, "--image", img, "dump", "0", "20")
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimSpace([]byte(out)), []byte("\n"))
	require.Len(t, lines, 2)
	assert.True(t, bytes.HasPrefix(lines[0], []byte("00000000  41 ff 41 ff")), string(lines[0]))
	assert.True(t, bytes.HasSuffix(lines[0], []byte("|A.A.............|")), string(lines[0]))
	assert.True(t, bytes.HasPrefix(lines[1], []byte("00000010  ff ff ff ff")), string(lines[1]))
}

func TestShellLines(t *testing.T) {
	sess, err := openSession(config.Default())
	require.NoError(t, err)
	a := &app{sess: sess}
	defer a.close()

	var out, errOut bytes.Buffer
	assert.False(t, runLine(a, "write-byte 0x10 0xAB", &out, &errOut))
	assert.False(t, runLine(a, "read-byte 0x10", &out, &errOut))
	assert.Equal(t, "0xab (171)\n", out.String())
	assert.Empty(t, errOut.String())

	assert.False(t, runLine(a, "read-byte nowhere", &out, &errOut))
	assert.Contains(t, errOut.String(), "Error: bad address")

	assert.False(t, runLine(a, "   ", &out, &errOut))
	assert.True(t, runLine(a, "quit", &out, &errOut))
}

func TestShellQuotingAndNegativeValues(t *testing.T) {
	sess, err := openSession(config.Default())
	require.NoError(t, err)
	a := &app{sess: sess}
	defer a.close()

	var out, errOut bytes.Buffer
	assert.False(t, runLine(a, `write-string 0x40 "hello world"`, &out, &errOut))
	assert.False(t, runLine(a, "read-string 0x40", &out, &errOut))
	assert.Equal(t, "\"hello world\"\n", out.String())

	out.Reset()
	assert.False(t, runLine(a, "write-byte 0x10 -1", &out, &errOut))
	assert.False(t, runLine(a, "fill 0x11 2 -2", &out, &errOut))
	assert.False(t, runLine(a, "read 0x10 3", &out, &errOut))
	assert.Equal(t, "fffefe\n", out.String())
	assert.Empty(t, errOut.String())

	assert.False(t, runLine(a, `write-string 0x40 "unterminated`, &out, &errOut))
	assert.Contains(t, errOut.String(), "Error: ")
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		bits int
		want uint64
	}{
		{"0", 8, 0},
		{"0xff", 8, 0xFF},
		{"-1", 8, 0xFF},
		{"-2", 32, 0xFFFFFFFE},
		{"0x8000", 16, 0x8000},
		{"-32768", 16, 0x8000},
	}
	for _, tt := range tests {
		got, err := parseValue(tt.in, tt.bits)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "x", "0x100", "-129"} {
		_, err := parseValue(bad, 8)
		assert.Error(t, err, bad)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
