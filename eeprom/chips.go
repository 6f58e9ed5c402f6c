package eeprom

import (
	"cmp"
	"fmt"
	"strings"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"ee24/core"
)

// Chip describes a 24Cxx part with a two-byte in-chip offset.
type Chip struct {
	Name       string
	Size       uint32        // capacity in bytes
	PageSize   int           // write page in bytes
	WriteCycle time.Duration // max internal write time (tWR)
}

// Banks returns the number of consecutive device addresses the part uses.
func (c Chip) Banks() int {
	return int((c.Size + BankSize - 1) / BankSize)
}

// Config returns device settings for the part at base.
func (c Chip) Config(base core.I2CAddress) Config {
	return Config{
		BaseAddress: base,
		PageSize:    c.PageSize,
		Size:        c.Size,
		WriteCycle:  c.WriteCycle,
	}
}

var chips = map[string]Chip{
	"24C32":  {Name: "24C32", Size: 4 << 10, PageSize: 32, WriteCycle: 5 * time.Millisecond},
	"24C64":  {Name: "24C64", Size: 8 << 10, PageSize: 32, WriteCycle: 5 * time.Millisecond},
	"24C128": {Name: "24C128", Size: 16 << 10, PageSize: 64, WriteCycle: 5 * time.Millisecond},
	"24C256": {Name: "24C256", Size: 32 << 10, PageSize: 64, WriteCycle: 5 * time.Millisecond},
	"24C512": {Name: "24C512", Size: 64 << 10, PageSize: 128, WriteCycle: 5 * time.Millisecond},
	"24CM01": {Name: "24CM01", Size: 128 << 10, PageSize: 256, WriteCycle: 5 * time.Millisecond},
	"24CM02": {Name: "24CM02", Size: 256 << 10, PageSize: 256, WriteCycle: 10 * time.Millisecond},
}

// LookupChip finds a part by name, ignoring case and a leading "AT" or "S-".
func LookupChip(name string) (Chip, error) {
	key := strings.ToUpper(strings.TrimSpace(name))
	key = strings.TrimPrefix(key, "AT")
	key = strings.TrimPrefix(key, "S-")
	c, ok := chips[key]
	if !ok {
		return Chip{}, fmt.Errorf("eeprom: unknown chip %q (known: %s)", name, strings.Join(ChipNames(), ", "))
	}
	return c, nil
}

// ChipNames lists the known parts, smallest first.
func ChipNames() []string {
	names := maps.Keys(chips)
	slices.SortFunc(names, func(a, b string) int {
		if c := cmp.Compare(chips[a].Size, chips[b].Size); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	return names
}
