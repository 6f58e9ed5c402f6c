package sim

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/exp/slices"

	"ee24/core"
)

// SnapshotVersion is the current version of the image file format.
const SnapshotVersion = 1

var ErrSnapshotVersion = errors.New("sim: unsupported snapshot version")

// snapshot is the on-disk form of a Bus, CBOR with integer keys.
type snapshot struct {
	Version  int         `cbor:"1,keyasint"`
	PageSize int         `cbor:"2,keyasint"`
	Banks    []bankImage `cbor:"3,keyasint"`
}

type bankImage struct {
	Addr uint8  `cbor:"1,keyasint"`
	Data []byte `cbor:"2,keyasint"`
}

var snapEncMode cbor.EncMode

func init() {
	var err error
	snapEncMode, err = cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create snapshot CBOR encoder mode: %v", err))
	}
}

// Save writes the contents of every bank to w.
func (b *Bus) Save(w io.Writer) error {
	b.mu.Lock()
	snap := snapshot{Version: SnapshotVersion, PageSize: b.pageSize}
	for addr, bk := range b.banks {
		snap.Banks = append(snap.Banks, bankImage{
			Addr: uint8(addr),
			Data: append([]byte(nil), bk.mem...),
		})
	}
	b.mu.Unlock()

	// Map order is random; keep files byte-identical for identical contents.
	slices.SortFunc(snap.Banks, func(x, y bankImage) int { return cmp.Compare(x.Addr, y.Addr) })
	return snapEncMode.NewEncoder(w).Encode(snap)
}

// Load rebuilds a bus from a snapshot written by Save.
func Load(r io.Reader) (*Bus, error) {
	var snap snapshot
	if err := cbor.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("sim: decode snapshot: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return nil, ErrSnapshotVersion
	}
	if snap.PageSize <= 0 || snap.PageSize&(snap.PageSize-1) != 0 {
		return nil, fmt.Errorf("sim: snapshot page size %d: %w", snap.PageSize, ErrProtocol)
	}

	b := NewBus(snap.PageSize)
	for _, img := range snap.Banks {
		if err := b.Attach(core.I2CAddress(img.Addr), len(img.Data)); err != nil {
			return nil, fmt.Errorf("sim: bank 0x%02x: %w", img.Addr, err)
		}
		copy(b.banks[core.I2CAddress(img.Addr)].mem, img.Data)
	}
	return b, nil
}

// SaveFile writes a snapshot to path.
func (b *Bus) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := b.Save(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadFile reads a snapshot from path.
func LoadFile(path string) (*Bus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}
