package esp32c2

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/efuse"
)

// VirtualChip simulates the eFuse controller at register level. Program
// commands OR the data window into fuse storage and read commands decode it
// into the read registers, Reed-Solomon correction and error counters included.
type VirtualChip struct {
	mx sync.Mutex

	Name     string
	Crystal  physic.Frequency
	Security uint32
	// BusyReads is the number of status reads reporting busy after a command.
	BusyReads int

	regs   map[uint32]uint32
	fuses  [][]uint32
	repeat uint32
	busy   int
	writes int
}

// NewVirtualChip returns a blank chip with every fuse unburned.
func NewVirtualChip() *VirtualChip {
	v := &VirtualChip{
		Name:    ChipName,
		Crystal: CrystalFrequency,
		regs:    make(map[uint32]uint32),
	}
	for _, d := range Blocks {
		v.fuses = append(v.fuses, make([]uint32, storageWords(d)))
	}
	v.reload()
	return v
}

func storageWords(d efuse.BlockDescriptor) int {
	if d.Scheme == efuse.CodingReedSolomon {
		return (efuse.RSDataLength + efuse.RSParityLength) / 4
	}
	return d.Words
}

func (v *VirtualChip) ChipName(ctx context.Context) (string, error) {
	v.mx.Lock()
	defer v.mx.Unlock()
	return v.Name, nil
}

func (v *VirtualChip) CrystalFrequency(ctx context.Context) (physic.Frequency, error) {
	v.mx.Lock()
	defer v.mx.Unlock()
	return v.Crystal, nil
}

func (v *VirtualChip) SecurityFlags(ctx context.Context) (uint32, error) {
	v.mx.Lock()
	defer v.mx.Unlock()
	return v.Security, nil
}

func (v *VirtualChip) ReadReg(ctx context.Context, addr uint32) (uint32, error) {
	v.mx.Lock()
	defer v.mx.Unlock()
	if addr == RegStatus {
		if v.busy > 0 {
			v.busy--
			return 0x2, nil
		}
		return StatusIdle, nil
	}
	return v.regs[addr], nil
}

func (v *VirtualChip) WriteReg(ctx context.Context, addr, value uint32, delay time.Duration) error {
	v.mx.Lock()
	defer v.mx.Unlock()
	v.writes++
	v.regs[addr] = value
	if addr != RegCmd {
		return nil
	}
	v.busy = v.BusyReads
	switch {
	case value&0x3 == CmdPgm && v.regs[RegConf] == WriteOpCode:
		v.program(int(value>>2) & 0xF)
	case value&0x3 == CmdRead && v.regs[RegConf] == ReadOpCode:
		v.reload()
	default:
		return fmt.Errorf("virtual: unsupported command 0x%x with conf 0x%x", value, v.regs[RegConf])
	}
	v.regs[RegCmd] = 0
	return nil
}

func (v *VirtualChip) UpdateReg(ctx context.Context, addr, mask, value uint32) error {
	return efuse.UpdateField(ctx, v, addr, mask, value)
}

// Writes returns the number of register writes seen so far.
func (v *VirtualChip) Writes() int {
	v.mx.Lock()
	defer v.mx.Unlock()
	return v.writes
}

func (v *VirtualChip) program(id int) {
	if id >= len(v.fuses) {
		return
	}
	for i := range v.fuses[id] {
		v.fuses[id][i] |= v.regs[RegPgmData0+4*uint32(i)]
	}
}

// reload refreshes the read and error registers from fuse storage.
func (v *VirtualChip) reload() {
	var rsErr uint32
	for _, d := range Blocks {
		stored := v.fuses[d.ID]
		data := stored[:d.Words]
		if d.Scheme == efuse.CodingReedSolomon && slices.ContainsFunc(stored, func(w uint32) bool { return w != 0 }) {
			layout := BlockErrors[d.ID]
			decoded, corrected, err := efuse.DecodeRS(efuse.WordBytes(stored))
			switch {
			case err != nil:
				rsErr |= layout.NumMask<<layout.NumShift | 1<<layout.FailBit
			default:
				data = wordsOf(decoded)[:d.Words]
				rsErr |= (uint32(corrected) & layout.NumMask) << layout.NumShift
			}
		}
		for i, w := range data {
			v.regs[d.ReadAddr+4*uint32(i)] = w
		}
	}
	v.regs[RegRdRSErr] = rsErr
	v.regs[RegRdRepeatErr] = v.repeat
}

func wordsOf(b []byte) []uint32 {
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[4*i:])
	}
	return words
}

// FlipBit corrupts one stored bit of a block, parity words included for coded
// blocks. The change is visible after the next read command.
func (v *VirtualChip) FlipBit(block, bit int) error {
	v.mx.Lock()
	defer v.mx.Unlock()
	if block < 0 || block >= len(v.fuses) || bit < 0 || bit >= len(v.fuses[block])*32 {
		return fmt.Errorf("virtual: bit %d of block %d out of range", bit, block)
	}
	v.fuses[block][bit/32] ^= 1 << (bit % 32)
	return nil
}

// SetRepeatErrors sets the BLOCK0 repeat error word reported by the next read.
func (v *VirtualChip) SetRepeatErrors(word uint32) {
	v.mx.Lock()
	defer v.mx.Unlock()
	v.repeat = word
}

// Fuses returns a copy of the stored words of a block.
func (v *VirtualChip) Fuses(block int) []uint32 {
	v.mx.Lock()
	defer v.mx.Unlock()
	return slices.Clone(v.fuses[block])
}

type virtualState struct {
	Chip         string     `yaml:"chip"`
	CrystalMHz   int64      `yaml:"crystal_mhz"`
	Security     uint32     `yaml:"security_flags"`
	RepeatErrors uint32     `yaml:"repeat_errors"`
	Blocks       [][]uint32 `yaml:"blocks"`
}

// Save writes the fuse storage as YAML.
func (v *VirtualChip) Save(w io.Writer) error {
	v.mx.Lock()
	st := virtualState{
		Chip:         v.Name,
		CrystalMHz:   int64(v.Crystal / physic.MegaHertz),
		Security:     v.Security,
		RepeatErrors: v.repeat,
	}
	for _, f := range v.fuses {
		st.Blocks = append(st.Blocks, slices.Clone(f))
	}
	v.mx.Unlock()

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&st); err != nil {
		return fmt.Errorf("could not encode virtual chip: %w", err)
	}
	return enc.Close()
}

// LoadVirtualChip restores a chip saved with Save.
func LoadVirtualChip(r io.Reader) (*VirtualChip, error) {
	var st virtualState
	if err := yaml.NewDecoder(r).Decode(&st); err != nil {
		return nil, fmt.Errorf("could not decode virtual chip: %w", err)
	}
	v := NewVirtualChip()
	if st.Chip != "" {
		v.Name = st.Chip
	}
	if st.CrystalMHz != 0 {
		v.Crystal = physic.Frequency(st.CrystalMHz) * physic.MegaHertz
	}
	v.Security = st.Security
	v.repeat = st.RepeatErrors
	if len(st.Blocks) > len(v.fuses) {
		return nil, fmt.Errorf("virtual chip has %d blocks, expected %d", len(st.Blocks), len(v.fuses))
	}
	for i, words := range st.Blocks {
		if len(words) != len(v.fuses[i]) {
			return nil, fmt.Errorf("virtual chip block %d has %d words, expected %d", i, len(words), len(v.fuses[i]))
		}
		copy(v.fuses[i], words)
	}
	v.reload()
	return v, nil
}
