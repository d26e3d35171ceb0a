package efuse

import (
	"fmt"

	"github.com/mklimuk/efuse/bitarray"
)

type CodingScheme int

const (
	CodingNone CodingScheme = iota
	CodingReedSolomon
)

func (s CodingScheme) String() string {
	switch s {
	case CodingNone:
		return "NONE"
	case CodingReedSolomon:
		return "REED_SOLOMON"
	default:
		return fmt.Sprintf("CodingScheme(%d)", int(s))
	}
}

// BlockDescriptor is the static description of one physical block.
type BlockDescriptor struct {
	ID        int
	Name      string
	Aliases   []string
	ReadAddr  uint32
	WriteAddr uint32
	// Words is the number of 32-bit words readable from ReadAddr.
	Words    int
	Scheme   CodingScheme
	BurnUnit int
	// KeyPurposeName names the field that holds this block's key purpose.
	KeyPurposeName string
}

// Block holds the bits read from one eFuse block and the bits staged for the next
// burn. Error counters are only meaningful after a read.
type Block struct {
	BlockDescriptor

	rd *bitarray.Array
	wr *bitarray.Array
	// errBits tracks per-bit repeat errors for block 0.
	errBits *bitarray.Array

	numErrors int
	fail      bool
}

func NewBlock(d BlockDescriptor) *Block {
	return &Block{
		BlockDescriptor: d,
		rd:              bitarray.New(d.Words * 32),
		wr:              bitarray.New(d.Words * 32),
		errBits:         bitarray.New(d.Words * 32),
	}
}

func (b *Block) BitLen() int { return b.Words * 32 }

// Errors returns the error count and fail flag observed on the last read.
func (b *Block) Errors() (int, bool) { return b.numErrors, b.fail }

func (b *Block) setErrors(n int, fail bool) {
	b.numErrors = n
	b.fail = fail
}

// Load replaces the read bits with words read from the device.
func (b *Block) Load(words []uint32) error {
	if len(words) != b.Words {
		return fmt.Errorf("BLOCK%d: expected %d words, got %d", b.ID, b.Words, len(words))
	}
	b.rd.SetWords(words)
	return nil
}

// ReadWords returns the words currently held for the block.
func (b *Block) ReadWords() []uint32 { return b.rd.Words() }

func (b *Block) Bit(i int) bool { return b.rd.Bit(i) }

func (b *Block) Uint(offset, length int) uint64 { return b.rd.Uint(offset, length) }

// BigEndian returns a byte-aligned range with its most significant byte first.
func (b *Block) BigEndian(offset, length int) []byte { return b.rd.BigEndian(offset, length) }

// Data returns the read block content in memory order.
func (b *Block) Data() []byte { return b.rd.Bytes() }

// Pending reports whether bits are staged for burning.
func (b *Block) Pending() bool { return !b.wr.IsZero() }

// Payload returns the staged bits in memory order.
func (b *Block) Payload() []byte { return b.wr.Bytes() }

// PendingBits returns the number of staged bits.
func (b *Block) PendingBits() int { return b.wr.Count() }

// Discard drops every staged bit.
func (b *Block) Discard() { b.wr.Reset() }

// Staged returns a copy of the staged bits as words.
func (b *Block) Staged() []uint32 { return b.wr.Words() }

// Restage replaces the staged bits with words taken from Staged.
func (b *Block) Restage(words []uint32) { b.wr.SetWords(words) }

// Missing counts staged bits that are not set in the read bits.
func (b *Block) Missing(staged []byte) int {
	want := bitarray.New(b.BitLen())
	want.SetBytes(staged)
	missing := 0
	for i := 0; i < b.BitLen(); i++ {
		if want.Bit(i) && !b.rd.Bit(i) {
			missing++
		}
	}
	return missing
}

func (b *Block) Stage(offset, length int, value uint64) error {
	if length < 64 && value>>length != 0 {
		return ErrValueRange
	}
	return b.stage(offset, length, func(a *bitarray.Array) { a.SetUint(offset, length, value) })
}

// StageBytes stages a byte-aligned value given most significant byte first.
func (b *Block) StageBytes(offset int, raw []byte) error {
	return b.stage(offset, len(raw)*8, func(a *bitarray.Array) { a.SetBigEndian(offset, raw) })
}

// StageData stages data given in memory order starting at byte offset.
func (b *Block) StageData(offset int, data []byte) error {
	if offset < 0 || len(data) == 0 || offset+len(data) > b.Words*4 {
		return fmt.Errorf("%w: %d bytes at offset %d for a %d byte block", ErrValueRange, len(data), offset, b.Words*4)
	}
	return b.stage(offset*8, len(data)*8, func(a *bitarray.Array) {
		for i, c := range data {
			a.SetUint((offset+i)*8, 8, uint64(c))
		}
	})
}

// stage merges a new value for [offset, offset+length) into the staged bits. Only
// bits that are not burned yet are staged; the staged set is left untouched when
// validation fails.
func (b *Block) stage(offset, length int, set func(*bitarray.Array)) error {
	if offset < 0 || length <= 0 || offset+length > b.BitLen() {
		return fmt.Errorf("%w: bits [%d,%d) outside BLOCK%d", ErrValueRange, offset, offset+length, b.ID)
	}
	value := bitarray.New(b.BitLen())
	set(value)
	next := b.wr.Clone()
	for i := offset; i < offset+length; i++ {
		burned := b.rd.Bit(i)
		want := value.Bit(i)
		if burned && !want {
			return ErrClearBits
		}
		next.SetBit(i, want && !burned)
	}
	if b.Scheme == CodingReedSolomon && !b.rd.IsZero() && !next.IsZero() {
		return ErrRSReburn
	}
	b.wr = next
	return nil
}

// ErrorBits returns the repeat-error bit buffer maintained for block 0.
func (b *Block) ErrorBits() []uint32 { return b.errBits.Words() }
