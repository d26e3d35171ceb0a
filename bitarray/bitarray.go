// Package bitarray stores the raw bits of an eFuse block.
//
// Bits are numbered the way the hardware exposes them: bit i lives in byte i/8 at
// position i%8, and bytes 4w..4w+3 form the little-endian 32-bit word w.
package bitarray

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

type Array struct {
	data []byte
	n    int
}

// New returns a zeroed array of n bits. n is rounded up to whole bytes internally.
func New(n int) *Array {
	return &Array{data: make([]byte, (n+7)/8), n: n}
}

// FromWords builds an array from little-endian register words.
func FromWords(words []uint32) *Array {
	a := New(len(words) * 32)
	a.SetWords(words)
	return a
}

func (a *Array) Len() int { return a.n }

func (a *Array) Bit(i int) bool {
	return a.data[i/8]&(1<<(i%8)) != 0
}

func (a *Array) SetBit(i int, v bool) {
	if v {
		a.data[i/8] |= 1 << (i % 8)
		return
	}
	a.data[i/8] &^= 1 << (i % 8)
}

// Uint returns length bits starting at offset, bit offset being the least
// significant one. length must not exceed 64.
func (a *Array) Uint(offset, length int) uint64 {
	a.mustRange(offset, length)
	if length > 64 {
		panic(fmt.Sprintf("bitarray: %d bits do not fit uint64", length))
	}
	var v uint64
	for i := 0; i < length; i++ {
		if a.Bit(offset + i) {
			v |= 1 << i
		}
	}
	return v
}

func (a *Array) SetUint(offset, length int, v uint64) {
	a.mustRange(offset, length)
	if length > 64 {
		panic(fmt.Sprintf("bitarray: %d bits do not fit uint64", length))
	}
	for i := 0; i < length; i++ {
		a.SetBit(offset+i, v&(1<<i) != 0)
	}
}

// BigEndian returns the range as an integer in big-endian byte order, most
// significant byte first. length must be a multiple of 8.
func (a *Array) BigEndian(offset, length int) []byte {
	a.mustRange(offset, length)
	n := length / 8
	out := make([]byte, n)
	for j := 0; j < n; j++ {
		out[n-1-j] = byte(a.Uint(offset+8*j, 8))
	}
	return out
}

func (a *Array) SetBigEndian(offset int, raw []byte) {
	n := len(raw)
	a.mustRange(offset, n*8)
	for j := 0; j < n; j++ {
		a.SetUint(offset+8*j, 8, uint64(raw[n-1-j]))
	}
}

// Bytes returns a copy of the array in memory order.
func (a *Array) Bytes() []byte {
	out := make([]byte, len(a.data))
	copy(out, a.data)
	return out
}

// SetBytes overwrites the array from memory-ordered bytes starting at byte 0.
func (a *Array) SetBytes(b []byte) {
	if len(b) > len(a.data) {
		panic(fmt.Sprintf("bitarray: %d bytes do not fit %d bits", len(b), a.n))
	}
	copy(a.data, b)
}

func (a *Array) Words() []uint32 {
	words := make([]uint32, (len(a.data)+3)/4)
	buf := make([]byte, len(words)*4)
	copy(buf, a.data)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(buf[4*i:])
	}
	return words
}

func (a *Array) SetWords(words []uint32) {
	buf := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	a.SetBytes(buf)
}

// Overwrite copies every bit of src into a starting at bit pos.
func (a *Array) Overwrite(src *Array, pos int) {
	a.mustRange(pos, src.n)
	for i := 0; i < src.n; i++ {
		a.SetBit(pos+i, src.Bit(i))
	}
}

// Count returns the number of set bits.
func (a *Array) Count() int {
	c := 0
	for _, b := range a.data {
		c += bits.OnesCount8(b)
	}
	return c
}

func (a *Array) IsZero() bool {
	for _, b := range a.data {
		if b != 0 {
			return false
		}
	}
	return true
}

func (a *Array) Clone() *Array {
	return &Array{data: a.Bytes(), n: a.n}
}

func (a *Array) Reset() {
	clear(a.data)
}

func (a *Array) mustRange(offset, length int) {
	if offset < 0 || length < 0 || offset+length > a.n {
		panic(fmt.Sprintf("bitarray: range [%d,%d) outside %d bits", offset, offset+length, a.n))
	}
}
