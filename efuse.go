// Package efuse reads and programs one-time-programmable eFuse blocks through a
// 32-bit register interface.
//
// The package holds the device-family independent parts: the register boundary,
// block programming semantics, the coding-scheme codec, error accounting and the
// typed field layer. Chip specific tables and the programming controller live in
// sub-packages such as esp32c2.
package efuse

import (
	"context"
	"math/bits"
	"time"

	"periph.io/x/conn/v3/physic"
)

type RegisterReader interface {
	ReadReg(ctx context.Context, addr uint32) (uint32, error)
}

type RegisterWriter interface {
	// WriteReg writes value to addr. A non-zero delay makes the device wait after
	// the write before acknowledging it.
	WriteReg(ctx context.Context, addr, value uint32, delay time.Duration) error
}

type Registers interface {
	RegisterReader
	RegisterWriter
	// UpdateReg replaces the bits selected by mask with value shifted to the
	// lowest set bit of mask.
	UpdateReg(ctx context.Context, addr, mask, value uint32) error
}

// Chip is a connected device exposing its register file.
type Chip interface {
	Registers
	ChipName(ctx context.Context) (string, error)
	CrystalFrequency(ctx context.Context) (physic.Frequency, error)
	SecurityFlags(ctx context.Context) (uint32, error)
}

// UpdateField implements Registers.UpdateReg on top of a plain read and write.
func UpdateField(ctx context.Context, rw interface {
	RegisterReader
	RegisterWriter
}, addr, mask, value uint32) error {
	shift := bits.TrailingZeros32(mask)
	current, err := rw.ReadReg(ctx, addr)
	if err != nil {
		return err
	}
	current &^= mask
	current |= (value << shift) & mask
	return rw.WriteReg(ctx, addr, current, 0)
}
