package esp32c2

import (
	"fmt"
	"strings"

	"github.com/mklimuk/efuse"
)

// Blocks lists the physical blocks in ascending id order.
var Blocks = []efuse.BlockDescriptor{
	{ID: 0, Name: "BLOCK0", ReadAddr: RegRdWrDis, WriteAddr: RegPgmData0, Words: 2, Scheme: efuse.CodingNone, BurnUnit: BurnUnit},
	{ID: 1, Name: "BLOCK1", Aliases: []string{"USER_DATA"}, ReadAddr: RegRdBlock1, WriteAddr: RegPgmData0, Words: 3, Scheme: efuse.CodingReedSolomon, BurnUnit: BurnUnit},
	{ID: 2, Name: "BLOCK2", Aliases: []string{"SYS_DATA_PART1"}, ReadAddr: RegRdBlock2, WriteAddr: RegPgmData0, Words: 8, Scheme: efuse.CodingReedSolomon, BurnUnit: BurnUnit},
	{
		ID: 3, Name: "BLOCK_KEY0", Aliases: []string{"KEY0"},
		ReadAddr: RegRdBlockKey0, WriteAddr: RegPgmData0, Words: 8,
		Scheme: efuse.CodingReedSolomon, BurnUnit: BurnUnit,
		KeyPurposeName: "KEY_PURPOSE_0",
	},
}

// RepeatErrors locates the block 0 repeat error word. WR_DIS, the first word of
// block 0, is not error checked.
var RepeatErrors = efuse.RepeatErrorLayout{Register: RegRdRepeatErr, Words: 1, Offset: 32}

// BlockErrors locates the RS error counter and fail flag of every coded block.
var BlockErrors = map[int]efuse.ErrorLayout{
	1: {Register: RegRdRSErr, NumMask: 0x7, NumShift: 0, FailBit: 3},
	2: {Register: RegRdRSErr, NumMask: 0x7, NumShift: 4, FailBit: 7},
	3: {Register: RegRdRSErr, NumMask: 0x7, NumShift: 8, FailBit: 11},
}

// LookupBlock resolves a block by name, alias or numeric id.
func LookupBlock(name string) (efuse.BlockDescriptor, error) {
	for _, b := range Blocks {
		if strings.EqualFold(b.Name, name) || fmt.Sprint(b.ID) == name {
			return b, nil
		}
		for _, a := range b.Aliases {
			if strings.EqualFold(a, name) {
				return b, nil
			}
		}
	}
	return efuse.BlockDescriptor{}, fmt.Errorf("%w: %s", efuse.ErrUnknownBlock, name)
}

// KeyBlocks returns the blocks that can hold keys.
func KeyBlocks() []efuse.BlockDescriptor {
	var out []efuse.BlockDescriptor
	for _, b := range Blocks {
		if b.KeyPurposeName != "" {
			out = append(out, b)
		}
	}
	return out
}

// BurnBlockDataNames lists the blocks accepted by burn-block-data.
func BurnBlockDataNames() []string {
	var names []string
	for _, b := range Blocks[1:] {
		names = append(names, b.Name)
		names = append(names, b.Aliases...)
	}
	return names
}
