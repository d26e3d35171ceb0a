package efuse

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mklimuk/efuse/bitarray"
)

// ErrorLayout tells where a block's error counter and fail flag live in the
// status registers. A zero NumMask means the block has no error tracking.
type ErrorLayout struct {
	Register uint32
	NumMask  uint32
	NumShift int
	FailBit  int
}

func (l ErrorLayout) tracked() bool { return l.NumMask != 0 && l.FailBit >= 0 }

// RepeatErrorLayout describes block 0, whose protection is a bit-for-bit repeat
// of the data rather than the per-block error counters.
type RepeatErrorLayout struct {
	Register uint32
	Words    int
	// Offset skips the leading write-disable bits which are not error checked.
	Offset int
}

// Accountant extracts per-block error counters after a read.
type Accountant struct {
	regs    RegisterReader
	repeat  RepeatErrorLayout
	layouts map[int]ErrorLayout
	logger  *slog.Logger
}

func NewAccountant(regs RegisterReader, repeat RepeatErrorLayout, layouts map[int]ErrorLayout, logger *slog.Logger) *Accountant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accountant{regs: regs, repeat: repeat, layouts: layouts, logger: logger}
}

// Check refreshes numErrors and fail on every block and reports whether any block
// failed. Blocks with errors are logged unless silent is set. Each status
// register is read at most once per call.
func (a *Accountant) Check(ctx context.Context, blocks []*Block, silent bool) (bool, error) {
	cache := make(map[uint32]uint32)
	read := func(addr uint32) (uint32, error) {
		if v, ok := cache[addr]; ok {
			return v, nil
		}
		v, err := a.regs.ReadReg(ctx, addr)
		if err != nil {
			return 0, fmt.Errorf("could not read error register 0x%08x: %w", addr, err)
		}
		cache[addr] = v
		return v, nil
	}

	failed := false
	for _, block := range blocks {
		if block.ID == 0 {
			words := make([]uint32, a.repeat.Words)
			for i := range words {
				w, err := read(a.repeat.Register + uint32(i)*4)
				if err != nil {
					return failed, err
				}
				words[i] = w
			}
			block.errBits.Overwrite(bitarray.FromWords(words), a.repeat.Offset)
			n := block.errBits.Count()
			block.setErrors(n, n != 0)
		} else {
			layout, ok := a.layouts[block.ID]
			if !ok || !layout.tracked() {
				continue
			}
			v, err := read(layout.Register)
			if err != nil {
				return failed, err
			}
			block.setErrors(int((v>>layout.NumShift)&layout.NumMask), v&(1<<layout.FailBit) != 0)
		}
		failed = failed || block.fail
		if !silent && (block.fail || block.numErrors != 0) {
			a.logger.Warn("error(s) in block", "block", block.ID, "errors", block.numErrors, "fail", block.fail)
		}
	}
	return failed, nil
}
