package esp32c2

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/efuse"
)

// Bus is what the controller needs from the device.
type Bus interface {
	efuse.Registers
	CrystalFrequency(ctx context.Context) (physic.Frequency, error)
}

// Controller drives the eFuse controller handshake. Every command starts and
// ends with the controller idle; an idle-wait timeout aborts the sequence.
type Controller struct {
	bus  Bus
	opts Options
}

func NewController(bus Bus, opts ...Option) *Controller {
	return &Controller{bus: bus, opts: newOptions(opts)}
}

func newController(bus Bus, opts Options) *Controller {
	return &Controller{bus: bus, opts: opts}
}

// ConfigureTiming programs the power-off counter. It refuses any crystal but
// 40 MHz before touching a register.
func (c *Controller) ConfigureTiming(ctx context.Context) error {
	xtal, err := c.bus.CrystalFrequency(ctx)
	if err != nil {
		return fmt.Errorf("could not read crystal frequency: %w", err)
	}
	if xtal != CrystalFrequency {
		return &efuse.CrystalError{Expected: CrystalFrequency, Actual: xtal}
	}
	if err := c.bus.UpdateReg(ctx, RegWrTimConf2, PwrOffNumMask, PwrOffNum); err != nil {
		return fmt.Errorf("could not set burn timing: %w", err)
	}
	return nil
}

// WaitIdle polls the status register until the controller reports idle or the
// configured timeout elapses.
func (c *Controller) WaitIdle(ctx context.Context) error {
	deadline := c.opts.Now().Add(c.opts.Timeout)
	// the status is read at least once, even with a zero timeout
	for {
		st, err := c.bus.ReadReg(ctx, RegStatus)
		if err != nil {
			return fmt.Errorf("could not read controller status: %w", err)
		}
		if st&StatusMask == StatusIdle {
			return nil
		}
		if !c.opts.Now().Before(deadline) {
			return fmt.Errorf("%w after %s", efuse.ErrTimeout, c.opts.Timeout)
		}
		if c.opts.PollInterval > 0 {
			c.opts.Sleep(c.opts.PollInterval)
		}
	}
}

// ClearProgramRegisters zeroes the programming data window.
func (c *Controller) ClearProgramRegisters(ctx context.Context) error {
	if err := c.WaitIdle(ctx); err != nil {
		return err
	}
	for i := uint32(0); i < PgmDataRegisters; i++ {
		if err := c.bus.WriteReg(ctx, RegPgmData0+4*i, 0, 0); err != nil {
			return fmt.Errorf("could not clear program register %d: %w", i, err)
		}
	}
	return nil
}

// Setup prepares the controller for a burn.
func (c *Controller) Setup(ctx context.Context) error {
	if err := c.ConfigureTiming(ctx); err != nil {
		return err
	}
	if err := c.ClearProgramRegisters(ctx); err != nil {
		return err
	}
	return c.WaitIdle(ctx)
}

// ProgramBlock burns words into block id and reloads the fuse registers. Words
// past the data window land in the check value registers that follow it.
func (c *Controller) ProgramBlock(ctx context.Context, id int, words []uint32) error {
	if id < 0 || id > 0xF {
		return fmt.Errorf("%w: %d", efuse.ErrUnknownBlock, id)
	}
	if len(words) > PgmDataRegisters+efuse.RSParityLength/4 {
		return fmt.Errorf("%w: %d words", efuse.ErrPayloadTooLong, len(words))
	}
	if err := c.WaitIdle(ctx); err != nil {
		return err
	}
	for i, w := range words {
		if err := c.bus.WriteReg(ctx, RegPgmData0+4*uint32(i), w, 0); err != nil {
			return fmt.Errorf("could not write program word %d: %w", i, err)
		}
	}
	c.opts.Logger.Debug("programming block", "block", id, "words", len(words))
	if err := c.bus.WriteReg(ctx, RegConf, WriteOpCode, 0); err != nil {
		return fmt.Errorf("could not select write operation: %w", err)
	}
	if err := c.bus.WriteReg(ctx, RegCmd, CmdPgm|uint32(id)<<2, 0); err != nil {
		return fmt.Errorf("could not issue program command: %w", err)
	}
	if err := c.WaitIdle(ctx); err != nil {
		return err
	}
	if err := c.ClearProgramRegisters(ctx); err != nil {
		return err
	}
	return c.Read(ctx)
}

// Read makes the controller reload every block into the read registers. The
// command has no block select bits.
func (c *Controller) Read(ctx context.Context) error {
	if err := c.WaitIdle(ctx); err != nil {
		return err
	}
	if err := c.bus.WriteReg(ctx, RegConf, ReadOpCode, 0); err != nil {
		return fmt.Errorf("could not select read operation: %w", err)
	}
	if err := c.bus.WriteReg(ctx, RegCmd, CmdRead, ReadCmdDelay); err != nil {
		return fmt.Errorf("could not issue read command: %w", err)
	}
	return c.WaitIdle(ctx)
}
